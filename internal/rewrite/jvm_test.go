package rewrite_test

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/weaver/internal/bytecode"
	"github.com/conduit-lang/weaver/internal/classfile"
)

// jvm interprets the small instruction subset used by the fixtures and by
// injected code. It enforces max_stack and max_locals, dispatches through
// the exception table, and records every hook call.
//
// The clock advances only when Work.sleep(I)V runs or a hook is called, so
// elapsed times are exact.
type jvm struct {
	t     *testing.T
	c     *classfile.Class
	nanos int64
	calls []string
	// raised is the last throwable created by Work.fail.
	raised *throwable
}

const (
	hooksClass  = "com/acme/Hooks"
	workClass   = "com/acme/Work"
	hookCostMs  = 1000
	failureType = "java/lang/IllegalStateException"
)

type value struct {
	i   int64
	ref any
}

type object struct{ class string }

type throwable struct{ class string }

func newJVM(t *testing.T, c *classfile.Class) *jvm {
	t.Helper()
	data, err := c.Encode()
	require.NoError(t, err)
	parsed, err := classfile.Parse(data)
	require.NoError(t, err, "rewritten class must parse")
	return &jvm{t: t, c: parsed}
}

func (vm *jvm) method(name, desc string) (*classfile.Member, *classfile.Code) {
	vm.t.Helper()
	for _, m := range vm.c.Methods {
		if m.Name(vm.c.Pool) == name && m.Descriptor(vm.c.Pool) == desc {
			attr := m.Attribute(vm.c.Pool, classfile.AttrCode)
			require.NotNil(vm.t, attr)
			code, err := classfile.ParseCode(attr.Info)
			require.NoError(vm.t, err)
			return m, code
		}
	}
	vm.t.Fatalf("no method %s%s", name, desc)
	return nil, nil
}

// call runs a method. Instance methods get a fresh receiver. It returns the
// result or the throwable that escaped.
func (vm *jvm) call(name, desc string, args ...value) (value, *throwable) {
	vm.t.Helper()
	m, code := vm.method(name, desc)
	mt, err := classfile.ParseMethodDescriptor(desc)
	require.NoError(vm.t, err)

	locals := make([]value, code.MaxLocals)
	slot := 0
	if !m.IsStatic() {
		locals[0] = value{ref: &object{class: vm.c.Name()}}
		slot = 1
	}
	require.Len(vm.t, args, len(mt.Params))
	for i, p := range mt.Params {
		locals[slot] = args[i]
		slot += classfile.SlotSize(p)
	}
	return vm.exec(code, locals)
}

func (vm *jvm) exec(code *classfile.Code, locals []value) (value, *throwable) {
	t := vm.t
	insns, err := bytecode.Decode(code.Bytecode)
	require.NoError(t, err)
	index := make(map[*bytecode.Insn]int, len(insns))
	byOffset := make(map[int]int, len(insns))
	for i, in := range insns {
		index[in] = i
		byOffset[in.Offset] = i
	}

	var stack []value
	push := func(v value, slots int) {
		stack = append(stack, v)
		if slots == 2 {
			stack = append(stack, value{})
		}
		require.LessOrEqual(t, len(stack), int(code.MaxStack), "operand stack overflow")
	}
	pop := func(slots int) value {
		require.GreaterOrEqual(t, len(stack), slots, "operand stack underflow")
		v := stack[len(stack)-slots]
		stack = stack[:len(stack)-slots]
		return v
	}
	local := func(in *bytecode.Insn) int {
		slot, ok := in.LocalIndex()
		require.True(t, ok)
		require.Less(t, slot, len(locals), "local %d beyond max_locals", slot)
		return slot
	}

	pc := 0
	for steps := 0; ; steps++ {
		require.Less(t, steps, 100000, "runaway method")
		in := insns[pc]
		next := pc + 1
		var thrown *throwable

		switch op := in.Op; {
		case op == bytecode.OpNop:
		case op == bytecode.OpAconstNull:
			push(value{}, 1)
		case op >= bytecode.OpIconstM1 && op <= bytecode.OpIconst5:
			push(value{i: int64(op) - int64(bytecode.OpIconst0)}, 1)
		case op == bytecode.OpLconst0 || op == bytecode.OpLconst0+1:
			push(value{i: int64(op - bytecode.OpLconst0)}, 2)
		case op == bytecode.OpBipush:
			push(value{i: int64(int8(in.Operands[0]))}, 1)
		case op == bytecode.OpSipush:
			push(value{i: int64(int16(binary.BigEndian.Uint16(in.Operands)))}, 1)
		case op == bytecode.OpLdc || op == bytecode.OpLdcW:
			idx := uint16(in.Operands[0])
			if op == bytecode.OpLdcW {
				idx = binary.BigEndian.Uint16(in.Operands)
			}
			if s, err := vm.c.Pool.StringValue(idx); err == nil {
				push(value{ref: s}, 1)
			} else {
				n, err := vm.c.Pool.Integer(idx)
				require.NoError(t, err)
				push(value{i: int64(n)}, 1)
			}
		case op == bytecode.OpLdc2W:
			n, err := vm.c.Pool.Long(binary.BigEndian.Uint16(in.Operands))
			require.NoError(t, err)
			push(value{i: n}, 2)

		case op == bytecode.OpIload || op == bytecode.OpAload || (op >= bytecode.OpIload0 && op < bytecode.OpIload0+4) ||
			(op >= bytecode.OpAload0 && op < bytecode.OpAload0+4):
			push(locals[local(in)], 1)
		case op == bytecode.OpLload || (op >= bytecode.OpLload0 && op < bytecode.OpLload0+4):
			slot := local(in)
			require.Less(t, slot+1, len(locals))
			push(locals[slot], 2)
		case op == bytecode.OpIstore || op == bytecode.OpAstore || (op >= bytecode.OpIstore0 && op < bytecode.OpIstore0+4) ||
			(op >= bytecode.OpAstore0 && op < bytecode.OpAstore0+4):
			locals[local(in)] = pop(1)
		case op == bytecode.OpLstore || (op >= bytecode.OpLstore0 && op < bytecode.OpLstore0+4):
			slot := local(in)
			require.Less(t, slot+1, len(locals))
			locals[slot] = pop(2)
		case op == bytecode.OpIinc:
			slot := local(in)
			delta := int64(int8(in.Operands[1]))
			if in.Wide {
				delta = int64(int16(binary.BigEndian.Uint16(in.Operands[2:])))
			}
			locals[slot].i += delta

		case op == bytecode.OpPop:
			pop(1)
		case op == bytecode.OpDup:
			v := pop(1)
			push(v, 1)
			push(v, 1)
		case op == bytecode.OpIadd:
			b, a := pop(1), pop(1)
			push(value{i: int64(int32(a.i + b.i))}, 1)
		case op == bytecode.OpLsub:
			b, a := pop(2), pop(2)
			push(value{i: a.i - b.i}, 2)
		case op == bytecode.OpLdiv:
			b, a := pop(2), pop(2)
			push(value{i: a.i / b.i}, 2)

		case op == bytecode.OpIfeq || op == bytecode.OpIfne:
			v := pop(1)
			if (v.i == 0) == (op == bytecode.OpIfeq) {
				next = index[in.Target]
			}
		case op == bytecode.OpGoto || op == bytecode.OpGotoW:
			next = index[in.Target]
		case op == bytecode.OpTableswitch:
			k := pop(1).i
			next = index[in.Default]
			if k >= int64(in.Low) && k <= int64(in.High) {
				next = index[in.Targets[k-int64(in.Low)]]
			}
		case op == bytecode.OpLookupswitch:
			k := pop(1).i
			next = index[in.Default]
			for j, key := range in.Keys {
				if int64(key) == k {
					next = index[in.Targets[j]]
				}
			}

		case op == bytecode.OpIreturn || op == bytecode.OpAreturn:
			return pop(1), nil
		case op == bytecode.OpLreturn:
			return pop(2), nil
		case op == bytecode.OpReturn:
			return value{}, nil

		case op == bytecode.OpInvokestatic:
			owner, name, desc, err := vm.c.Pool.MemberRef(binary.BigEndian.Uint16(in.Operands))
			require.NoError(t, err)
			mt, err := classfile.ParseMethodDescriptor(desc)
			require.NoError(t, err)
			args := make([]value, len(mt.Params))
			for i := len(mt.Params) - 1; i >= 0; i-- {
				args[i] = pop(classfile.SlotSize(mt.Params[i]))
			}
			var result value
			result, thrown = vm.invoke(owner, name, desc, args)
			if thrown == nil && mt.Return != "V" {
				push(result, classfile.SlotSize(mt.Return))
			}
		case op == bytecode.OpAthrow:
			v := pop(1)
			exc, ok := v.ref.(*throwable)
			require.True(t, ok, "athrow of %v", v.ref)
			thrown = exc

		default:
			t.Fatalf("jvm: unsupported instruction %s", in)
		}

		if thrown != nil {
			handler, ok := vm.dispatch(code, in.Offset, thrown)
			if !ok {
				return value{}, thrown
			}
			stack = stack[:0]
			push(value{ref: thrown}, 1)
			next = byOffset[handler]
		}
		pc = next
	}
}

func (vm *jvm) dispatch(code *classfile.Code, offset int, exc *throwable) (int, bool) {
	for _, h := range code.ExceptionTable {
		if offset < int(h.StartPC) || offset >= int(h.EndPC) {
			continue
		}
		if h.CatchType != 0 {
			name, err := vm.c.Pool.ClassName(h.CatchType)
			require.NoError(vm.t, err)
			if name != exc.class && name != "java/lang/Throwable" {
				continue
			}
		}
		return int(h.HandlerPC), true
	}
	return 0, false
}

func describe(v value) string {
	switch r := v.ref.(type) {
	case nil:
		return "null"
	case *object:
		return r.class
	case *throwable:
		return r.class
	case string:
		return r
	}
	return fmt.Sprint(v.ref)
}

func (vm *jvm) invoke(owner, name, desc string, args []value) (value, *throwable) {
	switch owner + "." + name + desc {
	case "java/lang/System.nanoTime()J":
		return value{i: vm.nanos}, nil
	case workClass + ".sleep(I)V":
		vm.nanos += args[0].i * 1_000_000
		return value{}, nil
	case workClass + ".fail()V":
		vm.raised = &throwable{class: failureType}
		return value{}, vm.raised
	}
	require.Equal(vm.t, hooksClass, owner, "unexpected call to %s.%s%s", owner, name, desc)
	vm.nanos += hookCostMs * 1_000_000

	var call string
	switch name {
	case "logCall":
		call = fmt.Sprintf("logCall(%s, %s)", describe(args[0]), describe(args[1]))
	case "failed":
		call = fmt.Sprintf("failed(%s, %s)", describe(args[0]), describe(args[1]))
	case "finished":
		call = fmt.Sprintf("finished(%s)", describe(args[0]))
	case "check":
		call = fmt.Sprintf("check(%s, %dms, %d, %d)", describe(args[0]), args[1].i, args[2].i, args[3].i)
	default:
		vm.t.Fatalf("unknown hook %s", name)
	}
	vm.calls = append(vm.calls, call)
	return value{}, nil
}
