package bytecode

import (
	"encoding/binary"
	"math"

	"github.com/conduit-lang/weaver/internal/classfile"
)

// Emitter builds a straight-line instruction fragment and tracks the
// operand stack depth it reaches.
type Emitter struct {
	cp    *classfile.ConstantPool
	insns []*Insn
	depth int
	peak  int
	err   error
}

// NewEmitter starts a fragment with depth values already on the stack.
// Constants are added to cp.
func NewEmitter(cp *classfile.ConstantPool, depth int) *Emitter {
	return &Emitter{cp: cp, depth: depth, peak: depth}
}

// Insns returns the emitted fragment.
func (e *Emitter) Insns() []*Insn { return e.insns }

// Peak returns the highest stack depth reached, including the start depth.
func (e *Emitter) Peak() int { return e.peak }

// Err returns the first constant pool error encountered.
func (e *Emitter) Err() error { return e.err }

func (e *Emitter) push(in *Insn, delta int) {
	e.insns = append(e.insns, in)
	e.depth += delta
	if e.depth > e.peak {
		e.peak = e.depth
	}
}

func (e *Emitter) fail(err error) bool {
	if err != nil && e.err == nil {
		e.err = err
	}
	return err != nil
}

// Op emits an operand-less instruction with the given stack effect.
func (e *Emitter) Op(op Opcode, delta int) {
	e.push(&Insn{Op: op}, delta)
}

// Dup duplicates a single-slot value.
func (e *Emitter) Dup() { e.Op(OpDup, 1) }

// AconstNull pushes null.
func (e *Emitter) AconstNull() { e.Op(OpAconstNull, 1) }

// Athrow throws the reference on top of the stack.
func (e *Emitter) Athrow() { e.Op(OpAthrow, -1) }

// Lsub subtracts two longs.
func (e *Emitter) Lsub() { e.Op(OpLsub, -2) }

// Ldiv divides two longs.
func (e *Emitter) Ldiv() { e.Op(OpLdiv, -2) }

func (e *Emitter) local(base, short Opcode, slot, delta int) {
	switch {
	case slot <= 3:
		e.push(&Insn{Op: short + Opcode(slot)}, delta)
	case slot <= math.MaxUint8:
		e.push(&Insn{Op: base, Operands: []byte{byte(slot)}}, delta)
	default:
		e.push(&Insn{Op: base, Wide: true, Operands: binary.BigEndian.AppendUint16(nil, uint16(slot))}, delta)
	}
}

// Aload pushes the reference in slot.
func (e *Emitter) Aload(slot int) { e.local(OpAload, OpAload0, slot, 1) }

// Lload pushes the long in slot.
func (e *Emitter) Lload(slot int) { e.local(OpLload, OpLload0, slot, 2) }

// Lstore pops a long into slot.
func (e *Emitter) Lstore(slot int) { e.local(OpLstore, OpLstore0, slot, -2) }

// PushInt pushes an int constant using the shortest encoding.
func (e *Emitter) PushInt(v int32) {
	switch {
	case v >= -1 && v <= 5:
		e.Op(Opcode(int32(OpIconst0)+v), 1)
	case v >= math.MinInt8 && v <= math.MaxInt8:
		e.push(&Insn{Op: OpBipush, Operands: []byte{byte(int8(v))}}, 1)
	case v >= math.MinInt16 && v <= math.MaxInt16:
		e.push(&Insn{Op: OpSipush, Operands: binary.BigEndian.AppendUint16(nil, uint16(int16(v)))}, 1)
	default:
		idx, err := e.cp.AddInteger(v)
		if e.fail(err) {
			return
		}
		e.ldc(idx)
	}
}

// PushLong pushes a long constant.
func (e *Emitter) PushLong(v int64) {
	if v == 0 || v == 1 {
		e.Op(OpLconst0+Opcode(v), 2)
		return
	}
	idx, err := e.cp.AddLong(v)
	if e.fail(err) {
		return
	}
	e.push(&Insn{Op: OpLdc2W, Operands: binary.BigEndian.AppendUint16(nil, idx)}, 2)
}

// PushString pushes a String constant.
func (e *Emitter) PushString(s string) {
	idx, err := e.cp.AddString(s)
	if e.fail(err) {
		return
	}
	e.ldc(idx)
}

func (e *Emitter) ldc(idx uint16) {
	if idx <= math.MaxUint8 {
		e.push(&Insn{Op: OpLdc, Operands: []byte{byte(idx)}}, 1)
		return
	}
	e.push(&Insn{Op: OpLdcW, Operands: binary.BigEndian.AppendUint16(nil, idx)}, 1)
}

// InvokeStatic calls owner.name with the given descriptor, popping its
// arguments and pushing its result.
func (e *Emitter) InvokeStatic(owner, name, descriptor string) {
	mt, err := classfile.ParseMethodDescriptor(descriptor)
	if e.fail(err) {
		return
	}
	idx, err := e.cp.AddMethodref(owner, name, descriptor)
	if e.fail(err) {
		return
	}
	delta := -mt.ArgSlots()
	if mt.Return != "V" {
		delta += classfile.SlotSize(mt.Return)
	}
	e.push(&Insn{Op: OpInvokestatic, Operands: binary.BigEndian.AppendUint16(nil, idx)}, delta)
}
