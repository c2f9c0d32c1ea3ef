// Package rewrite splices hook calls into JVM method bodies.
//
// A body is decoded into an instruction list, injected fragments are
// inserted as new instructions, and every offset-bearing structure
// (branches, exception table, StackMapTable, line and local variable
// tables) is re-derived from instruction identities after layout.
//
// Wraps nest in a fixed order, outermost first: Lifecycle, Benchmark.
// Every instruction carries a depth; wrap k (1-based) protects exactly
// the instructions whose depth is at least k. Original instructions sit at
// the innermost depth, and the code a wrap injects sits just outside it,
// so a hook never runs inside its own protected region.
package rewrite

import (
	"errors"
	"fmt"

	"github.com/conduit-lang/weaver/internal/bytecode"
	"github.com/conduit-lang/weaver/internal/classfile"
	"github.com/conduit-lang/weaver/internal/policy"
	"github.com/conduit-lang/weaver/internal/weaveerr"
)

// InstrumentedAttribute marks a rewritten method so a second run leaves
// it alone.
const InstrumentedAttribute = "WeaverInstrumented"

// IsInstrumented reports whether m was produced by an earlier rewrite.
func IsInstrumented(c *classfile.Class, m *classfile.Member) bool {
	return m.Attribute(c.Pool, InstrumentedAttribute) != nil
}

// Rewrite applies plan to method m of class c in place. On success the
// member's Code attribute is replaced and c.Pool may have grown. On error
// neither c nor m is modified; an UnsupportedInstruction error is a
// warning, anything else is fatal.
//
// Empty plans and methods that are already instrumented are left alone.
func Rewrite(c *classfile.Class, m *classfile.Member, plan *policy.Plan) error {
	if plan.Empty() || IsInstrumented(c, m) {
		return nil
	}
	r, err := newRewriter(c, m, plan)
	if err == nil {
		err = r.run()
	}
	if err != nil {
		return weaveerr.InMethod(err, plan.Method.String())
	}
	c.Pool = r.cp
	return nil
}

func unsupported(format string, args ...any) error {
	return weaveerr.NewUnsupportedInstruction(fmt.Sprintf(format, args...))
}

func malformed(err error) error {
	return weaveerr.NewMalformedUnit(err)
}

type handlerRef struct {
	handler   *bytecode.Insn
	catchType uint16
	covers    map[*bytecode.Insn]bool
}

type frameRef struct {
	at     *bytecode.Insn
	locals []classfile.VerificationType
	stack  []classfile.VerificationType
}

type rewriter struct {
	class  classfile.Class
	cp     *classfile.ConstantPool
	member *classfile.Member
	attr   *classfile.Attribute
	plan   *policy.Plan
	static bool

	code      *classfile.Code
	insns     []*bytecode.Insn
	byOffset  map[int]*bytecode.Insn
	handlers  []handlerRef
	frames    []frameRef
	hasFrames bool
	initial   []classfile.VerificationType
	lines     map[*classfile.Attribute][]lineRef
	locals    map[*classfile.Attribute][]localRef

	wraps    []*wrap
	out      []*bytecode.Insn
	depth    map[*bytecode.Insn]int
	redirect map[*bytecode.Insn]*bytecode.Insn
	starts   []*bytecode.Insn // handler entry per wrap
	bodyEnd  *bytecode.Insn   // first handler instruction, nil without wraps
	maxStack int
}

func newRewriter(c *classfile.Class, m *classfile.Member, plan *policy.Plan) (*rewriter, error) {
	if m.AccessFlags&(classfile.AccAbstract|classfile.AccNative) != 0 {
		return nil, unsupported("abstract and native methods have no body")
	}
	attr := m.Attribute(c.Pool, classfile.AttrCode)
	if attr == nil {
		return nil, unsupported("method has no Code attribute")
	}
	name := m.Name(c.Pool)
	if plan.Wraps() && name == "<init>" {
		return nil, unsupported("constructors cannot be wrapped")
	}

	r := &rewriter{
		class:    *c,
		cp:       c.Pool.Clone(),
		member:   m,
		attr:     attr,
		plan:     plan,
		static:   m.IsStatic(),
		depth:    make(map[*bytecode.Insn]int),
		redirect: make(map[*bytecode.Insn]*bytecode.Insn),
	}
	r.class.Pool = r.cp

	code, err := classfile.ParseCode(attr.Info)
	if err != nil {
		return nil, malformed(err)
	}
	r.code = code
	for _, n := range []string{classfile.AttrRuntimeVisibleTypeAnnots, classfile.AttrRuntimeInvisibleTypeAnnots} {
		if code.Attribute(r.cp, n) != nil {
			return nil, unsupported("%s inside Code cannot be relocated", n)
		}
	}

	if r.insns, err = bytecode.Decode(code.Bytecode); err != nil {
		return nil, malformed(err)
	}
	r.byOffset = make(map[int]*bytecode.Insn, len(r.insns))
	for _, in := range r.insns {
		r.byOffset[in.Offset] = in
		if in.Op.IsSubroutine() {
			return nil, unsupported("%s subroutines are not supported", in.Op)
		}
		if plan.Wraps() && !r.static && in.WritesLocal() {
			if slot, _ := in.LocalIndex(); slot == 0 {
				return nil, unsupported("%s overwrites the receiver in local 0 at offset %d", in.Op, in.Offset)
			}
		}
	}

	if err := r.decodeHandlers(); err != nil {
		return nil, err
	}
	if r.initial, err = classfile.InitialFrame(&r.class, m); err != nil {
		if errors.Is(err, classfile.ErrPoolOverflow) {
			return nil, unsupported("%v", err)
		}
		return nil, malformed(err)
	}
	if err := r.decodeFrames(); err != nil {
		return nil, err
	}
	if err := r.decodeTables(); err != nil {
		return nil, err
	}
	r.wraps = r.buildWraps()
	return r, nil
}

func (r *rewriter) decodeHandlers() error {
	for _, h := range r.code.ExceptionTable {
		target, ok := r.byOffset[int(h.HandlerPC)]
		if !ok || h.StartPC >= h.EndPC || int(h.EndPC) > len(r.code.Bytecode) {
			return malformed(fmt.Errorf("exception table entry [%d, %d) -> %d is invalid", h.StartPC, h.EndPC, h.HandlerPC))
		}
		ref := handlerRef{handler: target, catchType: h.CatchType, covers: make(map[*bytecode.Insn]bool)}
		for _, in := range r.insns {
			if in.Offset >= int(h.StartPC) && in.Offset < int(h.EndPC) {
				ref.covers[in] = true
			}
		}
		r.handlers = append(r.handlers, ref)
	}
	return nil
}

func (r *rewriter) decodeFrames() error {
	attr := r.code.Attribute(r.cp, classfile.AttrStackMapTable)
	r.hasFrames = attr != nil || (r.class.HasStackMaps() && r.plan.Wraps())
	if attr == nil {
		return nil
	}
	frames, err := classfile.DecodeStackMap(attr.Info, r.initial)
	if err != nil {
		return malformed(err)
	}
	for _, f := range frames {
		at, ok := r.byOffset[f.Offset]
		if !ok {
			return malformed(fmt.Errorf("stack map frame at %d is not on an instruction", f.Offset))
		}
		if err := r.checkUninitialized(f.Locals); err != nil {
			return err
		}
		if err := r.checkUninitialized(f.Stack); err != nil {
			return err
		}
		r.frames = append(r.frames, frameRef{at: at, locals: f.Locals, stack: f.Stack})
	}
	return nil
}

// checkUninitialized verifies that every Uninitialized type names a `new`
// instruction, so its offset can follow that instruction through layout.
func (r *rewriter) checkUninitialized(vts []classfile.VerificationType) error {
	for _, v := range vts {
		if v.Tag != classfile.VTUninitialized {
			continue
		}
		if in, ok := r.byOffset[v.Offset]; !ok || in.Op != bytecode.OpNew {
			return malformed(fmt.Errorf("uninitialized type refers to offset %d, not a new instruction", v.Offset))
		}
	}
	return nil
}

func (r *rewriter) run() error {
	r.maxStack = int(r.code.MaxStack)
	if err := r.splice(); err != nil {
		return err
	}
	bytes, err := bytecode.Encode(r.out)
	if err != nil {
		if errors.Is(err, bytecode.ErrBranchOverflow) || errors.Is(err, bytecode.ErrCodeTooLarge) {
			return unsupported("%v", err)
		}
		return malformed(err)
	}

	maxLocals := int(r.code.MaxLocals)
	for _, w := range r.wraps {
		if w.local {
			maxLocals = max(maxLocals, w.slot+2)
		}
	}
	if r.maxStack > 0xFFFF || maxLocals > 0xFFFF {
		return unsupported("instrumented method needs max_stack %d, max_locals %d", r.maxStack, maxLocals)
	}

	code := &classfile.Code{
		MaxStack:       uint16(r.maxStack),
		MaxLocals:      uint16(maxLocals),
		Bytecode:       bytes,
		ExceptionTable: r.exceptionTable(len(bytes)),
	}
	if code.Attributes, err = r.codeAttributes(len(bytes)); err != nil {
		return err
	}
	info, err := code.Encode()
	if err != nil {
		return unsupported("%v", err)
	}
	marker, err := r.cp.AddUtf8(InstrumentedAttribute)
	if err != nil {
		return unsupported("%v", err)
	}

	r.member.ReplaceAttribute(r.attr, &classfile.Attribute{NameIndex: r.attr.NameIndex, Info: info})
	r.member.Attributes = append(r.member.Attributes, &classfile.Attribute{NameIndex: marker})
	return nil
}

// splice builds r.out: entry calls, wrap prologues, the original body with
// exit code before every return, then one handler per wrap.
func (r *rewriter) splice() error {
	n := len(r.wraps)

	for _, ins := range r.plan.Entry {
		ins := ins
		if err := r.emit(0, 0, 0, func(e *bytecode.Emitter) {
			e.PushString(ins.MethodName)
			e.PushString(ins.Description)
			e.InvokeStatic(ins.Hook.Owner, ins.Hook.Name, policy.LogCallDescriptor)
		}); err != nil {
			return err
		}
	}
	for k, w := range r.wraps {
		if w.prologue != nil {
			if err := r.emit(k, 0, 0, w.prologue); err != nil {
				return err
			}
		}
	}

	for _, in := range r.insns {
		if !in.Op.IsReturn() || n == 0 {
			r.place(in, n)
			continue
		}
		first := len(r.out)
		for k := n - 1; k >= 0; k-- {
			if err := r.emit(k, 0, int(r.code.MaxStack), r.wraps[k].exit); err != nil {
				return err
			}
		}
		if len(r.out) > first {
			r.redirect[in] = r.out[first]
		}
		r.place(in, 0)
	}
	bytecode.Retarget(r.out, r.redirect)

	r.starts = make([]*bytecode.Insn, n)
	for k := n - 1; k >= 0; k-- {
		first := len(r.out)
		if err := r.emit(k, 1, 0, r.wraps[k].handler); err != nil {
			return err
		}
		r.starts[k] = r.out[first]
		if r.bodyEnd == nil {
			r.bodyEnd = r.out[first]
		}
	}
	return nil
}

func (r *rewriter) place(in *bytecode.Insn, depth int) {
	r.out = append(r.out, in)
	r.depth[in] = depth
}

// emit appends a fragment at depth. start is the stack depth the fragment
// begins with on an otherwise empty stack; below is an upper bound on any
// values already beneath it.
func (r *rewriter) emit(depth, start, below int, fn func(*bytecode.Emitter)) error {
	e := bytecode.NewEmitter(r.cp, start)
	fn(e)
	if err := e.Err(); err != nil {
		return unsupported("%v", err)
	}
	r.maxStack = max(r.maxStack, below+e.Peak())
	for _, in := range e.Insns() {
		r.place(in, depth)
	}
	return nil
}

func (r *rewriter) ref(in *bytecode.Insn) *bytecode.Insn {
	if to, ok := r.redirect[in]; ok {
		return to
	}
	return in
}
