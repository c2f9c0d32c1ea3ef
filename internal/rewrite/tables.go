package rewrite

import (
	"cmp"
	"fmt"
	"slices"
	"sort"

	"github.com/conduit-lang/weaver/internal/bytecode"
	"github.com/conduit-lang/weaver/internal/classfile"
)

type lineRef struct {
	at   *bytecode.Insn
	zero bool
	line uint16
}

// localRef is a local variable scope; a nil end means end of code.
type localRef struct {
	start *bytecode.Insn
	end   *bytecode.Insn
	zero  bool
	v     classfile.LocalVariable
}

// containing returns the instruction whose bytes include offset. Debug
// tables are not verified by the JVM, so stray offsets are tolerated.
func (r *rewriter) containing(offset int) *bytecode.Insn {
	if in, ok := r.byOffset[offset]; ok {
		return in
	}
	i := sort.Search(len(r.insns), func(i int) bool { return r.insns[i].Offset > offset })
	return r.insns[max(i-1, 0)]
}

func (r *rewriter) decodeTables() error {
	r.lines = make(map[*classfile.Attribute][]lineRef)
	r.locals = make(map[*classfile.Attribute][]localRef)
	size := len(r.code.Bytecode)

	for _, a := range r.code.Attributes {
		name, _ := r.cp.Utf8(a.NameIndex)
		switch name {
		case classfile.AttrLineNumberTable:
			lines, err := classfile.ParseLineNumbers(a.Info)
			if err != nil {
				return malformed(fmt.Errorf("%s: %w", name, err))
			}
			refs := make([]lineRef, 0, len(lines))
			for _, l := range lines {
				refs = append(refs, lineRef{at: r.containing(int(l.StartPC)), zero: l.StartPC == 0, line: l.Line})
			}
			r.lines[a] = refs

		case classfile.AttrLocalVariableTable, classfile.AttrLocalVariableTypeTable:
			vars, err := classfile.ParseLocalVariables(a.Info)
			if err != nil {
				return malformed(fmt.Errorf("%s: %w", name, err))
			}
			refs := make([]localRef, 0, len(vars))
			for _, v := range vars {
				ref := localRef{start: r.containing(int(v.StartPC)), zero: v.StartPC == 0, v: v}
				if end := int(v.StartPC) + int(v.Length); end < size {
					ref.end = r.containing(end)
				}
				refs = append(refs, ref)
			}
			r.locals[a] = refs
		}
	}
	return nil
}

// runs calls emit for each maximal run of consecutive output instructions
// matching pred, with end offsets exclusive.
func (r *rewriter) runs(size int, pred func(*bytecode.Insn) bool, emit func(start, end int)) {
	start := -1
	for _, in := range r.out {
		switch {
		case pred(in) && start < 0:
			start = in.Offset
		case !pred(in) && start >= 0:
			emit(start, in.Offset)
			start = -1
		}
	}
	if start >= 0 {
		emit(start, size)
	}
}

// exceptionTable keeps original entries first, so they still take
// precedence, then adds one catch-all range set per wrap, innermost first.
func (r *rewriter) exceptionTable(size int) []classfile.ExceptionHandler {
	var out []classfile.ExceptionHandler
	add := func(handler *bytecode.Insn, catchType uint16) func(start, end int) {
		return func(start, end int) {
			out = append(out, classfile.ExceptionHandler{
				StartPC:   uint16(start),
				EndPC:     uint16(end),
				HandlerPC: uint16(handler.Offset),
				CatchType: catchType,
			})
		}
	}
	for _, h := range r.handlers {
		r.runs(size, func(in *bytecode.Insn) bool { return h.covers[in] }, add(r.ref(h.handler), h.catchType))
	}
	for k := len(r.wraps) - 1; k >= 0; k-- {
		r.runs(size, func(in *bytecode.Insn) bool { return r.depth[in] > k }, add(r.starts[k], 0))
	}
	return out
}

func (r *rewriter) codeAttributes(size int) ([]*classfile.Attribute, error) {
	end := size
	if r.bodyEnd != nil {
		end = r.bodyEnd.Offset
	}
	var out []*classfile.Attribute
	framesDone := false
	for _, a := range r.code.Attributes {
		name, _ := r.cp.Utf8(a.NameIndex)
		if name == classfile.AttrStackMapTable {
			if framesDone {
				continue
			}
			info, err := r.stackMap()
			if err != nil {
				return nil, err
			}
			out = append(out, &classfile.Attribute{NameIndex: a.NameIndex, Info: info})
			framesDone = true
			continue
		}
		if lines, ok := r.lines[a]; ok {
			out = append(out, &classfile.Attribute{NameIndex: a.NameIndex, Info: r.lineTable(lines)})
			continue
		}
		if vars, ok := r.locals[a]; ok {
			out = append(out, &classfile.Attribute{NameIndex: a.NameIndex, Info: r.localTable(vars, end)})
			continue
		}
		out = append(out, a)
	}

	if r.hasFrames && !framesDone {
		idx, err := r.cp.AddUtf8(classfile.AttrStackMapTable)
		if err != nil {
			return nil, unsupported("%v", err)
		}
		info, err := r.stackMap()
		if err != nil {
			return nil, err
		}
		out = append(out, &classfile.Attribute{NameIndex: idx, Info: info})
	}
	return out, nil
}

func (r *rewriter) offsetOf(in *bytecode.Insn, zero bool) int {
	if zero {
		return 0
	}
	return r.ref(in).Offset
}

func (r *rewriter) lineTable(refs []lineRef) []byte {
	lines := make([]classfile.LineNumber, 0, len(refs))
	for _, l := range refs {
		lines = append(lines, classfile.LineNumber{StartPC: uint16(r.offsetOf(l.at, l.zero)), Line: l.line})
	}
	return classfile.EncodeLineNumbers(lines)
}

// localTable relocates a local variable table. Scopes that ran to the end
// of the code now stop where the wrap handlers begin.
func (r *rewriter) localTable(refs []localRef, codeEnd int) []byte {
	vars := make([]classfile.LocalVariable, 0, len(refs))
	for _, l := range refs {
		start := r.offsetOf(l.start, l.zero)
		end := codeEnd
		if l.end != nil {
			end = r.ref(l.end).Offset
		}
		end = max(end, start)
		v := l.v
		v.StartPC = uint16(start)
		v.Length = uint16(end - start)
		vars = append(vars, v)
	}
	return classfile.EncodeLocalVariables(vars)
}

// stackMap rebuilds the StackMapTable: original frames follow their
// instructions, gain the wraps' locals, and every wrap handler gets a
// frame of its own.
func (r *rewriter) stackMap() ([]byte, error) {
	throwable, err := r.cp.AddClass("java/lang/Throwable")
	if err != nil {
		return nil, unsupported("%v", err)
	}

	frames := make([]classfile.Frame, 0, len(r.frames)+len(r.wraps))
	for _, f := range r.frames {
		locals := r.relocate(f.locals)
		for _, w := range r.wraps {
			if w.local {
				locals = withLong(locals, w.slot)
			}
		}
		frames = append(frames, classfile.Frame{
			Offset: r.ref(f.at).Offset,
			Locals: locals,
			Stack:  r.relocate(f.stack),
		})
	}

	for k := range r.wraps {
		var slots []classfile.VerificationType
		if !r.static {
			slots = append(slots, classfile.VerificationType{Tag: classfile.VTObject, Class: r.class.ThisClass})
		}
		for _, w := range r.wraps[:k+1] {
			if w.local {
				slots = withLong(slots, w.slot)
			}
		}
		frames = append(frames, classfile.Frame{
			Offset: r.starts[k].Offset,
			Locals: slots,
			Stack:  []classfile.VerificationType{{Tag: classfile.VTObject, Class: throwable}},
		})
	}

	slices.SortFunc(frames, func(a, b classfile.Frame) int { return cmp.Compare(a.Offset, b.Offset) })
	info, err := classfile.EncodeStackMap(frames, r.initial)
	if err != nil {
		return nil, unsupported("%v", err)
	}
	return info, nil
}

// relocate copies vts with Uninitialized offsets moved to their `new`
// instruction's new position.
func (r *rewriter) relocate(vts []classfile.VerificationType) []classfile.VerificationType {
	out := slices.Clone(vts)
	for i, v := range out {
		if v.Tag == classfile.VTUninitialized {
			out[i].Offset = r.byOffset[v.Offset].Offset
		}
	}
	return out
}

// withLong returns compact locals with a long placed in slot; shorter
// lists are padded with Top.
func withLong(locals []classfile.VerificationType, slot int) []classfile.VerificationType {
	slots := classfile.ExpandLocals(locals)
	if len(slots) > slot {
		slots = slots[:slot]
	}
	for len(slots) < slot {
		slots = append(slots, classfile.VerificationType{Tag: classfile.VTTop})
	}
	slots = append(slots, classfile.VerificationType{Tag: classfile.VTLong}, classfile.VerificationType{Tag: classfile.VTTop})
	return classfile.CompactLocals(slots)
}
