package rewrite

import (
	"github.com/conduit-lang/weaver/internal/bytecode"
	"github.com/conduit-lang/weaver/internal/policy"
)

// wrap is one protected region. exit runs before every return with the
// return value left beneath it; handler starts with the caught throwable
// on an empty stack and must rethrow it.
type wrap struct {
	prologue func(*bytecode.Emitter)
	exit     func(*bytecode.Emitter)
	handler  func(*bytecode.Emitter)

	// local is set when the wrap owns a long in slot.
	local bool
	slot  int
}

// buildWraps returns the plan's wraps, outermost first.
func (r *rewriter) buildWraps() []*wrap {
	var ws []*wrap
	if lc := r.plan.Lifecycle; lc != nil {
		ws = append(ws, r.lifecycle(lc))
	}
	if b := r.plan.Benchmark; b != nil {
		ws = append(ws, r.benchmark(b, int(r.code.MaxLocals)))
	}
	return ws
}

// receiver pushes the instance, or null for static methods.
func (r *rewriter) receiver(e *bytecode.Emitter) {
	if r.static {
		e.AconstNull()
		return
	}
	e.Aload(0)
}

func (r *rewriter) lifecycle(lc *policy.LifecycleWrap) *wrap {
	completed := func(e *bytecode.Emitter) {
		r.receiver(e)
		e.InvokeStatic(lc.Completion.Owner, lc.Completion.Name, policy.CompletionDescriptor)
	}
	return &wrap{
		exit: completed,
		handler: func(e *bytecode.Emitter) {
			e.Dup()
			r.receiver(e)
			e.InvokeStatic(lc.Throwable.Owner, lc.Throwable.Name, policy.ThrowableDescriptor)
			completed(e)
			e.Athrow()
		},
	}
}

func (r *rewriter) benchmark(b *policy.BenchmarkWrap, slot int) *wrap {
	report := func(e *bytecode.Emitter) {
		e.PushString(b.MethodName)
		e.InvokeStatic("java/lang/System", "nanoTime", "()J")
		e.Lload(slot)
		e.Lsub()
		e.PushLong(1_000_000)
		e.Ldiv()
		e.PushInt(int32(b.WarnAtMillis))
		e.PushInt(int32(b.FailAtMillis))
		e.InvokeStatic(b.Hook.Owner, b.Hook.Name, policy.BenchmarkDescriptor)
	}
	return &wrap{
		prologue: func(e *bytecode.Emitter) {
			e.InvokeStatic("java/lang/System", "nanoTime", "()J")
			e.Lstore(slot)
		},
		exit: report,
		handler: func(e *bytecode.Emitter) {
			report(e)
			e.Athrow()
		},
		local: true,
		slot:  slot,
	}
}
