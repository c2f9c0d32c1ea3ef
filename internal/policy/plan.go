package policy

import (
	"github.com/conduit-lang/weaver/internal/marker"
	"github.com/conduit-lang/weaver/internal/weaveerr"
)

// LogCallInsertion is a call to the logger hook at method entry.
type LogCallInsertion struct {
	Hook        Hook
	MethodName  string
	Description string
}

// LifecycleWrap protects the whole body with throwable and completion hooks.
type LifecycleWrap struct {
	Throwable  Hook
	Completion Hook
}

// BenchmarkWrap times the original body and reports to a threshold hook.
type BenchmarkWrap struct {
	Hook         Hook
	MethodName   string
	WarnAtMillis int
	FailAtMillis int
}

// Plan is the resolved instrumentation of one method. Entry insertions run
// first in order; Lifecycle wraps outside Benchmark.
type Plan struct {
	Method    marker.MethodID
	Static    bool
	Entry     []LogCallInsertion
	Lifecycle *LifecycleWrap
	Benchmark *BenchmarkWrap
}

// Empty reports whether the plan leaves the method unmodified.
func (p *Plan) Empty() bool {
	return p == nil || (len(p.Entry) == 0 && p.Lifecycle == nil && p.Benchmark == nil)
}

// Wraps reports whether the plan adds a protected region.
func (p *Plan) Wraps() bool {
	return p != nil && (p.Lifecycle != nil || p.Benchmark != nil)
}

// Resolve turns a method's markers into a plan under pol.
//
// Repeated markers of one known kind fail with ConflictingMarkers even
// when the kind is disabled. Unknown and disabled kinds are ignored.
func Resolve(method marker.MethodID, static bool, markers []marker.Marker, pol *Policy) (*Plan, error) {
	counts := make(map[marker.Kind]int, len(markers))
	for _, m := range markers {
		if m.Kind == marker.KindUnknown {
			continue
		}
		counts[m.Kind]++
	}
	for _, kind := range marker.Kinds {
		if n := counts[kind]; n > 1 {
			return nil, weaveerr.NewConflictingMarkers(kind.String(), n).WithMethod(method.String())
		}
	}

	plan := &Plan{Method: method, Static: static}
	for _, m := range markers {
		rule, ok := pol.Rule(m.Kind)
		if !ok || !rule.Enabled {
			continue
		}
		switch m.Kind {
		case marker.KindLogCall:
			plan.Entry = append(plan.Entry, LogCallInsertion{
				Hook:        rule.Hook,
				MethodName:  method.QualifiedName(),
				Description: m.Description,
			})
		case marker.KindLifecycle:
			plan.Lifecycle = &LifecycleWrap{
				Throwable:  rule.ThrowableHook,
				Completion: rule.CompletionHook,
			}
		case marker.KindBenchmark:
			plan.Benchmark = &BenchmarkWrap{
				Hook:         rule.Hook,
				MethodName:   method.QualifiedName(),
				WarnAtMillis: m.WarnAtMillis,
				FailAtMillis: m.FailAtMillis,
			}
		}
	}
	return plan, nil
}
