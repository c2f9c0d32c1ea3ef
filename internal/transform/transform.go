// Package transform runs the instrumentation pipeline over a whole archive.
//
// Entries are processed concurrently by a bounded pool; results are kept
// by input index and written in input order by a single writer, so the
// output does not depend on scheduling.
package transform

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conduit-lang/weaver/internal/archive"
	"github.com/conduit-lang/weaver/internal/classfile"
	"github.com/conduit-lang/weaver/internal/marker"
	"github.com/conduit-lang/weaver/internal/policy"
	"github.com/conduit-lang/weaver/internal/rewrite"
	"github.com/conduit-lang/weaver/internal/weaveerr"
)

// Options configures a Transformer.
type Options struct {
	// Jobs bounds the number of entries processed at once.
	Jobs   int
	Logger *zap.Logger
	// Progress is called after each entry, never concurrently.
	Progress func(current, total int, message string)
}

// DefaultOptions returns one job per CPU and no logging.
func DefaultOptions() *Options {
	return &Options{Jobs: runtime.NumCPU()}
}

// Result summarises one run.
type Result struct {
	RunID uuid.UUID

	Entries int
	// Classes counts the class entries that were decoded.
	Classes int
	// RewrittenClasses counts class entries re-encoded in the output.
	RewrittenClasses    int
	InstrumentedMethods int

	// Warnings are the recoverable problems, in entry order then method.
	Warnings weaveerr.ErrorList
	Duration time.Duration
}

// Transformer applies one policy to archives. It holds no state between
// runs and is safe for concurrent use.
type Transformer struct {
	policy *policy.Policy
	opts   Options
	log    *zap.Logger
}

// New creates a transformer. A nil policy instruments nothing; nil options
// mean DefaultOptions.
func New(pol *policy.Policy, opts *Options) *Transformer {
	if pol == nil {
		pol = policy.Empty()
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	t := &Transformer{policy: pol, opts: *opts, log: opts.Logger}
	if t.opts.Jobs < 1 {
		t.opts.Jobs = runtime.NumCPU()
	}
	if t.log == nil {
		t.log = zap.NewNop()
	}
	return t
}

// outcome is the processed form of one entry. A nil data means the entry
// is copied from the input untouched.
type outcome struct {
	data     []byte
	class    bool
	methods  int
	warnings weaveerr.ErrorList
}

// Transform reads the archive at inputPath and writes the instrumented
// archive to outputPath, replacing any existing file. Nothing is written
// unless the whole run succeeds. inputPath and outputPath may be the same.
func (t *Transformer) Transform(ctx context.Context, inputPath, outputPath string) (*Result, error) {
	start := time.Now()
	result := &Result{RunID: uuid.New()}
	log := t.log.With(zap.String("run_id", result.RunID.String()))
	log.Info("transform started",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
		zap.Int("jobs", t.opts.Jobs),
		zap.Bool("identity", !t.policy.AnyEnabled()))

	in, err := archive.Open(inputPath)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	entries := in.Entries()
	result.Entries = len(entries)

	out, err := archive.Create(outputPath)
	if err != nil {
		return nil, err
	}
	defer out.Abort()

	t.progress(0, len(entries), "Reading "+inputPath)
	outcomes := make([]outcome, len(entries))
	err = t.each(ctx, entries, func(e *archive.Entry) error {
		o, err := t.process(e)
		if err != nil {
			return weaveerr.InEntry(err, e.Name())
		}
		outcomes[e.Index] = o
		return nil
	})
	if err != nil {
		log.Error("transform failed", zap.Error(err))
		return nil, err
	}

	if err := out.SetComment(in.Comment()); err != nil {
		return nil, err
	}
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o := outcomes[i]
		if o.data != nil {
			err = out.Replace(e, o.data)
			result.RewrittenClasses++
			log.Debug("class rewritten", zap.String("entry", e.Name()), zap.Int("methods", o.methods))
		} else {
			err = out.Copy(e)
		}
		if err != nil {
			return nil, err
		}
		if o.class {
			result.Classes++
		}
		result.InstrumentedMethods += o.methods
		for _, w := range o.warnings {
			log.Warn("method left uninstrumented",
				zap.String("entry", w.Entry),
				zap.String("method", w.Method),
				zap.String("reason", w.Message))
		}
		result.Warnings = append(result.Warnings, o.warnings...)
		t.progress(i+1, len(entries), e.Name())
	}
	if err := out.Commit(); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	log.Info("transform finished",
		zap.Int("entries", result.Entries),
		zap.Int("classes", result.Classes),
		zap.Int("rewritten_classes", result.RewrittenClasses),
		zap.Int("instrumented_methods", result.InstrumentedMethods),
		zap.Int("warnings", len(result.Warnings)),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (t *Transformer) progress(current, total int, message string) {
	if t.opts.Progress != nil {
		t.opts.Progress(current, total, message)
	}
}

// each runs fn for every entry on the pool. When several entries fail the
// error of the earliest one is returned, so failures are reported the same
// way on every run.
func (t *Transformer) each(ctx context.Context, entries []*archive.Entry, fn func(*archive.Entry) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.Jobs)
	errs := make([]error, len(entries))
	for _, e := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := fn(e); err != nil {
				errs[e.Index] = err
				return err
			}
			return nil
		})
	}
	werr := g.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return werr
}

func (t *Transformer) process(e *archive.Entry) (outcome, error) {
	if !e.MaybeClass() || !t.policy.AnyEnabled() {
		return outcome{}, nil
	}
	data, err := e.ReadAll()
	if err != nil {
		return outcome{}, err
	}
	if !archive.IsClass(e.Name(), data) {
		return outcome{}, nil
	}
	o, err := t.weave(data)
	if err != nil {
		return outcome{}, err
	}
	for _, w := range o.warnings {
		weaveerr.InEntry(w, e.Name())
	}
	return o, nil
}

// weave instruments every marked method of one class. The class is only
// re-encoded when at least one method changed.
func (t *Transformer) weave(data []byte) (outcome, error) {
	o := outcome{class: true}
	c, err := classfile.Parse(data)
	if err != nil {
		return o, weaveerr.NewMalformedUnit(err)
	}
	vocab := t.policy.Vocabulary()
	for _, m := range c.Methods {
		id := marker.IDOf(c, m)
		markers, err := marker.Extract(c, m, vocab)
		if err != nil {
			return o, weaveerr.InMethod(err, id.String())
		}
		if len(markers) == 0 {
			continue
		}
		plan, err := policy.Resolve(id, m.IsStatic(), markers, t.policy)
		if err != nil {
			return o, err
		}
		if plan.Empty() || rewrite.IsInstrumented(c, m) {
			continue
		}
		err = rewrite.Rewrite(c, m, plan)
		var werr *weaveerr.Error
		switch {
		case err == nil:
			o.methods++
		case errors.As(err, &werr) && werr.IsWarning():
			o.warnings = append(o.warnings, werr)
		default:
			return o, err
		}
	}
	slices.SortStableFunc(o.warnings, func(a, b *weaveerr.Error) int {
		return strings.Compare(a.Method, b.Method)
	})
	if o.methods == 0 {
		return o, nil
	}
	o.data, err = c.Encode()
	if err != nil {
		return o, fmt.Errorf("encode %s: %w", c.Name(), err)
	}
	return o, nil
}

// ClassMarkers lists the marked methods of one class entry.
type ClassMarkers struct {
	Entry   string                 `json:"entry"`
	Methods []marker.MethodMarkers `json:"methods"`
}

// Inspect lists the markers found in the archive at inputPath, under the
// policy's vocabulary, without writing anything. Disabled kinds are
// listed too.
func (t *Transformer) Inspect(ctx context.Context, inputPath string) ([]ClassMarkers, error) {
	in, err := archive.Open(inputPath)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	entries := in.Entries()

	found := make([]*ClassMarkers, len(entries))
	var mu sync.Mutex
	done := 0
	err = t.each(ctx, entries, func(e *archive.Entry) error {
		defer func() {
			mu.Lock()
			done++
			t.progress(done, len(entries), e.Name())
			mu.Unlock()
		}()
		if !e.MaybeClass() {
			return nil
		}
		data, err := e.ReadAll()
		if err != nil {
			return err
		}
		if !archive.IsClass(e.Name(), data) {
			return nil
		}
		methods, err := marker.ExtractClass(data, t.policy.Vocabulary())
		if err != nil {
			return weaveerr.InEntry(err, e.Name())
		}
		if len(methods) > 0 {
			found[e.Index] = &ClassMarkers{Entry: e.Name(), Methods: methods}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []ClassMarkers
	for _, cm := range found {
		if cm != nil {
			out = append(out, *cm)
		}
	}
	return out, nil
}
