// Package generator fans kernel builds out over a bounded worker pool and
// collects one outcome per job.
package generator

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/raymyers/multistride/pkg/align"
	"github.com/raymyers/multistride/pkg/codegen"
	"github.com/raymyers/multistride/pkg/compiler"
	"github.com/raymyers/multistride/pkg/naming"
	"github.com/raymyers/multistride/pkg/skip"
)

// Job is one kernel configuration of a sweep.
type Job struct {
	Kernel            string
	Suffix            string
	N                 int
	StrideUnrolls     int
	PortionUnrolls    int
	UnalignmentFactor float64
	Defines           map[string]string // per-job compiler defines
	Testing           bool
	PageAligned       bool // round sizes to whole pages instead of vectors
}

// Kernel is a kernel-specific strategy driving one codegen.Context per job.
// Build returns a skip error when the configuration cannot be realized.
type Kernel interface {
	Name() string
	Build(ctx context.Context, env *Env, job Job) (*codegen.Artifact, error)
}

// Env is the per-job view of the generator handed to a Kernel.
type Env struct {
	Machine  Machine
	Compiler *compiler.Compiler
	Fs       afero.Fs
	Log      *logrus.Entry
}

// Align runs the size aligner on n elements with the unrolls of job, at
// page granularity when the job asks for it and vector granularity otherwise.
func (e *Env) Align(n int, job Job) (int, error) {
	granularity := e.Machine.VectorElements()
	if job.PageAligned {
		granularity = e.Machine.PageElements()
	}
	r := align.Single(n, job.StrideUnrolls, job.PortionUnrolls, granularity)
	r.UnalignmentFactor = job.UnalignmentFactor
	return align.Align(r)
}

// Define overrides a compiler define for this job only.
func (e *Env) Define(name string, value int) {
	e.Compiler = e.Compiler.With(compiler.Flags{Defines: map[string]string{name: strconv.Itoa(value)}})
}

// Options returns context options for id. test is attached only when the
// job is under test.
func (e *Env) Options(id naming.Identity, job Job, test codegen.TestFunc) codegen.Options {
	opts := codegen.Options{
		Identity:   id,
		Layout:     e.Machine.Layout(id.Kernel),
		Entry:      e.Machine.Entry,
		VectorBits: e.Machine.VectorBits,
		Fs:         e.Fs,
		Compiler:   e.Compiler,
		TestInput:  e.Machine.TestInput,
		TestOutput: e.Machine.TestOutput,
		Log:        e.Log,
	}
	if job.Testing {
		opts.Test = test
	}
	return opts
}

// Generator runs jobs against a set of kernels.
type Generator struct {
	Machine  Machine
	Kernels  map[string]Kernel
	Compiler *compiler.Compiler
	Fs       afero.Fs
	Workers  int  // at most this many builds at once; NumCPU when <= 0
	Strict   bool // any skipped job fails Generate
	Log      *logrus.Entry
}

// Outcome is the result of one job: Built when Artifact is set, otherwise
// Skipped with Reason.
type Outcome struct {
	Job      Job
	Artifact *codegen.Artifact
	Reason   skip.Reason
	Err      error
}

// Built reports whether the job produced an artifact.
func (o Outcome) Built() bool { return o.Artifact != nil }

// StrictError is returned in strict mode when any job was skipped.
type StrictError struct {
	Skipped []Outcome
}

func (e *StrictError) Error() string {
	return fmt.Sprintf("%d configuration(s) skipped in strict mode", len(e.Skipped))
}

// Generate builds every job. A hard error from any build cancels the
// remaining ones and is returned along with the outcomes collected so far.
func (g *Generator) Generate(ctx context.Context, jobs []Job) (*Result, error) {
	log := g.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if g.Compiler == nil || g.Fs == nil {
		return nil, errors.Errorf("generator needs a compiler and a filesystem")
	}
	workers := g.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	outcomes := make([]Outcome, len(jobs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)

	for i := range jobs {
		i := i
		eg.Go(func() error {
			o, err := g.build(egCtx, log, jobs[i])
			outcomes[i] = o
			return err
		})
	}
	err := eg.Wait()

	res := &Result{}
	for _, o := range outcomes {
		if o.Built() || o.Err != nil {
			res.Outcomes = append(res.Outcomes, o)
		}
	}
	if err != nil {
		return res, err
	}

	if skipped := res.Skipped(); g.Strict && len(skipped) > 0 {
		return res, &StrictError{Skipped: skipped}
	}
	return res, nil
}

func (g *Generator) build(ctx context.Context, log *logrus.Entry, job Job) (Outcome, error) {
	out := Outcome{Job: job}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	log = log.WithField("kernel", job.Kernel)

	k, ok := g.Kernels[job.Kernel]
	if !ok {
		return out, errors.Errorf("unknown kernel %q", job.Kernel)
	}
	env := &Env{
		Machine:  g.Machine,
		Compiler: g.Compiler.With(compiler.Flags{Defines: job.Defines}).WithLog(log),
		Fs:       g.Fs,
		Log:      log,
	}

	art, err := k.Build(ctx, env, job)
	if err != nil {
		if r, ok := skip.ReasonOf(err); ok {
			log.WithFields(logrus.Fields{
				"reason":  r.String(),
				"n":       job.N,
				"stride":  job.StrideUnrolls,
				"portion": job.PortionUnrolls,
			}).Warnf("skipping configuration: %v", err)
			out.Reason, out.Err = r, err
			return out, nil
		}
		return out, errors.Wrapf(err, "building %s", job.Kernel)
	}
	out.Artifact = art
	return out, nil
}

// Result aggregates outcomes. Its order says nothing about submission order.
type Result struct {
	Outcomes []Outcome
}

// Artifacts returns every built artifact sorted by name.
func (r *Result) Artifacts() []*codegen.Artifact {
	var out []*codegen.Artifact
	for _, o := range r.Outcomes {
		if o.Built() {
			out = append(out, o.Artifact)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Commands returns the command line of every built artifact.
func (r *Result) Commands() []string {
	var out []string
	for _, a := range r.Artifacts() {
		out = append(out, a.Command)
	}
	return out
}

// TestHooks returns the fixture writers of artifacts built under test.
func (r *Result) TestHooks() []func() (string, error) {
	var out []func() (string, error)
	for _, a := range r.Artifacts() {
		if a.Test != nil {
			out = append(out, a.Test)
		}
	}
	return out
}

// Resolved returns the identities actually generated, with aligned sizes.
func (r *Result) Resolved() []naming.Identity {
	var out []naming.Identity
	for _, a := range r.Artifacts() {
		out = append(out, a.Identity)
	}
	return out
}

// Skipped returns the outcomes that produced no artifact.
func (r *Result) Skipped() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.Built() && o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// SkipCounts tallies skipped outcomes by reason.
func (r *Result) SkipCounts() map[skip.Reason]int {
	counts := make(map[skip.Reason]int)
	for _, o := range r.Skipped() {
		counts[o.Reason]++
	}
	return counts
}
