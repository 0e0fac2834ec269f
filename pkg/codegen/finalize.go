package codegen

import (
	"context"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/raymyers/multistride/pkg/asm"
	"github.com/raymyers/multistride/pkg/naming"
	"github.com/raymyers/multistride/pkg/regalloc"
	"github.com/raymyers/multistride/pkg/stacking"
)

// Artifact is a compiled kernel ready for the execution layer.
type Artifact struct {
	Name     string
	Identity naming.Identity
	Source   string // assembly file
	Binary   string
	Results  string // directory the execution layer writes results to
	DataDir  string // fixture directory, empty unless under test
	Command  string // command line running the binary

	// Test writes the fixtures and returns DataDir. Nil unless under test.
	Test func() (string, error)

	Diagnostics []regalloc.Diagnostic
}

// Run opens a context, runs body against it and finalizes it exactly once.
//
// When body fails, the error is logged and the partial translation unit is
// written next to the artifact for inspection, but nothing is compiled and
// the body's error is returned. A panic in body is logged, the partial unit
// is written, and the panic continues.
func Run(ctx context.Context, opts Options, body func(*Context) error) (*Artifact, error) {
	c, err := New(ctx, opts)
	if err != nil {
		return nil, err
	}

	finished := false
	defer func() {
		if finished {
			return
		}
		r := recover()
		c.log.WithField("panic", r).Error("kernel build panicked")
		c.flushPartial()
		panic(r)
	}()

	bodyErr := body(c)
	finished = true

	if bodyErr != nil {
		c.log.WithError(bodyErr).Warn("kernel build failed")
		c.flushPartial()
		return nil, bodyErr
	}
	return c.Finalize()
}

// Finalize assembles, persists and compiles the kernel. It may be called
// once; Run calls it for you.
func (c *Context) Finalize() (*Artifact, error) {
	if c.done {
		return nil, errors.Errorf("context %s already finalized", c.name)
	}
	c.done = true

	c.reportLeaks()
	if c.err != nil {
		return nil, errors.Wrapf(c.err, "building %s", c.name)
	}
	text := c.assemble()

	art := c.paths()
	if err := c.persist(art.Source, text); err != nil {
		return nil, err
	}
	for _, dir := range []string{filepath.Dir(art.Binary), art.Results} {
		if err := c.opts.Fs.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating %s", dir)
		}
	}
	if err := c.opts.Compiler.Compile(c.ctx, art.Source, art.Binary); err != nil {
		return nil, err
	}

	if c.opts.Test != nil {
		if err := c.opts.Fs.MkdirAll(art.DataDir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating %s", art.DataDir)
		}
		test, fs, dataDir := c.opts.Test, c.opts.Fs, art.DataDir
		art.Test = func() (string, error) {
			if err := test(fs, dataDir); err != nil {
				return "", errors.Wrapf(err, "writing fixtures to %s", dataDir)
			}
			return dataDir, nil
		}
		art.Command = shellquote.Join(art.Binary,
			filepath.Join(art.DataDir, c.opts.TestInput),
			filepath.Join(art.DataDir, c.opts.TestOutput))
	} else {
		art.Command = shellquote.Join(art.Binary)
	}
	art.Diagnostics = c.Diagnostics()

	c.log.WithField("command", art.Command).Info("built kernel")
	return art, nil
}

// reportLeaks warns once per binding still alive at finalization.
func (c *Context) reportLeaks() {
	for _, v := range c.order {
		b := c.vars[v]
		c.diags = append(c.diags, regalloc.Diagnostic{Kind: regalloc.LeakedBinding, Register: b.reg.Canonical, Variable: v})
		c.log.WithFields(logrus.Fields{
			"variable": v,
			"register": b.reg.Canonical,
		}).Warn("variable is still mapped at the end of the kernel")
	}
}

// program builds the translation unit from the current buffer around the
// given entry label.
func (c *Context) program(entryLabel int) *asm.Program {
	saved := stacking.FindUsedCalleeSaveRegs(c.scalar, c.vector)
	return &asm.Program{
		Source:     naming.File(c.opts.Identity, "gen"),
		Entry:      c.opts.Entry,
		EntryLabel: entryLabel,
		Prologue:   stacking.GeneratePrologue(c.format, saved),
		Body:       c.Code(),
		Epilogue:   stacking.GenerateEpilogue(c.format, saved),
		Data:       []asm.DataObject{asm.Count64("N", int64(c.opts.Identity.AlignedSize))},
	}
}

// assemble renders the unit. The entry label takes the next label number,
// so it is called once per context.
func (c *Context) assemble() string {
	return asm.Text(c.program(c.GetLabel()), c.format)
}
