// Package codegen is the scoped emission session used to build one kernel.
//
// A Context owns a scalar and a vector register allocator, a table binding
// symbolic variable names to registers, the instruction buffer, and a label
// counter. Run opens a context, hands it to the kernel body, and finalizes it
// exactly once: the prologue and epilogue are synthesized from the
// callee-saved registers the body used, the translation unit is written to
// the artifact layout, and the compiler collaborator turns it into a binary.
package codegen

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/raymyers/multistride/pkg/asm"
	"github.com/raymyers/multistride/pkg/naming"
	"github.com/raymyers/multistride/pkg/regalloc"
	"github.com/raymyers/multistride/pkg/skip"
)

// SetID selects one of the two allocators of a Context.
type SetID int

const (
	Scalar SetID = iota
	Vector
)

func (s SetID) String() string {
	if s == Vector {
		return "simd"
	}
	return "default"
}

// Compiler turns an assembly file into a runnable binary.
type Compiler interface {
	Compile(ctx context.Context, in, out string) error
}

// TestFunc writes matched input and expected output fixtures into dataDir.
type TestFunc func(fs afero.Fs, dataDir string) error

// Layout locates the artifact directories of one kernel.
type Layout struct {
	Root       string
	Machine    string
	Experiment string
	Kernel     string
}

// KernelDir returns <root>/resources/<machine>/experiments/<experiment>/kernels/<kernel>.
func (l Layout) KernelDir() string {
	return filepath.Join(l.Root, "resources", l.Machine, "experiments", l.Experiment, "kernels", l.Kernel)
}

// Options configure a Context.
type Options struct {
	Identity   naming.Identity
	Layout     Layout
	Entry      string // entry symbol, "experiment" when empty
	VectorBits int
	Format     asm.Format // zero value means asm.DefaultFormat

	Fs       afero.Fs
	Compiler Compiler

	// Test, when set, places the artifact in the test layout and attaches
	// a hook producing its fixtures.
	Test       TestFunc
	TestInput  string // fixture file names, input.txt/output.txt when empty
	TestOutput string

	Log *logrus.Entry
}

type binding struct {
	reg   regalloc.Register
	alloc *regalloc.Allocator
}

// Context is a single-writer emission session. It is not safe for
// concurrent use.
type Context struct {
	ctx    context.Context
	opts   Options
	name   string
	format asm.Format

	scalar *regalloc.Allocator
	vector *regalloc.Allocator

	vars  map[string]binding
	order []string // binding names in creation order

	code  []string
	label int

	diags []regalloc.Diagnostic
	err   error // first operand lookup failure
	done  bool
	log   *logrus.Entry
}

// New opens a context. Most callers use Run instead.
func New(ctx context.Context, opts Options) (*Context, error) {
	if err := opts.Identity.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid kernel identity")
	}
	if opts.Fs == nil {
		return nil, errors.Errorf("no filesystem configured")
	}
	if opts.Compiler == nil {
		return nil, errors.Errorf("no compiler configured")
	}
	if opts.Entry == "" {
		opts.Entry = "experiment"
	}
	if opts.TestInput == "" {
		opts.TestInput = "input.txt"
	}
	if opts.TestOutput == "" {
		opts.TestOutput = "output.txt"
	}
	format := opts.Format
	if format.MnemonicWidth == 0 {
		format = asm.DefaultFormat
	}
	vectorSet, err := regalloc.VectorSet(opts.VectorBits)
	if err != nil {
		return nil, err
	}

	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	name := naming.Encode(opts.Identity)
	log = log.WithFields(logrus.Fields{
		"kernel":   opts.Identity.Kernel,
		"artifact": name,
	})

	return &Context{
		ctx:    ctx,
		opts:   opts,
		name:   name,
		format: format,
		scalar: regalloc.NewAllocator(regalloc.X86_64(), log),
		vector: regalloc.NewAllocator(vectorSet, log),
		vars:   make(map[string]binding),
		log:    log,
	}, nil
}

// Name returns the artifact name.
func (c *Context) Name() string { return c.name }

// Identity returns the configuration the context was opened with.
func (c *Context) Identity() naming.Identity { return c.opts.Identity }

// Testing reports whether the build carries a test hook.
func (c *Context) Testing() bool { return c.opts.Test != nil }

// Log returns the context's logger.
func (c *Context) Log() *logrus.Entry { return c.log }

// Allocator returns the allocator of set.
func (c *Context) Allocator(set SetID) *regalloc.Allocator {
	if set == Vector {
		return c.vector
	}
	return c.scalar
}

// Code returns a copy of the instruction buffer.
func (c *Context) Code() []string {
	out := make([]string, len(c.code))
	copy(out, c.code)
	return out
}

// Diagnostics returns the integrity warnings of both allocators followed by
// the context's own binding warnings.
func (c *Context) Diagnostics() []regalloc.Diagnostic {
	var out []regalloc.Diagnostic
	out = append(out, c.scalar.Diagnostics()...)
	out = append(out, c.vector.Diagnostics()...)
	return append(out, c.diags...)
}

// Err returns the first failure recorded by Reg.
func (c *Context) Err() error { return c.err }

// duplicate records an attempt to rebind a bound variable.
func (c *Context) duplicate(variable string) error {
	old := c.vars[variable]
	c.diags = append(c.diags, regalloc.Diagnostic{Kind: regalloc.DuplicateVariable, Register: old.reg.Canonical, Variable: variable})
	c.log.WithFields(logrus.Fields{
		"variable": variable,
		"register": old.reg.Canonical,
	}).Warn("variable is already bound")
	return errors.Errorf("variable %s is already bound to %s", variable, old.reg.Canonical)
}

func (c *Context) bind(variable string, b binding) {
	if variable == "" {
		return
	}
	c.vars[variable] = b
	c.order = append(c.order, variable)
}

func (c *Context) unbind(variable string) {
	delete(c.vars, variable)
	for i, v := range c.order {
		if v == variable {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// GetRegister obtains a free register of set and, when variable is not
// empty, binds it to that name. A name that is already bound is rejected
// before any register is taken.
func (c *Context) GetRegister(set SetID, variable string, col regalloc.Column) (regalloc.Register, error) {
	if _, ok := c.vars[variable]; ok && variable != "" {
		return regalloc.Register{}, c.duplicate(variable)
	}
	alloc := c.Allocator(set)
	reg, err := alloc.Obtain(col)
	if err != nil {
		c.log.WithFields(logrus.Fields{"variable": variable, "set": set.String()}).Warn("no register available")
		return regalloc.Register{}, err
	}
	c.bind(variable, binding{reg: reg, alloc: alloc})
	return reg, nil
}

// SetVariable binds variable to a specific register of whichever allocator
// owns it. An unknown register is reported and nothing changes.
func (c *Context) SetVariable(canonical, variable string, col regalloc.Column) (regalloc.Register, error) {
	if variable == "" {
		return regalloc.Register{}, errors.Errorf("binding %s requires a variable name", canonical)
	}
	if _, ok := c.vars[variable]; ok {
		return regalloc.Register{}, c.duplicate(variable)
	}
	for _, alloc := range []*regalloc.Allocator{c.scalar, c.vector} {
		if !alloc.Owns(canonical) {
			continue
		}
		reg, err := alloc.Reserve(canonical, col)
		if err != nil {
			return regalloc.Register{}, err
		}
		c.bind(variable, binding{reg: reg, alloc: alloc})
		return reg, nil
	}
	c.log.WithField("register", canonical).Warn("register does not exist")
	return regalloc.Register{}, skip.New(skip.UnknownRegister, "register %s does not exist", canonical)
}

// Variable returns the alias of a bound variable in col.
func (c *Context) Variable(variable string, col regalloc.Column) (string, error) {
	b, ok := c.vars[variable]
	if !ok {
		return "", errors.Errorf("variable %s is not bound", variable)
	}
	if col == regalloc.DefaultColumn {
		return b.reg.Alias, nil
	}
	return b.alloc.Alias(b.reg.Canonical, col)
}

// Reg returns the AT&T operand of a bound variable. A lookup failure is
// recorded, surfaces from Err and fails finalization.
func (c *Context) Reg(variable string) string {
	alias, err := c.Variable(variable, regalloc.DefaultColumn)
	if err != nil {
		if c.err == nil {
			c.err = err
		}
		c.log.WithField("variable", variable).Error("operand refers to an unbound variable")
		return "%" + variable
	}
	return asm.Reg(alias)
}

// Mem returns a displacement(base) memory operand addressed through a bound
// variable, e.g. "64(%rax)". Lookup failures behave as in Reg.
func (c *Context) Mem(disp int, variable string) string {
	alias, err := c.Variable(variable, regalloc.DefaultColumn)
	if err != nil {
		c.Reg(variable)
		return asm.Mem(int64(disp), variable)
	}
	return asm.Mem(int64(disp), alias)
}

// UnsetVariable releases the register bound to variable and drops the binding.
func (c *Context) UnsetVariable(variable string) error {
	b, ok := c.vars[variable]
	if !ok {
		c.log.WithField("variable", variable).Warn("unsetting an unbound variable")
		return errors.Errorf("variable %s is not bound", variable)
	}
	c.unbind(variable)
	return b.alloc.Release(b.reg.Canonical)
}

// UnsetRegister drops every binding on canonical and releases it. It also
// releases registers that were obtained without a variable name.
func (c *Context) UnsetRegister(canonical string) error {
	var bound []string
	for _, v := range c.order {
		if c.vars[v].reg.Canonical == canonical {
			bound = append(bound, v)
		}
	}
	if len(bound) == 0 {
		for _, alloc := range []*regalloc.Allocator{c.scalar, c.vector} {
			if alloc.Owns(canonical) {
				return alloc.Release(canonical)
			}
		}
		return skip.New(skip.UnknownRegister, "register %s does not exist", canonical)
	}
	for _, v := range bound {
		if err := c.UnsetVariable(v); err != nil {
			return err
		}
	}
	return nil
}

// Statement appends an indented instruction.
func (c *Context) Statement(mnemonic string, operands ...string) {
	c.code = append(c.code, c.format.Statement(mnemonic, operands...))
}

// Unindented appends a statement without indentation.
func (c *Context) Unindented(mnemonic string, operands ...string) {
	c.code = append(c.code, c.format.Unindented(mnemonic, operands...))
}

// Label appends the definition of local label n.
func (c *Context) Label(n int) {
	c.code = append(c.code, c.format.Label(asm.LocalLabel(n)))
}

// GetLabel returns a fresh local label number.
func (c *Context) GetLabel() int {
	c.label++
	return c.label
}
