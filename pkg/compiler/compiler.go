// Package compiler invokes the external C compiler driver that assembles and
// links a generated kernel against the benchmarking harness.
package compiler

import (
	"context"
	"os/exec"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Flags describes one compiler driver invocation. Values that already carry
// their dash (or @ for FlagFile) are passed through unchanged.
type Flags struct {
	CC        string            `yaml:"cc"`
	Mode      string            `yaml:"mode,omitempty"`     // -<mode>, e.g. c
	Standard  string            `yaml:"standard,omitempty"` // -std=<standard>
	Debug     *bool             `yaml:"debug,omitempty"`    // -g -gdwarf-4
	Profile   *bool             `yaml:"profile,omitempty"`  // -pg
	Opt       string            `yaml:"opt,omitempty"`      // -O<opt>
	Warn      []string          `yaml:"warn,omitempty"`     // -W<w>
	Pedantic  *bool             `yaml:"pedantic,omitempty"` // -Wpedantic
	Include   []string          `yaml:"include,omitempty"`  // -I<dir>
	Lib       []string          `yaml:"lib,omitempty"`      // -L<dir>
	Defines   map[string]string `yaml:"defines,omitempty"`  // -DK=V, or -DK when V is empty
	Undefine  string            `yaml:"undefine,omitempty"` // -U<name>
	FOpt      []string          `yaml:"fopt,omitempty"`     // -f<opt>
	MOpt      []string          `yaml:"mopt,omitempty"`     // -m<opt>
	FlagFile  string            `yaml:"flagfile,omitempty"` // @<file>
	InFiles   []string          `yaml:"infiles,omitempty"`  // extra sources after the kernel
	Libraries []string          `yaml:"libraries,omitempty"` // -l<lib>
}

// Extend returns f overridden by o: set scalars in o win, lists are unioned
// keeping first-seen order, and defines are merged with o taking precedence.
// Neither input is modified.
func (f Flags) Extend(o Flags) Flags {
	out := f
	out.CC = override(f.CC, o.CC)
	out.Mode = override(f.Mode, o.Mode)
	out.Standard = override(f.Standard, o.Standard)
	out.Opt = override(f.Opt, o.Opt)
	out.Undefine = override(f.Undefine, o.Undefine)
	out.FlagFile = override(f.FlagFile, o.FlagFile)
	out.Debug = overrideBool(f.Debug, o.Debug)
	out.Profile = overrideBool(f.Profile, o.Profile)
	out.Pedantic = overrideBool(f.Pedantic, o.Pedantic)

	out.Warn = union(f.Warn, o.Warn)
	out.Include = union(f.Include, o.Include)
	out.Lib = union(f.Lib, o.Lib)
	out.FOpt = union(f.FOpt, o.FOpt)
	out.MOpt = union(f.MOpt, o.MOpt)
	out.InFiles = union(f.InFiles, o.InFiles)
	out.Libraries = union(f.Libraries, o.Libraries)

	if len(f.Defines)+len(o.Defines) > 0 {
		out.Defines = make(map[string]string, len(f.Defines)+len(o.Defines))
		for k, v := range f.Defines {
			out.Defines[k] = v
		}
		for k, v := range o.Defines {
			out.Defines[k] = v
		}
	}
	return out
}

func override(base, o string) string {
	if o != "" {
		return o
	}
	return base
}

func overrideBool(base, o *bool) *bool {
	if o != nil {
		v := *o
		return &v
	}
	if base != nil {
		v := *base
		return &v
	}
	return nil
}

func union(a, b []string) []string {
	if len(a)+len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

func isSet(b *bool) bool {
	return b != nil && *b
}

func dashed(prefix, v string) string {
	if strings.HasPrefix(v, "-") {
		return v
	}
	return prefix + v
}

func dashedAll(prefix string, vs []string) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = dashed(prefix, v)
	}
	return out
}

// Args returns the argv compiling in to out, in driver order:
// cc mode std debug profile opt warn include lib defines undef fopt mopt
// -o out flagfile in infiles libs.
func (f Flags) Args(in, out string) []string {
	args := []string{f.CC}
	if f.Mode != "" {
		args = append(args, dashed("-", f.Mode))
	}
	if f.Standard != "" {
		args = append(args, dashed("-std=", f.Standard))
	}
	if isSet(f.Debug) {
		args = append(args, "-g", "-gdwarf-4")
	}
	if isSet(f.Profile) {
		args = append(args, "-pg")
	}
	if f.Opt != "" {
		args = append(args, dashed("-O", f.Opt))
	}
	args = append(args, dashedAll("-W", f.Warn)...)
	if isSet(f.Pedantic) {
		args = append(args, "-Wpedantic")
	}
	args = append(args, dashedAll("-I", f.Include)...)
	args = append(args, dashedAll("-L", f.Lib)...)
	args = append(args, f.defineArgs()...)
	if f.Undefine != "" {
		args = append(args, dashed("-U", f.Undefine))
	}
	args = append(args, dashedAll("-f", f.FOpt)...)
	args = append(args, dashedAll("-m", f.MOpt)...)
	args = append(args, "-o", out)
	if f.FlagFile != "" {
		if strings.HasPrefix(f.FlagFile, "@") {
			args = append(args, f.FlagFile)
		} else {
			args = append(args, "@"+f.FlagFile)
		}
	}
	args = append(args, in)
	args = append(args, f.InFiles...)
	args = append(args, dashedAll("-l", f.Libraries)...)
	return args
}

// defineArgs renders defines sorted by name so argv is reproducible.
func (f Flags) defineArgs() []string {
	keys := make([]string, 0, len(f.Defines))
	for k := range f.Defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		v := f.Defines[k]
		name := dashed("-D", k)
		if v == "" {
			out = append(out, name)
		} else {
			out = append(out, name+"="+v)
		}
	}
	return out
}

// Compiler runs Flags through a Command.
// A nil Cmd runs the driver with a Commander logging to Log.
type Compiler struct {
	Flags Flags
	Cmd   Command
	Log   *logrus.Entry
}

// New returns a compiler that executes the driver as a child process.
func New(flags Flags) *Compiler {
	return &Compiler{Flags: flags}
}

// With returns a copy whose flags are extended by o.
func (c *Compiler) With(o Flags) *Compiler {
	return &Compiler{Flags: c.Flags.Extend(o), Cmd: c.Cmd, Log: c.Log}
}

// WithLog returns a copy logging to log.
func (c *Compiler) WithLog(log *logrus.Entry) *Compiler {
	return &Compiler{Flags: c.Flags, Cmd: c.Cmd, Log: log}
}

// Compile builds in into out and blocks until the driver exits.
func (c *Compiler) Compile(ctx context.Context, in, out string) error {
	if c.Flags.CC == "" {
		return errors.New("no compiler driver configured")
	}
	args := c.Flags.Args(in, out)
	c.log().WithField("output", out).Debugf("compiling: %s", CommandLine(args...))

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if _, err := c.command().RunCmdOut(cmd); err != nil {
		return errors.Wrapf(err, "compiling %s", in)
	}
	return nil
}

func (c *Compiler) log() *logrus.Entry {
	if c.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return c.Log
}

func (c *Compiler) command() Command {
	if c.Cmd == nil {
		return &Commander{Log: c.log()}
	}
	return c.Cmd
}

// CommandLine renders argv as a single shell-safe line.
func CommandLine(args ...string) string {
	return shellquote.Join(args...)
}
