// Package config loads machine and sweep descriptions from YAML.
//
// A file names one machine (its resource root, vector width and test
// fixture names), a set of compilers that may extend one another, and the
// sweeps to generate. Files are read through afero so callers can hand in
// any filesystem.
package config

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/raymyers/multistride/pkg/compiler"
	"github.com/raymyers/multistride/pkg/generator"
	"github.com/raymyers/multistride/pkg/naming"
)

// DefaultCompiler is used by sweeps that name no compiler.
const DefaultCompiler = "default"

// Config is the top level of a machine file.
type Config struct {
	Name       string                    `yaml:"name"`
	Resources  string                    `yaml:"resources"`
	Experiment string                    `yaml:"experiment"`
	Entry      string                    `yaml:"entry_function"`
	DTypeBytes int                       `yaml:"dtype_size_bytes"`
	VectorBits VectorWidth               `yaml:"vector_bits"`
	PageBytes  int                       `yaml:"page_size_bytes"`
	TestInput  string                    `yaml:"test_input_filename"`
	TestOutput string                    `yaml:"test_output_filename"`
	Compilers  map[string]CompilerConfig `yaml:"compilers"`
	Sweeps     []Sweep                   `yaml:"sweeps"`
}

// CompilerConfig is a named compiler. Base names another compiler whose
// flags this one extends.
type CompilerConfig struct {
	Base           string `yaml:"base,omitempty"`
	compiler.Flags `yaml:",inline"`
}

// Sweep expands into one job per (size, striding pair).
type Sweep struct {
	Name              string            `yaml:"name"`
	Kernel            string            `yaml:"kernel"`
	Suffix            string            `yaml:"suffix"`
	N                 []int             `yaml:"n"`
	UnalignmentFactor float64           `yaml:"unalignment_factor"`
	Striding          [][]int           `yaml:"striding"` // [stride, portion] pairs
	Compiler          string            `yaml:"compiler"`
	Defines           map[string]string `yaml:"defines"`
	Testing           bool              `yaml:"testing"`
	Strict            bool              `yaml:"strict"`
	PageAligned       bool              `yaml:"page_aligned"` // sizes in whole pages
}

// Plan is a resolved sweep ready to hand to a generator.
type Plan struct {
	Sweep    Sweep
	Compiler compiler.Flags
	Jobs     []generator.Job
}

// Load reads and validates the config at path.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return c, nil
}

// Parse decodes a config, fills defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.Wrap(err, "parsing yaml")
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) setDefaults() {
	if c.Experiment == "" {
		c.Experiment = "default"
	}
	if c.Entry == "" {
		c.Entry = "experiment"
	}
	if c.DTypeBytes == 0 {
		c.DTypeBytes = 4
	}
	if c.VectorBits == 0 {
		c.VectorBits = 256
	}
	if c.PageBytes == 0 {
		c.PageBytes = 4096
	}
	if c.TestInput == "" {
		c.TestInput = "input.txt"
	}
	if c.TestOutput == "" {
		c.TestOutput = "output.txt"
	}
	for i := range c.Sweeps {
		s := &c.Sweeps[i]
		if s.UnalignmentFactor == 0 {
			s.UnalignmentFactor = 1.0
		}
		if s.Compiler == "" {
			s.Compiler = DefaultCompiler
		}
		if s.Name == "" {
			s.Name = s.Kernel
			if s.Suffix != "" {
				s.Name += "-" + s.Suffix
			}
		}
	}
}

// Validate checks the machine, every compiler chain and every sweep.
// Kernel names are checked by Plans, which knows the registry.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.Errorf("machine name is required")
	}
	if c.Resources == "" {
		return errors.Errorf("resources root is required")
	}
	switch c.VectorBits {
	case 128, 256, 512:
	default:
		return errors.Errorf("unsupported vector width %d bits", c.VectorBits)
	}
	if c.DTypeBytes <= 0 || (c.VectorBits/8)%c.DTypeBytes != 0 {
		return errors.Errorf("dtype size %d bytes does not divide a %d bit vector", c.DTypeBytes, c.VectorBits)
	}
	if c.PageBytes <= 0 || c.PageBytes%c.DTypeBytes != 0 {
		return errors.Errorf("page size %d bytes is not a multiple of the dtype size", c.PageBytes)
	}
	for _, name := range c.compilerNames() {
		if _, err := c.resolve(name); err != nil {
			return err
		}
	}

	seen := make(map[string]bool)
	for _, s := range c.Sweeps {
		if seen[s.Name] {
			return errors.Errorf("sweep %s defined twice", s.Name)
		}
		seen[s.Name] = true
		if err := c.validateSweep(s); err != nil {
			return errors.Wrapf(err, "sweep %s", s.Name)
		}
	}
	return nil
}

func (c *Config) validateSweep(s Sweep) error {
	if s.Kernel == "" {
		return errors.Errorf("kernel is required")
	}
	if err := (naming.Identity{Kernel: s.Kernel, Suffix: s.Suffix, StrideUnrolls: 1, PortionUnrolls: 1}).Validate(); err != nil {
		return err
	}
	if len(s.N) == 0 {
		return errors.Errorf("no sizes given")
	}
	for _, n := range s.N {
		if n <= 0 {
			return errors.Errorf("size %d is not positive", n)
		}
	}
	if len(s.Striding) == 0 {
		return errors.Errorf("no striding pairs given")
	}
	for _, pair := range s.Striding {
		if len(pair) != 2 {
			return errors.Errorf("striding entry %v is not a [stride, portion] pair", pair)
		}
		if pair[0] <= 0 || pair[1] <= 0 {
			return errors.Errorf("striding entry %v has a non-positive unroll", pair)
		}
	}
	if s.UnalignmentFactor < 0 {
		return errors.Errorf("unalignment factor %v is negative", s.UnalignmentFactor)
	}
	if _, ok := c.Compilers[s.Compiler]; !ok {
		return errors.Errorf("unknown compiler %q", s.Compiler)
	}
	return nil
}

func (c *Config) compilerNames() []string {
	names := make([]string, 0, len(c.Compilers))
	for name := range c.Compilers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compiler resolves the flags of a named compiler by walking its base chain,
// root first. The result must name a driver.
func (c *Config) Compiler(name string) (compiler.Flags, error) {
	flags, err := c.resolve(name)
	if err != nil {
		return compiler.Flags{}, err
	}
	if flags.CC == "" {
		return compiler.Flags{}, errors.Errorf("compiler %s: no cc set", name)
	}
	return flags, nil
}

func (c *Config) resolve(name string) (compiler.Flags, error) {
	var chain []CompilerConfig
	visiting := make(map[string]bool)
	for cur := name; cur != ""; {
		if visiting[cur] {
			return compiler.Flags{}, errors.Errorf("compiler %s: cyclic base %s", name, cur)
		}
		visiting[cur] = true
		cc, ok := c.Compilers[cur]
		if !ok {
			if cur == name {
				return compiler.Flags{}, errors.Errorf("unknown compiler %q", name)
			}
			return compiler.Flags{}, errors.Errorf("compiler %s: unknown base %q", name, cur)
		}
		chain = append(chain, cc)
		cur = cc.Base
	}

	var flags compiler.Flags
	for i := len(chain) - 1; i >= 0; i-- {
		flags = flags.Extend(chain[i].Flags)
	}
	return flags, nil
}

// Machine returns the generator constants of the configured machine.
func (c *Config) Machine() generator.Machine {
	return generator.Machine{
		Name:       c.Name,
		Root:       c.Resources,
		Experiment: c.Experiment,
		Entry:      c.Entry,
		DTypeBytes: c.DTypeBytes,
		VectorBits: int(c.VectorBits),
		PageBytes:  c.PageBytes,
		TestInput:  c.TestInput,
		TestOutput: c.TestOutput,
	}
}

// Plans resolves the selected sweeps, or all of them when only is empty.
// known reports whether a kernel name is registered.
func (c *Config) Plans(known func(string) bool, only ...string) ([]Plan, error) {
	want := make(map[string]bool, len(only))
	for _, name := range only {
		want[name] = true
	}

	var plans []Plan
	for _, s := range c.Sweeps {
		if len(only) > 0 && !want[s.Name] {
			continue
		}
		delete(want, s.Name)
		if !known(s.Kernel) {
			return nil, errors.Errorf("sweep %s: unknown kernel %q", s.Name, s.Kernel)
		}
		flags, err := c.Compiler(s.Compiler)
		if err != nil {
			return nil, errors.Wrapf(err, "sweep %s", s.Name)
		}
		plans = append(plans, Plan{Sweep: s, Compiler: flags, Jobs: s.jobs()})
	}
	if len(want) > 0 {
		var missing []string
		for name := range want {
			missing = append(missing, name)
		}
		sort.Strings(missing)
		return nil, errors.Errorf("unknown sweep(s) %v", missing)
	}
	return plans, nil
}

// jobs expands the sweep. Every job defines N as its requested size unless
// the sweep sets N itself.
func (s Sweep) jobs() []generator.Job {
	var jobs []generator.Job
	for _, n := range s.N {
		for _, pair := range s.Striding {
			defines := map[string]string{"N": strconv.Itoa(n)}
			for k, v := range s.Defines {
				defines[k] = v
			}
			jobs = append(jobs, generator.Job{
				Kernel:            s.Kernel,
				Suffix:            s.Suffix,
				N:                 n,
				StrideUnrolls:     pair[0],
				PortionUnrolls:    pair[1],
				UnalignmentFactor: s.UnalignmentFactor,
				Defines:           defines,
				Testing:           s.Testing,
				PageAligned:       s.PageAligned,
			})
		}
	}
	return jobs
}
