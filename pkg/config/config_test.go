package config

import (
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"github.com/raymyers/multistride/pkg/compiler"
	"github.com/raymyers/multistride/pkg/generator"
)

const machineYAML = `
name: skylake
resources: /data/bench
experiment: stream
vector_bits: 512
compilers:
  default:
    cc: gcc
    opt: "3"
    warn: [all]
    defines:
      REPEAT: "10"
  icc:
    base: default
    cc: icc
    warn: [extra, all]
    mopt: [arch=native]
    defines:
      REPEAT: "20"
sweeps:
  - kernel: alignedread
    n: [1024, 4096]
    striding: [[1, 1], [2, 4]]
  - name: copies
    kernel: streamreadstreamwritecopy
    suffix: hwpf
    n: [8192]
    striding: [[4, 2]]
    compiler: icc
    unalignment_factor: 0.5
    defines:
      N: "42"
    testing: true
    strict: true
    page_aligned: true
`

func known(name string) bool {
	return name == "alignedread" || name == "streamreadstreamwritecopy"
}

func TestParseDefaults(t *testing.T) {
	c, err := Parse([]byte(machineYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := generator.Machine{
		Name: "skylake", Root: "/data/bench", Experiment: "stream", Entry: "experiment",
		DTypeBytes: 4, VectorBits: 512, PageBytes: 4096,
		TestInput: "input.txt", TestOutput: "output.txt",
	}
	if diff := cmp.Diff(want, c.Machine()); diff != "" {
		t.Errorf("machine mismatch (-want +got):\n%s", diff)
	}
	if c.Sweeps[0].Name != "alignedread" || c.Sweeps[0].Compiler != DefaultCompiler {
		t.Errorf("sweep defaults = %+v", c.Sweeps[0])
	}
	if c.Sweeps[0].UnalignmentFactor != 1.0 {
		t.Errorf("unalignment factor = %v, want 1", c.Sweeps[0].UnalignmentFactor)
	}
}

func TestCompilerInheritance(t *testing.T) {
	c, err := Parse([]byte(machineYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got, err := c.Compiler("icc")
	if err != nil {
		t.Fatalf("Compiler(icc): %v", err)
	}
	want := compiler.Flags{
		CC:      "icc",
		Opt:     "3",
		Warn:    []string{"all", "extra"},
		MOpt:    []string{"arch=native"},
		Defines: map[string]string{"REPEAT": "20"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("icc flags mismatch (-want +got):\n%s", diff)
	}
}

func TestPlans(t *testing.T) {
	c, err := Parse([]byte(machineYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	plans, err := c.Plans(known)
	if err != nil {
		t.Fatalf("Plans: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("got %d plans, want 2", len(plans))
	}

	var got []string
	for _, j := range plans[0].Jobs {
		got = append(got, strings.Join([]string{j.Defines["N"], strconv.Itoa(j.StrideUnrolls), strconv.Itoa(j.PortionUnrolls)}, "/"))
	}
	if diff := cmp.Diff([]string{"1024/1/1", "1024/2/4", "4096/1/1", "4096/2/4"}, got); diff != "" {
		t.Errorf("alignedread jobs mismatch (-want +got):\n%s", diff)
	}

	copies := plans[1]
	wantJob := generator.Job{
		Kernel: "streamreadstreamwritecopy", Suffix: "hwpf", N: 8192,
		StrideUnrolls: 4, PortionUnrolls: 2, UnalignmentFactor: 0.5,
		Defines: map[string]string{"N": "42"}, Testing: true, PageAligned: true,
	}
	if diff := cmp.Diff([]generator.Job{wantJob}, copies.Jobs); diff != "" {
		t.Errorf("copies jobs mismatch (-want +got):\n%s", diff)
	}
	if !copies.Sweep.Strict || copies.Compiler.CC != "icc" {
		t.Errorf("copies plan = %+v", copies)
	}

	only, err := c.Plans(known, "copies")
	if err != nil {
		t.Fatalf("Plans(copies): %v", err)
	}
	if len(only) != 1 || only[0].Sweep.Name != "copies" {
		t.Errorf("Plans(copies) = %+v", only)
	}
}

func TestPlansErrors(t *testing.T) {
	c, err := Parse([]byte(machineYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := c.Plans(known, "nope"); err == nil || !strings.Contains(err.Error(), "nope") {
		t.Errorf("Plans(nope) = %v, want unknown sweep", err)
	}
	if _, err := c.Plans(func(string) bool { return false }); err == nil || !strings.Contains(err.Error(), "unknown kernel") {
		t.Errorf("Plans with empty registry = %v, want unknown kernel", err)
	}
}

func TestValidateErrors(t *testing.T) {
	base := `
name: m
resources: /r
compilers:
  default: {cc: gcc}
`
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no name", "resources: /r\n", "machine name"},
		{"no resources", "name: m\n", "resources"},
		{"bad width", base + "vector_bits: 64\n", "vector width"},
		{"bad width text", base + "vector_bits: wide\n", "not a number"},
		{"odd dtype", base + "dtype_size_bytes: 3\n", "dtype size"},
		{"cyclic", base + "  a: {base: b, cc: x}\n  b: {base: a}\n", "cyclic"},
		{"unknown base", base + "  a: {base: zz, cc: x}\n", "unknown base"},
		{"unknown compiler", base + "sweeps:\n  - {kernel: k, n: [8], striding: [[1, 1]], compiler: icc}\n", "unknown compiler"},
		{"bad pair", base + "sweeps:\n  - {kernel: k, n: [8], striding: [[1, 1, 1]]}\n", "pair"},
		{"zero unroll", base + "sweeps:\n  - {kernel: k, n: [8], striding: [[0, 1]]}\n", "non-positive"},
		{"no sizes", base + "sweeps:\n  - {kernel: k, striding: [[1, 1]]}\n", "no sizes"},
		{"negative size", base + "sweeps:\n  - {kernel: k, n: [-8], striding: [[1, 1]]}\n", "not positive"},
		{"bad suffix", base + "sweeps:\n  - {kernel: k, suffix: a_b, n: [8], striding: [[1, 1]]}\n", "suffix"},
		{"duplicate sweep", base + "sweeps:\n  - {kernel: k, n: [8], striding: [[1, 1]]}\n  - {kernel: k, n: [8], striding: [[1, 1]]}\n", "twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("Parse succeeded, want error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestBaseOnlyCompilerNeedsNoDriver(t *testing.T) {
	c, err := Parse([]byte(`
name: m
resources: /r
compilers:
  common: {opt: "2"}
  default: {base: common, cc: clang}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := c.Compiler("common"); err == nil {
		t.Errorf("Compiler(common) succeeded without a cc")
	}
	flags, err := c.Compiler("default")
	if err != nil || flags.Opt != "2" || flags.CC != "clang" {
		t.Errorf("Compiler(default) = %+v, %v", flags, err)
	}
}

func TestVectorAuto(t *testing.T) {
	saved := hasAVX512
	defer func() { hasAVX512 = saved }()

	for _, tt := range []struct {
		avx512 bool
		want   int
	}{{true, 512}, {false, 256}} {
		hasAVX512 = func() bool { return tt.avx512 }
		c, err := Parse([]byte("name: m\nresources: /r\nvector_bits: auto\n"))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if got := c.Machine().VectorBits; got != tt.want {
			t.Errorf("auto with avx512=%v = %d, want %d", tt.avx512, got, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/etc/machine.yaml", []byte(machineYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(fs, "/etc/machine.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Name != "skylake" {
		t.Errorf("Name = %q", c.Name)
	}
	if _, err := Load(fs, "/etc/missing.yaml"); err == nil || !strings.Contains(err.Error(), "missing.yaml") {
		t.Errorf("Load(missing) = %v", err)
	}
}
