package kernels

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/raymyers/multistride/pkg/codegen"
	"github.com/raymyers/multistride/pkg/compiler"
	"github.com/raymyers/multistride/pkg/generator"
	"github.com/raymyers/multistride/pkg/naming"
	"github.com/raymyers/multistride/pkg/skip"
)

// KernelAsmTestSpec is one case of kernels_asm.yaml.
type KernelAsmTestSpec struct {
	Name         string   `yaml:"name"`
	Kernel       string   `yaml:"kernel"`
	Suffix       string   `yaml:"suffix"`
	N            int      `yaml:"n"`
	Stride       int      `yaml:"stride"`
	Portion      int      `yaml:"portion"`
	VectorBits   int      `yaml:"vector_bits"`
	Testing      bool     `yaml:"testing"`
	PageAligned  bool     `yaml:"page_aligned"`
	Artifact     string   `yaml:"artifact"`
	Expect       []string `yaml:"expect"`
	ExpectOrder  []string `yaml:"expect_order"`
	ExpectUnique []string `yaml:"expect_unique"`
	ExpectNot    []string `yaml:"expect_not"`
	Skip         string   `yaml:"skip,omitempty"`
}

// KernelAsmTestFile represents the kernels_asm.yaml file structure
type KernelAsmTestFile struct {
	Tests []KernelAsmTestSpec `yaml:"tests"`
}

type recordingCommand struct {
	mu   sync.Mutex
	args [][]string
}

func (r *recordingCommand) RunCmdOut(cmd *exec.Cmd) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.args = append(r.args, cmd.Args)
	return nil, nil
}

func newGenerator(vectorBits int) (*generator.Generator, *recordingCommand) {
	if vectorBits == 0 {
		vectorBits = 256
	}
	logger, _ := logtest.NewNullLogger()
	cmd := &recordingCommand{}
	return &generator.Generator{
		Machine: generator.Machine{
			Name: "m", Root: "/r", Experiment: "e", Entry: "experiment",
			DTypeBytes: 4, VectorBits: vectorBits, PageBytes: 4096,
			TestInput: "input.txt", TestOutput: "output.txt",
		},
		Kernels:  Registry(),
		Compiler: &compiler.Compiler{Flags: compiler.Flags{CC: "gcc"}, Cmd: cmd},
		Fs:       afero.NewMemMapFs(),
		Workers:  1,
		Log:      logrus.NewEntry(logger),
	}, cmd
}

func buildOne(t *testing.T, g *generator.Generator, job generator.Job) *codegen.Artifact {
	t.Helper()
	res, err := g.Generate(context.Background(), []generator.Job{job})
	if err != nil {
		t.Fatalf("Generate(%+v): %v", job, err)
	}
	arts := res.Artifacts()
	if len(arts) != 1 {
		t.Fatalf("Generate(%+v) built %d artifacts, skipped %+v", job, len(arts), res.Skipped())
	}
	return arts[0]
}

func TestKernelAsmYAML(t *testing.T) {
	data, err := os.ReadFile("../../testdata/kernels_asm.yaml")
	if err != nil {
		t.Fatalf("kernels_asm.yaml not found: %v", err)
	}
	var testFile KernelAsmTestFile
	if err := yaml.Unmarshal(data, &testFile); err != nil {
		t.Fatalf("failed to parse kernels_asm.yaml: %v", err)
	}

	for _, tc := range testFile.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			if tc.Skip != "" {
				t.Skip(tc.Skip)
			}
			g, _ := newGenerator(tc.VectorBits)
			art := buildOne(t, g, generator.Job{
				Kernel: tc.Kernel, Suffix: tc.Suffix, N: tc.N,
				StrideUnrolls: tc.Stride, PortionUnrolls: tc.Portion, Testing: tc.Testing,
				PageAligned: tc.PageAligned,
			})
			if tc.Artifact != "" && art.Name != tc.Artifact {
				t.Errorf("artifact = %s, want %s", art.Name, tc.Artifact)
			}
			raw, err := afero.ReadFile(g.Fs, art.Source)
			if err != nil {
				t.Fatalf("reading %s: %v", art.Source, err)
			}
			output := string(raw)

			for _, exp := range tc.Expect {
				if !strings.Contains(output, exp) {
					t.Errorf("expected output to contain %q\nGot:\n%s", exp, output)
				}
			}
			lastIdx := -1
			for _, exp := range tc.ExpectOrder {
				idx := strings.Index(output[lastIdx+1:], exp)
				if idx == -1 {
					t.Errorf("expected %q after position %d\nGot:\n%s", exp, lastIdx, output)
					break
				}
				lastIdx += idx + 1
			}
			for _, exp := range tc.ExpectUnique {
				if n := strings.Count(output, exp); n != 1 {
					t.Errorf("expected %q exactly once, found %d times", exp, n)
				}
			}
			for _, exp := range tc.ExpectNot {
				if strings.Contains(output, exp) {
					t.Errorf("expected output NOT to contain %q\nGot:\n%s", exp, output)
				}
			}
			if len(art.Diagnostics) != 0 {
				t.Errorf("kernel left diagnostics: %v", art.Diagnostics)
			}
		})
	}
}

func TestNames(t *testing.T) {
	names := Names()
	if len(names) != 11 {
		t.Errorf("got %d kernels, want 11: %v", len(names), names)
	}
	for _, n := range names {
		if err := (naming.Identity{Kernel: n, StrideUnrolls: 1, PortionUnrolls: 1}).Validate(); err != nil {
			t.Errorf("kernel name %s is not encodable: %v", n, err)
		}
	}
	if len(Registry()) != len(names) {
		t.Errorf("registry has duplicate names")
	}
}

func TestUnalignedBumpsDefine(t *testing.T) {
	g, cmd := newGenerator(256)
	buildOne(t, g, generator.Job{Kernel: "unalignedread", N: 1024, StrideUnrolls: 1, PortionUnrolls: 1, Defines: map[string]string{"N": "1024"}})
	got := strings.Join(cmd.args[0], " ")
	if !strings.Contains(got, "-DN=1028") {
		t.Errorf("compile command %q lacks the bumped N define", got)
	}
}

func TestTooSmallIsSkipped(t *testing.T) {
	for _, name := range Names() {
		g, cmd := newGenerator(256)
		res, err := g.Generate(context.Background(), []generator.Job{{Kernel: name, N: 8, StrideUnrolls: 3, PortionUnrolls: 5}})
		if err != nil {
			t.Fatalf("%s: Generate: %v", name, err)
		}
		skipped := res.Skipped()
		if len(skipped) != 1 || skipped[0].Reason != skip.Unrepresentable {
			t.Errorf("%s: skipped = %+v, want one unrepresentable", name, skipped)
		}
		if len(cmd.args) != 0 {
			t.Errorf("%s: compiler ran for a skipped configuration", name)
		}
	}
}

func readFixtures(t *testing.T, g *generator.Generator, art *codegen.Artifact) (in, out []float32) {
	t.Helper()
	if art.Test == nil {
		t.Fatalf("%s has no test hook", art.Name)
	}
	dir, err := art.Test()
	if err != nil {
		t.Fatalf("test hook: %v", err)
	}
	in, err = readArray(g.Fs, filepath.Join(dir, "input.txt"))
	if err != nil {
		t.Fatal(err)
	}
	out, err = readArray(g.Fs, filepath.Join(dir, "output.txt"))
	if err != nil {
		t.Fatal(err)
	}
	return in, out
}

func TestReadFixturesUnchanged(t *testing.T) {
	g, _ := newGenerator(256)
	art := buildOne(t, g, generator.Job{Kernel: "alignedread", N: 1000, StrideUnrolls: 2, PortionUnrolls: 2, Testing: true})
	in, out := readFixtures(t, g, art)
	if len(in) != 1000 {
		t.Errorf("input holds %d values, want 1000", len(in))
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("read kernel changed memory (-in +out):\n%s", diff)
	}
}

func TestWriteFixturesZeroTouchedLanes(t *testing.T) {
	g, _ := newGenerator(256)
	// 1000 elements align down to 992 with stride 2, portion 2.
	art := buildOne(t, g, generator.Job{Kernel: "alignedwrite", N: 1000, StrideUnrolls: 2, PortionUnrolls: 2, Testing: true})
	if art.Identity.AlignedSize != 992 {
		t.Fatalf("aligned size = %d, want 992", art.Identity.AlignedSize)
	}
	in, out := readFixtures(t, g, art)
	for i := range out {
		if i < 992 {
			if out[i] != 0 {
				t.Fatalf("out[%d] = %v, want 0", i, out[i])
			}
		} else if out[i] != in[i] {
			t.Fatalf("out[%d] = %v changed past the aligned size", i, out[i])
		}
	}
}

func TestCopyFixturesDuplicateHalf(t *testing.T) {
	g, _ := newGenerator(256)
	art := buildOne(t, g, generator.Job{Kernel: "streamreadstreamwritecopy", N: 2000, StrideUnrolls: 1, PortionUnrolls: 2, Testing: true})
	trueI := art.Identity.AlignedSize / 2
	in, out := readFixtures(t, g, art)
	if diff := cmp.Diff(in[:trueI], out[trueI:2*trueI]); diff != "" {
		t.Errorf("output half is not a copy of the input half (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(in[:trueI], out[:trueI]); diff != "" {
		t.Errorf("input half changed (-want +got):\n%s", diff)
	}
}

func TestFixturesDeterministic(t *testing.T) {
	a := randomArray("alignedread_1_1_64_64", 64)
	b := randomArray("alignedread_1_1_64_64", 64)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same seed gave different fixtures")
	}
	for _, v := range a {
		if v < -5 || v >= 5 {
			t.Fatalf("fixture value %v out of range", v)
		}
	}
}
