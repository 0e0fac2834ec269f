package kernels

import (
	"context"
	"strconv"

	"github.com/spf13/afero"

	"github.com/raymyers/multistride/pkg/asm"
	"github.com/raymyers/multistride/pkg/codegen"
	"github.com/raymyers/multistride/pkg/generator"
	"github.com/raymyers/multistride/pkg/naming"
	"github.com/raymyers/multistride/pkg/regalloc"
)

// unalignedShift is the byte offset applied by the unaligned kernels.
const unalignedShift = 4

// DataMovement streams one array through the vector unit, reading or
// writing every element once.
//
// The array of trueN elements is split into StrideUnrolls partitions of W
// elements. Each iteration touches PortionUnrolls vectors of every
// partition, grouped by partition unless Interleaved is set.
type DataMovement struct {
	Kernel      string
	Op          Op
	Writes      bool // fixtures expect the touched lanes zeroed
	Unaligned   bool // shift every access by unalignedShift bytes
	Interleaved bool // portion-major access order
	ZeroInit    bool // zero every vector register first when testing
}

func (k *DataMovement) Name() string { return k.Kernel }

type movementShape struct {
	n, trueN, w   int
	stride, portn int
}

func (k *DataMovement) shape(env *generator.Env, job generator.Job) (movementShape, error) {
	n := job.N
	if k.Unaligned {
		n += unalignedShift
	}
	trueN, err := env.Align(n, job)
	if err != nil {
		return movementShape{}, err
	}
	return movementShape{n: n, trueN: trueN, w: trueN / job.StrideUnrolls, stride: job.StrideUnrolls, portn: job.PortionUnrolls}, nil
}

// Build implements generator.Kernel.
func (k *DataMovement) Build(ctx context.Context, env *generator.Env, job generator.Job) (*codegen.Artifact, error) {
	sh, err := k.shape(env, job)
	if err != nil {
		return nil, err
	}
	if k.Unaligned {
		bumpDefine(env, job, "N", unalignedShift)
	}

	m := env.Machine
	portionValues := sh.portn * m.VectorElements()
	portionBytes, err := aligned(env, sh.portn*m.VectorBytes())
	if err != nil {
		return nil, err
	}

	id := naming.Identity{
		Kernel:         k.Kernel,
		Suffix:         job.Suffix,
		StrideUnrolls:  sh.stride,
		PortionUnrolls: sh.portn,
		NominalSize:    sh.n,
		AlignedSize:    sh.trueN,
	}
	fixtures := func(fs afero.Fs, dataDir string) error {
		return k.writeFixtures(fs, dataDir, m, sh, naming.Encode(id))
	}

	return codegen.Run(ctx, env.Options(id, job, fixtures), func(cc *codegen.Context) error {
		if err := bindEntry(cc); err != nil {
			return err
		}
		if k.ZeroInit && cc.Testing() {
			zeroVectorRegisters(cc)
		}

		if _, err := cc.GetRegister(codegen.Scalar, "Dp", regalloc.DefaultColumn); err != nil {
			return err
		}
		cc.Statement("movq", cc.Reg("D"), cc.Reg("Dp"))

		loop, err := cc.For(asm.Imm(int64(sh.w/portionValues)), func(*codegen.Loop) error {
			for _, ij := range k.order(sh) {
				offset := ij[0]*sh.w*m.DTypeBytes + ij[1]*m.VectorBytes()
				if k.Unaligned {
					offset += unalignedShift
				} else if _, err := aligned(env, offset); err != nil {
					return err
				}
				vec, err := cc.GetRegister(codegen.Vector, "vec", regalloc.DefaultColumn)
				if err != nil {
					return err
				}
				emit(cc, k.Op, vec.Operand(), cc.Mem(offset, "Dp"))
				if err := cc.UnsetVariable("vec"); err != nil {
					return err
				}
			}
			cc.Statement("addq", asm.Imm(int64(portionBytes)), cc.Reg("Dp"))
			return nil
		})
		if err != nil {
			return err
		}
		if err := loop.Release(); err != nil {
			return err
		}
		return unsetAll(cc, "D", "Dp", "stack_ptr")
	})
}

// order lists (partition, portion) pairs in access order.
func (k *DataMovement) order(sh movementShape) [][2]int {
	var out [][2]int
	if k.Interleaved {
		for j := 0; j < sh.portn; j++ {
			for i := 0; i < sh.stride; i++ {
				out = append(out, [2]int{i, j})
			}
		}
		return out
	}
	for i := 0; i < sh.stride; i++ {
		for j := 0; j < sh.portn; j++ {
			out = append(out, [2]int{i, j})
		}
	}
	return out
}

func (k *DataMovement) writeFixtures(fs afero.Fs, dataDir string, m generator.Machine, sh movementShape, seed string) error {
	data := randomArray(seed, sh.n)
	if err := writeArray(fs, fixturePath(dataDir, m.TestInput, "input.txt"), data); err != nil {
		return err
	}
	if k.Writes {
		shift := 0
		if k.Unaligned {
			shift = unalignedShift / m.DTypeBytes
		}
		portionValues := sh.portn * m.VectorElements()
		for it := 0; it < sh.w/portionValues; it++ {
			for i := 0; i < sh.stride; i++ {
				for j := 0; j < portionValues; j++ {
					if idx := it*portionValues + i*sh.w + j + shift; idx < len(data) {
						data[idx] = 0
					}
				}
			}
		}
	}
	return writeArray(fs, fixturePath(dataDir, m.TestOutput, "output.txt"), data)
}

// zeroVectorRegisters clears the first vector register and copies it into
// every other one of the set.
func zeroVectorRegisters(cc *codegen.Context) {
	names := cc.Allocator(codegen.Vector).Set().Names()
	first := "%" + names[0]
	cc.Statement("vxorps", first, first, first)
	for i := 1; i < len(names); i++ {
		cc.Statement("vmovaps", "%"+names[i-1], "%"+names[i])
	}
}

// bumpDefine adds delta to an integer define of the job, falling back to
// the job size when the define is absent.
func bumpDefine(env *generator.Env, job generator.Job, name string, delta int) {
	v := job.N
	if s, ok := job.Defines[name]; ok {
		if parsed, err := strconv.Atoi(s); err == nil {
			v = parsed
		}
	}
	env.Define(name, v+delta)
}
