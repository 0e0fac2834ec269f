package kernels

import (
	"context"

	"github.com/spf13/afero"

	"github.com/raymyers/multistride/pkg/asm"
	"github.com/raymyers/multistride/pkg/codegen"
	"github.com/raymyers/multistride/pkg/generator"
	"github.com/raymyers/multistride/pkg/naming"
	"github.com/raymyers/multistride/pkg/regalloc"
)

// DataCopy copies the first half of the array into the second half. The
// input half I holds trueI elements, the output half O starts trueI
// elements later, and the reported aligned size is 2*trueI.
type DataCopy struct {
	Kernel string
	Load   Op
	Store  Op
}

func (k *DataCopy) Name() string { return k.Kernel }

// Build implements generator.Kernel.
func (k *DataCopy) Build(ctx context.Context, env *generator.Env, job generator.Job) (*codegen.Artifact, error) {
	m := env.Machine
	s, p := job.StrideUnrolls, job.PortionUnrolls

	trueI, err := env.Align(job.N/2, job)
	if err != nil {
		return nil, err
	}
	trueN := 2 * trueI
	w := trueI / s
	portionValues := p * m.VectorElements()
	portionBytes, err := aligned(env, p*m.VectorBytes())
	if err != nil {
		return nil, err
	}
	outOffset, err := aligned(env, trueI*m.DTypeBytes)
	if err != nil {
		return nil, err
	}

	id := naming.Identity{Kernel: k.Kernel, Suffix: job.Suffix, StrideUnrolls: s, PortionUnrolls: p, NominalSize: job.N, AlignedSize: trueN}
	fixtures := func(fs afero.Fs, dataDir string) error {
		data := randomArray(naming.Encode(id), job.N)
		if err := writeArray(fs, fixturePath(dataDir, m.TestInput, "input.txt"), data); err != nil {
			return err
		}
		copy(data[trueI:trueN], data[:trueI])
		return writeArray(fs, fixturePath(dataDir, m.TestOutput, "output.txt"), data)
	}

	return codegen.Run(ctx, env.Options(id, job, fixtures), func(cc *codegen.Context) error {
		if err := bindEntry(cc); err != nil {
			return err
		}
		for _, v := range []string{"I", "O"} {
			if _, err := cc.GetRegister(codegen.Scalar, v, regalloc.DefaultColumn); err != nil {
				return err
			}
		}
		cc.Statement("movq", cc.Reg("D"), cc.Reg("I"))
		cc.Statement("leaq", cc.Mem(outOffset, "I"), cc.Reg("O"))

		loop, err := cc.For(asm.Imm(int64(w/portionValues)), func(*codegen.Loop) error {
			for i := 0; i < s; i++ {
				for j := 0; j < p; j++ {
					offset, err := aligned(env, i*w*m.DTypeBytes+j*m.VectorBytes())
					if err != nil {
						return err
					}
					vec, err := cc.GetRegister(codegen.Vector, "vec", regalloc.DefaultColumn)
					if err != nil {
						return err
					}
					emit(cc, k.Load, vec.Operand(), cc.Mem(offset, "I"))
					emit(cc, k.Store, vec.Operand(), cc.Mem(offset, "O"))
					if err := cc.UnsetVariable("vec"); err != nil {
						return err
					}
				}
			}
			cc.Statement("addq", asm.Imm(int64(portionBytes)), cc.Reg("I"))
			cc.Statement("addq", asm.Imm(int64(portionBytes)), cc.Reg("O"))
			return nil
		})
		if err != nil {
			return err
		}
		if err := loop.Release(); err != nil {
			return err
		}
		return unsetAll(cc, "D", "I", "O", "stack_ptr")
	})
}
