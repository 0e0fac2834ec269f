package generator

import (
	"github.com/raymyers/multistride/pkg/align"
	"github.com/raymyers/multistride/pkg/codegen"
)

// Machine holds the constants a sweep is generated for.
type Machine struct {
	Name       string
	Root       string // directory holding resources/
	Experiment string
	Entry      string
	DTypeBytes int
	VectorBits int
	PageBytes  int
	TestInput  string
	TestOutput string
}

// VectorBytes returns the vector width in bytes.
func (m Machine) VectorBytes() int { return m.VectorBits / 8 }

// VectorElements returns the vector width in elements.
func (m Machine) VectorElements() int { return align.VectorElements(m.VectorBits, m.DTypeBytes) }

// PageElements returns the page size in elements.
func (m Machine) PageElements() int { return align.PageElements(m.PageBytes, m.DTypeBytes) }

// Layout returns the artifact layout of kernel.
func (m Machine) Layout(kernel string) codegen.Layout {
	return codegen.Layout{Root: m.Root, Machine: m.Name, Experiment: m.Experiment, Kernel: kernel}
}
