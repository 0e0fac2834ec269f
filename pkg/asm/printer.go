package asm

import (
	"fmt"
	"io"
	"strings"
)

// Printer outputs x86-64 assembly in GNU as syntax
type Printer struct {
	w   io.Writer
	f   Format
	err error
}

// NewPrinter creates a printer using DefaultFormat.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, f: DefaultFormat}
}

// WithFormat returns a printer writing to the same destination with f.
func (p *Printer) WithFormat(f Format) *Printer {
	return &Printer{w: p.w, f: f}
}

// Err returns the first write error, if any.
func (p *Printer) Err() error {
	return p.err
}

func (p *Printer) line(s string) {
	if p.err != nil {
		return
	}
	_, p.err = io.WriteString(p.w, s+"\n")
}

func (p *Printer) directive(format string, args ...interface{}) {
	p.line(p.f.Directive(fmt.Sprintf(format, args...)))
}

// PrintProgram outputs an entire translation unit.
func (p *Printer) PrintProgram(prog *Program) error {
	p.printFunction(prog)
	for _, d := range prog.Data {
		p.printData(d)
	}
	p.directive(`.section .note.GNU-stack, ""`)
	return p.err
}

func (p *Printer) printFunction(prog *Program) {
	p.directive(".file %q", prog.Source)
	p.directive(".text")
	p.directive(".align    16,0x90")
	p.directive(".globl %s", prog.Entry)
	p.line(p.f.Label(prog.Entry))
	p.line(p.f.Label(LocalLabel(prog.EntryLabel)))
	p.directive(".cfi_startproc")

	for _, section := range [][]string{prog.Prologue, prog.Body, prog.Epilogue} {
		for _, l := range section {
			p.line(l)
		}
	}

	p.directive(".cfi_endproc")
	p.directive(".type\t%s,@function", prog.Entry)
	p.directive(".size\t%s,.-%s", prog.Entry, prog.Entry)
}

func (p *Printer) printData(d DataObject) {
	p.directive(".data")
	if d.Align > 1 {
		p.directive(".align %d", d.Align)
	}
	p.directive(".global %s", d.Name)
	p.line(p.f.Label(d.Name))
	if len(d.Longs) > 0 {
		words := make([]string, len(d.Longs))
		for i, w := range d.Longs {
			words[i] = fmt.Sprintf("%#x", w)
		}
		p.directive(".long\t%s", strings.Join(words, ","))
	}
	p.directive(".type\t%s,@object", d.Name)
	p.directive(".size\t%s,%d", d.Name, d.Size())
}

// Text renders prog with format f.
func Text(prog *Program, f Format) string {
	var sb strings.Builder
	// strings.Builder never fails a write
	_ = NewPrinter(&sb).WithFormat(f).PrintProgram(prog)
	return sb.String()
}
