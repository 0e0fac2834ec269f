package asm

import "strings"

// Format controls statement layout. The zero value is not useful; start from
// DefaultFormat.
type Format struct {
	Indent          string // prefix of instruction lines
	DirectiveIndent string // prefix of assembler directives
	MnemonicWidth   int    // column the first operand starts at
}

// DefaultFormat matches the layout of the generated kernels: eight-space
// instruction indent and operands starting at column 10 after the mnemonic.
var DefaultFormat = Format{
	Indent:          "        ",
	DirectiveIndent: "    ",
	MnemonicWidth:   10,
}

// Statement formats one instruction line. The mnemonic is padded to the
// mnemonic width with at least one space before the operands.
func (f Format) Statement(mnemonic string, operands ...string) string {
	return f.Indent + f.bare(mnemonic, operands)
}

// Unindented formats a statement without the instruction indent.
func (f Format) Unindented(mnemonic string, operands ...string) string {
	return f.bare(mnemonic, operands)
}

// Label formats a label definition.
func (f Format) Label(name string) string {
	return name + ":"
}

// Directive formats an assembler directive such as ".text".
func (f Format) Directive(text string) string {
	return f.DirectiveIndent + text
}

func (f Format) bare(mnemonic string, operands []string) string {
	if len(operands) == 0 {
		return mnemonic
	}
	pad := f.MnemonicWidth - len(mnemonic)
	if pad < 1 {
		pad = 1
	}
	return mnemonic + strings.Repeat(" ", pad) + strings.Join(operands, ", ")
}
