package config

import (
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/cpu"
	"gopkg.in/yaml.v3"
)

// VectorWidth is a vector width in bits. In YAML it is a number or "auto".
type VectorWidth int

// hasAVX512 is swapped out by tests.
var hasAVX512 = func() bool { return cpu.X86.HasAVX512F }

// DetectVectorBits returns 512 on hosts with AVX-512F, else 256.
func DetectVectorBits() int {
	if hasAVX512() {
		return 512
	}
	return 256
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (w *VectorWidth) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: vector_bits must be a number or auto", value.Line)
	}
	v, err := ParseVectorWidth(value.Value)
	if err != nil {
		return errors.Errorf("line %d: %v", value.Line, err)
	}
	*w = v
	return nil
}

// ParseVectorWidth parses "128", "256", "512" or "auto".
func ParseVectorWidth(s string) (VectorWidth, error) {
	if s == "auto" {
		return VectorWidth(DetectVectorBits()), nil
	}
	bits, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Errorf("vector width %q is not a number or auto", s)
	}
	return VectorWidth(bits), nil
}
