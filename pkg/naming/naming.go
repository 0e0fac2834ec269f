// Package naming maps a kernel configuration to the artifact name used as
// its filesystem key, and recovers the configuration from such a name.
package naming

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Separator joins the fields of an artifact name.
const Separator = "_"

var (
	strictName  = regexp.MustCompile(`^([0-9a-zA-Z\-]+)_([0-9]+)_([0-9]+)_([0-9]+)_([0-9]+)$`)
	lenientName = regexp.MustCompile(`^([0-9a-zA-Z\-]+)_([0-9]+)$`)
	codePart    = regexp.MustCompile(`^[0-9a-zA-Z\-]*$`)
)

// Identity is the configuration tuple an artifact name encodes.
type Identity struct {
	Kernel         string
	Suffix         string
	StrideUnrolls  int
	PortionUnrolls int
	NominalSize    int
	AlignedSize    int
}

// Code returns the kernel name joined with the optional suffix.
func (id Identity) Code() string {
	if id.Suffix == "" {
		return id.Kernel
	}
	return id.Kernel + "-" + id.Suffix
}

// TotalUnrolls is the product of stride and portion unrolls.
func (id Identity) TotalUnrolls() int {
	return id.StrideUnrolls * id.PortionUnrolls
}

// Validate reports whether the identity survives an Encode/Decode round trip.
func (id Identity) Validate() error {
	if id.Kernel == "" {
		return errors.Errorf("empty kernel name")
	}
	if strings.Contains(id.Kernel, "-") || !codePart.MatchString(id.Kernel) {
		return errors.Errorf("kernel name %q must be alphanumeric", id.Kernel)
	}
	if !codePart.MatchString(id.Suffix) {
		return errors.Errorf("suffix %q may only hold letters, digits and dashes", id.Suffix)
	}
	if id.StrideUnrolls <= 0 || id.PortionUnrolls <= 0 {
		return errors.Errorf("unrolls must be positive, got %d/%d", id.StrideUnrolls, id.PortionUnrolls)
	}
	if id.NominalSize < 0 || id.AlignedSize < 0 {
		return errors.Errorf("sizes must be non-negative, got %d/%d", id.NominalSize, id.AlignedSize)
	}
	return nil
}

// Encode returns kernel[-suffix]_<total>_<stride>_<nominal>_<aligned>.
func Encode(id Identity) string {
	return strings.Join([]string{
		id.Code(),
		strconv.Itoa(id.TotalUnrolls()),
		strconv.Itoa(id.StrideUnrolls),
		strconv.Itoa(id.NominalSize),
		strconv.Itoa(id.AlignedSize),
	}, Separator)
}

// File returns the encoded name with an extension, e.g. "x_1_1_8_8.s".
func File(id Identity, ext string) string {
	if ext == "" {
		return Encode(id)
	}
	return Encode(id) + "." + ext
}

// Decoded is the result of parsing an artifact name.
// Partial is set when only the lenient code_aligned form matched; the
// unroll and nominal size fields are then zero.
type Decoded struct {
	Code           string
	Kernel         string
	Suffix         string
	TotalUnrolls   int
	StrideUnrolls  int
	PortionUnrolls int
	NominalSize    int
	AlignedSize    int
	Partial        bool
}

// Identity converts a full decode back into the tuple it was encoded from.
func (d Decoded) Identity() Identity {
	return Identity{
		Kernel:         d.Kernel,
		Suffix:         d.Suffix,
		StrideUnrolls:  d.StrideUnrolls,
		PortionUnrolls: d.PortionUnrolls,
		NominalSize:    d.NominalSize,
		AlignedSize:    d.AlignedSize,
	}
}

func (d Decoded) String() string {
	if d.Partial {
		return fmt.Sprintf("code=%s aligned=%d", d.Code, d.AlignedSize)
	}
	return fmt.Sprintf("code=%s total=%d stride=%d portion=%d nominal=%d aligned=%d",
		d.Code, d.TotalUnrolls, d.StrideUnrolls, d.PortionUnrolls, d.NominalSize, d.AlignedSize)
}

// Decode parses name. Leading directories and everything from the first dot
// on are ignored, so result and binary paths decode like bare names.
// ok is false when neither the full nor the lenient form matches.
func Decode(name string) (d Decoded, ok bool) {
	base := path.Base(name)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}

	if m := strictName.FindStringSubmatch(base); m != nil {
		nums, ok := atoiAll(m[2:])
		if !ok {
			return Decoded{}, false
		}
		d = Decoded{
			TotalUnrolls:  nums[0],
			StrideUnrolls: nums[1],
			NominalSize:   nums[2],
			AlignedSize:   nums[3],
		}
		if d.StrideUnrolls > 0 {
			d.PortionUnrolls = d.TotalUnrolls / d.StrideUnrolls
		}
		d.setCode(m[1])
		return d, true
	}

	if m := lenientName.FindStringSubmatch(base); m != nil {
		nums, ok := atoiAll(m[2:])
		if !ok {
			return Decoded{}, false
		}
		d = Decoded{AlignedSize: nums[0], Partial: true}
		d.setCode(m[1])
		return d, true
	}
	return Decoded{}, false
}

func (d *Decoded) setCode(code string) {
	d.Code = code
	d.Kernel, d.Suffix, _ = strings.Cut(code, "-")
}

func atoiAll(fields []string) ([]int, bool) {
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}
