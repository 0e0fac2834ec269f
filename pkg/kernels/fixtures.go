package kernels

import (
	"bytes"
	"encoding/binary"
	"hash/fnv"
	"math/rand"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// randomArray returns n values in [-5, 5) with one decimal, seeded by seed
// so the same artifact always gets the same fixtures.
func randomArray(seed string, n int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(seed))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	out := make([]float32, n)
	for i := range out {
		out[i] = float32(rng.Intn(100))/10 - 5
	}
	return out
}

// writeArray stores values as packed little-endian float32.
func writeArray(fs afero.Fs, path string, values []float32) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, values); err != nil {
		return errors.Wrap(err, "encoding fixture")
	}
	if err := afero.WriteFile(fs, path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

// readArray is the inverse of writeArray.
func readArray(fs afero.Fs, path string) ([]float32, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(data)/4)
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, out); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	return out, nil
}

func fixturePath(dir, name, fallback string) string {
	if name == "" {
		name = fallback
	}
	return filepath.Join(dir, name)
}
