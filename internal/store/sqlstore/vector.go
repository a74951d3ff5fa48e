package sqlstore

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeVector writes a 4-byte little-endian dimension followed by the float32 values.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4+4*len(v))
	binary.LittleEndian.PutUint32(buf, uint32(len(v)))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("vector blob too short: %d bytes", len(b))
	}
	dim := int(binary.LittleEndian.Uint32(b))
	if len(b) != 4+4*dim {
		return nil, fmt.Errorf("vector blob size %d does not match dimension %d", len(b), dim)
	}
	out := make([]float32, dim)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4+4*i:]))
	}
	return out, nil
}

// cosine returns the cosine similarity of a and b, or 0 when they cannot be compared.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
