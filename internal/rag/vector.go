package rag

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Embeddings are stored as a 4-byte little-endian dimension followed by the
// float32 values, little-endian.
const dimHeaderSize = 4

func marshalEmbedding(vec []float32) ([]byte, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("marshal embedding: empty vector")
	}
	if uint64(len(vec)) > math.MaxUint32 {
		return nil, fmt.Errorf("marshal embedding: dimension too large: %d", len(vec))
	}

	buf := make([]byte, dimHeaderSize+4*len(vec))
	binary.LittleEndian.PutUint32(buf, uint32(len(vec)))
	for i, v := range vec {
		if !finite(v) {
			return nil, fmt.Errorf("marshal embedding: non-finite value at %d", i)
		}
		binary.LittleEndian.PutUint32(buf[dimHeaderSize+4*i:], math.Float32bits(v))
	}
	return buf, nil
}

func unmarshalEmbedding(blob []byte) ([]float32, error) {
	if len(blob) < dimHeaderSize {
		return nil, fmt.Errorf("unmarshal embedding: blob too short: %d bytes", len(blob))
	}
	dim := int(binary.LittleEndian.Uint32(blob))
	if dim == 0 {
		return nil, fmt.Errorf("unmarshal embedding: zero dimension")
	}
	if want := dimHeaderSize + 4*dim; len(blob) != want {
		return nil, fmt.Errorf("unmarshal embedding: dim=%d needs %d bytes, got %d", dim, want, len(blob))
	}

	vec := make([]float32, dim)
	for i := range vec {
		v := math.Float32frombits(binary.LittleEndian.Uint32(blob[dimHeaderSize+4*i:]))
		if !finite(v) {
			return nil, fmt.Errorf("unmarshal embedding: non-finite value at %d", i)
		}
		vec[i] = v
	}
	return vec, nil
}

// cosine returns the cosine similarity of a and b, clamped to [-1, 1].
func cosine(a, b []float32) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, fmt.Errorf("cosine: dimension mismatch %d vs %d", len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, fmt.Errorf("cosine: zero-norm vector")
	}
	return math.Max(-1, math.Min(1, dot/(math.Sqrt(na)*math.Sqrt(nb)))), nil
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
