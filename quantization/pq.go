// Package quantization implements the product quantizer used to compress
// embedding matrices: each row is split into fixed-size sub-vectors, each
// sub-vector replaced by the index of its nearest codebook centroid.
package quantization

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand"

	"github.com/hupe1980/lingvec/internal/math32"
)

const (
	nbits = 8
	ksub  = 1 << nbits

	maxPointsPerCluster = 256
	maxPoints           = maxPointsPerCluster * ksub

	seed  = 1234
	niter = 25
)

// ProductQuantizer learns one codebook of 256 centroids per sub-vector
// slice of the input dimension.
type ProductQuantizer struct {
	dim      int32
	nsubq    int32
	dsub     int32
	lastdsub int32

	centroids []float32

	rng *rand.Rand
}

// New creates a quantizer for vectors of the given dimension split into
// dsub-sized sub-vectors. A trailing shorter sub-vector is allowed.
func New(dim, dsub int32) *ProductQuantizer {
	pq := &ProductQuantizer{
		dim:  dim,
		dsub: dsub,
		rng:  rand.New(rand.NewSource(seed)),
	}
	pq.nsubq = (dim + dsub - 1) / dsub
	pq.lastdsub = dim % dsub
	if pq.lastdsub == 0 {
		pq.lastdsub = dsub
	}
	pq.centroids = make([]float32, int(dim)*ksub)

	return pq
}

// NewEmpty returns a quantizer shell for Load.
func NewEmpty() *ProductQuantizer {
	return &ProductQuantizer{rng: rand.New(rand.NewSource(seed))}
}

// Dim returns the quantized vector dimension.
func (pq *ProductQuantizer) Dim() int32 { return pq.dim }

// NSubq returns the number of sub-quantizers per vector.
func (pq *ProductQuantizer) NSubq() int32 { return pq.nsubq }

func (pq *ProductQuantizer) subDim(m int32) int32 {
	if m == pq.nsubq-1 {
		return pq.lastdsub
	}

	return pq.dsub
}

// Centroid returns the backing slice of centroid i of sub-quantizer m.
func (pq *ProductQuantizer) Centroid(m int32, i uint8) []float32 {
	d := pq.subDim(m)
	start := int(m)*ksub*int(pq.dsub) + int(i)*int(d)

	return pq.centroids[start : start+int(d)]
}

// Train learns the codebooks from n training vectors laid out row-major in
// x. At most 256 points per centroid are sampled.
func (pq *ProductQuantizer) Train(x []float32, n int32) error {
	if n < ksub {
		return fmt.Errorf("quantization: matrix too small for training, must have at least %d rows", ksub)
	}

	np := n
	if np > maxPoints {
		np = maxPoints
	}
	perm := pq.rng.Perm(int(n))

	xslice := make([]float32, int(np)*int(pq.dsub))
	for m := int32(0); m < pq.nsubq; m++ {
		d := pq.subDim(m)
		for j := int32(0); j < np; j++ {
			src := int32(perm[j])*pq.dim + m*pq.dsub
			copy(xslice[int32(j)*d:(int32(j)+1)*d], x[src:src+d])
		}
		pq.kmeans(xslice[:int(np)*int(d)], np, d, m)
	}

	return nil
}

// kmeans runs Lloyd's algorithm over np points of dimension d, writing the
// resulting ksub centroids into sub-quantizer m's codebook.
func (pq *ProductQuantizer) kmeans(x []float32, np, d, m int32) {
	perm := pq.rng.Perm(int(np))
	for i := 0; i < ksub; i++ {
		copy(pq.Centroid(m, uint8(i)), x[int32(perm[i])*d:(int32(perm[i])+1)*d])
	}

	assignments := make([]int, np)
	counts := make([]int32, ksub)
	sums := make([]float32, ksub*int(d))

	for iter := 0; iter < niter; iter++ {
		changed := false
		for i := int32(0); i < np; i++ {
			vec := x[i*d : (i+1)*d]
			best := pq.assignCentroid(vec, m)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		math32.Zero(sums)
		for i := range counts {
			counts[i] = 0
		}
		for i := int32(0); i < np; i++ {
			c := int32(assignments[i])
			counts[c]++
			math32.Add(sums[c*d:(c+1)*d], x[i*d:(i+1)*d])
		}
		for c := 0; c < ksub; c++ {
			centroid := pq.Centroid(m, uint8(c))
			if counts[c] > 0 {
				scale := 1.0 / float32(counts[c])
				for j := int32(0); j < d; j++ {
					centroid[j] = sums[int32(c)*d+j] * scale
				}
			} else {
				// Re-seed empty clusters from a random point.
				idx := int32(pq.rng.Intn(int(np)))
				copy(centroid, x[idx*d:(idx+1)*d])
			}
		}
	}
}

func (pq *ProductQuantizer) assignCentroid(vec []float32, m int32) int {
	best := 0
	minDist := float32(math.MaxFloat32)
	for c := 0; c < ksub; c++ {
		dist := math32.SquaredL2(vec, pq.Centroid(m, uint8(c)))
		if dist < minDist {
			minDist = dist
			best = c
		}
	}

	return best
}

// ComputeCode quantizes one vector into nsubq codebook indexes.
func (pq *ProductQuantizer) ComputeCode(x []float32, code []uint8) {
	for m := int32(0); m < pq.nsubq; m++ {
		d := pq.subDim(m)
		sub := x[m*pq.dsub : m*pq.dsub+d]
		code[m] = uint8(pq.assignCentroid(sub, m))
	}
}

// ComputeCodes quantizes n row-major vectors.
func (pq *ProductQuantizer) ComputeCodes(x []float32, codes []uint8, n int32) {
	for i := int32(0); i < n; i++ {
		pq.ComputeCode(x[i*pq.dim:(i+1)*pq.dim], codes[i*pq.nsubq:(i+1)*pq.nsubq])
	}
}

// MulCode returns alpha * (x · decode(code)).
func (pq *ProductQuantizer) MulCode(x []float32, code []uint8, alpha float32) float32 {
	var res float32
	for m := int32(0); m < pq.nsubq; m++ {
		d := pq.subDim(m)
		sub := x[m*pq.dsub : m*pq.dsub+d]
		res += math32.Dot(sub, pq.Centroid(m, code[m]))
	}

	return res * alpha
}

// AddCode adds alpha * decode(code) into x.
func (pq *ProductQuantizer) AddCode(x []float32, code []uint8, alpha float32) {
	for m := int32(0); m < pq.nsubq; m++ {
		d := pq.subDim(m)
		sub := x[m*pq.dsub : m*pq.dsub+d]
		math32.AddScaled(sub, pq.Centroid(m, code[m]), alpha)
	}
}

var byteOrder = binary.LittleEndian

// Save writes the codebook blob.
func (pq *ProductQuantizer) Save(w io.Writer) error {
	for _, v := range []int32{pq.dim, pq.nsubq, pq.dsub, pq.lastdsub} {
		if err := binary.Write(w, byteOrder, v); err != nil {
			return fmt.Errorf("save quantizer: %w", err)
		}
	}
	if err := binary.Write(w, byteOrder, pq.centroids); err != nil {
		return fmt.Errorf("save quantizer: %w", err)
	}

	return nil
}

// Load reads a codebook blob written by Save.
func (pq *ProductQuantizer) Load(r io.Reader) error {
	for _, v := range []*int32{&pq.dim, &pq.nsubq, &pq.dsub, &pq.lastdsub} {
		if err := binary.Read(r, byteOrder, v); err != nil {
			return fmt.Errorf("load quantizer: %w", err)
		}
	}
	pq.centroids = make([]float32, int(pq.dim)*ksub)
	if err := binary.Read(r, byteOrder, pq.centroids); err != nil {
		return fmt.Errorf("load quantizer: %w", err)
	}

	return nil
}
