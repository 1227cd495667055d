// Package matrix provides the two embedding stores of the model: a dense
// row-major float32 matrix updated in place during training, and a
// product-quantized variant used for compressed deployment.
package matrix

import "io"

// Matrix is the read/write surface shared by dense and quantized stores.
type Matrix interface {
	Rows() int64
	Cols() int64

	// DotRow returns vec · row(i).
	DotRow(vec []float32, i int64) float32

	// AddVectorToRow adds a*vec into row(i). Unsupported on quantized
	// matrices.
	AddVectorToRow(vec []float32, i int64, a float32)

	// AddRowToVector adds a*row(i) into x.
	AddRowToVector(x []float32, i int64, a float32)

	Save(w io.Writer) error
	Load(r io.Reader) error
}
