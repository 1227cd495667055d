package matrix

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"

	"github.com/hupe1980/lingvec/internal/math32"
)

// DenseMatrix is a row-major float32 matrix. During training its cells are
// written concurrently without locks (hogwild); lost updates are tolerated
// by design and per-row locking must not be added.
type DenseMatrix struct {
	rows int64
	cols int64
	data []float32
}

// NewDenseMatrix allocates a zeroed rows×cols matrix.
func NewDenseMatrix(rows, cols int64) *DenseMatrix {
	return &DenseMatrix{
		rows: rows,
		cols: cols,
		data: make([]float32, rows*cols),
	}
}

func (m *DenseMatrix) Rows() int64 { return m.rows }
func (m *DenseMatrix) Cols() int64 { return m.cols }

// Row returns the backing slice of row i.
func (m *DenseMatrix) Row(i int64) []float32 {
	return m.data[i*m.cols : (i+1)*m.cols]
}

// Data returns the backing storage.
func (m *DenseMatrix) Data() []float32 { return m.data }

// Zero clears the matrix.
func (m *DenseMatrix) Zero() {
	math32.Zero(m.data)
}

// Uniform fills the matrix with values drawn from [-a, a).
func (m *DenseMatrix) Uniform(a float32, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range m.data {
		m.data[i] = (rng.Float32()*2 - 1) * a
	}
}

// DotRow returns vec · row(i).
func (m *DenseMatrix) DotRow(vec []float32, i int64) float32 {
	return math32.Dot(vec, m.Row(i))
}

// AddVectorToRow adds a*vec into row(i).
func (m *DenseMatrix) AddVectorToRow(vec []float32, i int64, a float32) {
	math32.AddScaled(m.Row(i), vec, a)
}

// AddRowToVector adds a*row(i) into x.
func (m *DenseMatrix) AddRowToVector(x []float32, i int64, a float32) {
	math32.AddScaled(x, m.Row(i), a)
}

// L2NormRow returns the L2 norm of row i.
func (m *DenseMatrix) L2NormRow(i int64) float32 {
	return math32.Norm(m.Row(i))
}

// L2NormRows fills norms with per-row L2 norms.
func (m *DenseMatrix) L2NormRows(norms []float32) {
	for i := int64(0); i < m.rows; i++ {
		norms[i] = m.L2NormRow(i)
	}
}

// HasNaN reports whether any cell is NaN.
func (m *DenseMatrix) HasNaN() bool {
	return math32.HasNaN(m.data)
}

var byteOrder = binary.LittleEndian

// Save writes the matrix: int64 rows, int64 cols, raw little-endian cells.
func (m *DenseMatrix) Save(w io.Writer) error {
	if err := binary.Write(w, byteOrder, m.rows); err != nil {
		return fmt.Errorf("save matrix: %w", err)
	}
	if err := binary.Write(w, byteOrder, m.cols); err != nil {
		return fmt.Errorf("save matrix: %w", err)
	}
	if err := binary.Write(w, byteOrder, m.data); err != nil {
		return fmt.Errorf("save matrix: %w", err)
	}

	return nil
}

// Load reads a matrix written by Save.
func (m *DenseMatrix) Load(r io.Reader) error {
	if err := binary.Read(r, byteOrder, &m.rows); err != nil {
		return fmt.Errorf("load matrix: %w", err)
	}
	if err := binary.Read(r, byteOrder, &m.cols); err != nil {
		return fmt.Errorf("load matrix: %w", err)
	}
	m.data = make([]float32, m.rows*m.cols)
	if err := binary.Read(r, byteOrder, m.data); err != nil {
		return fmt.Errorf("load matrix: %w", err)
	}

	return nil
}

// Dump writes "rows cols" then one row of cell values per line.
func (m *DenseMatrix) Dump(w io.Writer) {
	fmt.Fprintf(w, "%d %d\n", m.rows, m.cols)
	for i := int64(0); i < m.rows; i++ {
		row := m.Row(i)
		for j, v := range row {
			if j > 0 {
				fmt.Fprint(w, " ")
			}
			fmt.Fprintf(w, "%g", v)
		}
		fmt.Fprintln(w)
	}
}
