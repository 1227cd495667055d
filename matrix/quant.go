package matrix

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hupe1980/lingvec/internal/math32"
	"github.com/hupe1980/lingvec/quantization"
)

// QuantMatrix stores a product-quantized matrix: per-row codebook indexes
// plus (optionally) separately quantized row norms. It is read-only;
// training writes are not supported.
type QuantMatrix struct {
	rows int64
	cols int64

	qnorm     bool
	codesize  int32
	codes     []uint8
	normCodes []uint8

	pq  *quantization.ProductQuantizer
	npq *quantization.ProductQuantizer
}

// NewQuantMatrix quantizes a dense matrix with dsub-sized sub-vectors.
// With qnorm, rows are normalized before quantization and their norms
// quantized separately.
func NewQuantMatrix(dense *DenseMatrix, dsub int32, qnorm bool) (*QuantMatrix, error) {
	q := &QuantMatrix{
		rows:  dense.Rows(),
		cols:  dense.Cols(),
		qnorm: qnorm,
	}
	q.codesize = int32(q.rows) * ((int32(q.cols) + dsub - 1) / dsub)
	q.codes = make([]uint8, q.codesize)
	q.pq = quantization.New(int32(q.cols), dsub)

	data := dense.Data()
	if qnorm {
		q.normCodes = make([]uint8, q.rows)
		q.npq = quantization.New(1, 1)

		norms := make([]float32, q.rows)
		dense.L2NormRows(norms)
		for i := int64(0); i < q.rows; i++ {
			if norms[i] != 0 {
				math32.ScaleInPlace(dense.Row(i), 1/norms[i])
			}
		}
		if err := q.npq.Train(norms, int32(q.rows)); err != nil {
			return nil, err
		}
		q.npq.ComputeCodes(norms, q.normCodes, int32(q.rows))
	}

	if err := q.pq.Train(data, int32(q.rows)); err != nil {
		return nil, err
	}
	q.pq.ComputeCodes(data, q.codes, int32(q.rows))

	return q, nil
}

// NewEmptyQuantMatrix returns a shell for Load.
func NewEmptyQuantMatrix() *QuantMatrix {
	return &QuantMatrix{
		pq:  quantization.NewEmpty(),
		npq: quantization.NewEmpty(),
	}
}

func (q *QuantMatrix) Rows() int64 { return q.rows }
func (q *QuantMatrix) Cols() int64 { return q.cols }

func (q *QuantMatrix) rowCodes(i int64) []uint8 {
	perRow := int64(q.pq.NSubq())

	return q.codes[i*perRow : (i+1)*perRow]
}

func (q *QuantMatrix) rowNorm(i int64) float32 {
	if !q.qnorm {
		return 1
	}

	return q.npq.Centroid(0, q.normCodes[i])[0]
}

// DotRow returns vec · decode(row(i)).
func (q *QuantMatrix) DotRow(vec []float32, i int64) float32 {
	return q.pq.MulCode(vec, q.rowCodes(i), q.rowNorm(i))
}

// AddVectorToRow is unsupported: quantized matrices are frozen.
func (q *QuantMatrix) AddVectorToRow([]float32, int64, float32) {
	panic("matrix: cannot write to a quantized matrix")
}

// AddRowToVector adds a*decode(row(i)) into x.
func (q *QuantMatrix) AddRowToVector(x []float32, i int64, a float32) {
	q.pq.AddCode(x, q.rowCodes(i), a*q.rowNorm(i))
}

// Save writes the quantized matrix blob.
func (q *QuantMatrix) Save(w io.Writer) error {
	if err := binary.Write(w, byteOrder, q.qnorm); err != nil {
		return fmt.Errorf("save quant matrix: %w", err)
	}
	for _, v := range []int64{q.rows, q.cols} {
		if err := binary.Write(w, byteOrder, v); err != nil {
			return fmt.Errorf("save quant matrix: %w", err)
		}
	}
	if err := binary.Write(w, byteOrder, q.codesize); err != nil {
		return fmt.Errorf("save quant matrix: %w", err)
	}
	if err := binary.Write(w, byteOrder, q.codes); err != nil {
		return fmt.Errorf("save quant matrix: %w", err)
	}
	if err := q.pq.Save(w); err != nil {
		return err
	}
	if q.qnorm {
		if err := binary.Write(w, byteOrder, q.normCodes); err != nil {
			return fmt.Errorf("save quant matrix: %w", err)
		}
		if err := q.npq.Save(w); err != nil {
			return err
		}
	}

	return nil
}

// Load reads a blob written by Save.
func (q *QuantMatrix) Load(r io.Reader) error {
	if err := binary.Read(r, byteOrder, &q.qnorm); err != nil {
		return fmt.Errorf("load quant matrix: %w", err)
	}
	for _, v := range []*int64{&q.rows, &q.cols} {
		if err := binary.Read(r, byteOrder, v); err != nil {
			return fmt.Errorf("load quant matrix: %w", err)
		}
	}
	if err := binary.Read(r, byteOrder, &q.codesize); err != nil {
		return fmt.Errorf("load quant matrix: %w", err)
	}
	q.codes = make([]uint8, q.codesize)
	if err := binary.Read(r, byteOrder, q.codes); err != nil {
		return fmt.Errorf("load quant matrix: %w", err)
	}
	if err := q.pq.Load(r); err != nil {
		return err
	}
	if q.qnorm {
		q.normCodes = make([]uint8, q.rows)
		if err := binary.Read(r, byteOrder, q.normCodes); err != nil {
			return fmt.Errorf("load quant matrix: %w", err)
		}
		if err := q.npq.Load(r); err != nil {
			return err
		}
	}

	return nil
}
