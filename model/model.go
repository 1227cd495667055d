// Package model owns the two embedding matrices and routes examples
// through the configured loss.
package model

import (
	"errors"

	"github.com/hupe1980/lingvec/internal/math32"
	"github.com/hupe1980/lingvec/loss"
	"github.com/hupe1980/lingvec/matrix"
)

// ErrNaN is returned when a NaN surfaces in the hidden activation,
// indicating the shared matrices diverged.
var ErrNaN = errors.New("NaN encountered in model matrices")

// ErrInvalidK is returned for non-positive prediction counts.
var ErrInvalidK = errors.New("k needs to be 1 or higher")

// Model combines the input matrix, output matrix and loss. The matrices
// are shared across workers; all per-thread scratch lives in loss.State.
type Model struct {
	wi   matrix.Matrix
	wo   matrix.Matrix
	loss loss.Loss

	normalizeGradient bool
}

// New creates a model. normalizeGradient is set for supervised training,
// where the gradient is averaged over the input bag.
func New(wi, wo matrix.Matrix, l loss.Loss, normalizeGradient bool) *Model {
	return &Model{wi: wi, wo: wo, loss: l, normalizeGradient: normalizeGradient}
}

// Loss returns the configured loss kernel.
func (m *Model) Loss() loss.Loss { return m.loss }

// ComputeHidden sets state.Hidden to the mean of the input rows.
func (m *Model) ComputeHidden(input []int32, state *loss.State) {
	math32.Zero(state.Hidden)
	for _, id := range input {
		m.wi.AddRowToVector(state.Hidden, int64(id), 1.0)
	}
	math32.ScaleInPlace(state.Hidden, 1.0/float32(len(input)))
}

// Update runs one training example: hidden from the input bag, loss
// forward with backprop, gradient into every input row.
func (m *Model) Update(input []int32, targets loss.Targets, targetIndex int, lr float32, state *loss.State) error {
	if len(input) == 0 {
		return nil
	}
	m.ComputeHidden(input, state)
	if math32.HasNaN(state.Hidden) {
		return ErrNaN
	}

	math32.Zero(state.Grad)
	lossValue := m.loss.Forward(targets, targetIndex, state, lr, true)
	state.IncrementNExamples(lossValue)

	if m.normalizeGradient {
		math32.ScaleInPlace(state.Grad, 1.0/float32(len(input)))
	}
	for _, id := range input {
		m.wi.AddVectorToRow(state.Grad, int64(id), 1.0)
	}

	return nil
}

// Predict returns the top-k outputs above threshold for the input bag.
func (m *Model) Predict(input []int32, k int, threshold float32, heap *loss.Predictions, state *loss.State) error {
	if k == loss.KUnlimitedPredictions {
		k = int(m.wo.Rows())
	} else if k <= 0 {
		return ErrInvalidK
	}

	m.ComputeHidden(input, state)
	m.loss.Predict(k, threshold, heap, state)

	return nil
}
