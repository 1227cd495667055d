package loss

import (
	"math"

	"github.com/hupe1980/lingvec/matrix"
)

// Softmax is the full cross-entropy objective over every output row.
type Softmax struct {
	base
}

// NewSoftmax creates the full-softmax loss.
func NewSoftmax(wo matrix.Matrix) *Softmax {
	return &Softmax{base: newBase(wo)}
}

func (l *Softmax) computeOutput(state *State) {
	out := state.Output
	rows := l.wo.Rows()

	maxv := float32(math.Inf(-1))
	for i := int64(0); i < rows; i++ {
		out[i] = l.wo.DotRow(state.Hidden, i)
		if out[i] > maxv {
			maxv = out[i]
		}
	}
	var z float32
	for i := int64(0); i < rows; i++ {
		out[i] = float32(math.Exp(float64(out[i] - maxv)))
		z += out[i]
	}
	for i := int64(0); i < rows; i++ {
		out[i] /= z
	}
}

// Forward computes the softmax and backpropagates the full-row gradient.
func (l *Softmax) Forward(targets Targets, targetIndex int, state *State, lr float32, backprop bool) float32 {
	target := targets.ID(targetIndex)
	if target < 0 {
		return 0
	}

	l.computeOutput(state)
	if backprop {
		for i := int64(0); i < l.wo.Rows(); i++ {
			label := float32(0)
			if int32(i) == target {
				label = 1
			}
			alpha := lr * (label - state.Output[i])
			l.wo.AddRowToVector(state.Grad, i, alpha)
			l.wo.AddVectorToRow(state.Hidden, i, alpha)
		}
	}

	return -l.log(state.Output[target])
}

// Predict computes the softmax and returns the top-k.
func (l *Softmax) Predict(k int, threshold float32, heap *Predictions, state *State) {
	l.computeOutput(state)
	l.findKBest(l.resolveK(k), threshold, heap, state.Output)
}
