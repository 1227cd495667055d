package loss

import (
	"math"

	"github.com/hupe1980/lingvec/matrix"
)

const negativeTableSize = 10_000_000

// NegativeSampling trains each positive against neg negatives drawn from a
// unigram^0.75 distribution.
type NegativeSampling struct {
	base

	neg       int
	negatives []int32
}

// NewNegativeSampling builds the sampling table from per-row target counts.
func NewNegativeSampling(wo matrix.Matrix, neg int, targetCounts []int64) *NegativeSampling {
	l := &NegativeSampling{
		base: newBase(wo),
		neg:  neg,
	}

	var z float64
	for _, c := range targetCounts {
		z += math.Pow(float64(c), 0.75)
	}
	for i, c := range targetCounts {
		n := math.Pow(float64(c), 0.75) / z * negativeTableSize
		for j := 0; j < int(n)+1; j++ {
			l.negatives = append(l.negatives, int32(i))
		}
	}

	return l
}

func (l *NegativeSampling) getNegative(target int32, state *State) int32 {
	for {
		negative := l.negatives[state.Rng.Intn(len(l.negatives))]
		if negative != target {
			return negative
		}
	}
}

// Forward runs one positive plus neg negative logistic updates.
func (l *NegativeSampling) Forward(targets Targets, targetIndex int, state *State, lr float32, backprop bool) float32 {
	target := targets.ID(targetIndex)
	if target < 0 {
		return 0
	}

	loss := l.binaryLogistic(target, state, true, lr, backprop)
	for n := 0; n < l.neg; n++ {
		loss += l.binaryLogistic(l.getNegative(target, state), state, false, lr, backprop)
	}

	return loss
}

// Predict scores every output row with a sigmoid and returns the top-k.
func (l *NegativeSampling) Predict(k int, threshold float32, heap *Predictions, state *State) {
	l.computeSigmoidOutput(state)
	l.findKBest(l.resolveK(k), threshold, heap, state.Output)
}
