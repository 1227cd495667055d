package loss

import "github.com/hupe1980/lingvec/matrix"

// OneVsAll scores every class with an independent binary cross-entropy;
// with KAllTargets every id present in targets counts as positive.
type OneVsAll struct {
	base
}

// NewOneVsAll creates the one-vs-all loss.
func NewOneVsAll(wo matrix.Matrix) *OneVsAll {
	return &OneVsAll{base: newBase(wo)}
}

func containsTarget(targets Targets, id int32) bool {
	for i := 0; i < targets.Len(); i++ {
		if targets.ID(i) == id {
			return true
		}
	}

	return false
}

// Forward runs one logistic update per output row.
func (l *OneVsAll) Forward(targets Targets, targetIndex int, state *State, lr float32, backprop bool) float32 {
	if targetIndex != KAllTargets && targets.ID(targetIndex) < 0 {
		return 0
	}

	var loss float32
	osz := l.wo.Rows()
	for i := int64(0); i < osz; i++ {
		var isMatch bool
		if targetIndex == KAllTargets {
			isMatch = containsTarget(targets, int32(i))
		} else {
			isMatch = targets.ID(targetIndex) == int32(i)
		}
		loss += l.binaryLogistic(int32(i), state, isMatch, lr, backprop)
	}

	return loss
}

// Predict scores every output row with a sigmoid and returns the top-k.
func (l *OneVsAll) Predict(k int, threshold float32, heap *Predictions, state *State) {
	l.computeSigmoidOutput(state)
	l.findKBest(l.resolveK(k), threshold, heap, state.Output)
}
