// Package loss implements the output-layer objectives: negative sampling,
// hierarchical softmax, full softmax and one-vs-all. All kernels share
// precomputed sigmoid and log tables and operate on a per-thread State.
package loss

import (
	"container/heap"
	"math"
	"math/rand"

	"github.com/hupe1980/lingvec/matrix"
	"github.com/hupe1980/lingvec/sent"
)

const (
	sigmoidTableSize = 512
	maxSigmoid       = 8
	logTableSize     = 512

	// KAllTargets selects every positive at once (one-vs-all supervised
	// training).
	KAllTargets = -1

	// KUnlimitedPredictions requests every output row from Predict.
	KUnlimitedPredictions = -1
)

// Targets exposes the candidate output ids of the current line. Positions
// with id -1 (out of vocabulary or discarded) are no-ops.
type Targets interface {
	Len() int
	ID(i int) int32
}

// IDSlice adapts a plain id list.
type IDSlice []int32

func (s IDSlice) Len() int       { return len(s) }
func (s IDSlice) ID(i int) int32 { return s[i] }

// WordSlice adapts a compact token array.
type WordSlice []sent.CompactWord

func (s WordSlice) Len() int       { return len(s) }
func (s WordSlice) ID(i int) int32 { return s[i].Num }

// Prediction is one (log-probability, output id) result.
type Prediction struct {
	LogProb float32
	ID      int32
}

// Predictions is a min-heap on log-probability, so the k-th best is cheap
// to evict.
type Predictions []Prediction

func (p Predictions) Len() int            { return len(p) }
func (p Predictions) Less(i, j int) bool  { return p[i].LogProb < p[j].LogProb }
func (p Predictions) Swap(i, j int)       { p[i], p[j] = p[j], p[i] }
func (p *Predictions) Push(x any)         { *p = append(*p, x.(Prediction)) }
func (p *Predictions) Pop() any {
	old := *p
	n := len(old)
	x := old[n-1]
	*p = old[:n-1]

	return x
}

// State is the per-thread scratch of one worker: hidden activation,
// gradient, output buffer, RNG and loss accumulation.
type State struct {
	Hidden []float32
	Output []float32
	Grad   []float32
	Rng    *rand.Rand

	lossValue float64
	nexamples int64
}

// NewState allocates scratch for the given hidden and output sizes.
func NewState(hiddenSize, outputSize int, seed int64) *State {
	return &State{
		Hidden: make([]float32, hiddenSize),
		Output: make([]float32, outputSize),
		Grad:   make([]float32, hiddenSize),
		Rng:    rand.New(rand.NewSource(seed)),
	}
}

// AvgLoss returns the mean loss per processed example.
func (s *State) AvgLoss() float32 {
	if s.nexamples == 0 {
		return -1
	}

	return float32(s.lossValue / float64(s.nexamples))
}

// IncrementNExamples folds one example's loss into the running mean.
func (s *State) IncrementNExamples(loss float32) {
	s.lossValue += float64(loss)
	s.nexamples++
}

// Loss is one output-layer objective.
type Loss interface {
	// Forward scores the positive pick (targets[targetIndex], or all
	// positives with KAllTargets where supported), optionally
	// backpropagating into state.Grad and the output matrix, and returns
	// the example loss.
	Forward(targets Targets, targetIndex int, state *State, lr float32, backprop bool) float32

	// Predict pushes the top-k outputs above threshold onto the heap as
	// (log-probability, id) pairs.
	Predict(k int, threshold float32, heap *Predictions, state *State)
}

// base carries the output matrix and the shared lookup tables.
type base struct {
	wo matrix.Matrix

	tSigmoid []float32
	tLog     []float32
}

func newBase(wo matrix.Matrix) base {
	b := base{wo: wo}

	b.tSigmoid = make([]float32, sigmoidTableSize+1)
	for i := range b.tSigmoid {
		x := float64(i*2*maxSigmoid)/sigmoidTableSize - maxSigmoid
		b.tSigmoid[i] = float32(1.0 / (1.0 + math.Exp(-x)))
	}

	b.tLog = make([]float32, logTableSize+1)
	for i := range b.tLog {
		x := (float64(i) + 1e-5) / logTableSize
		b.tLog[i] = float32(math.Log(x))
	}

	return b
}

func (b *base) sigmoid(x float32) float32 {
	switch {
	case x < -maxSigmoid:
		return 0
	case x > maxSigmoid:
		return 1
	default:
		i := int64((x + maxSigmoid) * sigmoidTableSize / maxSigmoid / 2)

		return b.tSigmoid[i]
	}
}

func (b *base) log(x float32) float32 {
	if x > 1.0 {
		return 0
	}
	i := int64(x * logTableSize)

	return b.tLog[i]
}

func stdLog(x float32) float32 {
	return float32(math.Log(float64(x) + 1e-5))
}

// findKBest scans a precomputed output activation for the top-k entries
// above threshold.
func (b *base) findKBest(k int, threshold float32, predictions *Predictions, output []float32) {
	for i := range output {
		if output[i] < threshold {
			continue
		}
		lp := stdLog(output[i])
		if predictions.Len() == k && lp < (*predictions)[0].LogProb {
			continue
		}
		heap.Push(predictions, Prediction{LogProb: lp, ID: int32(i)})
		if predictions.Len() > k {
			heap.Pop(predictions)
		}
	}
}

// binaryLogistic is the shared logistic-regression step on one output row.
func (b *base) binaryLogistic(target int32, state *State, labelIsPositive bool, lr float32, backprop bool) float32 {
	score := b.sigmoid(b.wo.DotRow(state.Hidden, int64(target)))
	if backprop {
		label := float32(0)
		if labelIsPositive {
			label = 1
		}
		alpha := lr * (label - score)
		b.wo.AddRowToVector(state.Grad, int64(target), alpha)
		b.wo.AddVectorToRow(state.Hidden, int64(target), alpha)
	}

	if labelIsPositive {
		return -b.log(score)
	}

	return -b.log(1.0 - score)
}

// computeSigmoidOutput fills state.Output with per-row sigmoid activations.
func (b *base) computeSigmoidOutput(state *State) {
	for i := int64(0); i < b.wo.Rows(); i++ {
		state.Output[i] = b.sigmoid(b.wo.DotRow(state.Hidden, i))
	}
}

// resolveK maps the unlimited sentinel onto the full output size.
func (b *base) resolveK(k int) int {
	if k == KUnlimitedPredictions {
		return int(b.wo.Rows())
	}

	return k
}
