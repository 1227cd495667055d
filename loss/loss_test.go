package loss

import (
	"container/heap"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/lingvec/matrix"
)

func TestSigmoidTable(t *testing.T) {
	b := newBase(matrix.NewDenseMatrix(1, 1))

	assert.InDelta(t, 0.5, float64(b.sigmoid(0)), 0.01)
	assert.InDelta(t, 1.0/(1.0+math.Exp(2)), float64(b.sigmoid(-2)), 0.01)
	assert.Equal(t, float32(0), b.sigmoid(-9))
	assert.Equal(t, float32(1), b.sigmoid(9))
}

func TestLogTable(t *testing.T) {
	b := newBase(matrix.NewDenseMatrix(1, 1))

	assert.InDelta(t, math.Log(0.5), float64(b.log(0.5)), 0.01)
	assert.Equal(t, float32(0), b.log(1.5))
	assert.Less(t, float64(b.log(0.001)), -4.0)
}

func TestTargetsAdapters(t *testing.T) {
	ids := IDSlice{3, 7}
	assert.Equal(t, 2, ids.Len())
	assert.Equal(t, int32(7), ids.ID(1))

	words := make(WordSlice, 2)
	words[0].Num = 5
	words[1].Num = -1
	assert.Equal(t, 2, words.Len())
	assert.Equal(t, int32(5), words.ID(0))
	assert.Equal(t, int32(-1), words.ID(1))
}

func TestPredictionsHeapKeepsTopK(t *testing.T) {
	b := newBase(matrix.NewDenseMatrix(1, 1))

	output := []float32{0.1, 0.9, 0.5, 0.7, 0.05}
	var predictions Predictions
	b.findKBest(2, 0.0, &predictions, output)

	require.Len(t, predictions, 2)
	got := map[int32]bool{}
	for _, p := range predictions {
		got[p.ID] = true
	}
	assert.True(t, got[1])
	assert.True(t, got[3])
}

func TestFindKBestThreshold(t *testing.T) {
	b := newBase(matrix.NewDenseMatrix(1, 1))

	output := []float32{0.1, 0.9, 0.5}
	var predictions Predictions
	b.findKBest(3, 0.6, &predictions, output)

	require.Len(t, predictions, 1)
	assert.Equal(t, int32(1), predictions[0].ID)
}

func TestStateLossAccumulation(t *testing.T) {
	s := NewState(4, 2, 0)
	assert.Equal(t, float32(-1), s.AvgLoss())

	s.IncrementNExamples(2.0)
	s.IncrementNExamples(4.0)
	assert.InDelta(t, 3.0, float64(s.AvgLoss()), 1e-6)
}

func newOutputMatrix(rows, cols int64, fill func(i, j int64) float32) *matrix.DenseMatrix {
	m := matrix.NewDenseMatrix(rows, cols)
	for i := int64(0); i < rows; i++ {
		row := m.Row(i)
		for j := int64(0); j < cols; j++ {
			row[j] = fill(i, j)
		}
	}

	return m
}

func TestNegativeSamplingForward(t *testing.T) {
	wo := newOutputMatrix(4, 3, func(i, j int64) float32 { return 0 })
	l := NewNegativeSampling(wo, 2, []int64{10, 10, 10, 10})

	state := NewState(3, 4, 1)
	state.Hidden = []float32{0.1, 0.2, 0.3}

	lossValue := l.Forward(IDSlice{0, 1, 2, 3}, 1, state, 0.1, true)
	// sigmoid(0)=0.5; one positive + two negatives, each -log(0.5).
	assert.InDelta(t, 3*math.Log(2), float64(lossValue), 0.05)

	// Skips out-of-vocabulary positives.
	assert.Equal(t, float32(0), l.Forward(WordSlice{{Num: -1}}, 0, state, 0.1, true))
}

func TestNegativeSamplingNeverDrawsTarget(t *testing.T) {
	wo := matrix.NewDenseMatrix(3, 2)
	l := NewNegativeSampling(wo, 1, []int64{100, 1, 1})

	state := NewState(2, 3, 7)
	for i := 0; i < 1000; i++ {
		neg := l.getNegative(0, state)
		assert.NotEqual(t, int32(0), neg)
	}
}

func TestHierarchicalSoftmaxTree(t *testing.T) {
	wo := matrix.NewDenseMatrix(3, 2) // osz-1 internal nodes
	counts := []int64{8, 4, 2, 1}
	l := NewHierarchicalSoftmax(wo, counts)

	require.Len(t, l.paths, 4)
	// More frequent targets get shorter codes.
	assert.LessOrEqual(t, len(l.paths[0]), len(l.paths[3]))

	// Every leaf's path ends at the root node.
	root := int32(2*len(counts)-2) - l.osz
	for i, path := range l.paths {
		require.NotEmpty(t, path, "leaf %d", i)
		assert.Equal(t, root, path[len(path)-1])
	}
}

func TestHierarchicalSoftmaxForwardAndPredict(t *testing.T) {
	counts := []int64{8, 4, 2, 1}
	wo := newOutputMatrix(3, 2, func(i, j int64) float32 { return 0.01 * float32(i+j) })
	l := NewHierarchicalSoftmax(wo, counts)

	state := NewState(2, 4, 0)
	state.Hidden = []float32{0.5, -0.2}

	lossValue := l.Forward(IDSlice{0, 1, 2, 3}, 2, state, 0.05, true)
	assert.Greater(t, float64(lossValue), 0.0)

	var predictions Predictions
	l.Predict(4, 0.0, &predictions, state)
	require.Len(t, predictions, 4)

	// The probabilities of all leaves sum to one.
	var sum float64
	for _, p := range predictions {
		sum += math.Exp(float64(p.LogProb))
	}
	assert.InDelta(t, 1.0, sum, 0.05)
}

func TestSoftmaxForward(t *testing.T) {
	wo := newOutputMatrix(3, 2, func(i, j int64) float32 { return float32(i) * 0.1 })
	l := NewSoftmax(wo)

	state := NewState(2, 3, 0)
	state.Hidden = []float32{1, 1}

	lossValue := l.Forward(IDSlice{0, 1, 2}, 2, state, 0.1, false)
	assert.Greater(t, float64(lossValue), 0.0)

	// Output is a distribution.
	var sum float64
	for _, v := range state.Output {
		sum += float64(v)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)

	// The highest-scoring row wins predict.
	var predictions Predictions
	l.Predict(1, 0.0, &predictions, state)
	require.Len(t, predictions, 1)
	assert.Equal(t, int32(2), predictions[0].ID)
}

func TestOneVsAllForward(t *testing.T) {
	wo := newOutputMatrix(3, 2, func(i, j int64) float32 { return 0 })
	l := NewOneVsAll(wo)

	state := NewState(2, 3, 0)
	state.Hidden = []float32{0.3, 0.3}

	// All-zero weights: every class scores sigmoid(0)=0.5.
	lossValue := l.Forward(IDSlice{0, 2}, KAllTargets, state, 0.1, false)
	assert.InDelta(t, 3*math.Log(2), float64(lossValue), 0.05)
}

func TestPredictionsHeapInterface(t *testing.T) {
	var p Predictions
	heap.Push(&p, Prediction{LogProb: -1, ID: 1})
	heap.Push(&p, Prediction{LogProb: -3, ID: 2})
	heap.Push(&p, Prediction{LogProb: -2, ID: 3})

	assert.Equal(t, int32(2), p[0].ID, "min-heap keeps the worst on top")
	popped := heap.Pop(&p).(Prediction)
	assert.Equal(t, int32(2), popped.ID)
}
