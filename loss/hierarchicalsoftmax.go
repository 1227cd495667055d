package loss

import (
	"container/heap"

	"github.com/hupe1980/lingvec/matrix"
)

// HierarchicalSoftmax replaces the full output layer with a Huffman tree
// over target counts; each example updates only the internal nodes on the
// positive's code path.
type HierarchicalSoftmax struct {
	base

	paths [][]int32
	codes [][]bool
	tree  []hsNode
	osz   int32
}

type hsNode struct {
	parent int32
	left   int32
	right  int32
	count  int64
	binary bool
}

// NewHierarchicalSoftmax builds the Huffman tree from per-target counts.
func NewHierarchicalSoftmax(wo matrix.Matrix, targetCounts []int64) *HierarchicalSoftmax {
	l := &HierarchicalSoftmax{
		base: newBase(wo),
		osz:  int32(len(targetCounts)),
	}
	l.buildTree(targetCounts)

	return l
}

func (l *HierarchicalSoftmax) buildTree(counts []int64) {
	osz := int(l.osz)
	l.tree = make([]hsNode, 2*osz-1)
	for i := range l.tree {
		l.tree[i] = hsNode{parent: -1, left: -1, right: -1, count: 1e15}
	}
	for i := 0; i < osz; i++ {
		l.tree[i].count = counts[i]
	}

	// counts are sorted descending, so the two smallest frontier nodes are
	// found by walking a leaf cursor down and an internal cursor up.
	leaf := osz - 1
	node := osz
	for i := osz; i < 2*osz-1; i++ {
		var mini [2]int
		for j := 0; j < 2; j++ {
			if leaf >= 0 && l.tree[leaf].count < l.tree[node].count {
				mini[j] = leaf
				leaf--
			} else {
				mini[j] = node
				node++
			}
		}
		l.tree[i].left = int32(mini[0])
		l.tree[i].right = int32(mini[1])
		l.tree[i].count = l.tree[mini[0]].count + l.tree[mini[1]].count
		l.tree[mini[0]].parent = int32(i)
		l.tree[mini[1]].parent = int32(i)
		l.tree[mini[1]].binary = true
	}

	l.paths = make([][]int32, osz)
	l.codes = make([][]bool, osz)
	for i := 0; i < osz; i++ {
		var path []int32
		var code []bool
		j := l.tree[i].parent
		for j != -1 {
			path = append(path, j-l.osz)
			code = append(code, l.tree[j].binary)
			j = l.tree[j].parent
		}
		l.paths[i] = path
		l.codes[i] = code
	}
}

// Forward walks the positive's code path, one logistic update per internal
// node.
func (l *HierarchicalSoftmax) Forward(targets Targets, targetIndex int, state *State, lr float32, backprop bool) float32 {
	target := targets.ID(targetIndex)
	if target < 0 {
		return 0
	}

	var loss float32
	path := l.paths[target]
	code := l.codes[target]
	for i := range path {
		loss += l.binaryLogistic(path[i], state, code[i], lr, backprop)
	}

	return loss
}

// Predict traverses the tree depth-first, pruning branches whose
// log-probability already falls below the heap's k-th best.
func (l *HierarchicalSoftmax) Predict(k int, threshold float32, predictions *Predictions, state *State) {
	k = l.resolveK(k)
	l.dfs(k, threshold, 2*l.osz-2, 0.0, predictions, state)
}

func (l *HierarchicalSoftmax) dfs(k int, threshold float32, node int32, score float32, predictions *Predictions, state *State) {
	if score < stdLog(threshold) {
		return
	}
	if predictions.Len() == k && score < (*predictions)[0].LogProb {
		return
	}

	if l.tree[node].left == -1 && l.tree[node].right == -1 {
		heap.Push(predictions, Prediction{LogProb: score, ID: node})
		if predictions.Len() > k {
			heap.Pop(predictions)
		}

		return
	}

	f := l.sigmoid(l.wo.DotRow(state.Hidden, int64(node-l.osz)))
	l.dfs(k, threshold, l.tree[node].left, score+stdLog(1.0-f), predictions, state)
	l.dfs(k, threshold, l.tree[node].right, score+stdLog(f), predictions, state)
}
