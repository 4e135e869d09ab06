package ensemble

import (
	"cmp"
	"math/rand/v2"
	"slices"

	"github.com/lox/yieldwise/internal/features"
)

// Node is one node of a regression tree. Leaves have Feature == -1.
// Internal nodes send x[Feature] <= Threshold to Left, everything else to Right.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
	Samples   int
}

// Tree is a regression tree stored as a flat node slice; Nodes[0] is the root.
type Tree struct {
	Nodes []Node
}

// Predict walks the tree from the root to a leaf and returns the leaf mean.
func (t *Tree) Predict(x features.Vector) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Depth returns the length of the longest root-to-leaf path.
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return walk(0)
}

type treeParams struct {
	maxDepth    int
	minSplit    int
	minLeaf     int
	maxFeatures int
}

type grower struct {
	x      []features.Vector
	y      []float64
	params treeParams
	rnd    *rand.Rand
	nodes  []Node
	feats  []int
}

type split struct {
	feature   int
	threshold float64
	left      []int
	right     []int
}

// growTree fits a tree on the rows listed in idx. idx may contain duplicates,
// as a bootstrap resample does.
func growTree(x []features.Vector, y []float64, idx []int, params treeParams, rnd *rand.Rand) Tree {
	g := &grower{
		x:      x,
		y:      y,
		params: params,
		rnd:    rnd,
		feats:  make([]int, features.Len),
	}
	g.build(idx, 0)
	return Tree{Nodes: g.nodes}
}

func (g *grower) build(idx []int, depth int) int {
	sum, sumSq := 0.0, 0.0
	for _, i := range idx {
		sum += g.y[i]
		sumSq += g.y[i] * g.y[i]
	}
	n := float64(len(idx))
	sse := sumSq - sum*sum/n

	id := len(g.nodes)
	g.nodes = append(g.nodes, Node{Feature: -1, Value: sum / n, Samples: len(idx)})

	if g.params.maxDepth > 0 && depth >= g.params.maxDepth {
		return id
	}
	if len(idx) < g.params.minSplit || len(idx) < 2*g.params.minLeaf || sse <= 0 {
		return id
	}
	s, ok := g.bestSplit(idx, sum, sumSq, sse)
	if !ok {
		return id
	}

	left := g.build(s.left, depth+1)
	right := g.build(s.right, depth+1)
	g.nodes[id].Feature = s.feature
	g.nodes[id].Threshold = s.threshold
	g.nodes[id].Left = left
	g.nodes[id].Right = right
	return id
}

// candidates draws the per-split feature subset with a partial Fisher-Yates
// shuffle.
func (g *grower) candidates() []int {
	p := len(g.feats)
	for j := range g.feats {
		g.feats[j] = j
	}
	k := g.params.maxFeatures
	if k <= 0 || k >= p {
		return g.feats
	}
	for j := 0; j < k; j++ {
		r := j + g.rnd.IntN(p-j)
		g.feats[j], g.feats[r] = g.feats[r], g.feats[j]
	}
	return g.feats[:k]
}

// bestSplit finds the threshold minimizing the summed squared error of the
// two children across the candidate features.
func (g *grower) bestSplit(idx []int, sum, sumSq, parentSSE float64) (split, bool) {
	var best split
	bestGain := 0.0
	found := false

	sorted := make([]int, len(idx))
	n := len(idx)
	for _, f := range g.candidates() {
		copy(sorted, idx)
		slices.SortStableFunc(sorted, func(a, b int) int {
			return cmp.Compare(g.x[a][f], g.x[b][f])
		})

		leftSum, leftSq := 0.0, 0.0
		for k := 1; k < n; k++ {
			yi := g.y[sorted[k-1]]
			leftSum += yi
			leftSq += yi * yi

			lo, hi := g.x[sorted[k-1]][f], g.x[sorted[k]][f]
			if lo == hi {
				continue
			}
			if k < g.params.minLeaf || n-k < g.params.minLeaf {
				continue
			}
			nl, nr := float64(k), float64(n-k)
			rightSum, rightSq := sum-leftSum, sumSq-leftSq
			childSSE := (leftSq - leftSum*leftSum/nl) + (rightSq - rightSum*rightSum/nr)
			gain := parentSSE - childSSE
			if gain <= bestGain {
				continue
			}

			thr := lo + (hi-lo)/2
			if thr >= hi {
				thr = lo
			}
			bestGain = gain
			found = true
			best.feature = f
			best.threshold = thr
		}
	}
	if !found {
		return best, false
	}

	for _, i := range idx {
		if g.x[i][best.feature] <= best.threshold {
			best.left = append(best.left, i)
		} else {
			best.right = append(best.right, i)
		}
	}
	return best, true
}
