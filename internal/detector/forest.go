package detector

import (
	"fmt"
	"math"
	"math/rand"
)

// isolationForest is an ensemble of randomized isolation trees. Points that
// isolate in few random splits score close to 1; dense inliers score near
// 0.5 or below.
type isolationForest struct {
	trees      []*isoNode
	sampleSize int
	norm       float64 // c(sampleSize), the expected path normalizer
	rng        *rand.Rand
}

type isoNode struct {
	feature int
	split   float64
	left    *isoNode
	right   *isoNode
	size    int // leaf population; 0 for internal nodes
	leaf    bool
}

func newIsolationForest(trees, sampleSize int, seed int64) *isolationForest {
	if trees <= 0 {
		trees = 100
	}
	if sampleSize <= 0 {
		sampleSize = 64
	}
	return &isolationForest{
		sampleSize: sampleSize,
		norm:       avgPathLength(sampleSize),
		rng:        rand.New(rand.NewSource(seed)),
		trees:      make([]*isoNode, 0, trees),
	}
}

// Fit rebuilds all trees from the given feature vectors.
func (f *isolationForest) Fit(data [][]float64) error {
	if len(data) == 0 {
		return fmt.Errorf("isolation forest: no training data")
	}
	sample := f.sampleSize
	if sample > len(data) {
		sample = len(data)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sample)))) + 1

	trees := make([]*isoNode, 0, cap(f.trees))
	for i := 0; i < cap(f.trees); i++ {
		idx := f.rng.Perm(len(data))[:sample]
		subset := make([][]float64, sample)
		for j, k := range idx {
			subset[j] = data[k]
		}
		trees = append(trees, f.buildTree(subset, 0, maxDepth))
	}
	f.trees = trees
	return nil
}

func (f *isolationForest) buildTree(data [][]float64, depth, maxDepth int) *isoNode {
	if len(data) <= 1 || depth >= maxDepth {
		return &isoNode{leaf: true, size: len(data)}
	}

	dims := len(data[0])
	feature := f.rng.Intn(dims)
	lo, hi := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		v := row[feature]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		return &isoNode{leaf: true, size: len(data)}
	}

	split := lo + f.rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	return &isoNode{
		feature: feature,
		split:   split,
		left:    f.buildTree(left, depth+1, maxDepth),
		right:   f.buildTree(right, depth+1, maxDepth),
	}
}

// Score returns the anomaly score 2^(-E[h(x)]/c(n)) in (0,1]; higher means
// more anomalous.
func (f *isolationForest) Score(x []float64) (float64, error) {
	if len(f.trees) == 0 {
		return 0, fmt.Errorf("isolation forest: not fitted")
	}
	total := 0.0
	for _, tree := range f.trees {
		total += pathLength(tree, x, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/f.norm), nil
}

func pathLength(node *isoNode, x []float64, depth float64) float64 {
	if node.leaf {
		return depth + avgPathLength(node.size)
	}
	if x[node.feature] < node.split {
		return pathLength(node.left, x, depth+1)
	}
	return pathLength(node.right, x, depth+1)
}

// avgPathLength is the expected unsuccessful-search path length of a BST
// with n nodes, the standard isolation-forest normalizer.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}
