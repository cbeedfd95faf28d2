// Package detector scores review observations for anomaly. It combines
// a statistical z-score component from the rolling tracker with an
// isolation-forest score over review-text embeddings, and manages the
// lifecycle of the trained forest as immutable versioned snapshots.
package detector

import (
	"fmt"
	"math"
	"math/rand"
)

// forestNode is one node of an isolation tree. Leaves have SplitDim -1
// and record the number of samples that ended up in them.
type forestNode struct {
	SplitDim int         `json:"d"`
	SplitVal float32     `json:"v"`
	Size     int         `json:"n,omitempty"`
	Left     *forestNode `json:"l,omitempty"`
	Right    *forestNode `json:"r,omitempty"`
}

// IsolationForest is a trained multivariate outlier model. Immutable
// after TrainForest returns; Score is safe for concurrent use.
type IsolationForest struct {
	Trees      []*forestNode `json:"trees"`
	SampleSize int           `json:"sample_size"`
	Dimension  int           `json:"dimension"`
}

// avgPathLength is c(n), the average unsuccessful-search path length of
// a binary search tree of n nodes, used to normalize isolation depth.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649015329 // Euler-Mascheroni
	return 2*h - 2*float64(n-1)/float64(n)
}

// TrainForest builds an isolation forest over the given vectors.
// sampleSize is capped at the dataset size; maxDepth follows the
// standard ceil(log2(sampleSize)) heuristic.
func TrainForest(vectors [][]float32, trees, sampleSize int, rng *rand.Rand) (*IsolationForest, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no training vectors")
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("zero-dimensional training vectors")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim)
		}
	}

	if sampleSize > len(vectors) {
		sampleSize = len(vectors)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sampleSize)))) + 1

	f := &IsolationForest{
		Trees:      make([]*forestNode, trees),
		SampleSize: sampleSize,
		Dimension:  dim,
	}

	sample := make([][]float32, sampleSize)
	for t := 0; t < trees; t++ {
		// Subsample without replacement per tree
		perm := rng.Perm(len(vectors))
		for i := 0; i < sampleSize; i++ {
			sample[i] = vectors[perm[i]]
		}
		f.Trees[t] = buildTree(sample, 0, maxDepth, rng)
	}
	return f, nil
}

func buildTree(sample [][]float32, depth, maxDepth int, rng *rand.Rand) *forestNode {
	if depth >= maxDepth || len(sample) <= 1 {
		return &forestNode{SplitDim: -1, Size: len(sample)}
	}

	dim := len(sample[0])

	// Pick a dimension that still has spread; give up after a few tries
	// (all-identical samples happen with duplicated review text).
	var splitDim int
	var lo, hi float32
	found := false
	for attempt := 0; attempt < 8; attempt++ {
		splitDim = rng.Intn(dim)
		lo, hi = sample[0][splitDim], sample[0][splitDim]
		for _, v := range sample[1:] {
			if v[splitDim] < lo {
				lo = v[splitDim]
			}
			if v[splitDim] > hi {
				hi = v[splitDim]
			}
		}
		if hi > lo {
			found = true
			break
		}
	}
	if !found {
		return &forestNode{SplitDim: -1, Size: len(sample)}
	}

	splitVal := lo + rng.Float32()*(hi-lo)

	var left, right [][]float32
	for _, v := range sample {
		if v[splitDim] < splitVal {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &forestNode{SplitDim: -1, Size: len(sample)}
	}

	return &forestNode{
		SplitDim: splitDim,
		SplitVal: splitVal,
		Left:     buildTree(left, depth+1, maxDepth, rng),
		Right:    buildTree(right, depth+1, maxDepth, rng),
	}
}

func pathLength(node *forestNode, vec []float32, depth float64) float64 {
	if node.SplitDim < 0 {
		return depth + avgPathLength(node.Size)
	}
	if vec[node.SplitDim] < node.SplitVal {
		return pathLength(node.Left, vec, depth+1)
	}
	return pathLength(node.Right, vec, depth+1)
}

// Score returns the anomaly score of a vector in [0,1]. Values near 1
// isolate quickly (outliers); values around 0.5 and below are inliers.
func (f *IsolationForest) Score(vec []float32) (float64, error) {
	if len(vec) != f.Dimension {
		return 0, fmt.Errorf("vector has dimension %d, model expects %d", len(vec), f.Dimension)
	}

	var total float64
	for _, tree := range f.Trees {
		total += pathLength(tree, vec, 0)
	}
	mean := total / float64(len(f.Trees))

	c := avgPathLength(f.SampleSize)
	if c == 0 {
		return 0.5, nil
	}
	return math.Pow(2, -mean/c), nil
}

// Validate checks structural integrity after deserialization. A partial
// or corrupt snapshot blob must never become the active model.
func (f *IsolationForest) Validate() error {
	if f.Dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", f.Dimension)
	}
	if f.SampleSize <= 0 {
		return fmt.Errorf("invalid sample size %d", f.SampleSize)
	}
	if len(f.Trees) == 0 {
		return fmt.Errorf("forest has no trees")
	}
	for i, tree := range f.Trees {
		if tree == nil {
			return fmt.Errorf("tree %d is nil", i)
		}
		if err := validateNode(tree, f.Dimension); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

func validateNode(n *forestNode, dim int) error {
	if n.SplitDim < 0 {
		return nil
	}
	if n.SplitDim >= dim {
		return fmt.Errorf("split dimension %d out of range", n.SplitDim)
	}
	if n.Left == nil || n.Right == nil {
		return fmt.Errorf("internal node missing children")
	}
	if err := validateNode(n.Left, dim); err != nil {
		return err
	}
	return validateNode(n.Right, dim)
}
