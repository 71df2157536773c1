package ml

// Package ml implements the unsupervised anomaly model: an Isolation
// Forest over standardized feature matrices, with a versioned, serializable
// model state. Scores follow the sklearn decision-function convention
// (lower = more anomalous); the decision threshold is the contamination
// quantile of the training scores and is frozen into the model state.

import (
	"math"
	"math/rand"
	"sort"
)

// node is a single split (or leaf) in an isolation tree.
type node struct {
	splitFeature int
	splitValue   float64
	left         *node
	right        *node
	size         int
	leaf         bool
}

// forest is a trained collection of isolation trees.
type forest struct {
	trees         []*node
	subSampleSize int
}

// buildForest trains numTrees isolation trees over the rows, each on a
// random sub-sample, using the supplied RNG. All randomness flows through
// rng: the same seed and input build bit-identical trees.
func buildForest(rows [][]float64, numTrees, subSampleSize, maxDepth int, rng *rand.Rand) *forest {
	f := &forest{
		trees:         make([]*node, 0, numTrees),
		subSampleSize: subSampleSize,
	}
	for i := 0; i < numTrees; i++ {
		sample := sampleRows(rows, subSampleSize, rng)
		f.trees = append(f.trees, buildTree(sample, 0, maxDepth, rng))
	}
	return f
}

// sampleRows shuffles a copy of rows and keeps the first sampleSize.
func sampleRows(rows [][]float64, sampleSize int, rng *rand.Rand) [][]float64 {
	if sampleSize > len(rows) {
		sampleSize = len(rows)
	}
	shuffled := make([][]float64, len(rows))
	copy(shuffled, rows)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:sampleSize]
}

// buildTree recursively isolates the rows with random axis-aligned splits.
func buildTree(rows [][]float64, depth, maxDepth int, rng *rand.Rand) *node {
	if len(rows) <= 1 || depth >= maxDepth || allIdentical(rows) {
		return &node{size: len(rows), leaf: true}
	}

	numFeatures := len(rows[0])
	splitFeature := rng.Intn(numFeatures)
	minVal, maxVal := featureRange(rows, splitFeature)
	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	left, right := splitRows(rows, splitFeature, splitValue)
	if len(left) == 0 || len(right) == 0 {
		return &node{size: len(rows), leaf: true}
	}

	return &node{
		splitFeature: splitFeature,
		splitValue:   splitValue,
		left:         buildTree(left, depth+1, maxDepth, rng),
		right:        buildTree(right, depth+1, maxDepth, rng),
		size:         len(rows),
	}
}

// pathLength walks one row down a tree, crediting leaves with the expected
// remaining depth of the points they still hold.
func pathLength(t *node, row []float64, depth int) float64 {
	if t.leaf {
		return float64(depth) + averagePathLength(t.size)
	}
	if row[t.splitFeature] < t.splitValue {
		return pathLength(t.left, row, depth+1)
	}
	return pathLength(t.right, row, depth+1)
}

// isolationScore returns the classic isolation-forest score in (0,1):
// higher means the row isolates quickly and is more anomalous.
func (f *forest) isolationScore(row []float64) float64 {
	if len(f.trees) == 0 {
		return 0.5
	}
	total := 0.0
	for _, t := range f.trees {
		total += pathLength(t, row, 0)
	}
	avg := total / float64(len(f.trees))
	c := averagePathLength(f.subSampleSize)
	return math.Pow(2, -avg/c)
}

// averagePathLength is c(n): the average path length of an unsuccessful
// BST search, the normalization term from the isolation-forest paper.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	// c(n) = 2H(n-1) - 2(n-1)/n with H(m) ~ ln(m) + Euler-Mascheroni.
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - (2 * float64(n-1) / float64(n))
}

func allIdentical(rows [][]float64) bool {
	if len(rows) <= 1 {
		return true
	}
	first := rows[0]
	for i := 1; i < len(rows); i++ {
		for j := range first {
			if math.Abs(rows[i][j]-first[j]) > 1e-10 {
				return false
			}
		}
	}
	return true
}

func featureRange(rows [][]float64, feature int) (float64, float64) {
	minVal := rows[0][feature]
	maxVal := rows[0][feature]
	for _, row := range rows {
		v := row[feature]
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}

func splitRows(rows [][]float64, feature int, splitValue float64) ([][]float64, [][]float64) {
	left := make([][]float64, 0, len(rows))
	right := make([][]float64, 0, len(rows))
	for _, row := range rows {
		if row[feature] < splitValue {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	return left, right
}

// quantile returns the q-th quantile (0..1) of values with linear
// interpolation on a sorted copy.
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	rank := q * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	w := rank - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}
