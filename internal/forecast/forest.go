// Package forecast trains the pooled AQI regression model, persists it with
// its feature-column contract, and produces point forecasts against the
// persisted artifact. It also provides the alternate per-city seasonal
// autoregressive strategy.
package forecast

import (
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"
)

// ForestConfig configures the bagged-tree ensemble regressor.
type ForestConfig struct {
	// Trees is the ensemble size.
	Trees int `json:"trees"`

	// MaxDepth bounds tree depth.
	MaxDepth int `json:"max_depth"`

	// MinLeafSamples is the minimum number of samples in a leaf.
	MinLeafSamples int `json:"min_leaf_samples"`

	// Seed makes fitting reproducible. Each tree derives its own seed from
	// it, so fitting is deterministic regardless of worker scheduling.
	Seed int64 `json:"seed"`

	// Workers bounds fitting concurrency. Zero means GOMAXPROCS.
	Workers int `json:"-"`
}

// DefaultForestConfig returns the ensemble defaults.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		Trees:          100,
		MaxDepth:       12,
		MinLeafSamples: 2,
		Seed:           42,
	}
}

// treeNode is one node of a regression tree. Children are indices into the
// tree's node slice so the whole tree serializes as flat JSON.
type treeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
	Leaf      bool    `json:"leaf"`
}

// regressionTree is a CART regression tree grown by variance reduction.
type regressionTree struct {
	Nodes []treeNode `json:"nodes"`
}

func (t *regressionTree) predict(x []float64) float64 {
	i := 0
	for {
		node := t.Nodes[i]
		if node.Leaf {
			return node.Value
		}
		if x[node.Feature] <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
}

// Forest is a bagged ensemble of regression trees: each tree is fitted on a
// bootstrap sample and the prediction is the mean of the trees.
type Forest struct {
	Config ForestConfig      `json:"config"`
	Trees  []*regressionTree `json:"trees"`
}

// FitForest fits the ensemble on the feature matrix x and targets y.
// Trees are grown in parallel; the result is identical for a given seed.
func FitForest(x [][]float64, y []float64, cfg ForestConfig) *Forest {
	if cfg.Trees <= 0 {
		cfg = DefaultForestConfig()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	forest := &Forest{
		Config: cfg,
		Trees:  make([]*regressionTree, cfg.Trees),
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Trees; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			rng := rand.New(rand.NewSource(cfg.Seed + int64(i)))
			forest.Trees[i] = fitTree(x, y, rng, cfg)
		}(i)
	}
	wg.Wait()

	return forest
}

// Predict returns the mean prediction of all trees for one feature row.
func (f *Forest) Predict(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range f.Trees {
		sum += t.predict(x)
	}
	return sum / float64(len(f.Trees))
}

// fitTree grows one tree on a bootstrap sample of the data.
func fitTree(x [][]float64, y []float64, rng *rand.Rand, cfg ForestConfig) *regressionTree {
	n := len(x)
	sample := make([]int, n)
	for i := range sample {
		sample[i] = rng.Intn(n)
	}

	t := &regressionTree{}
	t.grow(x, y, sample, 0, cfg)
	return t
}

// grow recursively builds nodes and returns the index of the node created.
func (t *regressionTree) grow(x [][]float64, y []float64, idx []int, depth int, cfg ForestConfig) int {
	nodeIdx := len(t.Nodes)
	t.Nodes = append(t.Nodes, treeNode{})

	mean := meanAt(y, idx)

	if depth >= cfg.MaxDepth || len(idx) < 2*cfg.MinLeafSamples || !hasVariance(y, idx) {
		t.Nodes[nodeIdx] = treeNode{Leaf: true, Value: mean}
		return nodeIdx
	}

	feature, threshold, ok := bestSplit(x, y, idx, cfg.MinLeafSamples)
	if !ok {
		t.Nodes[nodeIdx] = treeNode{Leaf: true, Value: mean}
		return nodeIdx
	}

	var left, right []int
	for _, i := range idx {
		if x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	leftIdx := t.grow(x, y, left, depth+1, cfg)
	rightIdx := t.grow(x, y, right, depth+1, cfg)
	t.Nodes[nodeIdx] = treeNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      leftIdx,
		Right:     rightIdx,
	}
	return nodeIdx
}

// bestSplit scans every feature for the threshold with the largest variance
// reduction, using prefix sums over the value-sorted samples.
func bestSplit(x [][]float64, y []float64, idx []int, minLeaf int) (feature int, threshold float64, ok bool) {
	nFeatures := len(x[idx[0]])
	n := len(idx)

	bestGain := 0.0

	order := make([]int, n)
	for f := 0; f < nFeatures; f++ {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool {
			return x[order[a]][f] < x[order[b]][f]
		})

		var totalSum, totalSq float64
		for _, i := range order {
			totalSum += y[i]
			totalSq += y[i] * y[i]
		}
		totalSSE := totalSq - totalSum*totalSum/float64(n)

		var leftSum, leftSq float64
		for split := 1; split < n; split++ {
			i := order[split-1]
			leftSum += y[i]
			leftSq += y[i] * y[i]

			// Only split between distinct feature values.
			if x[order[split-1]][f] == x[order[split]][f] {
				continue
			}
			if split < minLeaf || n-split < minLeaf {
				continue
			}

			nl, nr := float64(split), float64(n-split)
			rightSum := totalSum - leftSum
			rightSq := totalSq - leftSq
			sse := (leftSq - leftSum*leftSum/nl) + (rightSq - rightSum*rightSum/nr)
			gain := totalSSE - sse
			if gain > bestGain {
				bestGain = gain
				feature = f
				threshold = (x[order[split-1]][f] + x[order[split]][f]) / 2
				ok = true
			}
		}
	}

	return feature, threshold, ok
}

func meanAt(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range idx {
		sum += y[i]
	}
	return sum / float64(len(idx))
}

func hasVariance(y []float64, idx []int) bool {
	first := y[idx[0]]
	for _, i := range idx[1:] {
		if y[i] != first {
			return true
		}
	}
	return false
}

// meanSquaredError computes the MSE of predictions against targets.
func meanSquaredError(pred, actual []float64) float64 {
	if len(pred) == 0 {
		return 0
	}
	sum := 0.0
	for i := range pred {
		d := pred[i] - actual[i]
		sum += d * d
	}
	return sum / float64(len(pred))
}

// roundTo rounds v to the given number of decimal places.
func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
