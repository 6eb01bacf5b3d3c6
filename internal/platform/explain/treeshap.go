// Package explain computes exact per-feature Shapley attributions for
// gradient-boosted tree ensembles. The implementation is the polynomial
// time TreeSHAP algorithm: feature subsets are marginalized with the
// cover (sum-of-hessian) weights recorded at training time, so the
// attributions of one input row sum to its prediction minus the
// ensemble's expected value.
package explain

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/mlcds/mlcds/internal/platform/xgb"
)

// Explainer computes attributions against a fixed model.
type Explainer struct {
	model *xgb.Model
}

// New creates an explainer for the given model.
func New(model *xgb.Model) *Explainer {
	return &Explainer{model: model}
}

// Attribution is the result of explaining one feature vector.
type Attribution struct {
	// Contributions holds one signed value per model feature, in
	// feature_names order.
	Contributions []float64
	// ExpectedValue is the ensemble's mean prediction (the waterfall
	// baseline). ExpectedValue + sum(Contributions) equals the score.
	ExpectedValue float64
}

// Explain returns the per-feature contributions for x.
func (e *Explainer) Explain(x []float64) (*Attribution, error) {
	if len(x) != e.model.NumFeatures() {
		return nil, fmt.Errorf("feature vector has %d values, model expects %d",
			len(x), e.model.NumFeatures())
	}
	phi := make([]float64, e.model.NumFeatures())
	tmp := make([]float64, e.model.NumFeatures())
	for _, t := range e.model.Trees {
		for i := range tmp {
			tmp[i] = 0
		}
		treeShap(t, x, tmp)
		floats.Add(phi, tmp)
	}
	for i, v := range phi {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("attribution for feature %d is not finite", i)
		}
	}
	return &Attribution{
		Contributions: phi,
		ExpectedValue: e.model.ExpectedValue(),
	}, nil
}

// pathElement is one entry of the unique feature path maintained during
// the recursion. zeroFraction is the share of cover-weighted paths that
// flow through when the feature is marginalized out; oneFraction is 1
// while the input follows the branch and 0 otherwise; pweight carries the
// permutation weights of all subset sizes for the current path.
type pathElement struct {
	featureIndex int
	zeroFraction float64
	oneFraction  float64
	pweight      float64
}

func treeShap(t *xgb.Tree, x, phi []float64) {
	// Maximum path length is bounded by tree depth + 1; node count is a
	// safe upper bound for the recursion's working copies.
	recurse(t, x, phi, 0, nil, 1, 1, -1)
}

func recurse(t *xgb.Tree, x, phi []float64, node int, parentPath []pathElement,
	parentZeroFraction, parentOneFraction float64, parentFeatureIndex int) {

	path := make([]pathElement, len(parentPath), len(parentPath)+1)
	copy(path, parentPath)
	path = extendPath(path, parentZeroFraction, parentOneFraction, parentFeatureIndex)

	if t.IsLeaf(node) {
		value := t.LeafValue(node)
		for i := 1; i < len(path); i++ {
			w := unwoundPathSum(path, i)
			el := path[i]
			phi[el.featureIndex] += w * (el.oneFraction - el.zeroFraction) * value
		}
		return
	}

	split := t.SplitIndices[node]
	left, right := t.LeftChildren[node], t.RightChildren[node]

	hot, cold := left, right
	v := x[split]
	if math.IsNaN(v) {
		if t.DefaultLeft[node] == 0 {
			hot, cold = right, left
		}
	} else if v >= t.SplitConditions[node] {
		hot, cold = right, left
	}

	hotZeroFraction := t.Cover(hot) / t.Cover(node)
	coldZeroFraction := t.Cover(cold) / t.Cover(node)
	incomingZeroFraction, incomingOneFraction := 1.0, 1.0

	// Undo a previous extension when the tree splits on this feature
	// again further down the path.
	if k := findFeature(path, split); k >= 0 {
		incomingZeroFraction = path[k].zeroFraction
		incomingOneFraction = path[k].oneFraction
		path = unwindPath(path, k)
	}

	recurse(t, x, phi, hot, path, hotZeroFraction*incomingZeroFraction,
		incomingOneFraction, split)
	recurse(t, x, phi, cold, path, coldZeroFraction*incomingZeroFraction,
		0, split)
}

func findFeature(path []pathElement, featureIndex int) int {
	// Index 0 is the root sentinel (featureIndex -1); real features start at 1.
	for i := 1; i < len(path); i++ {
		if path[i].featureIndex == featureIndex {
			return i
		}
	}
	return -1
}

func extendPath(path []pathElement, zeroFraction, oneFraction float64, featureIndex int) []pathElement {
	depth := len(path)
	pw := 0.0
	if depth == 0 {
		pw = 1.0
	}
	path = append(path, pathElement{
		featureIndex: featureIndex,
		zeroFraction: zeroFraction,
		oneFraction:  oneFraction,
		pweight:      pw,
	})
	for i := depth - 1; i >= 0; i-- {
		path[i+1].pweight += oneFraction * path[i].pweight * float64(i+1) / float64(depth+1)
		path[i].pweight = zeroFraction * path[i].pweight * float64(depth-i) / float64(depth+1)
	}
	return path
}

func unwindPath(path []pathElement, index int) []pathElement {
	depth := len(path) - 1
	one := path[index].oneFraction
	zero := path[index].zeroFraction
	next := path[depth].pweight

	if one != 0 {
		for i := depth - 1; i >= 0; i-- {
			tmp := path[i].pweight
			path[i].pweight = next * float64(depth+1) / (float64(i+1) * one)
			next = tmp - path[i].pweight*zero*float64(depth-i)/float64(depth+1)
		}
	} else {
		for i := depth - 1; i >= 0; i-- {
			path[i].pweight = path[i].pweight * float64(depth+1) / (zero * float64(depth-i))
		}
	}
	for i := index; i < depth; i++ {
		path[i].featureIndex = path[i+1].featureIndex
		path[i].zeroFraction = path[i+1].zeroFraction
		path[i].oneFraction = path[i+1].oneFraction
	}
	return path[:depth]
}

func unwoundPathSum(path []pathElement, index int) float64 {
	depth := len(path) - 1
	one := path[index].oneFraction
	zero := path[index].zeroFraction
	next := path[depth].pweight
	total := 0.0

	if one != 0 {
		for i := depth - 1; i >= 0; i-- {
			tmp := next / (float64(i+1) * one)
			total += tmp
			next = path[i].pweight - tmp*zero*float64(depth-i)
		}
	} else {
		for i := depth - 1; i >= 0; i-- {
			total += path[i].pweight / (zero * float64(depth-i))
		}
	}
	return total * float64(depth+1)
}
