package xgb

import (
	"fmt"
	"math"
)

// evalNode walks x down the tree from node i and returns the leaf value.
// NaN features take the recorded default branch, matching DMatrix missing
// value semantics.
func (t *Tree) evalNode(i int, x []float64) float64 {
	for !t.IsLeaf(i) {
		v := x[t.SplitIndices[i]]
		switch {
		case math.IsNaN(v):
			if t.DefaultLeft[i] != 0 {
				i = t.LeftChildren[i]
			} else {
				i = t.RightChildren[i]
			}
		case v < t.SplitConditions[i]:
			i = t.LeftChildren[i]
		default:
			i = t.RightChildren[i]
		}
	}
	return t.LeafValue(i)
}

// Eval returns the tree's output for x.
func (t *Tree) Eval(x []float64) float64 { return t.evalNode(0, x) }

// ExpectedValue returns the cover-weighted mean output of the tree, i.e.
// the value TreeSHAP attributes to the empty feature set.
func (t *Tree) ExpectedValue() float64 { return t.expectedNode(0) }

func (t *Tree) expectedNode(i int) float64 {
	if t.IsLeaf(i) {
		return t.LeafValue(i)
	}
	l, r := t.LeftChildren[i], t.RightChildren[i]
	return (t.Cover(l)*t.expectedNode(l) + t.Cover(r)*t.expectedNode(r)) / t.Cover(i)
}

// Predict runs one forward pass for a single feature vector, in the
// model's feature_names order, and returns the margin score.
func (m *Model) Predict(x []float64) (float64, error) {
	if len(x) != m.NumFeatures() {
		return 0, fmt.Errorf("feature vector has %d values, model expects %d",
			len(x), m.NumFeatures())
	}
	score := m.BaseScore
	for _, t := range m.Trees {
		score += t.Eval(x)
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("model produced a non-finite score")
	}
	return score, nil
}

// ExpectedValue returns the ensemble's cover-weighted mean prediction
// including the base score.
func (m *Model) ExpectedValue() float64 {
	ev := m.BaseScore
	for _, t := range m.Trees {
		ev += t.ExpectedValue()
	}
	return ev
}
