// Package xgb loads serialized XGBoost gradient-boosted tree ensembles
// (the JSON model format produced by Booster.save_model) and evaluates
// them for single feature vectors.
package xgb

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Tree is one regression tree of the ensemble, stored as parallel arrays
// indexed by node. A node is a leaf when its left child is negative; leaf
// values live in SplitConditions at leaf positions.
type Tree struct {
	LeftChildren    []int     `json:"left_children"`
	RightChildren   []int     `json:"right_children"`
	SplitIndices    []int     `json:"split_indices"`
	SplitConditions []float64 `json:"split_conditions"`
	DefaultLeft     []int     `json:"default_left"`
	SumHessian      []float64 `json:"sum_hessian"`
}

// NumNodes returns the node count of the tree.
func (t *Tree) NumNodes() int { return len(t.LeftChildren) }

// IsLeaf reports whether node i is a leaf.
func (t *Tree) IsLeaf(i int) bool { return t.LeftChildren[i] < 0 }

// LeafValue returns the output value stored at leaf i.
func (t *Tree) LeafValue(i int) float64 { return t.SplitConditions[i] }

// Cover returns the training-sample weight (sum of hessians) that reached
// node i. TreeSHAP uses these as conditional-expectation weights.
func (t *Tree) Cover(i int) float64 { return t.SumHessian[i] }

func (t *Tree) validate(numFeatures int) error {
	n := len(t.LeftChildren)
	if n == 0 {
		return fmt.Errorf("tree has no nodes")
	}
	if len(t.RightChildren) != n || len(t.SplitIndices) != n ||
		len(t.SplitConditions) != n || len(t.DefaultLeft) != n ||
		len(t.SumHessian) != n {
		return fmt.Errorf("tree node arrays have inconsistent lengths (num nodes %d)", n)
	}
	for i := 0; i < n; i++ {
		if t.IsLeaf(i) {
			continue
		}
		if t.LeftChildren[i] >= n || t.RightChildren[i] < 0 || t.RightChildren[i] >= n {
			return fmt.Errorf("node %d references child out of range", i)
		}
		if t.SplitIndices[i] < 0 || t.SplitIndices[i] >= numFeatures {
			return fmt.Errorf("node %d splits on feature %d, model has %d features",
				i, t.SplitIndices[i], numFeatures)
		}
		if t.SumHessian[i] <= 0 {
			return fmt.Errorf("node %d has non-positive cover", i)
		}
	}
	return nil
}

// Model is a loaded gradient-boosted tree ensemble.
type Model struct {
	Trees        []*Tree
	BaseScore    float64
	FeatureNames []string
}

// NumFeatures returns the width of the feature vector the model expects.
func (m *Model) NumFeatures() int { return len(m.FeatureNames) }

// flexFloat unmarshals a JSON number that XGBoost sometimes serializes
// as a quoted string (learner_model_param values are strings).
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse numeric field %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

// modelDoc mirrors the subset of the XGBoost JSON document the calculator
// needs. Unknown fields are ignored by encoding/json.
type modelDoc struct {
	Learner struct {
		FeatureNames    []string `json:"feature_names"`
		GradientBooster struct {
			Model struct {
				Trees []*Tree `json:"trees"`
			} `json:"model"`
		} `json:"gradient_booster"`
		LearnerModelParam struct {
			BaseScore  flexFloat `json:"base_score"`
			NumFeature flexFloat `json:"num_feature"`
		} `json:"learner_model_param"`
	} `json:"learner"`
}

// Load reads and validates an XGBoost JSON model file.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates an XGBoost JSON model document.
func Parse(data []byte) (*Model, error) {
	var doc modelDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode model JSON: %w", err)
	}

	m := &Model{
		Trees:        doc.Learner.GradientBooster.Model.Trees,
		BaseScore:    float64(doc.Learner.LearnerModelParam.BaseScore),
		FeatureNames: doc.Learner.FeatureNames,
	}

	if len(m.Trees) == 0 {
		return nil, fmt.Errorf("model contains no trees")
	}
	if len(m.FeatureNames) == 0 {
		return nil, fmt.Errorf("model declares no feature names")
	}
	if nf := int(doc.Learner.LearnerModelParam.NumFeature); nf != 0 && nf != len(m.FeatureNames) {
		return nil, fmt.Errorf("num_feature %d does not match %d feature names",
			nf, len(m.FeatureNames))
	}
	for i, t := range m.Trees {
		if err := t.validate(m.NumFeatures()); err != nil {
			return nil, fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return m, nil
}
