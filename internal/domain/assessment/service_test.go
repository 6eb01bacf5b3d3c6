package assessment

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/mlcds/mlcds/internal/domain/cohort"
	"github.com/mlcds/mlcds/internal/platform/explain"
	"github.com/mlcds/mlcds/internal/platform/xgb"
)

var modelFeatureNames = []string{
	"age", "sex", "nyha", "ckd", "rhythm",
	"LVEF", "LVGLS", "PALS", "LAVI", "TAPSE",
	"PAPs", "RVFWS", "ee_ratio", "SVi", "LVMi",
	"MRgrade", "TRgrade", "tapse_paps", "rvfws_paps",
}

// fixtureModel splits on LVEF and age only, enough to move the score
// across the default quartile boundaries.
func fixtureModel() *xgb.Model {
	lvefTree := &xgb.Tree{
		LeftChildren:    []int{1, -1, -1},
		RightChildren:   []int{2, -1, -1},
		SplitIndices:    []int{5, 0, 0},
		SplitConditions: []float64{40, 1.6, 0.4},
		DefaultLeft:     []int{1, 0, 0},
		SumHessian:      []float64{10, 3, 7},
	}
	ageTree := &xgb.Tree{
		LeftChildren:    []int{1, -1, -1},
		RightChildren:   []int{2, -1, -1},
		SplitIndices:    []int{0, 0, 0},
		SplitConditions: []float64{70, -0.1, 0.4},
		DefaultLeft:     []int{1, 0, 0},
		SumHessian:      []float64{10, 6, 4},
	}
	return &xgb.Model{
		Trees:        []*xgb.Tree{lvefTree, ageTree},
		BaseScore:    0.3,
		FeatureNames: modelFeatureNames,
	}
}

func newTestService() *Service {
	m := fixtureModel()
	return NewService(m, explain.New(m), m.FeatureNames, cohort.Default())
}

type stubPredictor struct {
	score float64
	err   error
}

func (s stubPredictor) Predict(x []float64) (float64, error) { return s.score, s.err }

type stubExplainer struct {
	att *explain.Attribution
	err error
}

func (s stubExplainer) Explain(x []float64) (*explain.Attribution, error) { return s.att, s.err }

func TestAssess(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	// LVEF 55 and age 75: 0.4 + 0.4 + 0.3 = 1.1, Medium-High.
	a, err := svc.Assess(ctx, DefaultInput())
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if math.Abs(a.Score-1.1) > 1e-12 {
		t.Errorf("Score = %v, want 1.1", a.Score)
	}
	if a.RiskClass != cohort.RiskMediumHigh {
		t.Errorf("RiskClass = %q, want %q", a.RiskClass, cohort.RiskMediumHigh)
	}
	if a.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("assessment ID not assigned")
	}
	if a.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if len(a.Contributions) != len(modelFeatureNames) {
		t.Fatalf("got %d contributions, want %d", len(a.Contributions), len(modelFeatureNames))
	}
	for i, contrib := range a.Contributions {
		if contrib.Feature != modelFeatureNames[i] {
			t.Errorf("contribution %d feature = %q, want %q", i, contrib.Feature, modelFeatureNames[i])
		}
		if contrib.Label == "" {
			t.Errorf("contribution %q has no label", contrib.Feature)
		}
	}

	// Local accuracy carried through the service.
	sum := a.ExpectedValue
	for _, contrib := range a.Contributions {
		sum += contrib.Value
	}
	if math.Abs(sum-a.Score) > 1e-9 {
		t.Errorf("expected value + contributions = %v, score = %v", sum, a.Score)
	}
}

func TestAssessClassesTrackScore(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	low := DefaultInput()
	low.LVEF = 55
	low.Age = 40 // 0.4 - 0.1 + 0.3 = 0.6, Medium-Low

	high := DefaultInput()
	high.LVEF = 30
	high.Age = 75 // 1.6 + 0.4 + 0.3 = 2.3, High

	a, err := svc.Assess(ctx, low)
	if err != nil {
		t.Fatalf("Assess(low): %v", err)
	}
	if a.RiskClass != cohort.RiskMediumLow {
		t.Errorf("low input class = %q, want %q", a.RiskClass, cohort.RiskMediumLow)
	}

	b, err := svc.Assess(ctx, high)
	if err != nil {
		t.Fatalf("Assess(high): %v", err)
	}
	if b.RiskClass != cohort.RiskHigh {
		t.Errorf("high input class = %q, want %q", b.RiskClass, cohort.RiskHigh)
	}
	if b.Score <= a.Score {
		t.Errorf("worse input scored %v, better input %v", b.Score, a.Score)
	}
}

func TestAssessDeterministic(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	input := DefaultInput()
	input.AtrialFibrillation = true
	input.LVEF = 35

	first, err := svc.Assess(ctx, input)
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	again, err := svc.Assess(ctx, input)
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if first.Score != again.Score || first.RiskClass != again.RiskClass {
		t.Errorf("repeated assessment differs: %v/%v vs %v/%v",
			first.Score, first.RiskClass, again.Score, again.RiskClass)
	}
	for i := range first.Contributions {
		if first.Contributions[i].Value != again.Contributions[i].Value {
			t.Errorf("contribution %q differs between runs", first.Contributions[i].Feature)
		}
	}
	if first.ID == again.ID {
		t.Error("repeated assessments share an ID")
	}
}

func TestAssessFiniteAcrossRangeCorners(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	lo := PatientInput{
		Age: 18, Sex: 0, NYHA: 1,
		LVEF: 20, LVMi: 50, LVGLS: 5, SVi: 15, LAVi: 15, PALS: 0,
		EOverEPrime: 4, PAPs: 10, TAPSE: 5, RVFWS: 5,
	}
	hi := PatientInput{
		Age: 110, Sex: 1, NYHA: 4, SevereCKD: true, AtrialFibrillation: true,
		LVEF: 80, LVMi: 250, LVGLS: 25, SVi: 70, LAVi: 100, PALS: 50,
		EOverEPrime: 50, PAPs: 120, TAPSE: 40, RVFWS: 40,
		MRGrade: 1, TRGrade: 1,
	}
	for _, input := range []PatientInput{lo, hi} {
		a, err := svc.Assess(ctx, input)
		if err != nil {
			t.Fatalf("Assess(%+v): %v", input, err)
		}
		if math.IsNaN(a.Score) || math.IsInf(a.Score, 0) {
			t.Errorf("non-finite score %v", a.Score)
		}
	}
}

func TestAssessInvalidInput(t *testing.T) {
	svc := newTestService()
	input := DefaultInput()
	input.LVEF = 5

	_, err := svc.Assess(context.Background(), input)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if !strings.Contains(err.Error(), "lvef") {
		t.Errorf("error %q does not name the field", err)
	}
}

func TestAssessPredictorFailure(t *testing.T) {
	svc := NewService(
		stubPredictor{err: errors.New("boom")},
		stubExplainer{att: &explain.Attribution{Contributions: make([]float64, len(modelFeatureNames))}},
		modelFeatureNames,
		cohort.Default(),
	)
	_, err := svc.Assess(context.Background(), DefaultInput())
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrInvalidInput) {
		t.Error("predictor failure must not look like a validation error")
	}
}

func TestAssessExplainerFailure(t *testing.T) {
	svc := NewService(
		stubPredictor{score: 1.0},
		stubExplainer{err: errors.New("boom")},
		modelFeatureNames,
		cohort.Default(),
	)
	if _, err := svc.Assess(context.Background(), DefaultInput()); err == nil {
		t.Fatal("expected error")
	}
}
