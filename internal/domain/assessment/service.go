package assessment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mlcds/mlcds/internal/domain/cohort"
	"github.com/mlcds/mlcds/internal/platform/explain"
)

// ErrInvalidInput marks validation failures so handlers can map them to
// 400 responses.
var ErrInvalidInput = errors.New("invalid input")

// Predictor scores one feature vector.
type Predictor interface {
	Predict(x []float64) (float64, error)
}

// Explainer attributes one feature vector.
type Explainer interface {
	Explain(x []float64) (*explain.Attribution, error)
}

type Service struct {
	predictor    Predictor
	explainer    Explainer
	featureNames []string
	thresholds   cohort.Thresholds
}

func NewService(predictor Predictor, explainer Explainer, featureNames []string, thresholds cohort.Thresholds) *Service {
	return &Service{
		predictor:    predictor,
		explainer:    explainer,
		featureNames: featureNames,
		thresholds:   thresholds,
	}
}

// Thresholds returns the active quartile cut points.
func (s *Service) Thresholds() cohort.Thresholds { return s.thresholds }

// Assess validates the input, scores it, classifies the score against the
// cohort quartiles and attributes it to the individual measurements.
func (s *Service) Assess(ctx context.Context, input PatientInput) (*Assessment, error) {
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}

	x, err := input.Vector(s.featureNames)
	if err != nil {
		return nil, err
	}

	score, err := s.predictor.Predict(x)
	if err != nil {
		return nil, fmt.Errorf("score input: %w", err)
	}

	att, err := s.explainer.Explain(x)
	if err != nil {
		return nil, fmt.Errorf("attribute score: %w", err)
	}

	contributions := make([]Contribution, len(s.featureNames))
	for i, name := range s.featureNames {
		contributions[i] = Contribution{
			Feature: name,
			Label:   FeatureLabel(name),
			Value:   att.Contributions[i],
		}
	}

	return &Assessment{
		ID:            uuid.New(),
		CreatedAt:     time.Now().UTC(),
		Score:         score,
		RiskClass:     s.thresholds.Classify(score),
		ExpectedValue: att.ExpectedValue,
		Contributions: contributions,
		Thresholds:    s.thresholds,
		Input:         input,
	}, nil
}
