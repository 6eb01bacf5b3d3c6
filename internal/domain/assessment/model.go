package assessment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mlcds/mlcds/internal/domain/cohort"
)

// PatientInput holds the clinical and echocardiographic measurements for
// one assessment. Bounds follow the measurement ranges the score was
// derived on.
type PatientInput struct {
	Age                int     `json:"age" form:"age"`
	Sex                int     `json:"sex" form:"sex"` // 0 female, 1 male
	NYHA               int     `json:"nyha" form:"nyha"`
	SevereCKD          bool    `json:"severe_ckd" form:"severe_ckd"`
	AtrialFibrillation bool    `json:"atrial_fibrillation" form:"atrial_fibrillation"`
	LVEF               float64 `json:"lvef" form:"lvef"`
	LVMi               float64 `json:"lvmi" form:"lvmi"`
	LVGLS              float64 `json:"lvgls" form:"lvgls"`
	SVi                float64 `json:"svi" form:"svi"`
	LAVi               float64 `json:"lavi" form:"lavi"`
	PALS               float64 `json:"pals" form:"pals"`
	EOverEPrime        float64 `json:"ee_ratio" form:"ee_ratio"`
	PAPs               float64 `json:"paps" form:"paps"`
	TAPSE              float64 `json:"tapse" form:"tapse"`
	RVFWS              float64 `json:"rvfws" form:"rvfws"`
	MRGrade            int     `json:"mr_grade" form:"mr_grade"`
	TRGrade            int     `json:"tr_grade" form:"tr_grade"`
}

// DefaultInput returns the form's pre-filled values, a plausible elderly
// patient with normal echocardiographic measurements.
func DefaultInput() PatientInput {
	return PatientInput{
		Age:         75,
		Sex:         0,
		NYHA:        2,
		LVEF:        55,
		LVMi:        110,
		LVGLS:       18.0,
		SVi:         35,
		LAVi:        40,
		PALS:        25.0,
		EOverEPrime: 12.0,
		PAPs:        30,
		TAPSE:       20,
		RVFWS:       22.0,
	}
}

// Validate checks every field against its clinical range.
func (p *PatientInput) Validate() error {
	checks := []struct {
		name     string
		value    float64
		min, max float64
	}{
		{"age", float64(p.Age), 18, 110},
		{"lvef", p.LVEF, 20, 80},
		{"lvmi", p.LVMi, 50, 250},
		{"lvgls", p.LVGLS, 5, 25},
		{"svi", p.SVi, 15, 70},
		{"lavi", p.LAVi, 15, 100},
		{"pals", p.PALS, 0, 50},
		{"ee_ratio", p.EOverEPrime, 4, 50},
		{"paps", p.PAPs, 10, 120},
		{"tapse", p.TAPSE, 5, 40},
		{"rvfws", p.RVFWS, 5, 40},
	}
	for _, c := range checks {
		if c.value < c.min || c.value > c.max {
			return fmt.Errorf("%s must be between %g and %g", c.name, c.min, c.max)
		}
	}
	if p.Sex != 0 && p.Sex != 1 {
		return fmt.Errorf("sex must be 0 (female) or 1 (male)")
	}
	if p.NYHA < 1 || p.NYHA > 4 {
		return fmt.Errorf("nyha must be between 1 and 4")
	}
	if p.MRGrade != 0 && p.MRGrade != 1 {
		return fmt.Errorf("mr_grade must be 0 or 1")
	}
	if p.TRGrade != 0 && p.TRGrade != 1 {
		return fmt.Errorf("tr_grade must be 0 or 1")
	}
	return nil
}

// featureValues maps the input onto the model's feature keys, including
// the derived right-heart coupling ratios.
func (p *PatientInput) featureValues() map[string]float64 {
	tapsePAPs, rvfwsPAPs := 0.0, 0.0
	if p.PAPs > 0 {
		tapsePAPs = p.TAPSE / p.PAPs
		rvfwsPAPs = p.RVFWS / p.PAPs
	}
	return map[string]float64{
		"age":        float64(p.Age),
		"sex":        float64(p.Sex),
		"nyha":       float64(p.NYHA),
		"ckd":        boolToFloat(p.SevereCKD),
		"rhythm":     boolToFloat(p.AtrialFibrillation),
		"LVEF":       p.LVEF,
		"LVGLS":      p.LVGLS,
		"PALS":       p.PALS,
		"LAVI":       p.LAVi,
		"TAPSE":      p.TAPSE,
		"PAPs":       p.PAPs,
		"RVFWS":      p.RVFWS,
		"ee_ratio":   p.EOverEPrime,
		"SVi":        p.SVi,
		"LVMi":       p.LVMi,
		"MRgrade":    float64(p.MRGrade),
		"TRgrade":    float64(p.TRGrade),
		"tapse_paps": tapsePAPs,
		"rvfws_paps": rvfwsPAPs,
	}
}

// Vector assembles the feature vector in the model's declared order.
func (p *PatientInput) Vector(featureNames []string) ([]float64, error) {
	values := p.featureValues()
	x := make([]float64, len(featureNames))
	for i, name := range featureNames {
		v, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("model expects unknown feature %q", name)
		}
		x[i] = v
	}
	return x, nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// featureLabels maps model feature keys to display names for the result
// page and the attribution chart.
var featureLabels = map[string]string{
	"age":        "Age",
	"sex":        "Sex",
	"nyha":       "NYHA class",
	"ckd":        "Severe CKD",
	"rhythm":     "Atrial fibrillation",
	"LVEF":       "LVEF",
	"LVGLS":      "LVGLS",
	"PALS":       "PALS",
	"LAVI":       "LAVi",
	"TAPSE":      "TAPSE",
	"PAPs":       "PAPs",
	"RVFWS":      "RVFWS",
	"ee_ratio":   "E/e' ratio",
	"SVi":        "SVi",
	"LVMi":       "LVMi",
	"MRgrade":    "MR grade",
	"TRgrade":    "TR grade",
	"tapse_paps": "TAPSE/PAPs",
	"rvfws_paps": "RVFWS/PAPs",
}

// FeatureLabel returns the display name for a model feature key.
func FeatureLabel(name string) string {
	if l, ok := featureLabels[name]; ok {
		return l
	}
	return name
}

// Contribution is one feature's signed share of the score.
type Contribution struct {
	Feature string  `json:"feature"`
	Label   string  `json:"label"`
	Value   float64 `json:"value"`
}

// Assessment is the full result document for one patient.
type Assessment struct {
	ID            uuid.UUID         `json:"id"`
	CreatedAt     time.Time         `json:"created_at"`
	Score         float64           `json:"score"`
	RiskClass     cohort.RiskClass  `json:"risk_class"`
	ExpectedValue float64           `json:"expected_value"`
	Contributions []Contribution    `json:"contributions"`
	Thresholds    cohort.Thresholds `json:"thresholds"`
	Input         PatientInput      `json:"input"`
}
