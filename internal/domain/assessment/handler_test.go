package assessment

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/mlcds/mlcds/internal/domain/cohort"
	"github.com/mlcds/mlcds/internal/platform/web"
)

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()

	renderer, err := web.NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	e := echo.New()
	e.Renderer = renderer

	h := NewHandler(newTestService())
	h.RegisterRoutes(e, e.Group("/api/v1"))
	return e
}

func defaultForm() url.Values {
	return url.Values{
		"age": {"75"}, "sex": {"0"}, "nyha": {"2"},
		"severe_ckd": {"false"}, "atrial_fibrillation": {"false"},
		"lvef": {"55"}, "lvmi": {"110"}, "lvgls": {"18"}, "svi": {"35"},
		"lavi": {"40"}, "pals": {"25"}, "ee_ratio": {"12"}, "paps": {"30"},
		"tapse": {"20"}, "rvfws": {"22"}, "mr_grade": {"0"}, "tr_grade": {"0"},
	}
}

func TestShowForm(t *testing.T) {
	e := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`name="lvef"`, `name="paps"`, "Risk classes"} {
		if !strings.Contains(body, want) {
			t.Errorf("form page missing %q", want)
		}
	}
}

func TestAssessForm(t *testing.T) {
	e := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/assess",
		strings.NewReader(defaultForm().Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	// Default input scores 1.1 against the fixture model.
	for _, want := range []string{"1.1000", "Medium-High", "echarts"} {
		if !strings.Contains(body, want) {
			t.Errorf("result page missing %q", want)
		}
	}
}

func TestAssessFormRejectsOutOfRange(t *testing.T) {
	e := newTestServer(t)

	form := defaultForm()
	form.Set("lvef", "5")
	req := httptest.NewRequest(http.MethodPost, "/assess",
		strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "lvef") {
		t.Errorf("error body %q does not name the field", rec.Body.String())
	}
}

func TestCreateAssessment(t *testing.T) {
	e := newTestServer(t)

	payload := `{
		"age": 75, "sex": 0, "nyha": 2,
		"severe_ckd": false, "atrial_fibrillation": false,
		"lvef": 55, "lvmi": 110, "lvgls": 18, "svi": 35, "lavi": 40,
		"pals": 25, "ee_ratio": 12, "paps": 30, "tapse": 20, "rvfws": 22,
		"mr_grade": 0, "tr_grade": 0
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assessments",
		strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}

	var a Assessment
	if err := json.Unmarshal(rec.Body.Bytes(), &a); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if math.Abs(a.Score-1.1) > 1e-9 {
		t.Errorf("score = %v, want 1.1", a.Score)
	}
	if a.RiskClass != cohort.RiskMediumHigh {
		t.Errorf("risk class = %q, want %q", a.RiskClass, cohort.RiskMediumHigh)
	}
	if len(a.Contributions) != len(modelFeatureNames) {
		t.Errorf("got %d contributions, want %d", len(a.Contributions), len(modelFeatureNames))
	}

	// Same payload scores identically.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/assessments",
		strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec2 := httptest.NewRecorder()
	e.ServeHTTP(rec2, req)

	var b Assessment
	if err := json.Unmarshal(rec2.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode second response: %v", err)
	}
	if b.Score != a.Score || b.RiskClass != a.RiskClass {
		t.Errorf("repeated request differs: %v/%v vs %v/%v",
			a.Score, a.RiskClass, b.Score, b.RiskClass)
	}
}

func TestCreateAssessmentRejectsInvalid(t *testing.T) {
	e := newTestServer(t)

	cases := []struct {
		name    string
		payload string
	}{
		{"malformed JSON", `{"age": `},
		{"age out of range", `{"age": 5, "sex": 0, "nyha": 2, "lvef": 55, "lvmi": 110,
			"lvgls": 18, "svi": 35, "lavi": 40, "pals": 25, "ee_ratio": 12,
			"paps": 30, "tapse": 20, "rvfws": 22}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/assessments",
				strings.NewReader(tc.payload))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestGetThresholds(t *testing.T) {
	e := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/thresholds", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Thresholds cohort.Thresholds `json:"thresholds"`
		Classes    []cohort.RiskClass `json:"classes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Thresholds != cohort.Default() {
		t.Errorf("thresholds = %+v, want defaults", resp.Thresholds)
	}
	if len(resp.Classes) != 4 {
		t.Errorf("got %d classes, want 4", len(resp.Classes))
	}
}
