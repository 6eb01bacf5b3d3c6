package assessment

import (
	"errors"
	"html/template"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mlcds/mlcds/internal/domain/cohort"
	"github.com/mlcds/mlcds/internal/platform/chart"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes wires the browser pages on the root group and the JSON
// endpoints on the API group.
func (h *Handler) RegisterRoutes(e *echo.Echo, api *echo.Group) {
	e.GET("/", h.ShowForm)
	e.POST("/assess", h.AssessForm)

	api.POST("/assessments", h.CreateAssessment)
	api.GET("/thresholds", h.GetThresholds)
}

// ShowForm renders the input form pre-filled with defaults.
func (h *Handler) ShowForm(c echo.Context) error {
	return c.Render(http.StatusOK, "form.html", map[string]interface{}{
		"Input":      DefaultInput(),
		"Thresholds": h.svc.Thresholds(),
		"Classes":    cohort.Classes(),
	})
}

// AssessForm handles the form submission and renders the result page with
// the attribution waterfall.
func (h *Handler) AssessForm(c echo.Context) error {
	var input PatientInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Assess(c.Request().Context(), input)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	entries := make([]chart.Entry, len(a.Contributions))
	for i, contrib := range a.Contributions {
		entries[i] = chart.Entry{Label: contrib.Label, Value: contrib.Value}
	}
	waterfall, err := chart.Waterfall("Score attribution", entries, a.ExpectedValue, a.Score)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.Render(http.StatusOK, "result.html", map[string]interface{}{
		"Assessment": a,
		"Chart":      template.HTML(waterfall),
	})
}

// CreateAssessment is the JSON counterpart of the form flow.
func (h *Handler) CreateAssessment(c echo.Context) error {
	var input PatientInput
	if err := c.Bind(&input); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Assess(c.Request().Context(), input)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, a)
}

// GetThresholds returns the active cut points and class order.
func (h *Handler) GetThresholds(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"thresholds": h.svc.Thresholds(),
		"classes":    cohort.Classes(),
	})
}
