package handler

import (
	"errors"
	"net/http"

	"github.com/aqipulse/aqipulse/internal/api/models"
	"github.com/aqipulse/aqipulse/internal/api/response"
	"github.com/aqipulse/aqipulse/internal/readings"
	"github.com/aqipulse/aqipulse/internal/trend"
)

// AnalyticsHandler serves the trend analytics endpoints.
type AnalyticsHandler struct {
	readings  *readings.Service
	minPoints int
}

// NewAnalyticsHandler creates a new AnalyticsHandler.
func NewAnalyticsHandler(svc *readings.Service, minPoints int) *AnalyticsHandler {
	if minPoints <= 0 {
		minPoints = trend.DefaultMinPoints
	}
	return &AnalyticsHandler{readings: svc, minPoints: minPoints}
}

// GetImproving handles GET /v1/analytics/improving - cities with a
// downward AQI trend, most-improving first, plus detector diagnostics.
func (h *AnalyticsHandler) GetImproving(w http.ResponseWriter, r *http.Request) {
	ds, err := h.readings.Dataset(r.Context())
	if err != nil {
		if errors.Is(err, readings.ErrUpstreamUnavailable) {
			response.ServiceUnavailable(w, r, "readings source unavailable")
			return
		}
		response.InternalError(w, r, "failed to load readings")
		return
	}

	report := trend.Detect(ds, h.minPoints)

	out := models.ImprovingResponse{
		Improving: make([]models.ImprovingCity, 0, len(report.Improving)),
		Diagnostics: models.TrendDiagnostics{
			CitiesEvaluated: report.Diagnostics.CitiesEvaluated,
			NotImproving:    report.Diagnostics.NotImproving,
			DroppedRows:     report.Diagnostics.DroppedRows,
		},
	}
	if len(report.Diagnostics.Skipped) > 0 {
		out.Diagnostics.Skipped = make(map[string]int, len(report.Diagnostics.Skipped))
		for reason, n := range report.Diagnostics.Skipped {
			out.Diagnostics.Skipped[string(reason)] = n
		}
	}
	for _, res := range report.Improving {
		out.Improving = append(out.Improving, models.ImprovingCity{
			City:         res.City,
			SlopePerYear: res.SlopePerYear,
			Points:       res.Points,
		})
	}
	response.JSON(w, r, http.StatusOK, out)
}
