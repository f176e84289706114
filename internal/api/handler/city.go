package handler

import (
	"errors"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aqipulse/aqipulse/internal/api/models"
	"github.com/aqipulse/aqipulse/internal/api/response"
	"github.com/aqipulse/aqipulse/internal/readings"
)

// CompareLimit is how many cities the compare endpoint returns.
const CompareLimit = 5

// CityHandler serves per-city reading endpoints.
type CityHandler struct {
	readings *readings.Service
}

// NewCityHandler creates a new CityHandler.
func NewCityHandler(svc *readings.Service) *CityHandler {
	return &CityHandler{readings: svc}
}

// GetCity handles GET /v1/cities/{city} - latest reading for a city.
func (h *CityHandler) GetCity(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")
	if city == "" {
		response.BadRequest(w, r, "city is required", nil)
		return
	}

	row, err := h.readings.Latest(r.Context(), city)
	if err != nil {
		switch {
		case errors.Is(err, readings.ErrCityNotFound):
			response.NotFound(w, r, "no readings for city: "+city)
		case errors.Is(err, readings.ErrUpstreamUnavailable):
			response.ServiceUnavailable(w, r, "readings source unavailable")
		default:
			response.InternalError(w, r, "failed to load readings")
		}
		return
	}

	out := models.CityReading{
		City:       row.City,
		AQI:        row.AQI,
		Pollutants: finitePollutants(row.Pollutants),
	}
	if row.HasTimestamp() {
		ts := models.Timestamp(row.Timestamp)
		out.RecordedAt = &ts
	}
	response.JSON(w, r, http.StatusOK, out)
}

// GetHistory handles GET /v1/cities/{city}/history - yearly AQI trajectory.
func (h *CityHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")
	if city == "" {
		response.BadRequest(w, r, "city is required", nil)
		return
	}

	years, err := h.readings.History(r.Context(), city)
	if err != nil {
		switch {
		case errors.Is(err, readings.ErrCityNotFound):
			response.NotFound(w, r, "no readings for city: "+city)
		case errors.Is(err, readings.ErrUpstreamUnavailable):
			response.ServiceUnavailable(w, r, "readings source unavailable")
		default:
			response.InternalError(w, r, "failed to load readings")
		}
		return
	}

	out := models.CityHistory{
		City:  city,
		Years: make([]models.YearSummary, 0, len(years)),
	}
	for _, y := range years {
		out.Years = append(out.Years, models.YearSummary{
			Year:     y.Year,
			MeanAQI:  y.MeanAQI,
			Readings: y.Readings,
		})
	}
	response.JSON(w, r, http.StatusOK, out)
}

// Compare handles GET /v1/compare - most polluted cities by latest reading.
func (h *CityHandler) Compare(w http.ResponseWriter, r *http.Request) {
	top, err := h.readings.TopPolluted(r.Context(), CompareLimit)
	if err != nil {
		if errors.Is(err, readings.ErrUpstreamUnavailable) {
			response.ServiceUnavailable(w, r, "readings source unavailable")
			return
		}
		response.InternalError(w, r, "failed to load readings")
		return
	}

	out := models.CompareResponse{Cities: make([]models.CityReading, 0, len(top))}
	for _, c := range top {
		ts := models.Timestamp(c.Timestamp)
		out.Cities = append(out.Cities, models.CityReading{
			City:       c.City,
			AQI:        c.AQI,
			RecordedAt: &ts,
		})
	}
	response.JSON(w, r, http.StatusOK, out)
}

// finitePollutants drops NaN concentrations, which have no JSON encoding.
func finitePollutants(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
