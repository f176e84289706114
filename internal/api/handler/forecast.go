package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aqipulse/aqipulse/internal/api/models"
	"github.com/aqipulse/aqipulse/internal/api/response"
	"github.com/aqipulse/aqipulse/internal/forecast"
)

// MaxForecastDays caps the requested horizon.
const MaxForecastDays = 365

// ForecastHandler serves AQI predictions.
type ForecastHandler struct {
	forecaster *forecast.Forecaster
	seasonal   *forecast.Seasonal
}

// NewForecastHandler creates a new ForecastHandler.
func NewForecastHandler(forecaster *forecast.Forecaster, seasonal *forecast.Seasonal) *ForecastHandler {
	return &ForecastHandler{forecaster: forecaster, seasonal: seasonal}
}

// Forecast handles POST /v1/forecast - predicted AQI for a city.
func (h *ForecastHandler) Forecast(w http.ResponseWriter, r *http.Request) {
	var req models.ForecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	var fieldErrors []models.FieldError
	if req.City == "" {
		fieldErrors = append(fieldErrors, models.FieldError{
			Field: "city", Message: "required", Code: "REQUIRED",
		})
	}
	if req.Days <= 0 || req.Days > MaxForecastDays {
		fieldErrors = append(fieldErrors, models.FieldError{
			Field: "days", Message: "must be between 1 and 365", Code: "OUT_OF_RANGE",
		})
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = models.StrategyEnsemble
	}
	if strategy != models.StrategyEnsemble && strategy != models.StrategySeasonal {
		fieldErrors = append(fieldErrors, models.FieldError{
			Field: "strategy", Message: "must be ensemble or seasonal", Code: "INVALID",
		})
	}
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "invalid forecast request", fieldErrors)
		return
	}

	var (
		series *forecast.Series
		err    error
	)
	switch strategy {
	case models.StrategySeasonal:
		series, err = h.seasonal.Forecast(r.Context(), req.City, req.Days)
	default:
		// The pooled model predicts for any city name, zero-filling the
		// city indicators. Fail closed on cities absent from the
		// training contract instead.
		var known bool
		known, err = h.forecaster.KnownCity(req.City)
		if err == nil && !known {
			response.NotFound(w, r, "no trained model covers city: "+req.City)
			return
		}
		if err == nil {
			series, err = h.forecaster.Forecast(r.Context(), req.City, req.Days)
		}
	}
	if err != nil {
		switch {
		case errors.Is(err, forecast.ErrInvalidHorizon):
			response.BadRequest(w, r, err.Error(), nil)
		case errors.Is(err, forecast.ErrModelNotTrained):
			response.NotFound(w, r, "no trained model for city: "+req.City)
		case errors.Is(err, forecast.ErrArtifactMissing):
			response.ServiceUnavailable(w, r, "model not trained yet; run training first")
		default:
			response.InternalError(w, r, "forecast failed")
		}
		return
	}

	out := models.ForecastResponse{
		City:        req.City,
		Strategy:    strategy,
		LowestAQI:   float64(series.Lowest),
		HighestAQI:  float64(series.Highest),
		Predictions: make([]models.ForecastPoint, 0, len(series.Points)),
	}
	for _, p := range series.Points {
		out.Predictions = append(out.Predictions, models.ForecastPoint{
			Date:         models.DateOnly(p.Date),
			PredictedAQI: float64(p.PredictedAQI),
		})
	}
	response.JSON(w, r, http.StatusOK, out)
}
