package forecast

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aqipulse/aqipulse/internal/dataset"
	"github.com/aqipulse/aqipulse/internal/features"
)

// ErrInvalidHorizon is returned for non-positive forecast horizons.
var ErrInvalidHorizon = errors.New("forecast horizon must be positive")

// Point is one predicted day.
type Point struct {
	Date         time.Time `json:"date"`
	PredictedAQI int       `json:"predicted_aqi"`
}

// Series is an ordered forecast with its extrema precomputed, so callers
// never need to re-scan the points.
type Series struct {
	Points  []Point `json:"points"`
	Lowest  int     `json:"lowest"`
	Highest int     `json:"highest"`
}

// ForecasterConfig holds configuration for the forecast inferencer.
type ForecasterConfig struct {
	// Store loads the persisted model/contract pair.
	Store Store

	// Logger for inference events.
	Logger zerolog.Logger

	// Now overrides the clock; used by tests for deterministic dates.
	Now func() time.Time
}

// Forecaster produces point predictions from the persisted pooled model.
type Forecaster struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewForecaster creates a Forecaster.
func NewForecaster(cfg ForecasterConfig) *Forecaster {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Forecaster{
		store:  cfg.Store,
		logger: cfg.Logger,
		now:    now,
	}
}

// Forecast predicts AQI for the given city over the next days, starting the
// day after the call time, one point per day with strictly increasing dates.
//
// A city unseen at training time still yields numeric predictions: its
// indicator column is absent from the contract, so alignment zero-fills
// every city indicator and the model predicts as if no city-specific effect
// applied. Callers that must reject unknown cities should check KnownCity
// first.
func (f *Forecaster) Forecast(ctx context.Context, city string, days int) (*Series, error) {
	if days <= 0 {
		return nil, ErrInvalidHorizon
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	artifact, err := f.store.Load()
	if err != nil {
		return nil, err
	}

	city = dataset.CanonicalCity(city)
	base := f.now()
	dates := make([]time.Time, days)
	for i := range dates {
		dates[i] = base.AddDate(0, 0, i+1)
	}

	frame := features.FutureFrame(city, dates)
	aligned := features.Align(frame, artifact.Contract)

	series := &Series{Points: make([]Point, days)}
	for i, row := range aligned.Rows {
		pred := int(math.Round(artifact.Model.Predict(row)))
		series.Points[i] = Point{Date: dates[i], PredictedAQI: pred}
		if i == 0 || pred < series.Lowest {
			series.Lowest = pred
		}
		if i == 0 || pred > series.Highest {
			series.Highest = pred
		}
	}

	f.logger.Debug().
		Str("city", city).
		Int("days", days).
		Str("model_version", artifact.Version).
		Msg("forecast computed")

	return series, nil
}

// KnownCity reports whether the city has an indicator column in the trained
// contract, letting callers fail closed instead of accepting the zero-fill
// prediction for unseen cities.
func (f *Forecaster) KnownCity(city string) (bool, error) {
	artifact, err := f.store.Load()
	if err != nil {
		return false, err
	}
	column := features.CityColumnPrefix + dataset.CanonicalCity(city)
	return artifact.HasCity(column), nil
}

// ModelInfo summarizes the persisted artifact for operational endpoints.
type ModelInfo struct {
	Version   string    `json:"version"`
	TrainedAt time.Time `json:"trained_at"`
	Cities    int       `json:"cities"`
	Features  int       `json:"features"`
}

// Info returns metadata about the current artifact.
func (f *Forecaster) Info() (*ModelInfo, error) {
	artifact, err := f.store.Load()
	if err != nil {
		return nil, err
	}
	cities := 0
	for _, c := range artifact.Contract {
		if len(c) > len(features.CityColumnPrefix) && c[:len(features.CityColumnPrefix)] == features.CityColumnPrefix {
			cities++
		}
	}
	return &ModelInfo{
		Version:   artifact.Version,
		TrainedAt: artifact.TrainedAt,
		Cities:    cities,
		Features:  len(artifact.Contract),
	}, nil
}

// daysToMonths converts a day horizon to forecast steps for the monthly
// seasonal strategy, rounding up.
func daysToMonths(days int) int {
	return int(math.Ceil(float64(days) / 30.0))
}
