package forecast_test

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqipulse/aqipulse/internal/dataset"
	"github.com/aqipulse/aqipulse/internal/forecast"
)

// monthlyDataset builds months of monthly readings for a city with a yearly
// sinusoidal pattern around a base level.
func monthlyDataset(city string, months int) *dataset.Dataset {
	start := time.Date(2018, 1, 15, 0, 0, 0, 0, time.UTC)
	var recs []dataset.Record
	for i := 0; i < months; i++ {
		aqi := 150 + 40*math.Sin(2*math.Pi*float64(i)/12) + 0.2*float64(i)
		recs = append(recs, dataset.Record{
			"city": city,
			"date": start.AddDate(0, i, 0).Format("2006-01-02"),
			"aqi":  aqi,
		})
	}
	return dataset.Normalize(recs)
}

func newSeasonal(t *testing.T) *forecast.Seasonal {
	t.Helper()
	return forecast.NewSeasonal(forecast.SeasonalConfig{
		Store:  forecast.NewSeasonalStore(t.TempDir()),
		Logger: zerolog.New(io.Discard),
		Now: func() time.Time {
			return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
		},
	})
}

func TestSeasonalTrainAndForecast(t *testing.T) {
	s := newSeasonal(t)
	ds := monthlyDataset("Delhi", 72)

	require.NoError(t, s.TrainCity(context.Background(), ds, "Delhi"))

	// 65 days rounds up to 3 monthly steps.
	series, err := s.Forecast(context.Background(), "Delhi", 65)
	require.NoError(t, err)
	require.Len(t, series.Points, 3)

	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), series.Points[0].Date)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), series.Points[1].Date)
	for _, p := range series.Points {
		assert.LessOrEqual(t, series.Lowest, p.PredictedAQI)
		assert.GreaterOrEqual(t, series.Highest, p.PredictedAQI)
	}
}

func TestSeasonalFailsClosedForUntrainedCity(t *testing.T) {
	s := newSeasonal(t)
	_, err := s.Forecast(context.Background(), "Chennai", 30)
	assert.ErrorIs(t, err, forecast.ErrModelNotTrained)
}

func TestSeasonalInsufficientHistory(t *testing.T) {
	s := newSeasonal(t)
	ds := monthlyDataset("Pune", 6)

	err := s.TrainCity(context.Background(), ds, "Pune")
	assert.ErrorIs(t, err, forecast.ErrInsufficientHistory)
}

func TestSeasonalTrainAllIsolatesFailures(t *testing.T) {
	s := newSeasonal(t)

	long := monthlyDataset("Delhi", 72)
	short := monthlyDataset("Pune", 4)
	combined := &dataset.Dataset{Columns: long.Columns}
	combined.Rows = append(combined.Rows, long.Rows...)
	combined.Rows = append(combined.Rows, short.Rows...)

	summary, err := s.TrainAll(context.Background(), combined)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Trained)
	assert.Equal(t, 1, summary.Skipped["insufficient_history"])
}

func TestSeasonalShortHistoryFitsNonSeasonal(t *testing.T) {
	dir := t.TempDir()
	s := forecast.NewSeasonal(forecast.SeasonalConfig{
		Store:  forecast.NewSeasonalStore(dir),
		Logger: zerolog.New(io.Discard),
		Now: func() time.Time {
			return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
		},
	})
	// Barely over a year of history: enough for the plain order, far too
	// short for the seasonal one.
	ds := monthlyDataset("Jaipur", 15)

	require.NoError(t, s.TrainCity(context.Background(), ds, "Jaipur"))

	blob, err := os.ReadFile(filepath.Join(dir, "jaipur.json"))
	require.NoError(t, err)
	var m struct {
		Seasonal bool `json:"seasonal"`
	}
	require.NoError(t, json.Unmarshal(blob, &m))
	assert.False(t, m.Seasonal)

	series, err := s.Forecast(context.Background(), "Jaipur", 30)
	require.NoError(t, err)
	require.Len(t, series.Points, 1)
}

func TestSeasonalForecastHonorsPersistedOrder(t *testing.T) {
	dir := t.TempDir()
	s := forecast.NewSeasonal(forecast.SeasonalConfig{
		Store:  forecast.NewSeasonalStore(dir),
		Logger: zerolog.New(io.Discard),
	})

	// A blob claiming a seasonal order over a series too short for the
	// seasonal fit must fail closed instead of silently refitting a
	// different order.
	values := make([]float64, 15)
	for i := range values {
		values[i] = 150 + float64(i)
	}
	blob, err := json.Marshal(map[string]any{
		"city":     "Jaipur",
		"seasonal": true,
		"values":   values,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jaipur.json"), blob, 0o644))

	_, err = s.Forecast(context.Background(), "Jaipur", 30)
	assert.ErrorIs(t, err, forecast.ErrInsufficientHistory)
}

func TestSeasonalForecastIsDeterministic(t *testing.T) {
	s := newSeasonal(t)
	ds := monthlyDataset("Delhi", 72)
	require.NoError(t, s.TrainCity(context.Background(), ds, "Delhi"))

	a, err := s.Forecast(context.Background(), "Delhi", 90)
	require.NoError(t, err)
	b, err := s.Forecast(context.Background(), "Delhi", 90)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
