package readings_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aqipulse/aqipulse/internal/dataset"
	"github.com/aqipulse/aqipulse/internal/readings"
)

func testRecords() []dataset.Record {
	return []dataset.Record{
		{"city": "Delhi", "date": "2023-06-01", "aqi": 210.0},
		{"city": "Delhi", "date": "2024-01-01", "aqi": 190.0},
		{"city": "Delhi", "date": "2024-06-01", "aqi": 170.0},
		{"city": "mumbai", "date": "2024-05-01", "aqi": 110.0},
		{"city": "MUMBAI", "date": "2024-06-01", "aqi": 120.0},
	}
}

func newService(repo readings.Source, ttl time.Duration) *readings.Service {
	return readings.NewService(readings.ServiceConfig{
		Source:   repo,
		Logger:   zerolog.New(io.Discard),
		CacheTTL: ttl,
	})
}

func TestDatasetIsCachedUntilTTL(t *testing.T) {
	repo := readings.NewMemoryRepository(testRecords())
	svc := newService(repo, time.Hour)

	ctx := context.Background()
	first, err := svc.Dataset(ctx)
	require.NoError(t, err)
	second, err := svc.Dataset(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.Len(), second.Len())
	assert.Equal(t, 1, repo.FetchCount())
}

func TestDatasetReturnsDefensiveCopy(t *testing.T) {
	repo := readings.NewMemoryRepository(testRecords())
	svc := newService(repo, time.Hour)

	ctx := context.Background()
	ds, err := svc.Dataset(ctx)
	require.NoError(t, err)
	ds.Rows[0].City = "Tampered"

	fresh, err := svc.Dataset(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Delhi", fresh.Rows[0].City)
}

func TestRefreshForcesFetch(t *testing.T) {
	repo := readings.NewMemoryRepository(testRecords())
	svc := newService(repo, time.Hour)

	ctx := context.Background()
	_, err := svc.Dataset(ctx)
	require.NoError(t, err)

	svc.Invalidate()
	require.NoError(t, svc.Refresh(ctx))
	assert.Equal(t, 2, repo.FetchCount())

	status := svc.Status()
	assert.True(t, status.HasData)
	assert.Equal(t, 5, status.Rows)
}

func TestStaleDataServedOnFetchError(t *testing.T) {
	repo := readings.NewMemoryRepository(testRecords())
	svc := readings.NewService(readings.ServiceConfig{
		Source:          repo,
		Logger:          zerolog.New(io.Discard),
		CacheTTL:        time.Nanosecond,
		StaleIfErrorTTL: time.Hour,
	})

	ctx := context.Background()
	_, err := svc.Dataset(ctx)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	repo.FailWith(errors.New("connection refused"), false)

	ds, err := svc.Dataset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, ds.Len())
}

func TestPartialFetchResultsAreKept(t *testing.T) {
	repo := readings.NewMemoryRepository(testRecords())
	repo.FailWith(errors.New("page 3 timed out"), true)
	svc := newService(repo, time.Hour)

	ds, err := svc.Dataset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, ds.Len())
}

func TestFetchErrorWithoutCacheFails(t *testing.T) {
	repo := readings.NewMemoryRepository(nil)
	repo.FailWith(errors.New("connection refused"), false)
	svc := newService(repo, time.Hour)

	_, err := svc.Dataset(context.Background())
	assert.Error(t, err)
}

func TestLatest(t *testing.T) {
	svc := newService(readings.NewMemoryRepository(testRecords()), time.Hour)

	row, err := svc.Latest(context.Background(), "delhi")
	require.NoError(t, err)
	assert.Equal(t, "Delhi", row.City)
	assert.InDelta(t, 170.0, row.AQI, 1e-9)

	_, err = svc.Latest(context.Background(), "Atlantis")
	assert.ErrorIs(t, err, readings.ErrCityNotFound)
}

func TestHistoryYearlyTrajectory(t *testing.T) {
	svc := newService(readings.NewMemoryRepository(testRecords()), time.Hour)

	years, err := svc.History(context.Background(), "Delhi")
	require.NoError(t, err)
	require.Len(t, years, 2)

	assert.Equal(t, 2023, years[0].Year)
	assert.InDelta(t, 210.0, years[0].MeanAQI, 1e-9)
	assert.Equal(t, 2024, years[1].Year)
	assert.InDelta(t, 180.0, years[1].MeanAQI, 1e-9)
	assert.Equal(t, 2, years[1].Readings)
}

func TestTopPolluted(t *testing.T) {
	svc := newService(readings.NewMemoryRepository(testRecords()), time.Hour)

	top, err := svc.TopPolluted(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, top, 2)

	// Latest Delhi reading (170) outranks latest Mumbai reading (120).
	assert.Equal(t, "Delhi", top[0].City)
	assert.InDelta(t, 170.0, top[0].AQI, 1e-9)
	assert.Equal(t, "Mumbai", top[1].City)

	one, err := svc.TopPolluted(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}
