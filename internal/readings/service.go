package readings

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aqipulse/aqipulse/internal/dataset"
)

// ServiceConfig holds configuration for the readings service.
type ServiceConfig struct {
	// Source fetches raw records.
	Source Source

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long a normalized dataset stays fresh (default: 5m).
	CacheTTL time.Duration

	// StaleIfErrorTTL allows serving stale data on fetch errors
	// (default: 30m).
	StaleIfErrorTTL time.Duration
}

// Service provides the normalized dataset with explicit caching: the cache
// holds the data with its fetch time, expires by TTL, and can be refreshed
// or invalidated on demand.
type Service struct {
	source          Source
	logger          zerolog.Logger
	cacheTTL        time.Duration
	staleIfErrorTTL time.Duration

	mu          sync.RWMutex
	ds          *dataset.Dataset
	fetchedAt   time.Time
	cacheExpiry time.Time
}

// NewService creates a readings service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}
	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 30 * time.Minute
	}
	return &Service{
		source:          cfg.Source,
		logger:          cfg.Logger,
		cacheTTL:        cacheTTL,
		staleIfErrorTTL: staleIfErrorTTL,
	}
}

// Dataset returns the current normalized dataset, refreshing the cache when
// expired. Callers receive a defensive copy.
func (s *Service) Dataset(ctx context.Context) (*dataset.Dataset, error) {
	s.mu.RLock()
	if s.ds != nil && time.Now().Before(s.cacheExpiry) {
		ds := s.ds.Clone()
		s.mu.RUnlock()
		return ds, nil
	}
	s.mu.RUnlock()

	return s.refresh(ctx)
}

// Refresh forces a cache refresh.
func (s *Service) Refresh(ctx context.Context) error {
	_, err := s.refresh(ctx)
	return err
}

// Invalidate clears the cached dataset.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ds = nil
	s.fetchedAt = time.Time{}
	s.cacheExpiry = time.Time{}
}

// CacheStatus describes the current cache state.
type CacheStatus struct {
	HasData   bool      `json:"has_data"`
	Rows      int       `json:"rows"`
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IsExpired bool      `json:"is_expired"`
}

// Status returns information about the cache.
func (s *Service) Status() CacheStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ds == nil {
		return CacheStatus{}
	}
	return CacheStatus{
		HasData:   true,
		Rows:      s.ds.Len(),
		FetchedAt: s.fetchedAt,
		ExpiresAt: s.cacheExpiry,
		IsExpired: time.Now().After(s.cacheExpiry),
	}
}

func (s *Service) refresh(ctx context.Context) (*dataset.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Another request may have refreshed while we waited for the lock.
	if s.ds != nil && time.Now().Before(s.cacheExpiry) {
		return s.ds.Clone(), nil
	}

	s.logger.Debug().Msg("refreshing readings dataset")

	records, err := s.source.FetchAll(ctx)
	if err != nil {
		if len(records) > 0 {
			// A mid-pagination failure still produced data; keep it
			// rather than discarding retrieved pages.
			s.logger.Warn().Err(err).
				Int("partial_records", len(records)).
				Msg("fetch failed partway, using partial data")
		} else {
			s.logger.Error().Err(err).Msg("failed to fetch readings")
			if s.ds != nil && time.Now().Before(s.fetchedAt.Add(s.staleIfErrorTTL)) {
				s.logger.Warn().
					Time("fetched_at", s.fetchedAt).
					Msg("serving stale dataset due to fetch error")
				return s.ds.Clone(), nil
			}
			return nil, err
		}
	}

	ds := dataset.Normalize(records)
	s.ds = ds
	s.fetchedAt = time.Now()
	s.cacheExpiry = s.fetchedAt.Add(s.cacheTTL)

	s.logger.Info().
		Int("rows", ds.Len()).
		Int("cities", len(ds.Cities())).
		Time("expires_at", s.cacheExpiry).
		Msg("readings dataset refreshed")

	return ds.Clone(), nil
}

// Latest returns the most recent valid reading for a city.
func (s *Service) Latest(ctx context.Context, city string) (dataset.Row, error) {
	ds, err := s.Dataset(ctx)
	if err != nil {
		return dataset.Row{}, err
	}

	city = dataset.CanonicalCity(city)
	var latest dataset.Row
	found := false
	for _, r := range ds.Rows {
		if r.City != city || !r.Valid() {
			continue
		}
		if !found || r.Timestamp.After(latest.Timestamp) {
			latest = r
			found = true
		}
	}
	if !found {
		return dataset.Row{}, ErrCityNotFound
	}
	return latest, nil
}

// YearSummary is one year of a city's AQI trajectory.
type YearSummary struct {
	Year     int     `json:"year"`
	MeanAQI  float64 `json:"mean_aqi"`
	Readings int     `json:"readings"`
}

// History returns the yearly mean-AQI trajectory for a city, ascending by
// year.
func (s *Service) History(ctx context.Context, city string) ([]YearSummary, error) {
	ds, err := s.Dataset(ctx)
	if err != nil {
		return nil, err
	}

	city = dataset.CanonicalCity(city)
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for _, r := range ds.Rows {
		if r.City != city || !r.Valid() {
			continue
		}
		y := r.Timestamp.Year()
		sums[y] += r.AQI
		counts[y]++
	}
	if len(sums) == 0 {
		return nil, ErrCityNotFound
	}

	years := make([]int, 0, len(sums))
	for y := range sums {
		years = append(years, y)
	}
	sort.Ints(years)

	out := make([]YearSummary, 0, len(years))
	for _, y := range years {
		out = append(out, YearSummary{
			Year:     y,
			MeanAQI:  sums[y] / float64(counts[y]),
			Readings: counts[y],
		})
	}
	return out, nil
}

// CityLatest pairs a city with its most recent reading.
type CityLatest struct {
	City      string    `json:"city"`
	Timestamp time.Time `json:"timestamp"`
	AQI       float64   `json:"aqi"`
}

// TopPolluted returns the n cities with the highest latest AQI, descending.
func (s *Service) TopPolluted(ctx context.Context, n int) ([]CityLatest, error) {
	ds, err := s.Dataset(ctx)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]dataset.Row)
	var order []string
	for _, r := range ds.Rows {
		if !r.Valid() {
			continue
		}
		prev, ok := latest[r.City]
		if !ok {
			order = append(order, r.City)
			latest[r.City] = r
		} else if r.Timestamp.After(prev.Timestamp) {
			latest[r.City] = r
		}
	}

	out := make([]CityLatest, 0, len(order))
	for _, city := range order {
		r := latest[city]
		out = append(out, CityLatest{City: city, Timestamp: r.Timestamp, AQI: r.AQI})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AQI > out[j].AQI })

	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}
