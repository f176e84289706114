package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sartorproj/goarima/arima"
	"github.com/sartorproj/goarima/sarima"
	"github.com/sartorproj/goarima/timeseries"

	"github.com/aqipulse/aqipulse/internal/dataset"
)

// Seasonal strategy errors.
var (
	// ErrModelNotTrained means the requested city has no persisted
	// per-city model. The seasonal strategy fails closed; it never
	// zero-fills.
	ErrModelNotTrained = errors.New("model not trained yet for this city")

	// ErrInsufficientHistory means the city's monthly series is too short
	// to fit any autoregressive model.
	ErrInsufficientHistory = errors.New("insufficient monthly history for this city")
)

// SeasonalPeriod is the seasonal cycle of the monthly AQI series.
const SeasonalPeriod = 12

// DefaultMinMonths is the minimum monthly observations to fit the plain
// ARIMA(1,1,1) order, the shortest series the estimator accepts.
const DefaultMinMonths = 13

// cityModel is the persisted per-city record: the monthly series plus the
// chosen model order. The fitted model itself is reconstructed
// deterministically from the series at load time, so the blob fully
// determines the forecasts.
type cityModel struct {
	City      string    `json:"city"`
	TrainedAt time.Time `json:"trained_at"`
	Seasonal  bool      `json:"seasonal"`
	Values    []float64 `json:"values"`
}

// SeasonalStore persists one blob per city, addressed by a deterministic
// path derived from the city name.
type SeasonalStore struct {
	dir string
}

// NewSeasonalStore creates a store rooted at dir.
func NewSeasonalStore(dir string) *SeasonalStore {
	return &SeasonalStore{dir: dir}
}

// cityPath derives the on-disk path for a city's model.
func (s *SeasonalStore) cityPath(city string) string {
	slug := strings.ToLower(dataset.CanonicalCity(city))
	slug = strings.ReplaceAll(slug, " ", "_")
	var b strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return filepath.Join(s.dir, b.String()+".json")
}

func (s *SeasonalStore) save(m *cityModel) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode city model: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	path := s.cityPath(m.City)
	tmp, err := os.CreateTemp(s.dir, ".model-*")
	if err != nil {
		return fmt.Errorf("create temp model: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write city model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close city model: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish city model: %w", err)
	}
	return nil
}

func (s *SeasonalStore) load(city string) (*cityModel, error) {
	data, err := os.ReadFile(s.cityPath(city))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrModelNotTrained
		}
		return nil, fmt.Errorf("read city model: %w", err)
	}
	var m cityModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode city model: %w", err)
	}
	return &m, nil
}

// SeasonalConfig holds configuration for the per-city strategy.
type SeasonalConfig struct {
	Store  *SeasonalStore
	Logger zerolog.Logger

	// MinMonths overrides DefaultMinMonths when positive.
	MinMonths int

	// Now overrides the clock for tests.
	Now func() time.Time
}

// Seasonal implements the alternate per-city forecasting strategy: each city
// owns an independent autoregressive model over its monthly-resampled AQI
// series, so there is no feature-alignment risk, but forecasts for an
// untrained city fail closed.
type Seasonal struct {
	store     *SeasonalStore
	logger    zerolog.Logger
	minMonths int
	now       func() time.Time
}

// NewSeasonal creates the per-city strategy.
func NewSeasonal(cfg SeasonalConfig) *Seasonal {
	minMonths := cfg.MinMonths
	if minMonths <= 0 {
		minMonths = DefaultMinMonths
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Seasonal{
		store:     cfg.Store,
		logger:    cfg.Logger,
		minMonths: minMonths,
		now:       now,
	}
}

// monthlySeries resamples a city's valid rows to a chronological monthly
// mean-AQI series. Missing months are skipped, matching the sparse and
// irregular nature of the upstream data.
func monthlySeries(ds *dataset.Dataset, city string) *cityModel {
	type key struct {
		year  int
		month time.Month
	}
	sums := make(map[key]float64)
	counts := make(map[key]int)
	for _, r := range ds.Rows {
		if !r.Valid() || r.City != city {
			continue
		}
		k := key{r.Timestamp.Year(), r.Timestamp.Month()}
		sums[k] += r.AQI
		counts[k]++
	}

	keys := make([]key, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year < keys[j].year
		}
		return keys[i].month < keys[j].month
	})

	m := &cityModel{City: city}
	for _, k := range keys {
		m.Values = append(m.Values, sums[k]/float64(counts[k]))
	}
	return m
}

// fitOrder fits the requested model order to a monthly series.
func fitOrder(values []float64, seasonal bool) (func(steps int) ([]float64, error), error) {
	series := timeseries.New(values)
	if seasonal {
		sm := sarima.New(1, 1, 1, 1, 1, 1, SeasonalPeriod)
		if err := sm.Fit(series); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInsufficientHistory, err)
		}
		return sm.Predict, nil
	}
	am := arima.New(1, 1, 1)
	if err := am.Fit(series); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInsufficientHistory, err)
	}
	return am.Predict, nil
}

// fitMonthly picks the order for a fresh fit: the seasonal order is tried
// once a full seasonal cycle of observations exists, falling back to a
// plain ARIMA when the series is still too short for the seasonal
// estimator.
func fitMonthly(values []float64) (seasonal bool, predict func(steps int) ([]float64, error), err error) {
	if len(values) >= SeasonalPeriod {
		if predict, err := fitOrder(values, true); err == nil {
			return true, predict, nil
		}
	}
	predict, err = fitOrder(values, false)
	return false, predict, err
}

// TrainCity fits and persists the model for one city.
func (s *Seasonal) TrainCity(ctx context.Context, ds *dataset.Dataset, city string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	city = dataset.CanonicalCity(city)
	m := monthlySeries(ds, city)
	if len(m.Values) < s.minMonths {
		return fmt.Errorf("%w: %s has %d monthly observations, need %d",
			ErrInsufficientHistory, city, len(m.Values), s.minMonths)
	}

	seasonal, _, err := fitMonthly(m.Values)
	if err != nil {
		return err
	}
	m.Seasonal = seasonal
	m.TrainedAt = s.now().UTC()

	if err := s.store.save(m); err != nil {
		return err
	}

	s.logger.Info().
		Str("city", city).
		Int("months", len(m.Values)).
		Bool("seasonal", seasonal).
		Msg("per-city model trained")
	return nil
}

// TrainSummary reports the outcome of a TrainAll pass.
type TrainSummary struct {
	Trained int            `json:"trained"`
	Skipped map[string]int `json:"skipped,omitempty"`
}

// TrainAll trains every city in the dataset. Per-city failures are isolated
// and counted; they never abort the batch.
func (s *Seasonal) TrainAll(ctx context.Context, ds *dataset.Dataset) (TrainSummary, error) {
	summary := TrainSummary{Skipped: make(map[string]int)}
	for _, city := range ds.Cities() {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := s.TrainCity(ctx, ds, city); err != nil {
			s.logger.Warn().Err(err).Str("city", city).Msg("skipping city")
			switch {
			case errors.Is(err, ErrInsufficientHistory):
				summary.Skipped["insufficient_history"]++
			default:
				summary.Skipped["fit_failed"]++
			}
			continue
		}
		summary.Trained++
	}
	return summary, nil
}

// Forecast steps the city's fitted model forward ceil(days/30) monthly
// steps. Each point is dated at the first of the forecasted month. Fails
// with ErrModelNotTrained when no model exists for the city.
func (s *Seasonal) Forecast(ctx context.Context, city string, days int) (*Series, error) {
	if days <= 0 {
		return nil, ErrInvalidHorizon
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m, err := s.store.load(city)
	if err != nil {
		return nil, err
	}

	// Refit the persisted order from the persisted series; the fit is
	// deterministic, so the blob fully determines the forecast.
	predict, err := fitOrder(m.Values, m.Seasonal)
	if err != nil {
		return nil, err
	}

	steps := daysToMonths(days)
	values, err := predict(steps)
	if err != nil {
		return nil, fmt.Errorf("forecast %s: %w", city, err)
	}

	base := s.now()
	firstOfNext := time.Date(base.Year(), base.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)

	series := &Series{Points: make([]Point, len(values))}
	for i, v := range values {
		pred := int(math.Round(v))
		series.Points[i] = Point{
			Date:         firstOfNext.AddDate(0, i, 0),
			PredictedAQI: pred,
		}
		if i == 0 || pred < series.Lowest {
			series.Lowest = pred
		}
		if i == 0 || pred > series.Highest {
			series.Highest = pred
		}
	}
	return series, nil
}
