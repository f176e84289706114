// Package trend fits per-city linear AQI trends and ranks improving cities.
package trend

import (
	"sort"

	"github.com/aqipulse/aqipulse/internal/dataset"
)

// DefaultMinPoints is the minimum number of valid readings a city needs
// before a trend is considered meaningful.
const DefaultMinPoints = 3

// secondsPerYear converts a per-second regression slope to AQI units per
// year (365.25 days).
const secondsPerYear = 86400 * 365.25

// SkipReason describes why a city was excluded from the trend results.
type SkipReason string

const (
	// SkipTooFewPoints means the city had fewer valid readings than the
	// configured minimum.
	SkipTooFewPoints SkipReason = "too_few_points"

	// SkipDegenerateFit means the regression could not be fitted, e.g. all
	// readings share one timestamp so the time axis has zero variance.
	SkipDegenerateFit SkipReason = "degenerate_fit"
)

// Result is one qualifying city with its annualized trend slope.
type Result struct {
	City         string  `json:"city"`
	SlopePerYear float64 `json:"slope_per_year"`
	Points       int     `json:"n_points"`
}

// Diagnostics aggregates what happened to the cities that were not emitted,
// so callers and tests can assert why cities were skipped.
type Diagnostics struct {
	CitiesEvaluated int                `json:"cities_evaluated"`
	NotImproving    int                `json:"not_improving"`
	Skipped         map[SkipReason]int `json:"skipped,omitempty"`
	DroppedRows     int                `json:"dropped_rows"`
}

// Report is the full outcome of a trend detection pass.
type Report struct {
	Improving   []Result    `json:"improving"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// Detect partitions the dataset by city, fits an ordinary least-squares
// regression of AQI on time for each city with at least minPoints valid
// readings, and returns the cities whose annualized slope is strictly
// negative, sorted most-improving first. Per-city failures never abort the
// pass; they are counted in the diagnostics.
func Detect(ds *dataset.Dataset, minPoints int) Report {
	if minPoints <= 0 {
		minPoints = DefaultMinPoints
	}

	report := Report{
		Diagnostics: Diagnostics{Skipped: make(map[SkipReason]int)},
	}

	// Partition valid rows by city, preserving first-seen city order so
	// ties in slope stay deterministic.
	groups := make(map[string][]dataset.Row)
	var order []string
	for _, r := range ds.Rows {
		if !r.Valid() {
			report.Diagnostics.DroppedRows++
			continue
		}
		if _, ok := groups[r.City]; !ok {
			order = append(order, r.City)
		}
		groups[r.City] = append(groups[r.City], r)
	}

	for _, city := range order {
		rows := groups[city]
		report.Diagnostics.CitiesEvaluated++

		if len(rows) < minPoints {
			report.Diagnostics.Skipped[SkipTooFewPoints]++
			continue
		}

		sort.Slice(rows, func(i, j int) bool {
			return rows[i].Timestamp.Before(rows[j].Timestamp)
		})

		slope, ok := fitSlope(rows)
		if !ok {
			report.Diagnostics.Skipped[SkipDegenerateFit]++
			continue
		}

		annualized := slope * secondsPerYear
		if annualized >= 0 {
			report.Diagnostics.NotImproving++
			continue
		}

		report.Improving = append(report.Improving, Result{
			City:         city,
			SlopePerYear: annualized,
			Points:       len(rows),
		})
	}

	sort.SliceStable(report.Improving, func(i, j int) bool {
		return report.Improving[i].SlopePerYear < report.Improving[j].SlopePerYear
	})

	return report
}

// fitSlope computes the OLS slope of AQI against epoch seconds. The time
// axis is float64 seconds rather than nanoseconds to keep the sums well
// inside float64 range. Returns false when the time axis has no variance.
func fitSlope(rows []dataset.Row) (float64, bool) {
	n := float64(len(rows))

	var meanT, meanY float64
	for _, r := range rows {
		meanT += float64(r.Timestamp.Unix())
		meanY += r.AQI
	}
	meanT /= n
	meanY /= n

	var covTY, varT float64
	for _, r := range rows {
		dt := float64(r.Timestamp.Unix()) - meanT
		covTY += dt * (r.AQI - meanY)
		varT += dt * dt
	}

	if varT == 0 {
		return 0, false
	}
	return covTY / varT, true
}
