// Package dataset normalizes raw heterogeneous air-quality records into a
// canonical tabular form with fixed column names and cleaned values.
package dataset

import (
	"math"
	"strings"
	"time"
)

// Record is a single raw reading as delivered by an upstream source.
// Field names and casing vary between ingestion runs.
type Record map[string]any

// PollutantColumns is the canonical pollutant column set, present on every
// normalized dataset regardless of which columns the raw input carried.
var PollutantColumns = []string{
	"pm2_5", "pm10", "no", "no2", "nox", "nh3",
	"co", "so2", "o3", "benzene", "toluene", "xylene",
}

// Row is one normalized reading. Missing numeric values are NaN; a missing
// timestamp is the zero time.
type Row struct {
	City       string
	Timestamp  time.Time
	AQI        float64
	Pollutants map[string]float64
}

// HasTimestamp reports whether the row's timestamp parsed successfully.
func (r Row) HasTimestamp() bool {
	return !r.Timestamp.IsZero()
}

// HasAQI reports whether the row carries a usable AQI value.
func (r Row) HasAQI() bool {
	return !math.IsNaN(r.AQI)
}

// Valid reports whether the row is usable for regression or training:
// it needs a city, a timestamp and an AQI value.
func (r Row) Valid() bool {
	return r.City != "" && r.HasTimestamp() && r.HasAQI()
}

// Dataset is an ordered sequence of normalized rows. Row order is not
// meaningful until sorted per operation.
type Dataset struct {
	Columns []string
	Rows    []Row
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.Rows)
}

// ValidRows returns the rows usable for regression or training.
func (d *Dataset) ValidRows() []Row {
	valid := make([]Row, 0, len(d.Rows))
	for _, r := range d.Rows {
		if r.Valid() {
			valid = append(valid, r)
		}
	}
	return valid
}

// Cities returns the distinct city names in first-seen order.
func (d *Dataset) Cities() []string {
	seen := make(map[string]struct{}, len(d.Rows))
	var cities []string
	for _, r := range d.Rows {
		if r.City == "" {
			continue
		}
		if _, ok := seen[r.City]; !ok {
			seen[r.City] = struct{}{}
			cities = append(cities, r.City)
		}
	}
	return cities
}

// Clone returns a deep copy so cached datasets can be handed out without
// sharing mutable state with callers.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		Columns: append([]string(nil), d.Columns...),
		Rows:    make([]Row, len(d.Rows)),
	}
	for i, r := range d.Rows {
		pollutants := make(map[string]float64, len(r.Pollutants))
		for k, v := range r.Pollutants {
			pollutants[k] = v
		}
		out.Rows[i] = Row{
			City:       r.City,
			Timestamp:  r.Timestamp,
			AQI:        r.AQI,
			Pollutants: pollutants,
		}
	}
	return out
}

// CanonicalCity trims and title-cases a city name so that "new york",
// "NEW YORK" and "New York" collapse to one key everywhere.
func CanonicalCity(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	words := strings.Fields(strings.ToLower(name))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
