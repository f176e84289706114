// Package features derives calendar and categorical model features from
// normalized readings or future date ranges, and aligns feature frames to a
// trained column contract.
package features

import (
	"sort"
	"time"

	"github.com/aqipulse/aqipulse/internal/dataset"
)

// Calendar feature column names.
const (
	ColDayOfYear = "day_of_year"
	ColYear      = "year"
	ColMonth     = "month"
	ColDayOfWeek = "day_of_week"
)

// CityColumnPrefix prefixes the per-city indicator columns.
const CityColumnPrefix = "city_"

// Frame is an ordered feature matrix: one row per input row, columns in the
// order given by Columns.
type Frame struct {
	Columns []string
	Rows    [][]float64
}

// ColumnIndex returns the index of a column, or -1 when absent.
func (f *Frame) ColumnIndex(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Encoder encodes rows against a fixed set of training cities. The city set
// determines the indicator columns, so the same encoder configuration must
// be used for training and for building inference skeletons.
type Encoder struct {
	cities []string

	// extras adds month and day-of-week columns for the extended model
	// variant.
	extras bool
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithCalendarExtras adds month and day-of-week to the calendar features.
func WithCalendarExtras() Option {
	return func(e *Encoder) { e.extras = true }
}

// NewEncoder builds an encoder for the given training cities. The list is
// deduplicated and sorted so the column layout is stable regardless of the
// order cities were observed in.
func NewEncoder(cities []string, opts ...Option) *Encoder {
	seen := make(map[string]struct{}, len(cities))
	unique := make([]string, 0, len(cities))
	for _, c := range cities {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			unique = append(unique, c)
		}
	}
	sort.Strings(unique)

	e := &Encoder{cities: unique}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cities returns the training city set in column order.
func (e *Encoder) Cities() []string {
	return append([]string(nil), e.cities...)
}

// Columns returns the ordered feature column list: calendar features first,
// then one indicator column per training city.
func (e *Encoder) Columns() []string {
	cols := []string{ColDayOfYear, ColYear}
	if e.extras {
		cols = append(cols, ColMonth, ColDayOfWeek)
	}
	for _, c := range e.cities {
		cols = append(cols, CityColumnPrefix+c)
	}
	return cols
}

// Encode produces the training feature frame for normalized rows. Rows with
// a city outside the training set still encode; their indicators are zero.
func (e *Encoder) Encode(rows []dataset.Row) *Frame {
	frame := &Frame{Columns: e.Columns()}
	frame.Rows = make([][]float64, 0, len(rows))
	for _, r := range rows {
		frame.Rows = append(frame.Rows, e.encodeOne(r.City, r.Timestamp))
	}
	return frame
}

// EncodeFuture produces an inference skeleton frame for one city across the
// given dates. The caller aligns the result to the trained contract.
func (e *Encoder) EncodeFuture(city string, dates []time.Time) *Frame {
	frame := &Frame{Columns: e.Columns()}
	frame.Rows = make([][]float64, 0, len(dates))
	for _, d := range dates {
		frame.Rows = append(frame.Rows, e.encodeOne(city, d))
	}
	return frame
}

func (e *Encoder) encodeOne(city string, t time.Time) []float64 {
	row := []float64{float64(t.YearDay()), float64(t.Year())}
	if e.extras {
		row = append(row, float64(t.Month()), float64(t.Weekday()))
	}
	for _, c := range e.cities {
		if c == city {
			row = append(row, 1)
		} else {
			row = append(row, 0)
		}
	}
	return row
}

// FutureFrame encodes a future date range for a city standalone, using only
// that city's indicator column. Alignment against the trained contract drops
// the column again when the city was not part of training.
func FutureFrame(city string, dates []time.Time) *Frame {
	return NewEncoder([]string{city}).EncodeFuture(city, dates)
}

// Align reduces and pads a frame to exactly the contract's column set and
// order: columns absent from the contract are dropped, contract columns the
// frame did not produce are zero-filled. This is the binding agreement
// between training and inference; an inference frame must always pass
// through here before prediction.
func Align(f *Frame, contract []string) *Frame {
	out := &Frame{
		Columns: append([]string(nil), contract...),
		Rows:    make([][]float64, len(f.Rows)),
	}

	srcIdx := make([]int, len(contract))
	for i, col := range contract {
		srcIdx[i] = f.ColumnIndex(col)
	}

	for ri, src := range f.Rows {
		row := make([]float64, len(contract))
		for ci, si := range srcIdx {
			if si >= 0 {
				row[ci] = src[si]
			}
		}
		out.Rows[ri] = row
	}
	return out
}
