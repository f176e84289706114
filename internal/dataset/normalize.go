package dataset

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are tried in order when the raw value is a string.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalize converts raw heterogeneous records into a Dataset with the
// canonical column set. Coercion failures become missing values, never
// errors. Missing pollutant values are replaced by the column's arithmetic
// mean over the whole batch; this runs on the full fetched set only, so a
// single-city slice must not be normalized in isolation.
func Normalize(records []Record) *Dataset {
	ds := &Dataset{
		Columns: append([]string(nil), PollutantColumns...),
		Rows:    make([]Row, 0, len(records)),
	}

	for _, rec := range records {
		lowered := lowerKeys(rec)
		row := Row{
			AQI:        math.NaN(),
			Pollutants: make(map[string]float64, len(PollutantColumns)),
		}

		if v, ok := resolve(lowered, cityAliases); ok {
			row.City = CanonicalCity(toString(v))
		}
		if v, ok := resolve(lowered, timestampAliases); ok {
			row.Timestamp = toTime(v)
		}
		if v, ok := resolve(lowered, aqiAliases); ok {
			row.AQI = toFloat(v)
		}
		for _, col := range PollutantColumns {
			val := math.NaN()
			if v, ok := resolve(lowered, pollutantAliases[col]); ok {
				val = toFloat(v)
			}
			row.Pollutants[col] = val
		}

		ds.Rows = append(ds.Rows, row)
	}

	imputeColumnMeans(ds)
	return ds
}

// imputeColumnMeans fills missing pollutant values with the column mean of
// the non-missing values. Columns with no observed values stay NaN.
func imputeColumnMeans(ds *Dataset) {
	for _, col := range ds.Columns {
		sum := 0.0
		n := 0
		for _, r := range ds.Rows {
			if v := r.Pollutants[col]; !math.IsNaN(v) {
				sum += v
				n++
			}
		}
		if n == 0 {
			continue
		}
		mean := sum / float64(n)
		for i := range ds.Rows {
			if math.IsNaN(ds.Rows[i].Pollutants[col]) {
				ds.Rows[i].Pollutants[col] = mean
			}
		}
	}
}

func lowerKeys(rec Record) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

// toFloat coerces numeric representations to float64, returning NaN on
// anything unparseable.
func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

// toTime coerces timestamp representations to a timezone-aware instant,
// returning the zero time on failure. Layouts without an explicit zone are
// interpreted as UTC.
func toTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timestampLayouts {
			if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return parsed
			}
		}
		return time.Time{}
	case int64:
		return time.Unix(t, 0).UTC()
	case float64:
		return time.Unix(int64(t), 0).UTC()
	default:
		return time.Time{}
	}
}
