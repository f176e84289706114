// Package models provides request and response models for the AQIPulse API.
package models

import "time"

// HealthStatus represents the health status of a service.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "OK"
	HealthStatusDegraded HealthStatus = "DEGRADED"
	HealthStatusFail     HealthStatus = "FAIL"
)

// ForecastStrategy selects the prediction model used by the forecast
// endpoint.
type ForecastStrategy string

const (
	// StrategyEnsemble is the pooled bagged-tree model (default).
	StrategyEnsemble ForecastStrategy = "ensemble"

	// StrategySeasonal is the per-city seasonal autoregressive model.
	StrategySeasonal ForecastStrategy = "seasonal"
)

// Timestamp is a helper type for time.Time with RFC3339 JSON formatting.
type Timestamp time.Time

// MarshalJSON implements json.Marshaler for Timestamp.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).Format(time.RFC3339) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for Timestamp.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	// Remove quotes
	s := string(data[1 : len(data)-1])
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}

// Time returns the underlying time.Time.
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// DateOnly is a time.Time rendered as YYYY-MM-DD in JSON.
type DateOnly time.Time

// MarshalJSON implements json.Marshaler for DateOnly.
func (d DateOnly) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(d).Format(time.DateOnly) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for DateOnly.
func (d *DateOnly) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	s := string(data[1 : len(data)-1])
	parsed, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return err
	}
	*d = DateOnly(parsed)
	return nil
}
