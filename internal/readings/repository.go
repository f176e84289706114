// Package readings provides access to the raw AQI readings store and a
// cached, normalized view of it.
package readings

import (
	"context"
	"errors"

	"github.com/aqipulse/aqipulse/internal/dataset"
)

// Store errors.
var (
	// ErrUpstreamUnavailable means the readings store could not be
	// reached and no usable data was retrieved.
	ErrUpstreamUnavailable = errors.New("readings store unavailable")

	// ErrCityNotFound means no readings exist for the requested city.
	ErrCityNotFound = errors.New("city not found")
)

// Source fetches raw reading records. Implementations must return any
// records already retrieved alongside the error when a multi-page fetch
// fails partway, so callers can choose partial data over none.
type Source interface {
	// FetchAll retrieves every reading in the store.
	FetchAll(ctx context.Context) ([]dataset.Record, error)

	// FetchByCity retrieves the readings for one city.
	FetchByCity(ctx context.Context, city string) ([]dataset.Record, error)
}
