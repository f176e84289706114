package readings

import (
	"context"
	"sync"

	"github.com/aqipulse/aqipulse/internal/dataset"
)

// MemoryRepository is an in-memory Source for tests and local development.
type MemoryRepository struct {
	mu      sync.RWMutex
	records []dataset.Record

	// err, when set, is returned by fetches. partial controls whether the
	// stored records accompany it, mimicking a mid-pagination failure.
	err     error
	partial bool

	fetchCount int
}

// NewMemoryRepository creates a MemoryRepository seeded with records.
func NewMemoryRepository(records []dataset.Record) *MemoryRepository {
	return &MemoryRepository{records: records}
}

// SetRecords replaces the stored records.
func (m *MemoryRepository) SetRecords(records []dataset.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
}

// FailWith makes subsequent fetches return err. When partial is true the
// stored records are returned alongside the error.
func (m *MemoryRepository) FailWith(err error, partial bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	m.partial = partial
}

// FetchCount reports how many fetches have run.
func (m *MemoryRepository) FetchCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fetchCount
}

// FetchAll implements Source.
func (m *MemoryRepository) FetchAll(_ context.Context) ([]dataset.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCount++

	if m.err != nil {
		if m.partial {
			return append([]dataset.Record(nil), m.records...), m.err
		}
		return nil, m.err
	}
	return append([]dataset.Record(nil), m.records...), nil
}

// FetchByCity implements Source.
func (m *MemoryRepository) FetchByCity(_ context.Context, city string) ([]dataset.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCount++

	if m.err != nil && !m.partial {
		return nil, m.err
	}

	city = dataset.CanonicalCity(city)
	var out []dataset.Record
	for _, rec := range m.records {
		if name, ok := rec["city"].(string); ok && dataset.CanonicalCity(name) == city {
			out = append(out, rec)
		}
	}
	return out, m.err
}
