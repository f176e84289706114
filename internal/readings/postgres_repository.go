package readings

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aqipulse/aqipulse/internal/dataset"
)

// DefaultPageSize is the keyset pagination page size.
const DefaultPageSize = 1000

// PostgresRepository reads raw records from the aqi_readings table. Rows
// are returned as loosely typed records so normalization stays tolerant of
// column additions and renames in the table.
type PostgresRepository struct {
	pool     *pgxpool.Pool
	table    string
	pageSize int
}

// PostgresConfig holds configuration for the repository.
type PostgresConfig struct {
	Pool *pgxpool.Pool

	// Table overrides the default "aqi_readings" table name.
	Table string

	// PageSize overrides DefaultPageSize when positive.
	PageSize int
}

// NewPostgresRepository creates a PostgresRepository.
func NewPostgresRepository(cfg PostgresConfig) *PostgresRepository {
	table := cfg.Table
	if table == "" {
		table = "aqi_readings"
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &PostgresRepository{
		pool:     cfg.Pool,
		table:    table,
		pageSize: pageSize,
	}
}

// FetchAll retrieves every reading, paginating by id so corpora larger than
// one page stream through bounded memory per query. Records fetched before
// a mid-pagination failure are returned alongside the error.
func (r *PostgresRepository) FetchAll(ctx context.Context) ([]dataset.Record, error) {
	var all []dataset.Record
	lastID := int64(0)

	for {
		query := fmt.Sprintf(
			"SELECT * FROM %s WHERE id > $1 ORDER BY id LIMIT $2", r.table)
		page, maxID, err := r.fetchPage(ctx, query, lastID)
		if err != nil {
			return all, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		all = append(all, page...)
		if len(page) < r.pageSize {
			return all, nil
		}
		lastID = maxID
	}
}

// FetchByCity retrieves the readings for one city, matching on the
// canonicalized name the ingestion pipeline writes.
func (r *PostgresRepository) FetchByCity(ctx context.Context, city string) ([]dataset.Record, error) {
	city = dataset.CanonicalCity(city)

	var all []dataset.Record
	lastID := int64(0)
	for {
		query := fmt.Sprintf(
			"SELECT * FROM %s WHERE city = $3 AND id > $1 ORDER BY id LIMIT $2", r.table)
		page, maxID, err := r.fetchCityPage(ctx, query, lastID, city)
		if err != nil {
			return all, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		all = append(all, page...)
		if len(page) < r.pageSize {
			return all, nil
		}
		lastID = maxID
	}
}

func (r *PostgresRepository) fetchPage(ctx context.Context, query string, lastID int64) ([]dataset.Record, int64, error) {
	rows, err := r.pool.Query(ctx, query, lastID, r.pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (r *PostgresRepository) fetchCityPage(ctx context.Context, query string, lastID int64, city string) ([]dataset.Record, int64, error) {
	rows, err := r.pool.Query(ctx, query, lastID, r.pageSize, city)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// collectRecords maps pgx rows to loosely typed records keyed by column
// name, tracking the max id seen for keyset pagination.
func collectRecords(rows pgx.Rows) ([]dataset.Record, int64, error) {
	fields := rows.FieldDescriptions()

	var records []dataset.Record
	var maxID int64
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return records, maxID, err
		}
		rec := make(dataset.Record, len(fields))
		for i, f := range fields {
			rec[string(f.Name)] = values[i]
			if string(f.Name) == "id" {
				if id, ok := asInt64(values[i]); ok && id > maxID {
					maxID = id
				}
			}
		}
		records = append(records, rec)
	}
	return records, maxID, rows.Err()
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
