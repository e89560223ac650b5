// internal/ratelimit/store_postgres.go
package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Schema:
//
//	CREATE TABLE usage_counters (
//	    bucket_id  TEXT        NOT NULL,
//	    month_key  TEXT        NOT NULL,
//	    count      INTEGER     NOT NULL DEFAULT 0,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (bucket_id, month_key)
//	);
const (
	upsertCounterQuery = `
		INSERT INTO usage_counters (bucket_id, month_key, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (bucket_id, month_key) DO UPDATE
		SET count = usage_counters.count + 1, updated_at = now()
		WHERE usage_counters.count < $3
		RETURNING count`

	readCounterQuery = `
		SELECT count FROM usage_counters
		WHERE bucket_id = $1 AND month_key = $2`
)

// PostgresCounterStore implements CounterStore on PostgreSQL. The conditional
// upsert performs the read-check-increment in one statement; when the counter
// is already at the limit the WHERE clause suppresses the update and no row
// is returned, so the current count is read back instead.
type PostgresCounterStore struct {
	db *sql.DB
}

func NewPostgresCounterStore(db *sql.DB) *PostgresCounterStore {
	return &PostgresCounterStore{db: db}
}

func (s *PostgresCounterStore) IncrementIfBelow(ctx context.Context, bucket, monthKey string, limit int) (int, bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, upsertCounterQuery, bucket, monthKey, limit).Scan(&count)
	if err == nil {
		return count, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("postgres usage counter for %s/%s: %w", bucket, monthKey, err)
	}

	// At or above the limit: the upsert touched nothing, read the stored value.
	if err := s.db.QueryRowContext(ctx, readCounterQuery, bucket, monthKey).Scan(&count); err != nil {
		return 0, false, fmt.Errorf("postgres usage counter read for %s/%s: %w", bucket, monthKey, err)
	}
	return count, false, nil
}
