// Package ratelimit enforces the per-identity monthly query quota against a
// durable counter store. The limiter holds no in-process lock; concurrent
// callers for the same bucket are serialized by the store's own atomic
// check-and-increment primitive.
package ratelimit

import (
	"context"
	"time"

	apperrors "datalens-gateway/internal/common/errors"
)

// FreeTierLimit is the number of queries a bucket may issue per calendar month.
const FreeTierLimit = 10

// Result reports the outcome of a quota check.
type Result struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
}

// CounterStore is the durable counter contract. IncrementIfBelow atomically
// reads the counter at (bucket, monthKey), increments it by exactly 1 only if
// the read value is below limit, and returns the post-transaction count plus
// whether the increment happened. A saturated counter keeps returning the
// limit value with incremented=false. One record per (bucket, month); records
// are never deleted here, retention is an external concern.
type CounterStore interface {
	IncrementIfBelow(ctx context.Context, bucket, monthKey string, limit int) (count int, incremented bool, err error)
}

// Limiter applies the monthly quota.
type Limiter struct {
	store CounterStore
	limit int

	// now is replaceable in tests to cross month boundaries.
	now func() time.Time
}

func NewLimiter(store CounterStore, limit int) *Limiter {
	if limit <= 0 {
		limit = FreeTierLimit
	}
	return &Limiter{store: store, limit: limit, now: time.Now}
}

// MonthKey returns the current calendar month key in UTC, e.g. "2026-09".
func (l *Limiter) MonthKey() string {
	return l.now().UTC().Format("2006-01")
}

// Check performs the atomic test-and-increment for bucket and reports whether
// this attempt is within quota. The attempt that lands exactly on the limit is
// still allowed with zero remaining; the next one is rejected and does not
// grow the counter.
func (l *Limiter) Check(ctx context.Context, bucket string) (Result, error) {
	count, incremented, err := l.store.IncrementIfBelow(ctx, bucket, l.MonthKey(), l.limit)
	if err != nil {
		return Result{}, apperrors.NewCounterStoreFailedError(err)
	}

	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	// A saturated counter returns the limit value without incrementing; only
	// an attempt that actually consumed quota is admitted.
	return Result{
		Allowed:   incremented,
		Remaining: remaining,
	}, nil
}
