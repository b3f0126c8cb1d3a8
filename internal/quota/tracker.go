package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"imagegate/internal/entity"
)

// ErrDailyLimitExceeded is returned by Check when the day's allowance is used up.
var ErrDailyLimitExceeded = errors.New("daily image limit exceeded")

// LimitError carries the numbers behind ErrDailyLimitExceeded.
type LimitError struct {
	APIType   string
	Used      int
	Requested int
	Limit     int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: used %d of %d today, requested %d", ErrDailyLimitExceeded, e.Used, e.Limit, e.Requested)
}

func (e *LimitError) Unwrap() error { return ErrDailyLimitExceeded }

// Store reads and bumps the per user, provider and day counter. The row
// is created on first use.
type Store interface {
	GetOrCreateDailyQuota(ctx context.Context, userID uint, apiType, date string) (*entity.DbUserDailyQuota, error)
	IncrementDailyQuota(ctx context.Context, userID uint, apiType, date string, delta int) error
}

// Tracker enforces a daily per-provider image ceiling next to the credit
// balance.
type Tracker struct {
	store Store
	now   func() time.Time
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// Today returns the calendar day key used for counters.
func (t *Tracker) Today() string {
	return t.now().Format(time.DateOnly)
}

// Check rejects when used + requested would pass limit. A limit of zero
// or less disables the gate.
func (t *Tracker) Check(ctx context.Context, userID uint, apiType string, requested, limit int) error {
	if limit <= 0 {
		return nil
	}
	row, err := t.store.GetOrCreateDailyQuota(ctx, userID, apiType, t.Today())
	if err != nil {
		return fmt.Errorf("load daily quota: %w", err)
	}
	if row.UsedQuota+requested > limit {
		return &LimitError{APIType: apiType, Used: row.UsedQuota, Requested: requested, Limit: limit}
	}
	return nil
}

// Record adds the images actually produced to today's counter.
func (t *Tracker) Record(ctx context.Context, userID uint, apiType string, produced int) error {
	if produced <= 0 {
		return nil
	}
	return t.store.IncrementDailyQuota(ctx, userID, apiType, t.Today(), produced)
}
