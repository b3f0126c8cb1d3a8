package quota

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"imagegate/internal/entity"
)

type memoryQuotaStore struct {
	rows map[string]*entity.DbUserDailyQuota
}

func key(userID uint, apiType, date string) string {
	return fmt.Sprintf("%d|%s|%s", userID, apiType, date)
}

func (s *memoryQuotaStore) GetOrCreateDailyQuota(_ context.Context, userID uint, apiType, date string) (*entity.DbUserDailyQuota, error) {
	k := key(userID, apiType, date)
	if row, ok := s.rows[k]; ok {
		return row, nil
	}
	row := &entity.DbUserDailyQuota{UserID: userID, APIType: apiType, Date: date}
	s.rows[k] = row
	return row, nil
}

func (s *memoryQuotaStore) IncrementDailyQuota(ctx context.Context, userID uint, apiType, date string, delta int) error {
	row, _ := s.GetOrCreateDailyQuota(ctx, userID, apiType, date)
	row.UsedQuota += delta
	return nil
}

func TestTrackerCheckAndRecord(t *testing.T) {
	store := &memoryQuotaStore{rows: map[string]*entity.DbUserDailyQuota{}}
	tracker := NewTracker(store)
	day := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return day }
	ctx := context.Background()

	if err := tracker.Check(ctx, 1, "dream", 3, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tracker.Record(ctx, 1, "dream", 3); err != nil {
		t.Fatalf("record: %v", err)
	}

	err := tracker.Check(ctx, 1, "dream", 2, 4)
	var limitErr *LimitError
	if !errors.Is(err, ErrDailyLimitExceeded) || !errors.As(err, &limitErr) || limitErr.Used != 3 {
		t.Fatalf("expected limit error with used=3, got %v", err)
	}
	if err := tracker.Check(ctx, 1, "dream", 1, 4); err != nil {
		t.Fatalf("exactly reaching the limit must pass: %v", err)
	}
	if err := tracker.Check(ctx, 1, "nano", 4, 4); err != nil {
		t.Fatalf("other provider has its own counter: %v", err)
	}

	tracker.now = func() time.Time { return day.AddDate(0, 0, 1) }
	if err := tracker.Check(ctx, 1, "dream", 4, 4); err != nil {
		t.Fatalf("new day starts from zero: %v", err)
	}
	if len(store.rows) != 3 {
		t.Fatalf("expected a fresh row per day and provider, got %d rows", len(store.rows))
	}
}

func TestTrackerZeroLimitDisablesGate(t *testing.T) {
	store := &memoryQuotaStore{rows: map[string]*entity.DbUserDailyQuota{}}
	tracker := NewTracker(store)
	if err := tracker.Check(context.Background(), 1, "dream", 1000, 0); err != nil {
		t.Fatalf("expected no limit, got %v", err)
	}
	if len(store.rows) != 0 {
		t.Fatal("disabled gate must not touch the store")
	}
}
