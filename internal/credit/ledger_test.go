package credit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"imagegate/internal/entity"
	"imagegate/internal/llm"
)

type memoryStore struct {
	mu       sync.Mutex
	balances map[uint]int
	logs     []entity.DbCreditUsageLog
	refunds  int
}

func newMemoryStore(balances map[uint]int) *memoryStore {
	return &memoryStore{balances: balances}
}

func (s *memoryStore) GetUserByID(_ context.Context, id uint) (*entity.DbUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, ok := s.balances[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &entity.DbUser{ID: id, Credits: bal, Role: entity.UserRoleUser}, nil
}

func (s *memoryStore) DebitCredits(_ context.Context, userID uint, amount int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balances[userID] < amount {
		return false, nil
	}
	s.balances[userID] -= amount
	return true, nil
}

func (s *memoryStore) RefundCredits(_ context.Context, userID uint, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] += amount
	s.refunds++
	return nil
}

func (s *memoryStore) AddCredits(_ context.Context, userID uint, amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = max(0, s.balances[userID]+amount)
	return s.balances[userID], nil
}

func (s *memoryStore) SetCredits(_ context.Context, userID uint, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = amount
	return nil
}

func (s *memoryStore) CreateCreditUsageLog(_ context.Context, entry *entity.DbCreditUsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, *entry)
	return nil
}

func TestCalcCost(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		op       llm.Operation
		in       CostInput
		want     int
	}{
		{"dream 4K x3", "dream", llm.OpGenerate, CostInput{Quality: "4K", ImageCount: 3}, 6},
		{"nano x2", "nano", llm.OpGenerate, CostInput{ImageCount: 2}, 10},
		{"dream upscale", "dream", llm.OpUpscale, CostInput{}, 1},
		{"dream upscale 4K ignored", "dream", llm.OpUpscale, CostInput{Quality: "4K", ImageCount: 4}, 1},
		{"dream 2K x2", "dream", llm.OpGenerate, CostInput{Quality: "2K", ImageCount: 2}, 2},
		{"dream default count", "dream", llm.OpGenerate, CostInput{}, 1},
		{"nano split", "nano", llm.OpSplit, CostInput{}, 5},
		{"dream layer split", "dream", llm.OpLayerSplit, CostInput{}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalcCost(tt.provider, tt.op, tt.in); got != tt.want {
				t.Fatalf("CalcCost = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDeductAndExecuteCommitsOnSuccess(t *testing.T) {
	store := newMemoryStore(map[uint]int{1: 10})
	ledger := NewLedger(store)
	user := &entity.DbUser{ID: 1, Role: entity.UserRoleUser, Credits: 10}

	err := ledger.DeductAndExecute(context.Background(), user, 3, UsageInfo{Operation: "generate", APIType: "dream"}, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.balances[1] != 7 {
		t.Fatalf("expected balance 7, got %d", store.balances[1])
	}
	if len(store.logs) != 1 || store.logs[0].Amount != 3 || store.logs[0].APIType != "dream" {
		t.Fatalf("expected one usage log of 3, got %+v", store.logs)
	}
}

func TestDeductAndExecuteRefundsOnFailure(t *testing.T) {
	store := newMemoryStore(map[uint]int{1: 10})
	ledger := NewLedger(store)
	user := &entity.DbUser{ID: 1, Role: entity.UserRoleUser, Credits: 10}
	boom := errors.New("upstream failed")

	var balanceDuringCall int
	err := ledger.DeductAndExecute(context.Background(), user, 4, UsageInfo{Operation: "generate", APIType: "dream"}, func(ctx context.Context) error {
		balanceDuringCall = store.balances[1]
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected original error, got %v", err)
	}
	if balanceDuringCall != 6 {
		t.Fatalf("debit must happen before the call, saw balance %d", balanceDuringCall)
	}
	if store.balances[1] != 10 {
		t.Fatalf("expected balance restored to 10, got %d", store.balances[1])
	}
	if store.refunds != 1 {
		t.Fatalf("expected exactly one refund, got %d", store.refunds)
	}
	if len(store.logs) != 0 {
		t.Fatalf("failed calls must not be logged, got %+v", store.logs)
	}
}

func TestDeductAndExecuteRefundsWhenContextCancelled(t *testing.T) {
	store := newMemoryStore(map[uint]int{1: 5})
	ledger := NewLedger(store)
	user := &entity.DbUser{ID: 1, Role: entity.UserRoleUser}

	ctx, cancel := context.WithCancel(context.Background())
	err := ledger.DeductAndExecute(ctx, user, 5, UsageInfo{}, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.balances[1] != 5 {
		t.Fatalf("expected full refund, got balance %d", store.balances[1])
	}
}

func TestDeductAndExecuteInsufficientBalance(t *testing.T) {
	store := newMemoryStore(map[uint]int{1: 2})
	ledger := NewLedger(store)
	user := &entity.DbUser{ID: 1, Role: entity.UserRoleUser, Credits: 2}

	calls := 0
	err := ledger.DeductAndExecute(context.Background(), user, 5, UsageInfo{}, func(ctx context.Context) error {
		calls++
		return nil
	})
	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientCreditsError, got %v", err)
	}
	if insufficient.Balance != 2 || insufficient.Required != 5 {
		t.Fatalf("unexpected error details %+v", insufficient)
	}
	if calls != 0 {
		t.Fatalf("operation must not run, ran %d times", calls)
	}
	if store.balances[1] != 2 || len(store.logs) != 0 {
		t.Fatalf("no side effects expected, balance=%d logs=%d", store.balances[1], len(store.logs))
	}
}

func TestDeductAndExecuteAdminExempt(t *testing.T) {
	for _, role := range []string{entity.UserRoleAdmin, entity.UserRoleSuperAdmin} {
		t.Run(role, func(t *testing.T) {
			store := newMemoryStore(map[uint]int{9: 0})
			ledger := NewLedger(store)
			admin := &entity.DbUser{ID: 9, Role: role}

			for _, outcome := range []error{nil, errors.New("fail")} {
				_ = ledger.DeductAndExecute(context.Background(), admin, 10, UsageInfo{}, func(ctx context.Context) error {
					return outcome
				})
			}
			if store.balances[9] != 0 || len(store.logs) != 0 || store.refunds != 0 {
				t.Fatalf("admin must not be charged: balance=%d logs=%d refunds=%d", store.balances[9], len(store.logs), store.refunds)
			}
		})
	}
}

func TestDeductAndExecuteConcurrentDebitsNeverOverspend(t *testing.T) {
	store := newMemoryStore(map[uint]int{1: 10})
	ledger := NewLedger(store)
	user := &entity.DbUser{ID: 1, Role: entity.UserRoleUser}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ledger.DeductAndExecute(context.Background(), user, 1, UsageInfo{}, func(ctx context.Context) error { return nil })
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if succeeded != 10 || store.balances[1] != 0 {
		t.Fatalf("expected 10 successful debits and zero balance, got %d and %d", succeeded, store.balances[1])
	}
}

func TestGrantAndSet(t *testing.T) {
	store := newMemoryStore(map[uint]int{1: 3})
	ledger := NewLedger(store)
	ctx := context.Background()

	if bal, _ := ledger.Grant(ctx, 1, -10); bal != 0 {
		t.Fatalf("expected balance floored at 0, got %d", bal)
	}
	if err := ledger.Set(ctx, 1, -1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := ledger.Set(ctx, 1, 42); err != nil {
		t.Fatalf("set: %v", err)
	}
	if bal, _ := ledger.Balance(ctx, 1); bal != 42 {
		t.Fatalf("expected 42, got %d", bal)
	}
}
