package credit

import (
	"context"
	"errors"
	"fmt"

	"imagegate/internal/entity"

	"github.com/sirupsen/logrus"
)

// ErrInvalidAmount is returned for negative grants or balances.
var ErrInvalidAmount = errors.New("credit amount must not be negative")

// InsufficientCreditsError is raised before any external call when the
// balance cannot cover the cost.
type InsufficientCreditsError struct {
	Balance  int
	Required int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, required %d", e.Balance, e.Required)
}

// Store is the persistence the ledger needs. DebitCredits must be a single
// conditional update (balance >= amount) and report false when no row
// matched.
type Store interface {
	GetUserByID(ctx context.Context, id uint) (*entity.DbUser, error)
	DebitCredits(ctx context.Context, userID uint, amount int) (bool, error)
	RefundCredits(ctx context.Context, userID uint, amount int) error
	AddCredits(ctx context.Context, userID uint, amount int) (int, error)
	SetCredits(ctx context.Context, userID uint, amount int) error
	CreateCreditUsageLog(ctx context.Context, entry *entity.DbCreditUsageLog) error
}

// UsageInfo describes the charged operation for the usage log.
type UsageInfo struct {
	Operation string
	APIType   string
}

// Ledger charges users around provider calls: debit first, run, then
// either log the debit or refund it.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// DeductAndExecute debits cost, runs op and settles. Admins skip debit and
// log. A failed op is refunded in full and its error returned unchanged.
//
// A crash between the debit and the refund leaves the debit in place;
// nothing reconciles it.
func (l *Ledger) DeductAndExecute(ctx context.Context, user *entity.DbUser, cost int, info UsageInfo, op func(ctx context.Context) error) error {
	if user == nil {
		return errors.New("credit: user is required")
	}
	if user.IsAdmin() || cost <= 0 {
		return op(ctx)
	}

	log := logrus.WithContext(ctx).WithFields(logrus.Fields{
		"user_id":   user.ID,
		"cost":      cost,
		"operation": info.Operation,
		"api_type":  info.APIType,
	})

	ok, err := l.store.DebitCredits(ctx, user.ID, cost)
	if err != nil {
		return fmt.Errorf("debit credits: %w", err)
	}
	if !ok {
		balance := user.Credits
		if fresh, getErr := l.store.GetUserByID(ctx, user.ID); getErr == nil && fresh != nil {
			balance = fresh.Credits
		}
		return &InsufficientCreditsError{Balance: balance, Required: cost}
	}

	if opErr := op(ctx); opErr != nil {
		// the refund must land even if the caller has gone away
		if refundErr := l.store.RefundCredits(context.WithoutCancel(ctx), user.ID, cost); refundErr != nil {
			log.WithError(refundErr).Error("credit_refund_failed")
		} else {
			log.WithError(opErr).Info("credit_refunded")
		}
		return opErr
	}

	entry := &entity.DbCreditUsageLog{
		UserID:        user.ID,
		Amount:        cost,
		OperationType: info.Operation,
		APIType:       info.APIType,
	}
	if err := l.store.CreateCreditUsageLog(context.WithoutCancel(ctx), entry); err != nil {
		log.WithError(err).Error("credit_usage_log_failed")
	}
	return nil
}

// Balance returns the current balance of a user.
func (l *Ledger) Balance(ctx context.Context, userID uint) (int, error) {
	user, err := l.store.GetUserByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.Credits, nil
}

// Grant adds amount to the balance. Negative amounts deduct but the
// balance stops at zero.
func (l *Ledger) Grant(ctx context.Context, userID uint, amount int) (int, error) {
	return l.store.AddCredits(ctx, userID, amount)
}

// Set overwrites the balance.
func (l *Ledger) Set(ctx context.Context, userID uint, amount int) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	return l.store.SetCredits(ctx, userID, amount)
}
