// Package service implements the ledger rules: daily tasks and their
// rewards, the referral cascade, the deposit and withdrawal workflows and
// account management. Every operation runs inside one store transaction.
package service

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"voltledger/internal/mobilemoney"
	"voltledger/internal/models"
	"voltledger/internal/store"
)

// Notifier receives balance changes once they are committed.
type Notifier interface {
	BalanceChanged(ctx context.Context, ev models.BalanceEvent)
}

type NopNotifier struct{}

func (NopNotifier) BalanceChanged(context.Context, models.BalanceEvent) {}

// PaymentGateway moves money between the platform and users' phones.
type PaymentGateway interface {
	Collect(ctx context.Context, c mobilemoney.Collection) (*mobilemoney.Response, error)
	Send(ctx context.Context, p mobilemoney.Payout) (*mobilemoney.Response, error)
	Status(ctx context.Context, reference string) (*mobilemoney.Response, error)
}

type Deps struct {
	Store    store.Store
	Notifier Notifier
	// Gateway is optional; without it deposits and withdrawals are settled
	// by hand.
	Gateway PaymentGateway
	Logger   *zap.Logger
	// Location defines the calendar day of daily tasks.
	Location *time.Location
	Now      func() time.Time
}

type base struct {
	store    store.Store
	notifier Notifier
	gateway  PaymentGateway
	logger   *zap.Logger
	loc      *time.Location
	now      func() time.Time
}

func newBase(d Deps) base {
	b := base{store: d.Store, notifier: d.Notifier, gateway: d.Gateway, logger: d.Logger, loc: d.Location, now: d.Now}
	if b.notifier == nil {
		b.notifier = NopNotifier{}
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.loc == nil {
		b.loc = time.UTC
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b
}

func (b *base) today() string {
	return b.now().In(b.loc).Format(DateLayout)
}

func (b *base) publish(ctx context.Context, events []models.BalanceEvent) {
	for _, ev := range events {
		b.notifier.BalanceChanged(ctx, ev)
	}
}

func balanceEvent(u *models.User, reason string, at time.Time) models.BalanceEvent {
	return models.BalanceEvent{
		UserID:           u.ID,
		Balance:          u.WalletBalance,
		CommissionEarned: u.CommissionEarned,
		Reason:           reason,
		At:               at,
	}
}

func newTransactionID() string {
	return "TXN-" + ulid.Make().String()
}
