package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"voltledger/internal/apperr"
	"voltledger/internal/models"
	"voltledger/internal/store"
	"voltledger/internal/store/memory"
)

var testNow = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.BalanceEvent
}

func (n *recordingNotifier) BalanceChanged(_ context.Context, ev models.BalanceEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) Events() []models.BalanceEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.BalanceEvent(nil), n.events...)
}

type fixture struct {
	store    store.Store
	notifier *recordingNotifier
	tasks    *TaskService
	wallet   *WalletService
	users    *UserService
}

func newFixture(t *testing.T, st store.Store) *fixture {
	t.Helper()
	return newFixtureWithGateway(t, st, nil)
}

func newFixtureWithGateway(t *testing.T, st store.Store, gw PaymentGateway) *fixture {
	t.Helper()
	if st == nil {
		st = memory.New()
	}
	kampala, err := time.LoadLocation("Africa/Kampala")
	require.NoError(t, err)

	n := &recordingNotifier{}
	d := Deps{
		Store:    st,
		Notifier: n,
		Gateway:  gw,
		Logger:   zaptest.NewLogger(t),
		Location: kampala,
		Now:      func() time.Time { return testNow },
	}
	return &fixture{
		store:    st,
		notifier: n,
		tasks:    NewTaskService(d, 4),
		wallet:   NewWalletService(d),
		users:    NewUserService(d),
	}
}

type seedOpts struct {
	balance    int64
	commission int64
	referredBy string
	deposited  bool
}

func (f *fixture) seedUser(t *testing.T, name string, o seedOpts) *models.User {
	t.Helper()
	ctx := context.Background()
	u := &models.User{
		Phone:            "0700" + name,
		Username:         name,
		ReferralCode:     "R" + name,
		WalletBalance:    decimal.NewFromInt(o.balance),
		CommissionEarned: decimal.NewFromInt(o.commission),
	}
	if o.referredBy != "" {
		u.ReferredBy = &o.referredBy
	}
	require.NoError(t, f.store.WithTx(ctx, func(r store.Repo) error {
		if err := r.CreateUser(ctx, u); err != nil {
			return err
		}
		if !o.deposited {
			return nil
		}
		return r.CreateTransaction(ctx, &models.Transaction{
			TransactionID: "TXN-seed-" + name,
			UserID:        u.ID,
			Type:          models.TxDeposit,
			Amount:        u.WalletBalance,
			Status:        models.TxApproved,
			BalanceAfter:  u.WalletBalance,
		})
	}))
	return u
}

func (f *fixture) balance(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	b, err := f.wallet.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b.Balance
}

func (f *fixture) firstTask(t *testing.T, userID int64) models.DailyTask {
	t.Helper()
	tasks, err := f.tasks.EnsureTasksForToday(context.Background(), userID)
	require.NoError(t, err)
	require.NotEmpty(t, tasks)
	return tasks[0]
}

func assertKind(t *testing.T, want apperr.Kind, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, want, apperr.KindOf(err), "error: %v", err)
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// failingCommissionStore makes every commission insert fail, which breaks
// the referral cascade while leaving the rest of the ledger untouched.
type failingCommissionStore struct {
	*memory.Store
}

func (s failingCommissionStore) WithTx(ctx context.Context, fn func(store.Repo) error) error {
	return s.Store.WithTx(ctx, func(r store.Repo) error { return fn(failingCommissionRepo{r}) })
}

type failingCommissionRepo struct {
	store.Repo
}

func (r failingCommissionRepo) Savepoint(ctx context.Context, fn func(store.Repo) error) error {
	return r.Repo.Savepoint(ctx, func(sp store.Repo) error { return fn(failingCommissionRepo{sp}) })
}

func (r failingCommissionRepo) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	if t.Type == models.TxCommission {
		return errors.New("commission insert failed")
	}
	return r.Repo.CreateTransaction(ctx, t)
}
