// Package store defines the persistence contract of the ledger. All access
// happens through a Repo handed out by Store.WithTx; implementations are
// internal/db (PostgreSQL) and internal/store/memory.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"voltledger/internal/models"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate key")
	// ErrStale is returned by conditional updates whose precondition no
	// longer holds, e.g. a transaction that left the pending state.
	ErrStale = errors.New("store: row changed concurrently")
)

type Store interface {
	// WithTx runs fn in a single transaction. The transaction commits when
	// fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(Repo) error) error
	Ping(ctx context.Context) error
	Close() error
}

type Repo interface {
	Users
	Tasks
	Transactions

	// Savepoint runs fn so that a failure undoes only fn's writes and
	// leaves the enclosing transaction usable.
	Savepoint(ctx context.Context, fn func(Repo) error) error
}

type Users interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id int64) (*models.User, error)
	// LockUser reads a user and holds it for update until the transaction ends.
	LockUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*models.User, error)
	GetUserByLogin(ctx context.Context, usernameOrPhone string) (*models.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	ListReferrals(ctx context.Context, referralCode string) ([]models.User, error)
	AdjustBalance(ctx context.Context, id int64, wallet, commission decimal.Decimal) (*models.User, error)
	SetBlocked(ctx context.Context, id int64, blocked bool) error
	SetResetToken(ctx context.Context, id int64, token *string, expiry *time.Time) error
	SetPassword(ctx context.Context, id int64, hash string) error
	DeleteUser(ctx context.Context, id int64) error
}

type Tasks interface {
	ListTasks(ctx context.Context, userID int64, date string) ([]models.DailyTask, error)
	// InsertTasks inserts the batch, skipping rows that collide with an
	// existing (user, date, name) and returns how many were written.
	InsertTasks(ctx context.Context, tasks []models.DailyTask) (int, error)
	DeletePendingTasks(ctx context.Context, userID int64, date string) (int64, error)
	GetTask(ctx context.Context, id int64) (*models.DailyTask, error)
	// CompleteTask flips an uncompleted task owned by userID to completed.
	// It returns ErrNotFound when no such uncompleted task exists.
	CompleteTask(ctx context.Context, id, userID int64, reward decimal.Decimal, at time.Time) (*models.DailyTask, error)
	InsertCompletion(ctx context.Context, c *models.TaskCompletion) error
	ListCompletions(ctx context.Context, userID int64) ([]models.TaskCompletion, error)
}

type Transactions interface {
	CreateTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, id int64) (*models.Transaction, error)
	LockTransaction(ctx context.Context, id int64) (*models.Transaction, error)
	GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error)
	// ResolveTransaction persists the terminal status fields of t, provided
	// the stored row is still pending; otherwise it returns ErrStale.
	ResolveTransaction(ctx context.Context, t *models.Transaction) error
	ListTransactions(ctx context.Context, userID int64) ([]models.Transaction, error)
	ListPendingTransactions(ctx context.Context, typ models.TxType) ([]models.PendingTransaction, error)
	HasApprovedDeposit(ctx context.Context, userID int64) (bool, error)
}

// Read runs a read-only fn in a transaction and returns its result.
func Read[T any](ctx context.Context, s Store, fn func(Repo) (T, error)) (T, error) {
	var out T
	err := s.WithTx(ctx, func(r Repo) error {
		v, err := fn(r)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
