// Package memory is an in-process Store. Transactions are serialised by a
// single mutex and rolled back by restoring a snapshot, which gives the same
// all-or-nothing behaviour as the PostgreSQL store for tests and local runs.
package memory

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"voltledger/internal/models"
	"voltledger/internal/store"
)

var errClosed = errors.New("memory store: closed")

type state struct {
	users       map[int64]models.User
	tasks       map[int64]models.DailyTask
	completions []models.TaskCompletion
	txs         map[int64]models.Transaction

	userSeq, taskSeq, completionSeq, txSeq int64
}

func newState() *state {
	return &state{
		users: make(map[int64]models.User),
		tasks: make(map[int64]models.DailyTask),
		txs:   make(map[int64]models.Transaction),
	}
}

func (s *state) clone() *state {
	c := *s
	c.users = maps.Clone(s.users)
	c.tasks = maps.Clone(s.tasks)
	c.txs = maps.Clone(s.txs)
	c.completions = slices.Clone(s.completions)
	return &c
}

type Store struct {
	mu     sync.Mutex
	st     *state
	closed bool
}

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) WithTx(ctx context.Context, fn func(store.Repo) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}

	snap := s.st.clone()
	if err := fn(&repo{st: s.st}); err != nil {
		*s.st = *snap
		return err
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	return ctx.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type repo struct {
	st *state
}

func (r *repo) Savepoint(ctx context.Context, fn func(store.Repo) error) error {
	snap := r.st.clone()
	if err := fn(r); err != nil {
		*r.st = *snap
		return err
	}
	return nil
}

// Users

func (r *repo) CreateUser(_ context.Context, u *models.User) error {
	for _, other := range r.st.users {
		if other.Phone == u.Phone || other.Username == u.Username || other.ReferralCode == u.ReferralCode {
			return store.ErrDuplicate
		}
	}
	r.st.userSeq++
	u.ID = r.st.userSeq
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	r.st.users[u.ID] = *u
	return nil
}

func (r *repo) GetUser(_ context.Context, id int64) (*models.User, error) {
	u, ok := r.st.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (r *repo) LockUser(ctx context.Context, id int64) (*models.User, error) {
	return r.GetUser(ctx, id)
}

func (r *repo) findUser(match func(models.User) bool) (*models.User, error) {
	for _, id := range r.sortedUserIDs() {
		if u := r.st.users[id]; match(u) {
			return &u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *repo) sortedUserIDs() []int64 {
	ids := make([]int64, 0, len(r.st.users))
	for id := range r.st.users {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *repo) GetUserByReferralCode(_ context.Context, code string) (*models.User, error) {
	return r.findUser(func(u models.User) bool { return u.ReferralCode == code })
}

func (r *repo) GetUserByLogin(_ context.Context, login string) (*models.User, error) {
	return r.findUser(func(u models.User) bool { return u.Username == login || u.Phone == login })
}

func (r *repo) GetUserByPhone(_ context.Context, phone string) (*models.User, error) {
	return r.findUser(func(u models.User) bool { return u.Phone == phone })
}

func (r *repo) ListUsers(_ context.Context) ([]models.User, error) {
	users := make([]models.User, 0, len(r.st.users))
	for _, id := range r.sortedUserIDs() {
		users = append(users, r.st.users[id])
	}
	return users, nil
}

func (r *repo) ListReferrals(_ context.Context, code string) ([]models.User, error) {
	var team []models.User
	for _, id := range r.sortedUserIDs() {
		u := r.st.users[id]
		if u.ReferredBy != nil && *u.ReferredBy == code {
			team = append(team, u)
		}
	}
	return team, nil
}

func (r *repo) AdjustBalance(_ context.Context, id int64, wallet, commission decimal.Decimal) (*models.User, error) {
	u, ok := r.st.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	u.WalletBalance = u.WalletBalance.Add(wallet)
	u.CommissionEarned = u.CommissionEarned.Add(commission)
	r.st.users[id] = u
	return &u, nil
}

func (r *repo) updateUser(id int64, fn func(*models.User)) error {
	u, ok := r.st.users[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&u)
	r.st.users[id] = u
	return nil
}

func (r *repo) SetBlocked(_ context.Context, id int64, blocked bool) error {
	return r.updateUser(id, func(u *models.User) { u.IsBlocked = blocked })
}

func (r *repo) SetResetToken(_ context.Context, id int64, token *string, expiry *time.Time) error {
	return r.updateUser(id, func(u *models.User) {
		u.ResetToken = token
		u.ResetTokenExpiry = expiry
	})
}

func (r *repo) SetPassword(_ context.Context, id int64, hash string) error {
	return r.updateUser(id, func(u *models.User) {
		u.PasswordHash = hash
		u.ResetToken = nil
		u.ResetTokenExpiry = nil
	})
}

func (r *repo) DeleteUser(_ context.Context, id int64) error {
	if _, ok := r.st.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(r.st.users, id)
	maps.DeleteFunc(r.st.tasks, func(_ int64, t models.DailyTask) bool { return t.UserID == id })
	maps.DeleteFunc(r.st.txs, func(_ int64, t models.Transaction) bool { return t.UserID == id })
	r.st.completions = slices.DeleteFunc(r.st.completions, func(c models.TaskCompletion) bool { return c.UserID == id })
	return nil
}

// Tasks

func (r *repo) ListTasks(_ context.Context, userID int64, date string) ([]models.DailyTask, error) {
	var out []models.DailyTask
	for _, t := range r.st.tasks {
		if t.UserID == userID && t.Date == date {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *repo) InsertTasks(_ context.Context, tasks []models.DailyTask) (int, error) {
	type key struct {
		user       int64
		date, name string
	}
	seen := make(map[key]bool, len(r.st.tasks))
	for _, t := range r.st.tasks {
		seen[key{t.UserID, t.Date, t.TaskName}] = true
	}

	inserted := 0
	for _, t := range tasks {
		k := key{t.UserID, t.Date, t.TaskName}
		if seen[k] {
			continue
		}
		seen[k] = true
		r.st.taskSeq++
		t.ID = r.st.taskSeq
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		r.st.tasks[t.ID] = t
		inserted++
	}
	return inserted, nil
}

func (r *repo) DeletePendingTasks(_ context.Context, userID int64, date string) (int64, error) {
	var n int64
	maps.DeleteFunc(r.st.tasks, func(_ int64, t models.DailyTask) bool {
		if t.UserID == userID && t.Date == date && !t.Completed {
			n++
			return true
		}
		return false
	})
	return n, nil
}

func (r *repo) GetTask(_ context.Context, id int64) (*models.DailyTask, error) {
	t, ok := r.st.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (r *repo) CompleteTask(_ context.Context, id, userID int64, reward decimal.Decimal, at time.Time) (*models.DailyTask, error) {
	t, ok := r.st.tasks[id]
	if !ok || t.UserID != userID || t.Completed {
		return nil, store.ErrNotFound
	}
	t.Completed = true
	t.CompletedAt = &at
	t.Reward = reward
	r.st.tasks[id] = t
	return &t, nil
}

func (r *repo) InsertCompletion(_ context.Context, c *models.TaskCompletion) error {
	r.st.completionSeq++
	c.ID = r.st.completionSeq
	r.st.completions = append(r.st.completions, *c)
	return nil
}

func (r *repo) ListCompletions(_ context.Context, userID int64) ([]models.TaskCompletion, error) {
	var out []models.TaskCompletion
	for i := len(r.st.completions) - 1; i >= 0; i-- {
		if c := r.st.completions[i]; c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

// Transactions

func (r *repo) CreateTransaction(_ context.Context, t *models.Transaction) error {
	if _, ok := r.st.users[t.UserID]; !ok {
		return store.ErrNotFound
	}
	for _, other := range r.st.txs {
		if other.TransactionID == t.TransactionID {
			return store.ErrDuplicate
		}
		if t.Reference != nil && other.Reference != nil && *t.Reference == *other.Reference {
			return store.ErrDuplicate
		}
	}
	r.st.txSeq++
	t.ID = r.st.txSeq
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	r.st.txs[t.ID] = *t
	return nil
}

func (r *repo) GetTransaction(_ context.Context, id int64) (*models.Transaction, error) {
	t, ok := r.st.txs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (r *repo) LockTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	return r.GetTransaction(ctx, id)
}

func (r *repo) GetTransactionByReference(_ context.Context, reference string) (*models.Transaction, error) {
	for _, t := range r.st.txs {
		if t.Reference != nil && *t.Reference == reference {
			return &t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *repo) ResolveTransaction(_ context.Context, t *models.Transaction) error {
	cur, ok := r.st.txs[t.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Status != models.TxPending {
		return store.ErrStale
	}
	cur.Status = t.Status
	cur.BalanceAfter = t.BalanceAfter
	cur.ApprovedAt, cur.ApprovedBy = t.ApprovedAt, t.ApprovedBy
	cur.RejectedAt, cur.RejectedBy, cur.RejectReason = t.RejectedAt, t.RejectedBy, t.RejectReason
	r.st.txs[t.ID] = cur
	return nil
}

func (r *repo) ListTransactions(_ context.Context, userID int64) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, t := range r.st.txs {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *repo) ListPendingTransactions(_ context.Context, typ models.TxType) ([]models.PendingTransaction, error) {
	var out []models.PendingTransaction
	for _, t := range r.st.txs {
		if t.Type != typ || t.Status != models.TxPending {
			continue
		}
		u := r.st.users[t.UserID]
		out = append(out, models.PendingTransaction{
			Transaction:   t,
			Username:      u.Username,
			Phone:         u.Phone,
			WalletBalance: u.WalletBalance,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *repo) HasApprovedDeposit(_ context.Context, userID int64) (bool, error) {
	for _, t := range r.st.txs {
		if t.UserID == userID && t.Type == models.TxDeposit && t.Status == models.TxApproved {
			return true, nil
		}
	}
	return false, nil
}
