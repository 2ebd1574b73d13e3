package db

import (
	"context"
	"errors"
	"strconv"

	"voltledger/internal/models"
	"voltledger/internal/store"
)

const txColumns = `id, transaction_id, user_id, type, amount, status, balance_after, reference, description,
	approved_at, approved_by, rejected_at, rejected_by, reject_reason, created_at`

func itoa(n int) string { return strconv.Itoa(n) }

func scanTransaction(row rowScanner, extra ...any) (*models.Transaction, error) {
	var t models.Transaction
	dest := []any{&t.ID, &t.TransactionID, &t.UserID, &t.Type, &t.Amount, &t.Status, &t.BalanceAfter,
		&t.Reference, &t.Description, &t.ApprovedAt, &t.ApprovedBy, &t.RejectedAt, &t.RejectedBy,
		&t.RejectReason, &t.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (r *repo) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	query := `
		INSERT INTO transactions (transaction_id, user_id, type, amount, status, balance_after, reference,
			description, approved_at, approved_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	err := r.q.QueryRowContext(ctx, query, t.TransactionID, t.UserID, t.Type, t.Amount, t.Status,
		t.BalanceAfter, t.Reference, t.Description, t.ApprovedAt, t.ApprovedBy).Scan(&t.ID, &t.CreatedAt)
	return mapErr(err)
}

func (r *repo) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	return scanTransaction(r.q.QueryRowContext(ctx, "SELECT "+txColumns+" FROM transactions WHERE id = $1", id))
}

func (r *repo) LockTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	return scanTransaction(r.q.QueryRowContext(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE id = $1 FOR UPDATE", id))
}

func (r *repo) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	return scanTransaction(r.q.QueryRowContext(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE reference = $1", reference))
}

func (r *repo) ResolveTransaction(ctx context.Context, t *models.Transaction) error {
	query := `
		UPDATE transactions
		SET status = $1, balance_after = $2, approved_at = $3, approved_by = $4,
			rejected_at = $5, rejected_by = $6, reject_reason = $7
		WHERE id = $8 AND status = 'pending'`

	err := expectOne(r.q.ExecContext(ctx, query, t.Status, t.BalanceAfter, t.ApprovedAt, t.ApprovedBy,
		t.RejectedAt, t.RejectedBy, t.RejectReason, t.ID))
	if errors.Is(err, store.ErrNotFound) {
		if _, getErr := r.GetTransaction(ctx, t.ID); getErr == nil {
			return store.ErrStale
		}
	}
	return err
}

func (r *repo) ListTransactions(ctx context.Context, userID int64) ([]models.Transaction, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *repo) ListPendingTransactions(ctx context.Context, typ models.TxType) ([]models.PendingTransaction, error) {
	query := `
		SELECT t.id, t.transaction_id, t.user_id, t.type, t.amount, t.status, t.balance_after, t.reference,
			t.description, t.approved_at, t.approved_by, t.rejected_at, t.rejected_by, t.reject_reason,
			t.created_at, u.username, u.phone, u.wallet_balance
		FROM transactions t
		JOIN users u ON u.id = t.user_id
		WHERE t.type = $1 AND t.status = 'pending'
		ORDER BY t.created_at, t.id`

	rows, err := r.q.QueryContext(ctx, query, typ)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PendingTransaction
	for rows.Next() {
		var p models.PendingTransaction
		t, err := scanTransaction(rows, &p.Username, &p.Phone, &p.WalletBalance)
		if err != nil {
			return nil, err
		}
		p.Transaction = *t
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repo) HasApprovedDeposit(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE user_id = $1 AND type = 'deposit' AND status = 'approved'
		)`, userID).Scan(&exists)
	return exists, err
}
