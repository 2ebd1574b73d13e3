package db

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"voltledger/internal/models"
)

const userColumns = `id, phone, username, password_hash, wallet_balance, commission_earned,
	referral_code, referred_by, is_admin, is_blocked, reset_token, reset_token_expiry, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Phone, &u.Username, &u.PasswordHash, &u.WalletBalance, &u.CommissionEarned,
		&u.ReferralCode, &u.ReferredBy, &u.IsAdmin, &u.IsBlocked, &u.ResetToken, &u.ResetTokenExpiry, &u.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (r *repo) queryUsers(ctx context.Context, query string, args ...any) ([]models.User, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (r *repo) CreateUser(ctx context.Context, u *models.User) error {
	query := `
		INSERT INTO users (phone, username, password_hash, wallet_balance, commission_earned,
			referral_code, referred_by, is_admin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := r.q.QueryRowContext(ctx, query, u.Phone, u.Username, u.PasswordHash, u.WalletBalance,
		u.CommissionEarned, u.ReferralCode, u.ReferredBy, u.IsAdmin).Scan(&u.ID, &u.CreatedAt)
	return mapErr(err)
}

func (r *repo) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(r.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

func (r *repo) LockUser(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(r.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1 FOR UPDATE", id))
}

func (r *repo) GetUserByReferralCode(ctx context.Context, code string) (*models.User, error) {
	return scanUser(r.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE referral_code = $1", code))
}

func (r *repo) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	return scanUser(r.q.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = $1 OR phone = $1 ORDER BY id LIMIT 1", login))
}

func (r *repo) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	return scanUser(r.q.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE phone = $1", phone))
}

func (r *repo) ListUsers(ctx context.Context) ([]models.User, error) {
	return r.queryUsers(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
}

func (r *repo) ListReferrals(ctx context.Context, code string) ([]models.User, error) {
	return r.queryUsers(ctx, "SELECT "+userColumns+" FROM users WHERE referred_by = $1 ORDER BY id", code)
}

func (r *repo) AdjustBalance(ctx context.Context, id int64, wallet, commission decimal.Decimal) (*models.User, error) {
	query := `
		UPDATE users
		SET wallet_balance = wallet_balance + $1,
			commission_earned = commission_earned + $2
		WHERE id = $3
		RETURNING ` + userColumns

	return scanUser(r.q.QueryRowContext(ctx, query, wallet, commission, id))
}

func (r *repo) SetBlocked(ctx context.Context, id int64, blocked bool) error {
	return expectOne(r.q.ExecContext(ctx, "UPDATE users SET is_blocked = $1 WHERE id = $2", blocked, id))
}

func (r *repo) SetResetToken(ctx context.Context, id int64, token *string, expiry *time.Time) error {
	return expectOne(r.q.ExecContext(ctx,
		"UPDATE users SET reset_token = $1, reset_token_expiry = $2 WHERE id = $3", token, expiry, id))
}

func (r *repo) SetPassword(ctx context.Context, id int64, hash string) error {
	return expectOne(r.q.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $1, reset_token = NULL, reset_token_expiry = NULL
		WHERE id = $2`, hash, id))
}

func (r *repo) DeleteUser(ctx context.Context, id int64) error {
	return expectOne(r.q.ExecContext(ctx, "DELETE FROM users WHERE id = $1", id))
}
