package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID               int64           `json:"id"`
	Phone            string          `json:"phone"`
	Username         string          `json:"username"`
	PasswordHash     string          `json:"-"`
	WalletBalance    decimal.Decimal `json:"walletBalance"`
	CommissionEarned decimal.Decimal `json:"commissionEarned"`
	ReferralCode     string          `json:"referralCode"`
	ReferredBy       *string         `json:"referredBy,omitempty"`
	IsAdmin          bool            `json:"isAdmin"`
	IsBlocked        bool            `json:"isBlocked"`
	ResetToken       *string         `json:"-"`
	ResetTokenExpiry *time.Time      `json:"-"`
	CreatedAt        time.Time       `json:"createdAt"`
}

type CreateUserRequest struct {
	Phone      string `json:"phone"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	ReferredBy string `json:"referredBy"`
	Secret     string `json:"secret,omitempty"`
}

type UserBalance struct {
	UserID           int64           `json:"userId"`
	Balance          decimal.Decimal `json:"balance"`
	CommissionEarned decimal.Decimal `json:"commissionEarned"`
}

// ResetTokenInfo is the admin view of an outstanding password reset.
type ResetTokenInfo struct {
	UserID    int64     `json:"id"`
	Login     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// BalanceEvent is pushed to connected clients whenever a wallet changes.
type BalanceEvent struct {
	UserID           int64           `json:"userId"`
	Balance          decimal.Decimal `json:"balance"`
	CommissionEarned decimal.Decimal `json:"commissionEarned"`
	Reason           string          `json:"reason"`
	At               time.Time       `json:"at"`
}
