package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Amounts go over the wire as JSON numbers.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

type TxType string

const (
	TxDeposit    TxType = "deposit"
	TxWithdrawal TxType = "withdrawal"
	TxTask       TxType = "task"
	TxCommission TxType = "commission"
)

func (t TxType) Valid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxTask, TxCommission:
		return true
	}
	return false
}

type TxStatus string

const (
	TxPending  TxStatus = "pending"
	TxApproved TxStatus = "approved"
	TxRejected TxStatus = "rejected"
)

type Transaction struct {
	ID            int64           `json:"id"`
	TransactionID string          `json:"transactionId"`
	UserID        int64           `json:"userId"`
	Type          TxType          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Status        TxStatus        `json:"status"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`
	Reference     *string         `json:"reference,omitempty"`
	Description   string          `json:"description,omitempty"`
	ApprovedAt    *time.Time      `json:"approvedAt,omitempty"`
	ApprovedBy    *int64          `json:"approvedBy,omitempty"`
	RejectedAt    *time.Time      `json:"rejectedAt,omitempty"`
	RejectedBy    *int64          `json:"rejectedBy,omitempty"`
	RejectReason  *string         `json:"rejectReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// PendingTransaction is a pending request joined with the owner's account,
// used by the admin approval queues.
type PendingTransaction struct {
	Transaction
	Username      string          `json:"username"`
	Phone         string          `json:"phone"`
	WalletBalance decimal.Decimal `json:"walletBalance"`
}

type AmountRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// BalanceAdjustment is an admin correction. Amount is signed.
type BalanceAdjustment struct {
	Amount decimal.Decimal `json:"amount"`
	Type   TxType          `json:"type"`
	Reason string          `json:"reason,omitempty"`
}

// PaymentStatus pairs a ledger transaction with the gateway's view of it.
type PaymentStatus struct {
	Transaction *Transaction    `json:"transaction"`
	Gateway     json.RawMessage `json:"gateway,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

// MobileMoneyIPN is the payment gateway's asynchronous notification.
type MobileMoneyIPN struct {
	Reference string          `json:"reference"`
	Phone     string          `json:"phone"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
}
