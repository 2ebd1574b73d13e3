package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"voltledger/internal/metrics"
	"voltledger/internal/mobilemoney"
	"voltledger/internal/models"
	"voltledger/internal/store"
)

const (
	defaultRejectReason    = "No reason provided"
	collectionFailedReason = "mobile money collection failed"
)

// Mobile-money gateway statuses reported through the IPN callback.
const (
	PaymentSuccess = "success"
	PaymentFailed  = "failed"
)

type WalletService struct {
	base
}

func NewWalletService(d Deps) *WalletService {
	return &WalletService{base: newBase(d)}
}

func getUser(ctx context.Context, r store.Repo, userID int64, lock bool) (*models.User, error) {
	get := r.GetUser
	if lock {
		get = r.LockUser
	}
	u, err := get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// RequestDeposit records a pending deposit. The balance is credited only
// when an admin (or the payment gateway) approves it.
func (s *WalletService) RequestDeposit(ctx context.Context, userID int64, amount decimal.Decimal, reference string) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if amount.LessThan(MinDeposit) {
		return nil, ErrBelowMinDeposit
	}

	var (
		tx   *models.Transaction
		user *models.User
	)
	err := s.store.WithTx(ctx, func(r store.Repo) error {
		var err error
		if user, err = getUser(ctx, r, userID, false); err != nil {
			return err
		}

		tx = &models.Transaction{
			TransactionID: newTransactionID(),
			UserID:        userID,
			Type:          models.TxDeposit,
			Amount:        amount,
			Status:        models.TxPending,
			BalanceAfter:  user.WalletBalance,
		}
		if ref := strings.TrimSpace(reference); ref != "" {
			tx.Reference = &ref
		}
		if err := r.CreateTransaction(ctx, tx); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrDuplicateRef
			}
			return fmt.Errorf("create deposit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TransactionTransitions.WithLabelValues(string(models.TxDeposit), string(models.TxPending)).Inc()

	if s.gateway != nil && tx.Reference != nil {
		if err := s.collect(ctx, user, tx); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

// collect starts the mobile-money collection for a referenced deposit. A
// request the gateway refuses can never be confirmed, so it is rejected.
func (s *WalletService) collect(ctx context.Context, user *models.User, tx *models.Transaction) error {
	_, err := s.gateway.Collect(ctx, mobilemoney.Collection{
		Phone:     user.Phone,
		Amount:    tx.Amount,
		Reference: *tx.Reference,
		Reason:    "Deposit " + tx.TransactionID,
	})
	if err == nil {
		return nil
	}

	s.logger.Error("mobile money collection failed",
		zap.Int64("transaction_id", tx.ID),
		zap.String("reference", *tx.Reference),
		zap.Error(err),
	)
	if _, rerr := s.reject(ctx, models.TxDeposit, 0, tx.ID, collectionFailedReason); rerr != nil {
		s.logger.Error("reject failed collection", zap.Int64("transaction_id", tx.ID), zap.Error(rerr))
	}
	return gatewayError(err)
}

// RequestWithdrawal records a pending withdrawal after checking the minimum,
// the prior-deposit requirement and the current balance. Nothing is held:
// the debit happens on approval.
func (s *WalletService) RequestWithdrawal(ctx context.Context, userID int64, amount decimal.Decimal) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if amount.LessThan(MinWithdrawal) {
		return nil, ErrBelowMinWithdrawal
	}

	var tx *models.Transaction
	err := s.store.WithTx(ctx, func(r store.Repo) error {
		user, err := getUser(ctx, r, userID, false)
		if err != nil {
			return err
		}

		deposited, err := r.HasApprovedDeposit(ctx, userID)
		if err != nil {
			return fmt.Errorf("check deposits: %w", err)
		}
		if !deposited {
			return ErrNoApprovedDeposit
		}
		if user.WalletBalance.LessThan(amount) {
			return ErrInsufficientBalance
		}

		tx = &models.Transaction{
			TransactionID: newTransactionID(),
			UserID:        userID,
			Type:          models.TxWithdrawal,
			Amount:        amount,
			Status:        models.TxPending,
			BalanceAfter:  user.WalletBalance,
		}
		if err := r.CreateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("create withdrawal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TransactionTransitions.WithLabelValues(string(models.TxWithdrawal), string(models.TxPending)).Inc()
	return tx, nil
}

func (s *WalletService) ApproveDeposit(ctx context.Context, adminID, txID int64) (*models.Transaction, error) {
	return s.approve(ctx, models.TxDeposit, adminID, txID)
}

func (s *WalletService) ApproveWithdrawal(ctx context.Context, adminID, txID int64) (*models.Transaction, error) {
	return s.approve(ctx, models.TxWithdrawal, adminID, txID)
}

func (s *WalletService) RejectDeposit(ctx context.Context, adminID, txID int64, reason string) (*models.Transaction, error) {
	return s.reject(ctx, models.TxDeposit, adminID, txID, reason)
}

func (s *WalletService) RejectWithdrawal(ctx context.Context, adminID, txID int64, reason string) (*models.Transaction, error) {
	return s.reject(ctx, models.TxWithdrawal, adminID, txID, reason)
}

// lockPending loads a transaction of the given type for update and checks
// that it is still pending.
func lockPending(ctx context.Context, r store.Repo, typ models.TxType, txID int64) (*models.Transaction, error) {
	tx, err := r.LockTransaction(ctx, txID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && tx.Type != typ) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock transaction: %w", err)
	}
	if tx.Status != models.TxPending {
		return nil, ErrAlreadyProcessed
	}
	return tx, nil
}

func resolve(ctx context.Context, r store.Repo, tx *models.Transaction) error {
	err := r.ResolveTransaction(ctx, tx)
	if errors.Is(err, store.ErrStale) {
		return ErrAlreadyProcessed
	}
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return nil
}

// actor maps the system actor (0) to no approver.
func actor(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func (s *WalletService) approve(ctx context.Context, typ models.TxType, adminID, txID int64) (*models.Transaction, error) {
	var (
		tx   *models.Transaction
		user *models.User
	)
	now := s.now()

	err := s.store.WithTx(ctx, func(r store.Repo) error {
		var err error
		if tx, err = lockPending(ctx, r, typ, txID); err != nil {
			return err
		}
		if user, err = getUser(ctx, r, tx.UserID, true); err != nil {
			return err
		}

		delta := tx.Amount
		if typ == models.TxWithdrawal {
			if user.WalletBalance.LessThan(tx.Amount) {
				return ErrBalanceChanged
			}
			delta = tx.Amount.Neg()
		}

		if user, err = r.AdjustBalance(ctx, user.ID, delta, decimal.Zero); err != nil {
			return fmt.Errorf("adjust balance: %w", err)
		}

		tx.Status = models.TxApproved
		tx.ApprovedAt = &now
		tx.ApprovedBy = actor(adminID)
		tx.BalanceAfter = user.WalletBalance
		if err := resolve(ctx, r, tx); err != nil {
			return err
		}

		// The payout is the last step: if the gateway refuses, the debit
		// rolls back and the request stays pending.
		if typ == models.TxWithdrawal && s.gateway != nil {
			if _, err := s.gateway.Send(ctx, mobilemoney.Payout{
				Phone:     user.Phone,
				Amount:    tx.Amount,
				Reference: tx.TransactionID,
			}); err != nil {
				s.logger.Error("mobile money payout failed",
					zap.Int64("transaction_id", tx.ID),
					zap.Int64("user_id", tx.UserID),
					zap.Error(err),
				)
				return gatewayError(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TransactionTransitions.WithLabelValues(string(typ), string(models.TxApproved)).Inc()
	s.logger.Info("transaction approved",
		zap.String("type", string(typ)),
		zap.Int64("transaction_id", tx.ID),
		zap.Int64("user_id", tx.UserID),
		zap.Int64("admin_id", adminID),
		zap.String("amount", tx.Amount.String()),
	)
	s.publish(ctx, []models.BalanceEvent{balanceEvent(user, string(typ), now)})
	return tx, nil
}

func (s *WalletService) reject(ctx context.Context, typ models.TxType, adminID, txID int64, reason string) (*models.Transaction, error) {
	if reason == "" {
		reason = defaultRejectReason
	}
	now := s.now()

	var tx *models.Transaction
	err := s.store.WithTx(ctx, func(r store.Repo) error {
		var err error
		if tx, err = lockPending(ctx, r, typ, txID); err != nil {
			return err
		}
		tx.Status = models.TxRejected
		tx.RejectedAt = &now
		tx.RejectedBy = actor(adminID)
		tx.RejectReason = &reason
		return resolve(ctx, r, tx)
	})
	if err != nil {
		return nil, err
	}

	metrics.TransactionTransitions.WithLabelValues(string(typ), string(models.TxRejected)).Inc()
	s.logger.Info("transaction rejected",
		zap.String("type", string(typ)),
		zap.Int64("transaction_id", tx.ID),
		zap.Int64("admin_id", adminID),
		zap.String("reason", reason),
	)
	return tx, nil
}

// CreditTaskReward credits an externally computed task reward and cascades
// the referral bonus through the same rule as CompleteTask.
func (s *WalletService) CreditTaskReward(ctx context.Context, userID int64, reward decimal.Decimal, taskName string) (*models.Transaction, error) {
	if !reward.IsPositive() {
		return nil, ErrInvalidAmount
	}
	now := s.now()

	var (
		tx     *models.Transaction
		events []models.BalanceEvent
	)
	err := s.store.WithTx(ctx, func(r store.Repo) error {
		events = nil
		if _, err := getUser(ctx, r, userID, true); err != nil {
			return err
		}
		user, err := r.AdjustBalance(ctx, userID, reward, decimal.Zero)
		if err != nil {
			return fmt.Errorf("credit reward: %w", err)
		}

		tx = &models.Transaction{
			TransactionID: newTransactionID(),
			UserID:        userID,
			Type:          models.TxTask,
			Amount:        reward,
			Status:        models.TxApproved,
			BalanceAfter:  user.WalletBalance,
			Description:   taskName,
			ApprovedAt:    &now,
		}
		if err := r.CreateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("record task transaction: %w", err)
		}
		events = append(events, balanceEvent(user, "task", now))

		if referrer := s.cascadeReferral(ctx, r, user, reward, nil, now); referrer != nil {
			events = append(events, balanceEvent(referrer, "commission", now))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RewardsCredited.WithLabelValues("task").Add(reward.InexactFloat64())
	s.publish(ctx, events)
	return tx, nil
}

// CreditCommission is a manual commission credit by an admin.
func (s *WalletService) CreditCommission(ctx context.Context, adminID, userID int64, amount decimal.Decimal, reason string) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	now := s.now()

	var (
		tx   *models.Transaction
		user *models.User
	)
	err := s.store.WithTx(ctx, func(r store.Repo) error {
		var err error
		if _, err = getUser(ctx, r, userID, true); err != nil {
			return err
		}
		if user, err = r.AdjustBalance(ctx, userID, amount, amount); err != nil {
			return fmt.Errorf("credit commission: %w", err)
		}

		tx = &models.Transaction{
			TransactionID: newTransactionID(),
			UserID:        userID,
			Type:          models.TxCommission,
			Amount:        amount,
			Status:        models.TxApproved,
			BalanceAfter:  user.WalletBalance,
			Description:   reason,
			ApprovedAt:    &now,
			ApprovedBy:    actor(adminID),
		}
		if err := r.CreateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("record commission: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RewardsCredited.WithLabelValues("manual_commission").Add(amount.InexactFloat64())
	s.publish(ctx, []models.BalanceEvent{balanceEvent(user, "commission", now)})
	return tx, nil
}

// ReconcilePayment applies a mobile-money gateway notification to the
// pending deposit carrying the same reference.
func (s *WalletService) ReconcilePayment(ctx context.Context, ipn models.MobileMoneyIPN) (*models.Transaction, error) {
	tx, err := store.Read(ctx, s.store, func(r store.Repo) (*models.Transaction, error) {
		return r.GetTransactionByReference(ctx, ipn.Reference)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find transaction by reference: %w", err)
	}

	switch strings.ToLower(ipn.Status) {
	case PaymentSuccess:
		if !ipn.Amount.IsZero() && !ipn.Amount.Equal(tx.Amount) {
			s.logger.Warn("mobile money amount mismatch",
				zap.String("reference", ipn.Reference),
				zap.String("requested", tx.Amount.String()),
				zap.String("reported", ipn.Amount.String()),
			)
		}
		return s.ApproveDeposit(ctx, 0, tx.ID)
	case PaymentFailed:
		return s.RejectDeposit(ctx, 0, tx.ID, "mobile money payment failed")
	default:
		return nil, ErrUnknownPaymentStatus
	}
}

// PaymentStatus asks the gateway about a referenced payment. Callers only
// see their own transactions unless they are admins.
func (s *WalletService) PaymentStatus(ctx context.Context, callerID int64, admin bool, reference string) (*models.PaymentStatus, error) {
	if s.gateway == nil {
		return nil, ErrGatewayDisabled
	}

	tx, err := store.Read(ctx, s.store, func(r store.Repo) (*models.Transaction, error) {
		return r.GetTransactionByReference(ctx, reference)
	})
	if errors.Is(err, store.ErrNotFound) || (err == nil && !admin && tx.UserID != callerID) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find transaction by reference: %w", err)
	}

	resp, err := s.gateway.Status(ctx, reference)
	if err != nil {
		return nil, gatewayError(err)
	}
	return &models.PaymentStatus{Transaction: tx, Gateway: resp.Data}, nil
}

// AdjustBalance applies a signed admin correction to a wallet. Task and
// commission adjustments also move the commission total.
func (s *WalletService) AdjustBalance(ctx context.Context, adminID, userID int64, adj models.BalanceAdjustment) (*models.Transaction, error) {
	if adj.Amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	if !adj.Type.Valid() {
		return nil, ErrInvalidTxType
	}
	commission := decimal.Zero
	if adj.Type == models.TxTask || adj.Type == models.TxCommission {
		commission = adj.Amount
	}
	reason := strings.TrimSpace(adj.Reason)
	if reason == "" {
		reason = fmt.Sprintf("Balance updated (%s)", adj.Type)
	}
	now := s.now()

	var (
		tx   *models.Transaction
		user *models.User
	)
	err := s.store.WithTx(ctx, func(r store.Repo) error {
		current, err := getUser(ctx, r, userID, true)
		if err != nil {
			return err
		}
		if current.WalletBalance.Add(adj.Amount).IsNegative() || current.CommissionEarned.Add(commission).IsNegative() {
			return ErrNegativeBalance
		}
		if user, err = r.AdjustBalance(ctx, userID, adj.Amount, commission); err != nil {
			return fmt.Errorf("adjust balance: %w", err)
		}

		tx = &models.Transaction{
			TransactionID: newTransactionID(),
			UserID:        userID,
			Type:          adj.Type,
			Amount:        adj.Amount,
			Status:        models.TxApproved,
			BalanceAfter:  user.WalletBalance,
			Description:   reason,
			ApprovedAt:    &now,
			ApprovedBy:    actor(adminID),
		}
		if err := r.CreateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("record adjustment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("balance adjusted",
		zap.Int64("user_id", userID),
		zap.Int64("admin_id", adminID),
		zap.String("type", string(adj.Type)),
		zap.String("amount", adj.Amount.String()),
	)
	s.publish(ctx, []models.BalanceEvent{balanceEvent(user, "adjustment", now)})
	return tx, nil
}

func (s *WalletService) Balance(ctx context.Context, userID int64) (*models.UserBalance, error) {
	return store.Read(ctx, s.store, func(r store.Repo) (*models.UserBalance, error) {
		u, err := getUser(ctx, r, userID, false)
		if err != nil {
			return nil, err
		}
		return &models.UserBalance{UserID: u.ID, Balance: u.WalletBalance, CommissionEarned: u.CommissionEarned}, nil
	})
}

func (s *WalletService) ListTransactions(ctx context.Context, userID int64) ([]models.Transaction, error) {
	txs, err := store.Read(ctx, s.store, func(r store.Repo) ([]models.Transaction, error) {
		return r.ListTransactions(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	return txs, nil
}

func (s *WalletService) ListPending(ctx context.Context, typ models.TxType) ([]models.PendingTransaction, error) {
	pending, err := store.Read(ctx, s.store, func(r store.Repo) ([]models.PendingTransaction, error) {
		return r.ListPendingTransactions(ctx, typ)
	})
	if err != nil {
		return nil, fmt.Errorf("list pending %s: %w", typ, err)
	}
	if pending == nil {
		pending = []models.PendingTransaction{}
	}
	return pending, nil
}
