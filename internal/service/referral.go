package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"voltledger/internal/metrics"
	"voltledger/internal/models"
	"voltledger/internal/store"
)

const (
	referralCodeLength  = 6
	referralCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

func generateReferralCode() (string, error) {
	code := make([]byte, referralCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(referralCodeCharset))))
		if err != nil {
			return "", fmt.Errorf("random int: %w", err)
		}
		code[i] = referralCodeCharset[n.Int64()]
	}
	return string(code), nil
}

func generateUniqueReferralCode(ctx context.Context, r store.Repo) (string, error) {
	for i := 0; i < 10; i++ {
		code, err := generateReferralCode()
		if err != nil {
			return "", err
		}
		_, err = r.GetUserByReferralCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("check referral code: %w", err)
		}
	}
	return "", fmt.Errorf("failed to generate unique referral code after 10 attempts")
}

// cascadeReferral credits the referee's referrer ReferralBonus(reward) as
// commission. It runs under a savepoint: an unknown referral code is a no-op
// and any failure is logged and undone without affecting the caller's writes.
// taskID, when set, also records a referral TaskCompletion for the earnings view.
func (b *base) cascadeReferral(ctx context.Context, r store.Repo, referee *models.User, reward decimal.Decimal, taskID *int64, at time.Time) *models.User {
	if referee.ReferredBy == nil || *referee.ReferredBy == "" {
		return nil
	}
	bonus := ReferralBonus(reward)
	if !bonus.IsPositive() {
		return nil
	}

	var credited *models.User
	err := r.Savepoint(ctx, func(sp store.Repo) error {
		referrer, err := sp.GetUserByReferralCode(ctx, *referee.ReferredBy)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("find referrer: %w", err)
		}
		if referrer.ID == referee.ID {
			return nil
		}

		referrer, err = sp.AdjustBalance(ctx, referrer.ID, bonus, bonus)
		if err != nil {
			return fmt.Errorf("credit referrer: %w", err)
		}

		name := "Referral bonus from " + referee.Username
		if taskID != nil {
			if err := sp.InsertCompletion(ctx, &models.TaskCompletion{
				UserID:      referrer.ID,
				TaskID:      *taskID,
				TaskName:    name,
				Reward:      bonus,
				Referral:    true,
				CompletedAt: at,
			}); err != nil {
				return fmt.Errorf("record referral completion: %w", err)
			}
		}

		if err := sp.CreateTransaction(ctx, &models.Transaction{
			TransactionID: newTransactionID(),
			UserID:        referrer.ID,
			Type:          models.TxCommission,
			Amount:        bonus,
			Status:        models.TxApproved,
			BalanceAfter:  referrer.WalletBalance,
			Description:   name,
			ApprovedAt:    &at,
		}); err != nil {
			return fmt.Errorf("record commission: %w", err)
		}

		credited = referrer
		return nil
	})
	if err != nil {
		metrics.ReferralCascadeFailures.Inc()
		b.logger.Warn("referral cascade failed",
			zap.Int64("referee_id", referee.ID),
			zap.String("referred_by", *referee.ReferredBy),
			zap.Error(err),
		)
		return nil
	}
	if credited != nil {
		metrics.RewardsCredited.WithLabelValues("referral").Add(bonus.InexactFloat64())
	}
	return credited
}
