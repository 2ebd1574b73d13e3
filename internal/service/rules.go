package service

import (
	"github.com/shopspring/decimal"

	"voltledger/internal/models"
)

const DateLayout = "2006-01-02"

var (
	MinDeposit    = decimal.NewFromInt(10_000)
	MinWithdrawal = decimal.NewFromInt(50_000)

	taskRewardRate = decimal.RequireFromString("0.001")
	referralRate   = decimal.RequireFromString("0.1")
	minReward      = decimal.NewFromInt(1)
)

// DefaultTasks is the canonical set every user receives each day.
var DefaultTasks = []string{
	"Login today",
	"Invite a friend",
	"Check your wallet",
	"View today's announcements",
	"Visit your referral dashboard",
	"Read one investment tip",
	"Check your transaction history",
	"Review your total earnings",
	"Update your profile",
	"Share app link on WhatsApp",
	"View leaderboard",
	"Reactivate one inactive referral",
	"Post about us on social media",
	"Watch short tutorial video",
	"Check deposit/withdrawal updates",
	"Send feedback to admin",
}

// TaskReward is 0.1% of the balance, floored, and never less than one unit.
func TaskReward(balance decimal.Decimal) decimal.Decimal {
	r := balance.Mul(taskRewardRate).Floor()
	if r.LessThan(minReward) {
		return minReward
	}
	return r
}

// ReferralBonus is 10% of the referee's reward rounded to whole units.
func ReferralBonus(reward decimal.Decimal) decimal.Decimal {
	return reward.Mul(referralRate).Round(0)
}

// referralOnly approximates "balance consists solely of commission": the user
// never had a deposit approved and commission covers the whole wallet. It
// does not track provenance per unit.
func referralOnly(u *models.User, hasDeposit bool) bool {
	return !hasDeposit && u.WalletBalance.IsPositive() && u.CommissionEarned.GreaterThanOrEqual(u.WalletBalance)
}
