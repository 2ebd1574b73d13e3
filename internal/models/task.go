package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type DailyTask struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"userId"`
	Date        string          `json:"date"`
	TaskName    string          `json:"taskName"`
	Reward      decimal.Decimal `json:"reward"`
	Completed   bool            `json:"completed"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// TaskCompletion is an append-only reward record. Referral marks a bonus
// cascaded from a referee's task rather than the user's own task.
type TaskCompletion struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"userId"`
	TaskID      int64           `json:"taskId"`
	TaskName    string          `json:"taskName"`
	Reward      decimal.Decimal `json:"reward"`
	Referral    bool            `json:"referral"`
	CompletedAt time.Time       `json:"completedAt"`
}

type Earnings struct {
	TotalFromTasks     decimal.Decimal  `json:"totalFromTasks"`
	TotalFromReferrals decimal.Decimal  `json:"totalFromReferrals"`
	TotalEarnings      decimal.Decimal  `json:"totalEarnings"`
	History            []TaskCompletion `json:"history"`
}
