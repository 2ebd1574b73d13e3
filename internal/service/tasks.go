package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voltledger/internal/metrics"
	"voltledger/internal/models"
	"voltledger/internal/store"
)

type TaskService struct {
	base
	concurrency int
}

func NewTaskService(d Deps, regenerateConcurrency int) *TaskService {
	if regenerateConcurrency < 1 {
		regenerateConcurrency = 1
	}
	return &TaskService{base: newBase(d), concurrency: regenerateConcurrency}
}

type CompletionResult struct {
	Reward     decimal.Decimal  `json:"reward"`
	NewBalance decimal.Decimal  `json:"newBalance"`
	Task       models.DailyTask `json:"task"`
}

func canonicalTasks(userID int64, date string) []models.DailyTask {
	tasks := make([]models.DailyTask, 0, len(DefaultTasks))
	for _, name := range DefaultTasks {
		tasks = append(tasks, models.DailyTask{
			UserID:   userID,
			Date:     date,
			TaskName: name,
			Reward:   decimal.Zero,
		})
	}
	return tasks
}

// EnsureTasksForToday returns the user's tasks for the current day, creating
// the canonical set on the first call of the day. Concurrent first calls
// converge on a single set.
func (s *TaskService) EnsureTasksForToday(ctx context.Context, userID int64) ([]models.DailyTask, error) {
	today := s.today()
	return store.Read(ctx, s.store, func(r store.Repo) ([]models.DailyTask, error) {
		if _, err := r.GetUser(ctx, userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrUserNotFound
			}
			return nil, fmt.Errorf("get user: %w", err)
		}

		tasks, err := r.ListTasks(ctx, userID, today)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		if len(tasks) > 0 {
			return tasks, nil
		}

		n, err := r.InsertTasks(ctx, canonicalTasks(userID, today))
		if err != nil {
			return nil, fmt.Errorf("insert tasks: %w", err)
		}
		metrics.TasksGenerated.Add(float64(n))

		return r.ListTasks(ctx, userID, today)
	})
}

// RegenerateAll refreshes today's uncompleted tasks for every user. Completed
// tasks are kept so a regeneration can never reopen an already rewarded task.
func (s *TaskService) RegenerateAll(ctx context.Context) (int, error) {
	today := s.today()
	users, err := store.Read(ctx, s.store, func(r store.Repo) ([]models.User, error) {
		return r.ListUsers(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	var created atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, u := range users {
		userID := u.ID
		g.Go(func() error {
			return s.store.WithTx(gctx, func(r store.Repo) error {
				if _, err := r.DeletePendingTasks(gctx, userID, today); err != nil {
					return fmt.Errorf("delete tasks for user %d: %w", userID, err)
				}
				n, err := r.InsertTasks(gctx, canonicalTasks(userID, today))
				if err != nil {
					return fmt.Errorf("insert tasks for user %d: %w", userID, err)
				}
				created.Add(int64(n))
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	metrics.TasksGenerated.Add(float64(created.Load()))
	s.logger.Info("daily tasks regenerated",
		zap.String("date", today),
		zap.Int("users", len(users)),
		zap.Int64("tasks", created.Load()),
	)
	return len(users), nil
}

// CompleteTask rewards the user with TaskReward of the current balance and
// cascades the referral bonus. The task, the user's credit and the log rows
// commit together; the referral part is isolated by a savepoint.
func (s *TaskService) CompleteTask(ctx context.Context, userID, taskID int64) (*CompletionResult, error) {
	var (
		res    *CompletionResult
		events []models.BalanceEvent
	)
	now := s.now()

	err := s.store.WithTx(ctx, func(r store.Repo) error {
		events = nil

		user, err := r.LockUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("lock user: %w", err)
		}

		deposited, err := r.HasApprovedDeposit(ctx, userID)
		if err != nil {
			return fmt.Errorf("check deposits: %w", err)
		}
		if referralOnly(user, deposited) {
			return ErrReferralOnlyBalance
		}

		task, err := r.GetTask(ctx, taskID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && task.UserID != userID) {
			return ErrTaskNotFound
		}
		if err != nil {
			return fmt.Errorf("get task: %w", err)
		}
		if task.Completed {
			return ErrTaskAlreadyDone
		}
		if !user.WalletBalance.IsPositive() {
			return ErrZeroBalance
		}

		reward := TaskReward(user.WalletBalance)
		task, err = r.CompleteTask(ctx, taskID, userID, reward, now)
		if errors.Is(err, store.ErrNotFound) {
			return ErrTaskAlreadyDone
		}
		if err != nil {
			return fmt.Errorf("complete task: %w", err)
		}

		user, err = r.AdjustBalance(ctx, userID, reward, decimal.Zero)
		if err != nil {
			return fmt.Errorf("credit reward: %w", err)
		}

		if err := r.InsertCompletion(ctx, &models.TaskCompletion{
			UserID:      userID,
			TaskID:      task.ID,
			TaskName:    task.TaskName,
			Reward:      reward,
			CompletedAt: now,
		}); err != nil {
			return fmt.Errorf("record completion: %w", err)
		}

		if err := r.CreateTransaction(ctx, &models.Transaction{
			TransactionID: newTransactionID(),
			UserID:        userID,
			Type:          models.TxTask,
			Amount:        reward,
			Status:        models.TxApproved,
			BalanceAfter:  user.WalletBalance,
			Description:   task.TaskName,
			ApprovedAt:    &now,
		}); err != nil {
			return fmt.Errorf("record task transaction: %w", err)
		}
		events = append(events, balanceEvent(user, "task", now))

		if referrer := s.cascadeReferral(ctx, r, user, reward, &task.ID, now); referrer != nil {
			events = append(events, balanceEvent(referrer, "commission", now))
		}

		res = &CompletionResult{Reward: reward, NewBalance: user.WalletBalance, Task: *task}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TasksCompleted.Inc()
	metrics.RewardsCredited.WithLabelValues("task").Add(res.Reward.InexactFloat64())
	s.publish(ctx, events)
	return res, nil
}

// Earnings summarises the user's task rewards and referral bonuses.
func (s *TaskService) Earnings(ctx context.Context, userID int64) (*models.Earnings, error) {
	history, err := store.Read(ctx, s.store, func(r store.Repo) ([]models.TaskCompletion, error) {
		return r.ListCompletions(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}

	e := &models.Earnings{History: history}
	if e.History == nil {
		e.History = []models.TaskCompletion{}
	}
	for _, c := range history {
		if c.Referral {
			e.TotalFromReferrals = e.TotalFromReferrals.Add(c.Reward)
		} else {
			e.TotalFromTasks = e.TotalFromTasks.Add(c.Reward)
		}
	}
	e.TotalEarnings = e.TotalFromTasks.Add(e.TotalFromReferrals)
	return e, nil
}
