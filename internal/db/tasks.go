package db

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"voltledger/internal/models"
)

const taskColumns = `id, user_id, task_date, task_name, reward, completed, completed_at, created_at`

func scanTask(row rowScanner) (*models.DailyTask, error) {
	var t models.DailyTask
	err := row.Scan(&t.ID, &t.UserID, &t.Date, &t.TaskName, &t.Reward, &t.Completed, &t.CompletedAt, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (r *repo) ListTasks(ctx context.Context, userID int64, date string) ([]models.DailyTask, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM daily_tasks WHERE user_id = $1 AND task_date = $2 ORDER BY id", userID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []models.DailyTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (r *repo) InsertTasks(ctx context.Context, tasks []models.DailyTask) (int, error) {
	if len(tasks) == 0 {
		return 0, nil
	}

	var (
		sb   strings.Builder
		args = make([]any, 0, len(tasks)*4)
	)
	sb.WriteString("INSERT INTO daily_tasks (user_id, task_date, task_name, reward) VALUES ")
	for i, t := range tasks {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := len(args)
		sb.WriteString("($" + itoa(n+1) + ", $" + itoa(n+2) + ", $" + itoa(n+3) + ", $" + itoa(n+4) + ")")
		args = append(args, t.UserID, t.Date, t.TaskName, t.Reward)
	}
	sb.WriteString(" ON CONFLICT (user_id, task_date, task_name) DO NOTHING")

	res, err := r.q.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *repo) DeletePendingTasks(ctx context.Context, userID int64, date string) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		"DELETE FROM daily_tasks WHERE user_id = $1 AND task_date = $2 AND completed = FALSE", userID, date)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *repo) GetTask(ctx context.Context, id int64) (*models.DailyTask, error) {
	return scanTask(r.q.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM daily_tasks WHERE id = $1", id))
}

func (r *repo) CompleteTask(ctx context.Context, id, userID int64, reward decimal.Decimal, at time.Time) (*models.DailyTask, error) {
	query := `
		UPDATE daily_tasks
		SET completed = TRUE, completed_at = $1, reward = $2
		WHERE id = $3 AND user_id = $4 AND completed = FALSE
		RETURNING ` + taskColumns

	return scanTask(r.q.QueryRowContext(ctx, query, at, reward, id, userID))
}

func (r *repo) InsertCompletion(ctx context.Context, c *models.TaskCompletion) error {
	query := `
		INSERT INTO task_completions (user_id, task_id, task_name, reward, referral, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	return mapErr(r.q.QueryRowContext(ctx, query, c.UserID, c.TaskID, c.TaskName, c.Reward, c.Referral, c.CompletedAt).Scan(&c.ID))
}

func (r *repo) ListCompletions(ctx context.Context, userID int64) ([]models.TaskCompletion, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, user_id, task_id, task_name, reward, referral, completed_at
		FROM task_completions
		WHERE user_id = $1
		ORDER BY completed_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TaskCompletion
	for rows.Next() {
		var c models.TaskCompletion
		if err := rows.Scan(&c.ID, &c.UserID, &c.TaskID, &c.TaskName, &c.Reward, &c.Referral, &c.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
