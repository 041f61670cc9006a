package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Priya8975/block-reminders/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const reminderColumns = `id, block_id, user_id, recipient_address, recipient_name, title, description,
	block_start_time, block_end_time, due_at, status, attempt_count, last_attempt_at, last_error,
	created_at, updated_at`

// InsertReminder inserts r unless a reminder for the same block already
// exists, in which case the existing record is returned with created=false.
func (s *PostgresStore) InsertReminder(ctx context.Context, r domain.Reminder) (*domain.Reminder, bool, error) {
	return insertRetryingVanished(func() (*domain.Reminder, bool, error) {
		return s.insertReminder(ctx, r)
	})
}

func (s *PostgresStore) insertReminder(ctx context.Context, r domain.Reminder) (*domain.Reminder, bool, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO notification_queue (block_id, user_id, recipient_address, recipient_name, title, description,
			block_start_time, block_end_time, due_at, status, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (block_id) DO NOTHING
		RETURNING `+reminderColumns,
		r.BlockID, r.UserID, r.RecipientAddress, r.RecipientName, r.Title, r.Description,
		r.BlockStartTime, r.BlockEndTime, r.DueAt, string(r.Status), r.AttemptCount, r.CreatedAt, r.UpdatedAt,
	)

	inserted, err := scanReminder(row)
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("inserting reminder: %w", err)
	}

	existing, err := scanReminder(s.pool.QueryRow(ctx,
		`SELECT `+reminderColumns+` FROM notification_queue WHERE block_id = $1`, r.BlockID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("querying existing reminder: %w", errReminderVanished)
		}
		return nil, false, fmt.Errorf("querying existing reminder: %w", err)
	}
	return existing, false, nil
}

// GetReminder returns nil, nil when no reminder has the given ID.
func (s *PostgresStore) GetReminder(ctx context.Context, id string) (*domain.Reminder, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	r, err := scanReminder(s.pool.QueryRow(ctx,
		`SELECT `+reminderColumns+` FROM notification_queue WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying reminder: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) DeleteRemindersByBlock(ctx context.Context, blockID string) (int64, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM notification_queue WHERE block_id = $1`, blockID)
	if err != nil {
		return 0, fmt.Errorf("deleting reminders: %w", err)
	}
	return result.RowsAffected(), nil
}

// FindEligibleReminders returns retryable reminders due at or before now
// that still have attempts left, oldest due first. limit <= 0 means no limit.
func (s *PostgresStore) FindEligibleReminders(ctx context.Context, now time.Time, maxAttempts, limit int) ([]domain.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM notification_queue
		WHERE status = ANY($1) AND due_at <= $2 AND attempt_count < $3
		ORDER BY due_at, created_at`
	args := []interface{}{statusStrings(domain.RetryableStatuses), now, maxAttempts}

	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}

	return s.queryReminders(ctx, query, args...)
}

// ApplyTransition performs a compare-and-set update. It reports false when
// the stored record no longer matches the expected status and attempt count.
func (s *PostgresStore) ApplyTransition(ctx context.Context, t domain.Transition) (bool, error) {
	if _, err := uuid.Parse(t.ReminderID); err != nil {
		return false, nil
	}

	result, err := s.pool.Exec(ctx, `
		UPDATE notification_queue
		SET status = $4,
			attempt_count = $5,
			last_attempt_at = COALESCE($6, last_attempt_at),
			last_error = COALESCE($7, last_error),
			updated_at = $8
		WHERE id = $1 AND status = $2 AND attempt_count = $3
	`, t.ReminderID, string(t.ExpectedStatus), t.ExpectedAttempts,
		string(t.Status), t.AttemptCount, t.LastAttemptAt, t.LastError, t.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("updating reminder: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func (s *PostgresStore) CountRemindersByStatus(ctx context.Context, userID string) (domain.StatusCounts, error) {
	var counts domain.StatusCounts

	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM notification_queue
		WHERE user_id = $1
		GROUP BY status
	`, userID)
	if err != nil {
		return counts, fmt.Errorf("counting reminders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("scanning reminder count: %w", err)
		}
		counts.Add(domain.Status(status), n)
	}
	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("counting reminders: %w", err)
	}

	return counts, nil
}

// ListExhaustedReminders returns reminders that used every attempt, most
// recently attempted first. An empty userID lists them for all users.
func (s *PostgresStore) ListExhaustedReminders(ctx context.Context, userID string, limit int) ([]domain.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM notification_queue WHERE status = $1`
	args := []interface{}{string(domain.StatusExhausted)}
	argIdx := 2

	if userID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, userID)
		argIdx++
	}

	query += " ORDER BY last_attempt_at DESC NULLS LAST"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	return s.queryReminders(ctx, query, args...)
}

func (s *PostgresStore) queryReminders(ctx context.Context, query string, args ...interface{}) ([]domain.Reminder, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reminders: %w", err)
	}
	defer rows.Close()

	reminders := []domain.Reminder{}
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reminder: %w", err)
		}
		reminders = append(reminders, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying reminders: %w", err)
	}

	return reminders, nil
}

func scanReminder(row pgx.Row) (*domain.Reminder, error) {
	var r domain.Reminder
	var status string
	err := row.Scan(
		&r.ID, &r.BlockID, &r.UserID, &r.RecipientAddress, &r.RecipientName, &r.Title, &r.Description,
		&r.BlockStartTime, &r.BlockEndTime, &r.DueAt, &status, &r.AttemptCount, &r.LastAttemptAt, &r.LastError,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = domain.Status(status)
	return &r, nil
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
