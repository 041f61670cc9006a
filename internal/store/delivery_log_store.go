package store

import (
	"context"
	"fmt"

	"github.com/Priya8975/block-reminders/internal/domain"
)

// InsertDeliveryLog appends an audit entry and fills in its generated ID.
func (s *PostgresStore) InsertDeliveryLog(ctx context.Context, e *domain.DeliveryLogEntry) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO email_logs (notification_id, user_id, user_email, subject, status, error, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, e.ReminderID, e.UserID, e.RecipientAddress, e.SubjectLine, string(e.Outcome), e.ErrorDetail, e.OccurredAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("inserting delivery log: %w", err)
	}
	return nil
}

// ListDeliveryLogs returns the newest entries for a user first.
func (s *PostgresStore) ListDeliveryLogs(ctx context.Context, userID string, limit int) ([]domain.DeliveryLogEntry, error) {
	query := `SELECT id, notification_id, user_id, user_email, subject, status, error, sent_at
		FROM email_logs WHERE user_id = $1 ORDER BY sent_at DESC, id`
	args := []interface{}{userID}

	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying delivery logs: %w", err)
	}
	defer rows.Close()

	entries := []domain.DeliveryLogEntry{}
	for rows.Next() {
		var e domain.DeliveryLogEntry
		var outcome string
		err := rows.Scan(&e.ID, &e.ReminderID, &e.UserID, &e.RecipientAddress, &e.SubjectLine, &outcome, &e.ErrorDetail, &e.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery log: %w", err)
		}
		e.Outcome = domain.Outcome(outcome)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying delivery logs: %w", err)
	}

	return entries, nil
}
