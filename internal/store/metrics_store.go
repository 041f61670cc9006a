package store

import (
	"context"
	"fmt"

	"github.com/Priya8975/block-reminders/internal/domain"
)

// GetDeliveryMetrics returns aggregated delivery statistics from the database.
func (s *PostgresStore) GetDeliveryMetrics(ctx context.Context) (*domain.DeliveryMetrics, error) {
	var m domain.DeliveryMetrics

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'sent') AS sent,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed
		FROM email_logs
	`).Scan(&m.TotalDeliveries, &m.SuccessCount, &m.FailedCount)
	if err != nil {
		return nil, fmt.Errorf("querying delivery metrics: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('pending', 'failed')) AS pending,
			COUNT(*) FILTER (WHERE status = 'exhausted') AS exhausted
		FROM notification_queue
	`).Scan(&m.PendingReminders, &m.ExhaustedReminders)
	if err != nil {
		return nil, fmt.Errorf("querying reminder metrics: %w", err)
	}

	m.ComputeSuccessRate()
	return &m, nil
}
