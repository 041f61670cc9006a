package domain

import (
	"time"
)

// Outcome is the result of a single delivery attempt.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
)

// DeliveryLogEntry is the audit record of one delivery attempt. Entries are
// appended once and never modified.
type DeliveryLogEntry struct {
	ID               string    `json:"id"`
	ReminderID       string    `json:"notification_id"`
	UserID           string    `json:"user_id"`
	RecipientAddress string    `json:"user_email"`
	SubjectLine      string    `json:"subject"`
	Outcome          Outcome   `json:"status"`
	ErrorDetail      *string   `json:"error,omitempty"`
	OccurredAt       time.Time `json:"sent_at"`
}

// DeliveryMetrics holds aggregated delivery statistics.
type DeliveryMetrics struct {
	TotalDeliveries    int     `json:"total_deliveries"`
	SuccessCount       int     `json:"success_count"`
	FailedCount        int     `json:"failed_count"`
	SuccessRate        float64 `json:"success_rate"`
	PendingReminders   int     `json:"pending_reminders"`
	ExhaustedReminders int     `json:"exhausted_reminders"`
}

// ComputeSuccessRate fills SuccessRate from the counters.
func (m *DeliveryMetrics) ComputeSuccessRate() {
	if m.TotalDeliveries > 0 {
		m.SuccessRate = float64(m.SuccessCount) / float64(m.TotalDeliveries) * 100
	}
}
