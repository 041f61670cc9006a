package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

const (
	// LeadTime is how long before a block starts its reminder becomes due.
	LeadTime = 10 * time.Minute

	// MaxAttempts is the retry ceiling. A reminder whose attempt count reaches
	// it is exhausted and never selected again.
	MaxAttempts = 3
)

// Status is the lifecycle state of a reminder.
type Status string

const (
	StatusPending Status = "pending"
	// StatusFailed means the last attempt failed and retries remain.
	StatusFailed Status = "failed"
	StatusSent   Status = "sent"
	// StatusExhausted means every attempt failed.
	StatusExhausted Status = "exhausted"
)

// Terminal reports whether no further transition can happen from s.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusExhausted
}

// RetryableStatuses are the statuses a reminder can be selected from.
var RetryableStatuses = []Status{StatusPending, StatusFailed}

// Reminder is one queued reminder for a time block. Recipient and block
// fields are a snapshot taken at enqueue time.
type Reminder struct {
	ID               string     `json:"id"`
	BlockID          string     `json:"block_id"`
	UserID           string     `json:"user_id"`
	RecipientAddress string     `json:"recipient_address"`
	RecipientName    string     `json:"recipient_name"`
	Title            string     `json:"title"`
	Description      *string    `json:"description,omitempty"`
	BlockStartTime   time.Time  `json:"block_start_time"`
	BlockEndTime     time.Time  `json:"block_end_time"`
	DueAt            time.Time  `json:"due_at"`
	Status           Status     `json:"status"`
	AttemptCount     int        `json:"attempt_count"`
	LastAttemptAt    *time.Time `json:"last_attempt_at,omitempty"`
	LastError        *string    `json:"last_error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Eligible reports whether r may be picked up by a processing pass at now.
func (r Reminder) Eligible(now time.Time) bool {
	if r.Status != StatusPending && r.Status != StatusFailed {
		return false
	}
	return !r.DueAt.After(now) && r.AttemptCount < MaxAttempts
}

// SubjectLine is the subject used for the reminder email and its audit entry.
func (r Reminder) SubjectLine() string {
	return fmt.Sprintf("Reminder: %q starts in %d minutes", r.Title, int(LeadTime.Minutes()))
}

// DueAtFor returns the due time of a reminder for a block starting at start.
func DueAtFor(start time.Time) time.Time {
	return start.Add(-LeadTime)
}

// EnqueueRequest carries everything needed to queue a reminder for a block.
type EnqueueRequest struct {
	BlockID          string    `json:"block_id"`
	UserID           string    `json:"user_id"`
	RecipientAddress string    `json:"recipient_address"`
	RecipientName    string    `json:"recipient_name"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
}

// Validate checks the request before anything is written.
func (r EnqueueRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.BlockID) == "" {
		missing = append(missing, "block_id")
	}
	if strings.TrimSpace(r.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if strings.TrimSpace(r.RecipientAddress) == "" {
		missing = append(missing, "recipient_address")
	}
	if strings.TrimSpace(r.Title) == "" {
		missing = append(missing, "title")
	}
	if r.StartTime.IsZero() {
		missing = append(missing, "start_time")
	}
	if r.EndTime.IsZero() {
		missing = append(missing, "end_time")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidInput, strings.Join(missing, ", "))
	}

	if _, err := mail.ParseAddress(r.RecipientAddress); err != nil {
		return fmt.Errorf("%w: recipient_address is not a valid email address", ErrInvalidInput)
	}
	if !r.StartTime.Before(r.EndTime) {
		return fmt.Errorf("%w: start_time must be before end_time", ErrInvalidInput)
	}
	return nil
}

// RunSummary is the result of one processing pass.
type RunSummary struct {
	TotalSelected int           `json:"processed"`
	SuccessCount  int           `json:"successful"`
	FailureCount  int           `json:"failed"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`
}

// StatusCounts holds per-status reminder counts.
type StatusCounts struct {
	Pending   int `json:"pending"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
	Total     int `json:"total"`
}

// Add increments the counter for s by n and keeps Total in step.
func (c *StatusCounts) Add(s Status, n int) {
	switch s {
	case StatusPending:
		c.Pending += n
	case StatusSent:
		c.Sent += n
	case StatusFailed:
		c.Failed += n
	case StatusExhausted:
		c.Exhausted += n
	default:
		return
	}
	c.Total += n
}

// StatusReport is the read-only view a user gets of their reminders.
type StatusReport struct {
	Notifications StatusCounts       `json:"notifications"`
	RecentEmails  []DeliveryLogEntry `json:"recentEmails"`
}

// Transition describes a conditional state change of a single reminder.
// It only applies while the stored record still has ExpectedStatus and
// ExpectedAttempts.
type Transition struct {
	ReminderID       string
	ExpectedStatus   Status
	ExpectedAttempts int
	Status           Status
	AttemptCount     int
	LastAttemptAt    *time.Time
	LastError        *string
	UpdatedAt        time.Time
}
