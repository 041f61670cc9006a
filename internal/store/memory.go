package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Priya8975/block-reminders/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore keeps reminders and delivery logs in process memory. It is
// meant for tests and local development; state is lost on restart.
type MemoryStore struct {
	mu        sync.RWMutex
	reminders map[string]*domain.Reminder
	order     []string // reminder IDs in insertion order
	byBlock   map[string]string
	logs      []domain.DeliveryLogEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reminders: make(map[string]*domain.Reminder),
		byBlock:   make(map[string]string),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) InsertReminder(ctx context.Context, r domain.Reminder) (*domain.Reminder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byBlock[r.BlockID]; ok {
		existing := cloneReminder(*s.reminders[id])
		return &existing, false, nil
	}

	r.ID = uuid.NewString()
	stored := cloneReminder(r)
	s.reminders[r.ID] = &stored
	s.order = append(s.order, r.ID)
	s.byBlock[r.BlockID] = r.ID

	out := cloneReminder(stored)
	return &out, true, nil
}

func (s *MemoryStore) GetReminder(ctx context.Context, id string) (*domain.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reminders[id]
	if !ok {
		return nil, nil
	}
	out := cloneReminder(*r)
	return &out, nil
}

func (s *MemoryStore) DeleteRemindersByBlock(ctx context.Context, blockID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	s.order = slices.DeleteFunc(s.order, func(id string) bool {
		if s.reminders[id].BlockID != blockID {
			return false
		}
		delete(s.reminders, id)
		deleted++
		return true
	})
	delete(s.byBlock, blockID)

	return deleted, nil
}

func (s *MemoryStore) FindEligibleReminders(ctx context.Context, now time.Time, maxAttempts, limit int) ([]domain.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Reminder{}
	for _, id := range s.order {
		r := s.reminders[id]
		if !slices.Contains(domain.RetryableStatuses, r.Status) {
			continue
		}
		if r.DueAt.After(now) || r.AttemptCount >= maxAttempts {
			continue
		}
		out = append(out, cloneReminder(*r))
	}

	// Stable sort keeps insertion order among reminders due at the same time.
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ApplyTransition(ctx context.Context, t domain.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reminders[t.ReminderID]
	if !ok || r.Status != t.ExpectedStatus || r.AttemptCount != t.ExpectedAttempts {
		return false, nil
	}

	r.Status = t.Status
	r.AttemptCount = t.AttemptCount
	if t.LastAttemptAt != nil {
		at := *t.LastAttemptAt
		r.LastAttemptAt = &at
	}
	if t.LastError != nil {
		msg := *t.LastError
		r.LastError = &msg
	}
	r.UpdatedAt = t.UpdatedAt
	return true, nil
}

func (s *MemoryStore) CountRemindersByStatus(ctx context.Context, userID string) (domain.StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var counts domain.StatusCounts
	for _, r := range s.reminders {
		if r.UserID == userID {
			counts.Add(r.Status, 1)
		}
	}
	return counts, nil
}

func (s *MemoryStore) ListExhaustedReminders(ctx context.Context, userID string, limit int) ([]domain.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Reminder{}
	for _, id := range s.order {
		r := s.reminders[id]
		if r.Status != domain.StatusExhausted || (userID != "" && r.UserID != userID) {
			continue
		}
		out = append(out, cloneReminder(*r))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return lastAttempt(out[i]).After(lastAttempt(out[j]))
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) InsertDeliveryLog(ctx context.Context, e *domain.DeliveryLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = uuid.NewString()
	s.logs = append(s.logs, *e)
	return nil
}

func (s *MemoryStore) ListDeliveryLogs(ctx context.Context, userID string, limit int) ([]domain.DeliveryLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.DeliveryLogEntry{}
	// Walk backwards so equal timestamps still come out newest first.
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].UserID == userID {
			out = append(out, s.logs[i])
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetDeliveryMetrics(ctx context.Context) (*domain.DeliveryMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var m domain.DeliveryMetrics
	for _, e := range s.logs {
		m.TotalDeliveries++
		switch e.Outcome {
		case domain.OutcomeSent:
			m.SuccessCount++
		case domain.OutcomeFailed:
			m.FailedCount++
		}
	}
	for _, r := range s.reminders {
		switch r.Status {
		case domain.StatusPending, domain.StatusFailed:
			m.PendingReminders++
		case domain.StatusExhausted:
			m.ExhaustedReminders++
		}
	}

	m.ComputeSuccessRate()
	return &m, nil
}

// DeliveryLogs returns a copy of every audit entry in append order.
func (s *MemoryStore) DeliveryLogs() []domain.DeliveryLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.logs)
}

func cloneReminder(r domain.Reminder) domain.Reminder {
	if r.Description != nil {
		d := *r.Description
		r.Description = &d
	}
	if r.LastAttemptAt != nil {
		at := *r.LastAttemptAt
		r.LastAttemptAt = &at
	}
	if r.LastError != nil {
		msg := *r.LastError
		r.LastError = &msg
	}
	return r
}

func lastAttempt(r domain.Reminder) time.Time {
	if r.LastAttemptAt == nil {
		return time.Time{}
	}
	return *r.LastAttemptAt
}
