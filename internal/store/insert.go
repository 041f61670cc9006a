package store

import (
	"errors"

	"github.com/Priya8975/block-reminders/internal/domain"
)

// errReminderVanished means an insert hit the block's unique key but the
// conflicting reminder was deleted before it could be read back.
var errReminderVanished = errors.New("conflicting reminder deleted concurrently")

// insertRetryingVanished runs insert and, when a concurrent cancel removed
// the conflicting reminder in between, runs it once more: the block is free
// again so the second attempt inserts.
func insertRetryingVanished(insert func() (*domain.Reminder, bool, error)) (*domain.Reminder, bool, error) {
	r, created, err := insert()
	if errors.Is(err, errReminderVanished) {
		r, created, err = insert()
	}
	return r, created, err
}
