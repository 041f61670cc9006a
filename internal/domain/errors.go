package domain

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")

	// ErrStaleReminder is returned when a conditional transition finds the
	// reminder in a different state than the caller observed, or gone.
	ErrStaleReminder = errors.New("reminder changed since it was selected")
)
