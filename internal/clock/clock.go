package clock

import (
	"sync"
	"time"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock in UTC.
type RealClock struct{}

// NewRealClock returns a Clock backed by time.Now.
func NewRealClock() Clock {
	return &RealClock{}
}

func (c *RealClock) Now() time.Time {
	return time.Now().UTC()
}

// MockClock is a manually driven clock for tests. Safe for concurrent use.
type MockClock struct {
	mu          sync.Mutex
	currentTime time.Time
}

// NewMockClock returns a clock fixed at t until moved.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{currentTime: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTime
}

// Set moves the clock to t.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTime = t
}

// Add advances the clock by d.
func (c *MockClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentTime = c.currentTime.Add(d)
}
