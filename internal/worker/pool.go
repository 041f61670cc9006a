package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Priya8975/block-reminders/internal/domain"
)

// Pool runs a fixed number of goroutines over one run's reminders.
type Pool struct {
	numWorkers int
	jobs       chan domain.Reminder
	handle     func(context.Context, domain.Reminder)
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// NewPool creates a worker pool that runs handle on numWorkers goroutines.
func NewPool(numWorkers int, handle func(context.Context, domain.Reminder), logger *slog.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan domain.Reminder, numWorkers*2),
		handle:     handle,
		logger:     logger,
	}
}

// Start launches the workers. They run until Stop closes the jobs channel;
// every submitted reminder is handled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Debug("worker pool started", "num_workers", p.numWorkers)
}

// Submit queues a reminder for the next free worker.
func (p *Pool) Submit(r domain.Reminder) {
	p.jobs <- r
}

// Stop closes the jobs channel and waits for in-flight reminders.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Debug("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()

	for r := range p.jobs {
		p.handle(ctx, r)
	}
}
