// Package workers provides the bounded pool that fans site-crawl jobs out
// during an indexing pass.
package workers

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
)

// Job is one unit of work handed to the pool. Jobs report their outcome
// through their own side channels, so a job returns nothing; a panic is the
// caller's responsibility to recover.
type Job func(ctx context.Context)

// Pool runs submitted jobs on a fixed number of workers. A pool serves one
// indexing pass: construct, Start, Submit the jobs, Wait.
type Pool struct {
	jobs       chan Job
	maxWorkers int
	wg         sync.WaitGroup
	ctx        context.Context
	logger     arbor.ILogger
}

// NewPool creates a pool of maxWorkers workers. Cancelling ctx stops the
// workers after their current job and fails further submissions.
func NewPool(ctx context.Context, maxWorkers int, logger arbor.ILogger) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	return &Pool{
		jobs:       make(chan Job, maxWorkers*2),
		maxWorkers: maxWorkers,
		ctx:        ctx,
		logger:     logger,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	p.logger.Debug().
		Int("max_workers", p.maxWorkers).
		Msg("Starting worker pool")

	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit queues a job, blocking while all workers are busy and the buffer is
// full. It fails once the pool's context is cancelled.
func (p *Pool) Submit(job Job) error {
	select {
	case p.jobs <- job:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Wait closes the queue and blocks until every worker has stopped. No
// Submit may follow.
func (p *Pool) Wait() {
	close(p.jobs)
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			job(p.ctx)
		case <-p.ctx.Done():
			p.logger.Debug().
				Int("worker_id", id).
				Msg("Worker stopping - context cancelled")
			return
		}
	}
}
