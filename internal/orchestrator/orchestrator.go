// Package orchestrator runs a bounded pool of workers over the selected
// seed tasks, each driving one Seed Crawler to completion against the
// shared collaborators, per spec §4.8.
package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/minutesbot/crawler/internal/crawl"
	"github.com/minutesbot/crawler/internal/metrics"
	"github.com/minutesbot/crawler/internal/seed"
)

// Orchestrator fans seed tasks out to a fixed-size worker pool.
type Orchestrator struct {
	crawler *crawl.Crawler
	workers int
	logger  *zap.Logger
}

// New builds an Orchestrator with the given worker pool size.
func New(crawler *crawl.Crawler, workers int, logger *zap.Logger) *Orchestrator {
	if workers <= 0 {
		workers = 1
	}
	return &Orchestrator{crawler: crawler, workers: workers, logger: logger}
}

// Run enqueues every task and blocks until all seeds have been driven to
// completion (or skipped), or ctx is canceled. Task ordering is arbitrary;
// each worker drives one seed synchronously, start to seed_done, with no
// intra-seed concurrency.
func (o *Orchestrator) Run(ctx context.Context, tasks []seed.Task) error {
	queue := make(chan seed.Task, len(tasks))
	for _, t := range tasks {
		queue <- t
	}
	close(queue)

	var wg sync.WaitGroup
	errs := make(chan error, o.workers)

	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for task := range queue {
				if ctx.Err() != nil {
					return
				}
				metrics.IncActiveWorkers()
				err := o.crawler.Run(ctx, task)
				metrics.DecActiveWorkers()
				if err != nil {
					if o.logger != nil {
						o.logger.Error("seed crawl aborted",
							zap.Int("worker", workerID),
							zap.String("seed_url", task.SeedURL),
							zap.Error(err),
						)
					}
					select {
					case errs <- err:
					default:
					}
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return ctx.Err()
}
