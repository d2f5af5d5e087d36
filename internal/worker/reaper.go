package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is one periodic maintenance job run by the Reaper.
type Task struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Reaper runs periodic maintenance tasks (session eviction, rate-limit
// window cleanup, hosted-image culling, idle agent sweeps). Task failures
// are logged and retried on the next tick.
type Reaper struct {
	tasks []Task
}

// NewReaper creates a Reaper with the given tasks.
func NewReaper(tasks ...Task) *Reaper {
	return &Reaper{tasks: tasks}
}

// Name returns the worker identifier.
func (r *Reaper) Name() string { return "reaper" }

// Run ticks each task on its own interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range r.tasks {
		g.Go(func() error {
			ticker := time.NewTicker(t.Every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := t.Run(ctx); err != nil {
						slog.LogAttrs(ctx, slog.LevelWarn, "maintenance task failed",
							slog.String("task", t.Name),
							slog.String("error", err.Error()),
						)
					}
				}
			}
		})
	}
	return g.Wait()
}
