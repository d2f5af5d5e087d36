package worker

import (
	"context"
	"log/slog"
	"time"

	gateway "github.com/mattdarbro/studio-api/internal"
)

const (
	usageChanSize   = 1000
	usageBatchSize  = 100
	usageFlushEvery = 10 * time.Second
	usageDrainTime  = 30 * time.Second
)

// UsageStore is the persistence interface consumed by UsageRecorder.
type UsageStore interface {
	InsertUsage(ctx context.Context, entries []gateway.UsageEntry) error
}

// UsageRecorder buffers usage entries and batch-flushes them to the store.
// Entries are dropped if the channel is full (back-pressure on slow DB).
type UsageRecorder struct {
	ch    chan gateway.UsageEntry
	store UsageStore
}

// NewUsageRecorder creates a UsageRecorder backed by store.
func NewUsageRecorder(store UsageStore) *UsageRecorder {
	return &UsageRecorder{
		ch:    make(chan gateway.UsageEntry, usageChanSize),
		store: store,
	}
}

// Name returns the worker identifier.
func (u *UsageRecorder) Name() string { return "usage_recorder" }

// QueueLen reports the current backlog, for metrics.
func (u *UsageRecorder) QueueLen() int { return len(u.ch) }

// Record enqueues a usage entry. It never blocks; drops on full channel.
func (u *UsageRecorder) Record(e gateway.UsageEntry) {
	select {
	case u.ch <- e:
	default:
		slog.Warn("usage entry dropped, channel full")
	}
}

// Run processes entries until ctx is cancelled, then drains remaining entries.
func (u *UsageRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(usageFlushEvery)
	defer ticker.Stop()

	buf := make([]gateway.UsageEntry, 0, usageBatchSize)

	for {
		select {
		case e := <-u.ch:
			buf = append(buf, e)
			if len(buf) >= usageBatchSize {
				u.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				u.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			// Drain remaining entries with a timeout.
			u.drain(buf)
			return nil
		}
	}
}

func (u *UsageRecorder) drain(buf []gateway.UsageEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), usageDrainTime)
	defer cancel()

	for {
		select {
		case e := <-u.ch:
			buf = append(buf, e)
			if len(buf) >= usageBatchSize {
				u.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			// Channel empty, flush remaining.
			if len(buf) > 0 {
				u.flush(ctx, buf)
			}
			return
		}
	}
}

func (u *UsageRecorder) flush(ctx context.Context, buf []gateway.UsageEntry) {
	// Copy to avoid aliasing the caller's slice.
	batch := make([]gateway.UsageEntry, len(buf))
	copy(batch, buf)

	if err := u.store.InsertUsage(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "usage flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
}
