// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"
	"time"

	gateway "github.com/mattdarbro/studio-api/internal"
)

// UsageStore manages the append-only usage log.
type UsageStore interface {
	InsertUsage(ctx context.Context, entries []gateway.UsageEntry) error
	// SumCostCents returns the total estimated cost for a user in [start, end).
	SumCostCents(ctx context.Context, userID string, start, end time.Time) (int64, error)
	QueryUsage(ctx context.Context, f gateway.UsageFilter) ([]gateway.UsageEntry, error)
	CountUsage(ctx context.Context, f gateway.UsageFilter) (int, error)
	AggregateUsage(ctx context.Context, f gateway.UsageFilter) (gateway.UsageTotals, error)
	// AggregateUsageBy groups totals by a whitelisted column
	// (provider, model, app_id, endpoint).
	AggregateUsageBy(ctx context.Context, column string, f gateway.UsageFilter) ([]gateway.UsageGroup, error)
}

// UserStore manages platform-verified user rows.
type UserStore interface {
	// UpsertUser creates or refreshes a user keyed by the stable platform
	// subject, bumping login_count and last_seen.
	UpsertUser(ctx context.Context, subject, email string) (*gateway.User, error)
	GetUser(ctx context.Context, id string) (*gateway.User, error)
	CountUsers(ctx context.Context) (int, error)
}

// ImageStore manages the hosted-image registry.
type ImageStore interface {
	InsertImage(ctx context.Context, img *gateway.HostedImage) error
	GetImage(ctx context.Context, id string) (*gateway.HostedImage, error)
	TouchImageAccess(ctx context.Context, id string) error
	ListImagesByUser(ctx context.Context, userID string) ([]gateway.HostedImage, error)
	// ListExpiredImages returns images past maxAge or beyond a user's
	// maxPerUser newest rows.
	ListExpiredImages(ctx context.Context, olderThan time.Time, maxPerUser int) ([]gateway.HostedImage, error)
	DeleteImage(ctx context.Context, id string) error
}

// ReadOnlyQuerier executes a vetted read-only SQL statement against the
// usage database and returns column names with row values.
type ReadOnlyQuerier interface {
	QueryReadOnly(ctx context.Context, query string) (columns []string, rows [][]any, err error)
}

// Store combines all storage interfaces.
type Store interface {
	UsageStore
	UserStore
	ImageStore
	ReadOnlyQuerier
	Ping(ctx context.Context) error
	Close() error
}
