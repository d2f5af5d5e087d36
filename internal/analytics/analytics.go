// Package analytics aggregates the usage log and runs vetted ad-hoc
// read-only queries against it.
package analytics

import (
	"context"

	gateway "github.com/mattdarbro/studio-api/internal"
	"github.com/mattdarbro/studio-api/internal/storage"
)

// Summary is the full usage breakdown for a time range.
type Summary struct {
	Totals     gateway.UsageTotals  `json:"totals"`
	ByProvider []gateway.UsageGroup `json:"by_provider"`
	ByModel    []gateway.UsageGroup `json:"by_model"`
	ByApp      []gateway.UsageGroup `json:"by_app"`
	ByEndpoint []gateway.UsageGroup `json:"by_endpoint"`
}

// QueryResult is the shape returned for ad-hoc read-only queries.
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Service answers analytics questions from the usage store.
type Service struct {
	usage   storage.UsageStore
	querier storage.ReadOnlyQuerier
}

// NewService returns a Service over the given stores.
func NewService(usage storage.UsageStore, querier storage.ReadOnlyQuerier) *Service {
	return &Service{usage: usage, querier: querier}
}

// Summarize computes totals and per-dimension breakdowns for the filter.
func (s *Service) Summarize(ctx context.Context, f gateway.UsageFilter) (*Summary, error) {
	totals, err := s.usage.AggregateUsage(ctx, f)
	if err != nil {
		return nil, err
	}
	out := &Summary{Totals: totals}

	groups := []struct {
		column string
		dst    *[]gateway.UsageGroup
	}{
		{"provider", &out.ByProvider},
		{"model", &out.ByModel},
		{"app_id", &out.ByApp},
		{"endpoint", &out.ByEndpoint},
	}
	for _, g := range groups {
		rows, err := s.usage.AggregateUsageBy(ctx, g.column, f)
		if err != nil {
			return nil, err
		}
		*g.dst = rows
	}
	return out, nil
}

// ListUsage returns a page of usage entries with the total match count.
func (s *Service) ListUsage(ctx context.Context, f gateway.UsageFilter) ([]gateway.UsageEntry, int, error) {
	entries, err := s.usage.QueryUsage(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.usage.CountUsage(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Query validates and executes an ad-hoc read-only statement.
func (s *Service) Query(ctx context.Context, query string) (*QueryResult, error) {
	if err := ValidateQuery(query); err != nil {
		return nil, err
	}
	columns, rows, err := s.querier.QueryReadOnly(ctx, query)
	if err != nil {
		return nil, err
	}
	return &QueryResult{Columns: columns, Rows: rows}, nil
}
