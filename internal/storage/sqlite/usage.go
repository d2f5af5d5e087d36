package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	gateway "github.com/mattdarbro/studio-api/internal"
)

// tsFormat is the stored timestamp layout. Fixed-width nanoseconds keep
// string comparison consistent with time order and preserve sub-second
// precision, so an entry inserted at t is found by a range of [t, t+1ms).
// RFC3339 parsing still reads it back.
const tsFormat = "2006-01-02T15:04:05.000000000Z07:00"

// InsertUsage batch-inserts usage entries.
func (s *Store) InsertUsage(ctx context.Context, entries []gateway.UsageEntry) error {
	if len(entries) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	// Single multi-row INSERT avoids N round-trips for large batches.
	const cols = 13
	placeholders := make([]string, len(entries))
	args := make([]any, 0, len(entries)*cols)

	for i, e := range entries {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			e.Timestamp.UTC().Format(tsFormat),
			e.UserID, e.AppID, e.Endpoint, e.Method,
			e.Provider, e.Model,
			e.PromptTokens, e.CompletionTokens, e.CostCents,
			e.DurationMs, e.StatusCode, e.Error,
		)
	}

	query := `INSERT INTO usage_log
		(ts, user_id, app_id, endpoint, method, provider, model,
		 prompt_tokens, completion_tokens, cost_cents, duration_ms, status_code, error)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// SumCostCents returns the total estimated cost for a user in [start, end).
func (s *Store) SumCostCents(ctx context.Context, userID string, start, end time.Time) (int64, error) {
	var total int64
	err := s.read.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_cents), 0) FROM usage_log
		 WHERE user_id = ? AND ts >= ? AND ts < ?`,
		userID, start.UTC().Format(tsFormat), end.UTC().Format(tsFormat),
	).Scan(&total)
	return total, err
}

// QueryUsage returns usage entries matching the filter, newest first.
func (s *Store) QueryUsage(ctx context.Context, f gateway.UsageFilter) ([]gateway.UsageEntry, error) {
	where, args := usageWhere(f)
	query := `SELECT id, ts, user_id, app_id, endpoint, method, provider, model,
		prompt_tokens, completion_tokens, cost_cents, duration_ms, status_code, error
		FROM usage_log` + where + ` ORDER BY ts DESC LIMIT ? OFFSET ?`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.UsageEntry
	for rows.Next() {
		var e gateway.UsageEntry
		var ts string
		err := rows.Scan(
			&e.ID, &ts, &e.UserID, &e.AppID, &e.Endpoint, &e.Method,
			&e.Provider, &e.Model,
			&e.PromptTokens, &e.CompletionTokens, &e.CostCents,
			&e.DurationMs, &e.StatusCode, &e.Error,
		)
		if err != nil {
			return nil, err
		}
		if t, e2 := time.Parse(time.RFC3339, ts); e2 == nil {
			e.Timestamp = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountUsage returns the count of usage entries matching the filter.
func (s *Store) CountUsage(ctx context.Context, f gateway.UsageFilter) (int, error) {
	where, args := usageWhere(f)
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_log`+where, args...,
	).Scan(&n)
	return n, err
}

// AggregateUsage returns totals over entries matching the filter.
func (s *Store) AggregateUsage(ctx context.Context, f gateway.UsageFilter) (gateway.UsageTotals, error) {
	where, args := usageWhere(f)
	var t gateway.UsageTotals
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(prompt_tokens), 0),
		        COALESCE(SUM(completion_tokens), 0),
		        COALESCE(SUM(cost_cents), 0),
		        COALESCE(AVG(duration_ms), 0),
		        COALESCE(SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END), 0)
		 FROM usage_log`+where, args...,
	).Scan(&t.Requests, &t.PromptTokens, &t.CompletionTokens, &t.CostCents, &t.AvgDurationMs, &t.Errors)
	return t, err
}

// groupColumns whitelists GROUP BY targets for AggregateUsageBy.
var groupColumns = map[string]bool{
	"provider": true,
	"model":    true,
	"app_id":   true,
	"endpoint": true,
}

// AggregateUsageBy groups totals by a whitelisted column.
func (s *Store) AggregateUsageBy(ctx context.Context, column string, f gateway.UsageFilter) ([]gateway.UsageGroup, error) {
	if !groupColumns[column] {
		return nil, fmt.Errorf("sqlite: cannot group usage by %q", column)
	}
	where, args := usageWhere(f)

	rows, err := s.read.QueryContext(ctx,
		`SELECT `+column+`, COUNT(*),
		        COALESCE(SUM(prompt_tokens), 0),
		        COALESCE(SUM(completion_tokens), 0),
		        COALESCE(SUM(cost_cents), 0),
		        COALESCE(AVG(duration_ms), 0),
		        COALESCE(SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END), 0)
		 FROM usage_log`+where+` GROUP BY `+column+` ORDER BY SUM(cost_cents) DESC`, args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.UsageGroup
	for rows.Next() {
		var g gateway.UsageGroup
		t := &g.Totals
		if err := rows.Scan(&g.Key, &t.Requests, &t.PromptTokens, &t.CompletionTokens,
			&t.CostCents, &t.AvgDurationMs, &t.Errors); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func usageWhere(f gateway.UsageFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.AppID != "" {
		clauses = append(clauses, "app_id = ?")
		args = append(args, f.AppID)
	}
	if f.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Provider != "" {
		clauses = append(clauses, "provider = ?")
		args = append(args, f.Provider)
	}
	if f.Endpoint != "" {
		clauses = append(clauses, "endpoint = ?")
		args = append(args, f.Endpoint)
	}
	if !f.Start.IsZero() {
		clauses = append(clauses, "ts >= ?")
		args = append(args, f.Start.UTC().Format(tsFormat))
	}
	if !f.End.IsZero() {
		clauses = append(clauses, "ts < ?")
		args = append(args, f.End.UTC().Format(tsFormat))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
