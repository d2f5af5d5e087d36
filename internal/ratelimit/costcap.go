package ratelimit

import (
	"context"
	"log/slog"
	"time"

	gateway "github.com/mattdarbro/studio-api/internal"
)

// SpendStore provides summed usage cost for a user over a time range.
type SpendStore interface {
	SumCostCents(ctx context.Context, userID string, start, end time.Time) (int64, error)
}

// Ceilings are the configured per-user spend limits in USD.
type Ceilings struct {
	DailyUSD   float64
	WeeklyUSD  float64
	MonthlyUSD float64
}

// CostCap derives per-user spend from the usage log and compares it to the
// configured ceilings. Query failures fail open by default: a transient
// accounting error must not block paying requests.
type CostCap struct {
	store      SpendStore
	ceilings   Ceilings
	failClosed bool
	now        func() time.Time
}

// NewCostCap creates a CostCap over store.
func NewCostCap(store SpendStore, ceilings Ceilings, failClosed bool) *CostCap {
	return &CostCap{store: store, ceilings: ceilings, failClosed: failClosed, now: time.Now}
}

// periods checked in order; rejection happens on the first breached window.
var periods = []string{"daily", "weekly", "monthly"}

// Check rejects when the user's spend in any window has reached its ceiling.
// Anonymous principals bypass the check at the call site.
func (c *CostCap) Check(ctx context.Context, userID string) error {
	now := c.now()
	for _, period := range periods {
		limit := c.limitUSD(period)
		if limit <= 0 {
			continue
		}
		start := PeriodStart(period, now)
		cents, err := c.store.SumCostCents(ctx, userID, start, now)
		if err != nil {
			if c.failClosed {
				return err
			}
			slog.Warn("cost ceiling query failed, admitting request",
				"user", userID, "period", period, "error", err)
			return nil
		}
		current := float64(cents) / 100
		if current >= limit {
			return &gateway.SpendCapError{
				Period:     period,
				LimitUSD:   limit,
				CurrentUSD: current,
				ResetAt:    PeriodEnd(period, now),
			}
		}
	}
	return nil
}

// Spend returns the user's current spend in USD for each period.
func (c *CostCap) Spend(ctx context.Context, userID string) (map[string]float64, error) {
	now := c.now()
	out := make(map[string]float64, len(periods))
	for _, period := range periods {
		cents, err := c.store.SumCostCents(ctx, userID, PeriodStart(period, now), now)
		if err != nil {
			return nil, err
		}
		out[period] = float64(cents) / 100
	}
	return out, nil
}

// Ceilings returns the configured limits.
func (c *CostCap) Ceilings() Ceilings { return c.ceilings }

func (c *CostCap) limitUSD(period string) float64 {
	switch period {
	case "daily":
		return c.ceilings.DailyUSD
	case "weekly":
		return c.ceilings.WeeklyUSD
	case "monthly":
		return c.ceilings.MonthlyUSD
	}
	return 0
}

// PeriodStart returns the inclusive window start for a period at time now.
// Boundaries use the server's local timezone: daily is local midnight, weekly
// is the most recent Sunday 00:00, monthly is the first of the month 00:00.
func PeriodStart(period string, now time.Time) time.Time {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	switch period {
	case "daily":
		return midnight
	case "weekly":
		return midnight.AddDate(0, 0, -int(now.Weekday()))
	case "monthly":
		return time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	}
	return midnight
}

// PeriodEnd returns the next window boundary for a period at time now.
func PeriodEnd(period string, now time.Time) time.Time {
	start := PeriodStart(period, now)
	switch period {
	case "daily":
		return start.AddDate(0, 0, 1)
	case "weekly":
		return start.AddDate(0, 0, 7)
	case "monthly":
		return start.AddDate(0, 1, 0)
	}
	return start.AddDate(0, 0, 1)
}
