package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	gateway "github.com/mattdarbro/studio-api/internal"
)

// stubSpend returns a fixed cent total or error for every query.
type stubSpend struct {
	cents int64
	err   error

	lastStart time.Time
	lastEnd   time.Time
}

func (s *stubSpend) SumCostCents(_ context.Context, _ string, start, end time.Time) (int64, error) {
	s.lastStart, s.lastEnd = start, end
	return s.cents, s.err
}

func TestCheck_UnderLimit(t *testing.T) {
	t.Parallel()
	cc := NewCostCap(&stubSpend{cents: 500}, Ceilings{DailyUSD: 10}, false)

	if err := cc.Check(context.Background(), "user-1"); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestCheck_AtLimitRejects(t *testing.T) {
	t.Parallel()
	cc := NewCostCap(&stubSpend{cents: 1000}, Ceilings{DailyUSD: 10}, false)

	err := cc.Check(context.Background(), "user-1")
	var spend *gateway.SpendCapError
	if !errors.As(err, &spend) {
		t.Fatalf("err = %v, want SpendCapError", err)
	}
	if spend.Period != "daily" {
		t.Errorf("period = %q, want daily", spend.Period)
	}
	if spend.CurrentUSD != 10 || spend.LimitUSD != 10 {
		t.Errorf("current = %f, limit = %f", spend.CurrentUSD, spend.LimitUSD)
	}
	if !spend.ResetAt.After(time.Now()) {
		t.Error("ResetAt should be in the future")
	}
}

func TestCheck_ZeroCeilingSkipped(t *testing.T) {
	t.Parallel()
	cc := NewCostCap(&stubSpend{cents: 1_000_000}, Ceilings{}, false)

	if err := cc.Check(context.Background(), "user-1"); err != nil {
		t.Errorf("zero ceilings should never reject: %v", err)
	}
}

func TestCheck_FailOpen(t *testing.T) {
	t.Parallel()
	store := &stubSpend{err: errors.New("db locked")}
	cc := NewCostCap(store, Ceilings{DailyUSD: 10}, false)

	if err := cc.Check(context.Background(), "user-1"); err != nil {
		t.Errorf("fail-open should admit on store error, got %v", err)
	}
}

func TestCheck_FailClosed(t *testing.T) {
	t.Parallel()
	store := &stubSpend{err: errors.New("db locked")}
	cc := NewCostCap(store, Ceilings{DailyUSD: 10}, true)

	if err := cc.Check(context.Background(), "user-1"); err == nil {
		t.Error("fail-closed should reject on store error")
	}
}

func TestPeriodStart(t *testing.T) {
	t.Parallel()
	// A Wednesday afternoon.
	now := time.Date(2026, 8, 19, 15, 30, 0, 0, time.UTC)

	daily := PeriodStart("daily", now)
	if !daily.Equal(time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("daily start = %v", daily)
	}

	weekly := PeriodStart("weekly", now)
	if !weekly.Equal(time.Date(2026, 8, 16, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("weekly start = %v, want Sunday", weekly)
	}

	monthly := PeriodStart("monthly", now)
	if !monthly.Equal(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("monthly start = %v", monthly)
	}
}

func TestPeriodEnd(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 8, 19, 15, 30, 0, 0, time.UTC)

	if end := PeriodEnd("daily", now); !end.Equal(time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("daily end = %v", end)
	}
	if end := PeriodEnd("monthly", now); !end.Equal(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("monthly end = %v", end)
	}
}

func TestSpend(t *testing.T) {
	t.Parallel()
	cc := NewCostCap(&stubSpend{cents: 250}, Ceilings{DailyUSD: 10}, false)

	spend, err := cc.Spend(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Spend: %v", err)
	}
	for _, period := range []string{"daily", "weekly", "monthly"} {
		if spend[period] != 2.50 {
			t.Errorf("%s spend = %f, want 2.50", period, spend[period])
		}
	}
}
