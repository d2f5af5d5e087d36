package tower

import (
	"sync"
	"time"

	gateway "github.com/mattdarbro/studio-api/internal"
)

// spendHeadroom lets a request overshoot the daily cap by 10% before being
// rejected, so a single large call does not strand an agent just under the
// line. The first request of a fresh day is always admitted.
const spendHeadroom = 1.10

// window is a fixed counting window with an explicit reset instant.
type window struct {
	count int
	reset time.Time
}

// agentUsage tracks one agent's windows and daily spend. All fields are
// guarded by mu.
type agentUsage struct {
	mu       sync.Mutex
	hour     window
	day      window
	spendUSD float64   // spend accumulated in the current local day
	spendDay time.Time // local midnight the spend belongs to
	lastSeen time.Time
}

// now is swapped in tests.
type clock func() time.Time

// admit checks request-count windows and the spend soft cap, then counts
// the request. The estimated cost is only checked, not charged; charge
// records actual spend after execution.
func (u *agentUsage) admit(limits gateway.AgentLimits, estUSD float64, now time.Time) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.lastSeen = now
	u.roll(now)

	if limits.RequestsPerHour > 0 && u.hour.count >= limits.RequestsPerHour {
		return &gateway.RateLimitError{ResetInSeconds: resetIn(u.hour.reset, now)}
	}
	if limits.RequestsPerDay > 0 && u.day.count >= limits.RequestsPerDay {
		return &gateway.RateLimitError{ResetInSeconds: resetIn(u.day.reset, now)}
	}

	if limits.DailySpendUSD > 0 {
		// An agent already at or past its cap is cut off outright, no
		// matter how cheap the next request looks.
		if u.spendUSD >= limits.DailySpendUSD {
			return u.spendCapErr(limits)
		}
		if u.spendUSD > 0 {
			if projected := u.spendUSD + estUSD; projected > limits.DailySpendUSD*spendHeadroom {
				return u.spendCapErr(limits)
			}
		}
	}

	u.hour.count++
	u.day.count++
	return nil
}

// spendCapErr builds the rejection for the current day. Caller holds mu.
func (u *agentUsage) spendCapErr(limits gateway.AgentLimits) error {
	return &gateway.SpendCapError{
		Period:     "daily",
		LimitUSD:   limits.DailySpendUSD,
		CurrentUSD: u.spendUSD,
		ResetAt:    u.spendDay.AddDate(0, 0, 1),
	}
}

// charge records actual spend after a capability executes.
func (u *agentUsage) charge(usd float64, now time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.roll(now)
	u.spendUSD += usd
}

// snapshot returns the current counters for status reporting.
func (u *agentUsage) snapshot(now time.Time) (hour, day window, spendUSD float64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.roll(now)
	return u.hour, u.day, u.spendUSD
}

// roll resets any window whose reset instant has passed.
func (u *agentUsage) roll(now time.Time) {
	if !now.Before(u.hour.reset) {
		u.hour = window{reset: now.Truncate(time.Hour).Add(time.Hour)}
	}
	if !now.Before(u.day.reset) {
		u.day = window{reset: localMidnight(now).AddDate(0, 0, 1)}
	}
	if midnight := localMidnight(now); !midnight.Equal(u.spendDay) {
		u.spendDay = midnight
		u.spendUSD = 0
	}
}

func localMidnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func resetIn(reset, now time.Time) int {
	d := reset.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
