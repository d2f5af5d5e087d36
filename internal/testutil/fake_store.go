package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	gateway "github.com/mattdarbro/studio-api/internal"
)

// FakeUsageStore is an in-memory storage.UsageStore.
type FakeUsageStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries []gateway.UsageEntry

	// InsertErr, when set, is returned from InsertUsage.
	InsertErr error
}

// NewFakeUsageStore returns an empty usage store.
func NewFakeUsageStore() *FakeUsageStore {
	return &FakeUsageStore{}
}

// InsertUsage appends entries, assigning sequential IDs.
func (s *FakeUsageStore) InsertUsage(_ context.Context, entries []gateway.UsageEntry) error {
	if s.InsertErr != nil {
		return s.InsertErr
	}
	s.mu.Lock()
	for _, e := range entries {
		s.nextID++
		e.ID = s.nextID
		s.entries = append(s.entries, e)
	}
	s.mu.Unlock()
	return nil
}

// SumCostCents totals cost for a user in [start, end).
func (s *FakeUsageStore) SumCostCents(_ context.Context, userID string, start, end time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, e := range s.entries {
		if e.UserID != userID {
			continue
		}
		if e.Timestamp.Before(start) || !e.Timestamp.Before(end) {
			continue
		}
		total += e.CostCents
	}
	return total, nil
}

func matchesFilter(e gateway.UsageEntry, f gateway.UsageFilter) bool {
	if f.AppID != "" && e.AppID != f.AppID {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Provider != "" && e.Provider != f.Provider {
		return false
	}
	if f.Endpoint != "" && e.Endpoint != f.Endpoint {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && !e.Timestamp.Before(f.End) {
		return false
	}
	return true
}

// QueryUsage returns matching entries newest-first with limit and offset.
func (s *FakeUsageStore) QueryUsage(_ context.Context, f gateway.UsageFilter) ([]gateway.UsageEntry, error) {
	s.mu.RLock()
	var matched []gateway.UsageEntry
	for _, e := range s.entries {
		if matchesFilter(e, f) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.After(matched[j].Timestamp) })
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[f.Offset:]
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// CountUsage counts matching entries ignoring limit and offset.
func (s *FakeUsageStore) CountUsage(_ context.Context, f gateway.UsageFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if matchesFilter(e, f) {
			n++
		}
	}
	return n, nil
}

// AggregateUsage totals matching entries.
func (s *FakeUsageStore) AggregateUsage(_ context.Context, f gateway.UsageFilter) (gateway.UsageTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var t gateway.UsageTotals
	var durations int64
	for _, e := range s.entries {
		if !matchesFilter(e, f) {
			continue
		}
		t.Requests++
		t.PromptTokens += int64(e.PromptTokens)
		t.CompletionTokens += int64(e.CompletionTokens)
		t.CostCents += e.CostCents
		durations += e.DurationMs
		if e.StatusCode >= 400 {
			t.Errors++
		}
	}
	if t.Requests > 0 {
		t.AvgDurationMs = float64(durations) / float64(t.Requests)
	}
	return t, nil
}

// AggregateUsageBy groups totals by the given column, most expensive first.
func (s *FakeUsageStore) AggregateUsageBy(ctx context.Context, column string, f gateway.UsageFilter) ([]gateway.UsageGroup, error) {
	keyOf := func(e gateway.UsageEntry) string {
		switch column {
		case "provider":
			return e.Provider
		case "model":
			return e.Model
		case "app_id":
			return e.AppID
		case "endpoint":
			return e.Endpoint
		}
		return ""
	}

	s.mu.RLock()
	byKey := make(map[string][]gateway.UsageEntry)
	for _, e := range s.entries {
		if matchesFilter(e, f) {
			k := keyOf(e)
			byKey[k] = append(byKey[k], e)
		}
	}
	s.mu.RUnlock()

	groups := make([]gateway.UsageGroup, 0, len(byKey))
	for k, entries := range byKey {
		var t gateway.UsageTotals
		var durations int64
		for _, e := range entries {
			t.Requests++
			t.PromptTokens += int64(e.PromptTokens)
			t.CompletionTokens += int64(e.CompletionTokens)
			t.CostCents += e.CostCents
			durations += e.DurationMs
			if e.StatusCode >= 400 {
				t.Errors++
			}
		}
		if t.Requests > 0 {
			t.AvgDurationMs = float64(durations) / float64(t.Requests)
		}
		groups = append(groups, gateway.UsageGroup{Key: k, Totals: t})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Totals.CostCents > groups[j].Totals.CostCents })
	return groups, nil
}

// Entries returns a snapshot of stored entries.
func (s *FakeUsageStore) Entries() []gateway.UsageEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gateway.UsageEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// FakeUserStore is an in-memory storage.UserStore.
type FakeUserStore struct {
	mu    sync.Mutex
	users map[string]*gateway.User
}

// NewFakeUserStore returns an empty user store.
func NewFakeUserStore() *FakeUserStore {
	return &FakeUserStore{users: make(map[string]*gateway.User)}
}

// UpsertUser creates or refreshes a user keyed by subject.
func (s *FakeUserStore) UpsertUser(_ context.Context, subject, email string) (*gateway.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	u, ok := s.users[subject]
	if !ok {
		u = &gateway.User{ID: subject, Email: email, Active: true, FirstSeen: now}
		s.users[subject] = u
	} else if email != "" {
		u.Email = email
	}
	u.LoginCount++
	u.LastSeen = now
	cp := *u
	return &cp, nil
}

// GetUser looks up a user by ID.
func (s *FakeUserStore) GetUser(_ context.Context, id string) (*gateway.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// CountUsers returns the number of stored users.
func (s *FakeUserStore) CountUsers(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users), nil
}
