package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	gateway "github.com/mattdarbro/studio-api/internal"
	"github.com/mattdarbro/studio-api/internal/analytics"
	"github.com/mattdarbro/studio-api/internal/testutil"
)

// stubQuerier records the query handed to it and returns canned rows.
type stubQuerier struct {
	gotQuery string
}

func (s *stubQuerier) QueryReadOnly(_ context.Context, query string) ([]string, [][]any, error) {
	s.gotQuery = query
	return []string{"provider", "requests"}, [][]any{{"anthropic", int64(12)}}, nil
}

func analyticsHarness(t *testing.T) (*harness, *testutil.FakeUsageStore, *stubQuerier) {
	t.Helper()
	store := testutil.NewFakeUsageStore()
	querier := &stubQuerier{}
	h := newHarness(t, func(d *Deps) {
		d.Analytics = analytics.NewService(store, querier)
	})
	return h, store, querier
}

func seedAnalytics(t *testing.T, store *testutil.FakeUsageStore) {
	t.Helper()
	now := time.Now()
	err := store.InsertUsage(context.Background(), []gateway.UsageEntry{
		{Timestamp: now.Add(-2 * time.Minute), UserID: "u1", Provider: "anthropic", CostCents: 5, StatusCode: 200, DurationMs: 200},
		{Timestamp: now.Add(-time.Minute), UserID: "u1", Provider: "openai", CostCents: 1, StatusCode: 200, DurationMs: 100},
		{Timestamp: now, UserID: "u2", Provider: "anthropic", CostCents: 0, StatusCode: 502, DurationMs: 50, Error: "bad gateway"},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestAnalyticsSummary(t *testing.T) {
	t.Parallel()
	h, store, _ := analyticsHarness(t)
	seedAnalytics(t, store)

	w := h.do("GET", "/v1/analytics/summary", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if gjson.Get(body, "totals.requests").Int() != 3 {
		t.Errorf("requests = %s", gjson.Get(body, "totals.requests").Raw)
	}
	if gjson.Get(body, "totals.cost_cents").Int() != 6 {
		t.Errorf("cost = %s", gjson.Get(body, "totals.cost_cents").Raw)
	}
	if gjson.Get(body, "totals.errors").Int() != 1 {
		t.Errorf("errors = %s", gjson.Get(body, "totals.errors").Raw)
	}
}

func TestAnalytics_OperatorOnly(t *testing.T) {
	t.Parallel()
	h, store, querier := analyticsHarness(t)
	seedAnalytics(t, store)
	sess := h.sessions.Create("user-1", gateway.PrincipalUser, "", nil)

	// A plain session user is authenticated but must not read the log.
	for _, probe := range []struct{ method, path string }{
		{"GET", "/v1/analytics/summary"},
		{"GET", "/v1/analytics/usage"},
		{"GET", "/v1/analytics/health"},
		{"POST", "/v1/analytics/query"},
	} {
		req := httptest.NewRequest(probe.method, probe.path, strings.NewReader(`{"query":"SELECT 1"}`))
		req.Header.Set(gateway.HeaderSessionToken, sess.Token)
		w := httptest.NewRecorder()
		h.handler.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Errorf("%s %s = %d, want 403", probe.method, probe.path, w.Code)
		}
		if code := gjson.Get(w.Body.String(), "error.code").String(); code != gateway.CodeAuthUnauthorized {
			t.Errorf("%s %s code = %q", probe.method, probe.path, code)
		}
	}
	if querier.gotQuery != "" {
		t.Errorf("querier reached with %q", querier.gotQuery)
	}

	// The operator key still gets through.
	if w := h.do("GET", "/v1/analytics/usage", nil, nil); w.Code != http.StatusOK {
		t.Errorf("operator = %d", w.Code)
	}
}

func TestAnalyticsSummary_BadFilter(t *testing.T) {
	t.Parallel()
	h, _, _ := analyticsHarness(t)

	if w := h.do("GET", "/v1/analytics/summary?start=yesterday", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestAnalyticsUsage(t *testing.T) {
	t.Parallel()
	h, store, _ := analyticsHarness(t)
	seedAnalytics(t, store)

	w := h.do("GET", "/v1/analytics/usage?provider=anthropic", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if gjson.Get(body, "total").Int() != 2 {
		t.Errorf("total = %s", gjson.Get(body, "total").Raw)
	}
	entries := gjson.Get(body, "entries").Array()
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	// Newest first.
	if entries[0].Get("user_id").String() != "u2" {
		t.Errorf("entries[0] = %s", entries[0].Raw)
	}
}

func TestAnalyticsQuery(t *testing.T) {
	t.Parallel()
	h, _, querier := analyticsHarness(t)

	w := h.do("POST", "/v1/analytics/query", map[string]string{
		"query": "SELECT provider, COUNT(*) AS requests FROM usage_log GROUP BY provider",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if querier.gotQuery == "" {
		t.Error("query should reach the querier")
	}
	body := w.Body.String()
	if gjson.Get(body, "columns.0").String() != "provider" {
		t.Errorf("columns = %s", gjson.Get(body, "columns").Raw)
	}
	if gjson.Get(body, "rows.0.0").String() != "anthropic" {
		t.Errorf("rows = %s", gjson.Get(body, "rows").Raw)
	}
}

func TestAnalyticsQuery_MutationForbidden(t *testing.T) {
	t.Parallel()
	h, _, querier := analyticsHarness(t)

	w := h.do("POST", "/v1/analytics/query", map[string]string{
		"query": "DELETE FROM usage_log",
	}, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d", w.Code)
	}
	// The statement never reached the database.
	if querier.gotQuery != "" {
		t.Errorf("querier saw %q", querier.gotQuery)
	}
}

func TestAnalyticsHealth(t *testing.T) {
	t.Parallel()
	h, _, _ := analyticsHarness(t)
	h.sessions.Create("user-1", gateway.PrincipalUser, "", nil)

	w := h.do("GET", "/v1/analytics/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if gjson.Get(body, "status").String() != "ok" {
		t.Errorf("status = %s", gjson.Get(body, "status").Raw)
	}
	if gjson.Get(body, "sessions.active").Int() != 1 {
		t.Errorf("sessions = %s", gjson.Get(body, "sessions").Raw)
	}
}

func TestAnalyticsHealth_DegradedStore(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeUsageStore()
	h := newHarness(t, func(d *Deps) {
		d.Analytics = analytics.NewService(store, &stubQuerier{})
		d.ReadyCheck = func(context.Context) error { return context.DeadlineExceeded }
	})

	w := h.do("GET", "/v1/analytics/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if gjson.Get(w.Body.String(), "status").String() != "degraded" {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestAnalytics_DisabledRoutesAbsent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil) // no Analytics service

	if w := h.do("GET", "/v1/analytics/summary", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want unrouted 404", w.Code)
	}
}
