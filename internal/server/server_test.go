package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	gateway "github.com/mattdarbro/studio-api/internal"
	"github.com/mattdarbro/studio-api/internal/auth"
	"github.com/mattdarbro/studio-api/internal/breaker"
	"github.com/mattdarbro/studio-api/internal/catalog"
	"github.com/mattdarbro/studio-api/internal/config"
	"github.com/mattdarbro/studio-api/internal/pricing"
	"github.com/mattdarbro/studio-api/internal/provider"
	"github.com/mattdarbro/studio-api/internal/ratelimit"
	"github.com/mattdarbro/studio-api/internal/session"
	"github.com/mattdarbro/studio-api/internal/testutil"
	"github.com/mattdarbro/studio-api/internal/tokencount"
)

const testAppKey = "app-secret"

func testCatalog() *catalog.Catalog {
	return catalog.New(map[string]map[string]gateway.ModelConfig{
		"stable": {
			"chat.default":     {Provider: "openai", Model: "fake-chat"},
			"chat.claude":      {Provider: "anthropic", Model: "fake-claude"},
			"image.default":    {Provider: "replicate", Model: "fake-image"},
			"music.default":    {Provider: "elevenlabs", Model: "fake-music"},
			"voice.default":    {Provider: "elevenlabs", Model: "fake-voice"},
			"realtime.default": {Provider: "openai", Model: "fake-realtime"},
		},
	})
}

// harness bundles the handler with the fakes tests assert against.
type harness struct {
	handler  http.Handler
	openai   *testutil.FakeAdapter
	eleven   *testutil.FakeAdapter
	recorder *testutil.FakeRecorder
	sessions *session.Store
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		openai:   &testutil.FakeAdapter{AdapterName: "openai"},
		eleven:   &testutil.FakeAdapter{AdapterName: "elevenlabs"},
		recorder: &testutil.FakeRecorder{},
		sessions: session.New(time.Minute),
	}
	registry := provider.NewRegistry()
	registry.Register("openai", h.openai)
	registry.Register("elevenlabs", h.eleven)

	deps := Deps{
		Auth:      auth.New(testAppKey, "signing-secret", h.sessions),
		Catalog:   testCatalog(),
		Providers: registry,
		Keys: config.ProviderKeys{
			OpenAI:     "sk-openai-default",
			ElevenLabs: "xi-default",
		},
		Prices:  pricing.Default(),
		Counter: tokencount.NewCounter(),
		Usage:   h.recorder,
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.handler = New(deps)
	return h
}

// do performs an authenticated request against the handler.
func (h *harness) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(gateway.HeaderAppKey, testAppKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	// Same probe on the root, /health, and the legacy /healthz.
	for _, path := range []string{"/", "/health", "/healthz"} {
		w := h.do("GET", path, nil, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s = %d", path, w.Code)
		}
		body := w.Body.String()
		if gjson.Get(body, "status").String() != "ok" {
			t.Errorf("%s status = %s", path, body)
		}
		if gjson.Get(body, "timestamp").String() == "" {
			t.Errorf("%s timestamp missing", path)
		}
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	if w := h.do("GET", "/readyz", nil, nil); w.Code != http.StatusOK {
		t.Errorf("readyz = %d", w.Code)
	}

	down := newHarness(t, func(d *Deps) {
		d.ReadyCheck = func(context.Context) error { return context.DeadlineExceeded }
	})
	w := down.do("GET", "/readyz", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with failing check = %d", w.Code)
	}
	if gjson.Get(w.Body.String(), "status").String() != "degraded" {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRequestIDEchoed(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	w := h.do("GET", "/healthz", nil, map[string]string{gateway.HeaderRequestID: "req-abc"})
	if got := w.Header().Get(gateway.HeaderRequestID); got != "req-abc" {
		t.Errorf("echoed id = %q", got)
	}

	w = h.do("GET", "/healthz", nil, nil)
	if got := w.Header().Get(gateway.HeaderRequestID); len(got) != 32 {
		t.Errorf("minted id = %q", got)
	}
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	req := httptest.NewRequest("GET", "/v1/models", nil)
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	if code := gjson.Get(w.Body.String(), "error.code").String(); code != gateway.CodeAuthRequired {
		t.Errorf("code = %q", code)
	}
}

func TestListModels(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	w := h.do("GET", "/v1/models", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if gjson.Get(body, "channel").String() != "stable" {
		t.Errorf("channel = %q", gjson.Get(body, "channel").String())
	}
	data := gjson.Get(body, "data").Array()
	if len(data) != 6 {
		t.Fatalf("models = %d, want 6", len(data))
	}
	// Sorted by kind id.
	if data[0].Get("id").String() != "chat.claude" {
		t.Errorf("data[0] = %s", data[0].Raw)
	}
}

func TestChat(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	w := h.do("POST", "/v1/chat/completions", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hello"}},
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if gjson.Get(w.Body.String(), "id").String() != "cmpl-fake" {
		t.Errorf("body = %s", w.Body.String())
	}

	// Adapter got the catalog model and the server default key.
	calls := h.openai.Calls()
	if len(calls) != 1 {
		t.Fatalf("adapter calls = %d", len(calls))
	}
	if calls[0].Request.Model != "fake-chat" || calls[0].Key != "sk-openai-default" {
		t.Errorf("call = %+v key=%q", calls[0].Request, calls[0].Key)
	}

	// Exactly one usage entry for the request.
	entries := h.recorder.Entries()
	if len(entries) != 1 {
		t.Fatalf("usage entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Provider != "openai" || e.Model != "fake-chat" || e.StatusCode != 200 {
		t.Errorf("entry = %+v", e)
	}
	if e.PromptTokens != 10 || e.CompletionTokens != 5 {
		t.Errorf("tokens = %d/%d", e.PromptTokens, e.CompletionTokens)
	}
	if e.UserID != "app" || e.Endpoint != "/v1/chat/completions" {
		t.Errorf("entry identity = %+v", e)
	}
}

func TestChat_UserKeyOverridesDefault(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	sess := h.sessions.Create("user-1", gateway.PrincipalUser, "", map[string]string{"openai": "sk-user"})

	req := httptest.NewRequest("POST", "/v1/chat/completions", strings.NewReader(
		`{"messages": [{"role": "user", "content": "hi"}]}`))
	req.Header.Set(gateway.HeaderSessionToken, sess.Token)
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if h.openai.Calls()[0].Key != "sk-user" {
		t.Errorf("key = %q, want the session override", h.openai.Calls()[0].Key)
	}
}

func TestChat_MissingMessages(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	w := h.do("POST", "/v1/chat/completions", map[string]any{}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
	if len(h.recorder.Entries()) != 0 {
		t.Error("validation failures must not log usage")
	}
}

func TestChat_UnknownKind(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	w := h.do("POST", "/v1/chat/completions", map[string]any{
		"model":    "nonexistent",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
	if code := gjson.Get(w.Body.String(), "error.code").String(); code != gateway.CodeKindNotFound {
		t.Errorf("code = %q", code)
	}
}

func TestChat_NoProviderKey(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(d *Deps) {
		d.Keys = config.ProviderKeys{}
	})

	w := h.do("POST", "/v1/chat/completions", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if code := gjson.Get(w.Body.String(), "error.code").String(); code != gateway.CodeNoAPIKey {
		t.Errorf("code = %q", code)
	}
	// The failure is still logged, with an error and no cost.
	entries := h.recorder.Entries()
	if len(entries) != 1 || entries[0].Error == "" || entries[0].CostCents != 0 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestChat_UpstreamErrorEchoed(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.openai.CompleteFn = func(context.Context, *gateway.Request, string) (*gateway.Completion, error) {
		return nil, &provider.APIError{Provider: "openai", StatusCode: 429, Body: "slow down"}
	}

	w := h.do("POST", "/v1/chat/completions", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if code := gjson.Get(body, "error.code").String(); code != gateway.CodeProviderError {
		t.Errorf("code = %q", code)
	}
	if got := gjson.Get(body, "error.details.provider").String(); got != "openai" {
		t.Errorf("details.provider = %q", got)
	}
	if got := gjson.Get(body, "error.details.upstream_status").Int(); got != 429 {
		t.Errorf("details.upstream_status = %d", got)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(d *Deps) {
		d.RateLimiter = ratelimit.New(time.Minute, 2)
	})

	for range 2 {
		if w := h.do("GET", "/v1/models", nil, nil); w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
	}
	w := h.do("GET", "/v1/models", nil, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", w.Code)
	}
	if reset := gjson.Get(w.Body.String(), "error.details.reset_in_seconds").Int(); reset <= 0 {
		t.Errorf("reset_in_seconds = %d", reset)
	}
}

func TestCostCap(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeUsageStore()
	store.InsertUsage(context.Background(), []gateway.UsageEntry{{
		Timestamp: time.Now(),
		UserID:    "app",
		CostCents: 1500, // over the $10 daily ceiling
	}})
	h := newHarness(t, func(d *Deps) {
		d.CostCap = ratelimit.NewCostCap(store, ratelimit.Ceilings{DailyUSD: 10}, false)
	})

	w := h.do("POST", "/v1/chat/completions", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if code := gjson.Get(w.Body.String(), "error.code").String(); code != gateway.CodeSpendCapExceeded {
		t.Errorf("code = %q", code)
	}
	if period := gjson.Get(w.Body.String(), "error.details.period").String(); period != "daily" {
		t.Errorf("period = %q", period)
	}
}

func TestBreakerTripsToServiceUnavailable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(d *Deps) {
		d.Breakers = breaker.NewRegistry(breaker.Settings{
			Threshold: 0.5, MinSamples: 1, WindowSeconds: 60, Cooldown: time.Hour,
		})
	})
	h.openai.CompleteFn = func(context.Context, *gateway.Request, string) (*gateway.Completion, error) {
		return nil, &provider.APIError{Provider: "openai", StatusCode: 500, Body: "boom"}
	}

	body := map[string]any{"messages": []map[string]string{{"role": "user", "content": "hi"}}}

	// First failure trips the one-sample breaker.
	if w := h.do("POST", "/v1/chat/completions", body, nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("first status = %d", w.Code)
	}
	w := h.do("POST", "/v1/chat/completions", body, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("tripped status = %d", w.Code)
	}
	if code := gjson.Get(w.Body.String(), "error.code").String(); code != gateway.CodeProviderTripped {
		t.Errorf("code = %q", code)
	}
	// The adapter was not called again.
	if got := len(h.openai.Calls()); got != 1 {
		t.Errorf("adapter calls = %d, want 1", got)
	}
	// Both requests logged usage.
	if got := len(h.recorder.Entries()); got != 2 {
		t.Errorf("usage entries = %d, want 2", got)
	}
}

func TestValidate_IssuesAndRefreshes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	// App-key callers get a fresh session token.
	w := h.do("POST", "/v1/validate", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	token := gjson.Get(w.Body.String(), "session_token").String()
	if token == "" {
		t.Fatal("session token missing")
	}
	// The one-minute harness TTL surfaces as whole seconds.
	if got := gjson.Get(w.Body.String(), "expires_in").Int(); got != 60 {
		t.Errorf("expires_in = %d, want 60", got)
	}

	// Session callers get an extension, not a new token.
	req := httptest.NewRequest("POST", "/v1/validate", nil)
	req.Header.Set(gateway.HeaderSessionToken, token)
	w2 := httptest.NewRecorder()
	h.handler.ServeHTTP(w2, req)
	if w2.Code != http.StatusOK {
		t.Fatalf("refresh status = %d", w2.Code)
	}
	if gjson.Get(w2.Body.String(), "session_token").String() != "" {
		t.Error("refresh must not rotate the token")
	}
	if !gjson.Get(w2.Body.String(), "valid").Bool() {
		t.Error("valid = false")
	}
}

func TestRefreshEndpoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	sess := h.sessions.Create("user-1", gateway.PrincipalUser, "", nil)

	req := httptest.NewRequest("POST", "/v1/validate/refresh", nil)
	req.Header.Set(gateway.HeaderSessionToken, sess.Token)
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !gjson.Get(body, "success").Bool() {
		t.Errorf("body = %s", body)
	}
	if got := gjson.Get(body, "expires_in").Int(); got != 60 {
		t.Errorf("expires_in = %d, want 60", got)
	}
	if gjson.Get(body, "session_token").String() != "" {
		t.Error("refresh must not rotate the token")
	}
}

func TestRefreshEndpoint_UnknownToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	req := httptest.NewRequest("POST", "/v1/validate/refresh", nil)
	req.Header.Set(gateway.HeaderSessionToken, "bogus")
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", w.Code)
	}
}

func TestRevoke(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	sess := h.sessions.Create("user-1", gateway.PrincipalUser, "", nil)

	req := httptest.NewRequest("POST", "/v1/revoke", nil)
	req.Header.Set(gateway.HeaderSessionToken, sess.Token)
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !gjson.Get(w.Body.String(), "success").Bool() {
		t.Errorf("body = %s", w.Body.String())
	}
	if _, err := h.sessions.Lookup(sess.Token); err == nil {
		t.Error("session should be gone")
	}

	// Revoking again is still a 200.
	w2 := httptest.NewRecorder()
	h.handler.ServeHTTP(w2, req)
	if w2.Code != http.StatusOK {
		t.Errorf("repeat status = %d", w2.Code)
	}
}

func TestRevoke_MissingToken(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	if w := h.do("POST", "/v1/revoke", nil, nil); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestVoice_Buffered(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.eleven.CompleteFn = func(_ context.Context, req *gateway.Request, _ string) (*gateway.Completion, error) {
		return &gateway.Completion{
			Model: req.Model,
			Audio: &gateway.Audio{Status: "completed", Base64: "bXAz", ContentType: "audio/mpeg"},
		}, nil
	}

	w := h.do("POST", "/v1/voice", map[string]any{"text": "good morning"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if gjson.Get(w.Body.String(), "audio_base64").String() != "bXAz" {
		t.Errorf("body = %s", w.Body.String())
	}
	// Voice usage is priced per character.
	if len(h.recorder.Entries()) != 1 {
		t.Errorf("usage entries = %d", len(h.recorder.Entries()))
	}
}

func TestVoice_Streaming(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.eleven.CompleteFn = func(_ context.Context, req *gateway.Request, _ string) (*gateway.Completion, error) {
		if !req.Stream {
			t.Error("stream flag should propagate")
		}
		return &gateway.Completion{
			Model:       req.Model,
			Audio:       &gateway.Audio{Status: "streaming", ContentType: "audio/mpeg"},
			AudioStream: io.NopCloser(strings.NewReader("raw-mp3-chunks")),
		}, nil
	}

	w := h.do("POST", "/v1/voice?stream=true", map[string]any{"text": "hello"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("Content-Type") != "audio/mpeg" {
		t.Errorf("content type = %q", w.Header().Get("Content-Type"))
	}
	if w.Body.String() != "raw-mp3-chunks" {
		t.Errorf("body = %q", w.Body.String())
	}
}

// dripReader delays before yielding its payload, like a slow upstream stream.
type dripReader struct {
	data  string
	delay time.Duration
	done  bool
}

func (d *dripReader) Read(p []byte) (int, error) {
	if d.done {
		return 0, io.EOF
	}
	time.Sleep(d.delay)
	d.done = true
	return copy(p, d.data), nil
}

func TestVoice_StreamingLogsAfterTransfer(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.eleven.CompleteFn = func(_ context.Context, req *gateway.Request, _ string) (*gateway.Completion, error) {
		return &gateway.Completion{
			Model:       req.Model,
			Audio:       &gateway.Audio{Status: "streaming", ContentType: "audio/mpeg"},
			AudioStream: io.NopCloser(&dripReader{data: "slow-chunks", delay: 50 * time.Millisecond}),
		}, nil
	}

	w := h.do("POST", "/v1/voice?stream=true", map[string]any{"text": "hello"}, nil)
	if w.Code != http.StatusOK || w.Body.String() != "slow-chunks" {
		t.Fatalf("stream = %d %q", w.Code, w.Body.String())
	}

	entries := h.recorder.Entries()
	if len(entries) != 1 {
		t.Fatalf("usage entries = %d, want exactly 1", len(entries))
	}
	// The logged duration includes the transfer, not just the upstream call.
	if entries[0].DurationMs < 40 {
		t.Errorf("duration_ms = %d, want >= 40", entries[0].DurationMs)
	}
}

func TestMusic(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.eleven.CompleteFn = func(_ context.Context, req *gateway.Request, _ string) (*gateway.Completion, error) {
		return &gateway.Completion{
			Model: req.Model,
			Audio: &gateway.Audio{GenerationID: "gen-1", Status: "completed", URL: "https://cdn/track.mp3"},
		}, nil
	}

	w := h.do("POST", "/v1/music", map[string]any{"prompt": "lo-fi", "duration_seconds": 30}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if gjson.Get(w.Body.String(), "generation_id").String() != "gen-1" {
		t.Errorf("body = %s", w.Body.String())
	}
	if h.eleven.Calls()[0].Request.DurationSeconds != 30 {
		t.Errorf("duration = %d", h.eleven.Calls()[0].Request.DurationSeconds)
	}
}

func TestMusic_MissingPrompt(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	if w := h.do("POST", "/v1/music", map[string]any{}, nil); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

func TestMusic_DurationOutOfRange(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	for _, dur := range []int{-5, 301} {
		w := h.do("POST", "/v1/music", map[string]any{"prompt": "lo-fi", "duration_seconds": dur}, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("duration %d: status = %d", dur, w.Code)
		}
		if code := gjson.Get(w.Body.String(), "error.code").String(); code != gateway.CodeValidationFailed {
			t.Errorf("duration %d: code = %q", dur, code)
		}
	}
	if len(h.eleven.Calls()) != 0 {
		t.Error("invalid duration should not reach the adapter")
	}
}

func TestVoice_TextTooLong(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	w := h.do("POST", "/v1/voice", map[string]any{"text": strings.Repeat("a", 5001)}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if code := gjson.Get(w.Body.String(), "error.code").String(); code != gateway.CodeValidationFailed {
		t.Errorf("code = %q", code)
	}
	if len(h.eleven.Calls()) != 0 {
		t.Error("oversized text should not reach the adapter")
	}
	if len(h.recorder.Entries()) != 0 {
		t.Error("validation failures must not log usage")
	}
}

func TestShortPathAliases(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	// The short forms route to the same handlers as the long ones.
	w := h.do("POST", "/v1/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	}, nil)
	if w.Code != http.StatusOK {
		t.Errorf("POST /v1/chat = %d: %s", w.Code, w.Body.String())
	}

	if w := h.do("POST", "/v1/images", map[string]any{}, nil); w.Code != http.StatusBadRequest {
		t.Errorf("POST /v1/images without prompt = %d, want validation error", w.Code)
	}

	sess := h.sessions.Create("user-1", gateway.PrincipalUser, "", nil)
	req := httptest.NewRequest("POST", "/v1/validate/revoke", nil)
	req.Header.Set(gateway.HeaderSessionToken, sess.Token)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !gjson.Get(rec.Body.String(), "success").Bool() {
		t.Errorf("POST /v1/validate/revoke = %d %s", rec.Code, rec.Body.String())
	}
}

func TestEphemeralGet(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.openai.CompleteFn = func(_ context.Context, req *gateway.Request, _ string) (*gateway.Completion, error) {
		return &gateway.Completion{
			Model:    req.Model,
			Realtime: json.RawMessage(`{"id": "sess_2", "client_secret": {"value": "ek_xyz"}}`),
		}, nil
	}

	// GET carries no body; the handler fills in defaults.
	w := h.do("GET", "/v1/ephemeral", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if gjson.Get(w.Body.String(), "client_secret.value").String() != "ek_xyz" {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRealtimeSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.openai.CompleteFn = func(_ context.Context, req *gateway.Request, _ string) (*gateway.Completion, error) {
		return &gateway.Completion{
			Model:    req.Model,
			Realtime: json.RawMessage(`{"id": "sess_1", "client_secret": {"value": "ek_abc"}}`),
		}, nil
	}

	w := h.do("POST", "/v1/realtime/sessions", map[string]any{}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	// The upstream descriptor passes through verbatim.
	if gjson.Get(w.Body.String(), "client_secret.value").String() != "ek_abc" {
		t.Errorf("body = %s", w.Body.String())
	}
}
