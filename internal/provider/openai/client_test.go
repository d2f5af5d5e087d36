package openai

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tidwall/gjson"

	gateway "github.com/mattdarbro/studio-api/internal"
	"github.com/mattdarbro/studio-api/internal/provider"
)

func TestChat(t *testing.T) {
	t.Parallel()
	var gotPath, gotAuth string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 4, "completion_tokens": 2, "total_tokens": 6}
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	comp, err := c.Complete(t.Context(), &gateway.Request{
		Kind:     gateway.RequestChat,
		Model:    "gpt-4o",
		Messages: []gateway.Message{{Role: "user", Content: json.RawMessage(`"hello"`)}},
	}, "sk-key")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer sk-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gjson.GetBytes(gotBody, "model").String() != "gpt-4o" {
		t.Errorf("body = %s", gotBody)
	}
	if comp.ID != "chatcmpl-1" || comp.Usage == nil || comp.Usage.TotalTokens != 6 {
		t.Errorf("completion = %+v", comp)
	}
}

func TestChat_UpstreamError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "bad key"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	_, err := c.Complete(t.Context(), &gateway.Request{Kind: gateway.RequestChat, Model: "gpt-4o"}, "bad")

	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Provider != "openai" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestRealtimeSession(t *testing.T) {
	t.Parallel()
	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"id": "sess_1", "client_secret": {"value": "ek_abc", "expires_at": 1756000000}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	comp, err := c.Complete(t.Context(), &gateway.Request{
		Kind:  gateway.RequestRealtime,
		Model: "gpt-4o-realtime-preview",
	}, "sk-key")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if gotPath != "/realtime/sessions" {
		t.Errorf("path = %q", gotPath)
	}
	// Voice defaults when the caller leaves it empty.
	if gjson.GetBytes(gotBody, "voice").String() != "verse" {
		t.Errorf("voice = %s", gotBody)
	}
	if gjson.GetBytes(comp.Realtime, "client_secret.value").String() != "ek_abc" {
		t.Errorf("realtime = %s", comp.Realtime)
	}
}

func TestRealtimeSession_VoicePassthrough(t *testing.T) {
	t.Parallel()
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client())
	if _, err := c.Complete(t.Context(), &gateway.Request{
		Kind:  gateway.RequestRealtime,
		Model: "gpt-4o-realtime-preview",
		Voice: "alloy",
	}, "sk-key"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if gjson.GetBytes(gotBody, "voice").String() != "alloy" {
		t.Errorf("voice = %s", gotBody)
	}
}

func TestComplete_WrongKind(t *testing.T) {
	t.Parallel()
	c := New("http://unused", nil)
	if _, err := c.Complete(t.Context(), &gateway.Request{Kind: gateway.RequestMusic}, "k"); err == nil {
		t.Error("music request should be rejected")
	}
}
