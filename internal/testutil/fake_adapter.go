// Package testutil provides configurable in-memory fakes for gateway interfaces.
package testutil

import (
	"context"
	"sync"

	gateway "github.com/mattdarbro/studio-api/internal"
)

// FakeAdapter is a configurable gateway.Adapter for testing. It records
// every call so tests can assert on the request and key the pipeline
// passed down.
type FakeAdapter struct {
	AdapterName string
	CompleteFn  func(ctx context.Context, req *gateway.Request, key string) (*gateway.Completion, error)

	mu    sync.Mutex
	calls []AdapterCall
}

// AdapterCall captures one Complete invocation.
type AdapterCall struct {
	Request *gateway.Request
	Key     string
}

// Name returns the configured adapter name.
func (f *FakeAdapter) Name() string { return f.AdapterName }

// Complete delegates to CompleteFn or returns a default chat completion.
func (f *FakeAdapter) Complete(ctx context.Context, req *gateway.Request, key string) (*gateway.Completion, error) {
	f.mu.Lock()
	f.calls = append(f.calls, AdapterCall{Request: req, Key: key})
	f.mu.Unlock()

	if f.CompleteFn != nil {
		return f.CompleteFn(ctx, req, key)
	}
	return &gateway.Completion{
		ID:      "cmpl-fake",
		Object:  "chat.completion",
		Created: 1700000000,
		Model:   req.Model,
		Choices: []gateway.Choice{{
			Index:        0,
			Message:      gateway.Message{Role: "assistant", Content: []byte(`"hello"`)},
			FinishReason: "stop",
		}},
		Usage: &gateway.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

// Calls returns a snapshot of recorded invocations.
func (f *FakeAdapter) Calls() []AdapterCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]AdapterCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// FakeRecorder collects usage entries synchronously.
type FakeRecorder struct {
	mu      sync.Mutex
	entries []gateway.UsageEntry
}

// Record appends the entry.
func (f *FakeRecorder) Record(e gateway.UsageEntry) {
	f.mu.Lock()
	f.entries = append(f.entries, e)
	f.mu.Unlock()
}

// Entries returns a snapshot of recorded entries.
func (f *FakeRecorder) Entries() []gateway.UsageEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.UsageEntry, len(f.entries))
	copy(out, f.entries)
	return out
}
