// Package openai implements the gateway.Adapter for the OpenAI API:
// chat completions and ephemeral realtime sessions.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	gateway "github.com/mattdarbro/studio-api/internal"
	"github.com/mattdarbro/studio-api/internal/provider"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"
)

var _ gateway.Adapter = (*Client)(nil)

// Client is an OpenAI adapter. The provider key is supplied per call so
// user-attached override keys work without per-key clients.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
}

// New creates an OpenAI Client. If baseURL is empty it defaults to the
// public API. The client should share the gateway's pooled transport.
func New(baseURL string, client *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Client{name: providerName, baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return c.name }

// chatRequest is the OpenAI chat completions request body. The normalized
// request shape is already OpenAI-wire-format, so this passes through.
type chatRequest struct {
	Model       string            `json:"model"`
	Messages    []gateway.Message `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
}

// Complete dispatches the normalized request. Chat requests go to
// /chat/completions; realtime requests mint an ephemeral session.
func (c *Client) Complete(ctx context.Context, req *gateway.Request, key string) (*gateway.Completion, error) {
	switch req.Kind {
	case gateway.RequestChat:
		return c.chat(ctx, req, key)
	case gateway.RequestRealtime:
		return c.realtimeSession(ctx, req, key)
	default:
		return nil, fmt.Errorf("openai: unsupported request kind %q", req.Kind)
	}
}

func (c *Client) chat(ctx context.Context, req *gateway.Request, key string) (*gateway.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, provider.ChatTimeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	c.setHeaders(httpReq, key)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(providerName, resp)
	}

	var out gateway.Completion
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	return &out, nil
}

// realtimeSession creates an ephemeral realtime session and returns the
// upstream descriptor verbatim; it carries a client token the caller uses
// to connect directly.
func (c *Client) realtimeSession(ctx context.Context, req *gateway.Request, key string) (*gateway.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, provider.ChatTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]any{
		"model": req.Model,
		"voice": orDefault(req.Voice, "verse"),
	})
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/realtime/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	c.setHeaders(httpReq, key)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(providerName, resp)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}
	return &gateway.Completion{Model: req.Model, Realtime: raw}, nil
}

func (c *Client) setHeaders(r *http.Request, key string) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer "+key)
}

func orDefault(s, d string) string {
	if s == "" {
		return d
	}
	return s
}
