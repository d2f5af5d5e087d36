// Package xai implements the gateway.Adapter for the xAI (Grok) API.
// The wire format is OpenAI-compatible, so the body passes through verbatim.
package xai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	gateway "github.com/mattdarbro/studio-api/internal"
	"github.com/mattdarbro/studio-api/internal/provider"
)

const (
	defaultBaseURL = "https://api.x.ai/v1"
	providerName   = "xai"
)

var _ gateway.Adapter = (*Client)(nil)

// Client is an xAI adapter.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates an xAI Client. If baseURL is empty it defaults to the public API.
func New(baseURL string, client *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: client}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

type chatRequest struct {
	Model       string            `json:"model"`
	Messages    []gateway.Message `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
}

// Complete sends a chat completion request to the xAI API.
func (c *Client) Complete(ctx context.Context, req *gateway.Request, key string) (*gateway.Completion, error) {
	if req.Kind != gateway.RequestChat {
		return nil, fmt.Errorf("xai: unsupported request kind %q", req.Kind)
	}

	ctx, cancel := context.WithTimeout(ctx, provider.ChatTimeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("xai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("xai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("xai: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(providerName, resp)
	}

	var out gateway.Completion
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("xai: decode response: %w", err)
	}
	return &out, nil
}
