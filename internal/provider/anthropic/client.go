package anthropic

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
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"
	providerName   = "anthropic"
)

var _ gateway.Adapter = (*Client)(nil)

// Client is an Anthropic adapter.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates an Anthropic Client. If baseURL is empty it defaults to the
// public API.
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

// Complete translates the normalized chat request to the Messages API,
// sends it, and translates the response back.
func (c *Client) Complete(ctx context.Context, req *gateway.Request, key string) (*gateway.Completion, error) {
	if req.Kind != gateway.RequestChat {
		return nil, fmt.Errorf("anthropic: unsupported request kind %q", req.Kind)
	}

	ctx, cancel := context.WithTimeout(ctx, provider.ChatTimeout)
	defer cancel()

	upstream, err := translateRequest(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(upstream)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", key)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(providerName, resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("anthropic: read response: %w", err)
	}
	return translateResponse(data)
}
