// Package replicate implements the gateway.Adapter for Replicate image
// predictions. Model references are resolved to version hashes through a
// cached lookup, and synchronous requests poll until terminal.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/tidwall/gjson"

	gateway "github.com/mattdarbro/studio-api/internal"
	"github.com/mattdarbro/studio-api/internal/provider"
)

const (
	defaultBaseURL = "https://api.replicate.com/v1"
	providerName   = "replicate"

	versionCacheTTL = time.Hour // model versions change rarely
	versionCacheLen = 1_000

	pollInterval = time.Second
	pollBudget   = 60 * time.Second
)

var _ gateway.Adapter = (*Client)(nil)

// Client is a Replicate adapter. It caches model-ref to version-hash
// resolutions so each model ref costs one upstream lookup per hour.
type Client struct {
	baseURL  string
	http     *http.Client
	versions *otter.Cache[string, string]
}

// New creates a Replicate Client. If baseURL is empty it defaults to the
// public API.
func New(baseURL string, client *http.Client) (*Client, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	c, err := otter.New(&otter.Options[string, string]{
		MaximumSize:      versionCacheLen,
		ExpiryCalculator: otter.ExpiryWriting[string, string](versionCacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create version cache: %w", err)
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: client, versions: c}, nil
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Complete creates a prediction for the normalized image request. When the
// request asks to wait, it polls until the prediction reaches a terminal
// status or the poll budget is spent, then returns the latest snapshot.
func (c *Client) Complete(ctx context.Context, req *gateway.Request, key string) (*gateway.Completion, error) {
	if req.Kind != gateway.RequestImage {
		return nil, fmt.Errorf("replicate: unsupported request kind %q", req.Kind)
	}

	ctx, cancel := context.WithTimeout(ctx, provider.ImageTimeout)
	defer cancel()

	version, err := c.resolveVersion(ctx, req.Model, key)
	if err != nil {
		return nil, err
	}

	pred, err := c.createPrediction(ctx, version, req, key)
	if err != nil {
		return nil, err
	}

	if req.Wait && !pred.Terminal() {
		pred, err = c.poll(ctx, pred, key)
		if err != nil {
			return nil, err
		}
	}
	return &gateway.Completion{Model: req.Model, Prediction: pred}, nil
}

// GetPrediction fetches the current snapshot of a prediction by ID.
func (c *Client) GetPrediction(ctx context.Context, id, key string) (*gateway.Prediction, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/predictions/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("replicate: create request: %w", err)
	}
	c.setHeaders(httpReq, key)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("replicate: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, gateway.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(providerName, resp)
	}

	var pred gateway.Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("replicate: decode prediction: %w", err)
	}
	return &pred, nil
}

// resolveVersion turns a model value into a version hash. Values already
// shaped like a version hash (no slash, long) pass through; owner/name refs
// are resolved against the models API and cached.
func (c *Client) resolveVersion(ctx context.Context, model, key string) (string, error) {
	if !strings.Contains(model, "/") && len(model) >= 30 {
		return model, nil
	}
	if v, ok := c.versions.GetIfPresent(model); ok {
		return v, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models/"+model, nil)
	if err != nil {
		return "", fmt.Errorf("replicate: create request: %w", err)
	}
	c.setHeaders(httpReq, key)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("replicate: resolve model %s: %w", model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", gateway.Invalid("unknown replicate model %q", model)
	}
	if resp.StatusCode != http.StatusOK {
		return "", provider.ParseAPIError(providerName, resp)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return "", fmt.Errorf("replicate: read model response: %w", err)
	}
	version := gjson.GetBytes(buf.Bytes(), "latest_version.id").String()
	if version == "" {
		return "", fmt.Errorf("replicate: model %s has no published version", model)
	}
	c.versions.Set(model, version)
	return version, nil
}

// createPrediction posts a prediction with Prefer: wait so fast models
// return a terminal snapshot without polling.
func (c *Client) createPrediction(ctx context.Context, version string, req *gateway.Request, key string) (*gateway.Prediction, error) {
	input := map[string]any{"prompt": req.Prompt}
	if req.Width > 0 {
		input["width"] = req.Width
	}
	if req.Height > 0 {
		input["height"] = req.Height
	}
	if req.NumOutputs > 0 {
		input["num_outputs"] = req.NumOutputs
	}

	body, err := json.Marshal(map[string]any{"version": version, "input": input})
	if err != nil {
		return nil, fmt.Errorf("replicate: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("replicate: create request: %w", err)
	}
	c.setHeaders(httpReq, key)
	httpReq.Header.Set("Prefer", "wait")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("replicate: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, provider.ParseAPIError(providerName, resp)
	}

	var pred gateway.Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("replicate: decode prediction: %w", err)
	}
	return &pred, nil
}

// poll re-fetches the prediction once per second until it is terminal or
// the poll budget runs out, returning the latest snapshot either way.
func (c *Client) poll(ctx context.Context, pred *gateway.Prediction, key string) (*gateway.Prediction, error) {
	deadline := time.Now().Add(pollBudget)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for !pred.Terminal() && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		next, err := c.GetPrediction(ctx, pred.ID, key)
		if err != nil {
			return nil, err
		}
		pred = next
	}
	return pred, nil
}

func (c *Client) setHeaders(r *http.Request, key string) {
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer "+key)
}
