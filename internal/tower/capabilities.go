package tower

import (
	"context"
	"encoding/json"
	"fmt"

	gateway "github.com/mattdarbro/studio-api/internal"
	"github.com/mattdarbro/studio-api/internal/pricing"
	"github.com/mattdarbro/studio-api/internal/tokencount"
)

// capability pairs a cost estimator with an executor. The estimate feeds
// the spend soft cap before the request is admitted.
type capability struct {
	estimate func(req *TaskRequest) float64
	run      func(ctx context.Context, a *agent, req *TaskRequest) (*TaskResult, error)
}

// Capability names agents may request.
const (
	CapClaudeAPI  = "claude_api"
	CapClaudeCode = "claude_code"
	CapImageGen   = "image_gen"
	CapWebSearch  = "web_search"
	CapWebFetch   = "web_fetch"
	CapFileRead   = "file_read"
	CapFileWrite  = "file_write"
)

func buildCapabilities(claude gateway.Adapter, claudeKey, model string, prices *pricing.Table, counter *tokencount.Counter) map[string]capability {
	caps := map[string]capability{
		CapClaudeAPI: claudeCapability(claude, claudeKey, model, prices, counter),
	}
	// Declared but not yet backed by an executor; they reject with a clear
	// error and never accrue cost.
	for _, name := range []string{CapClaudeCode, CapImageGen, CapWebSearch, CapWebFetch, CapFileRead, CapFileWrite} {
		caps[name] = stubCapability(name)
	}
	return caps
}

// claudeCapability forwards agent chat to the Anthropic adapter and prices
// the result from actual token usage.
func claudeCapability(adapter gateway.Adapter, key, model string, prices *pricing.Table, counter *tokencount.Counter) capability {
	return capability{
		estimate: func(req *TaskRequest) float64 {
			tokens := counter.EstimateRequest(messagesOf(req))
			maxOut := req.MaxTokens
			if maxOut <= 0 {
				maxOut = 1024
			}
			return prices.Tokens(adapter.Name(), model, tokens, maxOut)
		},
		run: func(ctx context.Context, a *agent, req *TaskRequest) (*TaskResult, error) {
			if key == "" {
				return nil, gateway.ErrNoAPIKey
			}
			maxTokens := req.MaxTokens
			if limit := a.profile.Limits.MaxTokens; limit > 0 && (maxTokens <= 0 || maxTokens > limit) {
				maxTokens = limit
			}

			completion, err := adapter.Complete(ctx, &gateway.Request{
				Kind:      gateway.RequestChat,
				Model:     model,
				Messages:  messagesOf(req),
				MaxTokens: maxTokens,
			}, key)
			if err != nil {
				return nil, err
			}

			output, err := json.Marshal(completion)
			if err != nil {
				return nil, fmt.Errorf("tower: marshal completion: %w", err)
			}
			result := &TaskResult{Capability: CapClaudeAPI, Output: output}
			if u := completion.Usage; u != nil {
				result.Tokens = u.TotalTokens
				result.CostUSD = prices.Tokens(adapter.Name(), model, u.PromptTokens, u.CompletionTokens)
			}
			return result, nil
		},
	}
}

func stubCapability(name string) capability {
	return capability{
		estimate: func(*TaskRequest) float64 { return 0 },
		run: func(context.Context, *agent, *TaskRequest) (*TaskResult, error) {
			return nil, fmt.Errorf("capability %q: %w", name, gateway.ErrNotImplemented)
		},
	}
}

func messagesOf(req *TaskRequest) []gateway.Message {
	if len(req.Messages) > 0 {
		return req.Messages
	}
	content, _ := json.Marshal(req.Prompt)
	return []gateway.Message{{Role: "user", Content: content}}
}
