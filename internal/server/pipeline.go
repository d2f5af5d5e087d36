package server

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	gateway "github.com/mattdarbro/studio-api/internal"
	"github.com/mattdarbro/studio-api/internal/breaker"
	"github.com/mattdarbro/studio-api/internal/pricing"
)

// kindOf maps a client model value to a catalog kind. An empty value picks
// the default for the request kind; a bare variant ("fast") is scoped to
// the request kind; fully-qualified kinds ("chat.fast") pass through.
func kindOf(requestKind, model string) string {
	switch {
	case model == "":
		return requestKind + ".default"
	case strings.Contains(model, "."):
		return model
	default:
		return requestKind + "." + model
	}
}

// execute resolves the model, picks the provider key, calls the adapter,
// and records exactly one usage entry for the request. Handlers must not
// record usage themselves.
func (s *server) execute(r *http.Request, model string, req *gateway.Request) (*gateway.Completion, gateway.ModelConfig, error) {
	completion, mc, finish, err := s.executeDeferred(r, model, req)
	finish()
	return completion, mc, err
}

// executeDeferred is execute with the usage entry held back: the returned
// finish func records it, once, when called. Streaming handlers call it
// after the last byte so the logged duration covers the stream; everyone
// else goes through execute. Pre-adapter failures are recorded immediately
// and finish is a no-op.
func (s *server) executeDeferred(r *http.Request, model string, req *gateway.Request) (*gateway.Completion, gateway.ModelConfig, func(), error) {
	noop := func() {}
	principal := gateway.PrincipalFromContext(r.Context())

	mc, err := s.deps.Catalog.Resolve(kindOf(req.Kind, model), principal.Channel)
	if err != nil {
		return nil, gateway.ModelConfig{}, noop, err
	}
	req.Model = mc.Model

	key := principal.ProviderKey(mc.Provider)
	if key == "" {
		key = s.deps.Keys.Key(mc.Provider)
	}
	if key == "" {
		s.recordUsage(r, principal, mc, req, nil, 0, gateway.ErrNoAPIKey)
		return nil, mc, noop, gateway.ErrNoAPIKey
	}

	adapter, aerr := s.deps.Providers.Get(mc.Provider)
	if aerr != nil {
		s.recordUsage(r, principal, mc, req, nil, 0, gateway.ErrKindNotFound)
		return nil, mc, noop, gateway.ErrKindNotFound
	}

	var brk *breaker.Breaker
	if s.deps.Breakers != nil {
		brk = s.deps.Breakers.For(mc.Provider)
		if !brk.Allow() {
			s.recordUsage(r, principal, mc, req, nil, 0, gateway.ErrUpstreamUnavailable)
			return nil, mc, noop, gateway.ErrUpstreamUnavailable
		}
	}

	start := time.Now()
	completion, err := adapter.Complete(r.Context(), req, key)
	elapsed := time.Since(start)
	if brk != nil {
		brk.Observe(err)
	}

	if m := s.deps.Metrics; m != nil {
		m.UpstreamDuration.WithLabelValues(mc.Provider, mc.Model).Observe(elapsed.Seconds())
		if err != nil {
			status, _ := errorStatus(err)
			m.UpstreamErrors.WithLabelValues(mc.Provider, strconv.Itoa(status)).Inc()
		}
	}

	var once sync.Once
	finish := func() {
		once.Do(func() {
			s.recordUsage(r, principal, mc, req, completion, time.Since(start), err)
		})
	}
	return completion, mc, finish, err
}

// recordUsage builds and enqueues the single usage entry for a request.
// Failed requests are logged with zero cost.
func (s *server) recordUsage(r *http.Request, principal *gateway.Principal, mc gateway.ModelConfig, req *gateway.Request, completion *gateway.Completion, elapsed time.Duration, callErr error) {
	if s.deps.Usage == nil {
		return
	}

	entry := gateway.UsageEntry{
		Timestamp:  time.Now(),
		UserID:     principal.ID,
		AppID:      principal.AppID,
		Endpoint:   r.URL.Path,
		Method:     r.Method,
		Provider:   mc.Provider,
		Model:      mc.Model,
		DurationMs: elapsed.Milliseconds(),
		StatusCode: http.StatusOK,
	}

	if callErr != nil {
		entry.StatusCode, _ = errorStatus(callErr)
		entry.Error = callErr.Error()
	} else {
		prompt, completionTokens, cents := s.cost(mc, req, completion)
		entry.PromptTokens = prompt
		entry.CompletionTokens = completionTokens
		entry.CostCents = cents

		if m := s.deps.Metrics; m != nil && prompt+completionTokens > 0 {
			m.TokensProcessed.WithLabelValues(mc.Model, "prompt").Add(float64(prompt))
			m.TokensProcessed.WithLabelValues(mc.Model, "completion").Add(float64(completionTokens))
		}
	}
	s.deps.Usage.Record(entry)
}

// cost estimates the request's cost in integer cents from the pricing
// table and what the provider reported.
func (s *server) cost(mc gateway.ModelConfig, req *gateway.Request, completion *gateway.Completion) (prompt, completionTokens int, cents int64) {
	switch req.Kind {
	case gateway.RequestChat:
		if completion != nil && completion.Usage != nil {
			prompt = completion.Usage.PromptTokens
			completionTokens = completion.Usage.CompletionTokens
		} else {
			// Provider gave no usage block; estimate the prompt side only.
			prompt = s.deps.Counter.EstimateRequest(req.Messages)
		}
		cents = pricing.Cents(s.deps.Prices.Tokens(mc.Provider, mc.Model, prompt, completionTokens))

	case gateway.RequestImage:
		cents = pricing.Cents(s.deps.Prices.Images(mc.Provider, mc.Model, req.NumOutputs))

	case gateway.RequestMusic:
		seconds := req.DurationSeconds
		if seconds <= 0 {
			seconds = 10
		}
		cents = pricing.Cents(s.deps.Prices.AudioSeconds(mc.Provider, mc.Model, seconds))

	case gateway.RequestVoice:
		cents = pricing.Cents(s.deps.Prices.Characters(mc.Provider, mc.Model, len(req.Text)))

	case gateway.RequestRealtime:
		// Ephemeral session minting is free; the realtime traffic itself is
		// billed by the provider out of band.
	}
	return prompt, completionTokens, cents
}
