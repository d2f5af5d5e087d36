package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	gateway "github.com/mattdarbro/studio-api/internal"
	"github.com/mattdarbro/studio-api/internal/tower"
)

type towerCtxKey struct{}

func agentFromContext(ctx context.Context) string {
	name, _ := ctx.Value(towerCtxKey{}).(string)
	return name
}

// towerAuthenticate resolves the Tower-Key header to an agent name.
func (s *server) towerAuthenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, err := s.deps.Tower.Authenticate(r.Header.Get(gateway.HeaderTowerKey))
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), towerCtxKey{}, name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// towerRequestResponse wraps the capability result with the agent's spend
// position after the call.
type towerRequestResponse struct {
	Status string            `json:"status"`
	Result *tower.TaskResult `json:"result"`
	Meta   towerRequestMeta  `json:"meta"`
}

type towerRequestMeta struct {
	TokensUsed          int     `json:"tokens_used"`
	CostEstimate        float64 `json:"cost_estimate"`
	DailySpendTotal     float64 `json:"daily_spend_total"`
	DailySpendRemaining float64 `json:"daily_spend_remaining"`
}

func (s *server) handleTowerRequest(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r.Context())

	var req tower.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gateway.Invalid("invalid request body: %s", err.Error()))
		return
	}

	result, err := s.deps.Tower.Execute(r.Context(), agent, &req)
	if s.deps.Metrics != nil {
		s.deps.Metrics.TowerRequests.WithLabelValues(agent, req.Capability, towerOutcome(err)).Inc()
	}
	if err != nil {
		writeError(w, err)
		return
	}

	resp := towerRequestResponse{
		Status: "ok",
		Result: result,
		Meta: towerRequestMeta{
			TokensUsed:   result.Tokens,
			CostEstimate: result.CostUSD,
		},
	}
	if status, err := s.deps.Tower.Status(agent); err == nil {
		resp.Meta.DailySpendTotal = status.SpendTodayUSD
		if remaining := status.Limits.DailySpendUSD - status.SpendTodayUSD; remaining > 0 {
			resp.Meta.DailySpendRemaining = remaining
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleTowerStatus(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r.Context())

	// The admin may inspect any agent.
	if target := r.URL.Query().Get("agent"); target != "" && target != agent {
		if !s.deps.Tower.IsAdmin(agent) {
			writeError(w, gateway.ErrUnauthorizedApp)
			return
		}
		agent = target
	}

	status, err := s.deps.Tower.Status(agent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *server) handleTowerAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, gateway.Invalid("invalid limit: %q", v))
			return
		}
		limit = n
	}

	agent := agentFromContext(r.Context())
	var entries []gateway.AuditEntry
	var summary tower.AuditSummary
	if s.deps.Tower.IsAdmin(agent) {
		// The admin sees the whole trail.
		entries = s.deps.Tower.Audit(limit)
		summary = s.deps.Tower.Summarize("")
	} else {
		entries = s.deps.Tower.AuditFor(agent, limit)
		summary = s.deps.Tower.Summarize(agent)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"summary": summary,
	})
}

func towerOutcome(err error) string {
	var capability *gateway.CapabilityError
	var rate *gateway.RateLimitError
	var spend *gateway.SpendCapError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &capability):
		return "denied"
	case errors.As(err, &rate), errors.As(err, &spend):
		return "limited"
	default:
		return "error"
	}
}
