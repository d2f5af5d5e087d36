// Package tower is the sandboxed execution surface for autonomous agents.
// Agents authenticate with a dedicated key, declare a capability per
// request, and run under per-agent request and spend ceilings with a
// bounded audit trail.
package tower

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	gateway "github.com/mattdarbro/studio-api/internal"
	"github.com/mattdarbro/studio-api/internal/pricing"
	"github.com/mattdarbro/studio-api/internal/tokencount"
)

// idleRetention is how long an agent's counters survive without traffic
// before the sweep discards them.
const idleRetention = 7 * 24 * time.Hour

// AgentConfig declares one agent at wiring time. Admin marks the
// supervising agent: it sees every agent's status and audit trail, not
// just its own. The agent named "admin" is treated as such either way.
type AgentConfig struct {
	Name    string
	Key     string
	Admin   bool
	Profile gateway.AgentProfile
}

// TaskRequest is one agent request: a capability name plus its input.
type TaskRequest struct {
	Capability string            `json:"capability"`
	Prompt     string            `json:"prompt,omitempty"`
	Messages   []gateway.Message `json:"messages,omitempty"`
	MaxTokens  int               `json:"max_tokens,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
}

// TaskResult is the outcome of an executed capability.
type TaskResult struct {
	ID         string          `json:"id"`
	Capability string          `json:"capability"`
	Output     json.RawMessage `json:"output,omitempty"`
	CostUSD    float64         `json:"cost_usd"`
	Tokens     int             `json:"tokens,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

// AgentStatus is the live view of one agent's limits and consumption.
type AgentStatus struct {
	Agent           string              `json:"agent"`
	Limits          gateway.AgentLimits `json:"limits"`
	HourUsed        int                 `json:"hour_used"`
	HourResetAt     time.Time           `json:"hour_reset_at"`
	DayUsed         int                 `json:"day_used"`
	DayResetAt      time.Time           `json:"day_reset_at"`
	SpendTodayUSD   float64             `json:"spend_today_usd"`
	Capabilities    []string            `json:"capabilities"`
}

// agent is the runtime pairing of a profile with its counters.
type agent struct {
	name    string
	key     string
	admin   bool
	profile gateway.AgentProfile
	usage   *agentUsage
}

// Tower authenticates agents and executes capabilities under their limits.
type Tower struct {
	mu     sync.RWMutex
	agents map[string]*agent

	caps  map[string]capability
	audit *auditRing
	now   clock
}

// New builds a Tower. The claude adapter (typically the Anthropic client)
// and its key back the claude_api capability; model names the default
// model for agent chat calls.
func New(agents []AgentConfig, claude gateway.Adapter, claudeKey, model string, prices *pricing.Table, counter *tokencount.Counter) *Tower {
	t := &Tower{
		agents: make(map[string]*agent, len(agents)),
		audit:  newAuditRing(),
		now:    time.Now,
	}
	for _, a := range agents {
		t.agents[a.Name] = &agent{
			name:    a.Name,
			key:     a.Key,
			admin:   a.Admin || a.Name == "admin",
			profile: a.Profile,
			usage:   &agentUsage{},
		}
	}
	t.caps = buildCapabilities(claude, claudeKey, model, prices, counter)
	return t
}

// Authenticate resolves a tower key to its agent using constant-time
// comparison across all configured keys.
func (t *Tower) Authenticate(key string) (string, error) {
	if key == "" {
		return "", gateway.ErrAuthRequired
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var matched string
	for _, a := range t.agents {
		// Compare every key so timing does not reveal which agent exists.
		if subtle.ConstantTimeCompare([]byte(key), []byte(a.key)) == 1 {
			matched = a.name
		}
	}
	if matched == "" {
		return "", gateway.ErrAuthInvalid
	}
	return matched, nil
}

// Execute runs one capability for the named agent: capability check,
// window and spend admission, execution, then spend charge and audit.
func (t *Tower) Execute(ctx context.Context, agentName string, req *TaskRequest) (*TaskResult, error) {
	a, err := t.lookup(agentName)
	if err != nil {
		return nil, err
	}
	if req.Capability == "" {
		return nil, gateway.Invalid("capability is required")
	}
	if !a.profile.Capabilities.Has(req.Capability) {
		t.record(a.name, req, nil, 0, &gateway.CapabilityError{Agent: a.name, Capability: req.Capability})
		return nil, &gateway.CapabilityError{Agent: a.name, Capability: req.Capability}
	}
	c, ok := t.caps[req.Capability]
	if !ok {
		return nil, gateway.Invalid("unknown capability %q", req.Capability)
	}

	now := t.now()
	est := c.estimate(req)
	if err := a.usage.admit(a.profile.Limits, est, now); err != nil {
		t.record(a.name, req, nil, 0, err)
		return nil, err
	}

	start := now
	result, err := c.run(ctx, a, req)
	elapsed := t.now().Sub(start)
	if err != nil {
		t.record(a.name, req, nil, elapsed, err)
		return nil, err
	}
	result.ID = uuid.Must(uuid.NewV7()).String()
	result.DurationMs = elapsed.Milliseconds()

	if result.CostUSD > 0 {
		a.usage.charge(result.CostUSD, t.now())
	}
	t.record(a.name, req, result, elapsed, nil)

	slog.LogAttrs(ctx, slog.LevelInfo, "tower capability executed",
		slog.String("agent", a.name),
		slog.String("capability", req.Capability),
		slog.Float64("cost_usd", result.CostUSD),
		slog.Int64("duration_ms", result.DurationMs),
	)
	return result, nil
}

// Status returns the live limit view for an agent.
func (t *Tower) Status(agentName string) (*AgentStatus, error) {
	a, err := t.lookup(agentName)
	if err != nil {
		return nil, err
	}
	hour, day, spend := a.usage.snapshot(t.now())
	return &AgentStatus{
		Agent:         a.name,
		Limits:        a.profile.Limits,
		HourUsed:      hour.count,
		HourResetAt:   hour.reset,
		DayUsed:       day.count,
		DayResetAt:    day.reset,
		SpendTodayUSD: spend,
		Capabilities:  a.profile.Capabilities.Allow,
	}, nil
}

// IsAdmin reports whether the named agent supervises the tower.
func (t *Tower) IsAdmin(agentName string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.agents[agentName]
	return ok && a.admin
}

// Audit returns up to limit audit entries, newest first.
func (t *Tower) Audit(limit int) []gateway.AuditEntry {
	return t.audit.list(limit)
}

// AuditFor returns up to limit of the named agent's entries, newest first.
// Agents see only their own trail.
func (t *Tower) AuditFor(agentName string, limit int) []gateway.AuditEntry {
	all := t.audit.list(0)
	out := make([]gateway.AuditEntry, 0, min(limit, len(all)))
	for _, e := range all {
		if e.Agent != agentName {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// WindowStats aggregates audit entries over one time window.
type WindowStats struct {
	Requests int     `json:"requests"`
	Errors   int     `json:"errors"`
	CostUSD  float64 `json:"cost_usd"`
	Tokens   int     `json:"tokens"`
}

// AuditSummary rolls the trail up over the trailing hour and the current
// local day.
type AuditSummary struct {
	LastHour WindowStats `json:"last_hour"`
	Today    WindowStats `json:"today"`
}

// Summarize aggregates the audit trail for one agent, or for every agent
// when agentName is empty.
func (t *Tower) Summarize(agentName string) AuditSummary {
	now := t.now()
	hourCutoff := now.Add(-time.Hour)
	dayCutoff := localMidnight(now)

	var s AuditSummary
	for _, e := range t.audit.list(0) {
		if agentName != "" && e.Agent != agentName {
			continue
		}
		if e.Timestamp.After(hourCutoff) {
			tally(&s.LastHour, e)
		}
		if !e.Timestamp.Before(dayCutoff) {
			tally(&s.Today, e)
		}
	}
	return s
}

func tally(w *WindowStats, e gateway.AuditEntry) {
	w.Requests++
	if !e.Success {
		w.Errors++
	}
	w.CostUSD += e.CostUSD
	w.Tokens += e.Tokens
}

// SweepIdle zeroes counters for agents with no traffic past the retention
// window. Profiles stay; only transient usage state is discarded.
func (t *Tower) SweepIdle(ctx context.Context) error {
	cutoff := t.now().Add(-idleRetention)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, a := range t.agents {
		a.usage.mu.Lock()
		if !a.usage.lastSeen.IsZero() && a.usage.lastSeen.Before(cutoff) {
			*a.usage = agentUsage{}
		}
		a.usage.mu.Unlock()
	}
	return nil
}

func (t *Tower) lookup(name string) (*agent, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.agents[name]
	if !ok {
		return nil, gateway.ErrAuthInvalid
	}
	return a, nil
}

func (t *Tower) record(agentName string, req *TaskRequest, result *TaskResult, elapsed time.Duration, err error) {
	e := gateway.AuditEntry{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Timestamp:  t.now(),
		Agent:      agentName,
		Capability: req.Capability,
		Summary:    summarize(req),
		DurationMs: elapsed.Milliseconds(),
		Success:    err == nil,
		SessionID:  req.SessionID,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if result != nil {
		e.CostUSD = result.CostUSD
		e.Tokens = result.Tokens
	}
	t.audit.add(e)
}

// summarize keeps a short, non-sensitive description of the request.
func summarize(req *TaskRequest) string {
	s := req.Prompt
	if s == "" && len(req.Messages) > 0 {
		var text string
		if json.Unmarshal(req.Messages[len(req.Messages)-1].Content, &text) == nil {
			s = text
		}
	}
	const maxSummary = 120
	if len(s) > maxSummary {
		s = s[:maxSummary] + "..."
	}
	return s
}
