package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	gateway "github.com/mattdarbro/studio-api/internal"
)

// usageFilterFromQuery parses the shared analytics filter parameters.
// Timestamps are RFC 3339; bad values are a 400, not silently ignored.
func usageFilterFromQuery(r *http.Request) (gateway.UsageFilter, error) {
	q := r.URL.Query()
	f := gateway.UsageFilter{
		AppID:    q.Get("app_id"),
		UserID:   q.Get("user_id"),
		Provider: q.Get("provider"),
		Endpoint: q.Get("endpoint"),
	}
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, gateway.Invalid("invalid start: %s", err.Error())
		}
		f.Start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, gateway.Invalid("invalid end: %s", err.Error())
		}
		f.End = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, gateway.Invalid("invalid limit: %q", v)
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, gateway.Invalid("invalid offset: %q", v)
		}
		f.Offset = n
	}
	return f, nil
}

func (s *server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	f, err := usageFilterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := s.deps.Analytics.Summarize(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type usagePage struct {
	Total   int                  `json:"total"`
	Entries []gateway.UsageEntry `json:"entries"`
}

func (s *server) handleAnalyticsUsage(w http.ResponseWriter, r *http.Request) {
	f, err := usageFilterFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, total, err := s.deps.Analytics.ListUsage(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usagePage{Total: total, Entries: entries})
}

// handleAnalyticsHealth reports the operational view an operator dashboard
// polls: store reachability, session population, and known users.
func (s *server) handleAnalyticsHealth(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"status":   "ok",
		"sessions": s.deps.Auth.Sessions().Stats(),
	}
	if s.deps.ReadyCheck != nil {
		if err := s.deps.ReadyCheck(r.Context()); err != nil {
			out["status"] = "degraded"
			out["store_error"] = err.Error()
		}
	}
	if s.deps.Users != nil {
		if n, err := s.deps.Users.CountUsers(r.Context()); err == nil {
			out["users"] = n
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type analyticsQueryRequest struct {
	Query string `json:"query"`
}

func (s *server) handleAnalyticsQuery(w http.ResponseWriter, r *http.Request) {
	var req analyticsQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gateway.Invalid("invalid request body: %s", err.Error()))
		return
	}
	result, err := s.deps.Analytics.Query(r.Context(), req.Query)
	if err != nil {
		// A mutating statement is a permission problem, not a syntax one.
		var validation *gateway.ValidationError
		if errors.As(err, &validation) {
			writeJSON(w, http.StatusForbidden,
				errorResponse(gateway.CodeValidationFailed, validation.Message))
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
