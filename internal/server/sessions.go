package server

import (
	"encoding/json"
	"net/http"
	"time"

	gateway "github.com/mattdarbro/studio-api/internal"
)

type sessionResponse struct {
	Valid        bool               `json:"valid"`
	SessionToken string             `json:"session_token,omitempty"`
	ExpiresAt    time.Time          `json:"expires_at"`
	ExpiresIn    int                `json:"expires_in"` // seconds until expiry
	Principal    *gateway.Principal `json:"principal"`
}

// handleValidate checks the caller's credentials. Bearer and app-key
// callers get a fresh session token; session-token callers get their
// session extended without rotation.
func (s *server) handleValidate(w http.ResponseWriter, r *http.Request) {
	principal, err := s.deps.Auth.Authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sessions := s.deps.Auth.Sessions()

	if token := r.Header.Get(gateway.HeaderSessionToken); token != "" {
		if err := sessions.Refresh(token); err != nil {
			writeError(w, err)
			return
		}
		sess, err := sessions.Lookup(token)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionResponse{
			Valid:     true,
			ExpiresAt: sess.ExpiresAt,
			ExpiresIn: int(sessions.TTL().Seconds()),
			Principal: principal,
		})
		return
	}

	sess := sessions.Create(principal.ID, principal.Kind, principal.Channel, principal.ProviderKeys)
	s.updateSessionGauge()
	writeJSON(w, http.StatusOK, sessionResponse{
		Valid:        true,
		SessionToken: sess.Token,
		ExpiresAt:    sess.ExpiresAt,
		ExpiresIn:    int(sessions.TTL().Seconds()),
		Principal:    principal,
	})
}

type refreshResponse struct {
	Success   bool      `json:"success"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int       `json:"expires_in"`
}

// handleRefresh extends the presented session without rotating the token.
func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(gateway.HeaderSessionToken)
	if token == "" {
		writeError(w, gateway.Invalid("%s header is required", gateway.HeaderSessionToken))
		return
	}
	sessions := s.deps.Auth.Sessions()
	if err := sessions.Refresh(token); err != nil {
		writeError(w, err)
		return
	}
	sess, err := sessions.Lookup(token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		Success:   true,
		ExpiresAt: sess.ExpiresAt,
		ExpiresIn: int(sessions.TTL().Seconds()),
	})
}

// handleRevoke removes the presented session token. Unknown tokens still
// return 200; revocation is idempotent.
func (s *server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(gateway.HeaderSessionToken)
	if token == "" {
		writeError(w, gateway.Invalid("%s header is required", gateway.HeaderSessionToken))
		return
	}
	s.deps.Auth.Sessions().Revoke(token)
	s.updateSessionGauge()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type appleAuthRequest struct {
	IdentityToken string `json:"identity_token"`
}

type appleAuthResponse struct {
	SessionToken string        `json:"session_token"`
	ExpiresAt    time.Time     `json:"expires_at"`
	User         *gateway.User `json:"user"`
}

// handleAppleAuth exchanges a Sign in with Apple identity token for a
// session, creating or refreshing the user row.
func (s *server) handleAppleAuth(w http.ResponseWriter, r *http.Request) {
	var req appleAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, gateway.Invalid("invalid request body: %s", err.Error()))
		return
	}
	if req.IdentityToken == "" {
		writeError(w, gateway.Invalid("identity_token is required"))
		return
	}

	identity, err := s.deps.Apple.Verify(r.Context(), req.IdentityToken)
	if err != nil {
		writeError(w, err)
		return
	}

	user, err := s.deps.Users.UpsertUser(r.Context(), identity.Subject, identity.Email)
	if err != nil {
		writeError(w, err)
		return
	}

	sess := s.deps.Auth.Sessions().Create(user.ID, gateway.PrincipalPlatform, gateway.DefaultChannel, nil)
	s.updateSessionGauge()
	writeJSON(w, http.StatusOK, appleAuthResponse{
		SessionToken: sess.Token,
		ExpiresAt:    sess.ExpiresAt,
		User:         user,
	})
}

func (s *server) updateSessionGauge() {
	if s.deps.Metrics == nil {
		return
	}
	s.deps.Metrics.SessionsActive.Set(float64(s.deps.Auth.Sessions().Stats().Active))
}
