package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	gateway "github.com/mattdarbro/studio-api/internal"
	"github.com/mattdarbro/studio-api/internal/provider"
)

// apiError is the error envelope: a machine-readable code plus a message.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details any    `json:"details,omitempty"`
	} `json:"error"`
}

func errorResponse(code, msg string) apiError {
	var e apiError
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

// writeError maps err to a status, code, and optional details payload.
func writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	resp := errorResponse(code, err.Error())

	var rate *gateway.RateLimitError
	var spend *gateway.SpendCapError
	var apiErr *provider.APIError
	switch {
	case errors.As(err, &rate):
		resp.Error.Details = map[string]any{"reset_in_seconds": rate.ResetInSeconds}
	case errors.As(err, &spend):
		resp.Error.Details = map[string]any{
			"period":      spend.Period,
			"limit_usd":   spend.LimitUSD,
			"current_usd": spend.CurrentUSD,
			"reset_at":    spend.ResetAt,
		}
	case errors.As(err, &apiErr):
		resp.Error.Details = map[string]any{
			"provider":        apiErr.Provider,
			"upstream_status": apiErr.StatusCode,
		}
	}
	writeJSON(w, status, resp)
}

func errorStatus(err error) (int, string) {
	var validation *gateway.ValidationError
	var rate *gateway.RateLimitError
	var spend *gateway.SpendCapError
	var capability *gateway.CapabilityError
	var apiErr *provider.APIError

	switch {
	case errors.Is(err, gateway.ErrAuthRequired):
		return http.StatusUnauthorized, gateway.CodeAuthRequired
	case errors.Is(err, gateway.ErrAuthInvalid):
		return http.StatusUnauthorized, gateway.CodeAuthInvalid
	case errors.Is(err, gateway.ErrSessionExpired):
		return http.StatusUnauthorized, gateway.CodeAuthInvalid
	case errors.Is(err, gateway.ErrAuthMisconfigured):
		return http.StatusInternalServerError, gateway.CodeAuthMisconfigured
	case errors.Is(err, gateway.ErrUnauthorizedApp):
		return http.StatusForbidden, gateway.CodeAuthUnauthorized
	case errors.Is(err, gateway.ErrKindNotFound):
		return http.StatusBadRequest, gateway.CodeKindNotFound
	case errors.Is(err, gateway.ErrNoAPIKey):
		return http.StatusInternalServerError, gateway.CodeNoAPIKey
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound, gateway.CodeNotFound
	case errors.Is(err, gateway.ErrNotImplemented):
		return http.StatusNotImplemented, gateway.CodeInternal
	case errors.Is(err, gateway.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, gateway.CodeProviderTripped
	case errors.As(err, &validation):
		return http.StatusBadRequest, gateway.CodeValidationFailed
	case errors.As(err, &rate):
		return http.StatusTooManyRequests, gateway.CodeRateLimited
	case errors.As(err, &spend):
		return http.StatusTooManyRequests, gateway.CodeSpendCapExceeded
	case errors.As(err, &capability):
		return http.StatusForbidden, gateway.CodeCapabilityDenied
	case provider.IsTimeout(err):
		return http.StatusGatewayTimeout, gateway.CodeProviderTimeout
	case errors.As(err, &apiErr):
		// Upstream failures are our fault as far as the caller is
		// concerned; the real upstream status rides in the details.
		return http.StatusInternalServerError, gateway.CodeProviderError
	default:
		return http.StatusInternalServerError, gateway.CodeInternal
	}
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
