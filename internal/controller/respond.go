package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-funnel/internal/errors"
)

// CallerHeader carries the authenticated user id set by the gateway.
const CallerHeader = "X-User-ID"

type errorBody struct {
	Kind    appErrors.Kind `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as {"error":{kind,message,details}} with the status
// its kind maps to.
func WriteError(w http.ResponseWriter, log *zap.Logger, err error) {
	kind := appErrors.KindOf(err)
	body := errorBody{Kind: kind, Message: "internal server error"}

	var e *appErrors.Error
	if errors.As(err, &e) {
		body.Message = e.Error()
		body.Details = e.Details
	}

	status := kind.HTTPStatus()
	if status >= http.StatusInternalServerError && log != nil {
		log.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	writeJSON(w, status, map[string]any{"error": body})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return appErrors.Validation("invalid request body").WithDetails(map[string]any{"reason": err.Error()})
	}
	return nil
}

func nopIfNil(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
