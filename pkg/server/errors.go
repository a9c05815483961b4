package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kaiwalab/kaiwa/pkg/core"
)

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

// statusForType maps the error taxonomy onto HTTP status codes. The
// benign no-ops answer 409 so clients can tell a double start from a
// failed one.
func statusForType(t core.ErrorType) int {
	switch t {
	case core.ErrAlreadyRecording, core.ErrNotRecording:
		return http.StatusConflict
	case core.ErrInvalidConfig:
		return http.StatusBadRequest
	case core.ErrGeneration:
		return http.StatusBadGateway
	case core.ErrDeviceUnavailable, core.ErrStreamFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error, requestID string) {
	if err == nil {
		return
	}
	var ce *core.Error
	if !errors.As(err, &ce) {
		ce = &core.Error{Type: "internal", Message: err.Error()}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForType(ce.Type))
	json.NewEncoder(w).Encode(map[string]any{
		"type":       "error",
		"error":      ce,
		"request_id": requestID,
	})
}

func writeInternalError(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    "internal",
			"message": "Internal server error",
		},
		"request_id": requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
