package apiServer

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/arvht/chainkey/pkg/acl"
	"github.com/arvht/chainkey/pkg/auth"
	"github.com/arvht/chainkey/pkg/devices"
	"github.com/arvht/chainkey/pkg/ledger"
)

func writeJSON(w http.ResponseWriter, status int, payload any) { // A
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, text string) { // A
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": status, "text": text},
	})
}

// errStatus maps the error taxonomy onto HTTP status codes.
func errStatus(err error) int { // AP
	switch {
	case errors.Is(err, auth.ErrStaleOrFutureTimestamp),
		errors.Is(err, auth.ErrInvalidSignature),
		errors.Is(err, auth.ErrReplayedRequest),
		errors.Is(err, devices.ErrDeviceNotRegistered):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrAccessDenied),
		errors.Is(err, acl.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, acl.ErrUnknownFile):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrAppendConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
