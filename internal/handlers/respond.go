package handlers

import (
	"encoding/json"
	"net/http"

	platformerrors "github.com/jmgilman/go/errors"
)

// writeJSON is a small helper to send JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as a platform error body with a status derived
// from its code.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), platformerrors.ToJSON(err))
}

func statusFor(err error) int {
	switch platformerrors.GetCode(err) {
	case platformerrors.CodeInvalidInput, platformerrors.CodeInvalidConfig:
		return http.StatusBadRequest
	case platformerrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case platformerrors.CodeNotFound:
		return http.StatusNotFound
	case platformerrors.CodeConflict:
		return http.StatusConflict
	case platformerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case platformerrors.CodeNetwork, platformerrors.CodeExecutionFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
