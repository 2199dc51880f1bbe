// Package handlers provides the REST API handlers of the desktop server.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
)

// errorBody is the JSON error response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the application error code to an HTTP status.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrInvalid, apperrors.ErrValidation, apperrors.ErrUnknownKind:
		status = http.StatusBadRequest
	case apperrors.ErrPermission:
		status = http.StatusForbidden
	case apperrors.ErrNotFound:
		status = http.StatusNotFound
	case apperrors.ErrTxAborted, apperrors.ErrTxConflict:
		status = http.StatusConflict
	case apperrors.ErrRemoteUnavailable, apperrors.ErrOffline:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorBody{Code: string(code), Message: err.Error()})
}
