package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/maneesh/epubshelf/internal/apperr"
	"github.com/maneesh/epubshelf/internal/logger"
)

// ErrorResponse is the JSON error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Code    string `json:"code,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindBadRequest:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto a status and JSON body. Server errors always carry
// details.
func writeError(w http.ResponseWriter, log *logger.Logger, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Internal("internal server error", err)
	}

	status := statusFor(appErr.Kind)
	body := ErrorResponse{Error: appErr.Message}
	if status >= http.StatusInternalServerError {
		body.Details = appErr.Details()
		if body.Details == "" {
			body.Details = appErr.Message
		}
		body.Code = appErr.Code
		body.Hint = appErr.Hint
		log.Error("request failed", "error", err, "code", appErr.Code)
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
