package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apperrors "github.com/avco-ledger/internal/errors"
	"github.com/avco-ledger/internal/logging"
)

// ErrorBody is the payload of an error response
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// respondError renders err through its category. Server-side failures are
// logged with their cause and shown to the client without it.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)

	body := ErrorBody{
		Code:    catErr.Code,
		Message: catErr.Message,
		Details: catErr.Details,
	}
	if catErr.StatusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).WithFields(logging.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		body.Details = nil
	}

	respondJSON(w, catErr.StatusCode, ErrorResponse{Error: body})
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body. An empty body leaves v untouched.
func parseJSONBody(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.NewInvalidParameterError("body", err.Error())
	}
	return nil
}
