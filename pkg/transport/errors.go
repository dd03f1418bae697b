package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rhuss/codeexec/pkg/api"
)

// HTTPStatusFromError returns the status for apiErr's type.
func HTTPStatusFromError(apiErr *api.APIError) int {
	return apiErr.Type.HTTPStatus()
}

// AsAPIError unwraps an APIError from err. Any other error becomes a
// server error with err's text.
func AsAPIError(err error) *api.APIError {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return api.NewServerError(err.Error())
}

// WriteErrorResponse writes the JSON error envelope with an explicit status.
func WriteErrorResponse(w http.ResponseWriter, apiErr *api.APIError, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: apiErr})
}

// WriteAPIError writes the envelope with the status implied by the type.
func WriteAPIError(w http.ResponseWriter, apiErr *api.APIError) {
	WriteErrorResponse(w, apiErr, apiErr.Type.HTTPStatus())
}
