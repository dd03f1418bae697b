package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rhuss/codeexec/pkg/api"
)

var (
	// ErrBatchLengthMismatch is returned before sending a batch whose code
	// and test slices differ in length.
	ErrBatchLengthMismatch = errors.New("source and test code counts differ")

	// ErrResultCountMismatch is returned when the service answers a batch
	// with a different number of results than programs submitted.
	ErrResultCountMismatch = errors.New("result count does not match submitted programs")

	// ErrAtCapacity is returned when the service rejects a request with
	// HTTP 429.
	ErrAtCapacity = errors.New("execution service is at capacity")
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// mapHTTPError converts a non-2xx response into an *api.APIError. JSON error
// envelopes are decoded as-is; plain-text bodies from the text endpoints
// become the message. A 429 additionally matches ErrAtCapacity.
func mapHTTPError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := decodeAPIError(data)
	if apiErr == nil {
		apiErr = statusError(resp.StatusCode, textMessage(data))
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ErrAtCapacity, apiErr)
	}
	return apiErr
}

func decodeAPIError(data []byte) *api.APIError {
	var envelope api.ErrorResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil
	}
	if envelope.Error == nil || envelope.Error.Message == "" {
		return nil
	}
	return envelope.Error
}

// textMessage strips the "1\n" status line the text endpoints prefix to
// error bodies.
func textMessage(data []byte) string {
	msg := strings.TrimSpace(string(data))
	if rest, ok := strings.CutPrefix(msg, "1\n"); ok {
		msg = rest
	}
	return msg
}

func statusError(status int, message string) *api.APIError {
	if message == "" {
		message = fmt.Sprintf("unexpected response (HTTP %d)", status)
	}
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return api.NewInvalidRequestError("", message)
	case http.StatusUnauthorized, http.StatusForbidden:
		return api.NewUnauthorizedError(message)
	case http.StatusNotFound:
		return api.NewNotFoundError(message)
	case http.StatusTooManyRequests:
		return api.NewTooManyRequestsError(message)
	default:
		return api.NewServerError(message)
	}
}
