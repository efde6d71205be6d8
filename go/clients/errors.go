package clients

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// HTTPError is an application-level failure: the server answered with a non-2xx status.
// It is never retried.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// IsHTTPStatus reports whether err is an *HTTPError with the given status.
func IsHTTPStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == status
}

func newHTTPError(status int, body []byte) *HTTPError {
	var payload struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Detail  json.RawMessage `json:"detail"`
	}
	_ = json.Unmarshal(body, &payload)

	message := payload.Message
	if message == "" && len(payload.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(payload.Detail, &detail); err == nil {
			message = detail
		} else {
			message = string(payload.Detail)
		}
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}

	return &HTTPError{
		StatusCode: status,
		Code:       payload.Code,
		Message:    message,
	}
}
