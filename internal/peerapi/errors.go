package peerapi

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
)

// APIError is a non-2xx answer from a peer. The message carries the
// peer's error body when it sent one.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("peer api: %d %s", e.StatusCode, e.Message)
}

// ClientError reports whether the peer judged the request itself
// invalid. Retrying these cannot help.
func (e *APIError) ClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsClientError reports whether err wraps a 4xx peer response.
func IsClientError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.ClientError()
}

// handleAPIError folds the request error and the response state into
// one error, or nil on success.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s: %w", operation, requestErr)
	}

	if resp.IsErrorState() {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
		if peerErr, ok := resp.ErrorResult().(*APIError); ok && peerErr.Message != "" {
			apiErr.Message = peerErr.Message
		}
		return fmt.Errorf("%s: %w", operation, apiErr)
	}

	return nil
}
