package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// ErrUnsupportedAttachment is returned when a provider cannot accept an
// attachment's media type.
var ErrUnsupportedAttachment = errors.New("unsupported attachment media type")

// APIError is a non-2xx response from a provider API.
type APIError struct {
	Provider   string
	StatusCode int
	RetryAfter time.Duration // from the Retry-After header, 0 when absent
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s API error (status %d): %v", e.Provider, e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// StatusCode extracts the HTTP status of a provider failure, or 0 when err
// did not come from an HTTP response.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	var aErr *anthropic.Error
	if errors.As(err, &aErr) {
		return aErr.StatusCode
	}
	var oErr *openai.Error
	if errors.As(err, &oErr) {
		return oErr.StatusCode
	}
	return 0
}

// wrapSDKError converts SDK errors into *APIError, keeping the original as
// the cause. Other errors (network, context) are wrapped with the provider
// name only.
func wrapSDKError(provider string, err error) error {
	var aErr *anthropic.Error
	if errors.As(err, &aErr) {
		return &APIError{
			Provider:   provider,
			StatusCode: aErr.StatusCode,
			RetryAfter: retryAfter(aErr.Response),
			Err:        err,
		}
	}
	var oErr *openai.Error
	if errors.As(err, &oErr) {
		return &APIError{
			Provider:   provider,
			StatusCode: oErr.StatusCode,
			RetryAfter: retryAfter(oErr.Response),
			Err:        err,
		}
	}
	return fmt.Errorf("%s request failed: %w", provider, err)
}

func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	return parseRetryAfter(resp.Header.Get("Retry-After"))
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
