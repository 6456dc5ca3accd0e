package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Aquilesorei/strutex/pkg/llm"
)

// Kind classifies a backend failure for retry and fallback decisions.
type Kind string

const (
	KindTransient   Kind = "transient"   // timeouts, rate limits, connection failures, 5xx
	KindAuth        Kind = "auth"        // bad or missing credentials
	KindMalformed   Kind = "malformed"   // rejected request or unparseable output
	KindUnsupported Kind = "unsupported" // model or input type not available
	KindPermanent   Kind = "permanent"
)

// ErrMalformedOutput is returned when a backend's output is not a JSON object.
var ErrMalformedOutput = errors.New("backend output is not a JSON object")

// Error is a classified backend failure. Only transient errors are retried;
// every kind moves the chain on to the next backend.
type Error struct {
	Kind       Kind
	Backend    string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend %s: %s (status %d): %v", e.Backend, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *Error) Retryable() bool { return e.Kind == KindTransient }

// IsRetryable reports whether err is, or wraps, a transient *Error.
func IsRetryable(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Retryable()
}

// IsRateLimit reports whether err is a transient failure caused by a 429.
func IsRateLimit(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.StatusCode == http.StatusTooManyRequests
}

// Classify wraps err in an *Error for the named backend. Errors that are
// already classified are returned unchanged; nil stays nil.
func Classify(name string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}

	e := &Error{Kind: KindPermanent, Backend: name, Err: err}

	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		e.RetryAfter = apiErr.RetryAfter
	}
	e.StatusCode = llm.StatusCode(err)

	switch {
	case e.StatusCode != 0:
		e.Kind = kindForStatus(e.StatusCode)
	case errors.Is(err, llm.ErrUnsupportedAttachment):
		e.Kind = KindUnsupported
	case errors.Is(err, ErrMalformedOutput):
		e.Kind = KindMalformed
	case errors.Is(err, context.Canceled):
		e.Kind = KindPermanent
	case errors.Is(err, context.DeadlineExceeded):
		e.Kind = KindTransient
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			e.Kind = KindTransient
		}
	}
	return e
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return KindTransient
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity, code == http.StatusRequestEntityTooLarge:
		return KindMalformed
	case code == http.StatusNotFound:
		return KindUnsupported
	default:
		return KindPermanent
	}
}
