package strutex

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoBackends is returned by New without backends or a chain.
var ErrNoBackends = errors.New("strutex: no backends configured")

// Stage names a pipeline step.
type Stage string

const (
	StageInput      Stage = "input"
	StagePreProcess Stage = "pre_process"
	StageSecurity   Stage = "security"
	StageExtract    Stage = "extract_text"
	StageProvider   Stage = "provider"
	StageValidate   Stage = "validate"
	StageVerify     Stage = "verify"
	StagePostCheck  Stage = "output_security"
	StagePost       Stage = "post_process"
)

// StageError records where a request failed. The underlying error stays
// reachable through errors.Is and errors.As.
type StageError struct {
	Stage   Stage
	Backend string
	Elapsed time.Duration
	Err     error
}

func (e *StageError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("%s (backend %s, after %s): %v", e.Stage, e.Backend, e.Elapsed.Round(time.Millisecond), e.Err)
	}
	return fmt.Sprintf("%s (after %s): %v", e.Stage, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// InputError rejects a request before any backend is called.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string { return "invalid input: " + e.Reason }

// StageOf returns the stage err failed in, or "" if it carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
