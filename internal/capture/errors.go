// SPDX-License-Identifier: MIT
package capture

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrZeroRead marks a transient read that produced no samples.
	ErrZeroRead = errors.New("zero-length read")
	// ErrDeviceDisconnected marks a fatal dead-object style device failure.
	ErrDeviceDisconnected = errors.New("capture device disconnected")
	// ErrDeviceNotInitialized is recorded for a candidate whose open call
	// succeeded but whose device never reached the initialized state.
	ErrDeviceNotInitialized = errors.New("capture device not initialized")
	// ErrCandidateTimeout is recorded for a candidate whose open call exceeded
	// the per-candidate budget.
	ErrCandidateTimeout = errors.New("capture candidate timed out")

	ErrInvalidState = errors.New("invalid connection state")
	ErrClosed       = errors.New("connection closed")
	ErrNotReady     = errors.New("connection not initialized")
)

// Attempt records one candidate tried by the probe and why it failed.
type Attempt struct {
	Candidate Candidate
	Err       error
}

// ProbeFailure is returned when no candidate produced a usable device. Attempts
// lists every candidate that was tried, in order, exactly once.
type ProbeFailure struct {
	Attempts []Attempt
	// Cause is set when probing was cut short by the caller's context.
	Cause error
}

func (f *ProbeFailure) Error() string {
	var b strings.Builder
	b.WriteString("no compatible capture configuration")
	if f.Cause != nil {
		fmt.Fprintf(&b, " (%v)", f.Cause)
	}
	for i, a := range f.Attempts {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %v", a.Candidate, a.Err)
	}
	return b.String()
}

// Unwrap exposes the cause and each per-candidate error to errors.Is/As.
func (f *ProbeFailure) Unwrap() []error {
	errs := make([]error, 0, len(f.Attempts)+1)
	if f.Cause != nil {
		errs = append(errs, f.Cause)
	}
	for _, a := range f.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// ConfigError reports an invalid configuration. It is never retried.
type ConfigError struct {
	Fields []string
	Err    error
}

func (e *ConfigError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration (%s): %v", strings.Join(e.Fields, ", "), e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ResampleError is returned by StreamingBuffer.Push when a chunk could not be
// converted to the consumer rate. The buffer is left untouched.
type ResampleError struct {
	FromRate int
	ToRate   int
	Err      error
}

func (e *ResampleError) Error() string {
	return fmt.Sprintf("resample %d Hz -> %d Hz: %v", e.FromRate, e.ToRate, e.Err)
}

func (e *ResampleError) Unwrap() error { return e.Err }
