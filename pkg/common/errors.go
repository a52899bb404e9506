package common

import (
	"errors"
	"fmt"
)

// Process exit codes, one per failure class.
const (
	ExitOK               = 0
	ExitBadArguments     = 1
	ExitBadKernelID      = 2
	ExitEvenKernel       = 3
	ExitBadExtension     = 4
	ExitUnsupportedDepth = 5
	ExitEnvironment      = 6
	ExitPartition        = 7
	ExitRunFailure       = 8
)

// MinMaxValue is the smallest maxValue accepted from an image source.
const MinMaxValue = 255

// ConfigurationError is detected before any distributed work starts.
type ConfigurationError struct {
	Code int
	Msg  string
	Err  error
}

func (e *ConfigurationError) Error() string { return e.Msg }

func (e *ConfigurationError) Unwrap() error { return e.Err }

func Configf(code int, format string, args ...any) error {
	return &ConfigurationError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// UnsupportedFormatError rejects images whose sample range is below 16 bits.
type UnsupportedFormatError struct {
	MaxValue int
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("8bit pictures not supported (maxval %d < %d)", e.MaxValue, MinMaxValue)
}

// EnvironmentError means the execution environment cannot support the run.
type EnvironmentError struct {
	Msg string
	Err error
}

func (e *EnvironmentError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *EnvironmentError) Unwrap() error { return e.Err }

// ExitCode maps an error to the process exit code of its class.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cfg *ConfigurationError
	if errors.As(err, &cfg) {
		return cfg.Code
	}
	var unsupported *UnsupportedFormatError
	if errors.As(err, &unsupported) {
		return ExitUnsupportedDepth
	}
	var env *EnvironmentError
	if errors.As(err, &env) {
		return ExitEnvironment
	}
	return ExitRunFailure
}

// CheckMaxValue rejects sources that are not at least 8-bit full range.
func CheckMaxValue(maxValue int) error {
	if maxValue < MinMaxValue {
		return &UnsupportedFormatError{MaxValue: maxValue}
	}
	return nil
}

// AbortFor turns a local failure into the message broadcast to the other ranks.
func AbortFor(err error) *Abort {
	a := &Abort{Code: ExitCode(err), Message: err.Error()}
	var unsupported *UnsupportedFormatError
	if errors.As(err, &unsupported) {
		a.MaxValue = unsupported.MaxValue
	}
	return a
}

// Err rebuilds the typed error carried by an Abort so every rank exits alike.
func (a *Abort) Err() error {
	switch a.Code {
	case ExitUnsupportedDepth:
		return fmt.Errorf("coordinator aborted: %w", &UnsupportedFormatError{MaxValue: a.MaxValue})
	case ExitEnvironment:
		return &EnvironmentError{Msg: "coordinator aborted: " + a.Message}
	case ExitRunFailure:
		return fmt.Errorf("coordinator aborted: %s", a.Message)
	}
	return &ConfigurationError{Code: a.Code, Msg: "coordinator aborted: " + a.Message}
}
