package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"

	"github.com/roach88/tenantcore/internal/errs"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failure (scenario failed, invalid cursor, migration error)
	ExitCommandError = 2 // Command error (invalid flags or paths, bad config, database unreachable)
)

// ExitError carries the process exit code for a command error.
type ExitError struct {
	Code    int    // ExitFailure or ExitCommandError
	Message string
	Err     error // optional
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as text or as a JSON envelope.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose output; falls back to Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope for command output.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error part of a CLIResponse. Data-layer failures use the
// error taxonomy code (INVALID_CURSOR, NOT_FOUND); command-level failures use
// E_* codes.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success writes data. Text mode prints it with fmt's default format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error writes an error. Details are printed in text mode only when verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail writes a data-layer error under its taxonomy code. The reason, entity
// and id become details; untyped errors are reported as E_INTERNAL.
func (f *OutputFormatter) Fail(err error) error {
	var e *errs.Error
	if !errors.As(err, &e) {
		return f.Error("E_INTERNAL", err.Error(), nil)
	}

	details := make(map[string]string, len(e.Details)+3)
	maps.Copy(details, e.Details)
	for k, v := range map[string]string{"reason": e.Reason, "entity": e.Entity, "id": e.ID} {
		if v != "" {
			details[k] = v
		}
	}
	if len(details) == 0 {
		return f.Error(string(e.Code), err.Error(), nil)
	}
	return f.Error(string(e.Code), err.Error(), details)
}

// VerboseLog writes a line to ErrWriter when verbose mode is on, so JSON
// output on Writer stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
