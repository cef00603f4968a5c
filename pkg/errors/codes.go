package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies one of the workflow failure kinds.
type Code string

const (
	CodeConfigMissing          Code = "ConfigMissing"
	CodeTableAlreadyExists     Code = "TableAlreadyExists"
	CodeTableNotFound          Code = "TableNotFound"
	CodeSourceLoadFailed       Code = "SourceLoadFailed"
	CodeConcurrentModification Code = "ConcurrentModification"
	CodeAmbiguousMatch         Code = "AmbiguousMatch"
	CodeMergeExecutionFailed   Code = "MergeExecutionFailed"
)

// Sentinels for errors.Is. They carry no details.
var (
	ErrConfigMissing          = &Error{Type: ErrorTypeConfig, Code: CodeConfigMissing, Message: "missing required configuration"}
	ErrTableAlreadyExists     = &Error{Type: ErrorTypeConflict, Code: CodeTableAlreadyExists, Message: "table already exists"}
	ErrTableNotFound          = &Error{Type: ErrorTypeNotFound, Code: CodeTableNotFound, Message: "table not found"}
	ErrSourceLoadFailed       = &Error{Type: ErrorTypeFile, Code: CodeSourceLoadFailed, Message: "source load failed"}
	ErrConcurrentModification = &Error{Type: ErrorTypeConflict, Code: CodeConcurrentModification, Message: "concurrent modification"}
	ErrAmbiguousMatch         = &Error{Type: ErrorTypeData, Code: CodeAmbiguousMatch, Message: "ambiguous match"}
	ErrMergeExecutionFailed   = &Error{Type: ErrorTypeQuery, Code: CodeMergeExecutionFailed, Message: "merge execution failed"}
)

// ConfigMissing reports every required configuration key that was absent or
// empty.
func ConfigMissing(keys ...string) *Error {
	e := &Error{
		Type:    ErrorTypeConfig,
		Code:    CodeConfigMissing,
		Message: fmt.Sprintf("missing required configuration: %s", strings.Join(keys, ", ")),
		Stack:   captureStack(2),
	}
	return e.WithDetail("keys", keys)
}

// TableAlreadyExists reports a create against an occupied location.
func TableAlreadyExists(location string) *Error {
	e := &Error{
		Type:    ErrorTypeConflict,
		Code:    CodeTableAlreadyExists,
		Message: fmt.Sprintf("a table already exists at %s", location),
		Stack:   captureStack(2),
	}
	return e.WithDetail("location", location)
}

// TableNotFound reports an open against a location with no committed version.
func TableNotFound(location string) *Error {
	e := &Error{
		Type:    ErrorTypeNotFound,
		Code:    CodeTableNotFound,
		Message: fmt.Sprintf("no committed table version at %s", location),
		Stack:   captureStack(2),
	}
	return e.WithDetail("location", location)
}

// SourceLoadFailed reports a dataset that could not be read.
func SourceLoadFailed(path string, cause error) *Error {
	e := &Error{
		Type:    ErrorTypeFile,
		Code:    CodeSourceLoadFailed,
		Message: fmt.Sprintf("failed to load source %s", path),
		Cause:   cause,
		Stack:   captureStack(2),
	}
	return e.WithDetail("path", path)
}

// ConcurrentModification reports a commit computed against expected that
// lost the race to a commit that made actual the latest version.
func ConcurrentModification(location string, expected, actual int64) *Error {
	e := &Error{
		Type:    ErrorTypeConflict,
		Code:    CodeConcurrentModification,
		Message: fmt.Sprintf("table %s moved from version %d to %d while the commit was prepared", location, expected, actual),
		Stack:   captureStack(2),
	}
	return e.WithDetail("location", location).
		WithDetail("expected_version", expected).
		WithDetail("actual_version", actual)
}

// AmbiguousMatch reports a merge key matched by more than one row.
func AmbiguousMatch(key string) *Error {
	e := &Error{
		Type:    ErrorTypeData,
		Code:    CodeAmbiguousMatch,
		Message: fmt.Sprintf("merge key %q is matched by more than one row", key),
		Stack:   captureStack(2),
	}
	return e.WithDetail("key", key)
}

// MergeExecutionFailed wraps any other failure while planning or executing
// a merge.
func MergeExecutionFailed(cause error) *Error {
	return &Error{
		Type:    ErrorTypeQuery,
		Code:    CodeMergeExecutionFailed,
		Message: "merge execution failed",
		Cause:   cause,
		Stack:   captureStack(2),
	}
}

// MergeExecutionFailedf is MergeExecutionFailed with a formatted cause.
func MergeExecutionFailedf(format string, args ...interface{}) *Error {
	return &Error{
		Type:    ErrorTypeQuery,
		Code:    CodeMergeExecutionFailed,
		Message: "merge execution failed",
		Cause:   fmt.Errorf(format, args...),
		Stack:   captureStack(2),
	}
}

// CodeOf returns the Code of the outermost coded *Error in err's chain.
func CodeOf(err error) Code {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Code != "" {
			return e.Code
		}
		err = e.Cause
	}
	return ""
}
