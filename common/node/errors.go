package node

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a node failure for routing and reporting.
type Kind string

const (
	KindValidation  Kind = "ValidationError"
	KindDependency  Kind = "DependencyError"
	KindSecurity    Kind = "SecurityError"
	KindRateLimited Kind = "RateLimited"
	KindTimeout     Kind = "Timeout"
	KindCancelled   Kind = "Cancelled"
	KindInternal    Kind = "InternalError"
)

// maxSummaryLen caps the user-visible failure message; the full text stays in
// the execution log.
const maxSummaryLen = 240

// Error is a classified node failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Summary returns the first line of the message truncated for user display.
func (e *Error) Summary() string {
	msg := e.Message
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	if len(msg) > maxSummaryLen {
		msg = msg[:maxSummaryLen]
	}
	return msg
}

// Errf builds a classified error.
func Errf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapErr classifies an underlying error, keeping it for unwrapping.
func WrapErr(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: err}
}

// KindOf classifies an arbitrary error. Context cancellation and deadline
// errors map to their kinds; unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

// AsError coerces any error into a classified Error.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ne *Error
	if errors.As(err, &ne) {
		return ne
	}
	return &Error{Kind: KindOf(err), Message: err.Error(), Cause: err}
}
