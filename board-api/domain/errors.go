package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so transports can pick a status code.
type Kind int

const (
	KindUnexpected Kind = iota
	KindNotFound
	KindForbidden
	KindValidation
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	default:
		return "unexpected"
	}
}

// CodeWIPExceeded is the conflict code carried by WIP violations.
const CodeWIPExceeded = "WIP_EXCEEDED"

// Error is the failure type returned by the Orchestrator.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error of the same kind and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

var (
	ErrProjectNotFound = &Error{Kind: KindNotFound, Code: "PROJECT_NOT_FOUND", Message: "Project not found"}
	ErrTaskNotFound    = &Error{Kind: KindNotFound, Code: "TASK_NOT_FOUND", Message: "Task not found"}
	ErrMemberNotFound  = &Error{Kind: KindNotFound, Code: "MEMBER_NOT_FOUND", Message: "Member not found in this project"}
	ErrForbidden       = &Error{Kind: KindForbidden, Code: "FORBIDDEN", Message: "Forbidden"}
)

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Code: "FORBIDDEN", Message: message}
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Code: "VALIDATION", Message: message}
}

// WIPExceeded builds the conflict returned when a move or reorder would break
// a column limit.
func WIPExceeded(details any) *Error {
	return &Error{Kind: KindConflict, Code: CodeWIPExceeded, Message: CodeWIPExceeded, Details: details}
}

// Unexpected wraps a storage or transport failure.
func Unexpected(cause error) *Error {
	var de *Error
	if errors.As(cause, &de) {
		return de
	}
	return &Error{Kind: KindUnexpected, Code: "INTERNAL", Message: "Internal server error", Cause: cause}
}

// KindOf reports the kind of err. Errors outside the taxonomy are unexpected.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnexpected
}
