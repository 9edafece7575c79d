package failure

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation         Kind = "validation"
	KindConnection         Kind = "connection"
	KindNoTablesFound      Kind = "no_tables_found"
	KindEngineUnavailable  Kind = "engine_unavailable"
	KindTransientEngine    Kind = "transient_engine"
	KindIncompatibleOutput Kind = "incompatible_output"
	KindInternal           Kind = "internal"
)

// Error carries a closed failure kind through wrapping layers. Message is
// the user-facing text; Err keeps the underlying cause for logs.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	if msg == "" {
		return e.Op
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op, message string) *Error {
	return New(KindValidation, op, message)
}

// KindOf resolves the failure kind of err. Untyped deadline errors count as
// connection failures; everything else untyped is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindConnection
	}
	return KindInternal
}

func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) && typed.Message != "" {
		return typed.Message
	}
	return err.Error()
}
