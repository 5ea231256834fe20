// Package qerror defines the typed error taxonomy shared by the query
// pipeline. Every terminal failure a caller can observe is one of the
// kinds below; execution and internal failures are sanitized so engine
// details never reach the analyst.
package qerror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	KindCompliance Kind = iota // pre-parse policy gate rejected the text
	KindSyntax                 // lexer/parser rejected the text
	KindValidation             // label or epsilon rules violated (may accumulate)
	KindBudget                 // insufficient remaining epsilon
	KindExecution              // underlying engine failed (sanitized)
	KindInternal               // catch-all (sanitized)
)

// String returns the audit-log identifier for the kind.
func (k Kind) String() string {
	switch k {
	case KindCompliance:
		return "COMPLIANCE_VIOLATION"
	case KindSyntax:
		return "SYNTAX_ERROR"
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindBudget:
		return "BUDGET_EXCEEDED"
	case KindExecution:
		return "EXECUTION_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus maps the kind to the status code reported on the HTTP
// surface.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindCompliance:
		return http.StatusForbidden
	case KindSyntax, KindValidation:
		return http.StatusBadRequest
	case KindBudget:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// SQLState maps the kind to the SQLSTATE code reported on the wire
// protocol surface.
func (k Kind) SQLState() string {
	switch k {
	case KindCompliance:
		return "42501"
	case KindSyntax:
		return "42601"
	case KindValidation:
		return "22023"
	case KindBudget:
		return "53400"
	case KindExecution:
		return "58000"
	default:
		return "XX000"
	}
}

// Error is the pipeline error type. Message is always safe to show a
// caller. Details carries accumulated validation messages or the
// internal detail of a standardized message; it is surfaced for
// validation errors and kept log-only otherwise. cause, when set, is
// reachable via errors.Unwrap for internal logging but never printed
// by Error.
type Error struct {
	Kind    Kind
	Message string
	Details []string

	cause error
}

func (e *Error) Error() string {
	if e.Kind == KindValidation && len(e.Details) > 0 {
		return strings.Join(e.Details, "; ")
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Compliance reports a policy-gate rejection with the given reason.
func Compliance(reason string) *Error {
	return &Error{Kind: KindCompliance, Message: "Compliance violation: " + reason}
}

// Syntax reports a parse failure. The caller-visible message is the
// standardized uppercase-keyword guidance; detail is preserved for
// internal logs.
func Syntax(detail string) *Error {
	return &Error{
		Kind:    KindSyntax,
		Message: "Syntax error: keywords must be UPPERCASE (SELECT, FROM, PRIVATE, PUBLIC, etc.)",
		Details: []string{detail},
	}
}

// Validation reports one or more accumulated validation failures.
func Validation(details []string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Details: details}
}

// Budget reports an unaffordable query.
func Budget(need, remaining float64) *Error {
	return &Error{
		Kind:    KindBudget,
		Message: fmt.Sprintf("privacy budget exhausted: need ε=%.2f, have ε=%.2f", need, remaining),
	}
}

// Execution wraps an engine failure behind a fixed message.
func Execution(cause error) *Error {
	return &Error{
		Kind:    KindExecution,
		Message: "Database error: query execution failed",
		cause:   cause,
	}
}

// Internal wraps an unexpected failure behind a fixed message.
func Internal(cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		Message: "Internal error: query processing failed",
		cause:   cause,
	}
}

// From returns err's *Error, wrapping unclassified errors as internal
// so callers never leak raw error text.
func From(err error) *Error {
	var qe *Error
	if errors.As(err, &qe) {
		return qe
	}
	return Internal(err)
}
