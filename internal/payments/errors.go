package payments

import (
	"context"
	"fmt"
	"strings"
)

// Kind classifies a payment failure for the workflow layer. The workflow never
// inspects provider-specific error types; providers translate everything into
// one of these kinds before the error crosses the module boundary.
type Kind string

const (
	// KindValidation means the user can fix the offending field and resubmit.
	KindValidation Kind = "validation"
	// KindDeclined means the provider refused the charge; the fix is a
	// different payment instrument, not a corrected field.
	KindDeclined Kind = "declined"
	// KindTransaction covers configuration, authentication, and network
	// failures with the provider. Operator-facing, not user-fixable.
	KindTransaction Kind = "transaction"
)

// User-visible message codes. The raw provider message is logged, never shown.
const (
	CodePaymentError    = "message.payment.error"
	CodePaymentDeclined = "message.payment.declined"
	CodeCardNumber      = "messages.error.creditcard.number"
	CodeCardDateFormat  = "messages.error.creditcard.dateformat"
	CodeCardCVC         = "messages.error.creditcard.cvc"
	CodeConfigMissing   = "message.payment.configuration"
)

// Error is the classified payment failure crossing the module boundary.
// Message stays generic; Code correlates support lookups; Fields lists the
// offending configuration or form fields for validation errors.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  []string
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "payments: <nil>"
	}
	if len(e.Fields) > 0 {
		return fmt.Sprintf("payments: %s (%s): %s [%s]", e.Kind, e.Code, e.Message, strings.Join(e.Fields, ", "))
	}
	return fmt.Sprintf("payments: %s (%s): %s", e.Kind, e.Code, e.Message)
}

// Unwrap exposes the underlying provider error for logging chains.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// NewValidationError builds a user-fixable classified error.
func NewValidationError(code, message string, fields ...string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message, Fields: fields}
}

// NewDeclinedError builds a hard-decline classified error.
func NewDeclinedError(code, message string) *Error {
	return &Error{Kind: KindDeclined, Code: code, Message: message}
}

// NewTransactionError builds an operator-facing provider failure.
func NewTransactionError(message string, cause error) *Error {
	return &Error{Kind: KindTransaction, Code: CodePaymentError, Message: message, cause: cause}
}

// NewConfigurationError aggregates every missing credential field name into a
// single validation error, never just the first one found.
func NewConfigurationError(module string, missing []string) *Error {
	return &Error{
		Kind:    KindValidation,
		Code:    CodeConfigMissing,
		Message: fmt.Sprintf("%s: missing configuration fields", module),
		Fields:  missing,
	}
}

// classification maps a provider decline code onto the shared taxonomy.
type classification struct {
	Kind Kind
	Code string
}

// declineTable is the per-provider decline-code mapping consumed by classify.
// Each provider supplies its own table so the classification logic itself is
// written once.
type declineTable map[string]classification

// classify translates a provider decline code into a classified error. The raw
// provider message is logged on every branch before the classified error is
// returned; unrecognised codes default to the card-number validation message so
// the user is prompted to retry.
func classify(ctx context.Context, logger Logger, module string, table declineTable, declineCode, rawMessage string, cause error) *Error {
	if logger != nil {
		logger(ctx, "payments.provider_error", map[string]any{
			"module":      module,
			"declineCode": declineCode,
			"message":     rawMessage,
		})
	}
	if mapped, ok := table[declineCode]; ok {
		switch mapped.Kind {
		case KindDeclined:
			return NewDeclinedError(mapped.Code, fmt.Sprintf("%s: payment declined", module))
		case KindTransaction:
			return NewTransactionError(fmt.Sprintf("%s: payment could not be processed", module), cause)
		default:
			return NewValidationError(mapped.Code, fmt.Sprintf("%s: invalid payment details", module))
		}
	}
	return NewValidationError(CodeCardNumber, fmt.Sprintf("%s: invalid payment details", module))
}
