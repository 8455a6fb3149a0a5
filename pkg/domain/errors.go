package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies user-recoverable failures surfaced by the core.
type ErrorCode string

// Error taxonomy. Every code is recoverable by an explicit user retry.
const (
	CodeCredentialsMissing   ErrorCode = "CredentialsMissing"
	CodeAddressFormatInvalid ErrorCode = "AddressFormatInvalid"
	CodeWalletMismatch       ErrorCode = "WalletMismatch"
	CodeWindowClosed         ErrorCode = "WindowClosed"
	CodeProofInvalid         ErrorCode = "ProofInvalid"
	CodeAmountOutOfRange     ErrorCode = "AmountOutOfRange"
	CodeUpdateFailed         ErrorCode = "UpdateFailed"
	CodeSubscribeFailed      ErrorCode = "SubscribeFailed"
	CodeAccessDenied         ErrorCode = "AccessDenied"
	CodeLookupFailed         ErrorCode = "LookupFailed"
)

// Error is the discriminated failure returned by core operations.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so sentinel values below work
// with errors.Is regardless of message or cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// NewError builds an Error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an Error carrying an underlying cause.
func WrapError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the ErrorCode from err, or "" when err is not a domain error.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrCredentialsMissing   = &Error{Code: CodeCredentialsMissing}
	ErrAddressFormatInvalid = &Error{Code: CodeAddressFormatInvalid}
	ErrWalletMismatch       = &Error{Code: CodeWalletMismatch}
	ErrWindowClosed         = &Error{Code: CodeWindowClosed}
	ErrProofInvalid         = &Error{Code: CodeProofInvalid}
	ErrAmountOutOfRange     = &Error{Code: CodeAmountOutOfRange}
	ErrUpdateFailed         = &Error{Code: CodeUpdateFailed}
	ErrSubscribeFailed      = &Error{Code: CodeSubscribeFailed}
	ErrAccessDenied         = &Error{Code: CodeAccessDenied}
	ErrLookupFailed         = &Error{Code: CodeLookupFailed}
)

// ErrAlreadyResolved is the cause carried by UpdateFailed when a conditional
// resolution finds the submission no longer PENDING.
var ErrAlreadyResolved = errors.New("submission already resolved")

// ErrNotFound reports a missing record.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
