// Package apperrors defines the typed failures returned by the plan catalog
// and the subscription lifecycle so transports can tell them apart.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for transport mapping
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindConflict        Kind = "conflict"
	KindInvalidArgument Kind = "invalid_argument"
	KindPersistence     Kind = "persistence_error"
)

// Code identifies the specific failure within a Kind
type Code string

const (
	CodePlanNotFound           Code = "PlanNotFound"
	CodePlanInactive           Code = "PlanInactive"
	CodeDuplicatePlan          Code = "DuplicatePlan"
	CodePlanInUse              Code = "PlanInUse"
	CodeInvalidUpgradeTarget   Code = "InvalidUpgradeTarget"
	CodeInvalidDowngradeTarget Code = "InvalidDowngradeTarget"
	CodeAlreadyCancelled       Code = "AlreadyCancelled"
	CodeNoActiveSubscription   Code = "NoActiveSubscription"
	CodeSubscriptionNotFound   Code = "SubscriptionNotFound"
	CodeDuplicateSubscription  Code = "DuplicateSubscription"
	CodeInvalidTransition      Code = "InvalidTransition"
	CodeTransactionNotFound    Code = "TransactionNotFound"
	CodeOrganizationNotFound   Code = "OrganizationNotFound"
	CodeNotMember              Code = "NotMember"
	CodeNotPartyOwner          Code = "NotPartyOwner"
	CodeInsufficientRole       Code = "InsufficientRole"
	CodeBillingAddressRequired Code = "BillingAddressRequired"
	CodeInvalidInput           Code = "InvalidInput"
	CodePersistence            Code = "PersistenceError"
)

// Error is a classified application failure
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Code, so sentinel comparisons work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates an Error
func New(kind Kind, code Code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func NotFound(code Code, format string, args ...interface{}) *Error {
	return New(KindNotFound, code, format, args...)
}

func Forbidden(code Code, format string, args ...interface{}) *Error {
	return New(KindForbidden, code, format, args...)
}

func Conflict(code Code, format string, args ...interface{}) *Error {
	return New(KindConflict, code, format, args...)
}

func InvalidArgument(code Code, format string, args ...interface{}) *Error {
	return New(KindInvalidArgument, code, format, args...)
}

// Persistence wraps a store failure. Errors that are already classified pass through.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	return &Error{
		Kind:    KindPersistence,
		Code:    CodePersistence,
		Message: fmt.Sprintf("failed to %s", op),
		Err:     err,
	}
}

// KindOf returns the Kind of err, or KindPersistence for unclassified errors
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindPersistence
}

// CodeOf returns the Code of err, or empty when err is not classified
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether err carries the given code
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
