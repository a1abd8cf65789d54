// Package shared contains common domain types and errors used across all
// domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Request errors
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidArgument = errors.New("invalid argument")

	// State errors. Operations that surface "not applicable right now" as a
	// boolean result still use this internally.
	ErrPreconditionFailed = errors.New("precondition failed")

	// Concurrency errors
	ErrSerializationConflict = errors.New("serialization conflict")

	// External service errors
	ErrExternalService = errors.New("external service error")
	ErrUnavailable     = errors.New("service unavailable")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "conversation", "user", "report"
	Op      string // Operation that failed, e.g., "Create", "Join"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// User domain errors
var (
	ErrUserNotFound   = NewDomainError("user", "Find", ErrNotFound, "user not found")
	ErrUserExists     = NewDomainError("user", "Register", ErrAlreadyExists, "user already registered")
	ErrUserDisabled   = NewDomainError("user", "Verify", ErrUnauthenticated, "account is disabled")
	ErrBadCredential  = NewDomainError("user", "Verify", ErrUnauthenticated, "invalid credential")
	ErrTooManyPrimary = NewDomainError("user", "Quota", ErrInvalidArgument, "too many open questions, resolve one to continue")
	ErrTooManyConvos  = NewDomainError("user", "Quota", ErrInvalidArgument, "conversation limit reached")
	ErrBadNotifyToken = NewDomainError("user", "SetToken", ErrInvalidArgument, "not a valid push token")
)

// Conversation domain errors
var (
	ErrConversationNotFound = NewDomainError("conversation", "Find", ErrNotFound, "conversation not found")
	ErrQuestionTooLong      = NewDomainError("conversation", "Create", ErrInvalidArgument, "your question can't be more than 200 characters long")
	ErrNotOwner             = NewDomainError("conversation", "Authorize", ErrPreconditionFailed, "only the owner may do this")
	ErrNotParticipant       = NewDomainError("conversation", "Authorize", ErrPreconditionFailed, "not a participant of this conversation")
	ErrNotPending           = NewDomainError("conversation", "Join", ErrPreconditionFailed, "conversation is not awaiting a participant")
	ErrRejoinForbidden      = NewDomainError("conversation", "Join", ErrPreconditionFailed, "cannot rejoin a conversation you left")
)

// Moderation errors
var (
	ErrTextRejected        = NewDomainError("moderation", "Clean", ErrInvalidArgument, "text rejected by moderation")
	ErrUnsupportedLanguage = NewDomainError("moderation", "Assess", ErrInvalidArgument, "language not supported by moderation")
)

// IsNotFound checks if the error means the entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnauthenticated checks if the error means the caller failed verification.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// IsInvalidArgument checks if the error is user-correctable.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsPreconditionFailed checks if the operation was not applicable.
func IsPreconditionFailed(err error) bool {
	return errors.Is(err, ErrPreconditionFailed)
}

// IsRetryable checks if the operation can be retried transparently.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSerializationConflict) || errors.Is(err, ErrUnavailable)
}
