// Package shared holds the error vocabulary and value objects every domain
// package speaks. It imports nothing outside the standard library.
package shared

import (
	"errors"
	"fmt"
)

// Kinds. Callers match on these with errors.Is; the concrete errors below
// wrap one of them.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	ErrValidation      = errors.New("validation error")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	ErrUnauthorized = errors.New("unauthorized")

	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
	// ErrDisabled: the collaborator has no credentials, so the bot runs
	// without it.
	ErrDisabled = errors.New("collaborator disabled")
)

// DomainError says where a failure happened (Domain.Op), what kind it is and,
// optionally, what caused it. Both Kind and Err are visible to errors.Is and
// errors.As.
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	msg := e.Domain + "." + e.Op + ": " + e.Message
	if e.Err == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *DomainError) Unwrap() []error {
	out := make([]error, 0, 2)
	for _, err := range [...]error{e.Kind, e.Err} {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError is NewDomainError with a cause attached.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

var (
	ErrStudentNotFound        = NewDomainError("student", "Get", ErrNotFound, "student not found")
	ErrInvalidPhone           = NewDomainError("student", "Validate", ErrInvalidInput, "invalid phone identity")
	ErrInvalidStageTransition = NewDomainError("student", "Advance", ErrStateTransition, "stage cannot move backwards")
	ErrInvalidGrant           = NewDomainError("student", "Grant", ErrValueOutOfRange, "grant days must be positive")

	ErrCurriculumInvalid = NewDomainError("curriculum", "Parse", ErrInvalidFormat, "curriculum document is invalid")
	ErrUnknownLanguage   = NewDomainError("curriculum", "Lookup", ErrInvalidInput, "unsupported target language")

	ErrGatewayUnavailable = NewDomainError("gateway", "Send", ErrServiceUnavailable, "messaging gateway is unavailable")
	ErrGatewayRejected    = NewDomainError("gateway", "Send", ErrExternalService, "messaging gateway rejected the request")
	ErrGatewayDisabled    = NewDomainError("gateway", "Send", ErrDisabled, "messaging gateway is not configured")
	ErrCompletionDisabled = NewDomainError("openai", "Complete", ErrDisabled, "completion is not configured")
	ErrSpeechDisabled     = NewDomainError("openai", "Synthesize", ErrDisabled, "speech synthesis is not configured")
	ErrEmptyCompletion    = NewDomainError("openai", "Complete", ErrExternalService, "completion returned no choices")
)

func isAny(err error, kinds ...error) bool {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return true
		}
	}
	return false
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsDisabled(err error) bool { return errors.Is(err, ErrDisabled) }

// IsValidation covers every kind that maps to a 400.
func IsValidation(err error) bool {
	return isAny(err, ErrValidation, ErrInvalidInput, ErrEmptyValue, ErrValueOutOfRange, ErrInvalidFormat)
}

// IsExternalService reports a failure outside this process (gateway, OpenAI,
// Postgres, Redis).
func IsExternalService(err error) bool {
	return isAny(err, ErrExternalService, ErrServiceUnavailable, ErrTimeout, ErrRateLimited)
}

// IsRetryable reports transient external failures. A rejected request
// (ErrExternalService alone) is not retryable.
func IsRetryable(err error) bool {
	return isAny(err, ErrServiceUnavailable, ErrTimeout, ErrRateLimited)
}
