package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes a missing Redis key.
	RedisNotFoundMessage = "redis key not found"
)

// Kind classifies an AppError so callers can pick a recovery policy.
type Kind string

const (
	KindInternal                Kind = "internal"
	KindExternalService         Kind = "external_service"
	KindClassificationAmbiguous Kind = "classification_ambiguous"
	KindToolExecution           Kind = "tool_execution"
	KindRetryExhausted          Kind = "retry_exhausted"
	KindStateCorruption         Kind = "state_corruption"
)

// AppError wraps an underlying error with a kind, an HTTP status and a safe message.
type AppError struct {
	Err     error
	Kind    Kind
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new internal AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Kind:    KindInternal,
		Status:  status,
		Message: message,
	}
}

// NewKind creates an AppError of the given kind.
func NewKind(kind Kind, err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Kind:    kind,
		Status:  status,
		Message: message,
	}
}

// ExternalService marks a failure of an LLM, search engine, vectorstore or store call.
func ExternalService(service string, err error) error {
	if err == nil {
		return nil
	}
	return NewKind(KindExternalService, err, http.StatusBadGateway, service+" unavailable")
}

// ClassificationAmbiguous reports a router output outside the known destinations.
func ClassificationAmbiguous(raw string) error {
	return NewKind(KindClassificationAmbiguous, fmt.Errorf("unknown datasource %q", raw),
		http.StatusUnprocessableEntity, "ambiguous classification")
}

// ToolExecution wraps an error raised while a tool was running.
func ToolExecution(tool string, err error) error {
	if err == nil {
		return nil
	}
	return NewKind(KindToolExecution, err, http.StatusInternalServerError, "tool "+tool+" failed")
}

// RetryExhausted reports a reformulation loop that hit its iteration cap.
func RetryExhausted(subsystem string, attempts int, cause error) error {
	if cause == nil {
		cause = fmt.Errorf("no relevant result after %d attempts", attempts)
	}
	return NewKind(KindRetryExhausted, cause, http.StatusOK, subsystem+" retries exhausted")
}

// StateCorruption reports persisted session state that failed to decode.
func StateCorruption(sessionID string, err error) error {
	return NewKind(KindStateCorruption, err, http.StatusInternalServerError,
		"session "+sessionID+" state is corrupt")
}

// KindOf returns the kind of the first AppError in err's chain.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// UserMessage returns an apologetic, non-technical message for the end user.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindExternalService:
		return "Sorry, one of the services I rely on is not responding right now. Please try again in a moment."
	case KindStateCorruption:
		return "Sorry, I could not restore our previous conversation, so we are starting fresh."
	case KindToolExecution:
		return "Sorry, a tool I tried to use failed while answering your question."
	default:
		return "Sorry, something went wrong while answering your question. Please try again."
	}
}

// Is reports whether the target matches the underlying error or the AppError itself.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}
