// Package errors provides the error handling system for the chatclean
// extraction pipeline. It defines structured error types that carry the
// conversation being processed, integrated logging with Uber's zap logger,
// and the taxonomy used by the orchestrator to decide whether a failure is
// local to one chunk, fatal for one conversation, or fatal for the run.
//
// Basic usage:
//
//	err := errors.NewExtractionError("room_42", "model output unparseable", parseErr)
//
// Errors can be matched by type:
//
//	if errors.IsType(err, errors.BackendError) { ... }
package errors

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// DefaultLogger is the default zap logger instance used throughout the package.
// It is initialized to a production configuration but can be overridden using SetLogger.
var DefaultLogger *zap.Logger

func init() {
	var err error
	DefaultLogger, err = zap.NewProduction()
	if err != nil {
		DefaultLogger = zap.NewNop()
	}
}

// SetLogger allows setting a custom zap logger instance.
// If nil is provided, the function will do nothing to prevent
// accidentally disabling logging.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		DefaultLogger = logger
	}
}

// ErrorType represents different categories of errors that can occur in the
// pipeline. Each type maps to one branch of the error taxonomy: recoverable
// and local, per-conversation fatal, or run fatal.
type ErrorType string

const (
	// ConfigError represents configuration loading or validation failures.
	// These are run fatal: nothing can be processed without valid config.
	ConfigError ErrorType = "config_error"

	// BackendError represents failures reaching or invoking the completion
	// capability. At startup these are run fatal; mid-run they fail the
	// current conversation only.
	BackendError ErrorType = "backend_error"

	// ExtractionError represents structured-extraction failures that
	// survived all repair stages. Local to a single chunk.
	ExtractionError ErrorType = "extraction_error"

	// CacheError represents cache read/write failures. Reads are always
	// treated as misses; writes surface this type.
	CacheError ErrorType = "cache_error"

	// SegmentationError represents conversation segmentation failures.
	// Always recovered by the single-conversation fallback.
	SegmentationError ErrorType = "segmentation_error"

	// ConversationError represents any unhandled failure while processing
	// one conversation. The run continues with the next conversation.
	ConversationError ErrorType = "conversation_error"
)

// PipelineError is our custom error type that implements the error interface
// and provides additional context about the error. It carries the identifier
// of the conversation being processed so failures can be correlated with
// source rows in logs.
type PipelineError struct {
	// Type categorizes the error for handling decisions
	Type ErrorType `json:"type"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// ConversationID links the error to a specific source conversation.
	// Empty for errors that are not conversation-scoped.
	ConversationID string `json:"conversation_id,omitempty"`

	// Details contains additional error context
	Details map[string]interface{} `json:"details,omitempty"`

	// err is the underlying error (not exposed in JSON)
	err error
}

// Error implements the error interface. It returns a string that
// combines the error type, message, and underlying error (if any).
func (e *PipelineError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error, implementing the unwrap
// interface for error chains.
func (e *PipelineError) Unwrap() error {
	return e.err
}

// Is reports whether target is a PipelineError of the same type,
// implementing the errors.Is contract for type matching.
func (e *PipelineError) Is(target error) bool {
	var pe *PipelineError
	if !errors.As(target, &pe) {
		return false
	}
	return e.Type == pe.Type
}

// IsType reports whether err is (or wraps) a PipelineError of the given type.
func IsType(err error, t ErrorType) bool {
	var pe *PipelineError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Type == t
}

// NewError creates a new PipelineError with the given parameters.
// It is a general-purpose constructor that allows full control over
// the error's fields. For most cases, you should use one of the
// specialized constructors below.
func NewError(errType ErrorType, message, conversationID string, details map[string]interface{}, err error) *PipelineError {
	return &PipelineError{
		Type:           errType,
		Message:        message,
		ConversationID: conversationID,
		Details:        details,
		err:            err,
	}
}

// NewConfigError creates a configuration error. Use this for any failure
// loading, expanding, or validating the pipeline configuration.
func NewConfigError(message string, err error) *PipelineError {
	return &PipelineError{
		Type:    ConfigError,
		Message: message,
		err:     err,
	}
}

// NewBackendError creates a completion-capability error with appropriate
// defaults. Use this when the underlying model runtime or inference server
// cannot be reached or returns a transport-level failure.
func NewBackendError(message string, err error) *PipelineError {
	return &PipelineError{
		Type:    BackendError,
		Message: message,
		err:     err,
	}
}

// NewExtractionError creates an extraction error scoped to a conversation.
// Use this when a chunk's model output remained unparseable after every
// repair stage.
func NewExtractionError(conversationID, message string, err error) *PipelineError {
	return &PipelineError{
		Type:           ExtractionError,
		Message:        message,
		ConversationID: conversationID,
		err:            err,
	}
}

// NewCacheError creates a cache error. Only cache writes surface this type;
// unreadable entries are silently treated as misses.
func NewCacheError(message string, err error) *PipelineError {
	return &PipelineError{
		Type:    CacheError,
		Message: message,
		err:     err,
	}
}

// NewSegmentationError creates a segmentation error. Callers are expected
// to recover from it by treating the whole input as one conversation.
func NewSegmentationError(message string, err error) *PipelineError {
	return &PipelineError{
		Type:    SegmentationError,
		Message: message,
		err:     err,
	}
}

// NewConversationError wraps any failure that aborts processing of a single
// conversation. The orchestrator logs it and continues with the next one.
func NewConversationError(conversationID string, err error) *PipelineError {
	return &PipelineError{
		Type:           ConversationError,
		Message:        "conversation processing failed",
		ConversationID: conversationID,
		err:            err,
	}
}
