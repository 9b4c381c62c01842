// Package apperror defines a centralized system for application-specific errors.
// Every component boundary in the service (auth protocol, order lifecycle,
// persistence gateway, ledger client) returns one of the typed errors declared
// here instead of signalling expected failures with panics or ad-hoc error
// strings. This is conceptually similar to Nest.js's Exception Filters: the HTTP
// layer can inspect the error kind and produce a consistent response without
// knowing which service raised it.
package apperror

import (
	"errors"
	"fmt"
	// `net/http` is used for HTTP status codes.
	"net/http"
)

// ErrorType is an enumeration (using `iota`) for different categories of application errors.
type ErrorType int

const (
	// UnknownError is for unspecified errors
	UnknownError ErrorType = iota
	// DatabaseError represents a non-retryable error originating from the database
	DatabaseError
	// TransientStoreError represents a retryable persistence failure. It only
	// ever reaches a caller after the retry budget is exhausted; before that the
	// persistence gateway keeps it internal.
	TransientStoreError
	// ConfigError represents an error related to application configuration
	ConfigError
	// AuthError represents an authentication failure: a bad or replayed nonce, a
	// signature that does not verify, a missing or expired session token.
	AuthError
	// UnauthorizedError represents an authorization failure: the caller is
	// authenticated but not permitted to touch the resource (e.g. cancelling
	// somebody else's order, or a non-operator sealing a timeslot).
	UnauthorizedError
	// NotFoundError represents a resource not found error
	NotFoundError
	// ValidationError represents an input validation error
	ValidationError
	// BadRequestError represents a generic bad request
	BadRequestError
	// InternalError represents a generic internal server error
	InternalError
	// BlockchainError represents a failure talking to the distributed ledger:
	// the RPC endpoint is unreachable or it rejected a submitted transaction.
	BlockchainError
	// MigrationError represents an error during database migrations
	MigrationError
	// ConflictError represents a conflict, e.g., resource already exists
	ConflictError
	// StateConflictError represents an illegal lifecycle transition: the entity
	// exists and the caller may touch it, but the requested move is not legal
	// from its current state (e.g. cancelling a MATCHED order, settling an OPEN
	// timeslot). Kept distinct from ConflictError so tests and callers can tell
	// "already exists" apart from "wrong state".
	StateConflictError
)

// AppError is the application's error type. It satisfies the standard `error`
// interface and can wrap an underlying error (`Err`) for debugging; only the
// user-facing `Message` ever leaves the process in a response body.
type AppError struct {
	Type    ErrorType
	Message string
	Err     error // Underlying error
}

// Error returns the string representation of the error, satisfying the `error` interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error. This is part of Go's error wrapping
// convention (Go 1.13+), allowing `errors.Is` and `errors.As` to inspect the
// chain of wrapped errors.
func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status code appropriate for the error type
func (e *AppError) StatusCode() int {
	switch e.Type {
	case DatabaseError:
		return http.StatusInternalServerError
	case TransientStoreError:
		// The store was unavailable for the whole retry window; the client may
		// usefully try again later, which is exactly what 503 communicates.
		return http.StatusServiceUnavailable
	case ConfigError:
		return http.StatusInternalServerError
	case AuthError:
		// HTTP 401 Unauthorized is for authentication issues (no/invalid credential).
		return http.StatusUnauthorized
	case UnauthorizedError:
		// HTTP 403 Forbidden is for authorization issues (valid credential, but
		// no permission on the target resource).
		return http.StatusForbidden
	case NotFoundError:
		return http.StatusNotFound
	case ValidationError:
		return http.StatusBadRequest
	case BadRequestError:
		return http.StatusBadRequest
	case InternalError:
		return http.StatusInternalServerError
	case BlockchainError:
		return http.StatusBadGateway
	case MigrationError:
		return http.StatusInternalServerError
	case ConflictError, StateConflictError:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// NewAppError creates a new AppError. This is the generic factory; the typed
// constructors below are preferred at call sites for readability.
func NewAppError(errType ErrorType, message string, underlyingError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     underlyingError,
	}
}

// Constructor functions for specific error types
// These provide a more readable and type-safe way to create common `AppError` types.

// NewDatabaseError creates a new DatabaseError
func NewDatabaseError(message string, underlyingError error) *AppError {
	return NewAppError(DatabaseError, message, underlyingError)
}

// NewTransientStoreError creates a new TransientStoreError
func NewTransientStoreError(message string, underlyingError error) *AppError {
	return NewAppError(TransientStoreError, message, underlyingError)
}

// NewConfigError creates a new ConfigError
func NewConfigError(message string, underlyingError error) *AppError {
	return NewAppError(ConfigError, message, underlyingError)
}

// NewAuthError creates a new AuthError (for authentication issues)
func NewAuthError(message string, underlyingError error) *AppError {
	return NewAppError(AuthError, message, underlyingError)
}

// NewUnauthorizedError creates a new UnauthorizedError (for authorization issues)
func NewUnauthorizedError(message string, underlyingError error) *AppError {
	return NewAppError(UnauthorizedError, message, underlyingError)
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(message string, underlyingError error) *AppError {
	return NewAppError(NotFoundError, message, underlyingError)
}

// NewValidationError creates a new ValidationError
func NewValidationError(message string, underlyingError error) *AppError {
	return NewAppError(ValidationError, message, underlyingError)
}

// NewBadRequestError creates a new BadRequestError
func NewBadRequestError(message string, underlyingError error) *AppError {
	return NewAppError(BadRequestError, message, underlyingError)
}

// NewInternalError creates a new InternalError
func NewInternalError(message string, underlyingError error) *AppError {
	return NewAppError(InternalError, message, underlyingError)
}

// NewBlockchainError creates a new BlockchainError
func NewBlockchainError(message string, underlyingError error) *AppError {
	return NewAppError(BlockchainError, message, underlyingError)
}

// NewMigrationError creates a new MigrationError
func NewMigrationError(message string, underlyingError error) *AppError {
	return NewAppError(MigrationError, message, underlyingError)
}

// NewConflictError creates a new ConflictError
func NewConflictError(message string, underlyingError error) *AppError {
	return NewAppError(ConflictError, message, underlyingError)
}

// NewStateConflictError creates a new StateConflictError
func NewStateConflictError(message string, underlyingError error) *AppError {
	return NewAppError(StateConflictError, message, underlyingError)
}

// ErrorResponse represents a generic error response payload for API clients.
type ErrorResponse struct {
	Error string `json:"error" example:"A description of the error"`
}

// ToResponse converts an AppError to an ErrorResponse suitable for API responses.
// Only the user-facing `Message` is included, never the underlying `Err` detail;
// diagnostic context belongs in the operator-facing log.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Message}
}

// FromError attempts to convert a generic error to an *AppError.
// It returns the *AppError and true if successful, otherwise nil and false.
func FromError(err error) (*AppError, bool) {
	if err == nil {
		return nil, false
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Helper predicates. These use `errors.As`, which is more robust than a direct
// type assertion when errors might be wrapped with `%w` along the way.

// IsNotFound checks if an error is a NotFound error
func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == NotFoundError
}

// IsAuthError checks if an error is an AuthError (authentication problem)
func IsAuthError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == AuthError
}

// IsUnauthorizedError checks if an error is an UnauthorizedError (authorization problem)
func IsUnauthorizedError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == UnauthorizedError
}

// IsValidationError checks if an error is a Validation error
func IsValidationError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == ValidationError
}

// IsStateConflict checks if an error is a StateConflict error
func IsStateConflict(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == StateConflictError
}

// IsTransient checks if an error is a TransientStore error
func IsTransient(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == TransientStoreError
}
