package common

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound           = errors.New("requested resource not found")
	ErrUnauthorized       = errors.New("unauthorized access")
	ErrForbidden          = errors.New("forbidden access")
	ErrBadRequest         = errors.New("bad request")
	ErrConflict           = errors.New("resource conflict")
	ErrValidation         = errors.New("validation failed")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrUnprocessable      = errors.New("unprocessable request")
)

// Rejection codes surfaced to callers.
const (
	CodePipelineDisabled       = "PIPELINE_DISABLED"
	CodeSubjectNotFound        = "SUBJECT_NOT_FOUND"
	CodeActiveJobConflict      = "ACTIVE_JOB_CONFLICT"
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeNonRetryable           = "NON_RETRYABLE_ERROR"
	CodeNotFound               = "NOT_FOUND"
	CodeValidation             = "VALIDATION_ERROR"
)

var (
	ErrPipelineDisabled       = errors.New(CodePipelineDisabled)
	ErrSubjectNotFound        = errors.New(CodeSubjectNotFound)
	ErrActiveJobConflict      = errors.New(CodeActiveJobConflict)
	ErrInvalidStateTransition = errors.New(CodeInvalidStateTransition)
	ErrNonRetryable           = errors.New(CodeNonRetryable)
)

// RejectionError is a guard failure returned by the orchestrator. It is never a crash.
type RejectionError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *RejectionError) Error() string {
	return e.Code + ": " + e.Message
}

// Is matches both the code sentinel and the broader class sentinel.
func (e *RejectionError) Is(target error) bool {
	switch e.Code {
	case CodePipelineDisabled:
		return target == ErrPipelineDisabled || target == ErrServiceUnavailable
	case CodeSubjectNotFound:
		return target == ErrSubjectNotFound || target == ErrNotFound
	case CodeActiveJobConflict:
		return target == ErrActiveJobConflict || target == ErrConflict
	case CodeInvalidStateTransition:
		return target == ErrInvalidStateTransition || target == ErrConflict
	case CodeNonRetryable:
		return target == ErrNonRetryable || target == ErrUnprocessable
	case CodeNotFound:
		return target == ErrNotFound
	case CodeValidation:
		return target == ErrValidation
	}
	return false
}

func NewPipelineDisabled() *RejectionError {
	return &RejectionError{Code: CodePipelineDisabled, Message: "video pipeline is disabled"}
}

func NewSubjectNotFound(subjectID string) *RejectionError {
	return &RejectionError{
		Code:    CodeSubjectNotFound,
		Message: fmt.Sprintf("subject %q not found", subjectID),
		Details: map[string]any{"subject_id": subjectID},
	}
}

func NewActiveJobConflict(subjectID, conflictingID string) *RejectionError {
	return &RejectionError{
		Code:    CodeActiveJobConflict,
		Message: fmt.Sprintf("subject %q already has an active execution %s", subjectID, conflictingID),
		Details: map[string]any{"subject_id": subjectID, "conflicting_id": conflictingID},
	}
}

func NewInvalidStateTransition(executionID, expected, actual string) *RejectionError {
	return &RejectionError{
		Code:    CodeInvalidStateTransition,
		Message: fmt.Sprintf("execution %s is %s, expected %s", executionID, actual, expected),
		Details: map[string]any{"execution_id": executionID, "expected_status": expected, "actual_status": actual},
	}
}

func NewNonRetryable(executionID, errorCode string) *RejectionError {
	return &RejectionError{
		Code:    CodeNonRetryable,
		Message: fmt.Sprintf("execution %s failed with non-retryable error %s", executionID, errorCode),
		Details: map[string]any{"execution_id": executionID, "error_code": errorCode},
	}
}

func NewNotFound(resource, id string) *RejectionError {
	return &RejectionError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s %s not found", resource, id),
		Details: map[string]any{"id": id},
	}
}

func NewValidation(message string) *RejectionError {
	return &RejectionError{Code: CodeValidation, Message: message}
}

// AsRejection unwraps err into a RejectionError if it carries one.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// IsUniqueViolation reports whether err is a unique constraint failure from Postgres or SQLite.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// HTTPStatusFromError maps domain errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	if errors.Is(err, ErrForbidden) {
		return http.StatusForbidden
	}
	if errors.Is(err, ErrBadRequest) || errors.Is(err, ErrValidation) {
		return http.StatusBadRequest
	}
	if errors.Is(err, ErrConflict) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrUnprocessable) {
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, ErrServiceUnavailable) {
		return http.StatusServiceUnavailable
	}
	if IsUniqueViolation(err) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
