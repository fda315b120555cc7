package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuthError is returned when a request cannot be tied to an allowed tenant.
// Forbidden distinguishes "known but not allowed" (403) from "not
// authenticated" (401).
type AuthError struct {
	Message   string
	Forbidden bool
}

func (e *AuthError) Error() string { return e.Message }

// ValidationError reports malformed input on an API or service boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConflictError rejects a sync trigger while another operation is live. It
// carries the live operation so callers can report what is in the way.
type ConflictError struct {
	OperationID uuid.UUID
	Status      OperationStatus
	Progress    int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sync operation %s already %s (%d%%)", e.OperationID, e.Status, e.Progress)
}

// ScannerError wraps a filesystem failure for a single path.
type ScannerError struct {
	Path string
	Err  error
}

func (e *ScannerError) Error() string { return fmt.Sprintf("scan %s: %v", e.Path, e.Err) }
func (e *ScannerError) Unwrap() error { return e.Err }

// ExtractionError wraps a text extraction failure for a single file.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string { return fmt.Sprintf("extract %s: %v", e.Path, e.Err) }
func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingError wraps a provider failure. Retryable failures may be retried
// with a smaller batch; non-retryable ones (bad request, open breaker) fail
// the file immediately.
type EmbeddingError struct {
	Provider  string
	BatchSize int
	Retryable bool
	Err       error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding provider %s (batch %d): %v", e.Provider, e.BatchSize, e.Err)
}
func (e *EmbeddingError) Unwrap() error { return e.Err }

// PersistenceError wraps a catalog write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persist %s: %v", e.Op, e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// TimeoutError reports an operation that exceeded its deadline.
type TimeoutError struct {
	Op      string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Elapsed)
}

// StuckError marks an operation reset by cleanup because its heartbeat went
// silent or it overran its expected duration.
type StuckError struct {
	OperationID uuid.UUID
	Reason      string
}

func (e *StuckError) Error() string {
	return fmt.Sprintf("sync operation %s stuck: %s", e.OperationID, e.Reason)
}

// IsRetryable reports whether err is an embedding failure worth retrying.
func IsRetryable(err error) bool {
	var ee *EmbeddingError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}

// IsConflict reports whether err is a sync admission conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is a missing-entity error.
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
