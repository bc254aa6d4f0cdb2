package engine

import (
	"errors"
	"fmt"
)

// SyncError is an error detected while running a pass.
//
// Every SyncError is both logged as a sync event (when the ledger is still
// writable) and reported in the pass result.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Message is a human-readable description.
	Message string

	// ObjectID identifies the affected object, if known.
	ObjectID string

	// Err is the underlying cause, if any.
	Err error
}

// SyncErrorCode categorizes sync errors.
type SyncErrorCode string

const (
	// ErrCodeMalformedRecord indicates an input record is missing a required
	// field or carries unusable content. The record is skipped.
	ErrCodeMalformedRecord SyncErrorCode = "MALFORMED_RECORD"

	// ErrCodeLedgerIO indicates the ledger could not be read or written.
	// The pass is aborted.
	ErrCodeLedgerIO SyncErrorCode = "LEDGER_IO_FAILURE"

	// ErrCodeUnresolvedConflict indicates a true conflict under the Manual
	// strategy. The object is excluded until a decision is supplied.
	ErrCodeUnresolvedConflict SyncErrorCode = "UNRESOLVED_CONFLICT"

	// ErrCodeDigestMismatch indicates the baseline changed under the pass.
	// The record is re-queued for the next pass.
	ErrCodeDigestMismatch SyncErrorCode = "DIGEST_MISMATCH_ON_COMMIT"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.ObjectID != "" {
		return fmt.Sprintf("%s: %s (object=%s)", e.Code, msg, e.ObjectID)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code SyncErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsMalformedRecord returns true if the error is a malformed record error.
func IsMalformedRecord(err error) bool {
	return hasCode(err, ErrCodeMalformedRecord)
}

// IsLedgerIOError returns true if the error is a ledger I/O failure.
// Uses errors.As to handle wrapped errors.
func IsLedgerIOError(err error) bool {
	return hasCode(err, ErrCodeLedgerIO)
}

// IsUnresolvedConflict returns true if the error is an unresolved conflict.
func IsUnresolvedConflict(err error) bool {
	return hasCode(err, ErrCodeUnresolvedConflict)
}

// IsDigestMismatch returns true if the error is a compare-and-swap failure.
func IsDigestMismatch(err error) bool {
	return hasCode(err, ErrCodeDigestMismatch)
}

// NewMalformedError creates a SyncError for a skipped input record.
func NewMalformedError(objectID, message string) *SyncError {
	return &SyncError{
		Code:     ErrCodeMalformedRecord,
		Message:  message,
		ObjectID: objectID,
	}
}

// NewLedgerIOError creates a SyncError for a ledger read or write failure.
func NewLedgerIOError(objectID string, err error) *SyncError {
	return &SyncError{
		Code:     ErrCodeLedgerIO,
		Message:  "ledger unavailable",
		ObjectID: objectID,
		Err:      err,
	}
}

// NewUnresolvedError creates a SyncError for a conflict awaiting a decision.
func NewUnresolvedError(objectID, digestA, digestB string) *SyncError {
	return &SyncError{
		Code:     ErrCodeUnresolvedConflict,
		Message:  fmt.Sprintf("both sources changed (origin=%s client=%s)", digestA, digestB),
		ObjectID: objectID,
	}
}

// NewDigestMismatchError creates a SyncError for a lost compare-and-swap.
func NewDigestMismatchError(objectID string, err error) *SyncError {
	return &SyncError{
		Code:     ErrCodeDigestMismatch,
		Message:  "baseline changed during pass",
		ObjectID: objectID,
		Err:      err,
	}
}
