// Package syncerr defines the error taxonomy of the sync pipeline.
//
// Run-fatal: AuthError, ConflictError. Everything else is absorbed locally
// (per item or per batch) and aggregated into the run summary.
package syncerr

import (
	"errors"
	"fmt"
)

// AuthError means the owner's credential is missing, rejected, or lacks the
// required scope. It aborts the whole run; the user must reconnect.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError wraps a timeout or rate-limit from an external provider.
// Callers retry with backoff; exhausted retries become a per-item error.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ExtractionError means the model produced output that failed schema
// validation. The item is skipped whole; nothing partial is stored.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string { return "extraction: " + e.Reason }

// ValidationError means an extracted record is missing the identity fields
// needed to reconcile it.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// ConflictError means a sync run is already active for the owner.
type ConflictError struct {
	OwnerID uint
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sync already running for owner %d", e.OwnerID)
}

// CommitError wraps a failed batch transaction. The batch was rolled back;
// prior batches stay durable.
type CommitError struct {
	Batch int
	Err   error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit batch %d: %v", e.Batch, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
