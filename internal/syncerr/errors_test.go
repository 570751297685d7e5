package syncerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestTaxonomyMatching(t *testing.T) {
	authErr := &AuthError{Reason: "token rejected", Err: errors.New("401")}
	transientErr := &TransientError{Op: "fetch", Err: errors.New("503")}
	conflictErr := &ConflictError{OwnerID: 7}

	if !IsAuth(authErr) || IsAuth(transientErr) || IsAuth(conflictErr) {
		t.Error("IsAuth misclassifies")
	}
	if !IsTransient(transientErr) || IsTransient(authErr) {
		t.Error("IsTransient misclassifies")
	}
	if !IsConflict(conflictErr) || IsConflict(authErr) {
		t.Error("IsConflict misclassifies")
	}
}

func TestMatchingThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("run aborted: %w", &AuthError{Reason: "expired"})
	if !IsAuth(wrapped) {
		t.Error("IsAuth must see through wrapping")
	}
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := &TransientError{Op: "list", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("cause lost through TransientError")
	}

	commitCause := errors.New("deadlock detected")
	cerr := &CommitError{Batch: 3, Err: commitCause}
	if !errors.Is(cerr, commitCause) {
		t.Error("cause lost through CommitError")
	}
}

func TestMessagesCarryContext(t *testing.T) {
	cerr := &CommitError{Batch: 2, Err: errors.New("boom")}
	if msg := cerr.Error(); msg == "" || msg == "boom" {
		t.Errorf("CommitError message lacks batch context: %q", msg)
	}

	verr := &ValidationError{Reason: "neither company nor position"}
	if msg := verr.Error(); msg == "" {
		t.Error("ValidationError message empty")
	}
}
