package store

import (
	"errors"
	"fmt"
)

// InsertErrorCode categorizes insert rejections.
type InsertErrorCode string

const (
	// InsertStructural indicates a missing id, type, actor or cause.
	InsertStructural InsertErrorCode = "STRUCTURAL"

	// InsertDependencyMissing indicates one or more cause ids are not
	// present locally. Recoverable: the sync layer queues such events
	// and retries when the dependency arrives.
	InsertDependencyMissing InsertErrorCode = "DEPENDENCY_MISSING"

	// InsertCycle indicates the candidate's cause chain reaches the
	// candidate itself. Rejected at the edge, never admitted.
	InsertCycle InsertErrorCode = "CYCLE_DETECTED"
)

// InsertError is a structured insert rejection.
type InsertError struct {
	Code    InsertErrorCode
	ID      string
	Missing []string // populated for InsertDependencyMissing
	Message string
}

// Error implements the error interface.
func (e *InsertError) Error() string {
	return fmt.Sprintf("%s: event %s: %s", e.Code, e.ID, e.Message)
}

// IsCycle reports whether err is a cycle rejection.
// Uses errors.As to handle wrapped errors.
func IsCycle(err error) bool {
	var ie *InsertError
	return errors.As(err, &ie) && ie.Code == InsertCycle
}

// IsDependencyMissing reports whether err is a missing-dependency
// rejection, returning the missing cause ids when it is.
func IsDependencyMissing(err error) ([]string, bool) {
	var ie *InsertError
	if errors.As(err, &ie) && ie.Code == InsertDependencyMissing {
		return ie.Missing, true
	}
	return nil, false
}

// IsStructural reports whether err is a structural rejection.
func IsStructural(err error) bool {
	var ie *InsertError
	return errors.As(err, &ie) && ie.Code == InsertStructural
}

// ChainErrorCode categorizes chain-to-root validation failures.
type ChainErrorCode string

const (
	// ChainNoCause: the walk ran out of edges before reaching a genesis
	// id.
	ChainNoCause ChainErrorCode = "NO_CAUSE"

	// ChainCycle: the walk re-encountered the starting event.
	ChainCycle ChainErrorCode = "CYCLE_DETECTED"

	// ChainDepthExceeded: the walk passed the depth bound without
	// terminating.
	ChainDepthExceeded ChainErrorCode = "DEPTH_EXCEEDED"
)

// ChainError reports a broken chain. Not fatal: the rebuild pass may
// re-derive a valid cause for the affected event.
type ChainError struct {
	Code ChainErrorCode
	ID   string
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	return fmt.Sprintf("%s: chain from event %s does not reach a genesis root", e.Code, e.ID)
}

// ChainCode extracts the ChainErrorCode from err, "" if it is not a
// ChainError.
func ChainCode(err error) ChainErrorCode {
	var ce *ChainError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
