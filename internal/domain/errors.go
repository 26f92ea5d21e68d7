package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a domain error so callers can branch on the kind
// without parsing messages.
type ErrorKind string

const (
	KindNotFound           ErrorKind = "not_found"
	KindConflict           ErrorKind = "conflict"
	KindInvalidState       ErrorKind = "invalid_state"
	KindValidation         ErrorKind = "validation"
	KindScoringUnavailable ErrorKind = "scoring_unavailable"
)

// Error is a domain error with a kind, a message and an optional cause.
type Error struct {
	kind    ErrorKind
	message string
	cause   error
}

func newError(kind ErrorKind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Kind returns the error kind
func (e *Error) Kind() ErrorKind { return e.kind }

func (e *Error) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error with the same kind and message, so an error
// produced by Wrap still satisfies errors.Is against its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.kind == e.kind && t.message == e.message
}

// Wrap returns a copy of e that carries cause.
func (e *Error) Wrap(cause error) error {
	return &Error{kind: e.kind, message: e.message, cause: cause}
}

// Domain errors
var (
	ErrTeamNotFound       = newError(KindNotFound, "team not found")
	ErrLevelNotFound      = newError(KindNotFound, "level not found")
	ErrLevelImageNotFound = newError(KindNotFound, "level image not found")
	ErrEmptyImagePool     = newError(KindNotFound, "level has no images in pool")
	ErrSubmissionNotFound = newError(KindNotFound, "submission not found")
	ErrStandingNotFound   = newError(KindNotFound, "team not found in leaderboard")

	ErrTeamNameTaken       = newError(KindConflict, "team name already exists")
	ErrLevelExists         = newError(KindConflict, "level already exists")
	ErrDuplicateSubmission = newError(KindConflict, "already submitted for this level")
	ErrVersionConflict     = newError(KindConflict, "record was modified concurrently")

	ErrGameNotRunning     = newError(KindInvalidState, "game is not running")
	ErrGameRunning        = newError(KindInvalidState, "game is running")
	ErrNoAssignment       = newError(KindInvalidState, "no assigned image for current level")
	ErrLevelRangeExceeded = newError(KindInvalidState, "team has completed all levels")
	ErrNotPending         = newError(KindInvalidState, "submission is not pending")
	ErrLevelNotReached    = newError(KindInvalidState, "team has not reached this level")

	ErrInvalidRequest = newError(KindValidation, "invalid request")
	ErrInvalidLevel   = newError(KindValidation, "invalid level number")

	ErrScoringUnavailable = newError(KindScoringUnavailable, "similarity scoring unavailable")

	ErrInternalError = errors.New("internal server error")
)

// DuplicateSubmissionError is returned when a team submits for a level that
// already has a pending or approved submission. It carries that submission
// so callers can show its current state.
type DuplicateSubmissionError struct {
	Existing Submission
}

func (e *DuplicateSubmissionError) Error() string {
	return fmt.Sprintf("already submitted for level %d (status %s)", e.Existing.LevelNumber, e.Existing.Status)
}

func (e *DuplicateSubmissionError) Kind() ErrorKind { return KindConflict }

func (e *DuplicateSubmissionError) Is(target error) bool {
	return target == ErrDuplicateSubmission
}

// ValidationError lists every problem found by a precondition check.
type ValidationError struct {
	Message string
	Issues  []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Kind() ErrorKind { return KindValidation }

// KindOf returns the kind of the first domain error in err's chain, or an
// empty kind when err carries none.
func KindOf(err error) ErrorKind {
	var k interface{ Kind() ErrorKind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return ""
}

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return KindOf(err) == KindNotFound
}
