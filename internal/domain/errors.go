package domain

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Domain Errors
// These errors represent domain-level failures and are used by repositories
// and services to communicate domain-specific error conditions.
// -----------------------------------------------------------------------------

// Error categories. Every specific error below wraps exactly one of these.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidInput      = errors.New("invalid input")
	ErrExternalService   = errors.New("external service failure")
	ErrMalformedResponse = errors.New("malformed response")
)

// Lookup errors
var (
	ErrProgramNotFound  = fmt.Errorf("program %w", ErrNotFound)
	ErrPhaseNotFound    = fmt.Errorf("phase %w", ErrNotFound)
	ErrUnitNotFound     = fmt.Errorf("unit %w", ErrNotFound)
	ErrTemplateNotFound = fmt.Errorf("exercise template %w", ErrNotFound)
	ErrInstanceNotFound = fmt.Errorf("exercise instance %w", ErrNotFound)
	ErrContentNotFound  = fmt.Errorf("exercise content %w", ErrNotFound)
	ErrProgressNotFound = fmt.Errorf("exercise progress %w", ErrNotFound)
)

// State errors
var (
	ErrSubmissionLocked     = fmt.Errorf("%w: exercise already submitted or graded; view-only", ErrInvalidState)
	ErrMissingSubmission    = fmt.Errorf("%w: no work to submit", ErrInvalidState)
	ErrGenerationInProgress = fmt.Errorf("%w: content generation already in progress", ErrInvalidState)
	ErrContentImmutable     = fmt.Errorf("%w: published content cannot be edited", ErrInvalidState)
	ErrContentMissing       = fmt.Errorf("%w: instance has no content", ErrInvalidState)
	ErrIllegalTransition    = fmt.Errorf("%w: illegal status transition", ErrInvalidState)
	ErrNotPublished         = fmt.Errorf("%w: exercise is not published", ErrNotFound)
)

// ErrStatusRejected is returned by a state store whose schema does not accept
// a status value the domain model knows about.
var ErrStatusRejected = errors.New("status value rejected by store")

// NotFoundf wraps a lookup error with the identity that could not be found.
func NotFoundf(err error, id RecordID) error {
	return fmt.Errorf("%w: %s", err, id)
}
