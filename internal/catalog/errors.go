package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown task, video or clip ids, and for
	// entities owned by someone other than the caller.
	ErrNotFound = errors.New("not found")

	// ErrConflict means the subject already has a non-terminal task of the
	// requested kind.
	ErrConflict = errors.New("task already in flight for subject")

	// ErrInvalidTransition is returned when a status change is not on the
	// PENDING -> STARTED -> SUCCESS|FAILURE path, including any change out
	// of a terminal status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotIndexed is returned by search when the video has no index yet.
	ErrNotIndexed = errors.New("video not indexed")
)

// ValidationError reports malformed input rejected before any task exists.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IngestionError means the source could not be fetched or is not a usable
// video. It is terminal for the extraction task.
type IngestionError struct {
	Source string
	Err    error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Source, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsIngestion(err error) bool {
	var ie *IngestionError
	return errors.As(err, &ie)
}
