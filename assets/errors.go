package assets

import (
	"errors"
	"fmt"
)

var (
	// ErrNoUsableResults is matched by the error of a batch that added nothing to the set.
	ErrNoUsableResults = errors.New("no images were uploaded")
	// ErrSessionActive is returned when a batch is submitted while another one runs.
	ErrSessionActive = errors.New("an upload is already in progress")
	// ErrIndexOutOfRange ...
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = errors.New("asset not found")
)

// NotFoundError is returned by Remove and SetPrimary for a URL the set does
// not hold. Callers usually treat it as a no-op.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("asset not found: %s", e.URL)
}

// Is ...
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// BatchError is returned when a batch yields zero usable results.
// Result still carries every per-file error.
type BatchError struct {
	Result *BatchResult
}

func (e *BatchError) Error() string {
	if e.Result == nil || len(e.Result.Errors) == 0 {
		return ErrNoUsableResults.Error()
	}
	return fmt.Sprintf("%s: %s", ErrNoUsableResults, e.Result.ErrorSummary())
}

// Is ...
func (e *BatchError) Is(target error) bool {
	return target == ErrNoUsableResults
}
