package jobs

import (
	"errors"
	"fmt"

	"wolfroute/internal/model"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrInvalidState = errors.New("invalid job state")
	// ErrCancelled is returned by Handle.Wait for a cancelled job. It is not a failure.
	ErrCancelled = errors.New("job cancelled")
	ErrFailed    = errors.New("job failed")
	ErrShutdown  = errors.New("coordinator is shut down")
)

// StateError reports an operation refused because of the job's current status.
// It matches ErrInvalidState with errors.Is.
type StateError struct {
	ID     string
	Op     string
	Status model.JobStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s job %s: status is %s", e.Op, e.ID, e.Status)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }
