package shardqueue

import (
	"errors"
	"fmt"
)

var (
	ErrExecutorClosed = errors.New("shardqueue: executor closed")
	ErrQueueFull      = errors.New("shardqueue: queue full")
)

// QueueFullError reports the shard that rejected a submission.
type QueueFullError struct {
	Shard    int
	Length   int
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("shardqueue: shard %d full (%d/%d)", e.Shard, e.Length, e.Capacity)
}

func (e *QueueFullError) Unwrap() error { return ErrQueueFull }

type irrecoverableError struct{ err error }

func (e *irrecoverableError) Error() string { return e.err.Error() }
func (e *irrecoverableError) Unwrap() error { return e.err }

// Irrecoverable marks err so the executor does not retry the job that returned it.
func Irrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &irrecoverableError{err: err}
}

// IsIrrecoverable reports whether err, or any error it wraps, was marked Irrecoverable.
func IsIrrecoverable(err error) bool {
	var ie *irrecoverableError
	return errors.As(err, &ie)
}

// PanicError carries the value recovered from a panicking job.
type PanicError struct{ Value any }

func (e *PanicError) Error() string { return fmt.Sprintf("shardqueue: job panic: %v", e.Value) }
