package supervisor

import (
	"errors"
	"fmt"

	"github.com/wednesday-solutions/my-memories-sub001/internal/model"
)

// ErrAlreadyRunning is returned by Start when the role still has a live child.
var ErrAlreadyRunning = errors.New("supervisor: process already running for role")

// LaunchError reports a spawn failure. It is never retried.
type LaunchError struct {
	Binary string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Binary, e.Err)
}

// Unwrap exposes both the sentinel and the underlying os/exec error.
func (e *LaunchError) Unwrap() []error { return []error{model.ErrProcessLaunch, e.Err} }
