package orchestrator

import "errors"

var (
	// ErrTaskFailed marks a provider-reported terminal failure. It is never retried.
	ErrTaskFailed = errors.New("generation task failed")
	// ErrTaskTimedOut marks a task that did not finish within the poll ceiling.
	ErrTaskTimedOut = errors.New("generation task timed out")
	ErrNoReferences = errors.New("no usable style reference images")
)
