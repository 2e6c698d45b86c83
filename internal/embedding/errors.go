package embedding

import (
	"errors"
	"fmt"
)

// ErrBackendUnavailable is returned when an embedding is requested in local
// mode but no model is loaded and a lazy load is not possible.
var ErrBackendUnavailable = errors.New("local backend unavailable: no model loaded")

// ErrInvalidMode is returned for a mode string other than "remote" or "local".
var ErrInvalidMode = errors.New(`mode must be "remote" or "local"`)

// UnknownModelError is returned for a model id not present in the catalog.
type UnknownModelError struct {
	ID string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("unknown model: %s", e.ID)
}

// RemoteError is a failed remote embedding exchange. Status and Body carry
// the upstream diagnostics when a response was received.
type RemoteError struct {
	Status int
	Body   string
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote embedding request failed: %v", e.Err)
	}
	return fmt.Sprintf("remote embedding request failed: status %d: %s", e.Status, e.Body)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// ModelLoadError is a local model load failure. The on-disk artifacts have
// been removed by the time this error is returned, forcing a clean
// re-download on the next attempt.
type ModelLoadError struct {
	Model string
	Err   error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %s: %v", e.Model, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }
