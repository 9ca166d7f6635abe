package recommerce

import "errors"

// Engine error kinds. Driver implementations wrap the underlying error with
// exactly one of these so callers can branch with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrImageNotFound = errors.New("image not found")
	ErrBuildFailed   = errors.New("image build failed")
	ErrTransient     = errors.New("transient engine error")
	ErrUnavailable   = errors.New("engine unavailable")
)

// Request-level error kinds.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrBadRequest       = errors.New("bad request")
	ErrImageUnavailable = errors.New("image unavailable")
	ErrConflict         = errors.New("conflict")
	ErrTerminalExit     = errors.New("container exited")
	ErrInternal         = errors.New("internal error")
)
