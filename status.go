package recommerce

import (
	"fmt"
	"strings"
)

// Container states as reported by the engine.
const (
	StatusCreated    = "created"
	StatusRunning    = "running"
	StatusPaused     = "paused"
	StatusRestarting = "restarting"
	StatusExited     = "exited"
)

// Fixed status strings surfaced to callers.
const (
	StatusNotFound      = "Container not found"
	StatusNotAuthorized = "Not authorized"
	StatusImageFailed   = "Image build failed"
	NoContainerStarted  = "No container was started"
	StatusSuccess       = "success"
	StatsID             = "not given"
)

// ExitedStatus renders the status of an exited container with its exit code.
func ExitedStatus(code int) string {
	return fmt.Sprintf("%s (%d)", StatusExited, code)
}

// RemovedStatus renders the status returned by a successful remove.
func RemovedStatus(code int) string {
	return fmt.Sprintf("removed (%d)", code)
}

// IsSuccessStatus reports whether a DockerInfo status describes a container
// in a known state, or a completed request, rather than a failure message.
func IsSuccessStatus(status string) bool {
	switch status {
	case StatusCreated, StatusRunning, StatusPaused, StatusRestarting, StatusExited, StatusSuccess:
		return true
	}
	return isCodeStatus(status, "exited (") || isCodeStatus(status, "removed (")
}

func isCodeStatus(status, prefix string) bool {
	if !strings.HasPrefix(status, prefix) || !strings.HasSuffix(status, ")") {
		return false
	}
	return !strings.ContainsAny(status, "\n")
}
