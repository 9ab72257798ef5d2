package domain

import "errors"

var (
	// ErrUnsupportedLanguage is returned when no recipe exists for a language id.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrWorkspaceUnavailable is returned when an isolated directory cannot be created.
	ErrWorkspaceUnavailable = errors.New("workspace unavailable")

	// ErrSandboxLaunch is returned when the sandbox cannot spawn a program at all.
	// It signals an infrastructure or configuration fault, not a user error.
	ErrSandboxLaunch = errors.New("sandbox launch failed")

	// ErrSystemBusy is returned when the execution queue is full.
	ErrSystemBusy = errors.New("system busy, retry later")

	// ErrEmptySourceCode is returned when source code is empty.
	ErrEmptySourceCode = errors.New("source code cannot be empty")

	// ErrPayloadTooLarge is returned when the source code exceeds the size limit.
	ErrPayloadTooLarge = errors.New("source code payload exceeds maximum size (1MB)")

	// ErrNoTestCases is returned when a judge request carries no test cases.
	ErrNoTestCases = errors.New("at least one test case is required")

	// ErrTooManyTestCases is returned when a judge request exceeds the configured test count.
	ErrTooManyTestCases = errors.New("too many test cases")

	// ErrRateLimitExceeded is returned when API rate limit is hit.
	ErrRateLimitExceeded = errors.New("rate limit exceeded, try again later")
)

// ErrorKind is the stable name of an error class exposed at the boundary.
type ErrorKind string

const (
	KindUnsupportedLanguage  ErrorKind = "UnsupportedLanguage"
	KindWorkspaceUnavailable ErrorKind = "WorkspaceUnavailable"
	KindSandboxLaunchError   ErrorKind = "SandboxLaunchError"
	KindSystemBusy           ErrorKind = "SystemBusy"
	KindInvalidRequest       ErrorKind = "InvalidRequest"
	KindInternal             ErrorKind = "InternalError"
)

// KindOf classifies err into one of the boundary error kinds.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrUnsupportedLanguage):
		return KindUnsupportedLanguage
	case errors.Is(err, ErrWorkspaceUnavailable):
		return KindWorkspaceUnavailable
	case errors.Is(err, ErrSandboxLaunch):
		return KindSandboxLaunchError
	case errors.Is(err, ErrSystemBusy):
		return KindSystemBusy
	case errors.Is(err, ErrEmptySourceCode),
		errors.Is(err, ErrPayloadTooLarge),
		errors.Is(err, ErrNoTestCases),
		errors.Is(err, ErrTooManyTestCases):
		return KindInvalidRequest
	default:
		return KindInternal
	}
}

// IsInfra reports whether err is an infrastructure fault (as opposed to a
// client error or backpressure).
func (k ErrorKind) IsInfra() bool {
	switch k {
	case KindWorkspaceUnavailable, KindSandboxLaunchError, KindInternal:
		return true
	}
	return false
}
