package domain

// ExecutionRequest is one ad-hoc run of user code.
type ExecutionRequest struct {
	SourceCode    string
	LanguageID    string
	Stdin         string
	TimeoutMs     int // 0 means the recipe default
	MemoryLimitMb int // 0 means the recipe default
}

// Limits holds the resource caps applied to one sandbox invocation.
type Limits struct {
	TimeoutMs     int
	MemoryLimitMb int
}

// MemoryLimitBytes returns the memory cap in bytes.
func (l Limits) MemoryLimitBytes() int64 {
	return int64(l.MemoryLimitMb) * 1024 * 1024
}

// ExecutionResult is returned by the sandbox after a program finishes,
// crashes, or is killed. User-code failures are always represented here
// rather than as Go errors.
type ExecutionResult struct {
	Stdout         string
	Stderr         string
	ExitCode       *int // nil when the watchdog killed the process
	TimedOut       bool
	MemoryExceeded bool
	WallTimeMs     int64
	MemoryUsedKB   int64
	CompileError   string
}

// Exited reports whether the program terminated on its own with the given code.
func (r *ExecutionResult) Exited(code int) bool {
	return r.ExitCode != nil && *r.ExitCode == code
}

// Failed reports whether the run ended abnormally: killed by the watchdog,
// over its memory cap, or with a non-zero exit code.
func (r *ExecutionResult) Failed() bool {
	if r.TimedOut || r.MemoryExceeded {
		return true
	}
	return r.ExitCode == nil || *r.ExitCode != 0
}

// Status maps the result to a coarse label used for metrics and logs.
func (r *ExecutionResult) Status() string {
	switch {
	case r.CompileError != "":
		return "compile_error"
	case r.TimedOut:
		return "timeout"
	case r.MemoryExceeded:
		return "memory_limit_exceeded"
	case r.Failed():
		return "runtime_error"
	default:
		return "success"
	}
}

// IntPtr is a small helper for building results with an exit code.
func IntPtr(v int) *int {
	return &v
}
