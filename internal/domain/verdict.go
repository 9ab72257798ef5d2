package domain

// VerdictStatus is the overall judgement of a submission.
type VerdictStatus string

const (
	StatusAccepted          VerdictStatus = "ACCEPTED"
	StatusWrongAnswer       VerdictStatus = "WRONG_ANSWER"
	StatusTimeLimitExceeded VerdictStatus = "TIME_LIMIT_EXCEEDED"
	StatusRuntimeError      VerdictStatus = "RUNTIME_ERROR"
	StatusCompileError      VerdictStatus = "COMPILE_ERROR"
)

// TestCase is one input/expected-output pair supplied by the caller.
type TestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
	IsHidden       bool   `json:"isHidden"`
}

// TestCaseResult is the outcome of running a submission against one TestCase.
type TestCaseResult struct {
	TestCase
	ActualOutput    string `json:"actualOutput"`
	Passed          bool   `json:"passed"`
	ExecutionTimeMs int64  `json:"executionTime"`
	MemoryUsedKB    int64  `json:"memoryUsed"`
	Error           string `json:"error,omitempty"`
	TimedOut        bool   `json:"timedOut,omitempty"`
	MemoryExceeded  bool   `json:"memoryExceeded,omitempty"`
	ExitCode        *int   `json:"exitCode"`
}

// Summary aggregates the per-test results of a verdict.
type Summary struct {
	TotalTests         int           `json:"totalTests"`
	PassedTests        int           `json:"passedTests"`
	SuccessRatePercent float64       `json:"successRate"`
	AvgExecutionTimeMs float64       `json:"avgExecutionTime"`
	Status             VerdictStatus `json:"status"`
}

// Verdict is the aggregated judgement returned for one judged submission.
type Verdict struct {
	Success      bool             `json:"success"`
	Results      []TestCaseResult `json:"results"`
	Summary      Summary          `json:"summary"`
	CompileError string           `json:"compileError,omitempty"`
}
