package service

import "github.com/Harsh-BH/sentinel-judge/internal/domain"

// HiddenPlaceholder replaces every literal of a hidden test case.
const HiddenPlaceholder = "Hidden"

// limitMessages are fixed texts that never carry program output.
var limitMessages = map[string]bool{
	"Time limit exceeded":   true,
	"Memory limit exceeded": true,
}

// Redact returns a copy of v with hidden test literals replaced. v is left
// untouched.
func Redact(v *domain.Verdict) *domain.Verdict {
	if v == nil {
		return nil
	}
	out := *v
	out.Results = make([]domain.TestCaseResult, len(v.Results))
	for i, r := range v.Results {
		out.Results[i] = RedactResult(r)
	}
	return &out
}

// RedactResult hides the input, expected output and actual output of a
// hidden test. Runtime error text may echo program output, so it is
// replaced too; limit messages are kept.
func RedactResult(r domain.TestCaseResult) domain.TestCaseResult {
	if !r.IsHidden {
		return r
	}
	r.Input = HiddenPlaceholder
	r.ExpectedOutput = HiddenPlaceholder
	r.ActualOutput = HiddenPlaceholder
	if r.Error != "" && !limitMessages[r.Error] {
		r.Error = "Runtime error"
	}
	return r
}
