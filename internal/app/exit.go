package app

import (
	"serving-probe/internal/benchmark"
)

// Process exit codes
const (
	ExitOK          = 0
	ExitViolated    = 1
	ExitConfigError = 2
)

// ExitCode maps a finished session onto the process exit status. A session
// that failed after starting reports ExitViolated, since the probe did not
// prove the endpoint healthy.
func ExitCode(result *benchmark.Result, err error, assert bool) int {
	if err != nil || result == nil {
		return ExitViolated
	}
	if assert && !result.Verdict.Passed {
		return ExitViolated
	}
	return ExitOK
}
