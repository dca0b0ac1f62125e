package main

// Exit codes for sandboxctl, mirroring distinct failure classes so callers
// scripting this binary can branch without parsing stderr text.

const (
	// ExitCodeSuccess indicates normal program termination.
	ExitCodeSuccess = 0

	// ExitCodeGeneralError indicates a generic error (default).
	ExitCodeGeneralError = 1

	// ExitCodeExecutionFailed indicates the sandboxed code itself failed
	// (syntax error, runtime error, timeout, security rejection, ...).
	ExitCodeExecutionFailed = 2

	// ExitCodeConfigError indicates configuration loading/validation failed.
	ExitCodeConfigError = 3

	// ExitCodeUsageError indicates invalid command-line arguments.
	ExitCodeUsageError = 4
)
