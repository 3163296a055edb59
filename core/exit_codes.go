package core

import (
	"os"
	"syscall"
)

// Process exit codes. Signal exits follow the shell's 128+n convention.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1

	// ExitCodeConfig means the server refused to start because of its
	// environment, its settings file or a failed startup check.
	ExitCodeConfig = 2

	ExitCodeSIGINT  = 128 + 2
	ExitCodeSIGTERM = 128 + 15
)

// ExitCodeForSignal returns the code a forced exit on sig uses.
func ExitCodeForSignal(sig os.Signal) int {
	if sig == syscall.SIGTERM {
		return ExitCodeSIGTERM
	}
	return ExitCodeSIGINT
}

// ExitCodeName names a code for the final log line.
func ExitCodeName(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "success"
	case ExitCodeError:
		return "error"
	case ExitCodeConfig:
		return "configuration error"
	case ExitCodeSIGINT:
		return "interrupted"
	case ExitCodeSIGTERM:
		return "terminated"
	}
	return "unknown"
}
