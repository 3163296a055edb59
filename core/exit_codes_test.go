package core

import (
	"os"
	"syscall"
	"testing"
)

func TestExitCodeForSignal(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want int
	}{
		{os.Interrupt, 130},
		{syscall.SIGTERM, 143},
	}
	for _, tt := range tests {
		if got := ExitCodeForSignal(tt.sig); got != tt.want {
			t.Errorf("ExitCodeForSignal(%v) = %d, want %d", tt.sig, got, tt.want)
		}
	}
}

func TestExitCodeName(t *testing.T) {
	for code, want := range map[int]string{
		ExitCodeSuccess: "success",
		ExitCodeConfig:  "configuration error",
		ExitCodeSIGTERM: "terminated",
		99:              "unknown",
	} {
		if got := ExitCodeName(code); got != want {
			t.Errorf("ExitCodeName(%d) = %q, want %q", code, got, want)
		}
	}
}
