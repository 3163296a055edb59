package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestConfigError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ConfigError
		contains []string
	}{
		{
			name: "error with action",
			err: &ConfigError{
				Code:    "TEST_CODE",
				Message: "Test message",
				Action:  "Take this action",
			},
			contains: []string{"Test message", "Take this action"},
		},
		{
			name: "error without action",
			err: &ConfigError{
				Code:    "TEST_CODE",
				Message: "Test message only",
			},
			contains: []string{"Test message only"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errStr := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(errStr, s) {
					t.Errorf("ConfigError.Error() = %q, expected to contain %q", errStr, s)
				}
			}
		})
	}
}

func TestConfigErrorConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *ConfigError
		code     string
		contains string
	}{
		{"invalid value", ErrInvalidValue("PORT", "abc", "an integer"), ErrCodeInvalidValue, "PORT"},
		{"missing config", ErrMissingConfig("OUTPUT_ROOT"), ErrCodeMissingConfig, "OUTPUT_ROOT"},
		{"missing openai auth", ErrMissingAuth("openai"), ErrCodeMissingAuth, "OPENAI_API_KEY"},
		{"missing other auth", ErrMissingAuth("replicate"), ErrCodeMissingAuth, "replicate"},
		{"not writable", ErrNotWritable("OUTPUT_ROOT", "/ro", errors.New("read-only file system")), ErrCodeNotWritable, "read-only"},
		{"model not found", ErrModelNotFound("models/sd15.safetensors"), ErrCodeModelNotFound, "sd15"},
		{"settings invalid", ErrSettingsInvalid("settings.yaml", errors.New("bad yaml")), ErrCodeSettingsInvalid, "settings.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.code)
			}
			if tt.err.Action == "" {
				t.Error("Action is empty")
			}
			if !strings.Contains(tt.err.Error(), tt.contains) {
				t.Errorf("Error() = %q, expected to contain %q", tt.err.Error(), tt.contains)
			}
		})
	}
}

func TestIsConfigError(t *testing.T) {
	configErr := ErrMissingConfig("PORT")
	wrapped := fmt.Errorf("startup: %w", configErr)
	joined := errors.Join(errors.New("other"), configErr)

	tests := []struct {
		name   string
		err    error
		wantOK bool
	}{
		{"direct", configErr, true},
		{"wrapped", wrapped, true},
		{"joined", joined, true},
		{"plain error", errors.New("plain"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := IsConfigError(tt.err)
			if ok != tt.wantOK {
				t.Fatalf("IsConfigError() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != configErr {
				t.Errorf("IsConfigError() = %v, want %v", got, configErr)
			}
		})
	}

	if code := GetErrorCode(wrapped); code != ErrCodeMissingConfig {
		t.Errorf("GetErrorCode() = %q", code)
	}
	if code := GetErrorCode(errors.New("plain")); code != "" {
		t.Errorf("GetErrorCode(plain) = %q", code)
	}
}
