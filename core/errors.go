package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeInvalidValue    = "INVALID_VALUE"
	ErrCodeMissingConfig   = "MISSING_CONFIG"
	ErrCodeMissingAuth     = "MISSING_AUTH"
	ErrCodeNotWritable     = "NOT_WRITABLE"
	ErrCodeModelNotFound   = "MODEL_NOT_FOUND"
	ErrCodeSettingsInvalid = "SETTINGS_INVALID"
)

// ErrInvalidValue returns an error for a variable that is set but cannot be parsed.
func ErrInvalidValue(key, value, want string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid %s '%s': expected %s", key, value, want),
		Action:  fmt.Sprintf("Fix or unset %s in your .env file", key),
	}
}

// ErrMissingConfig returns an error for missing required configuration
func ErrMissingConfig(varName string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s", varName),
		Action:  fmt.Sprintf("Set %s in your .env file", varName),
	}
}

// ErrMissingAuth returns an error for missing backend credentials.
func ErrMissingAuth(service string) *ConfigError {
	var action string
	switch service {
	case "openai":
		action = "Set OPENAI_API_KEY in your .env file (or use GENERATION_BACKEND=local)"
	default:
		action = fmt.Sprintf("Set the required API key for %s in your .env file", service)
	}
	return &ConfigError{
		Code:    ErrCodeMissingAuth,
		Message: fmt.Sprintf("Missing authentication credentials for %s", service),
		Action:  action,
	}
}

// ErrNotWritable returns an error for a directory the server must write to.
func ErrNotWritable(varName, path string, cause error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeNotWritable,
		Message: fmt.Sprintf("%s is not writable (%s): %v", varName, path, cause),
		Action:  fmt.Sprintf("Create %s or point %s at a writable directory", path, varName),
	}
}

// ErrModelNotFound returns an error when the default model file is missing.
func ErrModelNotFound(path string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeModelNotFound,
		Message: fmt.Sprintf("Stable Diffusion model not found: %s", path),
		Action:  "Place the model under SD_MODELS_DIR or change model.default_model in the settings file",
	}
}

// ErrSettingsInvalid returns an error for a settings file that cannot be used.
func ErrSettingsInvalid(path string, cause error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeSettingsInvalid,
		Message: fmt.Sprintf("Settings file %s is invalid: %v", path, cause),
		Action:  "Fix the file or delete it to regenerate defaults",
	}
}

// IsConfigError checks if an error is, or wraps, a ConfigError and returns it if so.
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
