package logging

import (
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

// RedactedPlaceholder replaces sensitive values.
const RedactedPlaceholder = "[REDACTED]"

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(sk-[a-zA-Z0-9_-]{20,})`),             // OpenAI keys, legacy and project scoped
	regexp.MustCompile(`(?i)(bearer\s+[a-zA-Z0-9._-]{20,})`),  // bearer tokens
	regexp.MustCompile(`\$2[aby]\$\d{2}\$[./a-zA-Z0-9]{53}`),  // bcrypt hashes
	regexp.MustCompile(`(?i)(password\s*[:=]\s*[^\s,;]{4,})`), // password= or password:
	regexp.MustCompile(`(?i)(api_key\s*[:=]\s*[^\s,;]{8,})`),  // api_key= or api_key:
	regexp.MustCompile(`(?i)(token\s*[:=]\s*[^\s,;]{8,})`),    // token= or token:
}

// Field names containing any of these are redacted whatever the value.
var sensitiveKeys = []string{
	"PASSWORD",
	"API_KEY",
	"APIKEY",
	"TOKEN",
	"SECRET",
	"AUTHORIZATION",
}

// RedactSensitiveData replaces every known secret pattern in value.
func RedactSensitiveData(value string) string {
	if value == "" {
		return value
	}
	for _, p := range sensitivePatterns {
		value = p.ReplaceAllString(value, RedactedPlaceholder)
	}
	return value
}

// IsSensitiveField reports whether a field name marks a secret.
func IsSensitiveField(name string) bool {
	upper := strings.ToUpper(name)
	for _, k := range sensitiveKeys {
		if strings.Contains(upper, k) {
			return true
		}
	}
	return false
}

// RedactField returns the loggable form of one string field.
func RedactField(name, value string) string {
	if IsSensitiveField(name) {
		return RedactedPlaceholder
	}
	return RedactSensitiveData(value)
}

// redactingCore scrubs fields and messages before they reach the wrapped
// core, so every logger derived from it is covered.
type redactingCore struct {
	zapcore.Core
}

// NewRedactingCore wraps core with redaction.
func NewRedactingCore(core zapcore.Core) zapcore.Core {
	return &redactingCore{Core: core}
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{Core: c.Core.With(redactFields(fields))}
}

func (c *redactingCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *redactingCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = RedactSensitiveData(ent.Message)
	return c.Core.Write(ent, redactFields(fields))
}

func redactFields(fields []zapcore.Field) []zapcore.Field {
	if len(fields) == 0 {
		return fields
	}
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = redactOne(f)
	}
	return out
}

func redactOne(f zapcore.Field) zapcore.Field {
	if IsSensitiveField(f.Key) {
		return zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: RedactedPlaceholder}
	}
	switch f.Type {
	case zapcore.StringType:
		if r := RedactSensitiveData(f.String); r != f.String {
			f.String = r
		}
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok {
			if msg := err.Error(); RedactSensitiveData(msg) != msg {
				return zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: RedactSensitiveData(msg)}
			}
		}
	}
	return f
}
