package core

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// LookupFunc reads one variable. os.LookupEnv is the usual source; tests
// pass a map lookup.
type LookupFunc func(key string) (string, bool)

// MapLookup adapts a map to a LookupFunc.
func MapLookup(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

// EnvReader parses variables with defaults. Unlike a plain fallback, a
// variable that is set but malformed is recorded as a ConfigError so a
// typo in PORT does not silently become 8000.
type EnvReader struct {
	lookup LookupFunc
	errs   []error
}

// NewEnvReader creates a reader. A nil lookup reads the process environment.
func NewEnvReader(lookup LookupFunc) *EnvReader {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &EnvReader{lookup: lookup}
}

func (r *EnvReader) raw(key string) (string, bool) {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *EnvReader) invalid(key, value, want string) {
	r.errs = append(r.errs, ErrInvalidValue(key, value, want))
}

// String returns the value of key or def when unset or empty.
func (r *EnvReader) String(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}
	return def
}

// Optional returns key as set, even when set to the empty string, and
// def only when key is absent.
func (r *EnvReader) Optional(key, def string) string {
	if v, ok := r.lookup(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

// Int parses key as an integer no smaller than min.
func (r *EnvReader) Int(key string, def, min int) int {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min {
		r.invalid(key, v, "an integer >= "+strconv.Itoa(min))
		return def
	}
	return n
}

// Float parses key as a non-negative number.
func (r *EnvReader) Float(key string, def float64) float64 {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		r.invalid(key, v, "a non-negative number")
		return def
	}
	return f
}

// Bool accepts true/1/yes/on and false/0/no/off, case-insensitively.
func (r *EnvReader) Bool(key string, def bool) bool {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	r.invalid(key, v, "true or false")
	return def
}

// Seconds parses key as a whole number of seconds. Zero is allowed and
// usually means "disabled".
func (r *EnvReader) Seconds(key string, defSeconds int) time.Duration {
	return time.Duration(r.Int(key, defSeconds, 0)) * time.Second
}

// OneOf returns key lowercased when it is one of allowed.
func (r *EnvReader) OneOf(key, def string, allowed ...string) string {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	v = strings.ToLower(v)
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	r.invalid(key, v, "one of "+strings.Join(allowed, ", "))
	return def
}

// Err returns every invalid value seen so far, joined.
func (r *EnvReader) Err() error {
	return errors.Join(r.errs...)
}
