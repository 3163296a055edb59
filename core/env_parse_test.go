package core

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEnvReader_String(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"returns env value when set", map[string]string{"K": "custom"}, "custom"},
		{"returns default when not set", nil, "default"},
		{"returns default when empty", map[string]string{"K": ""}, "default"},
		{"trims whitespace", map[string]string{"K": "  padded  "}, "padded"},
		{"returns default when only whitespace", map[string]string{"K": "   "}, "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewEnvReader(MapLookup(tt.env))
			if got := r.String("K", "default"); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if err := r.Err(); err != nil {
				t.Errorf("Err() = %v", err)
			}
		})
	}
}

func TestEnvReader_Int(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		set     bool
		want    int
		wantErr bool
	}{
		{name: "parses valid integer", value: "42", set: true, want: 42},
		{name: "accepts the minimum", value: "1", set: true, want: 1},
		{name: "rejects below minimum", value: "0", set: true, want: 7, wantErr: true},
		{name: "rejects negative", value: "-10", set: true, want: 7, wantErr: true},
		{name: "rejects non-numeric", value: "abc", set: true, want: 7, wantErr: true},
		{name: "rejects float", value: "3.14", set: true, want: 7, wantErr: true},
		{name: "unset uses default", want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := map[string]string{}
			if tt.set {
				env["N"] = tt.value
			}
			r := NewEnvReader(MapLookup(env))
			if got := r.Int("N", 7, 1); got != tt.want {
				t.Errorf("Int() = %d, want %d", got, tt.want)
			}
			if gotErr := r.Err() != nil; gotErr != tt.wantErr {
				t.Errorf("Err() = %v, wantErr %v", r.Err(), tt.wantErr)
			}
		})
	}
}

func TestEnvReader_Bool(t *testing.T) {
	tests := []struct {
		value   string
		want    bool
		wantErr bool
	}{
		{"true", true, false},
		{"TRUE", true, false},
		{"1", true, false},
		{"yes", true, false},
		{"on", true, false},
		{"false", false, false},
		{"0", false, false},
		{"No", false, false},
		{"off", false, false},
		{"maybe", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			r := NewEnvReader(MapLookup(map[string]string{"B": tt.value}))
			if got := r.Bool("B", true); got != tt.want {
				t.Errorf("Bool(%q) = %v, want %v", tt.value, got, tt.want)
			}
			if gotErr := r.Err() != nil; gotErr != tt.wantErr {
				t.Errorf("Err() = %v, wantErr %v", r.Err(), tt.wantErr)
			}
		})
	}
}

func TestEnvReader_FloatAndSeconds(t *testing.T) {
	r := NewEnvReader(MapLookup(map[string]string{
		"RATE":    "2.5",
		"BAD":     "-1",
		"TIMEOUT": "90",
		"OFF":     "0",
	}))

	if got := r.Float("RATE", 0); got != 2.5 {
		t.Errorf("Float(RATE) = %v", got)
	}
	if got := r.Float("BAD", 1); got != 1 {
		t.Errorf("Float(BAD) = %v, want default", got)
	}
	if got := r.Seconds("TIMEOUT", 10); got != 90*time.Second {
		t.Errorf("Seconds(TIMEOUT) = %v", got)
	}
	if got := r.Seconds("OFF", 10); got != 0 {
		t.Errorf("Seconds(OFF) = %v, want 0", got)
	}
	if got := r.Seconds("MISSING", 10); got != 10*time.Second {
		t.Errorf("Seconds(MISSING) = %v", got)
	}

	err := r.Err()
	ce, ok := IsConfigError(err)
	if !ok {
		t.Fatalf("Err() = %v, want a ConfigError", err)
	}
	if ce.Code != ErrCodeInvalidValue || !strings.Contains(ce.Message, "BAD") {
		t.Errorf("ConfigError = %+v", ce)
	}
}

func TestEnvReader_OneOf(t *testing.T) {
	r := NewEnvReader(MapLookup(map[string]string{"A": "OpenAI", "B": "gpu"}))
	if got := r.OneOf("A", "local", Backends...); got != "openai" {
		t.Errorf("OneOf(A) = %q", got)
	}
	if got := r.OneOf("B", "local", Backends...); got != "local" {
		t.Errorf("OneOf(B) = %q, want default", got)
	}
	if got := r.OneOf("C", "local", Backends...); got != "local" {
		t.Errorf("OneOf(C) = %q", got)
	}
	if err := r.Err(); err == nil || !strings.Contains(err.Error(), "one of local, openai, placeholder") {
		t.Errorf("Err() = %v", err)
	}
}

func TestEnvReader_CollectsEveryError(t *testing.T) {
	r := NewEnvReader(MapLookup(map[string]string{"X": "x", "Y": "y"}))
	r.Int("X", 0, 0)
	r.Bool("Y", false)

	err := r.Err()
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Err() = %v", err)
	}
	for _, key := range []string{"X", "Y"} {
		if !strings.Contains(err.Error(), "Invalid "+key) {
			t.Errorf("error does not mention %s: %v", key, err)
		}
	}
}
