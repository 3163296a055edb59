package sdruntime

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPromptWithLoRAs(t *testing.T) {
	tests := []struct {
		name  string
		loras []LoRA
		want  string
	}{
		{"none", nil, "a cat"},
		{"one", []LoRA{{Name: "pixel.safetensors", Weight: 0.8}}, "a cat <lora:pixel:0.8>"},
		{"nested", []LoRA{{Name: "styles/ink", Weight: 1}, {Name: "detail.pt", Weight: -0.5}},
			"a cat <lora:styles/ink:1> <lora:detail:-0.5>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PromptWithLoRAs("a cat", tt.loras); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveLoRA(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "styles"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{"pixel.safetensors", "styles/ink.ckpt"} {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name    string
		want    string
		wantErr error
	}{
		{"pixel", "pixel.safetensors", nil},
		{"pixel.safetensors", "pixel.safetensors", nil},
		{"styles/ink", "styles/ink.ckpt", nil},
		{"missing", "", ErrLoRANotFound},
		{"styles", "", ErrLoRANotFound},
		{"../pixel", "", ErrInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveLoRA(dir, tt.name)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != filepath.Join(dir, tt.want) {
				t.Errorf("got %s", got)
			}
		})
	}
}
