package sdruntime

import (
	"errors"
	"strings"
	"testing"
)

func validParams() GenerateParams {
	return GenerateParams{
		Model:    "sd-v1-5.safetensors",
		Prompt:   "a lighthouse at dusk",
		Width:    512,
		Height:   512,
		Steps:    20,
		CFGScale: 7.5,
		Seed:     -1,
	}
}

func TestValidateParams_Valid(t *testing.T) {
	if err := ValidateParams(validParams()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateParams_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GenerateParams)
		want   error
	}{
		{"empty prompt", func(p *GenerateParams) { p.Prompt = " " }, ErrInvalidPrompt},
		{"nul prompt", func(p *GenerateParams) { p.Prompt = "a\x00b" }, ErrInvalidPrompt},
		{"long prompt", func(p *GenerateParams) { p.Prompt = strings.Repeat("p", MaxPromptLength+1) }, ErrInvalidPrompt},
		{"nul negative", func(p *GenerateParams) { p.NegativePrompt = "\x00" }, ErrInvalidParams},
		{"width small", func(p *GenerateParams) { p.Width = 56 }, ErrInvalidParams},
		{"width unaligned", func(p *GenerateParams) { p.Width = 513 }, ErrInvalidParams},
		{"height large", func(p *GenerateParams) { p.Height = 4096 }, ErrInvalidParams},
		{"steps zero", func(p *GenerateParams) { p.Steps = 0 }, ErrInvalidParams},
		{"steps high", func(p *GenerateParams) { p.Steps = 151 }, ErrInvalidParams},
		{"cfg high", func(p *GenerateParams) { p.CFGScale = 31 }, ErrInvalidParams},
		{"lora traversal", func(p *GenerateParams) { p.LoRAs = []LoRA{{Name: "../x", Weight: 1}} }, ErrInvalidParams},
		{"lora tag chars", func(p *GenerateParams) { p.LoRAs = []LoRA{{Name: "a:b>", Weight: 1}} }, ErrInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			if err := ValidateParams(p); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResolveSeed(t *testing.T) {
	if got := ResolveSeed(1234); got != 1234 {
		t.Errorf("ResolveSeed(1234) = %d", got)
	}
	for i := 0; i < 100; i++ {
		s := ResolveSeed(-1)
		if s < 0 || s > MaxSeed {
			t.Fatalf("random seed %d out of range", s)
		}
	}
}
