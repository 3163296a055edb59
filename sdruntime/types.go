package sdruntime

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// LoRA is an adapter file name (relative to the LoRA directory) and its
// strength.
type LoRA struct {
	Name   string
	Weight float64
}

// Options are memory/speed toggles applied when a model is loaded.
type Options struct {
	AttentionSlicing bool
	VAETiling        bool
	CPUOffload       bool
	HalfPrecision    bool
}

// GenerateParams holds parameters for one txt2img run.
type GenerateParams struct {
	Model          string // model file name, relative to Config.ModelsDir
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	CFGScale       float64
	Seed           int64 // -1 picks a random seed
	LoRAs          []LoRA
	Options        Options
}

const (
	MinImageSize      = 64
	MaxImageSize      = 2048
	ImageSizeMultiple = 8

	MinSteps = 1
	MaxSteps = 150

	MinCFGScale = 0.0
	MaxCFGScale = 30.0

	// MaxPromptLength is counted in characters, before LoRA tags are added.
	MaxPromptLength = 2000
)

// ValidatePrompt rejects empty prompts, NUL bytes and over-long text.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return fmt.Errorf("%w: prompt cannot be empty", ErrInvalidPrompt)
	}
	if strings.ContainsRune(prompt, '\x00') {
		return fmt.Errorf("%w: prompt contains null bytes", ErrInvalidPrompt)
	}
	if n := utf8.RuneCountInString(prompt); n > MaxPromptLength {
		return fmt.Errorf("%w: prompt length %d exceeds maximum %d", ErrInvalidPrompt, n, MaxPromptLength)
	}
	return nil
}

// ValidateParams checks p before anything is handed to the C library.
func ValidateParams(p GenerateParams) error {
	if err := ValidatePrompt(p.Prompt); err != nil {
		return err
	}
	if strings.ContainsRune(p.NegativePrompt, '\x00') {
		return fmt.Errorf("%w: negative prompt contains null bytes", ErrInvalidParams)
	}
	if utf8.RuneCountInString(p.NegativePrompt) > MaxPromptLength {
		return fmt.Errorf("%w: negative prompt exceeds %d characters", ErrInvalidParams, MaxPromptLength)
	}
	if err := validateSize("width", p.Width); err != nil {
		return err
	}
	if err := validateSize("height", p.Height); err != nil {
		return err
	}
	if p.Steps < MinSteps || p.Steps > MaxSteps {
		return fmt.Errorf("%w: steps %d must be between %d and %d", ErrInvalidParams, p.Steps, MinSteps, MaxSteps)
	}
	if p.CFGScale < MinCFGScale || p.CFGScale > MaxCFGScale {
		return fmt.Errorf("%w: cfg scale %.2f must be between %.1f and %.1f", ErrInvalidParams, p.CFGScale, MinCFGScale, MaxCFGScale)
	}
	for _, l := range p.LoRAs {
		if err := validateLoRAName(l.Name); err != nil {
			return err
		}
	}
	return nil
}

func validateSize(name string, v int) error {
	if v < MinImageSize || v > MaxImageSize {
		return fmt.Errorf("%w: %s %d must be between %d and %d", ErrInvalidParams, name, v, MinImageSize, MaxImageSize)
	}
	if v%ImageSizeMultiple != 0 {
		return fmt.Errorf("%w: %s %d must be divisible by %d", ErrInvalidParams, name, v, ImageSizeMultiple)
	}
	return nil
}
