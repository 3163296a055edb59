// Package imagegen turns a running job into an artifact on disk.
//
// A Backend produces PNG bytes from a Request. Three are provided: the
// local stable-diffusion.cpp runtime, the OpenAI images API, and a
// placeholder that renders a seeded gradient for development without a
// GPU. Pipeline wraps a Backend with the current settings and the output
// store; it is what the worker calls.
package imagegen

import (
	"context"
	"errors"
	"fmt"

	"sdqueue/jobs"
	"sdqueue/settings"
)

// Backend kinds accepted by GENERATION_BACKEND.
const (
	KindLocal       = "local"
	KindOpenAI      = "openai"
	KindPlaceholder = "placeholder"
)

var (
	ErrUnknownBackend = errors.New("imagegen: unknown backend")
	ErrInvalidOutput  = errors.New("imagegen: backend returned an invalid image")
	ErrEmptyResponse  = errors.New("imagegen: backend returned no image")
)

// Request is what a backend needs for one image.
type Request struct {
	Model          string
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	GuidanceScale  float64
	// Seed is -1 for a backend-chosen seed.
	Seed     int64
	LoRAs    []jobs.LoRA
	Hardware settings.HardwareSettings
}

// RequestFromParams combines job parameters with the current hardware
// toggles.
func RequestFromParams(p jobs.Params, hw settings.HardwareSettings) Request {
	seed := int64(-1)
	if p.Seed != nil {
		seed = *p.Seed
	}
	return Request{
		Model:          p.Model,
		Prompt:         p.Prompt,
		NegativePrompt: p.NegativePrompt,
		Width:          p.Width,
		Height:         p.Height,
		Steps:          p.Steps,
		GuidanceScale:  p.GuidanceScale,
		Seed:           seed,
		LoRAs:          p.LoRAs,
		Hardware:       hw,
	}
}

// Image is a backend result. Seed is -1 when the backend cannot report it.
type Image struct {
	PNG    []byte
	Width  int
	Height int
	Seed   int64
}

// Backend generates images. Implementations are called by a single
// worker and need not be safe for concurrent use.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Image, error)
}

// ValidKind reports whether kind names a known backend.
func ValidKind(kind string) error {
	switch kind {
	case KindLocal, KindOpenAI, KindPlaceholder:
		return nil
	}
	return fmt.Errorf("%w: %q (want %s, %s or %s)", ErrUnknownBackend, kind, KindLocal, KindOpenAI, KindPlaceholder)
}
