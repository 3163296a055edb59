package imagegen

import (
	"context"

	"sdqueue/sdruntime"
)

// LocalBackend runs stable-diffusion.cpp in process.
type LocalBackend struct {
	rt *sdruntime.Runtime
}

// NewLocalBackend wraps a runtime. The caller closes the runtime.
func NewLocalBackend(rt *sdruntime.Runtime) *LocalBackend {
	return &LocalBackend{rt: rt}
}

func (b *LocalBackend) Name() string { return KindLocal }

func (b *LocalBackend) Generate(ctx context.Context, req Request) (*Image, error) {
	loras := make([]sdruntime.LoRA, len(req.LoRAs))
	for i, l := range req.LoRAs {
		loras[i] = sdruntime.LoRA{Name: l.Path, Weight: l.Weight}
	}
	res, err := b.rt.Generate(ctx, sdruntime.GenerateParams{
		Model:          req.Model,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		Steps:          req.Steps,
		CFGScale:       req.GuidanceScale,
		Seed:           req.Seed,
		LoRAs:          loras,
		Options: sdruntime.Options{
			AttentionSlicing: req.Hardware.AttentionSlicing,
			VAETiling:        req.Hardware.VAETiling,
			CPUOffload:       req.Hardware.CPUOffload,
			HalfPrecision:    req.Hardware.HalfPrecision,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Image{PNG: res.ImageData, Width: res.Width, Height: res.Height, Seed: res.Seed}, nil
}

var _ Backend = (*LocalBackend)(nil)
