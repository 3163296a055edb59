package sdruntime

import "errors"

var (
	ErrModelNotFound   = errors.New("sdruntime: model file not found")
	ErrModelLoadFailed = errors.New("sdruntime: failed to load model")
	ErrModelCorrupted  = errors.New("sdruntime: model file is corrupted or invalid")
	ErrLoRANotFound    = errors.New("sdruntime: lora file not found")

	ErrGenerationFailed  = errors.New("sdruntime: image generation failed")
	ErrGenerationTimeout = errors.New("sdruntime: image generation timed out")
	ErrOutOfVRAM         = errors.New("sdruntime: out of VRAM")

	ErrInvalidPrompt = errors.New("sdruntime: invalid prompt")
	ErrInvalidParams = errors.New("sdruntime: invalid generation parameters")

	ErrRuntimeClosed = errors.New("sdruntime: runtime is closed")
)
