//go:build !sd || !cgo || stub

package sdruntime

import (
	"fmt"
	"os"
	"sync/atomic"
)

// NativeLinked reports whether stable-diffusion.cpp is compiled in.
const NativeLinked = false

var stubContextCounter uint64

func loadModelImpl(modelPath, loraDir string, threads int, opts Options) (*SDContext, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, modelStatError(modelPath, err)
	}
	return &SDContext{
		id:        atomic.AddUint64(&stubContextCounter, 1),
		modelPath: modelPath,
		loraDir:   loraDir,
		opts:      opts,
		valid:     true,
	}, nil
}

func generateImageImpl(ctx *SDContext, prompt string, params GenerateParams) (*GenerateResult, error) {
	if !ctx.IsValid() {
		return nil, fmt.Errorf("%w: context is nil or invalid", ErrGenerationFailed)
	}
	return nil, fmt.Errorf("%w: stable-diffusion.cpp is not linked (stub build); "+
		"rebuild with CGO and the 'sd' tag", ErrGenerationFailed)
}

func freeContextImpl(ctx *SDContext) {
	if ctx == nil {
		return
	}
	ctx.valid = false
}

func backendInfoImpl() string {
	return "stub (no stable-diffusion.cpp library linked)"
}
