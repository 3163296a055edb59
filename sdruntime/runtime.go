package sdruntime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Runtime keeps one model loaded and runs generations one at a time.
type Runtime struct {
	cfg    Config
	logger *zap.Logger

	// mu is held for the full duration of a native call.
	mu     sync.Mutex
	sd     *SDContext
	closed bool
}

// NewRuntime creates a Runtime. No model is loaded until the first
// generation.
func NewRuntime(cfg Config, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{cfg: cfg, logger: logger}
}

type outcome struct {
	res *GenerateResult
	err error
}

// Generate loads p.Model if needed and runs txt2img. When ctx ends first
// Generate returns immediately; the native call cannot be interrupted, so
// it finishes in the background and the next call waits for it.
func (r *Runtime) Generate(ctx context.Context, p GenerateParams) (*GenerateResult, error) {
	if err := ValidateParams(p); err != nil {
		return nil, err
	}
	modelPath, err := r.cfg.ModelPath(p.Model)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, p.Model)
	}
	for _, l := range p.LoRAs {
		if _, err := ResolveLoRA(r.cfg.LoRADir, l.Name); err != nil {
			return nil, err
		}
	}

	done := make(chan outcome, 1)
	go func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.closed {
			done <- outcome{err: ErrRuntimeClosed}
			return
		}
		if err := ctx.Err(); err != nil {
			done <- outcome{err: err}
			return
		}
		if err := r.ensureLoaded(modelPath, p.Options); err != nil {
			done <- outcome{err: err}
			return
		}
		res, err := GenerateImage(r.sd, p)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrGenerationTimeout, ctx.Err())
		}
		return nil, ctx.Err()
	}
}

// ensureLoaded swaps the loaded context when the model or load options
// change. Caller holds r.mu.
func (r *Runtime) ensureLoaded(modelPath string, opts Options) error {
	if r.sd.IsValid() && r.sd.ModelPath() == modelPath && r.sd.Options() == opts {
		return nil
	}
	if r.sd != nil {
		r.logger.Info("unloading model", zap.String("model", r.sd.ModelPath()))
		FreeContext(r.sd)
		r.sd = nil
	}
	if r.cfg.VerifyChecksum {
		if err := VerifyModelChecksum(modelPath); err != nil {
			return err
		}
	}
	sd, err := LoadModel(modelPath, r.cfg.LoRADir, r.cfg.Threads, opts)
	if err != nil {
		return err
	}
	r.logger.Info("model loaded",
		zap.String("model", modelPath),
		zap.String("backend", BackendInfo()))
	r.sd = sd
	return nil
}

// LoadedModel returns the path of the loaded model, or "".
func (r *Runtime) LoadedModel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sd.IsValid() {
		return ""
	}
	return r.sd.ModelPath()
}

// Close frees the loaded model, waiting for a running native call. Later
// generations fail with ErrRuntimeClosed.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.sd != nil {
		FreeContext(r.sd)
		r.sd = nil
	}
	return nil
}
