//go:build !sd || stub

package sdruntime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"
)

func stubRuntime(t *testing.T) (*Runtime, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sd-v1-5.safetensors"), []byte("w"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "lora"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "lora", "ink.safetensors"), []byte("l"), 0o644); err != nil {
		t.Fatal(err)
	}
	rt := NewRuntime(Config{ModelsDir: dir, LoRADir: filepath.Join(dir, "lora")}, zaptest.NewLogger(t))
	t.Cleanup(func() { rt.Close() })
	return rt, dir
}

func TestRuntime_StubLoadsThenFails(t *testing.T) {
	rt, dir := stubRuntime(t)
	p := validParams()
	p.LoRAs = []LoRA{{Name: "ink", Weight: 0.7}}

	_, err := rt.Generate(context.Background(), p)
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("got %v, want ErrGenerationFailed", err)
	}
	if got := rt.LoadedModel(); got != filepath.Join(dir, "sd-v1-5.safetensors") {
		t.Errorf("LoadedModel = %q", got)
	}
}

func TestRuntime_MissingInputs(t *testing.T) {
	rt, _ := stubRuntime(t)

	p := validParams()
	p.Model = "absent.safetensors"
	if _, err := rt.Generate(context.Background(), p); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("missing model: got %v", err)
	}

	p = validParams()
	p.LoRAs = []LoRA{{Name: "ghost", Weight: 1}}
	if _, err := rt.Generate(context.Background(), p); !errors.Is(err, ErrLoRANotFound) {
		t.Errorf("missing lora: got %v", err)
	}
}

func TestRuntime_CancelledContext(t *testing.T) {
	rt, _ := stubRuntime(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := rt.Generate(ctx, validParams()); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestRuntime_Closed(t *testing.T) {
	rt, _ := stubRuntime(t)
	rt.Close()
	if _, err := rt.Generate(context.Background(), validParams()); !errors.Is(err, ErrRuntimeClosed) {
		t.Errorf("got %v, want ErrRuntimeClosed", err)
	}
	if err := rt.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
