package preflight

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"sdqueue/core"
	"sdqueue/sdruntime"
	"sdqueue/settings"
)

// Free space thresholds for the output root.
const (
	MinFreeBytes  = 512 * humanize.MiByte
	WarnFreeBytes = 5 * humanize.GiByte
)

// Inputs is everything the startup checks look at.
type Inputs struct {
	Config    *core.ServerConfig
	ModelsDir string
}

// StartupChecks returns the checks run before the server starts, in order.
func StartupChecks(in Inputs) []Check {
	cfg := in.Config
	return []Check{
		{Name: "Output Directory", Run: func() Outcome { return checkOutputRoot(cfg.OutputRoot) }},
		{Name: "Disk Space", Run: func() Outcome { return checkDiskSpace(cfg.OutputRoot) }},
		{Name: "Settings File", Run: func() Outcome { return checkSettings(cfg.SettingsPath, cfg.OutputRoot) }},
		{Name: "Generation Backend", Run: func() Outcome { return checkBackend(cfg, in.ModelsDir) }},
		{Name: "Job Archive", Run: func() Outcome { return checkArchive(cfg.DBPath) }},
	}
}

// CheckWritableDir creates dir if needed and proves it is writable by
// creating and removing a temp file.
func CheckWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".tmp-preflight-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func checkOutputRoot(root string) Outcome {
	if root == "" {
		return Fail(core.ErrMissingConfig("OUTPUT_ROOT"))
	}
	if err := CheckWritableDir(root); err != nil {
		return Fail(core.ErrNotWritable("OUTPUT_ROOT", root, err))
	}
	abs, _ := filepath.Abs(root)
	return Pass("%s", abs)
}

func checkDiskSpace(root string) Outcome {
	ds, err := GetDiskSpace(root)
	if err != nil {
		return Warn("could not measure free space: %v", err)
	}
	switch {
	case ds.Free < MinFreeBytes:
		return Fail(fmt.Errorf("insufficient disk space at %s: need %s, have %s free",
			ds.Path, humanize.IBytes(MinFreeBytes), humanize.IBytes(ds.Free)))
	case ds.Free < WarnFreeBytes:
		return Warn("low disk space: %s", ds)
	}
	return Pass("%s", ds)
}

func checkSettings(path, outputRoot string) Outcome {
	s, err := settings.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Pass("%s will be created with defaults", path)
	}
	if err != nil {
		return Fail(core.ErrSettingsInvalid(path, err))
	}
	if err := s.Validate(outputRoot); err != nil {
		return Fail(core.ErrSettingsInvalid(path, err))
	}
	return Pass("%s (default model %s)", path, s.Model.DefaultModel)
}

// checkBackend verifies what the selected backend needs. Problems that
// only make individual jobs fail are warnings; the server is still useful
// for queueing and inspection.
func checkBackend(cfg *core.ServerConfig, modelsDir string) Outcome {
	switch cfg.Backend {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return Fail(core.ErrMissingAuth("openai"))
		}
		return Pass("openai (key %s)", maskKey(cfg.OpenAIAPIKey))
	case "placeholder":
		return Warn("placeholder backend renders gradients, not diffusion output")
	}

	info, err := os.Stat(modelsDir)
	if err != nil || !info.IsDir() {
		return Fail(&core.ConfigError{
			Code:    core.ErrCodeModelNotFound,
			Message: fmt.Sprintf("Models directory not found: %s", modelsDir),
			Action:  "Create it or set SD_MODELS_DIR",
		})
	}
	if !sdruntime.NativeLinked {
		return Warn("built without stable-diffusion.cpp; local generations will fail")
	}

	defaultModel := settings.Default().Model.DefaultModel
	if s, err := settings.Load(cfg.SettingsPath); err == nil {
		defaultModel = s.Model.DefaultModel
	}
	modelPath := filepath.Join(modelsDir, defaultModel)
	if _, err := os.Stat(modelPath); err != nil {
		return Warn("%s", core.ErrModelNotFound(modelPath).Message)
	}
	return Pass("local %s, model %s", sdruntime.BackendInfo(), defaultModel)
}

func checkArchive(dbPath string) Outcome {
	if dbPath == "" {
		return Skip("disabled (DB_PATH is empty)")
	}
	if err := CheckWritableDir(filepath.Dir(dbPath)); err != nil {
		return Fail(core.ErrNotWritable("DB_PATH", filepath.Dir(dbPath), err))
	}
	return Pass("%s", dbPath)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:3] + "..." + key[len(key)-4:]
}
