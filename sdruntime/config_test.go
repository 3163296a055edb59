package sdruntime

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SD_MODELS_DIR", "/srv/models")
	t.Setenv("SD_LORA_DIR", "")
	t.Setenv("SD_THREADS", "6")
	t.Setenv("SD_VERIFY_CHECKSUM", "yes")

	cfg := LoadConfig()
	if cfg.ModelsDir != "/srv/models" {
		t.Errorf("ModelsDir = %s", cfg.ModelsDir)
	}
	if cfg.LoRADir != filepath.Join("/srv/models", "lora") {
		t.Errorf("LoRADir = %s", cfg.LoRADir)
	}
	if cfg.Threads != 6 || !cfg.VerifyChecksum {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("SD_MODELS_DIR", "")
	t.Setenv("SD_LORA_DIR", "")
	t.Setenv("SD_THREADS", "lots")
	t.Setenv("SD_VERIFY_CHECKSUM", "")

	cfg := LoadConfig()
	if cfg.ModelsDir != DefaultModelsDir || cfg.Threads != 0 || cfg.VerifyChecksum {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestConfig_ModelPath(t *testing.T) {
	cfg := Config{ModelsDir: "/models"}
	if p, err := cfg.ModelPath("xl/base.safetensors"); err != nil || p != filepath.Join("/models", "xl/base.safetensors") {
		t.Errorf("ModelPath = %s, %v", p, err)
	}
	for _, bad := range []string{"", "../x", "/etc/passwd"} {
		if _, err := cfg.ModelPath(bad); !errors.Is(err, ErrModelNotFound) {
			t.Errorf("ModelPath(%q) = %v", bad, err)
		}
	}
}
