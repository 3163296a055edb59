package sdruntime

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config locates models and adapters for a Runtime.
type Config struct {
	ModelsDir      string
	LoRADir        string
	Threads        int
	VerifyChecksum bool
}

const DefaultModelsDir = "models"

// LoadConfig reads the runtime configuration from the environment.
func LoadConfig() Config {
	cfg := Config{
		ModelsDir:      os.Getenv("SD_MODELS_DIR"),
		LoRADir:        os.Getenv("SD_LORA_DIR"),
		Threads:        parseThreads(os.Getenv("SD_THREADS")),
		VerifyChecksum: parseBool(os.Getenv("SD_VERIFY_CHECKSUM")),
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = DefaultModelsDir
	}
	if cfg.LoRADir == "" {
		cfg.LoRADir = filepath.Join(cfg.ModelsDir, "lora")
	}
	return cfg
}

// ModelPath joins a model name onto the models directory. Absolute names
// and names that leave the directory are rejected.
func (c Config) ModelPath(name string) (string, error) {
	if name == "" || !filepath.IsLocal(name) {
		return "", ErrModelNotFound
	}
	return filepath.Join(c.ModelsDir, name), nil
}

func parseThreads(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
