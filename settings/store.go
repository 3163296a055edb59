package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Store owns the live Settings value. Readers get copies; writers replace
// the value wholesale after validation.
type Store struct {
	mu         sync.RWMutex
	current    Settings
	path       string
	outputRoot string
	logger     *zap.Logger
}

// NewStore wraps an already validated value. An empty path disables
// persistence.
func NewStore(initial Settings, path, outputRoot string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		current:    initial,
		path:       path,
		outputRoot: outputRoot,
		logger:     logger,
	}
}

// Open loads settings from path, writing the defaults there when the file
// does not exist yet.
func Open(path, outputRoot string, logger *zap.Logger) (*Store, error) {
	s, err := Load(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s = Default()
		if err := Save(path, s); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}
	if err := s.Validate(outputRoot); err != nil {
		return nil, fmt.Errorf("settings: %s: %w", path, err)
	}
	return NewStore(s, path, outputRoot, logger), nil
}

// Load reads a YAML settings file over the defaults. Unknown keys are an
// error.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	s := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty file decodes to the defaults.
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("settings: parse %s: %w", path, err)
	}
	return s, nil
}

// Save writes s as YAML, replacing path atomically.
func Save(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("settings: create dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("settings: replace: %w", err)
	}
	return nil
}

// Current returns a copy of the live settings.
func (st *Store) Current() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current
}

// OutputRoot is the directory every output location must stay inside.
func (st *Store) OutputRoot() string {
	return st.outputRoot
}

// OutputDir resolves the configured output directory.
func (st *Store) OutputDir() (string, error) {
	return ResolveDirectory(st.outputRoot, st.Current().Output.Directory)
}

// Replace applies a full configuration document.
func (st *Store) Replace(raw []byte) (Settings, error) {
	return st.update("replace", func(cur Settings) (Settings, error) {
		return ApplyReplace(cur, raw, st.outputRoot)
	})
}

// UpdateGeneration applies a partial generation section.
func (st *Store) UpdateGeneration(raw []byte) (Settings, error) {
	return st.update("generation", func(cur Settings) (Settings, error) {
		return ApplyGeneration(cur, raw, st.outputRoot)
	})
}

func (st *Store) update(op string, apply func(Settings) (Settings, error)) (Settings, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	next, err := apply(st.current)
	if err != nil {
		st.logger.Warn("settings update rejected", zap.String("op", op), zap.Error(err))
		return Settings{}, err
	}
	st.current = next

	if st.path != "" {
		if err := Save(st.path, next); err != nil {
			st.logger.Error("failed to persist settings", zap.String("path", st.path), zap.Error(err))
		}
	}
	st.logger.Info("settings updated", zap.String("op", op))
	return next, nil
}
