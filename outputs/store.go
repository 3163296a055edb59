// Package outputs stores generated images under a fixed root directory and
// serves them back by name without ever resolving outside that root.
package outputs

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotFound      = errors.New("outputs: artifact not found")
	ErrPathTraversal = errors.New("outputs: name escapes the output directory")
)

// MetadataSuffix is appended to an artifact name for its JSON sidecar.
const MetadataSuffix = ".json"

// maxDecodeRounds bounds repeated percent-decoding of a requested name.
const maxDecodeRounds = 4

// Entry describes one stored artifact.
type Entry struct {
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Size        int64     `json:"size"`
	ModifiedAt  time.Time `json:"modified_at"`
	HasMetadata bool      `json:"has_metadata"`
}

// Store reads and writes artifacts below root. Every directory argument
// must be inside root.
type Store struct {
	root   string
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates root if needed.
func NewStore(root string, logger *zap.Logger) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("outputs: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("outputs: create root: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{root: abs, logger: logger, now: time.Now}, nil
}

// Root is the absolute output root.
func (s *Store) Root() string { return s.root }

// URLFor is the HTTP path an artifact is served from.
func URLFor(name string) string {
	return "/outputs/" + url.PathEscape(name)
}

// Save writes png as a new artifact in dir and, when meta is non-nil, a
// JSON sidecar next to it.
func (s *Store) Save(dir string, png []byte, meta any) (Entry, error) {
	if err := s.checkDir(dir); err != nil {
		return Entry{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Entry{}, fmt.Errorf("outputs: create dir: %w", err)
	}

	name := fmt.Sprintf("%s_%s.png", s.now().UTC().Format("20060102-150405"), uuid.New().String()[:8])
	path := filepath.Join(dir, name)
	if err := writeFileAtomic(path, png); err != nil {
		return Entry{}, err
	}

	entry := Entry{Name: name, URL: URLFor(name), Size: int64(len(png)), ModifiedAt: s.now()}
	if meta != nil {
		data, err := json.MarshalIndent(meta, "", "  ")
		if err == nil {
			err = writeFileAtomic(path+MetadataSuffix, data)
		}
		if err != nil {
			s.logger.Warn("failed to write metadata sidecar", zap.String("artifact", name), zap.Error(err))
		} else {
			entry.HasMetadata = true
		}
	}
	return entry, nil
}

// List returns the PNG artifacts in dir, newest first. A missing dir is
// an empty listing.
func (s *Store) List(dir string) ([]Entry, error) {
	if err := s.checkDir(dir); err != nil {
		return nil, err
	}
	des, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("outputs: list: %w", err)
	}

	names := make(map[string]bool, len(des))
	for _, de := range des {
		names[de.Name()] = true
	}

	entries := make([]Entry, 0, len(des))
	for _, de := range des {
		name := de.Name()
		if !de.Type().IsRegular() || strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ".png") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:        name,
			URL:         URLFor(name),
			Size:        info.Size(),
			ModifiedAt:  info.ModTime(),
			HasMetadata: names[name+MetadataSuffix],
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ModifiedAt.Equal(entries[j].ModifiedAt) {
			return entries[i].Name > entries[j].Name
		}
		return entries[i].ModifiedAt.After(entries[j].ModifiedAt)
	})
	return entries, nil
}

// CanonicalName percent-decodes raw until it is stable and returns it
// when it names a plain file directly inside a directory.
func CanonicalName(raw string) (string, error) {
	name := raw
	for i := 0; ; i++ {
		dec, err := url.PathUnescape(name)
		if err != nil {
			return "", ErrNotFound
		}
		if dec == name {
			break
		}
		if i == maxDecodeRounds {
			return "", ErrPathTraversal
		}
		name = dec
	}

	switch {
	case name == "", name == ".", name == "..":
		return "", ErrPathTraversal
	case strings.ContainsAny(name, "/\\\x00"):
		return "", ErrPathTraversal
	case filepath.IsAbs(name), filepath.VolumeName(name) != "", !filepath.IsLocal(name):
		return "", ErrPathTraversal
	case strings.HasPrefix(name, "."):
		return "", ErrNotFound
	}
	return name, nil
}

// Resolve maps a requested name to a regular file in dir. Symlinks and
// directories are reported as not found.
func (s *Store) Resolve(dir, raw string) (string, error) {
	if err := s.checkDir(dir); err != nil {
		return "", err
	}
	name, err := CanonicalName(raw)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if !within(s.root, path) {
		return "", ErrPathTraversal
	}
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return path, nil
}

// Remove deletes an artifact and its sidecar. It reports whether the
// artifact existed and was removed.
func (s *Store) Remove(dir, raw string) bool {
	path, err := s.Resolve(dir, raw)
	if err != nil {
		return false
	}
	if err := os.Remove(path); err != nil {
		s.logger.Warn("failed to remove artifact", zap.String("path", path), zap.Error(err))
		return false
	}
	if err := os.Remove(path + MetadataSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("failed to remove metadata sidecar", zap.String("path", path), zap.Error(err))
	}
	return true
}

func (s *Store) checkDir(dir string) error {
	if !filepath.IsAbs(dir) || !within(s.root, filepath.Clean(dir)) {
		return ErrPathTraversal
	}
	return nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || filepath.IsLocal(rel)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("outputs: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("outputs: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("outputs: close: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("outputs: chmod: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("outputs: rename: %w", err)
	}
	return nil
}
