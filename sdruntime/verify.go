package sdruntime

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

var (
	checksumMu sync.RWMutex
	// modelChecksums maps model file names to their SHA256.
	modelChecksums = map[string]string{
		"sd-v1-5.safetensors": "6ce0161689b3853acaa03779ec93eafe75a02f4ced659bee03f50797806fa2fa",
	}
)

// RegisterModelChecksum adds or replaces a known checksum.
func RegisterModelChecksum(modelName, checksum string) {
	checksumMu.Lock()
	defer checksumMu.Unlock()
	modelChecksums[modelName] = checksum
}

// ExpectedChecksum looks up the registered checksum for a model file name.
func ExpectedChecksum(modelName string) (string, bool) {
	checksumMu.RLock()
	defer checksumMu.RUnlock()
	sum, ok := modelChecksums[modelName]
	return sum, ok
}

// VerifyModelChecksum compares a model file with its registered checksum.
// Models without a registered checksum pass.
func VerifyModelChecksum(modelPath string) error {
	expected, ok := ExpectedChecksum(filepath.Base(modelPath))
	if !ok {
		if _, err := os.Stat(modelPath); err != nil {
			return modelStatError(modelPath, err)
		}
		return nil
	}
	actual, err := CalculateChecksum(modelPath)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrModelCorrupted, expected, actual)
	}
	return nil
}

// CalculateChecksum streams a file through SHA256.
func CalculateChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", modelStatError(path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("sdruntime: read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func modelStatError(path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrModelNotFound, path)
	}
	return fmt.Errorf("%w: unable to access %s: %v", ErrModelLoadFailed, path, err)
}
