package sdruntime

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeModel(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCalculateChecksum(t *testing.T) {
	content := []byte("weights")
	p := writeModel(t, t.TempDir(), "m.safetensors", content)

	sum := sha256.Sum256(content)
	got, err := CalculateChecksum(p)
	if err != nil {
		t.Fatal(err)
	}
	if got != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum = %s", got)
	}

	if _, err := CalculateChecksum(filepath.Join(t.TempDir(), "nope")); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("missing file: got %v", err)
	}
}

func TestVerifyModelChecksum(t *testing.T) {
	dir := t.TempDir()
	good := writeModel(t, dir, "verify-good.safetensors", []byte("good"))
	bad := writeModel(t, dir, "verify-bad.safetensors", []byte("tampered"))
	unknown := writeModel(t, dir, "verify-unknown.safetensors", []byte("?"))

	goodSum := sha256.Sum256([]byte("good"))
	RegisterModelChecksum("verify-good.safetensors", hex.EncodeToString(goodSum[:]))
	RegisterModelChecksum("verify-bad.safetensors", hex.EncodeToString(goodSum[:]))

	if err := VerifyModelChecksum(good); err != nil {
		t.Errorf("good model: %v", err)
	}
	if err := VerifyModelChecksum(bad); !errors.Is(err, ErrModelCorrupted) {
		t.Errorf("bad model: got %v", err)
	}
	if err := VerifyModelChecksum(unknown); err != nil {
		t.Errorf("unregistered model should pass: %v", err)
	}
	if err := VerifyModelChecksum(filepath.Join(dir, "absent.safetensors")); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("absent model: got %v", err)
	}
}
