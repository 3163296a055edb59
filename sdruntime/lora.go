package sdruntime

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var loraExtensions = []string{".safetensors", ".ckpt", ".pt", ".bin"}

func validateLoRAName(name string) error {
	if name == "" || !filepath.IsLocal(name) {
		return fmt.Errorf("%w: lora %q must be a relative path", ErrInvalidParams, name)
	}
	if strings.ContainsAny(name, "<>:\x00") {
		return fmt.Errorf("%w: lora %q contains reserved characters", ErrInvalidParams, name)
	}
	return nil
}

// ResolveLoRA finds the adapter file for name inside dir. name may omit
// the file extension.
func ResolveLoRA(dir, name string) (string, error) {
	if err := validateLoRAName(name); err != nil {
		return "", err
	}
	candidates := []string{name}
	if filepath.Ext(name) == "" {
		candidates = candidates[:0]
		for _, ext := range loraExtensions {
			candidates = append(candidates, name+ext)
		}
	}
	for _, c := range candidates {
		p := filepath.Join(dir, c)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", ErrLoRANotFound, name, dir)
}

// PromptWithLoRAs appends one <lora:name:weight> tag per adapter. The tag
// name is the path without extension, with forward slashes.
func PromptWithLoRAs(prompt string, loras []LoRA) string {
	if len(loras) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	for _, l := range loras {
		name := strings.TrimSuffix(l.Name, filepath.Ext(l.Name))
		fmt.Fprintf(&b, " <lora:%s:%s>", filepath.ToSlash(name), strconv.FormatFloat(l.Weight, 'g', -1, 64))
	}
	return b.String()
}
