// Package settings holds the mutable generation configuration: model,
// generation defaults, output location and hardware toggles. Every change
// goes through a validating apply function that returns a new value; the
// Store swaps values, it never edits one in place.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"sdqueue/jobs"
)

// ErrPathTraversal marks an output directory that resolves outside the
// output root.
var ErrPathTraversal = errors.New("settings: path escapes output root")

// ModelSettings selects the default model.
type ModelSettings struct {
	DefaultModel string `yaml:"default_model" json:"default_model"`
	CacheDir     string `yaml:"cache_dir" json:"cache_dir"`
}

// GenerationSettings are the defaults applied to requests that omit a field.
type GenerationSettings struct {
	Width          int     `yaml:"width" json:"width"`
	Height         int     `yaml:"height" json:"height"`
	Steps          int     `yaml:"steps" json:"steps"`
	GuidanceScale  float64 `yaml:"guidance_scale" json:"guidance_scale"`
	NegativePrompt string  `yaml:"negative_prompt" json:"negative_prompt"`
}

// OutputSettings control where artifacts are written.
type OutputSettings struct {
	// Directory is relative to the output root, or absolute inside it.
	Directory    string `yaml:"directory" json:"directory"`
	SaveMetadata bool   `yaml:"save_metadata" json:"save_metadata"`
}

// HardwareSettings are memory/speed trade-offs passed to the runtime.
type HardwareSettings struct {
	AttentionSlicing bool `yaml:"attention_slicing" json:"attention_slicing"`
	VAETiling        bool `yaml:"vae_tiling" json:"vae_tiling"`
	CPUOffload       bool `yaml:"cpu_offload" json:"cpu_offload"`
	HalfPrecision    bool `yaml:"half_precision" json:"half_precision"`
}

// Settings is the complete configuration value.
type Settings struct {
	Model      ModelSettings      `yaml:"model" json:"model"`
	Generation GenerationSettings `yaml:"generation" json:"generation"`
	Output     OutputSettings     `yaml:"output" json:"output"`
	Hardware   HardwareSettings   `yaml:"hardware" json:"hardware"`
}

// Default returns the built-in configuration.
func Default() Settings {
	return Settings{
		Model: ModelSettings{
			DefaultModel: "sd-v1-5.safetensors",
		},
		Generation: GenerationSettings{
			Width:          512,
			Height:         512,
			Steps:          20,
			GuidanceScale:  7.5,
			NegativePrompt: "",
		},
		Output: OutputSettings{
			Directory:    ".",
			SaveMetadata: true,
		},
		Hardware: HardwareSettings{
			AttentionSlicing: true,
			HalfPrecision:    true,
		},
	}
}

// JobDefaults converts the generation section into validator defaults.
func (s Settings) JobDefaults() jobs.Defaults {
	return jobs.Defaults{
		Model:          s.Model.DefaultModel,
		NegativePrompt: s.Generation.NegativePrompt,
		Steps:          s.Generation.Steps,
		GuidanceScale:  s.Generation.GuidanceScale,
		Width:          s.Generation.Width,
		Height:         s.Generation.Height,
	}
}

// Rejection explains why a configuration write was refused.
type Rejection struct {
	Field     string `json:"field"`
	Reason    string `json:"reason"`
	Traversal bool   `json:"-"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Field, r.Reason)
}

func (r *Rejection) Unwrap() error {
	if r.Traversal {
		return ErrPathTraversal
	}
	return nil
}

func reject(field, format string, args ...any) *Rejection {
	return &Rejection{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks every section. outputRoot bounds output.directory.
func (s Settings) Validate(outputRoot string) error {
	if strings.TrimSpace(s.Model.DefaultModel) == "" {
		return reject("model.default_model", "must not be empty")
	}
	if !filepath.IsLocal(s.Model.DefaultModel) {
		return reject("model.default_model", "must be a relative model name")
	}
	if err := s.Generation.validate(); err != nil {
		return err
	}
	if _, err := ResolveDirectory(outputRoot, s.Output.Directory); err != nil {
		return err
	}
	return nil
}

func (g GenerationSettings) validate() error {
	for _, d := range []struct {
		field string
		v     int
	}{{"generation.width", g.Width}, {"generation.height", g.Height}} {
		if d.v < jobs.MinDimension || d.v > jobs.MaxDimension {
			return reject(d.field, "must be between %d and %d", jobs.MinDimension, jobs.MaxDimension)
		}
		if d.v%jobs.DimensionAlign != 0 {
			return reject(d.field, "must be divisible by %d", jobs.DimensionAlign)
		}
	}
	if g.Steps < jobs.MinSteps || g.Steps > jobs.MaxSteps {
		return reject("generation.steps", "must be between %d and %d", jobs.MinSteps, jobs.MaxSteps)
	}
	if g.GuidanceScale < jobs.MinGuidanceScale || g.GuidanceScale > jobs.MaxGuidanceScale {
		return reject("generation.guidance_scale", "must be between %g and %g", jobs.MinGuidanceScale, jobs.MaxGuidanceScale)
	}
	if utf8.RuneCountInString(g.NegativePrompt) > jobs.MaxPromptLength {
		return reject("generation.negative_prompt", "must be at most %d characters", jobs.MaxPromptLength)
	}
	return nil
}

// ResolveDirectory returns the absolute form of dir, which is taken
// relative to root unless absolute. Anything that leaves root, lexically
// or through a symlink, is rejected.
func ResolveDirectory(root, dir string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", reject("output.directory", "output root is unusable: %v", err)
	}
	if strings.TrimSpace(dir) == "" {
		return "", reject("output.directory", "must not be empty")
	}
	if strings.ContainsRune(dir, 0) {
		return "", &Rejection{Field: "output.directory", Reason: "contains NUL", Traversal: true}
	}

	target := dir
	if !filepath.IsAbs(target) {
		target = filepath.Join(absRoot, target)
	}
	target = filepath.Clean(target)
	if !within(absRoot, target) {
		return "", &Rejection{Field: "output.directory", Reason: "resolves outside the output root", Traversal: true}
	}

	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		// Root not created yet; the lexical check is all there is.
		return target, nil
	}
	if realTarget, err := evalExisting(target); err == nil && !within(realRoot, realTarget) {
		return "", &Rejection{Field: "output.directory", Reason: "resolves outside the output root", Traversal: true}
	}
	return target, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || filepath.IsLocal(rel)
}

// evalExisting resolves symlinks in the longest existing prefix of path.
func evalExisting(path string) (string, error) {
	var rest []string
	p := path
	for {
		if _, err := os.Lstat(p); err == nil {
			real, err := filepath.EvalSymlinks(p)
			if err != nil {
				return "", err
			}
			for i := len(rest) - 1; i >= 0; i-- {
				real = filepath.Join(real, rest[i])
			}
			return real, nil
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", os.ErrNotExist
		}
		rest = append(rest, filepath.Base(p))
		p = parent
	}
}
