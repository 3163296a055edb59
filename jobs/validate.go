package jobs

import (
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Request field limits.
const (
	MaxPromptLength  = 2000
	MaxSeed          = math.MaxInt32
	MinSteps         = 1
	MaxSteps         = 150
	MinGuidanceScale = 0.0
	MaxGuidanceScale = 30.0
	MinDimension     = 64
	MaxDimension     = 2048
	DimensionAlign   = 8
)

var errNotNumeric = errors.New("not a number")

// Number is a raw JSON scalar that is interpreted during validation, so a
// malformed numeric field becomes a Rejection instead of a decode error.
// Both JSON numbers and numeric strings are accepted.
type Number struct {
	raw string
	set bool
}

// NumberOf builds a Number from a Go value, mostly for tests and callers
// that do not go through JSON.
func NumberOf(v any) Number {
	b, err := json.Marshal(v)
	if err != nil {
		return Number{raw: "", set: true}
	}
	return Number{raw: string(b), set: true}
}

// UnmarshalJSON records the raw token. JSON null leaves the Number unset.
func (n *Number) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*n = Number{}
		return nil
	}
	n.raw = string(b)
	n.set = true
	return nil
}

// MarshalJSON writes the raw token back out.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.set {
		return []byte("null"), nil
	}
	return []byte(n.raw), nil
}

// IsSet reports whether the field was present and non-null.
func (n Number) IsSet() bool { return n.set }

func (n Number) text() (string, error) {
	s := n.raw
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal([]byte(s), &s); err != nil {
			return "", errNotNumeric
		}
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return "", errNotNumeric
	}
	return s, nil
}

// Float parses the value as a finite float.
func (n Number) Float() (float64, error) {
	s, err := n.text()
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotNumeric
	}
	return f, nil
}

// Int parses the value as an integer. Integral floats such as 20.0 are
// accepted.
func (n Number) Int() (int64, error) {
	s, err := n.text()
	if err != nil {
		return 0, err
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotNumeric
	}
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, errNotNumeric
	}
	return int64(f), nil
}

// Request is an untrusted generation request as received from a client.
// Unknown JSON fields are ignored.
type Request struct {
	Prompt         *string  `json:"prompt"`
	NegativePrompt *string  `json:"negative_prompt"`
	Model          string   `json:"model"`
	Seed           Number   `json:"seed"`
	Steps          Number   `json:"steps"`
	GuidanceScale  Number   `json:"guidance_scale"`
	Width          Number   `json:"width"`
	Height         Number   `json:"height"`
	LoRAs          []string `json:"loras"`
	LoRAWeights    []Number `json:"lora_weights"`
}

// Defaults fill in fields a request leaves out. Callers pass a copy taken
// from the configuration at validation time.
type Defaults struct {
	Model          string
	NegativePrompt string
	Steps          int
	GuidanceScale  float64
	Width          int
	Height         int
}

// Validate checks req and returns normalized Params, or a *Rejection
// naming the first offending field. It has no side effects.
func Validate(req Request, d Defaults) (Params, error) {
	p := Params{
		Model:          d.Model,
		NegativePrompt: d.NegativePrompt,
		Steps:          d.Steps,
		GuidanceScale:  d.GuidanceScale,
		Width:          d.Width,
		Height:         d.Height,
	}

	if req.Prompt == nil {
		return Params{}, reject("prompt", "is required")
	}
	prompt := strings.TrimSpace(*req.Prompt)
	if prompt == "" {
		return Params{}, reject("prompt", "must not be empty")
	}
	if err := checkText("prompt", prompt); err != nil {
		return Params{}, err
	}
	p.Prompt = prompt

	if req.NegativePrompt != nil {
		neg := strings.TrimSpace(*req.NegativePrompt)
		if err := checkText("negative_prompt", neg); err != nil {
			return Params{}, err
		}
		p.NegativePrompt = neg
	}

	if model := strings.TrimSpace(req.Model); model != "" {
		if !filepath.IsLocal(model) {
			return Params{}, reject("model", "must be a relative model name")
		}
		p.Model = model
	}

	if req.Seed.IsSet() {
		seed, err := req.Seed.Int()
		if err != nil {
			return Params{}, reject("seed", "must be an integer")
		}
		if seed < 0 || seed > MaxSeed {
			return Params{}, reject("seed", "must be between 0 and %d", MaxSeed)
		}
		p.Seed = &seed
	}

	if req.Steps.IsSet() {
		steps, err := intInRange("steps", req.Steps, MinSteps, MaxSteps)
		if err != nil {
			return Params{}, err
		}
		p.Steps = steps
	}

	if req.GuidanceScale.IsSet() {
		g, err := req.GuidanceScale.Float()
		if err != nil {
			return Params{}, reject("guidance_scale", "must be a number")
		}
		if g < MinGuidanceScale || g > MaxGuidanceScale {
			return Params{}, reject("guidance_scale", "must be between %g and %g", MinGuidanceScale, MaxGuidanceScale)
		}
		p.GuidanceScale = g
	}

	if req.Width.IsSet() {
		w, err := dimension("width", req.Width)
		if err != nil {
			return Params{}, err
		}
		p.Width = w
	}
	if req.Height.IsSet() {
		h, err := dimension("height", req.Height)
		if err != nil {
			return Params{}, err
		}
		p.Height = h
	}

	loras, err := normalizeLoRAs(req.LoRAs, req.LoRAWeights)
	if err != nil {
		return Params{}, err
	}
	p.LoRAs = loras

	return p, nil
}

func checkText(field, s string) error {
	if n := utf8.RuneCountInString(s); n > MaxPromptLength {
		return reject(field, "is %d characters, maximum is %d", n, MaxPromptLength)
	}
	if strings.ContainsRune(s, 0) {
		return reject(field, "must not contain NUL characters")
	}
	return nil
}

func intInRange(field string, n Number, lo, hi int) (int, error) {
	v, err := n.Int()
	if err != nil {
		return 0, reject(field, "must be an integer")
	}
	if v < int64(lo) || v > int64(hi) {
		return 0, reject(field, "must be between %d and %d", lo, hi)
	}
	return int(v), nil
}

func dimension(field string, n Number) (int, error) {
	v, err := intInRange(field, n, MinDimension, MaxDimension)
	if err != nil {
		return 0, err
	}
	if v%DimensionAlign != 0 {
		return 0, reject(field, "must be divisible by %d", DimensionAlign)
	}
	return v, nil
}

func normalizeLoRAs(paths []string, weights []Number) ([]LoRA, error) {
	if len(weights) > 1 && len(weights) != len(paths) {
		return nil, reject("lora_weights", "got %d weights for %d loras", len(weights), len(paths))
	}
	parsed := make([]float64, len(weights))
	for i, w := range weights {
		f, err := w.Float()
		if err != nil {
			return nil, reject("lora_weights", "entry %d must be a number", i)
		}
		parsed[i] = f
	}
	if len(paths) == 0 {
		return nil, nil
	}

	out := make([]LoRA, 0, len(paths))
	for i, raw := range paths {
		path := strings.TrimSpace(raw)
		if path == "" {
			return nil, reject("loras", "entry %d is empty", i)
		}
		if !filepath.IsLocal(path) {
			return nil, reject("loras", "entry %d must be a relative path", i)
		}
		weight := 1.0
		switch len(parsed) {
		case 0:
		case 1:
			weight = parsed[0]
		default:
			weight = parsed[i]
		}
		out = append(out, LoRA{Path: path, Weight: weight})
	}
	return out, nil
}
