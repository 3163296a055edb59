package settings

import (
	"encoding/json"
	"errors"
	"sort"
)

var sectionKeys = map[string]map[string]bool{
	"model": {
		"default_model": true,
		"cache_dir":     true,
	},
	"generation": {
		"width":           true,
		"height":          true,
		"steps":           true,
		"guidance_scale":  true,
		"negative_prompt": true,
	},
	"output": {
		"directory":     true,
		"save_metadata": true,
	},
	"hardware": {
		"attention_slicing": true,
		"vae_tiling":        true,
		"cpu_offload":       true,
		"half_precision":    true,
	},
}

// RequiredSections must all be present in a full replacement. A missing
// hardware section keeps the current toggles.
var RequiredSections = []string{"model", "generation", "output"}

// ApplyReplace validates a full configuration document against cur and
// returns the resulting value. cur is never modified.
func ApplyReplace(cur Settings, raw []byte, outputRoot string) (Settings, error) {
	top, err := decodeObject("config", raw)
	if err != nil {
		return Settings{}, err
	}
	for _, k := range sortedKeys(top) {
		if _, ok := sectionKeys[k]; !ok {
			return Settings{}, reject(k, "unrecognized section")
		}
	}
	for _, name := range RequiredSections {
		if _, ok := top[name]; !ok {
			return Settings{}, reject(name, "section is required")
		}
	}

	next := cur
	targets := map[string]any{
		"model":      &next.Model,
		"generation": &next.Generation,
		"output":     &next.Output,
		"hardware":   &next.Hardware,
	}
	for _, name := range sortedKeys(top) {
		if err := decodeSection(name, top[name], targets[name]); err != nil {
			return Settings{}, err
		}
	}

	if err := next.Validate(outputRoot); err != nil {
		return Settings{}, err
	}
	return next, nil
}

// ApplyGeneration merges a partial generation section into cur. Only
// generation keys are accepted.
func ApplyGeneration(cur Settings, raw []byte, outputRoot string) (Settings, error) {
	next := cur
	if err := decodeSection("generation", raw, &next.Generation); err != nil {
		return Settings{}, err
	}
	if err := next.Validate(outputRoot); err != nil {
		return Settings{}, err
	}
	return next, nil
}

func decodeObject(field string, raw []byte) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, reject(field, "must be a JSON object")
	}
	return obj, nil
}

func decodeSection(name string, raw json.RawMessage, dst any) error {
	obj, err := decodeObject(name, raw)
	if err != nil {
		return err
	}
	allowed := sectionKeys[name]
	for _, k := range sortedKeys(obj) {
		if !allowed[k] {
			return reject(name+"."+k, "unrecognized key")
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return reject(name+"."+typeErr.Field, "must be a %s", typeErr.Type)
		}
		return reject(name, "invalid value: %v", err)
	}
	return nil
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
