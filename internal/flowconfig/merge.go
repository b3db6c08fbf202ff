// Package flowconfig builds the per-call backend configuration: it merges
// stored and request overrides, injects computed defaults and picks the
// credential the backend call is made with.
package flowconfig

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Merge layers request over stored. Keys present in neither receive the
// value from defaults; an explicit value is never overwritten by a default.
// The inputs are not modified.
func Merge(stored, request, defaults map[string]any) map[string]any {
	merged := make(map[string]any, len(stored)+len(request)+len(defaults))
	maps.Copy(merged, stored)
	maps.Copy(merged, request)
	for key, value := range defaults {
		if _, ok := merged[key]; !ok {
			merged[key] = value
		}
	}
	return merged
}

// DecodeOverrides parses a stored override document. Empty input is an
// empty map.
func DecodeOverrides(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("stored overrides are not a JSON object: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
