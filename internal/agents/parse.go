package agents

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/rmri/internal/textsim"
)

// ErrNoJSON is returned when a model reply holds no JSON object.
var ErrNoJSON = errors.New("no JSON object in model output")

// decodeObject extracts the outermost JSON object from a model reply, tolerating
// code fences and prose around it, and returns the top-level keys it carried.
func decodeObject(text string, out interface{}) ([]string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, ErrNoJSON
	}
	raw := []byte(text[start : end+1])
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	present := make([]string, 0, len(keys))
	for k, v := range keys {
		s := strings.TrimSpace(string(v))
		if s == "" || s == "null" || s == "[]" || s == "{}" || s == `""` {
			continue
		}
		present = append(present, k)
	}
	return present, nil
}

// cleanList trims entries and drops empties and canonical duplicates.
func cleanList(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := textsim.Canonical(s)
		if key == "" {
			key = strings.ToLower(s)
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
