package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultMaxBytes is the per-artifact size ceiling.
const DefaultMaxBytes int64 = 10 << 20

// Mode selects how a write combines with the stored payload.
type Mode string

const (
	ModeOverwrite Mode = "overwrite"
	ModeAppend    Mode = "append"
)

// ParseMode maps a string to a Mode; empty means overwrite.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeOverwrite:
		return ModeOverwrite, nil
	case ModeAppend:
		return ModeAppend, nil
	default:
		return "", fmt.Errorf("unknown artifact mode %q", s)
	}
}

var (
	ErrNotFound           = errors.New("artifact not found")
	ErrIncompatibleAppend = errors.New("append requires matching array or object payloads")
	ErrInvalidJSON        = errors.New("artifact data must be valid JSON")
)

// TooLargeError is returned when a write would exceed the size ceiling.
type TooLargeError struct {
	Key       string
	SizeBytes int64
	MaxBytes  int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("artifact %s is %d bytes, limit %d", e.Key, e.SizeBytes, e.MaxBytes)
}

// WriteRequest addresses a (run, agent, key) slot.
type WriteRequest struct {
	RunID    string
	AgentID  string
	Key      string
	Data     json.RawMessage
	Mode     Mode
	Metadata map[string]string
}

type WriteResult struct {
	ArtifactID string `json:"artifact_id"`
	Version    int    `json:"version"`
	SizeBytes  int64  `json:"size_bytes"`
}

// ReadRequest reads the latest version unless Version is set.
type ReadRequest struct {
	RunID       string
	AgentID     string
	Key         string
	SummaryOnly bool
	Version     *int
}

// Summary describes a payload without returning it.
type Summary struct {
	Shape     string   `json:"shape"`
	Length    int      `json:"length,omitempty"`
	Keys      []string `json:"keys,omitempty"`
	SizeBytes int64    `json:"size_bytes"`
	Preview   string   `json:"preview,omitempty"`
}

// Content is the result of a read. Data is nil when a summary was requested.
type Content struct {
	ArtifactID string            `json:"artifact_id"`
	RunID      string            `json:"run_id"`
	AgentID    string            `json:"agent_id"`
	Key        string            `json:"key"`
	Version    int               `json:"version"`
	Data       json.RawMessage   `json:"data,omitempty"`
	Summary    *Summary          `json:"summary,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Info is the list entry for one artifact key.
type Info struct {
	ArtifactID string            `json:"artifact_id"`
	RunID      string            `json:"run_id"`
	AgentID    string            `json:"agent_id"`
	Key        string            `json:"key"`
	Version    int               `json:"version"`
	SizeBytes  int64             `json:"size_bytes"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Store is the versioned per-agent artifact store.
type Store interface {
	Write(ctx context.Context, req WriteRequest) (WriteResult, error)
	Read(ctx context.Context, req ReadRequest) (Content, error)
	// List returns the latest version of every key; empty agentID lists the whole run.
	List(ctx context.Context, runID, agentID string) ([]Info, error)
}

const previewBytes = 240

func validateWrite(req WriteRequest) error {
	if req.RunID == "" || req.AgentID == "" || req.Key == "" {
		return fmt.Errorf("run_id, agent_id and key are required")
	}
	if !json.Valid(req.Data) {
		return ErrInvalidJSON
	}
	if _, err := ParseMode(string(req.Mode)); err != nil {
		return err
	}
	return nil
}

// merge combines the previous payload with the incoming one according to mode.
func merge(prev, next json.RawMessage, mode Mode) (json.RawMessage, error) {
	if mode != ModeAppend || len(prev) == 0 {
		return compact(next)
	}
	switch {
	case shapeOf(prev) == "array" && shapeOf(next) == "array":
		var a, b []json.RawMessage
		if err := json.Unmarshal(prev, &a); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(next, &b); err != nil {
			return nil, err
		}
		return json.Marshal(append(a, b...))
	case shapeOf(prev) == "object" && shapeOf(next) == "object":
		var a, b map[string]json.RawMessage
		if err := json.Unmarshal(prev, &a); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(next, &b); err != nil {
			return nil, err
		}
		if a == nil {
			a = map[string]json.RawMessage{}
		}
		for k, v := range b {
			a[k] = v
		}
		return json.Marshal(a)
	default:
		return nil, ErrIncompatibleAppend
	}
}

func compact(data json.RawMessage) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func shapeOf(data json.RawMessage) string {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return "empty"
	}
	switch trimmed[0] {
	case '[':
		return "array"
	case '{':
		return "object"
	case '"':
		return "string"
	case 'n':
		return "null"
	case 't', 'f':
		return "bool"
	default:
		return "number"
	}
}

func summarize(data json.RawMessage) *Summary {
	s := &Summary{Shape: shapeOf(data), SizeBytes: int64(len(data))}
	switch s.Shape {
	case "array":
		var items []json.RawMessage
		if json.Unmarshal(data, &items) == nil {
			s.Length = len(items)
		}
	case "object":
		var obj map[string]json.RawMessage
		if json.Unmarshal(data, &obj) == nil {
			s.Length = len(obj)
			for k := range obj {
				s.Keys = append(s.Keys, k)
			}
			sort.Strings(s.Keys)
		}
	}
	preview := string(data)
	if len(preview) > previewBytes {
		cut := previewBytes
		for cut > 0 && !utf8.RuneStart(preview[cut]) {
			cut--
		}
		preview = preview[:cut] + "..."
	}
	s.Preview = preview
	return s
}

func artifactID(runID, agentID, key string) string {
	return runID + "/" + agentID + "/" + key
}

func copyMeta(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortInfos(infos []Info) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].AgentID != infos[j].AgentID {
			return infos[i].AgentID < infos[j].AgentID
		}
		return infos[i].Key < infos[j].Key
	})
}
