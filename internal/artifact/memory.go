package artifact

import (
	"context"
	"sync"
	"time"
)

type version struct {
	data      []byte
	metadata  map[string]string
	createdAt time.Time
}

type slot struct {
	mu       sync.Mutex
	runID    string
	agentID  string
	key      string
	versions []version
}

// Memory keeps every version in process. Writes to one key are serialized by that key's lock.
type Memory struct {
	mu       sync.RWMutex
	slots    map[string]*slot
	maxBytes int64
}

// NewMemory builds an in-memory store; maxBytes <= 0 uses DefaultMaxBytes.
func NewMemory(maxBytes int64) *Memory {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Memory{slots: make(map[string]*slot), maxBytes: maxBytes}
}

func (m *Memory) slotFor(runID, agentID, key string, create bool) *slot {
	id := artifactID(runID, agentID, key)
	m.mu.RLock()
	s := m.slots[id]
	m.mu.RUnlock()
	if s != nil || !create {
		return s
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s = m.slots[id]; s == nil {
		s = &slot{runID: runID, agentID: agentID, key: key}
		m.slots[id] = s
	}
	return s
}

func (m *Memory) Write(ctx context.Context, req WriteRequest) (WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}
	if err := validateWrite(req); err != nil {
		return WriteResult{}, err
	}
	s := m.slotFor(req.RunID, req.AgentID, req.Key, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev []byte
	if n := len(s.versions); n > 0 {
		prev = s.versions[n-1].data
	}
	data, err := merge(prev, req.Data, req.Mode)
	if err != nil {
		return WriteResult{}, err
	}
	if size := int64(len(data)); size > m.maxBytes {
		return WriteResult{}, &TooLargeError{Key: req.Key, SizeBytes: size, MaxBytes: m.maxBytes}
	}
	s.versions = append(s.versions, version{data: data, metadata: copyMeta(req.Metadata), createdAt: time.Now().UTC()})
	return WriteResult{
		ArtifactID: artifactID(req.RunID, req.AgentID, req.Key),
		Version:    len(s.versions),
		SizeBytes:  int64(len(data)),
	}, nil
}

func (m *Memory) Read(ctx context.Context, req ReadRequest) (Content, error) {
	if err := ctx.Err(); err != nil {
		return Content{}, err
	}
	s := m.slotFor(req.RunID, req.AgentID, req.Key, false)
	if s == nil {
		return Content{}, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.versions)
	if n == 0 {
		return Content{}, ErrNotFound
	}
	idx := n
	if req.Version != nil {
		idx = *req.Version
	}
	if idx < 1 || idx > n {
		return Content{}, ErrNotFound
	}
	v := s.versions[idx-1]
	out := Content{
		ArtifactID: artifactID(s.runID, s.agentID, s.key),
		RunID:      s.runID,
		AgentID:    s.agentID,
		Key:        s.key,
		Version:    idx,
		Metadata:   copyMeta(v.metadata),
		CreatedAt:  v.createdAt,
	}
	if req.SummaryOnly {
		out.Summary = summarize(v.data)
	} else {
		out.Data = append([]byte(nil), v.data...)
	}
	return out, nil
}

func (m *Memory) List(ctx context.Context, runID, agentID string) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	var matched []*slot
	for _, s := range m.slots {
		if s.runID != runID || (agentID != "" && s.agentID != agentID) {
			continue
		}
		matched = append(matched, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(matched))
	for _, s := range matched {
		s.mu.Lock()
		if n := len(s.versions); n > 0 {
			v := s.versions[n-1]
			infos = append(infos, Info{
				ArtifactID: artifactID(s.runID, s.agentID, s.key),
				RunID:      s.runID,
				AgentID:    s.agentID,
				Key:        s.key,
				Version:    n,
				SizeBytes:  int64(len(v.data)),
				Metadata:   copyMeta(v.metadata),
				UpdatedAt:  v.createdAt,
			})
		}
		s.mu.Unlock()
	}
	sortInfos(infos)
	return infos, nil
}
