package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultMaxRetries = 32

// Redis stores artifacts as one hash per version plus a version counter key.
// Writers WATCH the counter; a concurrent bump aborts the EXEC and the write is retried.
type Redis struct {
	client     *redis.Client
	prefix     string
	maxBytes   int64
	ttl        time.Duration
	maxRetries int
}

type RedisOption func(*Redis)

func WithMaxBytes(n int64) RedisOption {
	return func(r *Redis) {
		if n > 0 {
			r.maxBytes = n
		}
	}
}

// WithTTL expires every key of a run after d of inactivity.
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = d }
}

func WithPrefix(p string) RedisOption {
	return func(r *Redis) {
		if p != "" {
			r.prefix = p
		}
	}
}

func WithMaxRetries(n int) RedisOption {
	return func(r *Redis) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: "rmri", maxBytes: DefaultMaxBytes, maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) counterKey(runID, agentID, key string) string {
	return fmt.Sprintf("%s:artifact:%s:%s:%s:version", r.prefix, runID, agentID, key)
}

func (r *Redis) versionKey(runID, agentID, key string, v int) string {
	return fmt.Sprintf("%s:artifact:%s:%s:%s:v%d", r.prefix, runID, agentID, key, v)
}

func (r *Redis) indexKey(runID string) string {
	return fmt.Sprintf("%s:artifacts:%s", r.prefix, runID)
}

func indexMember(agentID, key string) string { return agentID + "|" + key }

func (r *Redis) Write(ctx context.Context, req WriteRequest) (WriteResult, error) {
	if err := validateWrite(req); err != nil {
		return WriteResult{}, err
	}
	counter := r.counterKey(req.RunID, req.AgentID, req.Key)
	meta, err := json.Marshal(copyMeta(req.Metadata))
	if err != nil {
		return WriteResult{}, err
	}

	var result WriteResult
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, counter).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		var prev []byte
		if current > 0 {
			prev, err = tx.HGet(ctx, r.versionKey(req.RunID, req.AgentID, req.Key, current), "data").Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
		}
		data, err := merge(prev, req.Data, req.Mode)
		if err != nil {
			return err
		}
		size := int64(len(data))
		if size > r.maxBytes {
			return &TooLargeError{Key: req.Key, SizeBytes: size, MaxBytes: r.maxBytes}
		}
		next := current + 1
		vkey := r.versionKey(req.RunID, req.AgentID, req.Key, next)
		index := r.indexKey(req.RunID)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, counter, next, r.ttl)
			pipe.HSet(ctx, vkey,
				"data", []byte(data),
				"metadata", string(meta),
				"size", size,
				"created_at", time.Now().UTC().Format(time.RFC3339Nano),
			)
			pipe.SAdd(ctx, index, indexMember(req.AgentID, req.Key))
			if r.ttl > 0 {
				pipe.Expire(ctx, vkey, r.ttl)
				pipe.Expire(ctx, index, r.ttl)
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = WriteResult{ArtifactID: artifactID(req.RunID, req.AgentID, req.Key), Version: next, SizeBytes: size}
		return nil
	}

	for i := 0; i < r.maxRetries; i++ {
		err := r.client.Watch(ctx, txf, counter)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return WriteResult{}, err
	}
	return WriteResult{}, fmt.Errorf("artifact %s: write conflict after %d attempts", req.Key, r.maxRetries)
}

func (r *Redis) Read(ctx context.Context, req ReadRequest) (Content, error) {
	v := 0
	if req.Version != nil {
		v = *req.Version
		if v < 1 {
			return Content{}, ErrNotFound
		}
	} else {
		latest, err := r.client.Get(ctx, r.counterKey(req.RunID, req.AgentID, req.Key)).Int()
		if errors.Is(err, redis.Nil) {
			return Content{}, ErrNotFound
		}
		if err != nil {
			return Content{}, err
		}
		v = latest
	}
	fields, err := r.client.HGetAll(ctx, r.versionKey(req.RunID, req.AgentID, req.Key, v)).Result()
	if err != nil {
		return Content{}, err
	}
	if len(fields) == 0 {
		return Content{}, ErrNotFound
	}
	out := Content{
		ArtifactID: artifactID(req.RunID, req.AgentID, req.Key),
		RunID:      req.RunID,
		AgentID:    req.AgentID,
		Key:        req.Key,
		Version:    v,
	}
	decodeFields(fields, &out.Metadata, &out.CreatedAt)
	data := json.RawMessage(fields["data"])
	if req.SummaryOnly {
		out.Summary = summarize(data)
	} else {
		out.Data = data
	}
	return out, nil
}

func (r *Redis) List(ctx context.Context, runID, agentID string) ([]Info, error) {
	members, err := r.client.SMembers(ctx, r.indexKey(runID)).Result()
	if err != nil {
		return nil, err
	}
	infos := make([]Info, 0, len(members))
	for _, m := range members {
		agent, key, ok := strings.Cut(m, "|")
		if !ok || (agentID != "" && agent != agentID) {
			continue
		}
		latest, err := r.client.Get(ctx, r.counterKey(runID, agent, key)).Int()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		fields, err := r.client.HGetAll(ctx, r.versionKey(runID, agent, key, latest)).Result()
		if err != nil {
			return nil, err
		}
		info := Info{
			ArtifactID: artifactID(runID, agent, key),
			RunID:      runID,
			AgentID:    agent,
			Key:        key,
			Version:    latest,
		}
		info.SizeBytes, _ = strconv.ParseInt(fields["size"], 10, 64)
		decodeFields(fields, &info.Metadata, &info.UpdatedAt)
		infos = append(infos, info)
	}
	sortInfos(infos)
	return infos, nil
}

func decodeFields(fields map[string]string, meta *map[string]string, at *time.Time) {
	if raw := fields["metadata"]; raw != "" && raw != "null" {
		_ = json.Unmarshal([]byte(raw), meta)
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		*at = ts
	}
}
