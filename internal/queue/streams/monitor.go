package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LagMetrics describes how far a consumer group trails its stream.
type LagMetrics struct {
	Stream     string        `json:"stream"`
	Group      string        `json:"group"`
	Length     int64         `json:"length"`
	Pending    int64         `json:"pending"`
	Lag        int64         `json:"lag"`
	Consumers  int64         `json:"consumers"`
	OldestIdle time.Duration `json:"oldest_idle"`
}

// GroupLag reports lag and pending state of group on stream. Lag is -1 when the group is unknown.
func GroupLag(ctx context.Context, client *redis.Client, stream, group string) (LagMetrics, error) {
	if client == nil {
		return LagMetrics{}, fmt.Errorf("redis client is nil")
	}
	if stream == "" || group == "" {
		return LagMetrics{}, fmt.Errorf("stream and group are required")
	}
	m := LagMetrics{Stream: stream, Group: group, Lag: -1}

	n, err := client.XLen(ctx, stream).Result()
	if err != nil {
		return LagMetrics{}, fmt.Errorf("xlen: %w", err)
	}
	m.Length = n

	groups, err := client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return LagMetrics{}, fmt.Errorf("xinfo groups: %w", err)
	}
	for _, info := range groups {
		if info.Name == group {
			m.Pending = info.Pending
			m.Lag = info.Lag
			m.Consumers = int64(info.Consumers)
			break
		}
	}
	if m.Pending == 0 {
		return m, nil
	}
	entries, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return LagMetrics{}, fmt.Errorf("xpendingext: %w", err)
	}
	if len(entries) > 0 {
		m.OldestIdle = entries[0].Idle
	}
	return m, nil
}
