// Package mirror copies every published status snapshot to Redis so other
// processes can read the latest pipeline state or follow it live.
package mirror

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"

	"framepipe/internal/models"
)

// RedisMirror stores the latest snapshot under a key and publishes each one
// on a channel.
type RedisMirror struct {
	rdb     *redis.Client
	key     string
	channel string
}

// NewClient connects to addr, which is either host:port or a redis:// URL.
func NewClient(addr string) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, err
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

func NewRedisMirror(rdb *redis.Client, key, channel string) *RedisMirror {
	return &RedisMirror{rdb: rdb, key: key, channel: channel}
}

// Publish writes snap as the latest status and announces it.
func (m *RedisMirror) Publish(ctx context.Context, snap models.StatusSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, m.key, payload, 0)
		pipe.Publish(ctx, m.channel, payload)
		return nil
	})
	return err
}

// Latest returns the last mirrored snapshot, if any.
func (m *RedisMirror) Latest(ctx context.Context) (models.StatusSnapshot, bool, error) {
	raw, err := m.rdb.Get(ctx, m.key).Bytes()
	if err == redis.Nil {
		return models.StatusSnapshot{}, false, nil
	}
	if err != nil {
		return models.StatusSnapshot{}, false, err
	}
	var snap models.StatusSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return models.StatusSnapshot{}, false, err
	}
	return snap, true, nil
}

func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}

func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}
