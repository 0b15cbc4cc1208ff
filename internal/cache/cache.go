package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pnotato/VSDocs/internal/db"
)

const snapshotTTL = 15 * time.Minute

// SnapshotCache is a Redis read-through cache for room snapshots. A nil
// *SnapshotCache is valid and caches nothing, so callers don't branch on
// whether Redis is configured.
type SnapshotCache struct {
	rdb *redis.Client
	log *slog.Logger
}

// New connects to Redis and verifies connectivity
func New(ctx context.Context, addr string, redisDB int, log *slog.Logger) (*SnapshotCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   redisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &SnapshotCache{rdb: rdb, log: log}, nil
}

// Put stores a snapshot, replacing any cached one for the room
func (c *SnapshotCache) Put(ctx context.Context, snapshot *db.Snapshot) {
	if c == nil || snapshot == nil {
		return
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key(snapshot.RoomID), raw, snapshotTTL).Err(); err != nil {
		c.log.Warn("cache.put", "room", snapshot.RoomID, "err", err)
	}
}

// Get returns the cached snapshot for a room, or nil on a miss. Cache
// failures are treated as misses.
func (c *SnapshotCache) Get(ctx context.Context, roomID string) *db.Snapshot {
	if c == nil {
		return nil
	}
	raw, err := c.rdb.Get(ctx, key(roomID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("cache.get", "room", roomID, "err", err)
		}
		return nil
	}
	var snapshot db.Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil
	}
	return &snapshot
}

func (c *SnapshotCache) Close() {
	if c == nil {
		return
	}
	_ = c.rdb.Close()
}

// key namespacing for room snapshots
func key(roomID string) string { return "vsdocs:snapshot:" + roomID }
