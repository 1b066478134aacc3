package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"realtime-canvas/backend/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisRegistry shares presence between server processes. Each room keeps a
// hash of channel -> entry and a sorted set of channel -> last-seen millis.
// Channels not touched within ttl are dropped on the next read, so a
// crashed process cannot leave ghosts behind.
type RedisRegistry struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisRegistry(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{rdb: rdb, prefix: prefix, ttl: ttl, now: time.Now}
}

func (r *RedisRegistry) entriesKey(roomID string) string {
	return r.prefix + "presence:" + roomID
}

func (r *RedisRegistry) seenKey(roomID string) string {
	return r.prefix + "presence:" + roomID + ":seen"
}

func (r *RedisRegistry) Join(ctx context.Context, roomID, channelID string, user models.PresenceUser) ([]models.PresenceUser, error) {
	now := r.now()
	entry := Entry{ChannelID: channelID, User: user, JoinedAt: now, LastSeen: now}

	// keep the original join time on re-join so ordering stays first-seen
	raw, err := r.rdb.HGet(ctx, r.entriesKey(roomID), channelID).Result()
	switch {
	case err == nil:
		var prev Entry
		if json.Unmarshal([]byte(raw), &prev) == nil {
			entry.JoinedAt = prev.JoinedAt
		}
	case !errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("presence join: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.entriesKey(roomID), channelID, data)
	pipe.ZAdd(ctx, r.seenKey(roomID), redis.Z{Score: float64(now.UnixMilli()), Member: channelID})
	pipe.Expire(ctx, r.entriesKey(roomID), 2*r.ttl)
	pipe.Expire(ctx, r.seenKey(roomID), 2*r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("presence join: %w", err)
	}
	return r.Snapshot(ctx, roomID)
}

func (r *RedisRegistry) Leave(ctx context.Context, roomID, channelID string) ([]models.PresenceUser, error) {
	pipe := r.rdb.TxPipeline()
	pipe.HDel(ctx, r.entriesKey(roomID), channelID)
	pipe.ZRem(ctx, r.seenKey(roomID), channelID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("presence leave: %w", err)
	}
	return r.Snapshot(ctx, roomID)
}

// Touch refreshes a registered channel. A channel whose entry expired or
// was never written is joined again.
func (r *RedisRegistry) Touch(ctx context.Context, roomID, channelID string, user models.PresenceUser) error {
	now := r.now()
	pipe := r.rdb.TxPipeline()
	refreshed := pipe.ZAddArgs(ctx, r.seenKey(roomID), redis.ZAddArgs{
		XX:      true,
		Ch:      true,
		Members: []redis.Z{{Score: float64(now.UnixMilli()), Member: channelID}},
	})
	registered := pipe.HExists(ctx, r.entriesKey(roomID), channelID)
	pipe.Expire(ctx, r.entriesKey(roomID), 2*r.ttl)
	pipe.Expire(ctx, r.seenKey(roomID), 2*r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence touch: %w", err)
	}
	// Ch reports 0 both for a missing member and for an unchanged score
	if refreshed.Val() > 0 && registered.Val() {
		return nil
	}
	if _, err := r.Join(ctx, roomID, channelID, user); err != nil {
		return fmt.Errorf("presence touch: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Snapshot(ctx context.Context, roomID string) ([]models.PresenceUser, error) {
	if err := r.expire(ctx, roomID); err != nil {
		return nil, err
	}

	all, err := r.rdb.HGetAll(ctx, r.entriesKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence snapshot: %w", err)
	}

	entries := make([]Entry, 0, len(all))
	for channelID, raw := range all {
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			logrus.WithFields(logrus.Fields{"room_id": roomID, "channel_id": channelID}).
				WithError(err).Warn("Dropping unreadable presence entry")
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].JoinedAt.Equal(entries[j].JoinedAt) {
			return entries[i].JoinedAt.Before(entries[j].JoinedAt)
		}
		return entries[i].ChannelID < entries[j].ChannelID
	})
	return dedupe(entries), nil
}

// expire removes channels whose last-seen time is older than ttl.
func (r *RedisRegistry) expire(ctx context.Context, roomID string) error {
	cutoff := strconv.FormatInt(r.now().Add(-r.ttl).UnixMilli(), 10)
	stale, err := r.rdb.ZRangeByScore(ctx, r.seenKey(roomID), &redis.ZRangeBy{Min: "-inf", Max: "(" + cutoff}).Result()
	if err != nil {
		return fmt.Errorf("presence expire: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	members := make([]any, len(stale))
	for i, ch := range stale {
		members[i] = ch
	}
	pipe := r.rdb.TxPipeline()
	pipe.HDel(ctx, r.entriesKey(roomID), stale...)
	pipe.ZRem(ctx, r.seenKey(roomID), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence expire: %w", err)
	}
	logrus.WithFields(logrus.Fields{"room_id": roomID, "expired": len(stale)}).Debug("Expired stale presence entries")
	return nil
}
