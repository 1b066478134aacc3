// Package session tracks which users are connected to which rooms.
package session

import (
	"context"
	"sync"
	"time"

	"realtime-canvas/backend/models"
)

// Registry records (room, channel) -> user entries for presence.
// Every method returns the room's presence list deduplicated by user id,
// keeping the first-joined entry of each user.
type Registry interface {
	Join(ctx context.Context, roomID, channelID string, user models.PresenceUser) ([]models.PresenceUser, error)
	Leave(ctx context.Context, roomID, channelID string) ([]models.PresenceUser, error)
	Snapshot(ctx context.Context, roomID string) ([]models.PresenceUser, error)
	// Touch refreshes the last-seen time of a live channel, registering it
	// again for user when its entry has gone missing.
	Touch(ctx context.Context, roomID, channelID string, user models.PresenceUser) error
}

// Entry is one connected channel in a room.
type Entry struct {
	ChannelID string              `json:"channelId"`
	User      models.PresenceUser `json:"user"`
	JoinedAt  time.Time           `json:"joinedAt"`
	LastSeen  time.Time           `json:"lastSeen"`
}

// dedupe returns the users of entries in order, skipping repeated user ids.
func dedupe(entries []Entry) []models.PresenceUser {
	seen := make(map[string]struct{}, len(entries))
	users := make([]models.PresenceUser, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.User.ID]; ok {
			continue
		}
		seen[e.User.ID] = struct{}{}
		users = append(users, e.User)
	}
	return users
}

// MemoryRegistry is a process-local Registry.
type MemoryRegistry struct {
	mu    sync.Mutex
	rooms map[string][]Entry
	now   func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{rooms: make(map[string][]Entry), now: time.Now}
}

// Join adds the channel, or updates it in place when it already joined.
func (r *MemoryRegistry) Join(_ context.Context, roomID, channelID string, user models.PresenceUser) ([]models.PresenceUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entries := r.rooms[roomID]
	for i := range entries {
		if entries[i].ChannelID == channelID {
			entries[i].User = user
			entries[i].LastSeen = now
			return dedupe(entries), nil
		}
	}
	entries = append(entries, Entry{ChannelID: channelID, User: user, JoinedAt: now, LastSeen: now})
	r.rooms[roomID] = entries
	return dedupe(entries), nil
}

func (r *MemoryRegistry) Leave(_ context.Context, roomID, channelID string) ([]models.PresenceUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.rooms[roomID]
	for i := range entries {
		if entries[i].ChannelID == channelID {
			entries = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(r.rooms, roomID)
		return []models.PresenceUser{}, nil
	}
	r.rooms[roomID] = entries
	return dedupe(entries), nil
}

func (r *MemoryRegistry) Snapshot(_ context.Context, roomID string) ([]models.PresenceUser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return dedupe(r.rooms[roomID]), nil
}

func (r *MemoryRegistry) Touch(_ context.Context, roomID, channelID string, user models.PresenceUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entries := r.rooms[roomID]
	for i := range entries {
		if entries[i].ChannelID == channelID {
			entries[i].LastSeen = now
			return nil
		}
	}
	r.rooms[roomID] = append(entries, Entry{ChannelID: channelID, User: user, JoinedAt: now, LastSeen: now})
	return nil
}

// Rooms returns the number of rooms with at least one entry.
func (r *MemoryRegistry) Rooms() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
