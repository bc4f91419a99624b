// Package hub implements the server-side multiplexer a real LOOM
// deployment needs but spec.md specifies only "at the interface
// level": one process holding many rooms, each with its own
// server-authoritative replica, fanning inbound envelopes out to every
// other connection on that room. It is adapted from the teacher's
// pkg/server (ServerState/Document/Kolabpad/Connection) generalized
// from a single OT rustpad document to LOOM's dual CRDT/OT rooms plus
// awareness and presence relay.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/loomroom/loom/pkg/logger"
	"github.com/loomroom/loom/pkg/room"
)

// Config bounds resource usage across every room the hub creates.
type Config struct {
	Mode                room.Mode
	MaxDocumentSize     int           // OT rooms only; default 256<<10.
	BroadcastBufferSize int           // per-connection fan-out channel depth; default 16.
	RoomTTL             time.Duration // idle-room eviction threshold; default 1h.
}

func (c Config) withDefaults() Config {
	if c.MaxDocumentSize <= 0 {
		c.MaxDocumentSize = 256 << 10
	}
	if c.BroadcastBufferSize <= 0 {
		c.BroadcastBufferSize = 16
	}
	if c.RoomTTL <= 0 {
		c.RoomTTL = time.Hour
	}
	return c
}

// Hub owns every room this process currently serves.
type Hub struct {
	cfg       Config
	rooms     sync.Map // string (roomID) -> *RoomState
	startTime time.Time
}

// New creates an empty hub. Rooms are created lazily on first
// connection, matching the teacher's getOrCreateDocument.
func New(cfg Config) *Hub {
	return &Hub{cfg: cfg.withDefaults(), startTime: time.Now()}
}

// Stats summarizes the hub for a health/metrics endpoint.
type Stats struct {
	StartTime int64 `json:"startTime"`
	NumRooms  int   `json:"numRooms"`
}

// Stats reports current hub-wide counters.
func (h *Hub) Stats() Stats {
	n := 0
	h.rooms.Range(func(_, _ interface{}) bool { n++; return true })
	return Stats{StartTime: h.startTime.Unix(), NumRooms: n}
}

// getOrCreateRoom returns the named room's state, creating a fresh one
// seeded per h.cfg.Mode on first access.
func (h *Hub) getOrCreateRoom(roomID string) *RoomState {
	if v, ok := h.rooms.Load(roomID); ok {
		return v.(*RoomState)
	}
	rs := newRoomState(roomID, h.cfg.Mode, h.cfg.MaxDocumentSize, h.cfg.BroadcastBufferSize)
	actual, _ := h.rooms.LoadOrStore(roomID, rs)
	return actual.(*RoomState)
}

// StartCleaner runs until ctx is done, periodically evicting rooms
// with no connected subscribers whose last activity has aged past
// h.cfg.RoomTTL. Mirrors the teacher's StartCleaner/
// cleanupExpiredDocuments, generalized from wall-clock day buckets to
// a single configurable TTL since LOOM rooms carry no persistence to
// stagger around.
func (h *Hub) StartCleaner(ctx context.Context, sweepEvery time.Duration) {
	if sweepEvery <= 0 {
		sweepEvery = time.Hour
	}
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweepIdleRooms()
		}
	}
}

func (h *Hub) sweepIdleRooms() {
	now := time.Now()
	var stale []string
	h.rooms.Range(func(k, v interface{}) bool {
		rs := v.(*RoomState)
		if rs.subscriberCount() == 0 && now.Sub(rs.lastActivity()) > h.cfg.RoomTTL {
			stale = append(stale, k.(string))
		}
		return true
	})
	for _, id := range stale {
		if v, ok := h.rooms.LoadAndDelete(id); ok {
			v.(*RoomState).kill()
			logger.Info("hub: evicted idle room %q", id)
		}
	}
}

// Shutdown kills every room, closing their broadcast channels so every
// connection's forwardBroadcast goroutine returns. Open websocket
// connections are not closed; each ServeWS call returns when its
// transport disconnects.
func (h *Hub) Shutdown() {
	h.rooms.Range(func(k, v interface{}) bool {
		v.(*RoomState).kill()
		return true
	})
}
