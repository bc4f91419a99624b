package transport

import (
	"sync"

	"github.com/loomroom/loom/internal/wire"
)

// broadcastHub is the shared fan-out point for every BroadcastTransport
// bound to the same room, letting same-process/same-tab-group peers
// exchange envelopes without a socket round-trip.
type broadcastHub struct {
	mu      sync.Mutex
	members map[string]*BroadcastTransport
}

var broadcastHubs = struct {
	mu   sync.Mutex
	byID map[string]*broadcastHub
}{byID: make(map[string]*broadcastHub)}

func hubFor(roomID string) *broadcastHub {
	broadcastHubs.mu.Lock()
	defer broadcastHubs.mu.Unlock()
	h, ok := broadcastHubs.byID[roomID]
	if !ok {
		h = &broadcastHub{members: make(map[string]*BroadcastTransport)}
		broadcastHubs.byID[roomID] = h
	}
	return h
}

// BroadcastTransport implements Transport for peers sharing a single
// process (e.g. multiple tabs of the same origin). It reports connected
// between Connect and Disconnect, never queues, and filters out
// envelopes the local client itself sent.
type BroadcastTransport struct {
	*dispatcher
	opts Options
	hub  *broadcastHub
}

// NewBroadcast creates a broadcast-variant transport bound to
// opts.RoomID. Every BroadcastTransport created with the same RoomID
// within this process shares the same fan-out group.
func NewBroadcast(opts Options) *BroadcastTransport {
	return &BroadcastTransport{
		dispatcher: newDispatcher(),
		opts:       opts,
		hub:        hubFor(opts.RoomID),
	}
}

// Connect registers this transport with its room's broadcast group and
// fires a connect event. There is no handshake: membership is
// immediate.
func (b *BroadcastTransport) Connect() error {
	b.hub.mu.Lock()
	b.hub.members[b.opts.ClientID] = b
	b.hub.mu.Unlock()
	b.fire(Event{Kind: EventConnect})
	return nil
}

// Disconnect removes this transport from its room's broadcast group.
func (b *BroadcastTransport) Disconnect() {
	b.hub.mu.Lock()
	delete(b.hub.members, b.opts.ClientID)
	b.hub.mu.Unlock()
	b.fire(Event{Kind: EventDisconnect})
}

// IsConnected reports whether this transport is currently a member of
// its room's broadcast group: true after Connect, false again after
// Disconnect. The in-process fan-out has no notion of a dropped link.
func (b *BroadcastTransport) IsConnected() bool {
	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()
	_, ok := b.hub.members[b.opts.ClientID]
	return ok
}

// Send builds an envelope and fans it out to every other member of the
// room's broadcast group. The sender never receives its own message
// back.
func (b *BroadcastTransport) Send(msgType wire.MsgType, payload interface{}) error {
	env, err := wire.New(msgType, b.opts.RoomID, b.opts.ClientID, payload)
	if err != nil {
		return err
	}

	b.hub.mu.Lock()
	peers := make([]*BroadcastTransport, 0, len(b.hub.members))
	for id, m := range b.hub.members {
		if id == b.opts.ClientID {
			continue
		}
		peers = append(peers, m)
	}
	b.hub.mu.Unlock()

	for _, m := range peers {
		m.fire(Event{Kind: EventMessage, Envelope: env})
	}
	return nil
}
