// Package presence implements online/idle/offline tracking with
// heartbeat refresh and deterministic per-client color assignment. It
// is a thin layer built on the same subscriber/fan-out shape as
// pkg/awareness, generalized with a heartbeat ticker and an idle-timer
// state machine in place of awareness's GC sweep.
package presence

import (
	"sync"
	"time"
)

// Status is a presence client's derived state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusOffline Status = "offline"
)

// UserPresence is the presence record carried over the wire and held
// for every known client, including the local one.
type UserPresence struct {
	ClientID string
	Name     string
	Color    string
	Status   Status
	LastSeen time.Time
}

// Event reports a presence transition to subscribers.
type Event struct {
	Kind     string // "join", "leave", "heartbeat", "update"
	Presence UserPresence
}

// Unsubscribe cancels a listener registration.
type Unsubscribe func()

// OutboundFunc delivers a local presence event to peers, installed by
// Start.
type OutboundFunc func(Event)

// Options configures heartbeat and idle timing.
type Options struct {
	// HeartbeatInterval is how often the local heartbeat fires and
	// remote presences are pruned. Default 30s.
	HeartbeatInterval time.Duration
	// IdleTimeout is how long without a ResetIdle call before status
	// transitions online -> idle. Default 60s.
	IdleTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 60 * time.Second
	}
	return o
}

// Manager tracks the local client's presence and a merged view of
// every remote client's last-known presence.
type Manager struct {
	mu sync.Mutex

	local  UserPresence
	remote map[string]*UserPresence

	listeners []func(Event)

	outbound      OutboundFunc
	stopHeartbeat chan struct{}
	stopIdle      chan struct{}
	resetIdle     chan struct{}
	wg            sync.WaitGroup
	opts          Options
}

// New constructs a Manager for clientID/name. If color is empty, it is
// derived deterministically from clientID.
func New(clientID, name, color string, opts Options) *Manager {
	if color == "" {
		color = ColorForClient(clientID)
	}
	return &Manager{
		local: UserPresence{
			ClientID: clientID,
			Name:     name,
			Color:    color,
			Status:   StatusOffline,
		},
		remote: make(map[string]*UserPresence),
		opts:   opts.withDefaults(),
	}
}

// Start emits a join update, installs cb as the outbound callback,
// begins the heartbeat, and starts idle detection.
func (m *Manager) Start(cb OutboundFunc) {
	m.mu.Lock()
	m.outbound = cb
	m.local.Status = StatusOnline
	m.local.LastSeen = time.Now()
	snapshot := m.local
	m.stopHeartbeat = make(chan struct{})
	m.stopIdle = make(chan struct{})
	m.resetIdle = make(chan struct{}, 1)
	hbStop, idleStop := m.stopHeartbeat, m.stopIdle
	m.mu.Unlock()

	m.emit(Event{Kind: "join", Presence: snapshot})

	m.wg.Add(2)
	go m.heartbeatLoop(hbStop)
	go m.idleLoop(idleStop)
}

// Stop emits a leave update and halts timers.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.local.Status = StatusOffline
	snapshot := m.local
	hbStop, idleStop := m.stopHeartbeat, m.stopIdle
	m.stopHeartbeat, m.stopIdle = nil, nil
	m.mu.Unlock()

	if hbStop != nil {
		close(hbStop)
	}
	if idleStop != nil {
		close(idleStop)
	}
	if hbStop != nil || idleStop != nil {
		m.wg.Wait()
	}
	m.emit(Event{Kind: "leave", Presence: snapshot})
}

// ResetIdle restarts the idle timer, restoring online status if currently idle.
func (m *Manager) ResetIdle() {
	m.mu.Lock()
	wasIdle := m.local.Status == StatusIdle
	if wasIdle {
		m.local.Status = StatusOnline
	}
	m.local.LastSeen = time.Now()
	snapshot := m.local
	reset := m.resetIdle
	m.mu.Unlock()

	if reset != nil {
		select {
		case reset <- struct{}{}:
		default:
		}
	}
	if wasIdle {
		m.emit(Event{Kind: "update", Presence: snapshot})
	}
}

// HandleRemoteUpdate ingests a peer's presence event.
func (m *Manager) HandleRemoteUpdate(ev Event) {
	m.mu.Lock()
	p := ev.Presence
	if ev.Kind == "leave" {
		delete(m.remote, p.ClientID)
		m.mu.Unlock()
		m.emit(ev)
		return
	}
	stored := p
	m.remote[p.ClientID] = &stored
	m.mu.Unlock()
	m.emit(ev)
}

// GetAllPresences returns the local presence plus every tracked remote
// presence.
func (m *Manager) GetAllPresences() []UserPresence {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]UserPresence, 0, len(m.remote)+1)
	out = append(out, m.local)
	for _, p := range m.remote {
		out = append(out, *p)
	}
	return out
}

// Subscribe registers a listener for every presence event.
func (m *Manager) Subscribe(fn func(Event)) Unsubscribe {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	idx := len(m.listeners) - 1
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.listeners[idx] = nil
	}
}

func (m *Manager) emit(ev Event) {
	cb := m.outboundSnapshot()
	if cb != nil && (ev.Presence.ClientID == m.localClientID()) {
		cb(ev)
	}

	m.mu.Lock()
	fns := append([]func(Event){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn(ev)
		}
	}
}

func (m *Manager) outboundSnapshot() OutboundFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outbound
}

func (m *Manager) localClientID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local.ClientID
}

func (m *Manager) heartbeatLoop(stop chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			m.local.LastSeen = time.Now()
			snapshot := m.local
			m.mu.Unlock()
			m.emit(Event{Kind: "heartbeat", Presence: snapshot})
			m.pruneStaleRemotes()
		}
	}
}

// pruneStaleRemotes drops remote presences whose LastSeen is older
// than three heartbeat intervals.
func (m *Manager) pruneStaleRemotes() {
	cutoff := 3 * m.opts.HeartbeatInterval
	now := time.Now()

	m.mu.Lock()
	var stale []UserPresence
	for id, p := range m.remote {
		if now.Sub(p.LastSeen) > cutoff {
			stale = append(stale, *p)
			delete(m.remote, id)
		}
	}
	m.mu.Unlock()

	for _, p := range stale {
		m.emit(Event{Kind: "leave", Presence: p})
	}
}

func (m *Manager) idleLoop(stop chan struct{}) {
	defer m.wg.Done()
	timer := time.NewTimer(m.opts.IdleTimeout)
	defer timer.Stop()

	m.mu.Lock()
	reset := m.resetIdle
	m.mu.Unlock()

	for {
		select {
		case <-stop:
			return
		case <-reset:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(m.opts.IdleTimeout)
		case <-timer.C:
			m.mu.Lock()
			m.local.Status = StatusIdle
			snapshot := m.local
			m.mu.Unlock()
			m.emit(Event{Kind: "update", Presence: snapshot})
			timer.Reset(m.opts.IdleTimeout)
		}
	}
}
