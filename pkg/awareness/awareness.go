// Package awareness implements ephemeral per-client state sharing with
// last-write-wins conflict resolution and timeout-based garbage
// collection. The listener plumbing follows the same per-connection
// subscriber fan-out shape used by pkg/hub's broadcast channels,
// generalized here into an in-process LWW state map with its own GC
// ticker.
package awareness

import (
	"sync"
	"time"
)

// State is one client's ephemeral payload plus the bookkeeping needed
// for last-write-wins and GC.
type State struct {
	ClientID  string
	Clock     uint64
	State     map[string]interface{}
	Timestamp time.Time
}

// Event is delivered to subscribers: either an update (Removed==false)
// or a GC eviction / explicit removal (Removed==true).
type Event struct {
	ClientID string
	State    map[string]interface{}
	Removed  bool
}

// Unsubscribe cancels a listener registration.
type Unsubscribe func()

// Options configures GC timing.
type Options struct {
	// GCInterval is how often the GC sweep runs. Default 15s.
	GCInterval time.Duration
	// Timeout is how old a remote entry's timestamp must be before
	// it's evicted. Default 30s.
	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.GCInterval <= 0 {
		o.GCInterval = 15 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

// OutboundFunc delivers this client's local state to peers, installed
// by Start.
type OutboundFunc func(State)

// Awareness tracks one local client's ephemeral state plus a merged
// view of every remote client's last-known state.
type Awareness struct {
	mu sync.Mutex

	clientID string
	clock    uint64
	local    map[string]interface{}

	remote map[string]*State

	listeners []func(Event)

	outbound OutboundFunc
	stopGC   chan struct{}
	gcWG     sync.WaitGroup
	opts     Options
}

// New creates an Awareness instance for clientID. Call Start to begin
// emitting local updates and running GC.
func New(clientID string, opts Options) *Awareness {
	return &Awareness{
		clientID: clientID,
		local:    make(map[string]interface{}),
		remote:   make(map[string]*State),
		opts:     opts.withDefaults(),
	}
}

// Start installs the outbound callback and begins the GC ticker.
func (a *Awareness) Start(cb OutboundFunc) {
	a.mu.Lock()
	a.outbound = cb
	a.stopGC = make(chan struct{})
	stop := a.stopGC
	a.mu.Unlock()

	a.gcWG.Add(1)
	go a.gcLoop(stop)
}

// Stop clears local state (incrementing clock), emits one final empty
// local state, and halts the GC timer.
func (a *Awareness) Stop() {
	a.mu.Lock()
	a.clock++
	a.local = make(map[string]interface{})
	snapshot := a.localStateLocked()
	cb := a.outbound
	stop := a.stopGC
	a.stopGC = nil
	a.mu.Unlock()

	if stop != nil {
		close(stop)
		a.gcWG.Wait()
	}
	if cb != nil {
		cb(snapshot)
	}
}

func (a *Awareness) localStateLocked() State {
	return State{ClientID: a.clientID, Clock: a.clock, State: a.local, Timestamp: time.Now()}
}

// SetLocalState replaces the local state wholesale.
func (a *Awareness) SetLocalState(state map[string]interface{}) {
	a.mu.Lock()
	a.clock++
	a.local = state
	snapshot := a.localStateLocked()
	cb := a.outbound
	a.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// UpdateLocalState merges partial into the local state.
func (a *Awareness) UpdateLocalState(partial map[string]interface{}) {
	a.mu.Lock()
	a.clock++
	merged := make(map[string]interface{}, len(a.local)+len(partial))
	for k, v := range a.local {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}
	a.local = merged
	snapshot := a.localStateLocked()
	cb := a.outbound
	a.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// HandleRemoteUpdate ingests one peer's state. Entries
// with clock <= last-seen are dropped silently; this also makes
// re-applying the same State a no-op (the idempotent-apply invariant).
func (a *Awareness) HandleRemoteUpdate(s State) {
	a.mu.Lock()
	existing, ok := a.remote[s.ClientID]
	if ok && s.Clock <= existing.Clock {
		a.mu.Unlock()
		return
	}
	stored := s
	a.remote[s.ClientID] = &stored
	a.mu.Unlock()

	a.fire(Event{ClientID: s.ClientID, State: s.State})
}

// ApplyStates ingests many peer states in one call.
func (a *Awareness) ApplyStates(states []State) {
	for _, s := range states {
		a.HandleRemoteUpdate(s)
	}
}

// GetRemoteState returns the last-known state for a remote client, or
// nil if unknown.
func (a *Awareness) GetRemoteState(clientID string) *State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.remote[clientID]; ok {
		cp := *s
		return &cp
	}
	return nil
}

// GetAllStates returns every currently-tracked remote state.
func (a *Awareness) GetAllStates() []State {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]State, 0, len(a.remote))
	for _, s := range a.remote {
		out = append(out, *s)
	}
	return out
}

// Subscribe registers a listener, which fires immediately with the
// current remote snapshot and thereafter for every update or removal.
func (a *Awareness) Subscribe(fn func(Event)) Unsubscribe {
	a.mu.Lock()
	snapshot := make([]State, 0, len(a.remote))
	for _, s := range a.remote {
		snapshot = append(snapshot, *s)
	}
	a.listeners = append(a.listeners, fn)
	idx := len(a.listeners) - 1
	a.mu.Unlock()

	for _, s := range snapshot {
		fn(Event{ClientID: s.ClientID, State: s.State})
	}

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.listeners[idx] = nil
	}
}

func (a *Awareness) fire(ev Event) {
	a.mu.Lock()
	fns := append([]func(Event){}, a.listeners...)
	a.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn(ev)
		}
	}
}

// gcLoop evicts remote entries aged past Timeout every GCInterval,
// emitting a removed notification for each.
func (a *Awareness) gcLoop(stop chan struct{}) {
	defer a.gcWG.Done()
	ticker := time.NewTicker(a.opts.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.sweep()
		}
	}
}

func (a *Awareness) sweep() {
	now := time.Now()
	a.mu.Lock()
	var removed []string
	for id, s := range a.remote {
		if now.Sub(s.Timestamp) > a.opts.Timeout {
			removed = append(removed, id)
			delete(a.remote, id)
		}
	}
	a.mu.Unlock()

	for _, id := range removed {
		a.fire(Event{ClientID: id, Removed: true})
	}
}
