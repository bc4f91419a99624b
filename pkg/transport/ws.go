package transport

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/loomroom/loom/internal/wire"
	"github.com/loomroom/loom/pkg/logger"
)

// WSTransport is the websocket-backed Transport: raw Write/Read of the
// envelope string over context-scoped read/write deadlines, closing
// with websocket.StatusNormalClosure on a clean shutdown. Dial opens
// the client side; pkg/hub's connection handler wraps the
// websocket.Accept side for the server.
type WSTransport struct {
	*dispatcher

	opts Options
	url  string // client (dial) mode only

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closing   bool
	attempts  int

	queue      *outboundQueue
	stopHeart  chan struct{}
	readCancel context.CancelFunc
}

// Dial creates a client-mode transport that connects to url (expected
// to already carry roomId/clientId as query parameters).
func Dial(url string, opts Options) *WSTransport {
	opts = opts.withDefaults()
	return &WSTransport{
		dispatcher: newDispatcher(),
		opts:       opts,
		url:        url,
		queue:      newOutboundQueue(opts.MessageQueueSize),
	}
}

// Accept wraps an already-upgraded server-side connection (see
// pkg/hub/connection.go) as a Transport. It never reconnects or
// re-dials: once closed, it stays closed.
func Accept(conn *websocket.Conn, opts Options) *WSTransport {
	opts = opts.withDefaults()
	t := &WSTransport{
		dispatcher: newDispatcher(),
		opts:       opts,
		queue:      newOutboundQueue(opts.MessageQueueSize),
	}
	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.mu.Unlock()
	go t.readLoop(conn)
	go t.heartbeatLoop(conn)
	return t
}

// Connect dials the server (client mode only) and begins the
// heartbeat/read loops. Idempotent: a second call while already
// connected is a no-op.
func (t *WSTransport) Connect() error {
	t.mu.Lock()
	if t.connected || t.url == "" {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	return t.dial()
}

func (t *WSTransport) dial() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, t.url, nil)
	if err != nil {
		t.fire(Event{Kind: EventError, Err: fmt.Errorf("transport: dial: %w", err)})
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.attempts = 0
	t.mu.Unlock()

	t.fire(Event{Kind: EventConnect})
	t.flushQueue()

	go t.readLoop(conn)
	go t.heartbeatLoop(conn)
	return nil
}

// Disconnect disables auto-reconnect, flushes any pending close, and
// tears down the session.
func (t *WSTransport) Disconnect() {
	t.mu.Lock()
	t.closing = true
	conn := t.conn
	t.connected = false
	t.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

// IsConnected reports whether a session is currently open.
func (t *WSTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Send serializes an envelope and either writes it immediately (when
// connected) or appends it to the outbound queue. Never returns an error for the disconnected case; a
// write-time network failure fires an error event and is also returned.
func (t *WSTransport) Send(msgType wire.MsgType, payload interface{}) error {
	env, err := wire.New(msgType, t.opts.RoomID, t.opts.ClientID, payload)
	if err != nil {
		return fmt.Errorf("transport: build envelope: %w", err)
	}
	return t.SendEnvelope(env)
}

// SendEnvelope writes an already-built envelope verbatim: unlike Send,
// it does not overwrite RoomID/ClientID/Timestamp with this
// transport's own identity. pkg/hub uses this to relay a room's
// broadcast envelopes — which carry the originating client's id, not
// the recipient's — onto the wire unchanged.
func (t *WSTransport) SendEnvelope(env wire.Envelope) error {
	raw, err := wire.Encode(env)
	if err != nil {
		return fmt.Errorf("transport: encode envelope: %w", err)
	}

	t.mu.Lock()
	conn := t.conn
	connected := t.connected
	t.mu.Unlock()

	if !connected || conn == nil {
		t.queue.push(raw)
		return nil
	}
	return t.write(conn, raw)
}

func (t *WSTransport) write(conn *websocket.Conn, raw string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(raw)); err != nil {
		t.fire(Event{Kind: EventError, Err: fmt.Errorf("transport: write: %w", err)})
		return err
	}
	return nil
}

// flushQueue sends every queued message in FIFO order on (re)connect.
func (t *WSTransport) flushQueue() {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return
	}
	for _, raw := range t.queue.drain() {
		t.write(conn, raw)
	}
}

func (t *WSTransport) readLoop(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.readCancel = cancel
	t.mu.Unlock()
	defer cancel()

	for {
		readCtx, readCancel := context.WithTimeout(ctx, 60*time.Second)
		_, data, err := conn.Read(readCtx)
		readCancel()
		if err != nil {
			t.handleClose(err)
			return
		}

		env, err := wire.Decode(string(data))
		if err != nil {
			t.fire(Event{Kind: EventError, Err: fmt.Errorf("transport: decode frame: %w", err)})
			continue
		}
		if env.Type == wire.MsgPong {
			continue
		}
		t.fire(Event{Kind: EventMessage, Envelope: env})
	}
}

func (t *WSTransport) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()
	stop := make(chan struct{})
	t.mu.Lock()
	t.stopHeart = stop
	t.mu.Unlock()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.Send(wire.MsgPing, struct{}{})
		}
	}
}

func (t *WSTransport) handleClose(err error) {
	t.mu.Lock()
	wasClosing := t.closing
	t.connected = false
	if t.stopHeart != nil {
		close(t.stopHeart)
		t.stopHeart = nil
	}
	t.mu.Unlock()

	t.fire(Event{Kind: EventDisconnect, Err: err})

	if wasClosing || t.url == "" {
		return
	}
	t.scheduleReconnect()
}

// scheduleReconnect backs off exponentially: reconnectDelay *
// 2^(attempts-1).
func (t *WSTransport) scheduleReconnect() {
	t.mu.Lock()
	t.attempts++
	attempt := t.attempts
	if t.opts.MaxReconnectAttempts > 0 && attempt > t.opts.MaxReconnectAttempts {
		t.mu.Unlock()
		t.fire(Event{Kind: EventError, Err: fmt.Errorf("transport: exhausted %d reconnect attempts", t.opts.MaxReconnectAttempts)})
		return
	}
	t.mu.Unlock()

	delay := time.Duration(float64(t.opts.ReconnectDelay) * math.Pow(2, float64(attempt-1)))
	logger.Debug("transport: reconnecting in %s (attempt %d)", delay, attempt)
	t.fire(Event{Kind: EventReconnecting, Attempt: attempt})

	time.AfterFunc(delay, func() {
		t.mu.Lock()
		closing := t.closing
		t.mu.Unlock()
		if closing {
			return
		}
		if err := t.dial(); err != nil {
			t.scheduleReconnect()
		}
	})
}

// UpgradeHTTP accepts a server-side websocket connection from an HTTP
// request, for use by pkg/hub's per-connection handler.
func UpgradeHTTP(w http.ResponseWriter, r *http.Request, opts Options) (*WSTransport, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}
	return Accept(conn, opts), nil
}
