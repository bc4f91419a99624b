package ot

import (
	"fmt"
	"sync"
)

// OutgoingOp is the batch handed to a Client's send handler.
type OutgoingOp struct {
	ID        string
	ClientID  string
	Revision  int
	Ops       *OperationSeq
	Timestamp int64
}

// RemoteOp is a server-broadcast operation arriving at a client.
type RemoteOp struct {
	ClientID string
	Revision int
	Ops      *OperationSeq
}

// SendFunc delivers a client's outgoing batch to the server.
type SendFunc func(OutgoingOp)

// Client is the client-side half of the OT protocol: it tracks one
// in-flight batch at a time, composing further local edits into
// pendingOps until the in-flight batch is acknowledged.
type Client struct {
	mu sync.Mutex

	clientID string
	revision int
	text     string

	pendingOps *OperationSeq
	sentOps    *OperationSeq
	sentID     string

	undoStack [][]*OperationSeq // each entry: {inverse, redoInverse-or-nil}
	send      SendFunc
	nextOpID  func() string
}

// NewClient creates a client bound to clientID and the server's
// initial (revision, text). send is invoked (outside the client's
// lock) whenever a batch is ready to go out; nextOpID mints the id
// carried in each OutgoingOp for later server-side dedup.
func NewClient(clientID string, revision int, text string, send SendFunc, nextOpID func() string) *Client {
	return &Client{
		clientID: clientID,
		revision: revision,
		text:     text,
		send:     send,
		nextOpID: nextOpID,
	}
}

// Text returns the client's current local buffer.
func (c *Client) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// Revision returns the last server revision this client has caught up to.
func (c *Client) Revision() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision
}

// ApplyLocal applies a local edit: saves its inverse for undo, updates
// the local buffer, appends to pendingOps, and flushes.
func (c *Client) ApplyLocal(op *OperationSeq) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	newText, err := op.Apply(c.text)
	if err != nil {
		return fmt.Errorf("ot: apply local op: %w", err)
	}
	inverse := op.Invert(c.text)
	c.text = newText
	c.undoStack = append(c.undoStack, []*OperationSeq{inverse})

	if c.pendingOps == nil {
		c.pendingOps = op
	} else {
		composed, err := c.pendingOps.Compose(op)
		if err != nil {
			return fmt.Errorf("ot: compose pending: %w", err)
		}
		c.pendingOps = composed
	}
	c.flushPendingLocked()
	return nil
}

// flushPendingLocked moves pendingOps into sentOps and invokes send,
// if no batch is currently outstanding.
func (c *Client) flushPendingLocked() {
	if c.sentOps != nil || c.pendingOps == nil {
		return
	}
	c.sentOps = c.pendingOps
	c.pendingOps = nil
	c.sentID = c.nextOpID()

	out := OutgoingOp{
		ID:       c.sentID,
		ClientID: c.clientID,
		Revision: c.revision,
		Ops:      c.sentOps,
	}
	send := c.send
	c.mu.Unlock()
	send(out)
	c.mu.Lock()
}

// Reconnected re-sends the in-flight batch unchanged after a dropped
// connection, since the server never acknowledged it.
func (c *Client) Reconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sentOps == nil {
		return
	}
	out := OutgoingOp{
		ID:       c.sentID,
		ClientID: c.clientID,
		Revision: c.revision,
		Ops:      c.sentOps,
	}
	send := c.send
	c.mu.Unlock()
	send(out)
	c.mu.Lock()
}

// ApplyRemote processes an operation arriving from the server,
// implementing both the acknowledgment path (R.clientId == self) and
// the foreign-op transform path.
func (c *Client) ApplyRemote(r RemoteOp) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.ClientID == c.clientID {
		c.sentOps = nil
		c.sentID = ""
		c.revision = r.Revision
		c.flushPendingLocked()
		return nil
	}

	// R.ops was built against the server's document, which has none of
	// this client's unacknowledged edits baked in. Chain-transform it
	// through sentOps then pendingOps so what's left to apply lands on
	// top of those edits instead of colliding with them; each layer
	// keeps its own transformed (still-unacknowledged) counterpart.
	toApply := r.Ops
	if c.sentOps != nil {
		sentPrime, opPrime, err := c.sentOps.Transform(toApply, PriorityRight)
		if err != nil {
			return fmt.Errorf("ot: transform sentOps: %w", err)
		}
		c.sentOps = sentPrime
		toApply = opPrime
	}
	if c.pendingOps != nil {
		pendingPrime, opPrime, err := c.pendingOps.Transform(toApply, PriorityRight)
		if err != nil {
			return fmt.Errorf("ot: transform pendingOps: %w", err)
		}
		c.pendingOps = pendingPrime
		toApply = opPrime
	}

	newText, err := toApply.Apply(c.text)
	if err != nil {
		return fmt.Errorf("ot: apply remote op: %w", err)
	}
	c.text = newText
	c.revision = r.Revision
	return nil
}

// Undo pops the last inverse off the undo stack and applies it as a
// new local edit. The synthesized inverse-of-inverse
// is discarded, not pushed back, so redo is not doubled.
func (c *Client) Undo() error {
	c.mu.Lock()
	if len(c.undoStack) == 0 {
		c.mu.Unlock()
		return nil
	}
	entry := c.undoStack[len(c.undoStack)-1]
	c.undoStack = c.undoStack[:len(c.undoStack)-1]
	c.mu.Unlock()

	return c.applyUndoOp(entry[0])
}

func (c *Client) applyUndoOp(op *OperationSeq) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	newText, err := op.Apply(c.text)
	if err != nil {
		return fmt.Errorf("ot: apply undo: %w", err)
	}
	c.text = newText

	if c.pendingOps == nil {
		c.pendingOps = op
	} else {
		composed, err := c.pendingOps.Compose(op)
		if err != nil {
			return fmt.Errorf("ot: compose pending undo: %w", err)
		}
		c.pendingOps = composed
	}
	c.flushPendingLocked()
	return nil
}
