package wire

// SyncKind distinguishes the two directions of a sync exchange.
type SyncKind string

const (
	SyncRequest SyncKind = "request"
	SyncState   SyncKind = "state"
)

// SyncPayload is the `sync` message payload. A request carries only
// Kind; a response additionally carries the document catch-up state —
// Doc/StateVector for a CRDT room, Text/Revision for an OT room (a
// room is always one or the other, never both) — plus the current
// awareness snapshot.
type SyncPayload struct {
	Kind        SyncKind           `json:"type"`
	Doc         *CRDTUpdate        `json:"doc,omitempty"`
	StateVector map[string]uint64  `json:"stateVector,omitempty"`
	Text        *string            `json:"text,omitempty"`
	Revision    *int               `json:"revision,omitempty"`
	Awareness   []AwarenessState   `json:"awareness,omitempty"`
	Presence    []UserPresenceWire `json:"presence,omitempty"`
}

// ItemID names a CRDT item for all time: (ClientID, Clock).
type ItemID struct {
	Client string `json:"client"`
	Clock  uint64 `json:"clock"`
}

// Item is the wire serialization of a CRDT item.
type Item struct {
	ID          ItemID  `json:"id"`
	Origin      *ItemID `json:"origin"`
	RightOrigin *ItemID `json:"rightOrigin"`
	Parent      string  `json:"parent"`
	ParentSub   *string `json:"parentSub"`
	Content     []byte  `json:"content"`
	Deleted     bool    `json:"deleted"`
	Length      uint64  `json:"length"`
}

// DeleteRange is a (start, length) clock range marking a contiguous
// deletion on one client.
type DeleteRange struct {
	Start  uint64 `json:"start"`
	Length uint64 `json:"length"`
}

// CRDTUpdate is the wire shape of a CRDT Update: items the sender has
// that the recipient lacks, plus the full delete set.
type CRDTUpdate struct {
	Items      []Item                   `json:"items"`
	DeleteSet  map[string][]DeleteRange `json:"deleteSet"`
	StateVector map[string]uint64       `json:"stateVector,omitempty"`
}

// AwarenessState is a single client's ephemeral state.
type AwarenessState struct {
	ClientID  string                 `json:"clientId"`
	Clock     uint64                 `json:"clock"`
	State     map[string]interface{} `json:"state"`
	Timestamp int64                  `json:"timestamp"`
}

// PresenceKind distinguishes presence lifecycle events.
type PresenceKind string

const (
	PresenceJoin      PresenceKind = "join"
	PresenceUpdate    PresenceKind = "update"
	PresenceLeave     PresenceKind = "leave"
	PresenceHeartbeat PresenceKind = "heartbeat"
)

// CursorPosition names a location in text as a (line, column) pair.
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Selection is a cursor anchor/head pair.
type Selection struct {
	Anchor CursorPosition `json:"anchor"`
	Head   CursorPosition `json:"head"`
}

// UserPresenceWire is the wire shape of a UserPresence.
type UserPresenceWire struct {
	ClientID string                 `json:"clientId"`
	UserID   *string                `json:"userId,omitempty"`
	Avatar   *string                `json:"avatar,omitempty"`
	Name     string                 `json:"name"`
	Color    string                 `json:"color"`
	Status   string                 `json:"status"`
	LastSeen int64                  `json:"lastSeen"`
	Cursor   *CursorPosition        `json:"cursor,omitempty"`
	Selection *Selection            `json:"selection,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// PresencePayload is the `presence` message payload.
type PresencePayload struct {
	Type     PresenceKind     `json:"type"`
	Presence UserPresenceWire `json:"presence"`
}

// CursorPayload carries a single client's cursor decoration, already
// resolved to a pixel-space hint where available.
type CursorPayload struct {
	ClientID string          `json:"clientId"`
	Position *CursorPosition `json:"position,omitempty"`
}

// ErrorPayload carries a non-fatal error surfaced to the peer.
type ErrorPayload struct {
	Message string `json:"message"`
}
