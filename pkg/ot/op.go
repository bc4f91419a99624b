// Package ot implements an operational-transformation engine: a
// sequence-of-ops text model, transform/compose/invert over those
// sequences, and the client/server rebase protocol built on top of
// them. The op model itself (composable Retain/Insert/Delete runs
// spanning the whole buffer, BaseLen/TargetLen bookkeeping,
// transformIndex for cursor translation) mirrors the classic
// operation-sequence algebra used by real-time editors, generalized
// into its own self-contained Go types rather than wrapping an
// external OT module.
package ot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Operation is one run of an OperationSeq: Retain, Insert, or Delete.
type Operation interface {
	isOperation()
}

// Retain preserves N characters of the base text unchanged.
type Retain struct{ N uint64 }

// Insert adds Text at the current cursor position.
type Insert struct{ Text string }

// Delete removes N characters from the base text.
type Delete struct{ N uint64 }

func (Retain) isOperation() {}
func (Insert) isOperation() {}
func (Delete) isOperation() {}

// Priority decides which side's Insert is ordered first when two
// operations insert at the same position during Transform.
type Priority int

const (
	PriorityLeft Priority = iota
	PriorityRight
)

// OperationSeq is an ordered run of Retain/Insert/Delete operations
// spanning an entire base text.
type OperationSeq struct {
	ops       []Operation
	baseLen   uint64
	targetLen uint64
}

// NewOperationSeq returns an empty sequence.
func NewOperationSeq() *OperationSeq {
	return &OperationSeq{}
}

// WithCapacity returns an empty sequence pre-sized for n ops.
func WithCapacity(n int) *OperationSeq {
	return &OperationSeq{ops: make([]Operation, 0, n)}
}

// BaseLen returns the length of text this sequence can be applied to.
func (s *OperationSeq) BaseLen() uint64 { return s.baseLen }

// TargetLen returns the length of text produced by applying this
// sequence.
func (s *OperationSeq) TargetLen() uint64 { return s.targetLen }

// Ops returns the sequence's operations in order. Callers must not
// mutate the returned slice.
func (s *OperationSeq) Ops() []Operation { return s.ops }

// IsNoop reports whether the sequence has at most one Retain op and no
// inserts or deletes.
func (s *OperationSeq) IsNoop() bool {
	switch len(s.ops) {
	case 0:
		return true
	case 1:
		_, ok := s.ops[0].(Retain)
		return ok
	default:
		return false
	}
}

func (s *OperationSeq) lastRetain() (*Retain, bool) {
	if len(s.ops) == 0 {
		return nil, false
	}
	r, ok := s.ops[len(s.ops)-1].(Retain)
	if !ok {
		return nil, false
	}
	return &r, true
}

func (s *OperationSeq) lastInsert() (*Insert, bool) {
	if len(s.ops) == 0 {
		return nil, false
	}
	in, ok := s.ops[len(s.ops)-1].(Insert)
	if !ok {
		return nil, false
	}
	return &in, true
}

func (s *OperationSeq) lastDelete() (*Delete, bool) {
	if len(s.ops) == 0 {
		return nil, false
	}
	d, ok := s.ops[len(s.ops)-1].(Delete)
	if !ok {
		return nil, false
	}
	return &d, true
}

// Retain appends (or merges into the trailing run) a retain of n
// characters. A zero-length retain is a no-op.
func (s *OperationSeq) Retain(n uint64) {
	if n == 0 {
		return
	}
	s.baseLen += n
	s.targetLen += n
	if r, ok := s.lastRetain(); ok {
		s.ops[len(s.ops)-1] = Retain{N: r.N + n}
		return
	}
	s.ops = append(s.ops, Retain{N: n})
}

// Insert appends (or merges into the trailing run) an insertion of s.
// Per convention, inserts are always kept ordered before a trailing
// delete so that `Delete` then `Insert` on the same position composes
// into the conventional "delete-then-insert" run ordering used by the
// rest of the algorithm.
func (s *OperationSeq) Insert(text string) {
	if text == "" {
		return
	}
	s.targetLen += uint64(len([]rune(text)))

	if in, ok := s.lastInsert(); ok {
		s.ops[len(s.ops)-1] = Insert{Text: in.Text + text}
		return
	}
	if _, ok := s.lastDelete(); ok {
		// Keep delete as the last op, insert the new run before it.
		last := len(s.ops) - 1
		s.ops = append(s.ops, nil)
		copy(s.ops[last+1:], s.ops[last:])
		s.ops[last] = Insert{Text: text}
		return
	}
	s.ops = append(s.ops, Insert{Text: text})
}

// Delete appends (or merges into the trailing run) a deletion of n
// characters.
func (s *OperationSeq) Delete(n uint64) {
	if n == 0 {
		return
	}
	s.baseLen += n
	if d, ok := s.lastDelete(); ok {
		s.ops[len(s.ops)-1] = Delete{N: d.N + n}
		return
	}
	s.ops = append(s.ops, Delete{N: n})
}

// opJSON encodes an Operation the way the reference wire format does:
// a positive number is a Retain run, a negative number is a Delete run
// (magnitude = count), and a string is an Insert run.
func opJSON(op Operation) (interface{}, error) {
	switch v := op.(type) {
	case Retain:
		return v.N, nil
	case Delete:
		return -int64(v.N), nil
	case Insert:
		return v.Text, nil
	default:
		return nil, fmt.Errorf("ot: unknown operation %T", op)
	}
}

// MarshalJSON serializes the sequence as a flat array of retain/delete
// counts and insert strings.
func (s *OperationSeq) MarshalJSON() ([]byte, error) {
	raw := make([]interface{}, 0, len(s.ops))
	for _, op := range s.ops {
		v, err := opJSON(op)
		if err != nil {
			return nil, err
		}
		raw = append(raw, v)
	}
	return json.Marshal(raw)
}

// UnmarshalJSON restores a sequence from the flat wire format.
func (s *OperationSeq) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	var raw []json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	*s = OperationSeq{}
	for _, item := range raw {
		var asString string
		if err := json.Unmarshal(item, &asString); err == nil {
			s.Insert(asString)
			continue
		}
		var asNumber int64
		if err := json.Unmarshal(item, &asNumber); err != nil {
			return fmt.Errorf("ot: invalid op %s: %w", item, err)
		}
		if asNumber < 0 {
			s.Delete(uint64(-asNumber))
		} else {
			s.Retain(uint64(asNumber))
		}
	}
	return nil
}

var errBaseLenMismatch = errors.New("ot: base length mismatch")
