package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/BeranItService/chatbot/internal/model/chat"
)

var (
	ErrIndexOutOfRange = errors.New("ledger index out of range")
	ErrEmpty           = errors.New("ledger is empty")
	ErrClosed          = errors.New("ledger is closed")
)

// DefaultMaxTurns bounds a ledger when no explicit limit is given.
const DefaultMaxTurns = 1000

// Exporter persists a session's turns to durable storage.
type Exporter interface {
	Export(ctx context.Context, sid string, turns []chat.Turn) error
}

// Ledger is the ordered log of answered turns for one session.
// It is not safe for concurrent use; the owning session serializes access.
type Ledger struct {
	sid     string
	max     int
	turns   []chat.Turn
	dropped int
	closed  bool
}

// New returns an empty ledger bounded to max turns.
func New(sid string, max int) *Ledger {
	if max <= 0 {
		max = DefaultMaxTurns
	}
	return &Ledger{sid: sid, max: max, turns: make([]chat.Turn, 0, 16)}
}

// Add appends a turn. It returns false once the ledger is closed.
func (l *Ledger) Add(turn chat.Turn) bool {
	if l.closed {
		return false
	}
	turn.SID = l.sid
	turn.Index = l.dropped + len(l.turns)
	l.turns = append(l.turns, turn)
	if len(l.turns) > l.max {
		overflow := len(l.turns) - l.max
		l.turns = append(l.turns[:0:0], l.turns[overflow:]...)
		l.dropped += overflow
	}
	return true
}

// Len reports the number of retained turns.
func (l *Ledger) Len() int {
	return len(l.turns)
}

// Turns returns a copy of the retained turns, oldest first.
func (l *Ledger) Turns() []chat.Turn {
	copied := make([]chat.Turn, len(l.turns))
	copy(copied, l.turns)
	return copied
}

// Recent returns up to n most recent turns, oldest first.
func (l *Ledger) Recent(n int) []chat.Turn {
	if n <= 0 || len(l.turns) == 0 {
		return nil
	}
	start := len(l.turns) - n
	if start < 0 {
		start = 0
	}
	copied := make([]chat.Turn, len(l.turns)-start)
	copy(copied, l.turns[start:])
	return copied
}

// Last returns the most recent turn.
func (l *Ledger) Last() (chat.Turn, bool) {
	if len(l.turns) == 0 {
		return chat.Turn{}, false
	}
	return l.turns[len(l.turns)-1], true
}

// Rate sets the rating of the turn at position idx. Negative positions
// count from the end, so -1 is the most recent turn.
func (l *Ledger) Rate(rating string, idx int) error {
	pos, err := l.position(idx)
	if err != nil {
		return err
	}
	l.turns[pos].Rate = rating
	return nil
}

// Feedback attaches free text feedback and a label to the latest turn.
func (l *Ledger) Feedback(text, label string) error {
	if l.closed {
		return ErrClosed
	}
	if len(l.turns) == 0 {
		return ErrEmpty
	}
	last := &l.turns[len(l.turns)-1]
	last.Feedback = text
	last.Label = label
	return nil
}

func (l *Ledger) position(idx int) (int, error) {
	if l.closed {
		return 0, ErrClosed
	}
	pos := idx
	if idx < 0 {
		pos = len(l.turns) + idx
	}
	if pos < 0 || pos >= len(l.turns) {
		return 0, fmt.Errorf("%w: %d not in [%d, %d)", ErrIndexOutOfRange, idx, -len(l.turns), len(l.turns))
	}
	return pos, nil
}

// Reset drops every retained turn.
func (l *Ledger) Reset() {
	l.turns = l.turns[:0]
	l.dropped = 0
}

// Close marks the ledger terminal; further Add calls are rejected.
func (l *Ledger) Close() {
	l.closed = true
}

// Closed reports whether Close was called.
func (l *Ledger) Closed() bool {
	return l.closed
}

// Flush exports the retained turns through exp.
func (l *Ledger) Flush(ctx context.Context, exp Exporter) error {
	if exp == nil || len(l.turns) == 0 {
		return nil
	}
	if err := exp.Export(ctx, l.sid, l.Turns()); err != nil {
		return fmt.Errorf("export ledger %s: %w", l.sid, err)
	}
	return nil
}
