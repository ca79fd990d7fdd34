package session

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/BeranItService/chatbot/internal/model/chat"
	"github.com/BeranItService/chatbot/internal/model/responder"
	"github.com/BeranItService/chatbot/internal/service/ledger"
)

// historyWindow is how many past exchanges a responder view carries.
const historyWindow = 10

// Session is the server side state of one conversation.
//
// Identity fields are immutable. Everything else is guarded by the session
// lock: callers take Lock for the duration of a turn or admin operation and
// call the remaining methods while holding it.
type Session struct {
	mu sync.Mutex

	sid       string
	clientID  string
	user      string
	test      bool
	createdAt time.Time

	botName      string
	lastActiveAt time.Time
	active       bool
	closed       bool
	context      map[string]map[string]string
	weights      map[string]float64
	lastUsed     string
	open         string
	ledger       *ledger.Ledger

	exporter ledger.Exporter
	logger   *slog.Logger
}

func newSession(sid, clientID, user, botName string, test bool, now time.Time, maxTurns int, exp ledger.Exporter, logger *slog.Logger) *Session {
	return &Session{
		sid:       sid,
		clientID:  clientID,
		user:      user,
		test:      test,
		createdAt: now,
		botName:   botName,
		context:   make(map[string]map[string]string),
		weights:   make(map[string]float64),
		ledger:    ledger.New(sid, maxTurns),
		exporter:  exp,
		logger:    logger,
	}
}

func (s *Session) Lock()         { s.mu.Lock() }
func (s *Session) Unlock()       { s.mu.Unlock() }
func (s *Session) TryLock() bool { return s.mu.TryLock() }

func (s *Session) SID() string          { return s.sid }
func (s *Session) ClientID() string     { return s.clientID }
func (s *Session) User() string         { return s.user }
func (s *Session) Test() bool           { return s.test }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) BotName() string         { return s.botName }
func (s *Session) SetBotName(name string)  { s.botName = name }
func (s *Session) Closed() bool            { return s.closed }
func (s *Session) Active() bool            { return s.active }
func (s *Session) LastActiveAt() time.Time { return s.lastActiveAt }
func (s *Session) Ledger() *ledger.Ledger  { return s.ledger }

// Touch advances lastActiveAt; it never moves backwards.
func (s *Session) Touch(now time.Time) {
	if now.After(s.lastActiveAt) {
		s.lastActiveAt = now
	}
}

// idleSince is the instant idle time is measured from.
func (s *Session) idleSince() time.Time {
	if s.lastActiveAt.IsZero() {
		return s.createdAt
	}
	return s.lastActiveAt
}

// Add records a turn. It returns false on a closed session.
func (s *Session) Add(ctx context.Context, turn chat.Turn, now time.Time) bool {
	if s.closed {
		return false
	}
	if !s.ledger.Add(turn) {
		return false
	}
	s.active = true
	s.Touch(now)
	if last, ok := s.ledger.Last(); ok {
		s.export(ctx, []chat.Turn{last})
	}
	return true
}

// Reset clears the ledger and pins of an active session, dumping the ledger
// first. It reports whether anything was reset.
func (s *Session) Reset(ctx context.Context) bool {
	if s.closed || !s.active {
		return false
	}
	s.flush(ctx)
	s.ledger.Reset()
	s.lastUsed = ""
	s.open = ""
	return true
}

// close flushes and terminates the session. Caller holds the lock.
func (s *Session) close(ctx context.Context) bool {
	if s.closed {
		return false
	}
	s.flush(ctx)
	s.ledger.Close()
	s.closed = true
	return true
}

func (s *Session) flush(ctx context.Context) {
	if s.test {
		return
	}
	if err := s.ledger.Flush(ctx, s.exporter); err != nil {
		s.logger.Warn("flush session history failed", "sid", s.sid, "error", err)
	}
}

func (s *Session) export(ctx context.Context, turns []chat.Turn) {
	if s.test || s.exporter == nil || len(turns) == 0 {
		return
	}
	if err := s.exporter.Export(ctx, s.sid, turns); err != nil {
		s.logger.Warn("export session history failed", "sid", s.sid, "error", err)
	}
}

func (s *Session) OpenResponder() string     { return s.open }
func (s *Session) LastUsedResponder() string { return s.lastUsed }

// SetPins replaces both responder pins.
func (s *Session) SetPins(lastUsed, open string) {
	s.lastUsed = lastUsed
	s.open = open
}

// ClearOpen drops the open responder pin only.
func (s *Session) ClearOpen() { s.open = "" }

// Weights returns a copy of the per-session weight overrides.
func (s *Session) Weights() map[string]float64 {
	return maps.Clone(s.weights)
}

func (s *Session) SetWeight(id string, weight float64) {
	s.weights[id] = weight
}

func (s *Session) ResetWeights() {
	clear(s.weights)
}

// Context returns a copy of namespace ns.
func (s *Session) Context(ns string) map[string]string {
	return maps.Clone(s.context[ns])
}

func (s *Session) SetContext(ns, key, value string) {
	bucket, ok := s.context[ns]
	if !ok {
		bucket = make(map[string]string)
		s.context[ns] = bucket
	}
	bucket[key] = value
}

// RemoveContext deletes keys from ns and reports how many existed.
func (s *Session) RemoveContext(ns string, keys ...string) int {
	bucket, ok := s.context[ns]
	if !ok {
		return 0
	}
	removed := 0
	for _, key := range keys {
		if _, ok := bucket[key]; ok {
			delete(bucket, key)
			removed++
		}
	}
	if len(bucket) == 0 {
		delete(s.context, ns)
	}
	return removed
}

// Info returns the listing view of the session.
func (s *Session) Info() chat.SessionInfo {
	return chat.SessionInfo{
		SID:          s.sid,
		ClientID:     s.clientID,
		User:         s.user,
		BotName:      s.botName,
		Test:         s.test,
		Turns:        s.ledger.Len(),
		CreatedAt:    s.createdAt,
		LastActiveAt: s.lastActiveAt,
		LastUsed:     s.lastUsed,
		Open:         s.open,
	}
}

// View builds the responder facing view for namespace ns.
func (s *Session) View(ns string) *View {
	recent := s.ledger.Recent(historyWindow)
	history := make([]responder.Exchange, 0, len(recent))
	for _, turn := range recent {
		history = append(history, responder.Exchange{Question: turn.Question, Answer: turn.Answer})
	}
	var lastAnswer string
	if last, ok := s.ledger.Last(); ok {
		lastAnswer = last.Answer
	}
	return &View{
		sess:       s,
		ns:         ns,
		botName:    s.botName,
		context:    s.Context(ns),
		history:    history,
		lastAnswer: lastAnswer,
	}
}

// ResponderView returns View(id) as a responder.StagedView.
func (s *Session) ResponderView(id string) responder.StagedView {
	return s.View(id)
}

// View is a snapshot of session state for one responder consultation.
// Context writes are staged until Commit.
type View struct {
	sess       *Session
	ns         string
	botName    string
	context    map[string]string
	history    []responder.Exchange
	lastAnswer string

	mu     sync.Mutex
	staged map[string]string
}

var _ responder.SessionView = (*View)(nil)

func (v *View) SID() string        { return v.sess.sid }
func (v *View) User() string       { return v.sess.user }
func (v *View) BotName() string    { return v.botName }
func (v *View) LastAnswer() string { return v.lastAnswer }

func (v *View) Context() map[string]string {
	v.mu.Lock()
	defer v.mu.Unlock()
	merged := maps.Clone(v.context)
	if merged == nil {
		merged = make(map[string]string, len(v.staged))
	}
	maps.Copy(merged, v.staged)
	return merged
}

func (v *View) SetContext(key, value string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.staged == nil {
		v.staged = make(map[string]string)
	}
	v.staged[key] = value
}

func (v *View) History(n int) []responder.Exchange {
	if n <= 0 || n > len(v.history) {
		n = len(v.history)
	}
	return append([]responder.Exchange(nil), v.history[len(v.history)-n:]...)
}

// Commit applies staged context writes. Caller holds the session lock.
func (v *View) Commit() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for key, value := range v.staged {
		v.sess.SetContext(v.ns, key, value)
	}
	v.staged = nil
}
