package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BeranItService/chatbot/internal/model/chat"
	"github.com/BeranItService/chatbot/internal/observability"
	"github.com/BeranItService/chatbot/internal/service/ledger"
)

var ErrSessionNotFound = errors.New("session not found")

const (
	DefaultIdleTimeout   = 10 * time.Minute
	DefaultSweepInterval = 5 * time.Second
)

// Options configures a Store.
type Options struct {
	// IdleTimeout is the idle duration after which a session is evicted.
	// Negative disables eviction.
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	MaxTurns      int
	Exporter      ledger.Exporter
	Metrics       *observability.Metrics
	Logger        *slog.Logger
	Now           func() time.Time
	NewID         func() string
}

// StartRequest identifies the conversation to open.
type StartRequest struct {
	ClientID string
	User     string
	BotName  string
	Test     bool
	Refresh  bool
}

type identity struct {
	clientID string
	user     string
}

// Store indexes live sessions by sid and by (clientID, user).
//
// The store lock guards only the two indexes. It is never held while
// waiting for a session lock.
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	identities map[identity]string

	opts Options
}

// NewStore returns an empty store.
func NewStore(opts Options) *Store {
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger = opts.Logger.With("component", "session")
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = newSessionID
	}
	return &Store{
		sessions:   make(map[string]*Session),
		identities: make(map[identity]string),
		opts:       opts,
	}
}

// newSessionID prefers time based ids so sids sort by creation.
func newSessionID() string {
	if id, err := uuid.NewUUID(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// Start returns the live session for the identity, creating one if needed.
// With Refresh set an existing session is closed and replaced.
func (s *Store) Start(ctx context.Context, req StartRequest) string {
	key := identity{clientID: req.ClientID, user: req.User}
	for {
		s.mu.Lock()
		if sid, ok := s.identities[key]; ok && !req.Refresh {
			existing := s.sessions[sid]
			s.mu.Unlock()

			existing.Lock()
			if existing.closed {
				// Evicted between the index read and the lock; start over.
				existing.Unlock()
				continue
			}
			if req.BotName != "" {
				existing.botName = req.BotName
			}
			existing.Unlock()
			return sid
		}

		var replaced *Session
		if sid, ok := s.identities[key]; ok {
			replaced = s.sessions[sid]
			delete(s.sessions, sid)
		}
		sess := newSession(s.opts.NewID(), req.ClientID, req.User, req.BotName, req.Test, s.opts.Now(), s.opts.MaxTurns, s.opts.Exporter, s.opts.Logger)
		s.sessions[sess.sid] = sess
		s.identities[key] = sess.sid
		live := len(s.sessions)
		s.mu.Unlock()

		s.opts.Metrics.SetSessions(live)
		if replaced != nil {
			replaced.Lock()
			replaced.close(ctx)
			replaced.Unlock()
			s.opts.Logger.Info("session refreshed", "old_sid", replaced.sid, "sid", sess.sid)
		}
		s.opts.Logger.Info("session started", "sid", sess.sid, "client_id", req.ClientID, "user", req.User, "bot", req.BotName, "test", req.Test)
		return sess.sid
	}
}

// Get returns the live session for sid.
func (s *Store) Get(sid string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sid]
	return sess, ok
}

// Lookup is Get with an error for unknown sids.
func (s *Store) Lookup(sid string) (*Session, error) {
	sess, ok := s.Get(sid)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Remove flushes and closes the session and drops it from the indexes.
func (s *Store) Remove(ctx context.Context, sid string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sid]
	if ok {
		s.detachLocked(sess)
	}
	live := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.opts.Metrics.SetSessions(live)

	sess.Lock()
	sess.close(ctx)
	sess.Unlock()
	s.opts.Logger.Info("session removed", "sid", sid)
	return nil
}

// Reset clears the ledger and pins of an active session. It reports false
// without error when the session has not recorded a turn yet.
func (s *Store) Reset(ctx context.Context, sid string) (bool, error) {
	sess, err := s.Lookup(sid)
	if err != nil {
		return false, err
	}
	sess.Lock()
	defer sess.Unlock()
	if sess.closed {
		return false, ErrSessionNotFound
	}
	return sess.Reset(ctx), nil
}

// List returns the listing view of every live session.
func (s *Store) List() []chat.SessionInfo {
	sessions := s.snapshot()
	infos := make([]chat.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		sess.Lock()
		if !sess.closed {
			infos = append(infos, sess.Info())
		}
		sess.Unlock()
	}
	return infos
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep evicts every idle session once and returns how many were evicted.
// Sessions busy with a turn are skipped; they are not idle.
func (s *Store) Sweep(ctx context.Context) int {
	if s.opts.IdleTimeout < 0 {
		return 0
	}
	now := s.opts.Now()
	evicted := 0
	for _, sess := range s.snapshot() {
		if !sess.TryLock() {
			continue
		}
		if !sess.closed && now.Sub(sess.idleSince()) > s.opts.IdleTimeout {
			s.mu.Lock()
			s.detachLocked(sess)
			live := len(s.sessions)
			s.mu.Unlock()
			sess.close(ctx)
			evicted++
			s.opts.Metrics.SetSessions(live)
			s.opts.Metrics.RecordEviction()
			s.opts.Logger.Info("session evicted", "sid", sess.sid, "idle", now.Sub(sess.idleSince()).String())
		}
		sess.Unlock()
	}
	return evicted
}

// Run sweeps on every interval until ctx is done.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// DumpAll flushes the ledger of every live session.
func (s *Store) DumpAll(ctx context.Context) {
	for _, sess := range s.snapshot() {
		sess.Lock()
		if !sess.closed {
			sess.flush(ctx)
		}
		sess.Unlock()
	}
}

func (s *Store) snapshot() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// detachLocked removes sess from both indexes. Caller holds s.mu.
func (s *Store) detachLocked(sess *Session) {
	if current, ok := s.sessions[sess.sid]; ok && current == sess {
		delete(s.sessions, sess.sid)
	}
	key := identity{clientID: sess.clientID, user: sess.user}
	if sid, ok := s.identities[key]; ok && sid == sess.sid {
		delete(s.identities, key)
	}
}
