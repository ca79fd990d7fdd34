// Package history stores exported session ledgers in BadgerDB.
//
// Turns are keyed by session id, answer time and ledger index, so exporting
// the same ledger twice overwrites rather than duplicates:
//
//	turn/<sid>/<unix nanos>/<index>
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/BeranItService/chatbot/internal/model/chat"
	"github.com/BeranItService/chatbot/internal/service/ledger"
)

// InMemory is the directory value that selects an in-memory store.
const InMemory = ":memory:"

const keyPrefix = "turn/"

// Config holds configuration for a history store.
type Config struct {
	// Dir is the directory for BadgerDB files. Ignored when InMemory is set.
	Dir string

	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// GCInterval is how often RunGC triggers value log garbage collection.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64

	Logger *slog.Logger
}

// DefaultConfig returns the production defaults for dir. The InMemory dir
// value selects in-memory mode.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		InMemory:       dir == InMemory,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// Store persists ledger turns. It implements ledger.Exporter.
type Store struct {
	db         *badger.DB
	gcInterval time.Duration
	gcRatio    float64
	inMemory   bool
	logger     *slog.Logger
}

var _ ledger.Exporter = (*Store)(nil)

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens the store described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("history dir is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create history directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
		opts = opts.WithLogger(nil)
	} else {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	return &Store{
		db:         db,
		gcInterval: cfg.GCInterval,
		gcRatio:    cfg.GCDiscardRatio,
		inMemory:   cfg.InMemory,
		logger:     logger,
	}, nil
}

// OpenInMemory opens a store that loses its data on Close.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

func (s *Store) Close() error {
	return s.db.Close()
}

func sessionPrefix(sid string) []byte {
	return []byte(keyPrefix + sid + "/")
}

func turnKey(sid string, turn chat.Turn) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%06d", keyPrefix, sid, turn.Datetime.UnixNano(), turn.Index))
}

// Export writes every turn of the session in one write batch.
func (s *Store) Export(ctx context.Context, sid string, turns []chat.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	for _, turn := range turns {
		if turn.SID == "" {
			turn.SID = sid
		}
		data, err := json.Marshal(turn)
		if err != nil {
			wb.Cancel()
			return fmt.Errorf("encode turn %d: %w", turn.Index, err)
		}
		if err := wb.Set(turnKey(sid, turn), data); err != nil {
			wb.Cancel()
			return fmt.Errorf("write turn %d: %w", turn.Index, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush session %s: %w", sid, err)
	}
	s.logger.Debug("session exported", "sid", sid, "turns", len(turns))
	return nil
}

// Load returns the stored turns of a session in answer order.
func (s *Store) Load(ctx context.Context, sid string) ([]chat.Turn, error) {
	var turns []chat.Turn
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = sessionPrefix(sid)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var turn chat.Turn
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &turn)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			turns = append(turns, turn)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sid, err)
	}
	return turns, nil
}

// Delete drops every stored turn of a session.
func (s *Store) Delete(ctx context.Context, sid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.DropPrefix(sessionPrefix(sid))
}

// RunGC triggers value log garbage collection every GCInterval until ctx is
// done. It returns immediately when GC is disabled or the store is in memory.
func (s *Store) RunGC(ctx context.Context) error {
	if s.gcInterval <= 0 || s.inMemory {
		return nil
	}
	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := s.db.RunValueLogGC(s.gcRatio)
			if err == nil {
				s.logger.Debug("history value log GC completed")
			} else if !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("history value log GC error", "error", err)
			}
		}
	}
}
