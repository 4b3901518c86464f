package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ashureev/vulndash/internal/domain"
	"github.com/dgraph-io/badger/v4"
)

const suggestionPrefix = "suggestion/"

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	InMemory   bool
	SyncWrites bool

	// TTL is set on every entry so Badger can drop stale values during compaction.
	// Zero keeps entries until DeleteExpired or ClearSuggestions removes them.
	TTL time.Duration

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval     time.Duration
	GCDiscardRatio float64

	Logger *slog.Logger
}

// DefaultBadgerConfig returns a persistent configuration rooted at path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// BadgerStore implements Repository on an embedded Badger key-value store.
type BadgerStore struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
	stopGC chan struct{}
	gcDone chan struct{}
}

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

// NewBadger opens a Badger-backed repository.
func NewBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.Default()
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &BadgerStore{db: db, ttl: cfg.TTL, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("Badger value log GC failed", "error", err)
			}
		}
	}
}

func suggestionKey(alertID string) []byte {
	return []byte(suggestionPrefix + alertID)
}

// GetSuggestion retrieves the suggestion for an alert.
func (s *BadgerStore) GetSuggestion(ctx context.Context, alertID string) (*domain.Suggestion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var sg *domain.Suggestion
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(suggestionKey(alertID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			sg = &domain.Suggestion{}
			return json.Unmarshal(val, sg)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get suggestion %s: %w", alertID, err)
	}
	return sg, nil
}

// PutSuggestion creates or replaces a suggestion.
func (s *BadgerStore) PutSuggestion(ctx context.Context, sg *domain.Suggestion) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	val, err := json.Marshal(sg)
	if err != nil {
		return fmt.Errorf("encode suggestion: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(suggestionKey(sg.AlertID), val)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("put suggestion %s: %w", sg.AlertID, err)
	}
	return nil
}

// ClearSuggestions removes every suggestion.
func (s *BadgerStore) ClearSuggestions(ctx context.Context) (int64, error) {
	return s.deleteWhere(ctx, func(*domain.Suggestion) bool { return true })
}

// DeleteExpired removes suggestions created before cutoff.
func (s *BadgerStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.deleteWhere(ctx, func(sg *domain.Suggestion) bool { return sg.CreatedAt.Before(cutoff) })
}

func (s *BadgerStore) deleteWhere(ctx context.Context, match func(*domain.Suggestion) bool) (int64, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(suggestionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var sg domain.Suggestion
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &sg) }); err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			if match(&sg) {
				keys = append(keys, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan suggestions: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("delete suggestion: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush deletes: %w", err)
	}
	return int64(len(keys)), nil
}

// Ping reports whether the database is open.
func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

// Close stops GC and closes the database.
func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.gcDone
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger database: %w", err)
	}
	return nil
}
