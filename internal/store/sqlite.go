package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/vulndash/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS suggestions (
		alert_id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_suggestions_created ON suggestions(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetSuggestion retrieves the suggestion for an alert.
func (s *SQLiteStore) GetSuggestion(ctx context.Context, alertID string) (*domain.Suggestion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT alert_id, text, created_at FROM suggestions WHERE alert_id = ?`, alertID)

	var sg domain.Suggestion
	var createdAt int64
	err := row.Scan(&sg.AlertID, &sg.Text, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan suggestion row: %w", err)
	}
	sg.CreatedAt = time.UnixMilli(createdAt)
	return &sg, nil
}

// PutSuggestion creates or replaces a suggestion.
func (s *SQLiteStore) PutSuggestion(ctx context.Context, sg *domain.Suggestion) error {
	query := `
	INSERT INTO suggestions (alert_id, text, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(alert_id) DO UPDATE SET
		text = excluded.text,
		created_at = excluded.created_at`

	return s.write(ctx, "upsert suggestion", func() error {
		_, err := s.db.ExecContext(ctx, query, sg.AlertID, sg.Text, sg.CreatedAt.UnixMilli())
		return err
	})
}

// ClearSuggestions removes every suggestion.
func (s *SQLiteStore) ClearSuggestions(ctx context.Context) (int64, error) {
	var n int64
	err := s.write(ctx, "clear suggestions", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM suggestions`)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// DeleteExpired removes suggestions created before cutoff.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.write(ctx, "delete expired suggestions", func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM suggestions WHERE created_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) write(ctx context.Context, op string, fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return retryBusy(ctx, op, fn)
}
