// This file implements an SQLite-backed store for conversations and flags.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/RelayPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists conversations in an SQLite database. Writes are
// durable when they return.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	if !strings.HasPrefix(dsn, "file:") {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		slog.Debug("SQLite database directory verified/created", "dir", dir)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single connection serializes writers and keeps in-memory DSNs coherent.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Load returns every stored conversation and flag.
func (s *SQLiteStore) Load() (models.Document, error) {
	doc, err := loadDocument(s.db,
		`SELECT sender, state, messages FROM conversations`,
		`SELECT sender, enabled FROM auto_respond`)
	if err != nil {
		slog.Error("SQLiteStore Load failed", "error", err)
		return doc, err
	}
	slog.Debug("SQLiteStore Load succeeded", "conversations", len(doc.Conversations), "flags", len(doc.AutoRespond))
	return doc, nil
}

// GetConversation returns the sender's record, or nil when not found.
func (s *SQLiteStore) GetConversation(sender string) (*models.ConversationRecord, error) {
	row := s.db.QueryRow(`SELECT sender, state, messages FROM conversations WHERE sender = ?`, sender)
	_, rec, err := scanConversation(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversation not found", "sender", sender)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversation failed", "error", err, "sender", sender)
		return nil, err
	}
	return rec, nil
}

// SaveConversation upserts the sender's record.
func (s *SQLiteStore) SaveConversation(sender string, record *models.ConversationRecord) error {
	messages, err := encodeMessages(record)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO conversations (sender, state, messages, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(sender) DO UPDATE SET state = excluded.state, messages = excluded.messages, updated_at = excluded.updated_at`,
		sender, stateColumn(record), messages, time.Now())
	if err != nil {
		slog.Error("SQLiteStore SaveConversation failed", "error", err, "sender", sender)
		return fmt.Errorf("failed to save conversation for %s: %w", sender, err)
	}
	slog.Debug("SQLiteStore SaveConversation succeeded", "sender", sender, "state", record.CurrentState(), "messages", len(record.Messages))
	return nil
}

// GetAutoRespond returns the sender's flag, false when unset.
func (s *SQLiteStore) GetAutoRespond(sender string) (bool, error) {
	var enabled bool
	err := s.db.QueryRow(`SELECT enabled FROM auto_respond WHERE sender = ?`, sender).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetAutoRespond failed", "error", err, "sender", sender)
		return false, err
	}
	return enabled, nil
}

// SetAutoRespond upserts the sender's flag.
func (s *SQLiteStore) SetAutoRespond(sender string, enabled bool) error {
	_, err := s.db.Exec(`
		INSERT INTO auto_respond (sender, enabled, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(sender) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		sender, enabled, time.Now())
	if err != nil {
		slog.Error("SQLiteStore SetAutoRespond failed", "error", err, "sender", sender)
		return fmt.Errorf("failed to set auto-respond for %s: %w", sender, err)
	}
	slog.Debug("SQLiteStore SetAutoRespond succeeded", "sender", sender, "enabled", enabled)
	return nil
}

// Flush is a no-op; every write is committed on return.
func (s *SQLiteStore) Flush() error {
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
