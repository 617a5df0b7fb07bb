// This file implements a PostgreSQL-backed store for conversations and flags.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/RelayPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists conversations in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// Load returns every stored conversation and flag.
func (s *PostgresStore) Load() (models.Document, error) {
	doc, err := loadDocument(s.db,
		`SELECT sender, state, messages::text FROM conversations`,
		`SELECT sender, enabled FROM auto_respond`)
	if err != nil {
		slog.Error("PostgresStore Load failed", "error", err)
		return doc, err
	}
	slog.Debug("PostgresStore Load succeeded", "conversations", len(doc.Conversations), "flags", len(doc.AutoRespond))
	return doc, nil
}

// GetConversation returns the sender's record, or nil when not found.
func (s *PostgresStore) GetConversation(sender string) (*models.ConversationRecord, error) {
	row := s.db.QueryRow(`SELECT sender, state, messages::text FROM conversations WHERE sender = $1`, sender)
	_, rec, err := scanConversation(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversation not found", "sender", sender)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversation failed", "error", err, "sender", sender)
		return nil, err
	}
	return rec, nil
}

// SaveConversation upserts the sender's record.
func (s *PostgresStore) SaveConversation(sender string, record *models.ConversationRecord) error {
	messages, err := encodeMessages(record)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO conversations (sender, state, messages, updated_at) VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (sender) DO UPDATE SET state = EXCLUDED.state, messages = EXCLUDED.messages, updated_at = NOW()`,
		sender, stateColumn(record), messages)
	if err != nil {
		slog.Error("PostgresStore SaveConversation failed", "error", err, "sender", sender)
		return fmt.Errorf("failed to save conversation for %s: %w", sender, err)
	}
	slog.Debug("PostgresStore SaveConversation succeeded", "sender", sender, "state", record.CurrentState(), "messages", len(record.Messages))
	return nil
}

// GetAutoRespond returns the sender's flag, false when unset.
func (s *PostgresStore) GetAutoRespond(sender string) (bool, error) {
	var enabled bool
	err := s.db.QueryRow(`SELECT enabled FROM auto_respond WHERE sender = $1`, sender).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetAutoRespond failed", "error", err, "sender", sender)
		return false, err
	}
	return enabled, nil
}

// SetAutoRespond upserts the sender's flag.
func (s *PostgresStore) SetAutoRespond(sender string, enabled bool) error {
	_, err := s.db.Exec(`
		INSERT INTO auto_respond (sender, enabled, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (sender) DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = NOW()`,
		sender, enabled)
	if err != nil {
		slog.Error("PostgresStore SetAutoRespond failed", "error", err, "sender", sender)
		return fmt.Errorf("failed to set auto-respond for %s: %w", sender, err)
	}
	slog.Debug("PostgresStore SetAutoRespond succeeded", "sender", sender, "enabled", enabled)
	return nil
}

// Flush is a no-op; every write is committed on return.
func (s *PostgresStore) Flush() error {
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
