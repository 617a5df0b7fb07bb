package store

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// Backend names returned by DetectDSNType.
const (
	BackendMemory   = "memory"
	BackendJSON     = "json"
	BackendSQLite   = "sqlite3"
	BackendPostgres = "postgres"
)

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string // Data source name or file path
}

// Option defines a configuration option for store implementations.
type Option func(*Opts)

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithJSONPath sets the path of the JSON document file.
func WithJSONPath(path string) Option {
	return func(o *Opts) {
		o.DSN = path
	}
}

// DetectDSNType returns the backend that should serve the given DSN.
func DetectDSNType(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return BackendMemory
	}
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.Contains(lower, "host=") {
		return BackendPostgres
	}
	if strings.HasPrefix(lower, "file:") {
		return BackendSQLite
	}
	switch filepath.Ext(lower) {
	case ".json":
		return BackendJSON
	case ".db", ".sqlite", ".sqlite3":
		return BackendSQLite
	}
	return BackendMemory
}

// Open creates the store that matches the configured DSN.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	backend := DetectDSNType(cfg.DSN)
	slog.Debug("store.Open: selecting backend", "backend", backend)

	switch backend {
	case BackendPostgres:
		return NewPostgresStore(WithPostgresDSN(cfg.DSN))
	case BackendSQLite:
		return NewSQLiteStore(WithSQLiteDSN(cfg.DSN))
	case BackendJSON:
		return NewJSONStore(WithJSONPath(cfg.DSN))
	case BackendMemory:
		if cfg.DSN != "" {
			slog.Warn("store.Open: unrecognized DSN, falling back to in-memory store", "dsn", cfg.DSN)
		}
		return NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", backend)
	}
}
