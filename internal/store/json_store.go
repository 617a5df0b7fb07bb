// This file implements a JSON document store that keeps the whole document
// in memory and rewrites the file on every mutation.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BTreeMap/RelayPipe/internal/models"
)

// DefaultFilePermissions defines the permissions of the JSON document file.
const DefaultFilePermissions = 0644

// Bounds of the inbound message ids kept for deduplication.
const (
	DefaultDedupRetention  = 7 * 24 * time.Hour
	DefaultMaxDedupRecords = 10000
)

// jsonDocument is the file layout: the shared document plus dedup records.
type jsonDocument struct {
	models.Document
	Inbound map[string]DedupRecord `json:"inbound,omitempty"`
}

// JSONStore persists the document as a single JSON file. A mutation becomes
// visible to readers only after the file holding it has been written.
type JSONStore struct {
	path    string
	mu      sync.RWMutex
	doc     models.Document
	inbound map[string]DedupRecord
	dirty   bool // processed timestamps not yet written
	now     func() time.Time
}

var (
	_ Store     = (*JSONStore)(nil)
	_ DedupRepo = (*JSONStore)(nil)
)

// NewJSONStore opens the document at the configured path, creating an empty
// document when the file does not exist. A file that cannot be parsed is an error.
func NewJSONStore(opts ...Option) (*JSONStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("JSONStore path not set")
		return nil, fmt.Errorf("json store path not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("JSONStore failed to create directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &JSONStore{
		path:    cfg.DSN,
		doc:     models.NewDocument(),
		inbound: make(map[string]DedupRecord),
		now:     time.Now,
	}
	data, err := os.ReadFile(cfg.DSN)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Debug("JSONStore file not found, starting empty", "path", cfg.DSN)
		return s, nil
	case err != nil:
		slog.Error("JSONStore read failed", "error", err, "path", cfg.DSN)
		return nil, fmt.Errorf("failed to read %s: %w", cfg.DSN, err)
	}

	if len(data) > 0 {
		var file jsonDocument
		if err := json.Unmarshal(data, &file); err != nil {
			slog.Error("JSONStore document is corrupt", "error", err, "path", cfg.DSN)
			return nil, fmt.Errorf("failed to parse %s: %w", cfg.DSN, err)
		}
		if file.Conversations != nil {
			s.doc.Conversations = file.Conversations
		}
		if file.AutoRespond != nil {
			s.doc.AutoRespond = file.AutoRespond
		}
		if file.Inbound != nil {
			s.inbound = file.Inbound
		}
	}
	slog.Debug("JSONStore loaded", "path", cfg.DSN, "conversations", len(s.doc.Conversations), "inbound", len(s.inbound))
	return s, nil
}

// Load returns a deep copy of the document.
func (s *JSONStore) Load() (models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc := models.NewDocument()
	for sender, rec := range s.doc.Conversations {
		doc.Conversations[sender] = rec.Clone()
	}
	for sender, enabled := range s.doc.AutoRespond {
		doc.AutoRespond[sender] = enabled
	}
	return doc, nil
}

// GetConversation returns a copy of the sender's record, or nil.
func (s *JSONStore) GetConversation(sender string) (*models.ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Conversations[sender].Clone(), nil
}

// SaveConversation writes the document with the sender's record replaced.
// On a failed write the previous record is restored.
func (s *JSONStore) SaveConversation(sender string, record *models.ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.doc.Conversations[sender]
	s.doc.Conversations[sender] = record.Clone()
	if err := s.writeLocked(); err != nil {
		if existed {
			s.doc.Conversations[sender] = prev
		} else {
			delete(s.doc.Conversations, sender)
		}
		return err
	}
	return nil
}

// GetAutoRespond returns the sender's auto-respond flag.
func (s *JSONStore) GetAutoRespond(sender string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.AutoRespond[sender], nil
}

// SetAutoRespond writes the document with the sender's flag set.
func (s *JSONStore) SetAutoRespond(sender string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.doc.AutoRespond[sender]
	s.doc.AutoRespond[sender] = enabled
	if err := s.writeLocked(); err != nil {
		if existed {
			s.doc.AutoRespond[sender] = prev
		} else {
			delete(s.doc.AutoRespond, sender)
		}
		return err
	}
	return nil
}

// IsDuplicate reports whether the message id has been recorded.
func (s *JSONStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inbound[messageID]
	return ok, nil
}

// RecordInbound records the message id and writes the document; it returns
// false for a duplicate. Old records are pruned first.
func (s *JSONStore) RecordInbound(messageID, sender string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageID]; ok {
		return false, nil
	}
	s.pruneInboundLocked()
	s.inbound[messageID] = DedupRecord{MessageID: messageID, Sender: sender, ReceivedAt: s.now()}
	if err := s.writeLocked(); err != nil {
		delete(s.inbound, messageID)
		return false, err
	}
	return true, nil
}

// MarkProcessed sets the processed timestamp; it is written by the next write or Flush.
func (s *JSONStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inbound[messageID]
	if !ok {
		return nil
	}
	now := s.now()
	rec.ProcessedAt = &now
	s.inbound[messageID] = rec
	s.dirty = true
	return nil
}

// InboundCount returns the number of dedup records held.
func (s *JSONStore) InboundCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.inbound)
}

// pruneInboundLocked drops records past DefaultDedupRetention and, when
// still full, the oldest record.
func (s *JSONStore) pruneInboundLocked() {
	cutoff := s.now().Add(-DefaultDedupRetention)
	for id, rec := range s.inbound {
		if rec.ReceivedAt.Before(cutoff) {
			delete(s.inbound, id)
		}
	}
	for len(s.inbound) >= DefaultMaxDedupRecords {
		var oldestID string
		var oldest time.Time
		for id, rec := range s.inbound {
			if oldestID == "" || rec.ReceivedAt.Before(oldest) {
				oldestID, oldest = id, rec.ReceivedAt
			}
		}
		delete(s.inbound, oldestID)
	}
}

// Flush writes pending processed timestamps. Every other mutation is
// already durable when it returns.
func (s *JSONStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.writeLocked()
}

// Close flushes any pending changes.
func (s *JSONStore) Close() error {
	return s.Flush()
}

// writeLocked writes the document to a temporary file and renames it over
// the target so readers never observe a partial file. Callers hold s.mu.
func (s *JSONStore) writeLocked() error {
	data, err := json.MarshalIndent(jsonDocument{Document: s.doc, Inbound: s.inbound}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		slog.Error("JSONStore write create temp failed", "error", err, "path", s.path)
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, DefaultFilePermissions); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		slog.Error("JSONStore write rename failed", "error", err, "path", s.path)
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}

	s.dirty = false
	slog.Debug("JSONStore written", "path", s.path, "bytes", len(data))
	return nil
}
