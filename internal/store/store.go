// Package store provides storage backends for RelayPipe.
//
// Every backend persists the same document: per-sender conversation records
// and per-sender auto-respond flags. An in-memory store serves tests and
// deployments without persistence; JSON, SQLite and PostgreSQL backends
// make the document durable.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/RelayPipe/internal/models"
)

// Store defines the persistence contract used by the message router.
type Store interface {
	// Load returns a snapshot of every conversation and auto-respond flag.
	Load() (models.Document, error)

	// GetConversation returns the sender's record, or nil if the sender is unknown.
	GetConversation(sender string) (*models.ConversationRecord, error)

	// SaveConversation replaces the sender's record.
	SaveConversation(sender string, record *models.ConversationRecord) error

	// GetAutoRespond reports whether the sender is in auto-respond mode (default false).
	GetAutoRespond(sender string) (bool, error)

	// SetAutoRespond toggles auto-respond mode for the sender.
	SetAutoRespond(sender string, enabled bool) error

	// Flush makes every prior mutation durable.
	Flush() error

	// Close releases the backend's resources.
	Close() error
}

// InMemoryStore is a simple in-memory store for conversations and flags.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.ConversationRecord
	autoRespond   map[string]bool
	inbound       map[string]DedupRecord
}

// Compile-time checks that InMemoryStore implements Store and DedupRepo.
var (
	_ Store     = (*InMemoryStore)(nil)
	_ DedupRepo = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string]*models.ConversationRecord),
		autoRespond:   make(map[string]bool),
		inbound:       make(map[string]DedupRecord),
	}
}

// Load returns a deep copy of the stored document.
func (s *InMemoryStore) Load() (models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc := models.NewDocument()
	for sender, rec := range s.conversations {
		doc.Conversations[sender] = rec.Clone()
	}
	for sender, enabled := range s.autoRespond {
		doc.AutoRespond[sender] = enabled
	}
	return doc, nil
}

// GetConversation returns a copy of the sender's record, or nil.
func (s *InMemoryStore) GetConversation(sender string) (*models.ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversations[sender].Clone(), nil
}

// SaveConversation stores a copy of the record.
func (s *InMemoryStore) SaveConversation(sender string, record *models.ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[sender] = record.Clone()
	return nil
}

// GetAutoRespond returns the sender's auto-respond flag.
func (s *InMemoryStore) GetAutoRespond(sender string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoRespond[sender], nil
}

// SetAutoRespond sets the sender's auto-respond flag.
func (s *InMemoryStore) SetAutoRespond(sender string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoRespond[sender] = enabled
	slog.Debug("InMemoryStore SetAutoRespond", "sender", sender, "enabled", enabled)
	return nil
}

// Flush is a no-op for the in-memory store.
func (s *InMemoryStore) Flush() error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// IsDuplicate reports whether the message id has been recorded.
func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inbound[messageID]
	return ok, nil
}

// RecordInbound records the message id; it returns false for a duplicate.
func (s *InMemoryStore) RecordInbound(messageID, sender string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageID]; ok {
		return false, nil
	}
	s.inbound[messageID] = DedupRecord{MessageID: messageID, Sender: sender, ReceivedAt: time.Now()}
	return true, nil
}

// MarkProcessed sets the processed timestamp of a recorded message.
func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inbound[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.inbound[messageID] = rec
	return nil
}
