package models

import (
	"encoding/json"
	"errors"
	"time"
)

// HistoryLimit is the number of most recent entries a conversation keeps.
const HistoryLimit = 10

// StateIdle is the sentinel state of a sender who is not inside the scripted flow.
const StateIdle = "idle"

// Error variables for conversation validation
var (
	ErrEmptySender   = errors.New("phoneNumber cannot be empty")
	ErrMissingEnable = errors.New("enable is required")
	ErrEmptyMessage  = errors.New("message cannot be empty")
)

// Role identifies who authored a history entry.
type Role string

const (
	// RoleUser marks an entry written by the sender.
	RoleUser Role = "user"
	// RoleAssistant marks an entry produced by the generative responder.
	RoleAssistant Role = "assistant"

	// legacyRoleAssistant is the assistant role found in older documents.
	legacyRoleAssistant = "ai"
)

// UnmarshalJSON decodes a role, reading the legacy "ai" author as RoleAssistant.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == legacyRoleAssistant {
		s = string(RoleAssistant)
	}
	*r = Role(s)
	return nil
}

// MessageEntry is one line of a sender's conversation history.
type MessageEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Sender    Role      `json:"sender"`
}

// ConversationRecord holds the persisted state of a single sender.
type ConversationRecord struct {
	Messages []MessageEntry `json:"messages"`
	State    *string        `json:"state"` // nil or StateIdle when outside the flow
}

// NewConversationRecord returns the default record of a sender seen for the first time.
func NewConversationRecord() *ConversationRecord {
	return &ConversationRecord{Messages: []MessageEntry{}}
}

// CurrentState returns the step id the sender is at, or StateIdle.
func (c *ConversationRecord) CurrentState() string {
	if c.State == nil || *c.State == "" {
		return StateIdle
	}
	return *c.State
}

// SetState stores the given state; idle is persisted as null.
func (c *ConversationRecord) SetState(state string) {
	if state == "" || state == StateIdle {
		c.State = nil
		return
	}
	c.State = &state
}

// AppendMessage appends an entry and trims the history to the last HistoryLimit entries.
func (c *ConversationRecord) AppendMessage(sender Role, message string, at time.Time) {
	c.Messages = append(c.Messages, MessageEntry{Timestamp: at, Message: message, Sender: sender})
	c.TrimHistory()
}

// TrimHistory drops entries from the front until at most HistoryLimit remain.
func (c *ConversationRecord) TrimHistory() {
	if len(c.Messages) <= HistoryLimit {
		return
	}
	trimmed := make([]MessageEntry, HistoryLimit)
	copy(trimmed, c.Messages[len(c.Messages)-HistoryLimit:])
	c.Messages = trimmed
}

// Clone returns a deep copy so callers never share slices with a store.
func (c *ConversationRecord) Clone() *ConversationRecord {
	if c == nil {
		return nil
	}
	out := &ConversationRecord{Messages: make([]MessageEntry, len(c.Messages))}
	copy(out.Messages, c.Messages)
	if c.State != nil {
		s := *c.State
		out.State = &s
	}
	return out
}

// Document is the persisted layout of the whole store.
type Document struct {
	Conversations map[string]*ConversationRecord `json:"conversations"`
	AutoRespond   map[string]bool                `json:"autoRespond"`
}

// NewDocument returns an empty document with initialized maps.
func NewDocument() Document {
	return Document{
		Conversations: make(map[string]*ConversationRecord),
		AutoRespond:   make(map[string]bool),
	}
}
