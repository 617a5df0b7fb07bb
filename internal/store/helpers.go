package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/RelayPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// stateColumn converts a record's state to the nullable state column.
func stateColumn(rec *models.ConversationRecord) interface{} {
	if rec.State == nil {
		return nil
	}
	return nilIfEmpty(*rec.State)
}

// encodeMessages serializes the history for the messages column.
func encodeMessages(rec *models.ConversationRecord) (string, error) {
	msgs := rec.Messages
	if msgs == nil {
		msgs = []models.MessageEntry{}
	}
	b, err := json.Marshal(msgs)
	if err != nil {
		return "", fmt.Errorf("encode messages failed: %w", err)
	}
	return string(b), nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanConversation scans a (sender, state, messages) row into a record.
func scanConversation(row rowScanner) (string, *models.ConversationRecord, error) {
	var sender string
	var state sql.NullString
	var messagesJSON string
	if err := row.Scan(&sender, &state, &messagesJSON); err != nil {
		return "", nil, err
	}
	rec := models.NewConversationRecord()
	if state.Valid {
		rec.SetState(state.String)
	}
	if messagesJSON != "" {
		if err := json.Unmarshal([]byte(messagesJSON), &rec.Messages); err != nil {
			return "", nil, fmt.Errorf("decode messages for %s failed: %w", sender, err)
		}
	}
	if rec.Messages == nil {
		rec.Messages = []models.MessageEntry{}
	}
	return sender, rec, nil
}

// loadDocument reads every conversation and flag with the given queries.
func loadDocument(db *sql.DB, conversationsQuery, autoRespondQuery string) (models.Document, error) {
	doc := models.NewDocument()

	rows, err := db.Query(conversationsQuery)
	if err != nil {
		return doc, fmt.Errorf("failed to query conversations: %w", err)
	}
	for rows.Next() {
		sender, rec, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return doc, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		doc.Conversations[sender] = rec
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return doc, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	rows.Close()

	flagRows, err := db.Query(autoRespondQuery)
	if err != nil {
		return doc, fmt.Errorf("failed to query auto-respond flags: %w", err)
	}
	defer flagRows.Close()
	for flagRows.Next() {
		var sender string
		var enabled bool
		if err := flagRows.Scan(&sender, &enabled); err != nil {
			return doc, fmt.Errorf("failed to scan auto-respond row: %w", err)
		}
		doc.AutoRespond[sender] = enabled
	}
	if err := flagRows.Err(); err != nil {
		return doc, fmt.Errorf("failed to iterate auto-respond rows: %w", err)
	}
	return doc, nil
}
