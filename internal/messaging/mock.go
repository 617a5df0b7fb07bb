package messaging

import (
	"context"
	"sync"
)

// Sent message kinds recorded by MockChannel.
const (
	KindText = "text"
	KindList = "list"
)

// SentMessage is one message recorded by MockChannel.
type SentMessage struct {
	Kind    string
	To      string
	Body    string
	ReplyTo string
	Options []ListOption
}

// MockChannel records outbound messages for tests.
type MockChannel struct {
	mu   sync.Mutex
	sent []SentMessage
	Err  error // returned by every send when set; the message is still recorded
}

var _ Channel = (*MockChannel)(nil)

// NewMockChannel creates an empty MockChannel.
func NewMockChannel() *MockChannel {
	return &MockChannel{}
}

// ValidateAndCanonicalizeRecipient applies the phone number rules.
func (m *MockChannel) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// SendText records a text message.
func (m *MockChannel) SendText(ctx context.Context, to, body, replyTo string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{Kind: KindText, To: to, Body: body, ReplyTo: replyTo})
	return m.Err
}

// SendList records a list message.
func (m *MockChannel) SendList(ctx context.Context, to, body string, options []ListOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	opts := make([]ListOption, len(options))
	copy(opts, options)
	m.sent = append(m.sent, SentMessage{Kind: KindList, To: to, Body: body, Options: opts})
	return m.Err
}

// Sent returns a copy of every recorded message.
func (m *MockChannel) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo returns the messages recorded for one recipient.
func (m *MockChannel) SentTo(to string) []SentMessage {
	var out []SentMessage
	for _, msg := range m.Sent() {
		if msg.To == to {
			out = append(out, msg)
		}
	}
	return out
}

// Reset clears the recorded messages.
func (m *MockChannel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}
