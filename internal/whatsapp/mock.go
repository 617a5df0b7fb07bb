package whatsapp

import (
	"context"
	"fmt"
	"sync"
)

// Sender is implemented by Client and MockClient.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) (string, error)
}

var (
	_ Sender = (*Client)(nil)
	_ Sender = (*MockClient)(nil)
)

// MockClient records outbound messages instead of sending them.
type MockClient struct {
	mu   sync.Mutex
	Sent []OutboundMessage
	Err  error // returned by Send when set
}

// NewMockClient creates an empty mock.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Send records msg and returns a synthetic message id.
func (m *MockClient) Send(ctx context.Context, msg OutboundMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.Sent = append(m.Sent, msg)
	return fmt.Sprintf("wamid.mock-%d", len(m.Sent)), nil
}

// Messages returns a copy of the recorded messages.
func (m *MockClient) Messages() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.Sent))
	copy(out, m.Sent)
	return out
}
