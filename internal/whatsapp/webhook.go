// Package whatsapp speaks the WhatsApp Cloud API: it decodes webhook
// deliveries and sends messages through the Graph API.
package whatsapp

import (
	"crypto/subtle"
	"errors"
	"fmt"
)

// ObjectWhatsAppBusiness is the object value of every Cloud API webhook delivery.
const ObjectWhatsAppBusiness = "whatsapp_business_account"

// Inbound message types handled by the relay.
const (
	MessageTypeText        = "text"
	MessageTypeInteractive = "interactive"
	MessageTypeButton      = "button"
)

// Interactive reply kinds.
const (
	InteractiveButtonReply = "button_reply"
	InteractiveListReply   = "list_reply"
)

// Webhook validation errors.
var (
	ErrInvalidPayload = errors.New("invalid webhook payload")
	ErrNoToken        = errors.New("message carries no usable token")
)

// WebhookPayload is the top-level webhook delivery.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry represents one business account entry.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change wraps a single change notification.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value holds the message data of a change.
type Value struct {
	MessagingProduct string    `json:"messaging_product"`
	Metadata         Metadata  `json:"metadata"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
}

// Metadata about the receiving phone number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the sender's WhatsApp profile.
type Contact struct {
	Profile ContactProfile `json:"profile"`
	WaID    string         `json:"wa_id"`
}

// ContactProfile has the display name.
type ContactProfile struct {
	Name string `json:"name"`
}

// Message represents an incoming WhatsApp message.
type Message struct {
	From        string       `json:"from"`
	ID          string       `json:"id"`
	Timestamp   string       `json:"timestamp"`
	Type        string       `json:"type"`
	Text        *Text        `json:"text,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
	Button      *QuickReply  `json:"button,omitempty"`
}

// Text holds a text message body.
type Text struct {
	Body string `json:"body"`
}

// Interactive holds the reply to an interactive message.
type Interactive struct {
	Type        string `json:"type"`
	ButtonReply *Reply `json:"button_reply,omitempty"`
	ListReply   *Reply `json:"list_reply,omitempty"`
}

// Reply is a selected button or list row.
type Reply struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Payload     string `json:"payload,omitempty"`
}

// QuickReply is a template quick-reply button press.
type QuickReply struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

// Status represents a message delivery status update. Statuses are ignored.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// InboundMessage is a message flattened out of a delivery, with the sender's
// profile name when the delivery carried one.
type InboundMessage struct {
	Message
	ProfileName string
}

// Validate checks the envelope and every message needed by the relay.
func (p *WebhookPayload) Validate() error {
	if p.Object != ObjectWhatsAppBusiness {
		return fmt.Errorf("%w: unexpected object %q", ErrInvalidPayload, p.Object)
	}
	for i, entry := range p.Entry {
		for j, change := range entry.Changes {
			for k, msg := range change.Value.Messages {
				if msg.From == "" || msg.ID == "" || msg.Type == "" {
					return fmt.Errorf("%w: entry[%d].changes[%d].messages[%d] missing from, id or type", ErrInvalidPayload, i, j, k)
				}
			}
		}
	}
	return nil
}

// Messages flattens the delivery into messages in array order.
func (p *WebhookPayload) Messages() []InboundMessage {
	var out []InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				out = append(out, InboundMessage{Message: msg, ProfileName: names[msg.From]})
			}
		}
	}
	return out
}

// ExtractToken returns the text body of a text message or the id of the
// selected button or list row of an interactive reply.
func ExtractToken(msg Message) (string, error) {
	switch msg.Type {
	case MessageTypeText:
		if msg.Text != nil && msg.Text.Body != "" {
			return msg.Text.Body, nil
		}
	case MessageTypeInteractive:
		if msg.Interactive == nil {
			break
		}
		if r := msg.Interactive.ButtonReply; r != nil {
			if r.ID != "" {
				return r.ID, nil
			}
			if r.Payload != "" {
				return r.Payload, nil
			}
		}
		if r := msg.Interactive.ListReply; r != nil && r.ID != "" {
			return r.ID, nil
		}
	case MessageTypeButton:
		if msg.Button != nil && msg.Button.Payload != "" {
			return msg.Button.Payload, nil
		}
	}
	return "", fmt.Errorf("%w: type %q", ErrNoToken, msg.Type)
}

// Verify answers the webhook subscription handshake. It returns the challenge
// when mode is "subscribe" and token matches secret.
func Verify(mode, token, challenge, secret string) (string, bool) {
	if mode != "subscribe" || secret == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return "", false
	}
	return challenge, true
}
