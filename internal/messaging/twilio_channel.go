package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/RelayPipe/internal/twiliowhatsapp"
)

// OptionLineFormat renders one option of a list sent as plain text.
const OptionLineFormat = "\n%s. %s"

// TwilioChannel implements Channel using the Twilio WhatsApp API.
// Twilio cannot send interactive lists, so options are rendered as numbered lines.
type TwilioChannel struct {
	client twiliowhatsapp.Sender
}

var _ Channel = (*TwilioChannel)(nil)

// NewTwilioChannel creates a TwilioChannel wrapping the given sender.
func NewTwilioChannel(client twiliowhatsapp.Sender) *TwilioChannel {
	return &TwilioChannel{client: client}
}

// ValidateAndCanonicalizeRecipient returns the digits-only phone number.
func (s *TwilioChannel) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(twiliowhatsapp.StripAddress(recipient))
}

// SendText sends body as a plain message; replyTo is not supported by Twilio.
func (s *TwilioChannel) SendText(ctx context.Context, to, body, replyTo string) error {
	if err := s.client.SendMessage(ctx, to, Truncate(body, MaxTextBody)); err != nil {
		slog.Error("TwilioChannel.SendText failed", "to", to, "error", err)
		return err
	}
	return nil
}

// SendList sends body followed by one numbered line per option.
func (s *TwilioChannel) SendList(ctx context.Context, to, body string, options []ListOption) error {
	return s.SendText(ctx, to, FormatOptions(body, options), "")
}

// FormatOptions appends options to body as "<id>. <title>" lines.
func FormatOptions(body string, options []ListOption) string {
	var sb strings.Builder
	sb.WriteString(body)
	if len(options) > 0 {
		sb.WriteString("\n")
	}
	for _, opt := range options {
		sb.WriteString(fmt.Sprintf(OptionLineFormat, opt.ID, opt.Title))
	}
	return sb.String()
}
