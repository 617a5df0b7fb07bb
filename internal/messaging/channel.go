// Package messaging delivers relay replies to senders over a pluggable channel.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"unicode/utf8"
)

// Ellipsis marks text truncated to fit a platform limit.
const Ellipsis = "…"

// phoneNumberRegex matches every non-digit character.
var phoneNumberRegex = regexp.MustCompile(`\D`)

// ListOption is one selectable row of a list message.
type ListOption struct {
	ID          string
	Title       string
	Description string
}

// Channel defines a pluggable outbound message delivery abstraction.
type Channel interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendText sends a plain reply, threaded to replyTo when the channel supports it.
	SendText(ctx context.Context, to, body, replyTo string) error

	// SendList sends body with a list of selectable options.
	SendList(ctx context.Context, to, body string, options []ListOption) error
}

// CanonicalizePhone removes all non-numeric characters and requires at least 6 digits.
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if canonical != recipient {
		slog.Debug("messaging canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Truncate shortens s to at most max runes, ending in Ellipsis when cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + Ellipsis
}
