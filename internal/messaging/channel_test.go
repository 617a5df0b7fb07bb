package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/BTreeMap/RelayPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/RelayPipe/internal/whatsapp"
)

// Ensure implementations satisfy Channel
func TestChannels_ImplementChannel(t *testing.T) {
	var _ Channel = (*CloudChannel)(nil)
	var _ Channel = (*TwilioChannel)(nil)
	var _ Channel = (*MockChannel)(nil)
}

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+56 9 1111 2222", "56911112222", false},
		{"(555) 123-4567", "5551234567", false},
		{"56911112222", "56911112222", false},
		{"", "", true},
		{"abc", "", true},
		{"12345", "", true},
	}
	for _, tt := range tests {
		got, err := CanonicalizePhone(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("CanonicalizePhone(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("CanonicalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hola", 10); got != "hola" {
		t.Errorf("short string changed: %q", got)
	}
	got := Truncate("3️⃣ REUNIFICACIÓN FAMILIAR", MaxRowTitleRunes)
	if utf8.RuneCountInString(got) != MaxRowTitleRunes || !strings.HasSuffix(got, Ellipsis) {
		t.Errorf("unexpected truncation %q (%d runes)", got, utf8.RuneCountInString(got))
	}
	if got := Truncate("ñññññ", 3); got != "ññ…" {
		t.Errorf("rune-aware truncation failed: %q", got)
	}
}

func TestCloudChannel_SendTextWithMenuButton(t *testing.T) {
	mock := whatsapp.NewMockClient()
	ch := NewCloudChannel(mock, WithMenuButton("menu_button", "Menu"))

	if err := ch.SendText(context.Background(), "569", "hola", "wamid.IN"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	sent := mock.Messages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	msg := sent[0]
	if msg.Type != "interactive" || msg.Interactive.Type != "button" {
		t.Fatalf("expected interactive button message, got %+v", msg)
	}
	if msg.Context == nil || msg.Context.MessageID != "wamid.IN" {
		t.Error("reply not threaded")
	}
	btn := msg.Interactive.Action.Buttons[0].Reply
	if btn.ID != "menu_button" || btn.Title != "Menu" {
		t.Errorf("unexpected button %+v", btn)
	}
	if msg.Interactive.Body.Text != "hola" {
		t.Errorf("unexpected body %q", msg.Interactive.Body.Text)
	}
}

func TestCloudChannel_LongTextFallsBackToPlain(t *testing.T) {
	mock := whatsapp.NewMockClient()
	ch := NewCloudChannel(mock, WithMenuButton("menu_button", "Menu"))
	long := strings.Repeat("a", MaxInteractiveBody+1)
	if err := ch.SendText(context.Background(), "569", long, ""); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	msg := mock.Messages()[0]
	if msg.Type != "text" || msg.Text.Body != long {
		t.Errorf("expected plain text message, got type %q", msg.Type)
	}

	mock = whatsapp.NewMockClient()
	ch = NewCloudChannel(mock)
	huge := strings.Repeat("b", MaxTextBody+50)
	ch.SendText(context.Background(), "569", huge, "")
	body := mock.Messages()[0].Text.Body
	if utf8.RuneCountInString(body) != MaxTextBody || !strings.HasSuffix(body, Ellipsis) {
		t.Errorf("text body not truncated to %d runes", MaxTextBody)
	}
}

func TestCloudChannel_SendListEnforcesLimits(t *testing.T) {
	mock := whatsapp.NewMockClient()
	ch := NewCloudChannel(mock)

	var opts []ListOption
	for i := 0; i < 12; i++ {
		opts = append(opts, ListOption{ID: string(rune('a' + i)), Title: strings.Repeat("x", 30)})
	}
	body := strings.Repeat("é", MaxInteractiveBody+10)
	if err := ch.SendList(context.Background(), "569", body, opts); err != nil {
		t.Fatalf("SendList: %v", err)
	}
	msg := mock.Messages()[0]
	inter := msg.Interactive
	if inter.Type != "list" || inter.Action.Button != DefaultListButton {
		t.Fatalf("unexpected list message %+v", inter)
	}
	if inter.Header == nil || inter.Header.Text != DefaultListHeader || inter.Footer == nil || inter.Footer.Text != DefaultListFooter {
		t.Error("default layout not applied")
	}
	rows := inter.Action.Sections[0].Rows
	if len(rows) != MaxListRows {
		t.Errorf("expected %d rows, got %d", MaxListRows, len(rows))
	}
	for _, r := range rows {
		if utf8.RuneCountInString(r.Title) > MaxRowTitleRunes {
			t.Errorf("row title too long: %q", r.Title)
		}
	}
	if n := utf8.RuneCountInString(inter.Body.Text); n != MaxInteractiveBody {
		t.Errorf("body should be truncated to %d runes, got %d", MaxInteractiveBody, n)
	}
}

func TestCloudChannel_PropagatesSendError(t *testing.T) {
	mock := whatsapp.NewMockClient()
	mock.Err = errors.New("graph down")
	ch := NewCloudChannel(mock)
	if err := ch.SendText(context.Background(), "569", "x", ""); err == nil {
		t.Error("expected error")
	}
	if err := ch.SendList(context.Background(), "569", "x", nil); err == nil {
		t.Error("expected error")
	}
}

func TestTwilioChannel_SendList(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	ch := NewTwilioChannel(mock)
	err := ch.SendList(context.Background(), "569", "Elige:", []ListOption{{ID: "1", Title: "Uno"}, {ID: "2", Title: "Dos"}})
	if err != nil {
		t.Fatalf("SendList: %v", err)
	}
	body := mock.SentMessages[0].Body
	if !strings.HasPrefix(body, "Elige:") || !strings.Contains(body, "1. Uno") || !strings.Contains(body, "2. Dos") {
		t.Errorf("options not formatted: %q", body)
	}
}

func TestTwilioChannel_ValidateRecipient(t *testing.T) {
	ch := NewTwilioChannel(twiliowhatsapp.NewMockClient())
	got, err := ch.ValidateAndCanonicalizeRecipient("whatsapp:+56911112222")
	if err != nil || got != "56911112222" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestMockChannel_Records(t *testing.T) {
	m := NewMockChannel()
	m.SendText(context.Background(), "a", "x", "r")
	m.SendList(context.Background(), "b", "y", []ListOption{{ID: "1"}})
	if len(m.Sent()) != 2 || len(m.SentTo("b")) != 1 || m.SentTo("b")[0].Kind != KindList {
		t.Errorf("unexpected records %+v", m.Sent())
	}
	m.Reset()
	if len(m.Sent()) != 0 {
		t.Error("Reset did not clear")
	}
}
