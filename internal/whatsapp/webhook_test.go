package whatsapp

import (
	"encoding/json"
	"errors"
	"testing"
)

const sampleDelivery = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "1029384756",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "15550001111", "phone_number_id": "123456"},
        "contacts": [{"profile": {"name": "Lucía Gómez"}, "wa_id": "56911112222"}],
        "messages": [
          {"from": "56911112222", "id": "wamid.A", "timestamp": "1717000000", "type": "text", "text": {"body": "hola"}},
          {"from": "56911112222", "id": "wamid.B", "timestamp": "1717000001", "type": "interactive",
           "interactive": {"type": "list_reply", "list_reply": {"id": "3", "title": "3️⃣ OBTENER NACIONALIDAD"}}}
        ]
      }
    }, {
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "messages": [
          {"from": "51933334444", "id": "wamid.C", "type": "interactive",
           "interactive": {"type": "button_reply", "button_reply": {"id": "menu_button", "title": "Menu"}}}
        ]
      }
    }]
  }]
}`

func TestParseDelivery(t *testing.T) {
	var p WebhookPayload
	if err := json.Unmarshal([]byte(sampleDelivery), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	msgs := p.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	wantIDs := []string{"wamid.A", "wamid.B", "wamid.C"}
	wantTokens := []string{"hola", "3", "menu_button"}
	for i, m := range msgs {
		if m.ID != wantIDs[i] {
			t.Errorf("message %d: id %q, want %q", i, m.ID, wantIDs[i])
		}
		tok, err := ExtractToken(m.Message)
		if err != nil {
			t.Fatalf("message %d: ExtractToken: %v", i, err)
		}
		if tok != wantTokens[i] {
			t.Errorf("message %d: token %q, want %q", i, tok, wantTokens[i])
		}
	}
	if msgs[0].ProfileName != "Lucía Gómez" {
		t.Errorf("expected profile name, got %q", msgs[0].ProfileName)
	}
	if msgs[2].ProfileName != "" {
		t.Errorf("expected no profile name for third message, got %q", msgs[2].ProfileName)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"wrong object", `{"object":"page","entry":[]}`},
		{"missing from", `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"messages":[{"id":"x","type":"text"}]}}]}]}`},
		{"missing id", `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"messages":[{"from":"1","type":"text"}]}}]}]}`},
		{"missing type", `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"messages":[{"from":"1","id":"x"}]}}]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p WebhookPayload
			if err := json.Unmarshal([]byte(tt.body), &p); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if err := p.Validate(); !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestValidateAcceptsStatusOnlyDelivery(t *testing.T) {
	body := `{"object":"whatsapp_business_account","entry":[{"changes":[{"value":{"statuses":[{"id":"wamid.X","status":"read"}]}}]}]}`
	var p WebhookPayload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("status-only delivery should validate, got %v", err)
	}
	if len(p.Messages()) != 0 {
		t.Error("status-only delivery has no messages")
	}
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		want    string
		wantErr bool
	}{
		{"text", Message{Type: "text", Text: &Text{Body: "¿Cuánto cuesta?"}}, "¿Cuánto cuesta?", false},
		{"button id", Message{Type: "interactive", Interactive: &Interactive{ButtonReply: &Reply{ID: "menu_button"}}}, "menu_button", false},
		{"button payload fallback", Message{Type: "interactive", Interactive: &Interactive{ButtonReply: &Reply{Payload: "menu_button"}}}, "menu_button", false},
		{"list reply", Message{Type: "interactive", Interactive: &Interactive{ListReply: &Reply{ID: "29"}}}, "29", false},
		{"template quick reply", Message{Type: "button", Button: &QuickReply{Payload: "menu_button"}}, "menu_button", false},
		{"empty text", Message{Type: "text", Text: &Text{}}, "", true},
		{"image", Message{Type: "image"}, "", true},
		{"interactive without reply", Message{Type: "interactive", Interactive: &Interactive{}}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractToken(tt.msg)
			if tt.wantErr {
				if !errors.Is(err, ErrNoToken) {
					t.Errorf("expected ErrNoToken, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	if got, ok := Verify("subscribe", "secret", "12345", "secret"); !ok || got != "12345" {
		t.Errorf("expected challenge echoed, got %q %v", got, ok)
	}
	if _, ok := Verify("subscribe", "wrong", "12345", "secret"); ok {
		t.Error("wrong token must be rejected")
	}
	if _, ok := Verify("unsubscribe", "secret", "12345", "secret"); ok {
		t.Error("wrong mode must be rejected")
	}
	if _, ok := Verify("subscribe", "", "12345", ""); ok {
		t.Error("empty secret must never verify")
	}
}
