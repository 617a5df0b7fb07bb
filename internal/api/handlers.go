package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/RelayPipe/internal/models"
	"github.com/BTreeMap/RelayPipe/internal/relay"
	"github.com/BTreeMap/RelayPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/RelayPipe/internal/whatsapp"
)

// menuKeyword is the text a user types to open the menu.
const menuKeyword = "menu"

// menuToken maps a typed "menu" (any case) to the flow trigger.
func (s *Server) menuToken(token string) string {
	if strings.EqualFold(strings.TrimSpace(token), menuKeyword) {
		return s.opts.MenuTrigger
	}
	return token
}

// verifyWebhookHandler answers the subscription challenge (GET /webhook).
func (s *Server) verifyWebhookHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	challenge, ok := whatsapp.Verify(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"), s.opts.VerifyToken)
	if !ok {
		slog.Warn("Server.verifyWebhookHandler: verification failed", "mode", q.Get("hub.mode"))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	slog.Info("Server.verifyWebhookHandler: webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(challenge)); err != nil {
		slog.Error("Server.verifyWebhookHandler: failed to write challenge", "error", err)
	}
}

// receiveWebhookHandler processes a Cloud API delivery (POST /webhook).
func (s *Server) receiveWebhookHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload whatsapp.WebhookPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, DefaultMaxBodyBytes)).Decode(&payload); err != nil {
		slog.Warn("Server.receiveWebhookHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := payload.Validate(); err != nil {
		slog.Warn("Server.receiveWebhookHandler: invalid payload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	messages := payload.Messages()
	slog.Debug("Server.receiveWebhookHandler: delivery received", "messages", len(messages))
	for _, msg := range messages {
		token, err := whatsapp.ExtractToken(msg.Message)
		if err != nil {
			slog.Debug("Server.receiveWebhookHandler: skipping message without token", "id", msg.ID, "type", msg.Type)
			continue
		}
		in := relay.Inbound{
			Sender:      msg.From,
			Token:       s.menuToken(token),
			MessageID:   msg.ID,
			ProfileName: msg.ProfileName,
		}
		if _, err := s.router.Handle(r.Context(), in); err != nil {
			slog.Error("Server.receiveWebhookHandler: failed to handle message", "from", msg.From, "id", msg.ID, "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// twilioWebhookHandler processes a Twilio WhatsApp delivery (POST /webhook/twilio).
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, DefaultMaxBodyBytes)
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: failed to parse form", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	from := twiliowhatsapp.StripAddress(r.PostForm.Get("From"))
	sender, err := s.channel.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		slog.Warn("Server.twilioWebhookHandler: invalid sender", "from", r.PostForm.Get("From"), "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	token := r.PostForm.Get("ButtonPayload")
	if token == "" {
		token = strings.TrimSpace(r.PostForm.Get("Body"))
	}
	token = s.menuToken(token)
	if token == "" {
		slog.Debug("Server.twilioWebhookHandler: skipping message without text", "sid", r.PostForm.Get("MessageSid"))
		writeTwiMLResponse(w, http.StatusOK)
		return
	}

	in := relay.Inbound{
		Sender:      sender,
		Token:       token,
		MessageID:   r.PostForm.Get("MessageSid"),
		ProfileName: r.PostForm.Get("ProfileName"),
	}
	if _, err := s.router.Handle(r.Context(), in); err != nil {
		slog.Error("Server.twilioWebhookHandler: failed to handle message", "from", sender, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeTwiMLResponse(w, http.StatusOK)
}

// toggleAutoRespondHandler sets a sender's auto-respond flag (POST /toggle-auto-respond).
func (s *Server) toggleAutoRespondHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req models.AutoRespondToggleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, DefaultMaxBodyBytes)).Decode(&req); err != nil {
		slog.Warn("Server.toggleAutoRespondHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.toggleAutoRespondHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	sender, err := s.channel.ValidateAndCanonicalizeRecipient(req.PhoneNumber)
	if err != nil {
		slog.Warn("Server.toggleAutoRespondHandler: phone validation failed", "error", err, "phone", req.PhoneNumber)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number: "+err.Error()))
		return
	}

	enabled := *req.Enable
	if err := s.router.SetAutoRespond(sender, enabled); err != nil {
		slog.Error("Server.toggleAutoRespondHandler: failed to update flag", "error", err, "phone", sender)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to update auto-respond"))
		return
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Auto-respond "+state+" for "+sender, map[string]interface{}{
		"phoneNumber": sender,
		"enabled":     enabled,
	}))
}

// getConversationHandler returns a sender's record (GET /conversations/{phone}).
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	sender, err := s.channel.ValidateAndCanonicalizeRecipient(r.PathValue("phone"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number: "+err.Error()))
		return
	}
	rec, err := s.router.Conversation(sender)
	if err != nil {
		slog.Error("Server.getConversationHandler: failed to load conversation", "error", err, "phone", sender)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

// appendConversationHandler records a user entry without routing it (POST /conversations/{phone}).
func (s *Server) appendConversationHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	sender, err := s.channel.ValidateAndCanonicalizeRecipient(r.PathValue("phone"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number: "+err.Error()))
		return
	}
	var req models.ConversationAppendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, DefaultMaxBodyBytes)).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	rec, err := s.router.AppendUserMessage(sender, req.Message)
	if errors.Is(err, models.ErrEmptyMessage) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err != nil {
		slog.Error("Server.appendConversationHandler: failed to append message", "error", err, "phone", sender)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to append message"))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Message recorded", rec))
}

// healthHandler reports liveness (GET /health).
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "relaypipe"}))
}
