// Package relay routes inbound messages through the scripted flow, the
// auto-respond override or the generative responder, and keeps per-sender
// conversation records consistent under concurrent deliveries.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/RelayPipe/internal/flow"
	"github.com/BTreeMap/RelayPipe/internal/messaging"
	"github.com/BTreeMap/RelayPipe/internal/metrics"
	"github.com/BTreeMap/RelayPipe/internal/models"
	"github.com/BTreeMap/RelayPipe/internal/store"
)

// ErrEmptyReply is returned when the responder answers with blank text.
var ErrEmptyReply = errors.New("responder returned an empty reply")

// Responder produces a reply to free text given the sender's recent history.
type Responder interface {
	Generate(ctx context.Context, input string, history []models.MessageEntry) (string, error)
}

// Inbound is one message extracted from a webhook delivery.
type Inbound struct {
	Sender      string
	Token       string // text body or selected reply id
	MessageID   string
	ProfileName string
}

// OutcomeKind classifies how an inbound message was handled.
type OutcomeKind int

const (
	OutcomeAutoRespond OutcomeKind = iota
	OutcomeFlowStep
	OutcomeInvalidSelection
	OutcomeFlowAck
	OutcomeGenerated
	OutcomeGenerationFailed
	OutcomeDuplicate
)

// String returns the outcome's metric and log label.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAutoRespond:
		return "auto_respond"
	case OutcomeFlowStep:
		return "flow_step"
	case OutcomeInvalidSelection:
		return "invalid_selection"
	case OutcomeFlowAck:
		return "flow_ack"
	case OutcomeGenerated:
		return "generated"
	case OutcomeGenerationFailed:
		return "generation_failed"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Outcome reports what Handle did and the sender's state afterwards.
type Outcome struct {
	Kind  OutcomeKind
	State string
}

// Opts holds optional Router configuration.
type Opts struct {
	PromoMessage   string
	ApologyMessage string
	Reminder       string
	Metrics        *metrics.Collector
	Clock          func() time.Time
}

// Option configures a Router.
type Option func(*Opts)

// WithPromoMessage overrides the auto-respond text.
func WithPromoMessage(text string) Option {
	return func(o *Opts) { o.PromoMessage = text }
}

// WithApologyMessage overrides the text sent when generation fails.
func WithApologyMessage(text string) Option {
	return func(o *Opts) { o.ApologyMessage = text }
}

// WithReminder sets the text appended to generated replies. Empty disables it.
func WithReminder(text string) Option {
	return func(o *Opts) { o.Reminder = text }
}

// WithMetrics records routing outcomes in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Opts) { o.Metrics = c }
}

// WithClock sets the time source for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// Router applies the routing precedence to inbound messages.
type Router struct {
	store     store.Store
	dedup     store.DedupRepo
	engine    *flow.Engine
	responder Responder
	channel   messaging.Channel
	locks     *KeyedMutex
	opts      Opts
}

// NewRouter creates a Router. Inbound deduplication is enabled when st implements store.DedupRepo.
func NewRouter(st store.Store, engine *flow.Engine, responder Responder, channel messaging.Channel, opts ...Option) *Router {
	cfg := Opts{
		PromoMessage:   DefaultPromoMessage,
		ApologyMessage: DefaultApologyMessage,
		Reminder:       DefaultReminder,
		Clock:          time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &Router{
		store:     st,
		engine:    engine,
		responder: responder,
		channel:   channel,
		locks:     NewKeyedMutex(),
		opts:      cfg,
	}
	if d, ok := st.(store.DedupRepo); ok {
		r.dedup = d
	}
	return r
}

// Handle processes one inbound message. Delivery and responder failures are
// logged and reported through the outcome; only persistence failures return an error.
func (r *Router) Handle(ctx context.Context, in Inbound) (Outcome, error) {
	if in.Sender == "" {
		return Outcome{}, models.ErrEmptySender
	}
	// A reply in progress completes even if the webhook request goes away.
	ctx = context.WithoutCancel(ctx)

	unlock := r.locks.Lock(in.Sender)
	defer unlock()

	if r.isDuplicate(in) {
		slog.Info("Router.Handle: duplicate message skipped", "sender", in.Sender, "messageID", in.MessageID)
		r.opts.Metrics.RecordInbound(OutcomeDuplicate.String())
		return Outcome{Kind: OutcomeDuplicate}, nil
	}

	rec, err := r.loadConversation(in.Sender)
	if err != nil {
		return Outcome{}, err
	}

	autoRespond, err := r.store.GetAutoRespond(in.Sender)
	if err != nil {
		r.opts.Metrics.RecordStoreError("get_auto_respond")
		return Outcome{}, fmt.Errorf("failed to read auto-respond flag for %s: %w", in.Sender, err)
	}

	var out Outcome
	if autoRespond {
		r.sendText(ctx, in.Sender, r.opts.PromoMessage, in.MessageID)
		slog.Info("Router.Handle: auto-respond message sent", "sender", in.Sender)
		out = Outcome{Kind: OutcomeAutoRespond}
	} else {
		out = r.route(ctx, in, rec)
	}
	out.State = rec.CurrentState()

	if err := r.persist(in.Sender, rec); err != nil {
		return Outcome{}, err
	}
	r.markProcessed(in)

	r.opts.Metrics.RecordInbound(out.Kind.String())
	slog.Debug("Router.Handle: message handled", "sender", in.Sender, "outcome", out.Kind, "state", out.State)
	return out, nil
}

// route follows one flow edge, or falls back to the responder.
func (r *Router) route(ctx context.Context, in Inbound, rec *models.ConversationRecord) Outcome {
	tr := r.engine.Step(rec.CurrentState(), in.Token)
	slog.Debug("Router.route: transition", "sender", in.Sender, "from", rec.CurrentState(), "kind", tr.Kind, "next", tr.Next)

	switch tr.Kind {
	case flow.TransitionRender:
		rec.SetState(tr.Next)
		r.sendStep(ctx, in, tr.Render)
		return Outcome{Kind: OutcomeFlowStep}

	case flow.TransitionInvalidSelection:
		r.sendText(ctx, in.Sender, tr.Notice, "")
		r.sendStep(ctx, in, tr.Render)
		return Outcome{Kind: OutcomeInvalidSelection}

	case flow.TransitionAcknowledge:
		rec.SetState(flow.StateIdle)
		r.sendText(ctx, in.Sender, tr.Notice, "")
		return Outcome{Kind: OutcomeFlowAck}

	default:
		rec.SetState(flow.StateIdle)
		return r.generate(ctx, in, rec)
	}
}

// generate asks the responder for a reply and records the exchange on success.
func (r *Router) generate(ctx context.Context, in Inbound, rec *models.ConversationRecord) Outcome {
	history := make([]models.MessageEntry, len(rec.Messages))
	copy(history, rec.Messages)

	start := time.Now()
	reply, err := r.responder.Generate(ctx, in.Token, history)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = ErrEmptyReply
	}
	elapsed := time.Since(start)
	r.opts.Metrics.RecordResponder(elapsed, err)

	if err != nil {
		slog.Error("Router.generate: responder failed", "sender", in.Sender, "duration", elapsed, "error", err)
		r.sendText(ctx, in.Sender, r.opts.ApologyMessage, in.MessageID)
		return Outcome{Kind: OutcomeGenerationFailed}
	}
	slog.Info("Router.generate: reply generated", "sender", in.Sender, "duration", elapsed, "historyLen", len(history))

	now := r.opts.Clock()
	rec.AppendMessage(models.RoleUser, in.Token, now)
	rec.AppendMessage(models.RoleAssistant, reply, now)

	body := reply
	if r.opts.Reminder != "" {
		body = reply + reminderSeparator + r.opts.Reminder
	}
	r.sendText(ctx, in.Sender, body, in.MessageID)
	return Outcome{Kind: OutcomeGenerated}
}

// sendStep renders a flow step as a list when it has options, else as text.
func (r *Router) sendStep(ctx context.Context, in Inbound, step *flow.Step) {
	if step == nil {
		return
	}
	body := flow.Expand(step.Message, flow.Vars{FirstName: in.ProfileName})
	if !step.HasOptions() {
		r.sendText(ctx, in.Sender, body, "")
		return
	}

	options := make([]messaging.ListOption, 0, len(step.Options))
	for _, opt := range step.Options {
		options = append(options, messaging.ListOption{ID: opt.ID, Title: opt.Title})
	}
	err := r.channel.SendList(ctx, in.Sender, body, options)
	r.opts.Metrics.RecordOutbound(messaging.KindList, err)
	if err != nil {
		slog.Warn("Router.sendStep: failed to send list", "sender", in.Sender, "step", step.ID, "error", err)
	}
}

func (r *Router) sendText(ctx context.Context, to, body, replyTo string) {
	err := r.channel.SendText(ctx, to, body, replyTo)
	r.opts.Metrics.RecordOutbound(messaging.KindText, err)
	if err != nil {
		slog.Warn("Router.sendText: failed to send message", "to", to, "error", err)
	}
}

func (r *Router) isDuplicate(in Inbound) bool {
	if r.dedup == nil || in.MessageID == "" {
		return false
	}
	dup, err := r.dedup.IsDuplicate(in.MessageID)
	if err != nil {
		slog.Warn("Router.isDuplicate: dedup lookup failed, processing message", "messageID", in.MessageID, "error", err)
		return false
	}
	return dup
}

func (r *Router) markProcessed(in Inbound) {
	if r.dedup == nil || in.MessageID == "" {
		return
	}
	if _, err := r.dedup.RecordInbound(in.MessageID, in.Sender); err != nil {
		slog.Warn("Router.markProcessed: failed to record inbound message", "messageID", in.MessageID, "error", err)
		return
	}
	if err := r.dedup.MarkProcessed(in.MessageID); err != nil {
		slog.Warn("Router.markProcessed: failed to mark message processed", "messageID", in.MessageID, "error", err)
	}
}

func (r *Router) loadConversation(sender string) (*models.ConversationRecord, error) {
	rec, err := r.store.GetConversation(sender)
	if err != nil {
		r.opts.Metrics.RecordStoreError("get_conversation")
		return nil, fmt.Errorf("failed to load conversation for %s: %w", sender, err)
	}
	if rec == nil {
		rec = models.NewConversationRecord()
	}
	return rec, nil
}

func (r *Router) persist(sender string, rec *models.ConversationRecord) error {
	if err := r.store.SaveConversation(sender, rec); err != nil {
		r.opts.Metrics.RecordStoreError("save_conversation")
		return fmt.Errorf("failed to save conversation for %s: %w", sender, err)
	}
	if err := r.store.Flush(); err != nil {
		r.opts.Metrics.RecordStoreError("flush")
		return fmt.Errorf("failed to flush store: %w", err)
	}
	return nil
}

// Conversation returns the sender's record, or the default empty record.
func (r *Router) Conversation(sender string) (*models.ConversationRecord, error) {
	if sender == "" {
		return nil, models.ErrEmptySender
	}
	return r.loadConversation(sender)
}

// AppendUserMessage records a user entry for sender without routing it.
func (r *Router) AppendUserMessage(sender, message string) (*models.ConversationRecord, error) {
	if sender == "" {
		return nil, models.ErrEmptySender
	}
	if strings.TrimSpace(message) == "" {
		return nil, models.ErrEmptyMessage
	}

	unlock := r.locks.Lock(sender)
	defer unlock()

	rec, err := r.loadConversation(sender)
	if err != nil {
		return nil, err
	}
	rec.AppendMessage(models.RoleUser, message, r.opts.Clock())
	if err := r.persist(sender, rec); err != nil {
		return nil, err
	}
	slog.Info("Router.AppendUserMessage: message appended", "sender", sender, "historyLen", len(rec.Messages))
	return rec.Clone(), nil
}

// SetAutoRespond toggles the promotional override for sender and flushes it.
func (r *Router) SetAutoRespond(sender string, enabled bool) error {
	if sender == "" {
		return models.ErrEmptySender
	}
	if err := r.store.SetAutoRespond(sender, enabled); err != nil {
		r.opts.Metrics.RecordStoreError("set_auto_respond")
		return fmt.Errorf("failed to set auto-respond for %s: %w", sender, err)
	}
	if err := r.store.Flush(); err != nil {
		r.opts.Metrics.RecordStoreError("flush")
		return fmt.Errorf("failed to flush store: %w", err)
	}
	slog.Info("Router.SetAutoRespond: flag updated", "sender", sender, "enabled", enabled)
	return nil
}
