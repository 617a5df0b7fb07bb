package messaging

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/BTreeMap/RelayPipe/internal/whatsapp"
)

// Cloud API limits for interactive messages.
const (
	MaxListRows           = 10
	MaxRowTitleRunes      = 24
	MaxRowDescriptionRune = 72
	MaxInteractiveBody    = 1024
	MaxButtonTitleRunes   = 20
	MaxTextBody           = 4096
)

// Default list layout texts.
const (
	DefaultListHeader  = "Choose an option"
	DefaultListFooter  = "Please select one of the options below."
	DefaultListButton  = "Select"
	DefaultListSection = "Options"
	DefaultMenuTitle   = "Menu"
)

// CloudOpts configures a CloudChannel.
type CloudOpts struct {
	MenuButtonID    string // id of the reply button attached to text replies; empty disables it
	MenuButtonTitle string
	Layout          whatsapp.ListLayout
}

// CloudOption defines a configuration option for CloudChannel.
type CloudOption func(*CloudOpts)

// WithMenuButton attaches a reply button with the given id and title to text replies.
func WithMenuButton(id, title string) CloudOption {
	return func(o *CloudOpts) {
		o.MenuButtonID = id
		o.MenuButtonTitle = title
	}
}

// WithListLayout overrides the header, footer and button texts of list messages.
func WithListLayout(layout whatsapp.ListLayout) CloudOption {
	return func(o *CloudOpts) { o.Layout = layout }
}

// CloudChannel implements Channel over the WhatsApp Cloud API.
type CloudChannel struct {
	client     whatsapp.Sender
	menuID     string
	menuTitle  string
	listLayout whatsapp.ListLayout
}

var _ Channel = (*CloudChannel)(nil)

// NewCloudChannel creates a CloudChannel sending through client.
func NewCloudChannel(client whatsapp.Sender, opts ...CloudOption) *CloudChannel {
	cfg := CloudOpts{
		MenuButtonTitle: DefaultMenuTitle,
		Layout: whatsapp.ListLayout{
			Header:       DefaultListHeader,
			Footer:       DefaultListFooter,
			Button:       DefaultListButton,
			SectionTitle: DefaultListSection,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CloudChannel{
		client:     client,
		menuID:     cfg.MenuButtonID,
		menuTitle:  Truncate(cfg.MenuButtonTitle, MaxButtonTitleRunes),
		listLayout: cfg.Layout,
	}
}

// ValidateAndCanonicalizeRecipient returns the digits-only phone number.
func (c *CloudChannel) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// SendText sends body as an interactive message with the menu button. Bodies
// over the interactive limit go out as plain text instead.
func (c *CloudChannel) SendText(ctx context.Context, to, body, replyTo string) error {
	var msg whatsapp.OutboundMessage
	if c.menuID == "" || utf8.RuneCountInString(body) > MaxInteractiveBody {
		msg = whatsapp.NewTextMessage(to, Truncate(body, MaxTextBody), replyTo)
	} else {
		msg = whatsapp.NewButtonMessage(to, body, replyTo, whatsapp.ButtonReply{ID: c.menuID, Title: c.menuTitle})
	}
	_, err := c.client.Send(ctx, msg)
	if err != nil {
		slog.Error("CloudChannel.SendText failed", "to", to, "error", err)
		return err
	}
	slog.Debug("CloudChannel.SendText sent", "to", to, "type", msg.Type)
	return nil
}

// SendList sends an interactive list. Rows beyond MaxListRows are dropped and
// texts are truncated to the platform limits.
func (c *CloudChannel) SendList(ctx context.Context, to, body string, options []ListOption) error {
	if len(options) > MaxListRows {
		slog.Warn("CloudChannel.SendList: too many options, truncating", "to", to, "count", len(options), "max", MaxListRows)
		options = options[:MaxListRows]
	}
	rows := make([]whatsapp.ListRow, 0, len(options))
	for _, opt := range options {
		rows = append(rows, whatsapp.ListRow{
			ID:          opt.ID,
			Title:       Truncate(opt.Title, MaxRowTitleRunes),
			Description: Truncate(opt.Description, MaxRowDescriptionRune),
		})
	}
	msg := whatsapp.NewListMessage(to, Truncate(body, MaxInteractiveBody), c.listLayout, rows)
	if _, err := c.client.Send(ctx, msg); err != nil {
		slog.Error("CloudChannel.SendList failed", "to", to, "error", err)
		return err
	}
	slog.Debug("CloudChannel.SendList sent", "to", to, "rows", len(rows))
	return nil
}
