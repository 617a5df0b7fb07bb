package whatsapp

// MessagingProduct is the fixed messaging_product of every outbound message.
const MessagingProduct = "whatsapp"

// OutboundMessage is the body of POST /{phone-number-id}/messages.
type OutboundMessage struct {
	MessagingProduct string               `json:"messaging_product"`
	RecipientType    string               `json:"recipient_type,omitempty"`
	To               string               `json:"to"`
	Type             string               `json:"type"`
	Context          *MessageContext      `json:"context,omitempty"`
	Text             *OutboundText        `json:"text,omitempty"`
	Interactive      *OutboundInteractive `json:"interactive,omitempty"`
}

// MessageContext threads a reply to an earlier message.
type MessageContext struct {
	MessageID string `json:"message_id"`
}

// OutboundText is a plain text body.
type OutboundText struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url,omitempty"`
}

// OutboundInteractive is an interactive button or list message.
type OutboundInteractive struct {
	Type   string             `json:"type"`
	Header *InteractiveHeader `json:"header,omitempty"`
	Body   InteractiveText    `json:"body"`
	Footer *InteractiveText   `json:"footer,omitempty"`
	Action InteractiveAction  `json:"action"`
}

// InteractiveHeader is the optional header of an interactive message.
type InteractiveHeader struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// InteractiveText is a text block of an interactive message.
type InteractiveText struct {
	Text string `json:"text"`
}

// InteractiveAction holds either reply buttons or list sections.
type InteractiveAction struct {
	Button   string         `json:"button,omitempty"`
	Buttons  []ActionButton `json:"buttons,omitempty"`
	Sections []ListSection  `json:"sections,omitempty"`
}

// ActionButton is one reply button.
type ActionButton struct {
	Type  string      `json:"type"`
	Reply ButtonReply `json:"reply"`
}

// ButtonReply identifies a reply button.
type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ListSection groups list rows.
type ListSection struct {
	Title string    `json:"title,omitempty"`
	Rows  []ListRow `json:"rows"`
}

// ListRow is one selectable row of a list message.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// SendResponse is the response from the send message API.
type SendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// NewTextMessage builds a plain text message, threaded when replyTo is set.
func NewTextMessage(to, body, replyTo string) OutboundMessage {
	return withContext(OutboundMessage{
		MessagingProduct: MessagingProduct,
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &OutboundText{Body: body},
	}, replyTo)
}

// NewButtonMessage builds an interactive reply-button message.
func NewButtonMessage(to, body, replyTo string, buttons ...ButtonReply) OutboundMessage {
	action := InteractiveAction{Buttons: make([]ActionButton, 0, len(buttons))}
	for _, b := range buttons {
		action.Buttons = append(action.Buttons, ActionButton{Type: "reply", Reply: b})
	}
	return withContext(OutboundMessage{
		MessagingProduct: MessagingProduct,
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive: &OutboundInteractive{
			Type:   "button",
			Body:   InteractiveText{Text: body},
			Action: action,
		},
	}, replyTo)
}

// ListLayout carries the fixed texts of a list message.
type ListLayout struct {
	Header       string
	Footer       string
	Button       string
	SectionTitle string
}

// NewListMessage builds an interactive list message with a single section.
func NewListMessage(to, body string, layout ListLayout, rows []ListRow) OutboundMessage {
	interactive := &OutboundInteractive{
		Type: "list",
		Body: InteractiveText{Text: body},
		Action: InteractiveAction{
			Button:   layout.Button,
			Sections: []ListSection{{Title: layout.SectionTitle, Rows: rows}},
		},
	}
	if layout.Header != "" {
		interactive.Header = &InteractiveHeader{Type: "text", Text: layout.Header}
	}
	if layout.Footer != "" {
		interactive.Footer = &InteractiveText{Text: layout.Footer}
	}
	return OutboundMessage{
		MessagingProduct: MessagingProduct,
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive:      interactive,
	}
}

func withContext(msg OutboundMessage, replyTo string) OutboundMessage {
	if replyTo != "" {
		msg.Context = &MessageContext{MessageID: replyTo}
	}
	return msg
}
