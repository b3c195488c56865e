package handlers

import (
	"strings"

	"github.com/falaja/tutor-bot/internal/application/session"
	"github.com/falaja/tutor-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// Z-API WEBHOOK PAYLOAD
// ══════════════════════════════════════════════════════════════════════════════

// Z-API callback types.
const (
	CallbackReceived = "ReceivedCallback"
)

// ZAPIMessage is the "on message received" callback of the WhatsApp gateway.
type ZAPIMessage struct {
	Type          string `json:"type"`
	MessageID     string `json:"messageId"`
	Phone         string `json:"phone"`
	FromMe        bool   `json:"fromMe"`
	IsGroup       bool   `json:"isGroup"`
	IsNewsletter  bool   `json:"isNewsletter"`
	IsStatusReply bool   `json:"isStatusReply"`
	Broadcast     bool   `json:"broadcast"`
	Status        string `json:"status"`
	SenderName    string `json:"senderName"`
	ChatName      string `json:"chatName"`
	Moment        int64  `json:"momment"`

	Text *struct {
		Message string `json:"message"`
	} `json:"text,omitempty"`

	Image *struct {
		Caption string `json:"caption"`
	} `json:"image,omitempty"`

	ButtonsResponseMessage *struct {
		ButtonID string `json:"buttonId"`
		Message  string `json:"message"`
	} `json:"buttonsResponseMessage,omitempty"`
}

// Skip reasons returned by ToInbound.
const (
	SkipNotMessage = "not_message"
	SkipFromMe     = "from_me"
	SkipGroup      = "group"
	SkipNoText     = "no_text"
	SkipBadPhone   = "invalid_phone"
)

// Body returns the text the student typed, whatever the message kind.
func (m ZAPIMessage) Body() string {
	switch {
	case m.Text != nil && m.Text.Message != "":
		return m.Text.Message
	case m.ButtonsResponseMessage != nil:
		return m.ButtonsResponseMessage.Message
	case m.Image != nil:
		return m.Image.Caption
	}
	return ""
}

// ToInbound converts the callback into a turn input. When the callback must
// not reach the orchestrator it returns a non-empty skip reason.
func (m ZAPIMessage) ToInbound() (session.Inbound, string) {
	if m.Type != "" && m.Type != CallbackReceived {
		return session.Inbound{}, SkipNotMessage
	}
	if m.FromMe {
		return session.Inbound{}, SkipFromMe
	}
	if m.IsGroup || m.IsNewsletter || m.Broadcast || m.IsStatusReply || strings.Contains(m.Phone, "-group") {
		return session.Inbound{}, SkipGroup
	}

	body := strings.TrimSpace(m.Body())
	if body == "" {
		return session.Inbound{}, SkipNoText
	}

	phone, err := shared.NewPhone(m.Phone)
	if err != nil {
		return session.Inbound{}, SkipBadPhone
	}

	return session.Inbound{
		MessageID:  m.MessageID,
		Phone:      phone.String(),
		Text:       body,
		SenderName: m.SenderName,
	}, ""
}
