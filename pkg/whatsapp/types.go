// Package whatsapp implements the WhatsApp Cloud API channel: the inbound
// webhook gateway and the outbound message dispatcher.
package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event kinds.
const (
	KindMessage = "message"
	KindStatus  = "status"
	KindOther   = "other"
)

// ErrMalformed is returned when a webhook body is not a valid payload.
var ErrMalformed = errors.New("whatsapp: malformed payload")

// Payload is the webhook envelope sent by the Cloud API.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one business account entry of the payload.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change wraps the changed value.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries the messages or statuses of a change.
type Value struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         Metadata         `json:"metadata"`
	Contacts         []Contact        `json:"contacts"`
	Messages         []InboundMessage `json:"messages"`
	Statuses         []Status         `json:"statuses"`
}

// Metadata identifies the receiving business phone number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the sender profile.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// InboundMessage is a message sent by a user.
type InboundMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
}

// Status is a delivery status update for an outbound message.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

// Event is the normalized form of a webhook delivery.
type Event struct {
	Kind      string
	Channel   string // receiving phone_number_id
	From      string
	MessageID string
	Type      string
	Text      string
}

// IsText reports whether the event is a text message with a body.
func (e Event) IsText() bool {
	return e.Kind == KindMessage && e.Type == "text" && e.Text != ""
}

// Parse normalizes the first change of a webhook body.
func Parse(body []byte) (Event, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if len(p.Entry) == 0 || len(p.Entry[0].Changes) == 0 {
		return Event{Kind: KindOther}, nil
	}

	v := p.Entry[0].Changes[0].Value
	switch {
	case len(v.Statuses) > 0:
		return Event{Kind: KindStatus, Channel: v.Metadata.PhoneNumberID}, nil
	case len(v.Messages) > 0:
		m := v.Messages[0]
		ev := Event{
			Kind:      KindMessage,
			Channel:   v.Metadata.PhoneNumberID,
			From:      m.From,
			MessageID: m.ID,
			Type:      m.Type,
		}
		if len(v.Contacts) > 0 && v.Contacts[0].WaID != "" {
			ev.From = v.Contacts[0].WaID
		}
		if m.Text != nil {
			ev.Text = m.Text.Body
		}
		if ev.Channel == "" || ev.MessageID == "" || ev.From == "" {
			return Event{}, fmt.Errorf("%w: message without channel, id or sender", ErrMalformed)
		}
		return ev, nil
	default:
		return Event{Kind: KindOther}, nil
	}
}
