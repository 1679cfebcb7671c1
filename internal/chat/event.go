package chat

import (
	"encoding/json"
	"fmt"
)

// EventType names an outbound frame.
type EventType string

const (
	EventMessage     EventType = "message"
	EventOnlineUsers EventType = "online users"
	EventError       EventType = "error"
)

// InboundSendMessage is the only inbound frame type.
const InboundSendMessage = "sendMessage"

// Event is one outbound frame. Every state change reaches clients as an
// Event published through the hub.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// ErrorPayload is the data of an error frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// MessageCreated announces a message that has already been stored.
func MessageCreated(view MessageView) Event {
	return Event{Type: EventMessage, Data: view}
}

// OnlineCountChanged announces the number of connected sessions.
func OnlineCountChanged(count int) Event {
	return Event{Type: EventOnlineUsers, Data: count}
}

// ErrorEvent reports a failed request back to its originator only.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Data: ErrorPayload{Message: message}}
}

// Encode renders the event as a single JSON frame.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// MaxContentRunes bounds the content of one message.
const MaxContentRunes = 1000

// MinFrameSize is the smallest read limit that still admits a frame whose
// content is MaxContentRunes long. A rune can arrive as an escaped
// surrogate pair (12 bytes), plus room for the envelope.
const MinFrameSize = MaxContentRunes*12 + 512

// SendMessage is the payload of an inbound sendMessage frame.
type SendMessage struct {
	SenderID string `json:"senderId" validate:"omitempty,uuid"`
	Content  string `json:"content" validate:"required,max=1000"`
}

// inbound accepts both the enveloped form
// {"type":"sendMessage","data":{...}} and the flat form {"content":"..."}.
type inbound struct {
	Type     string       `json:"type"`
	Data     *SendMessage `json:"data"`
	SenderID string       `json:"senderId"`
	Content  string       `json:"content"`
}

// DecodeInbound parses a raw client frame into a send request.
func DecodeInbound(raw []byte) (SendMessage, error) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return SendMessage{}, fmt.Errorf("%w: malformed frame", ErrValidation)
	}

	if in.Type != "" && in.Type != InboundSendMessage {
		return SendMessage{}, fmt.Errorf("%w: unknown event type %q", ErrValidation, in.Type)
	}

	if in.Data != nil {
		return *in.Data, nil
	}
	return SendMessage{SenderID: in.SenderID, Content: in.Content}, nil
}
