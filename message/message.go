// Package message defines the wire-level tagged union that flows across a
// minibot RPC channel, and the id allocator used to name streams.
package message

import (
	"encoding/json"
	"fmt"
)

// Kind is the tag that identifies which variant a Message carries.
type Kind string

const (
	KindCommand  Kind = "cmd"
	KindCancel   Kind = "cancel"
	KindResponse Kind = "resp"
	KindEnd      Kind = "end"
	KindError    Kind = "error"
)

// Message is the tagged union of the five frame kinds the broker
// understands. Only the fields relevant to Kind are populated; see the
// New* constructors.
type Message struct {
	Kind    Kind
	Method  string
	Payload json.RawMessage
	Err     string

	id    uint32
	hasID bool
}

// NewCommand builds a command frame that starts a new stream.
func NewCommand(id uint32, method string, payload json.RawMessage) Message {
	return Message{Kind: KindCommand, id: id, hasID: true, Method: method, Payload: payload}
}

// NewCancel builds a cancel frame advising the recipient to stop a stream.
func NewCancel(id uint32) Message {
	return Message{Kind: KindCancel, id: id, hasID: true}
}

// NewResponse builds a response frame carrying one value for a stream.
func NewResponse(id uint32, payload json.RawMessage) Message {
	return Message{Kind: KindResponse, id: id, hasID: true, Payload: payload}
}

// NewEnd builds the terminal frame for a stream.
func NewEnd(id uint32) Message {
	return Message{Kind: KindEnd, id: id, hasID: true}
}

// NewError builds an error frame tied to a specific stream id.
func NewError(id uint32, text string) Message {
	return Message{Kind: KindError, id: id, hasID: true, Err: text}
}

// NewFatalError builds a channel-level error frame with no associated id.
func NewFatalError(text string) Message {
	return Message{Kind: KindError, Err: text}
}

// ID returns the stream id carried by the message, if any. Only error
// frames may have no id.
func (m Message) ID() (id uint32, ok bool) {
	return m.id, m.hasID
}

type wireMessage struct {
	Type    Kind            `json:"type"`
	ID      *uint32         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// MarshalJSON serializes the message to its compact wire form.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		Type:    m.Kind,
		Method:  m.Method,
		Payload: m.Payload,
		Error:   m.Err,
	}
	if m.hasID {
		id := m.id
		w.ID = &id
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a wire frame into a Message. Unknown fields are
// ignored; an unknown type value is an error.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("message: decode: %w", err)
	}
	switch w.Type {
	case KindCommand:
		if w.ID == nil {
			return fmt.Errorf("message: %q frame missing id", w.Type)
		}
		*m = NewCommand(*w.ID, w.Method, w.Payload)
	case KindCancel:
		if w.ID == nil {
			return fmt.Errorf("message: %q frame missing id", w.Type)
		}
		*m = NewCancel(*w.ID)
	case KindResponse:
		if w.ID == nil {
			return fmt.Errorf("message: %q frame missing id", w.Type)
		}
		*m = NewResponse(*w.ID, w.Payload)
	case KindEnd:
		if w.ID == nil {
			return fmt.Errorf("message: %q frame missing id", w.Type)
		}
		*m = NewEnd(*w.ID)
	case KindError:
		if w.ID != nil {
			*m = NewError(*w.ID, w.Error)
		} else {
			*m = NewFatalError(w.Error)
		}
	default:
		return fmt.Errorf("message: unknown type %q", w.Type)
	}
	return nil
}
