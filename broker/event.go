package broker

import (
	"encoding/json"

	"github.com/minibot/rpc/message"
)

type eventKind int

const (
	eventLocalCommand eventKind = iota
	eventIncoming
	eventTerminate
)

// Event is the broker's single mailbox item type: a local command start,
// an incoming transport message, or a termination request.
type Event struct {
	kind eventKind

	method  string
	payload json.RawMessage
	sink    chan json.RawMessage
	stopped <-chan struct{}
	ack     chan<- error

	msg message.Message
}

// NewLocalCommandEvent requests that the broker start a new outbound
// stream for method/payload. Responses are delivered to sink, which the
// broker closes when the stream ends. stopped, if non-nil, is closed by
// the caller to signal it has lost interest in further responses (see
// §4.3's draining-placeholder behavior). ack, if non-nil, receives the
// outcome of emitting the command frame: nil on success, or a non-nil
// error (typically ErrChannelClosed) if the frame could not be sent.
func NewLocalCommandEvent(method string, payload json.RawMessage, sink chan json.RawMessage, stopped <-chan struct{}, ack chan<- error) Event {
	return Event{
		kind:    eventLocalCommand,
		method:  method,
		payload: payload,
		sink:    sink,
		stopped: stopped,
		ack:     ack,
	}
}

// NewIncomingEvent wraps a decoded transport message as a broker event.
func NewIncomingEvent(msg message.Message) Event {
	return Event{kind: eventIncoming, msg: msg}
}

// NewTerminateEvent requests an orderly shutdown of the broker.
func NewTerminateEvent() Event {
	return Event{kind: eventTerminate}
}
