// Package broker implements the single-owner state machine that
// multiplexes every command and response stream on one minibot RPC
// channel, per §4.3 of the design.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/minibot/rpc/cancel"
	"github.com/minibot/rpc/handler"
	"github.com/minibot/rpc/message"
)

// ErrChannelClosed is returned to a caller whose local command could not
// be sent because the outbound transport is tearing down.
var ErrChannelClosed = errors.New("broker: channel closed")

// ErrPeerError wraps any error frame received from the peer; receiving
// one is always fatal to the channel (§7).
type ErrPeerError struct {
	ID      uint32
	HasID   bool
	Message string
}

func (e *ErrPeerError) Error() string {
	if e.HasID {
		return fmt.Sprintf("broker: peer reported error on stream %d: %s", e.ID, e.Message)
	}
	return fmt.Sprintf("broker: peer reported fatal error: %s", e.Message)
}

// ErrProtocolViolation covers the two peer protocol violations that are
// fatal to the channel: a response or end frame for an id the broker
// never allocated.
type ErrProtocolViolation struct {
	ID     uint32
	Detail string
}

func (e *ErrProtocolViolation) Error() string {
	return fmt.Sprintf("broker: protocol violation on stream %d: %s", e.ID, e.Detail)
}

// ErrUnknownMethod is returned from Run when the handler rejects a
// command; it is re-exported here so callers don't need to import
// package handler just to compare errors.Is.
var ErrUnknownMethod = handler.ErrUnknownMethod

const defaultSinkCapacity = 10

// Option configures a Broker at construction time.
type Option func(*Broker)

// WithLogger attaches a zap logger used for non-fatal diagnostics. The
// broker logs duplicate command ids and handler rejections at Warn;
// orphan response or end frames are not logged. Decode/drop warnings for malformed
// wire frames are logged by the transport codec bridge, not here.
func WithLogger(l *zap.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// WithSinkCapacity overrides the default capacity (10) of the bounded
// response sink handed to CommandHandler.StartCommand for each inbound
// stream.
func WithSinkCapacity(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.sinkCapacity = n
		}
	}
}

// outboundStream is the record kept for a stream this party initiated:
// responses arriving from the peer are forwarded to sink until the
// matching end frame frees the id.
type outboundStream struct {
	sink     chan json.RawMessage
	stopped  <-chan struct{}
	draining bool
}

// inboundStream is the record kept for a stream the peer initiated: the
// broker holds only the means to tell the handler to stop.
type inboundStream struct {
	cancel *cancel.Handle
}

// Broker is the single-owner state machine described in §4.3. It must be
// driven by a single call to Run; all mutation of its two routing tables
// happens inside that call's goroutine.
type Broker struct {
	handler      handler.CommandHandler
	ids          *message.IDAllocator
	logger       *zap.Logger
	sinkCapacity int

	outbound map[uint32]*outboundStream
	inbound  map[uint32]*inboundStream

	inboundDone chan uint32
}

// New creates a Broker that dispatches remote-initiated commands to h.
func New(h handler.CommandHandler, opts ...Option) *Broker {
	b := &Broker{
		handler:      h,
		ids:          message.NewIDAllocator(),
		logger:       zap.NewNop(),
		sinkCapacity: defaultSinkCapacity,
		outbound:     make(map[uint32]*outboundStream),
		inbound:      make(map[uint32]*inboundStream),
		inboundDone:  make(chan uint32, 16),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run drives the broker's event loop until ctx is cancelled, a
// Terminate event is processed, or a fatal protocol error occurs. It
// reads events from events and writes outbound Messages to out. On
// return, every outbound stream's sink is closed and every inbound
// stream's handler is cancelled, per §4.3's Terminate handling and
// testable property 5.
func (b *Broker) Run(ctx context.Context, events <-chan Event, out chan<- message.Message) error {
	defer b.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case id := <-b.inboundDone:
			delete(b.inbound, id)

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.kind {
			case eventTerminate:
				return nil
			case eventLocalCommand:
				b.handleLocalCommand(ctx, ev, out)
			case eventIncoming:
				if err := b.handleIncoming(ctx, ev.msg, out); err != nil {
					return err
				}
			}
		}
	}
}

func (b *Broker) handleLocalCommand(ctx context.Context, ev Event, out chan<- message.Message) {
	id := b.ids.Next()
	cmd := message.NewCommand(id, ev.method, ev.payload)

	select {
	case out <- cmd:
		b.outbound[id] = &outboundStream{sink: ev.sink, stopped: ev.stopped}
		if ev.ack != nil {
			ev.ack <- nil
		}
	case <-ctx.Done():
		if ev.ack != nil {
			ev.ack <- ErrChannelClosed
		}
	}
}

func (b *Broker) handleIncoming(ctx context.Context, msg message.Message, out chan<- message.Message) error {
	switch msg.Kind {
	case message.KindCommand:
		return b.handleIncomingCommand(ctx, msg, out)
	case message.KindCancel:
		b.handleIncomingCancel(msg)
		return nil
	case message.KindResponse:
		return b.handleIncomingResponse(ctx, msg, out)
	case message.KindEnd:
		return b.handleIncomingEnd(ctx, msg, out)
	case message.KindError:
		return b.handleIncomingError(msg)
	default:
		return fmt.Errorf("broker: unhandled message kind %q", msg.Kind)
	}
}

func (b *Broker) handleIncomingCommand(ctx context.Context, msg message.Message, out chan<- message.Message) error {
	id, _ := msg.ID()

	if _, exists := b.inbound[id]; exists {
		b.logger.Warn("duplicate command id from peer", zap.Uint32("id", id))
		return b.sendOrAbort(ctx, out, message.NewError(id, "Started an already running command"))
	}

	sink := make(chan json.RawMessage, b.sinkCapacity)
	cancelHandle, token := cancel.Pair()

	if err := b.handler.StartCommand(msg.Method, msg.Payload, sink, token); err != nil {
		cancelHandle.Ignore()
		b.logger.Warn("handler rejected command", zap.String("method", msg.Method), zap.Error(err))
		if sendErr := b.sendOrAbort(ctx, out, message.NewError(id, fmt.Sprintf("Error with command: %s", wireErrorText(err)))); sendErr != nil {
			return sendErr
		}
		return err
	}

	b.inbound[id] = &inboundStream{cancel: cancelHandle}
	go runStreamSender(ctx, id, sink, out, b.inboundDone)
	return nil
}

// wireErrorText renders err for the "error" field of an error frame.
// ErrUnknownMethod gets the literal text spec.md §8 scenario 2 documents
// on the wire, distinct from its idiomatic Go Error() string; any other
// handler error is surfaced as-is.
func wireErrorText(err error) string {
	if errors.Is(err, handler.ErrUnknownMethod) {
		return handler.UnknownMethodWireText
	}
	return err.Error()
}

func (b *Broker) handleIncomingCancel(msg message.Message) {
	id, _ := msg.ID()
	if s, ok := b.inbound[id]; ok {
		s.cancel.Cancel()
		delete(b.inbound, id)
	}
	// No record: the stream likely finished concurrently. Advisory, so
	// this is a no-op, not an error (§3 invariant 4).
}

func (b *Broker) handleIncomingResponse(ctx context.Context, msg message.Message, out chan<- message.Message) error {
	id, _ := msg.ID()
	s, ok := b.outbound[id]
	if !ok {
		return b.orphanStreamError(ctx, out, id)
	}
	if s.draining {
		// Already told the peer we lost interest; drop further
		// responses silently until end arrives.
		return nil
	}

	select {
	case s.sink <- msg.Payload:
		return nil
	case <-s.stopped:
		s.draining = true
		return b.sendOrAbort(ctx, out, message.NewCancel(id))
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Broker) handleIncomingEnd(ctx context.Context, msg message.Message, out chan<- message.Message) error {
	id, _ := msg.ID()
	s, ok := b.outbound[id]
	if !ok {
		return b.orphanStreamError(ctx, out, id)
	}
	close(s.sink)
	delete(b.outbound, id)
	return nil
}

func (b *Broker) handleIncomingError(msg message.Message) error {
	id, hasID := msg.ID()
	return &ErrPeerError{ID: id, HasID: hasID, Message: msg.Err}
}

func (b *Broker) orphanStreamError(ctx context.Context, out chan<- message.Message, id uint32) error {
	const detail = "Got a stream message to an unallocated id."
	if err := b.sendOrAbort(ctx, out, message.NewError(id, detail)); err != nil {
		return err
	}
	return &ErrProtocolViolation{ID: id, Detail: detail}
}

func (b *Broker) sendOrAbort(ctx context.Context, out chan<- message.Message, msg message.Message) error {
	select {
	case out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown releases every record held by the broker: outbound sinks are
// closed so pending response sequences observe stream closure, and every
// inbound handler is told to stop.
func (b *Broker) shutdown() {
	for id, s := range b.outbound {
		close(s.sink)
		delete(b.outbound, id)
	}
	for id, s := range b.inbound {
		s.cancel.Cancel()
		delete(b.inbound, id)
	}
}
