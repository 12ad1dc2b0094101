// Package rpc is the public facade of the minibot RPC core: a
// bidirectional multiplexed channel tying a local client to a remote
// peer over a single message-oriented transport, per the design's §4.7.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/minibot/rpc/broker"
	"github.com/minibot/rpc/handler"
	"github.com/minibot/rpc/message"
	"github.com/minibot/rpc/transport"
)

// ErrChannelClosed is returned by SendCommand when the channel has
// already torn down.
var ErrChannelClosed = errors.New("rpc: channel closed")

// ErrSerialize wraps a caller-side command serialization failure,
// surfaced synchronously from SendCommand without affecting channel
// state (§7).
type ErrSerialize struct{ Err error }

func (e *ErrSerialize) Error() string { return fmt.Sprintf("rpc: serialize command: %s", e.Err) }
func (e *ErrSerialize) Unwrap() error { return e.Err }

const eventSinkCapacity = 0 // synchronous hand-off, per §5's recommended default.
const responseSinkCapacity = 10

// Option configures a Channel at construction time.
type Option func(*config)

type config struct {
	logger     *zap.Logger
	brokerOpts []broker.Option
}

// WithLogger attaches a zap logger for internal diagnostics (dropped
// frames, protocol violations). Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		c.logger = l
		c.brokerOpts = append(c.brokerOpts, broker.WithLogger(l))
	}
}

// WithSinkCapacity overrides the default capacity (10) of the bounded
// response sink given to the command handler for each inbound stream.
func WithSinkCapacity(n int) Option {
	return func(c *config) {
		c.brokerOpts = append(c.brokerOpts, broker.WithSinkCapacity(n))
	}
}

// Channel is the public facade over one RPC transport. Construct one
// with New, and call Close (typically deferred) to tear it down; Close
// is this module's equivalent of the "drop the channel" behavior
// described in §4.7 and §9, made explicit because Go has no destructors.
type Channel struct {
	events chan broker.Event
	cancel context.CancelFunc
	done   chan struct{}
	logger *zap.Logger
}

// New constructs a Channel over d, dispatching remote-initiated commands
// to h. The returned Channel owns a derived context: cancelling ctx, or
// calling Close, tears the channel down.
func New(ctx context.Context, d transport.Duplex, h handler.CommandHandler, opts ...Option) *Channel {
	cfg := config{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	// Every channel gets an opaque session id purely for log
	// correlation across its goroutines; it never appears on the wire.
	sessionID := uuid.New().String()
	cfg.logger = cfg.logger.With(zap.String("session_id", sessionID))
	cfg.brokerOpts = append(cfg.brokerOpts, broker.WithLogger(cfg.logger))

	runCtx, cancel := context.WithCancel(ctx)

	ch := &Channel{
		events: make(chan broker.Event, eventSinkCapacity),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: cfg.logger,
	}

	b := broker.New(h, cfg.brokerOpts...)

	decoded := make(chan message.Message)
	outbound := make(chan message.Message)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return transport.DecodePump(gctx, d, cfg.logger, decoded)
	})
	g.Go(func() error {
		return pumpIncomingEvents(gctx, decoded, ch.events)
	})
	g.Go(func() error {
		return transport.EncodePump(gctx, d, outbound)
	})
	g.Go(func() error {
		return b.Run(gctx, ch.events, outbound)
	})

	go func() {
		if err := g.Wait(); err != nil {
			cfg.logger.Debug("channel torn down", zap.Error(err))
		}
		cancel()
		_ = d.Close()
		close(ch.done)
	}()

	return ch
}

// pumpIncomingEvents wraps each decoded Message as a broker.Event and
// forwards it to the broker's mailbox.
func pumpIncomingEvents(ctx context.Context, decoded <-chan message.Message, events chan<- broker.Event) error {
	for {
		select {
		case msg, ok := <-decoded:
			if !ok {
				return nil
			}
			select {
			case events <- broker.NewIncomingEvent(msg):
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close injects a Terminate event and cancels the channel's context,
// unblocking every goroutine the channel owns. Pending response
// sequences observe clean closure. Safe to call more than once.
func (ch *Channel) Close() {
	select {
	case ch.events <- broker.NewTerminateEvent():
	case <-ch.done:
	}
	ch.cancel()
}

// Done returns a channel that is closed once the channel has fully torn
// down (all pumps and the broker loop have exited).
func (ch *Channel) Done() <-chan struct{} {
	return ch.done
}

// SendCommand serializes cmd and asks the broker to start a new outbound
// stream for it, returning a lazy sequence of deserialized Resp values.
func SendCommand[Resp any](ctx context.Context, ch *Channel, cmd Command) (*ResponseSeq[Resp], error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, &ErrSerialize{Err: err}
	}

	sink := make(chan json.RawMessage, responseSinkCapacity)
	stopped := make(chan struct{})
	ack := make(chan error, 1)

	select {
	case ch.events <- broker.NewLocalCommandEvent(cmd.Method(), payload, sink, stopped, ack):
	case <-ch.done:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case err := <-ack:
		if err != nil {
			return nil, err
		}
	case <-ch.done:
		return nil, ErrChannelClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return newResponseSeq[Resp](sink, stopped), nil
}
