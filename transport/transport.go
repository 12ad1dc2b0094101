// Package transport realizes the codec bridge (§4.1) and the duplex
// transport boundary (§6) the RPC core consumes: any ordered, reliable,
// message-oriented duplex capable of exchanging UTF-8 text frames.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/minibot/rpc/message"
)

// Duplex is the narrow transport boundary the core requires. WebSocket
// text frames are the canonical realization (see Websocket); Pipe
// provides an in-memory one for tests and same-process embedding.
//
// ReadFrame returns binary=true for frames that carry no text payload;
// the codec bridge drops those silently per §4.1.
type Duplex interface {
	ReadFrame(ctx context.Context) (data string, binary bool, err error)
	WriteText(ctx context.Context, data string) error
	Close() error
}

// ErrClosed is returned by Duplex implementations once the underlying
// transport has been closed, and is what DecodePump/EncodePump propagate
// as the channel's Transport-closed fatal condition (§7).
var ErrClosed = errors.New("transport: closed")

// DecodePump reads frames from d until it fails or ctx is done,
// decoding each text frame as a Message and forwarding it on into. Text
// frames that fail to parse are dropped with a logged warning, not
// treated as fatal (§4.1); binary frames are dropped silently.
func DecodePump(ctx context.Context, d Duplex, logger *zap.Logger, into chan<- message.Message) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for {
		data, binary, err := d.ReadFrame(ctx)
		if err != nil {
			return fmt.Errorf("transport: read: %w", err)
		}
		if binary {
			continue
		}

		var msg message.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			logger.Warn("dropping undecodable frame", zap.Error(err), zap.String("frame", data))
			continue
		}

		select {
		case into <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// EncodePump reads Messages from from until it is closed, ctx is done,
// or a write fails, serializing each to compact JSON and writing it as a
// text frame on d.
func EncodePump(ctx context.Context, d Duplex, from <-chan message.Message) error {
	for {
		select {
		case msg, ok := <-from:
			if !ok {
				return nil
			}
			data, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("transport: encode: %w", err)
			}
			if err := d.WriteText(ctx, string(data)); err != nil {
				return fmt.Errorf("transport: write: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
