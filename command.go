package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Command is implemented by typed requests passed to SendCommand. Method
// names the remote operation the payload (the serialized Command itself)
// should be dispatched to.
type Command interface {
	Method() string
}

// ResponseSeq is the lazy, single-pass sequence of deserialized response
// values described in §4.7/§9: a finite sequence that ends cleanly on the
// peer's end frame, or ends with an error on the first deserialization
// failure.
type ResponseSeq[R any] struct {
	raw     <-chan json.RawMessage
	stopped chan struct{}
	once    sync.Once
	err     error
}

func newResponseSeq[R any](raw <-chan json.RawMessage, stopped chan struct{}) *ResponseSeq[R] {
	return &ResponseSeq[R]{raw: raw, stopped: stopped}
}

// Next blocks for the next response. ok is false when the sequence has
// ended, either because the stream completed (err is nil) or because
// deserialization failed (err is non-nil) or ctx was done (err is
// ctx.Err()).
func (s *ResponseSeq[R]) Next(ctx context.Context) (value R, ok bool, err error) {
	if s.err != nil {
		return value, false, s.err
	}
	select {
	case data, open := <-s.raw:
		if !open {
			return value, false, nil
		}
		if err := json.Unmarshal(data, &value); err != nil {
			s.err = fmt.Errorf("rpc: deserialize response: %w", err)
			s.Close()
			return value, false, s.err
		}
		return value, true, nil
	case <-ctx.Done():
		return value, false, ctx.Err()
	}
}

// Close signals that the caller has lost interest in further responses.
// The broker observes this and emits a cancel frame for the underlying
// stream to the peer (§4.3's draining-placeholder behavior), then keeps
// draining silently until the peer's end frame frees the id. Close is
// idempotent and safe to call even after the sequence has ended
// naturally.
func (s *ResponseSeq[R]) Close() {
	s.once.Do(func() { close(s.stopped) })
}

// Collect drains the sequence into a slice, stopping at the first error
// (which it returns alongside whatever was collected so far).
func (s *ResponseSeq[R]) Collect(ctx context.Context) ([]R, error) {
	var out []R
	for {
		v, ok, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}
