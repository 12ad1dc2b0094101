// Package handler declares the plug-in contract the broker invokes for
// every remote-initiated command.
package handler

import (
	"encoding/json"
	"errors"

	"github.com/minibot/rpc/cancel"
)

// ErrUnknownMethod is the only structured error a CommandHandler may
// return from StartCommand. The broker treats it as fatal to the whole
// channel (§7 of the design: a contract mismatch, not a transient fault).
var ErrUnknownMethod = errors.New("handler: unknown method")

// UnknownMethodWireText is the text the broker puts on the wire inside
// the error frame's "error" field when StartCommand returns
// ErrUnknownMethod (spec.md §8 scenario 2). It is kept separate from
// ErrUnknownMethod's own Error() string, which stays idiomatic Go
// (lower-case, package-prefixed) for callers comparing errors with
// errors.Is on the Go side.
const UnknownMethodWireText = "Unknown method"

// CommandHandler services incoming commands. Implementations are
// injected at channel construction and are treated as a single-method
// capability rather than a class hierarchy.
type CommandHandler interface {
	// StartCommand must return synchronously: it must not block on
	// network or disk I/O. Long-running work should be launched as a
	// goroutine that owns out and token for its own lifetime.
	//
	// The implementation must eventually close out (directly, or by
	// returning from the goroutine that owns it) to signal "no more
	// responses". It should observe token.Done() and stop promptly when
	// it fires, but is not required to.
	//
	// Returning ErrUnknownMethod is the only case where out must not
	// have been used; any other error is the handler's own business to
	// surface as a response or swallow.
	StartCommand(method string, payload json.RawMessage, out chan<- json.RawMessage, token cancel.Token) error
}

// Func adapts a plain function to the CommandHandler interface.
type Func func(method string, payload json.RawMessage, out chan<- json.RawMessage, token cancel.Token) error

// StartCommand implements CommandHandler.
func (f Func) StartCommand(method string, payload json.RawMessage, out chan<- json.RawMessage, token cancel.Token) error {
	return f(method, payload, out, token)
}
