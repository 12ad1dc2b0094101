// Package cancel implements the handle/token cancellation primitive used
// to signal "no more interest" in a stream without terminating its
// producer outright.
package cancel

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is returned by Race when the token fires before the raced
// operation completes.
var ErrCancelled = errors.New("cancel: operation was cancelled")

// Handle is the producer side of a cancellation pair. The zero value is
// not usable; obtain one from Pair.
//
// The token fires only when Cancel is called. A Handle that is dropped
// without a call to Cancel or Ignore does not fire its token. Call Ignore
// explicitly to promise the token will never fire.
type Handle struct {
	once    sync.Once
	done    chan struct{}
	ignored bool
}

// Token is the consumer side of a cancellation pair. A Token fires
// (Done's channel closes) if and only if the matching Handle is
// cancelled; it never fires if the Handle is ignored.
type Token struct {
	done chan struct{}
}

// Pair creates a new Handle/Token pair.
func Pair() (*Handle, Token) {
	h := &Handle{done: make(chan struct{})}
	return h, Token{done: h.done}
}

// Ignored returns a Token that will never be cancelled.
func Ignored() Token {
	return Token{done: nil}
}

// Cancel fires the token. Safe to call more than once or concurrently;
// only the first call has any effect.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		close(h.done)
	})
}

// Ignore permanently disarms the handle: the token will never be
// cancelled, even though the handle is otherwise dropped.
func (h *Handle) Ignore() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.ignored = true
	})
}

// Done returns the channel that closes when the token is cancelled. A
// nil channel (from Ignored) blocks forever, which is the desired
// behavior in a select.
func (t Token) Done() <-chan struct{} {
	return t.done
}

// Cancelled reports whether the token has already fired. Safe to poll
// repeatedly.
func (t Token) Cancelled() bool {
	if t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the token fires or ctx is done, whichever comes
// first. It returns ctx.Err() if ctx finishes first.
func (t Token) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Race runs fn to completion unless the token fires first, in which case
// Race returns the zero value of R and ErrCancelled without waiting for
// fn. fn continues running in its own goroutine; callers whose fn has
// side effects that must not outlive cancellation should also select on
// the token from inside fn.
func Race[R any](t Token, fn func() R) (R, error) {
	if t.done == nil {
		return fn(), nil
	}
	resultCh := make(chan R, 1)
	go func() {
		resultCh <- fn()
	}()
	select {
	case r := <-resultCh:
		return r, nil
	case <-t.done:
		var zero R
		return zero, ErrCancelled
	}
}

// RaceOrDefault is Race's non-error-returning counterpart: it yields def
// immediately if the token fires before fn completes.
func RaceOrDefault[R any](t Token, def R, fn func() R) R {
	r, err := Race(t, fn)
	if err != nil {
		return def
	}
	return r
}
