package rpc_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minibot/rpc"
	"github.com/minibot/rpc/cancel"
	"github.com/minibot/rpc/handler"
	"github.com/minibot/rpc/transport"
)

const testTimeout = 2 * time.Second

type echoCmd struct {
	Value string `json:"value"`
}

func (echoCmd) Method() string { return "echo" }

type echoResp struct {
	Value string `json:"value"`
}

// echoServerHandler replies once with whatever payload it was given, then
// ends the stream.
func echoServerHandler() handler.CommandHandler {
	return handler.Func(func(method string, payload json.RawMessage, out chan<- json.RawMessage, token cancel.Token) error {
		if method != "echo" {
			return handler.ErrUnknownMethod
		}
		go func() {
			defer close(out)
			select {
			case out <- payload:
			case <-token.Done():
			}
		}()
		return nil
	})
}

func nullHandler() handler.CommandHandler {
	return handler.Func(func(method string, payload json.RawMessage, out chan<- json.RawMessage, token cancel.Token) error {
		return handler.ErrUnknownMethod
	})
}

func newChannelPair(t *testing.T, clientHandler, serverHandler handler.CommandHandler) (client, server *rpc.Channel) {
	t.Helper()
	ctx := context.Background()
	a, b := transport.NewPipePair(16)
	client = rpc.New(ctx, a, clientHandler)
	server = rpc.New(ctx, b, serverHandler)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestChannel_SendCommand_TypedRoundTrip(t *testing.T) {
	client, _ := newChannelPair(t, nullHandler(), echoServerHandler())

	ctx, cancelFn := context.WithTimeout(context.Background(), testTimeout)
	defer cancelFn()

	seq, err := rpc.SendCommand[echoResp](ctx, client, echoCmd{Value: "hello"})
	require.NoError(t, err)

	got, err := seq.Collect(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Value)
}

func TestChannel_SendCommand_MultipleConcurrentStreams(t *testing.T) {
	client, _ := newChannelPair(t, nullHandler(), echoServerHandler())

	ctx, cancelFn := context.WithTimeout(context.Background(), testTimeout)
	defer cancelFn()

	seqA, err := rpc.SendCommand[echoResp](ctx, client, echoCmd{Value: "a"})
	require.NoError(t, err)
	seqB, err := rpc.SendCommand[echoResp](ctx, client, echoCmd{Value: "b"})
	require.NoError(t, err)

	gotA, err := seqA.Collect(ctx)
	require.NoError(t, err)
	gotB, err := seqB.Collect(ctx)
	require.NoError(t, err)

	require.Len(t, gotA, 1)
	require.Len(t, gotB, 1)
	assert.Equal(t, "a", gotA[0].Value)
	assert.Equal(t, "b", gotB[0].Value)
}

func TestChannel_Close_FailsFutureSends(t *testing.T) {
	client, server := newChannelPair(t, nullHandler(), echoServerHandler())

	client.Close()
	server.Close()

	select {
	case <-client.Done():
	case <-time.After(testTimeout):
		t.Fatal("channel did not tear down after Close")
	}

	ctx, cancelFn := context.WithTimeout(context.Background(), testTimeout)
	defer cancelFn()

	_, err := rpc.SendCommand[echoResp](ctx, client, echoCmd{Value: "x"})
	assert.ErrorIs(t, err, rpc.ErrChannelClosed)
}

func TestChannel_PeerRejectsUnknownMethod_TearsDownBothSides(t *testing.T) {
	client, server := newChannelPair(t, nullHandler(), nullHandler())

	ctx, cancelFn := context.WithTimeout(context.Background(), testTimeout)
	defer cancelFn()

	seq, err := rpc.SendCommand[echoResp](ctx, client, echoCmd{Value: "x"})
	require.NoError(t, err)

	// The server reports the rejection as an error frame, which is fatal
	// to its own channel; the client's broker tears down in turn once it
	// sees that frame, so the response sequence simply observes clean
	// closure rather than surfacing the error itself.
	got, err := seq.Collect(ctx)
	assert.NoError(t, err)
	assert.Empty(t, got)

	select {
	case <-server.Done():
	case <-time.After(testTimeout):
		t.Fatal("server channel did not tear down after rejecting unknown method")
	}
	select {
	case <-client.Done():
	case <-time.After(testTimeout):
		t.Fatal("client channel did not tear down once peer closed the transport")
	}
}

func TestChannel_ResponseSeq_CloseIsIdempotent(t *testing.T) {
	client, _ := newChannelPair(t, nullHandler(), echoServerHandler())

	ctx, cancelFn := context.WithTimeout(context.Background(), testTimeout)
	defer cancelFn()

	seq, err := rpc.SendCommand[echoResp](ctx, client, echoCmd{Value: "once"})
	require.NoError(t, err)

	seq.Close()
	seq.Close() // idempotent
}
