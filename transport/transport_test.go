package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/minibot/rpc/message"
	"github.com/minibot/rpc/transport"
)

func TestDecodePump_ForwardsDecodedMessages(t *testing.T) {
	a, b := transport.NewPipePair(1)
	into := make(chan message.Message, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- transport.DecodePump(ctx, b, zaptest.NewLogger(t), into) }()

	require.NoError(t, a.WriteText(ctx, `{"type":"end","id":3}`))

	select {
	case msg := <-into:
		id, ok := msg.ID()
		require.True(t, ok)
		assert.Equal(t, uint32(3), id)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decoded message")
	}

	cancel()
	<-errCh
}

func TestDecodePump_DropsUndecodableFrames(t *testing.T) {
	a, b := transport.NewPipePair(1)
	into := make(chan message.Message, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = transport.DecodePump(ctx, b, zaptest.NewLogger(t), into) }()

	require.NoError(t, a.WriteText(ctx, `not json`))
	require.NoError(t, a.WriteText(ctx, `{"type":"end","id":4}`))

	select {
	case msg := <-into:
		id, ok := msg.ID()
		require.True(t, ok)
		assert.Equal(t, uint32(4), id)
	case <-time.After(time.Second):
		t.Fatal("garbage frame should have been dropped, not fatal")
	}
}

func TestDecodePump_PropagatesTransportClosure(t *testing.T) {
	a, b := transport.NewPipePair(0)
	into := make(chan message.Message, 1)

	require.NoError(t, a.Close())

	err := transport.DecodePump(context.Background(), b, nil, into)
	assert.Error(t, err)
}

func TestEncodePump_SerializesAndWrites(t *testing.T) {
	a, b := transport.NewPipePair(1)
	from := make(chan message.Message, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- transport.EncodePump(ctx, a, from) }()

	from <- message.NewEnd(9)

	data, _, err := b.ReadFrame(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"end","id":9}`, data)

	close(from)
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("EncodePump did not exit after its input channel closed")
	}
}
