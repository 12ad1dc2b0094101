package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minibot/rpc/transport"
)

func TestPipe_WriteThenRead(t *testing.T) {
	a, b := transport.NewPipePair(1)
	ctx := context.Background()

	require.NoError(t, a.WriteText(ctx, `{"type":"end","id":1}`))

	data, binary, err := b.ReadFrame(ctx)
	require.NoError(t, err)
	assert.False(t, binary)
	assert.Equal(t, `{"type":"end","id":1}`, data)
}

func TestPipe_CloseUnblocksPeerRead(t *testing.T) {
	a, b := transport.NewPipePair(0)

	require.NoError(t, a.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, _, err := b.ReadFrame(ctx)
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestPipe_ReadRespectsContext(t *testing.T) {
	a, _ := transport.NewPipePair(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err := a.ReadFrame(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
