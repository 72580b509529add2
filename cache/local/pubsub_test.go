package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvMessage(t *testing.T, ch <-chan *LocalMessage) *LocalMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestPubSub_FanOut(t *testing.T) {
	ps := NewPubSub(8)
	ctx := context.Background()

	ch1, cancel1, err := ps.Subscribe(ctx, "rewards")
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := ps.Subscribe(ctx, "rewards")
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, ps.Publish(ctx, "rewards", "payload"))

	for _, ch := range []<-chan *LocalMessage{ch1, ch2} {
		msg := recvMessage(t, ch)
		assert.Equal(t, "rewards", msg.Channel)
		assert.Equal(t, "payload", msg.Payload)
	}
}

func TestPubSub_ChannelIsolation(t *testing.T) {
	ps := NewPubSub(8)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "a")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "b", "other"))
	require.NoError(t, ps.Publish(ctx, "a", "mine"))

	msg := recvMessage(t, ch)
	assert.Equal(t, "mine", msg.Payload)
}

func TestPubSub_MultiChannelSubscribe(t *testing.T) {
	ps := NewPubSub(8)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "a", "b")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "a", "1"))
	require.NoError(t, ps.Publish(ctx, "b", "2"))

	got := map[string]string{}
	for i := 0; i < 2; i++ {
		msg := recvMessage(t, ch)
		got[msg.Channel] = msg.Payload
	}
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got)
}

func TestPubSub_CancelStopsDelivery(t *testing.T) {
	ps := NewPubSub(8)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "a")
	require.NoError(t, err)
	cancel()

	// The subscriber channel is closed and removed; publishing is a no-op.
	require.NoError(t, ps.Publish(ctx, "a", "late"))
	msg, open := <-ch
	assert.Nil(t, msg)
	assert.False(t, open)
}

func TestPubSub_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	ps := NewPubSub(1)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "a")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "a", "kept"))
	require.NoError(t, ps.Publish(ctx, "a", "dropped"))

	msg := recvMessage(t, ch)
	assert.Equal(t, "kept", msg.Payload)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra message %q", extra.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}
