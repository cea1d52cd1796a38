package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) (*RedisBus, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	b, err := NewRedisBus(mr.Addr(), "")
	require.NoError(t, err)

	return b, mr
}

func TestNewRedisBus(t *testing.T) {
	b, mr := newTestBus(t)
	defer mr.Close()
	defer func() { _ = b.Close() }()

	assert.NotNil(t, b.Client())
	assert.NoError(t, b.Ping(context.Background()))
}

func TestRedisBusPublish(t *testing.T) {
	b, mr := newTestBus(t)
	defer mr.Close()
	defer func() { _ = b.Close() }()

	ctx := context.Background()
	channelId := "tenant-a:room-1"

	sub := b.Client().Subscribe(ctx, channelName(channelId))
	defer func() { _ = sub.Close() }()
	time.Sleep(50 * time.Millisecond)

	err := b.Publish(ctx, channelId, "roomLockChanged", map[string]bool{"locked": true}, "sender-1")
	assert.NoError(t, err)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var envelope PubSubPayload
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &envelope))
	assert.Equal(t, channelId, envelope.ChannelId)
	assert.Equal(t, "roomLockChanged", envelope.Event)
	assert.Equal(t, "sender-1", envelope.SenderId)
}

func TestRedisBusSubscribe(t *testing.T) {
	b, mr := newTestBus(t)
	defer mr.Close()
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channelId := "tenant-a:room-sub"
	wg := &sync.WaitGroup{}
	received := make(chan PubSubPayload, 1)

	b.Subscribe(ctx, channelId, wg, func(p PubSubPayload) { received <- p })
	time.Sleep(50 * time.Millisecond)

	payload := PubSubPayload{ChannelId: channelId, Event: "hostChanged", SenderId: "sender-2"}
	bytes, _ := json.Marshal(payload)
	b.Client().Publish(ctx, channelName(channelId), bytes)

	select {
	case p := <-received:
		assert.Equal(t, "hostChanged", p.Event)
		assert.Equal(t, "sender-2", p.SenderId)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}

	cancel()
	wg.Wait()
}

func TestRedisBusSetOperations(t *testing.T) {
	b, mr := newTestBus(t)
	defer mr.Close()
	defer func() { _ = b.Close() }()

	ctx := context.Background()
	key := "sfu:owners:tenant-a:room-1"

	require.NoError(t, b.SetAdd(ctx, key, "pod-1"))
	require.NoError(t, b.SetAdd(ctx, key, "pod-2"))

	members, err := b.SetMembers(ctx, key)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pod-1", "pod-2"}, members)

	require.NoError(t, b.SetRem(ctx, key, "pod-1"))
	members, err = b.SetMembers(ctx, key)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pod-2"}, members)
}

func TestRedisBusGracefulDegradation(t *testing.T) {
	b, mr := newTestBus(t)
	mr.Close()

	ctx := context.Background()
	assert.Error(t, b.Ping(ctx))

	for i := 0; i < 10; i++ {
		_ = b.Publish(ctx, "tenant-a:room-1", "event", map[string]string{}, "sender")
	}
	// Graceful degradation: never panics, either drops silently (breaker
	// open) or returns the underlying connection error.
	_ = b.Publish(ctx, "tenant-a:room-1", "event", map[string]string{}, "sender")
}

func TestNilRedisBusIsNoOp(t *testing.T) {
	var b *RedisBus
	ctx := context.Background()

	assert.NoError(t, b.Publish(ctx, "c", "e", nil, ""))
	assert.NoError(t, b.Ping(ctx))
	assert.NoError(t, b.Close())
	assert.NoError(t, b.SetAdd(ctx, "k", "m"))
	members, err := b.SetMembers(ctx, "k")
	assert.NoError(t, err)
	assert.Nil(t, members)
}
