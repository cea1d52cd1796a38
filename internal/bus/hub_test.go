package bus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSocket struct {
	id         string
	mu         sync.Mutex
	received   []string
	disconnect bool
}

func (f *fakeSocket) Id() string { return f.id }

func (f *fakeSocket) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, event)
	return nil
}

func (f *fakeSocket) Disconnect(closeImmediate bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnect = true
}

func (f *fakeSocket) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.received))
	copy(out, f.received)
	return out
}

func TestHubSendToChannelFanOut(t *testing.T) {
	hub := NewHub(nil)
	a := &fakeSocket{id: "a"}
	b := &fakeSocket{id: "b"}
	hub.RegisterSocket("tenant:room", a)
	hub.RegisterSocket("tenant:room", b)

	require.NoError(t, hub.SendToChannel(context.Background(), "tenant:room", "roomLockChanged", nil))

	assert.Equal(t, []string{"roomLockChanged"}, a.events())
	assert.Equal(t, []string{"roomLockChanged"}, b.events())
}

func TestHubUnregisterSocketStopsDelivery(t *testing.T) {
	hub := NewHub(nil)
	a := &fakeSocket{id: "a"}
	hub.RegisterSocket("tenant:room", a)
	hub.UnregisterSocket("tenant:room", a)

	require.NoError(t, hub.SendToChannel(context.Background(), "tenant:room", "noGuestsChanged", nil))
	assert.Empty(t, a.events())
}

func TestHubSendToSocketBypassesChannel(t *testing.T) {
	hub := NewHub(nil)
	a := &fakeSocket{id: "a"}

	require.NoError(t, hub.SendToSocket(a, "joinApproved", nil))
	assert.Equal(t, []string{"joinApproved"}, a.events())
}

func TestHubDisconnectChannel(t *testing.T) {
	hub := NewHub(nil)
	a := &fakeSocket{id: "a"}
	b := &fakeSocket{id: "b"}
	hub.RegisterSocket("tenant:room", a)
	hub.RegisterSocket("tenant:room", b)

	hub.DisconnectChannel("tenant:room", true)

	assert.True(t, a.disconnect)
	assert.True(t, b.disconnect)
}

func TestHubSendToChannelDeliversAllUnderConcurrentSends(t *testing.T) {
	hub := NewHub(nil)
	a := &fakeSocket{id: "a"}
	hub.RegisterSocket("tenant:room", a)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = hub.SendToChannel(context.Background(), "tenant:room", "policyUpdate", n)
		}(i)
	}
	wg.Wait()

	assert.Len(t, a.events(), 20)
}
