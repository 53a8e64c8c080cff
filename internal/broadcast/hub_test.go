package broadcast

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(4)

	a := hub.Register()
	b := hub.Register()
	assert.Equal(t, 2, hub.ClientCount())
	assert.NotEqual(t, a.ID, b.ID)

	hub.Unregister(a)
	assert.Equal(t, 1, hub.ClientCount())

	// Unregistering twice is harmless.
	hub.Unregister(a)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestUnregisterClosesSendChannel(t *testing.T) {
	hub := NewHub(4)
	client := hub.Register()

	hub.Unregister(client)

	_, open := <-client.Send
	assert.False(t, open)
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub := NewHub(4)
	a := hub.Register()
	b := hub.Register()

	hub.Broadcast(EventErrorNew, map[string]interface{}{"id": 7})

	for _, client := range []*Client{a, b} {
		payload := <-client.Send

		var envelope Envelope
		require.NoError(t, json.Unmarshal(payload, &envelope))
		assert.Equal(t, EventErrorNew, envelope.Event)
	}
}

func TestBroadcastEnvelopeShape(t *testing.T) {
	hub := NewHub(4)
	client := hub.Register()

	hub.Broadcast(EventAlertSpike, map[string]interface{}{"source": "api"})

	payload := <-client.Send

	var envelope struct {
		Event string                 `json:"event"`
		Data  map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(payload, &envelope))
	assert.Equal(t, EventAlertSpike, envelope.Event)
	assert.Equal(t, "api", envelope.Data["source"])
}

func TestBroadcastDropsFramesForSaturatedClient(t *testing.T) {
	hub := NewHub(1)
	client := hub.Register()

	// Buffer of one: the second frame must be dropped, not block.
	hub.Broadcast(EventErrorNew, 1)
	hub.Broadcast(EventErrorNew, 2)

	assert.Len(t, client.Send, 1)
}

func TestBroadcastWithNoClients(t *testing.T) {
	hub := NewHub(4)

	assert.NotPanics(t, func() {
		hub.Broadcast(EventDataStatsUpdate, nil)
	})
}

func TestEnqueueTargetsSingleClient(t *testing.T) {
	hub := NewHub(4)
	a := hub.Register()
	b := hub.Register()

	a.Enqueue(EventPong, nil)

	assert.Len(t, a.Send, 1)
	assert.Len(t, b.Send, 0)
}

func TestBroadcastDuringClientChurn(t *testing.T) {
	hub := NewHub(1)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					hub.Broadcast(EventErrorNew, 1)
				}
			}
		}()
	}

	// Clients connecting and disconnecting under continuous broadcast
	// traffic must never see a send on their closed channel.
	for i := 0; i < 500; i++ {
		client := hub.Register()
		hub.Unregister(client)
	}

	close(stop)
	wg.Wait()
	assert.Zero(t, hub.ClientCount())
}

func TestUnregisterTerminatesDrainingConsumer(t *testing.T) {
	hub := NewHub(4)
	client := hub.Register()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range client.Send {
		}
	}()

	hub.Broadcast(EventErrorNew, 1)
	hub.Unregister(client)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer still draining after unregister closed the channel")
	}
}

func TestNewHubDefaultsBuffer(t *testing.T) {
	hub := NewHub(0)
	client := hub.Register()

	assert.Equal(t, 64, cap(client.Send))
}
