package broadcast

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/errorpulse/backend/internal/metrics"
	"github.com/errorpulse/backend/pkg/logger"
)

// Broadcast event names consumed by dashboard clients.
const (
	EventConnectionEstablished = "connection:established"
	EventErrorNew              = "error:new"
	EventErrorAIStream         = "error:ai_stream"
	EventErrorAIComplete       = "error:ai_complete"
	EventErrorAIFailed         = "error:ai_failed"
	EventAlertSpike            = "alert:spike"
	EventDataInitial           = "data:initial"
	EventDataStats             = "data:stats"
	EventDataStatsUpdate       = "data:stats_update"
	EventDataSpikeCheck        = "data:spike_check"
	EventErrorsCleared         = "errors:cleared"
	EventErrorServer           = "error:server"
	EventPong                  = "pong"
)

// Envelope is the wire frame for every server-to-client message.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Client is one connected dashboard subscriber. Outbound frames go through
// the buffered Send channel; a dedicated writer goroutine owns the socket
// write side.
type Client struct {
	ID   string
	Send chan []byte
}

// Enqueue serializes an event for this client only. A saturated client
// drops the frame rather than blocking the caller.
func (c *Client) Enqueue(event string, data interface{}) {
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		logger.Error("Failed to marshal client frame", zap.Error(err), zap.String("event", event))
		return
	}
	c.enqueueRaw(event, payload)
}

func (c *Client) enqueueRaw(event string, payload []byte) {
	select {
	case c.Send <- payload:
		metrics.BroadcastFrames.WithLabelValues(event).Inc()
	default:
		metrics.BroadcastDropped.WithLabelValues(event).Inc()
		logger.Warn("Dropping frame for slow client",
			zap.String("client_id", c.ID),
			zap.String("event", event),
		)
	}
}

// Hub fans broadcast frames out to every connected client. Fan-out is
// fire-and-forget: one slow or dead client never delays the rest.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	bufferSize int
}

func NewHub(clientBuffer int) *Hub {
	if clientBuffer <= 0 {
		clientBuffer = 64
	}
	return &Hub{
		clients:    make(map[string]*Client),
		bufferSize: clientBuffer,
	}
}

func (h *Hub) Register() *Client {
	client := &Client{
		ID:   uuid.New().String(),
		Send: make(chan []byte, h.bufferSize),
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	count := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(count))
	logger.Info("Dashboard client connected", zap.String("client_id", client.ID))

	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(count))
	logger.Info("Dashboard client disconnected", zap.String("client_id", client.ID))
}

// Broadcast sends one event to every connected client.
func (h *Hub) Broadcast(event string, data interface{}) {
	payload, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		logger.Error("Failed to marshal broadcast", zap.Error(err), zap.String("event", event))
		return
	}

	// Enqueue while holding the read lock: enqueueRaw never blocks, and
	// Unregister closes Send under the write lock, so fan-out can never
	// race a close and send on a closed channel.
	h.mu.RLock()
	for _, client := range h.clients {
		client.enqueueRaw(event, payload)
	}
	h.mu.RUnlock()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
