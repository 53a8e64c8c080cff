package handlers

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/errorpulse/backend/internal/broadcast"
	"github.com/errorpulse/backend/internal/spike"
	"github.com/errorpulse/backend/internal/stats"
	"github.com/errorpulse/backend/internal/storage/models"
	"github.com/errorpulse/backend/pkg/logger"
)

// Client request types accepted over the dashboard socket.
const (
	requestInitialData = "request:initial_data"
	requestStats       = "request:stats"
	requestSpikeCheck  = "request:spike_check"
	requestPing        = "ping"
)

type wsRequest struct {
	Type       string `json:"type"`
	TimeWindow int64  `json:"timeWindow,omitempty"`
	Source     string `json:"source,omitempty"`
	Category   string `json:"category,omitempty"`
}

type WebSocketHandler struct {
	hub        *broadcast.Hub
	store      ErrorStore
	aggregator *stats.Aggregator
	detector   *spike.Detector
}

func NewWebSocketHandler(hub *broadcast.Hub, store ErrorStore, aggregator *stats.Aggregator, detector *spike.Detector) *WebSocketHandler {
	return &WebSocketHandler{
		hub:        hub,
		store:      store,
		aggregator: aggregator,
		detector:   detector,
	}
}

// HandleConnection owns one dashboard subscriber. Frames queued on the
// client's send channel are written by a dedicated goroutine so a broadcast
// never touches the socket from two goroutines.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	client := h.hub.Register()
	defer h.hub.Unregister(client)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for payload := range client.Send {
			if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debug("WebSocket write failed", zap.String("client_id", client.ID), zap.Error(err))
				c.Close()
				return
			}
		}
	}()

	client.Enqueue(broadcast.EventConnectionEstablished, map[string]interface{}{
		"message":   "Connected to ErrorPulse dashboard",
		"timestamp": time.Now().UnixMilli(),
	})

	for {
		var req wsRequest
		if err := c.ReadJSON(&req); err != nil {
			logger.Debug("WebSocket client read ended", zap.String("client_id", client.ID), zap.Error(err))
			break
		}

		switch req.Type {
		case requestInitialData:
			h.sendInitialData(client, req.TimeWindow)
		case requestStats:
			h.sendStats(client, req.TimeWindow)
		case requestSpikeCheck:
			h.sendSpikeCheck(client, req.Source, req.Category)
		case requestPing:
			client.Enqueue(broadcast.EventPong, map[string]interface{}{
				"timestamp": time.Now().UnixMilli(),
			})
		}
	}

	// Unregister now so the closed Send channel ends the writer goroutine;
	// waiting first would deadlock until some later broadcast failed the
	// socket write. The deferred Unregister is then a no-op.
	h.hub.Unregister(client)
	<-done
}

func (h *WebSocketHandler) sendInitialData(client *broadcast.Client, timeWindow int64) {
	if timeWindow <= 0 {
		timeWindow = stats.DefaultWindowMs
	}

	recent, err := h.store.GetRecentErrors(100)
	if err != nil {
		h.sendServerError(client, "Failed to load initial data", err)
		return
	}

	snapshot, err := h.aggregator.Compute(timeWindow)
	if err != nil {
		h.sendServerError(client, "Failed to load initial data", err)
		return
	}

	if recent == nil {
		recent = []models.ErrorEvent{}
	}

	client.Enqueue(broadcast.EventDataInitial, map[string]interface{}{
		"errors":    recent,
		"stats":     snapshot,
		"timestamp": time.Now().UnixMilli(),
	})
}

func (h *WebSocketHandler) sendStats(client *broadcast.Client, timeWindow int64) {
	if timeWindow <= 0 {
		timeWindow = stats.DefaultWindowMs
	}

	snapshot, err := h.aggregator.Compute(timeWindow)
	if err != nil {
		h.sendServerError(client, "Failed to load statistics", err)
		return
	}

	client.Enqueue(broadcast.EventDataStats, map[string]interface{}{
		"stats":     snapshot,
		"timestamp": time.Now().UnixMilli(),
	})
}

func (h *WebSocketHandler) sendSpikeCheck(client *broadcast.Client, source, category string) {
	if source == "" {
		h.sendServerError(client, "Source is required for spike check", nil)
		return
	}

	alert, err := h.detector.Detect(source, category, spike.DefaultMultiplier)
	if err != nil {
		h.sendServerError(client, "Failed to check for spikes", err)
		return
	}

	client.Enqueue(broadcast.EventDataSpikeCheck, alert)
}

func (h *WebSocketHandler) sendServerError(client *broadcast.Client, message string, cause error) {
	detail := "Unknown error"
	if cause != nil {
		detail = cause.Error()
		logger.Error(message, zap.String("client_id", client.ID), zap.Error(cause))
	}

	client.Enqueue(broadcast.EventErrorServer, map[string]interface{}{
		"message": message,
		"error":   detail,
	})
}
