package websocket

import (
	"encoding/json"
	"net/http"

	"github.com/aescanero/msgflow/pkg/domain"
	"github.com/aescanero/msgflow/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// eventBuffer bounds the events queued for one slow client
const eventBuffer = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	eventBus ports.EventBus
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(eventBus ports.EventBus, logger *zap.Logger) *Handler {
	return &Handler{
		eventBus: eventBus,
		logger:   logger,
	}
}

// HandleFlowStream streams the lifecycle events of one session
func (h *Handler) HandleFlowStream(c *gin.Context) {
	sessionID := c.Param("id")

	// Upgrade connection
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("session_id", sessionID),
		zap.String("client", c.ClientIP()))

	eventChan := make(chan domain.EventRecord, eventBuffer)
	unsubscribe := h.subscribe(sessionID, eventChan)
	defer unsubscribe()

	// The read loop only detects the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			h.logger.Debug("WebSocket client disconnected", zap.String("session_id", sessionID))
			return
		case <-c.Request.Context().Done():
			return
		case record := <-eventChan:
			data, err := json.Marshal(record)
			if err != nil {
				h.logger.Error("failed to marshal event", zap.Error(err))
				continue
			}

			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Error("failed to write message", zap.Error(err))
				return
			}
		}
	}
}

// subscribe forwards the session's events to ch and returns the function
// removing the subscriptions
func (h *Handler) subscribe(sessionID string, ch chan<- domain.EventRecord) func() {
	ids := h.eventBus.OnAll(func(event domain.Event) {
		if event.SessionID != sessionID {
			return
		}

		// Non-blocking so a slow client never stalls the flow
		select {
		case ch <- event.Record():
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("session_id", sessionID),
				zap.String("event_type", string(event.Type)))
		}
	})

	return func() {
		for i, id := range ids {
			h.eventBus.Off(domain.EventTypes[i], id)
		}
	}
}
