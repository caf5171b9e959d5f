package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mlplatform/backend/internal/fanout"
)

// WSHandler serves the live event stream over WebSocket.
type WSHandler struct {
	logger   *slog.Logger
	hub      *fanout.Hub
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler instance
func NewWSHandler(deps *Dependencies) *WSHandler {
	return &WSHandler{
		logger: deps.Logger,
		hub:    deps.Hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin enforcement belongs to the edge proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// wsInbound is the envelope clients send; only the type is inspected.
type wsInbound struct {
	Type string `json:"type"`
}

// wsControl is a protocol-level reply (welcome, pong, error).
type wsControl struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Stream handles GET /api/v1/ws
// Upgrades the connection, subscribes the owner to the hub and relays events
// until the client disconnects.
func (h *WSHandler) Stream(c *gin.Context) {
	ownerID := c.GetString(OwnerKey)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed",
			slog.String("owner_id", ownerID),
			slog.String("error", err.Error()),
		)
		return
	}

	sub := h.hub.Subscribe(ownerID)
	defer sub.Close()

	h.logger.Info("WebSocket connected",
		slog.String("owner_id", ownerID),
	)

	// All writes go through one goroutine; gorilla connections allow a
	// single concurrent writer.
	replies := make(chan wsControl, 8)
	done := make(chan struct{})
	writerStopped := make(chan struct{})

	go func() {
		defer close(writerStopped)
		defer conn.Close()

		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case ctl := <-replies:
				if err := conn.WriteJSON(ctl); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	replies <- wsControl{
		Type:    fanout.TypeConnectionEstablished,
		Message: fmt.Sprintf("Connected for user %s", ownerID),
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var in wsInbound
		if err := json.Unmarshal(raw, &in); err != nil {
			h.sendReply(replies, done, wsControl{
				Type:    fanout.TypeError,
				Message: "Invalid JSON",
			})
			continue
		}

		switch in.Type {
		case "ping":
			h.sendReply(replies, done, wsControl{
				Type:    fanout.TypePong,
				Message: "connection alive",
			})
		default:
			h.sendReply(replies, done, wsControl{
				Type:    fanout.TypeError,
				Message: fmt.Sprintf("Unknown message type: %s", in.Type),
			})
		}
	}

	close(done)
	<-writerStopped

	h.logger.Info("WebSocket disconnected",
		slog.String("owner_id", ownerID),
	)
}

func (h *WSHandler) sendReply(replies chan<- wsControl, done <-chan struct{}, ctl wsControl) {
	select {
	case replies <- ctl:
	case <-done:
	}
}
