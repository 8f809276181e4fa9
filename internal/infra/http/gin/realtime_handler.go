package ginserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"rentchat/internal/app/messaging"
	"rentchat/internal/domain/chat"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// RealtimeHandler streams conversation events over a websocket.
type RealtimeHandler struct {
	Messaging  *messaging.Service
	Subscriber chat.Subscriber
	Logger     *slog.Logger
	Upgrader   websocket.Upgrader
}

// Stream upgrades the request after checking the caller belongs to the
// conversation, then writes every event as a JSON text frame until either
// side goes away.
func (h RealtimeHandler) Stream(c *gin.Context) {
	p, ok := requireParticipant(c)
	if !ok {
		return
	}
	if h.Messaging == nil || h.Subscriber == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime unavailable"})
		return
	}
	conversationID := c.Param("id")
	if _, err := h.Messaging.Conversation(c.Request.Context(), p.ID, conversationID); err != nil {
		respondError(c, h.Logger, err, "load conversation", "conversation_id", conversationID, "participant_id", p.ID)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()
	events, unsubscribe, err := h.Subscriber.Subscribe(ctx, conversationID)
	if err != nil {
		respondError(c, h.Logger, err, "subscribe", "conversation_id", conversationID)
		return
	}
	defer unsubscribe()

	upgrader := h.Upgrader
	if upgrader.CheckOrigin == nil {
		// tokens authenticate the stream, not cookies
		upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Debug("websocket upgrade failed", "error", err)
		}
		return
	}
	defer conn.Close()
	if h.Logger != nil {
		h.Logger.Info("realtime stream opened", "conversation_id", conversationID, "participant_id", p.ID)
	}

	// read pump: only control frames are expected; any error ends the stream
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case event, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

var _ RealtimeHTTP = RealtimeHandler{}
