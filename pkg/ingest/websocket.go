package ingest

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nicktill/devicepulse/pkg/config"
	"github.com/nicktill/devicepulse/pkg/telemetry"
)

var upgrader = websocket.Upgrader{
	// Devices are not browsers and rarely send Origin. Browsers must be same-origin.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// StreamAck answers one message on the ingest stream
type StreamAck struct {
	SubmitResponse
	Error string `json:"error,omitempty"`
}

// HandleWebSocket handles GET /api/ingest/ws. Each text message is one
// submission; every message gets an ack in order.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(telemetry.MaxPayloadBytes)

	// Create context for managing goroutine lifecycle
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Pings and acks share the connection; gorilla allows one writer at a time
	var writeMu sync.Mutex
	write := func(fn func() error) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
		return fn()
	}

	// Start ping sender to keep connection alive
	go func() {
		ticker := time.NewTicker(config.WSPingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := write(func() error { return conn.WriteMessage(websocket.PingMessage, nil) }); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	log.Printf("Ingest stream opened from %s", r.RemoteAddr)
	var stored int
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		if msgType != websocket.TextMessage {
			continue
		}

		ack := h.ingestMessage(ctx, data)
		if ack.Success {
			stored++
		}
		if err := write(func() error { return conn.WriteJSON(ack) }); err != nil {
			log.Printf("WebSocket write error: %v", err)
			break
		}
	}
	log.Printf("Ingest stream from %s closed after %d records", r.RemoteAddr, stored)
}

func (h *Handler) ingestMessage(ctx context.Context, data []byte) StreamAck {
	sub, err := parseSubmission(data)
	if err == nil {
		ctx, cancel := context.WithTimeout(ctx, config.IngestTimeout)
		defer cancel()

		rec, submitErr := h.Submit(ctx, SourceWebSocket, sub)
		if submitErr == nil {
			return StreamAck{SubmitResponse: SubmitResponse{Success: true, Message: "data saved", ID: rec.ID}}
		}
		err = submitErr
	}
	return StreamAck{
		SubmitResponse: SubmitResponse{Message: "rejected"},
		Error:          err.Error(),
	}
}
