package www

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"robolink/status"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWS streams telemetry snapshots. The current snapshot is sent on
// connect, then one frame per feed change; a cleared feed is sent as a
// frame without raw data.
func (h *Handlers) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("www: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-h.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	go h.wsReadPump(conn, cancel)
	go h.wsPing(ctx, conn)

	feed := h.engine.Feed()
	cursor := feed.Subscribe()
	snap, version := feed.Latest()
	for {
		frame := snapshotData{Version: version, View: status.Describe(snap), Raw: snap}
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(frame); err != nil {
			return
		}

		snap, version, err = cursor.Next(ctx)
		if err != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(wsWriteWait))
			return
		}
	}
}

// wsReadPump discards client messages and cancels the stream when the
// client goes away.
func (h *Handlers) wsReadPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("www: websocket read: %v", err)
			}
			return
		}
	}
}

func (h *Handlers) wsPing(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
