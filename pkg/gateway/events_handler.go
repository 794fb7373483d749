package gateway

import (
	"net/http"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/events"
	"github.com/DeBrosOfficial/hyperdrive/pkg/logging"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Admin API; origin checks are left to the reverse proxy in front of it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventsHandler streams health events as JSON text frames. ?provider=<id>
// narrows the stream to one provider.
func (g *Gateway) eventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		g.logger.ComponentDebug(logging.ComponentGateway, "Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	filter := r.URL.Query().Get("provider")
	evs, unsubscribe := g.mgr.Events().Subscribe(events.DefaultBuffer)
	defer unsubscribe()

	// The read side only serves pongs and notices the client leaving.
	gone := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-g.closing:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(wsWriteWait))
			return
		case ev, ok := <-evs:
			if !ok {
				return
			}
			if filter != "" && ev.Provider != filter {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
