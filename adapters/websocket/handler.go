package websocket

import (
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"rankboard/realtime"
)

// Handler returns an http.Handler that upgrades to WebSocket and streams
// change notifications from the hub. Viewers use the stream as an
// invalidation signal only; payloads never replace a fetch.
func Handler(hub *realtime.Hub) http.Handler {
	upgrader := gorillaws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		id, ch := hub.Subscribe(256)
		defer hub.Unsubscribe(id)

		for change := range ch {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(gorillaws.TextMessage, realtime.MarshalJSON(change)); err != nil {
				return
			}
		}
	})
}
