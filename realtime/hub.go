package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"rankboard/core"
)

// Hub is a simple pub/sub fanning change notifications out to channel
// subscribers (the directory view, WebSocket viewers).
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan core.Change
	next int
}

func NewHub() *Hub { return &Hub{subs: map[int]chan core.Change{}} }

func (h *Hub) Subscribe(buffer int) (int, <-chan core.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	ch := make(chan core.Change, buffer)
	h.subs[id] = ch
	return id, ch
}

func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

func (h *Hub) Broadcast(_ context.Context, ch core.Change) {
	h.mu.RLock()
	// copy to avoid holding lock during send
	receivers := make([]chan core.Change, 0, len(h.subs))
	for _, sub := range h.subs {
		receivers = append(receivers, sub)
	}
	h.mu.RUnlock()
	for _, sub := range receivers {
		select {
		case sub <- ch:
		default: /* drop if full */
		}
	}
}

// MarshalJSON is a helper to convert changes to JSON bytes for WebSocket/SSE.
func MarshalJSON(ch core.Change) []byte {
	b, _ := json.Marshal(ch)
	return b
}
