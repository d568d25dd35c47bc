package web

import (
	"sync"

	"github.com/granasat/gopwmbox/pwmbox"
)

// Hub fans out session progress messages to websocket subscribers.
// Slow subscribers miss messages rather than stall the session.
type Hub struct {
	sync.Mutex
	subs map[chan pwmbox.SyncMessage]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan pwmbox.SyncMessage]struct{})}
}

// Publish is meant to be passed to pwmbox.WithProgress.
func (h *Hub) Publish(m pwmbox.SyncMessage) {
	h.Lock()
	defer h.Unlock()
	for ch := range h.subs {
		select {
		case ch <- m:
		default:
		}
	}
}

func (h *Hub) Subscribe() chan pwmbox.SyncMessage {
	ch := make(chan pwmbox.SyncMessage, 64)
	h.Lock()
	h.subs[ch] = struct{}{}
	h.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan pwmbox.SyncMessage) {
	h.Lock()
	delete(h.subs, ch)
	h.Unlock()
}
