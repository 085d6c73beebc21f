package proxy

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	"github.com/AbdullahTarakji/tokencost/internal/monitoring"
)

// liveWriteTimeout bounds a single broadcast write per subscriber. A slow
// subscriber is dropped rather than allowed to stall the hub.
const liveWriteTimeout = 5 * time.Second

// liveHub fans metered-record events out to WebSocket subscribers on /live.
type liveHub struct {
	mu   sync.Mutex
	subs map[*websocket.Conn]struct{}
}

func newLiveHub() *liveHub {
	return &liveHub{subs: make(map[*websocket.Conn]struct{})}
}

// handleLive upgrades the connection and keeps it open until the client
// goes away. Events arrive via broadcast; the read loop only consumes
// control frames.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Debug().Err(err).Msg("live feed upgrade failed")
		return
	}

	s.live.add(conn)
	defer s.live.remove(conn)

	// Block until the peer closes or errors. Reads discard any client
	// payloads; the feed is one-way.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func (h *liveHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[conn] = struct{}{}
}

func (h *liveHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[conn]; ok {
		delete(h.subs, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}
}

// broadcast delivers one event to every subscriber. Write failures evict
// the subscriber.
func (h *liveHub) broadcast(ev *monitoring.MeterEvent) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.subs))
	for c := range h.subs {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), liveWriteTimeout)
		err := wsjson.Write(ctx, c, ev)
		cancel()
		if err != nil {
			h.remove(c)
		}
	}
}
