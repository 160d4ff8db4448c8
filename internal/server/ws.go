package server

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agent-central/central/internal/registry"
)

// Hub pushes session snapshots to websocket subscribers on a fixed
// cadence. Slow or broken clients are dropped, never waited on.
type Hub struct {
	reg *registry.Registry

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

type wsMessage struct {
	Type     string        `json:"type"`
	Sessions []sessionView `json:"sessions"`
	Total    int64         `json:"total_sessions"`
	SentAt   time.Time     `json:"sent_at"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     allowOrigin,
}

// allowOrigin admits same-host browsers and non-browser clients that
// send no Origin header.
func allowOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil || originURL.Host == "" {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}

func newHub(reg *registry.Registry) *Hub {
	return &Hub{
		reg:   reg,
		conns: make(map[*websocket.Conn]struct{}),
	}
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Immediate snapshot so a new subscriber isn't blank until the
	// next broadcast. Sent before the conn joins the broadcast set:
	// gorilla connections allow one writer at a time, and after
	// registration that writer is the hub goroutine.
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(h.buildMessage()); err != nil {
		conn.Close()
		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	// Drain reads; the feed is one-way and an error means the client
	// went away.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) run(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *Hub) buildMessage() wsMessage {
	sessions := h.reg.Snapshot()
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, viewOf(s))
	}
	return wsMessage{
		Type:     "sessions",
		Sessions: views,
		Total:    h.reg.TotalCreated(),
		SentAt:   time.Now(),
	}
}

func (h *Hub) broadcast() {
	h.mu.Lock()
	if len(h.conns) == 0 {
		h.mu.Unlock()
		return
	}
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	msg := h.buildMessage()
	for _, c := range conns {
		h.send(c, msg)
	}
}

func (h *Hub) send(conn *websocket.Conn, msg wsMessage) {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(msg); err != nil {
		h.drop(conn)
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.conns[conn]
	delete(h.conns, conn)
	h.mu.Unlock()

	if ok {
		conn.Close()
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second)); err != nil {
			log.Printf("ws: close: %v", err)
		}
		c.Close()
	}
}
