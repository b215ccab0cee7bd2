package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polaris-sync/polaris/internal/object"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hint is the push notification emitted after a transform commits. Loss is
// safe: devices treat it as an early wake-up and polling remains the ground
// truth.
type Hint struct {
	Root     object.SID `json:"root"`
	ChangeID uint64     `json:"change_id"`
}

type subscriber struct {
	conn *websocket.Conn
	root object.SID
	send chan []byte
}

// Hub fans out change hints to websocket subscribers, one subscription per
// store. Slow subscribers are dropped rather than allowed to block commits.
type Hub struct {
	mu   sync.RWMutex
	subs map[*subscriber]bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]bool)}
}

// Publish sends a hint to every subscriber of root. Never blocks.
func (h *Hub) Publish(root object.SID, changeID uint64) {
	msg, err := json.Marshal(Hint{Root: root, ChangeID: changeID})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.root != root {
			continue
		}
		select {
		case sub.send <- msg:
		default:
			// Buffer full; the subscriber catches up via polling.
		}
	}
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	h.subs[sub] = true
	h.mu.Unlock()
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	if h.subs[sub] {
		delete(h.subs, sub)
		close(sub.send)
	}
	h.mu.Unlock()
}

// ServeHTTP upgrades GET /notifications?root=<sid> to a websocket that
// receives Hint messages for that store.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	root := object.SID(r.URL.Query().Get("root"))
	if root == "" {
		http.Error(w, "missing root", http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("notifications: upgrade: %v", err)
		return
	}
	sub := &subscriber{conn: conn, root: root, send: make(chan []byte, 64)}
	h.add(sub)
	go sub.writePump(h)
	go sub.readPump(h)
}

func (s *subscriber) writePump(h *Hub) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so pings/pongs and close frames are
// processed; subscribers send nothing meaningful upstream.
func (s *subscriber) readPump(h *Hub) {
	defer func() {
		h.remove(s)
		s.conn.Close()
	}()
	s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
