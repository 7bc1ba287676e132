package statusfeed

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 2 * time.Second

type subscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
	sent uint64
}

// write sends data unless the subscriber already has seq or something newer.
func (s *subscriber) write(seq uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.sent {
		return nil
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	s.sent = seq
	return nil
}

// Hub fans status updates out to websocket subscribers. New subscribers get
// the latest update first.
//
// Publish never waits on the network: it records the update and wakes a single
// broadcaster goroutine, which always sends the newest update. A subscriber
// that falls behind skips intermediate updates.
type Hub struct {
	subscribers map[uint64]*subscriber
	upgrader    websocket.Upgrader
	last        []byte
	seq         uint64
	nextID      uint64
	mu          sync.Mutex

	wake      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewHub creates a hub with no subscribers and starts its broadcaster.
func NewHub() *Hub {
	h := &Hub{
		subscribers: make(map[uint64]*subscriber),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	h.wg.Add(1)
	go h.run()
	return h
}

// Publish encodes v as JSON and makes it the latest update. Delivery happens
// in the background.
func (h *Hub) Publish(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.seq++
	h.last = data
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
	return nil
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case <-h.wake:
			h.broadcast()
		}
	}
}

func (h *Hub) broadcast() {
	h.mu.Lock()
	seq, data := h.seq, h.last
	subs := make(map[uint64]*subscriber, len(h.subscribers))
	for id, sub := range h.subscribers {
		subs[id] = sub
	}
	h.mu.Unlock()

	for id, sub := range subs {
		if err := sub.write(seq, data); err != nil {
			log.Printf("[statusfeed] failed to send update to subscriber %d: %v", id, err)
			h.remove(id)
		}
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// ServeHTTP upgrades the request and streams updates until the peer goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[statusfeed] upgrade failed: %v", err)
		return
	}

	// The latest update must go out before anything the broadcaster sends.
	sub := &subscriber{conn: conn}
	sub.mu.Lock()
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	seq, last := h.seq, h.last
	h.subscribers[id] = sub
	h.mu.Unlock()

	if last != nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err = conn.WriteMessage(websocket.TextMessage, last)
	}
	sub.sent = seq
	sub.mu.Unlock()
	if err != nil {
		h.remove(id)
		return
	}

	// Subscribers only listen; reading keeps control frames flowing and
	// notices the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(id)
			return
		}
	}
}

// Close stops the broadcaster and disconnects every subscriber.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
	h.wg.Wait()

	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = make(map[uint64]*subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		sub.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		sub.conn.Close()
		sub.mu.Unlock()
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscribers[id]
	delete(h.subscribers, id)
	h.mu.Unlock()
	if ok {
		sub.conn.Close()
	}
}
