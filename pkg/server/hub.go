package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bizflycloud/crisis-stream/pkg/broker"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// hub tracks connected websocket clients.
type hub struct {
	mu      sync.Mutex
	clients map[string]*client

	logger  *zap.Logger
	metrics *metrics
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newHub(logger *zap.Logger, m *metrics) *hub {
	return &hub{
		clients: make(map[string]*client),
		logger:  logger,
		metrics: m,
	}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.clients.Set(float64(n))
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.clients.Set(float64(n))
	c.close()
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast queues frame for every client and returns how many accepted it.
// A client whose queue is full misses the frame.
func (h *hub) broadcast(frame []byte) int {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	n := 0
	for _, c := range clients {
		select {
		case c.send <- frame:
			n++
		case <-c.done:
		default:
			h.metrics.dropped.Inc()
			h.logger.Warn("client queue full, dropping frame", zap.String("client_id", c.id))
		}
	}
	return n
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()
	h.metrics.clients.Set(0)

	for _, c := range clients {
		c.close()
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Subscribe upgrades the request to a websocket and streams every relayed
// event to it until either side closes.
func (s *Server) Subscribe(w http.ResponseWriter, r *http.Request) {
	var stop <-chan struct{}
	if v := s.valve; v != nil {
		if err := v.Open(); err != nil {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		defer v.Close()
		stop = v.Stop()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, s.queueSize),
		done: make(chan struct{}),
	}
	s.hub.add(c)
	logger := s.logger.With(zap.String("client_id", c.id))
	logger.Info("client connected", zap.String("remote_addr", r.RemoteAddr))

	go s.writePump(c, logger)
	go func() {
		select {
		case <-stop:
			s.hub.remove(c)
		case <-c.done:
		}
	}()

	s.readPump(c)
	s.hub.remove(c)
	logger.Info("client disconnected")
}

func (s *Server) readPump(c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := broker.Decode(data)
		if err != nil {
			continue
		}
		if msg.Type == broker.Ping {
			s.pings.Add(1)
			s.metrics.pings.Inc()
		}
	}
}

func (s *Server) writePump(c *client, logger *zap.Logger) {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug("write to client failed", zap.Error(err))
				s.hub.remove(c)
				return
			}
		}
	}
}
