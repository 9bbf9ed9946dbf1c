package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/valve"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bizflycloud/crisis-stream/pkg/broker"
)

const (
	defaultQueueSize       = 64
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 20 * time.Second
	maxEventSize           = 1 << 20
)

// ErrReservedTopic is returned when a publisher uses the keep-alive topic.
var ErrReservedTopic = errors.New("reserved topic")

// Server is the crisis event hub: websocket clients receive every event
// published over HTTP or by the demo feed.
type Server struct {
	Addr            string
	router          *chi.Mux
	backplane       Backplane
	hub             *hub
	feed            *feed
	metrics         *metrics
	useUnixSock     bool
	queueSize       int
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	valve           *valve.Valve

	published atomic.Int64
	delivered atomic.Int64
	pings     atomic.Int64

	mu     sync.Mutex
	topics map[string]int64

	// signal chan use for testing.
	testSignalCh chan os.Signal

	logger *zap.Logger
}

// Stats is the body of GET /stats.
type Stats struct {
	Clients   int              `json:"clients" yaml:"clients"`
	Published int64            `json:"published" yaml:"published"`
	Delivered int64            `json:"delivered" yaml:"delivered"`
	Pings     int64            `json:"pings" yaml:"pings"`
	Topics    map[string]int64 `json:"topics" yaml:"topics"`
}

// New creates new server instance.
func New(opts ...Option) (*Server, error) {
	s := &Server{
		queueSize:       defaultQueueSize,
		writeTimeout:    defaultWriteTimeout,
		shutdownTimeout: defaultShutdownTimeout,
		topics:          make(map[string]int64),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		s.logger = l
	}
	if s.backplane == nil {
		s.backplane = NewMemoryBackplane()
	}

	s.metrics = newMetrics()
	s.hub = newHub(s.logger, s.metrics)
	s.router = chi.NewRouter()
	s.setupRoutes()
	s.useUnixSock = strings.HasPrefix(s.Addr, "unix://")
	s.Addr = strings.TrimPrefix(s.Addr, "unix://")

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Get("/ws", s.Subscribe)
	s.router.Post("/events", s.Publish)
	s.router.Get("/stats", s.GetStats)
	s.router.Get("/healthz", s.Health)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.handler())
}

// Handler returns the hub routes, for mounting or for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Publish accepts one event frame and relays it to every connected client.
func (s *Server) Publish(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	msg, err := broker.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if msg.Type == broker.Ping {
		writeError(w, http.StatusBadRequest, ErrReservedTopic)
		return
	}
	if err := s.publish(r.Context(), msg); err != nil {
		s.logger.Error("failed to publish event", zap.String("topic", msg.Type), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GetStats writes the hub counters.
func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Stats())
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Stats returns a snapshot of the hub counters.
func (s *Server) Stats() Stats {
	st := Stats{
		Clients:   s.hub.count(),
		Published: s.published.Load(),
		Delivered: s.delivered.Load(),
		Pings:     s.pings.Load(),
		Topics:    make(map[string]int64),
	}
	s.mu.Lock()
	for topic, n := range s.topics {
		st.Topics[topic] = n
	}
	s.mu.Unlock()
	return st
}

func (s *Server) publish(ctx context.Context, msg broker.Message) error {
	frame, err := broker.Encode(msg.Type, msg.Payload)
	if err != nil {
		return err
	}
	if err := s.backplane.Publish(ctx, frame); err != nil {
		return err
	}
	s.published.Add(1)
	s.metrics.published.WithLabelValues(msg.Type).Inc()
	return nil
}

// pump relays backplane frames to the connected clients until ctx is done.
func (s *Server) pump(ctx context.Context, frames <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			msg, err := broker.Decode(frame)
			if err != nil {
				s.logger.Warn("dropping malformed backplane frame", zap.Error(err))
				continue
			}
			n := s.hub.broadcast(frame)
			s.delivered.Add(int64(n))
			s.metrics.delivered.Add(float64(n))
			s.mu.Lock()
			s.topics[msg.Type]++
			s.mu.Unlock()
		}
	}
}

// Serve relays events and serves the hub on l until ctx is done. After a
// graceful shutdown it returns http.ErrServerClosed.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	frames, err := s.backplane.Subscribe(ctx)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: chi.ServerBaseContext(ctx, s.router)}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.pump(gctx, frames)
		return nil
	})
	if s.feed != nil {
		g.Go(func() error {
			return s.feed.run(gctx, s.publish, s.logger)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.hub.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("failed to shutdown http server", zap.Error(err))
			return err
		}
		return nil
	})
	g.Go(func() error {
		return srv.Serve(l)
	})

	s.logger.Info("event hub listening", zap.String("addr", l.Addr().String()))
	return g.Wait()
}

// Run serves the hub on s.Addr until SIGINT or SIGTERM.
func (s *Server) Run() error {
	// Graceful valve shut-off package to manage code preemption and shutdown signaling.
	valv := valve.New()
	s.valve = valv
	ctx, cancel := context.WithCancel(valv.Context())
	defer cancel()

	c := make(chan os.Signal, 1)
	if s.testSignalCh != nil {
		c = s.testSignalCh
	}
	signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(c)
	go func() {
		select {
		case <-c:
		case <-ctx.Done():
			return
		}
		// signal is a ^C, handle it
		s.logger.Info("shutting down...")

		// first valv, so websocket clients are let go before the http server stops.
		if err := valv.Shutdown(s.shutdownTimeout); err != nil {
			s.logger.Error("failed to shutdown valv", zap.Error(err))
		}
		cancel()
	}()

	l, err := s.listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

func (s *Server) listen() (net.Listener, error) {
	if s.useUnixSock {
		_ = os.Remove(s.Addr)
		return net.Listen("unix", s.Addr)
	}
	return net.Listen("tcp", s.Addr)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
