package feed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/muurk/orvibo-relay/internal/coordinator"
	"github.com/muurk/orvibo-relay/internal/logging"
	"go.uber.org/zap"
)

// DefaultPath is where the websocket endpoint is mounted.
const DefaultPath = "/ws"

// Config holds the feed server configuration.
type Config struct {
	Addr string // listen address, e.g. "127.0.0.1:8765"
	Path string // websocket path, DefaultPath when empty

	// Snapshot returns the current state of every device. It is sent to each
	// client right after it connects. Optional.
	Snapshot func() []coordinator.Event

	// AllowOrigin is consulted for browser clients. Nil accepts any origin.
	AllowOrigin func(r *http.Request) bool
}

// Server broadcasts device state events to websocket clients.
type Server struct {
	config   Config
	upgrader websocket.Upgrader

	httpSrv  *http.Server
	listener net.Listener

	wg      sync.WaitGroup
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// New creates a feed server. Nothing listens until Start is called; Handler
// can also be mounted on an existing mux.
func New(config Config) *Server {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	check := config.AllowOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     check,
		},
		clients: make(map[*client]struct{}),
	}
}

// Handler returns the HTTP handler serving the websocket endpoint and a
// plain health check.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintf(w, "ok clients=%d\n", s.Clients())
	})
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logging.Info("State feed listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", s.config.Path),
	)

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("State feed stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Publish queues ev for every connected client. A client whose queue is full
// is disconnected rather than slowing down the publisher.
func (s *Server) Publish(ev coordinator.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for cl := range s.clients {
		select {
		case cl.send <- ev:
		default:
			logging.Warn("State feed client too slow, dropping",
				zap.String("remote_addr", cl.remoteAddr),
			)
			s.removeLocked(cl)
		}
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Shutdown stops accepting clients, closes the connected ones and waits for
// their goroutines until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down state feed")

	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}

	s.mu.Lock()
	s.closed = true
	for cl := range s.clients {
		s.removeLocked(cl)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Debug("All state feed clients closed")
	case <-ctx.Done():
		logging.Warn("State feed shutdown timeout, forcing close")
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		logging.Warn("State feed upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	cl := newClient(conn, r.RemoteAddr)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	// The snapshot goes first so that no published event can overtake it.
	if s.config.Snapshot != nil {
		for _, ev := range s.config.Snapshot() {
			select {
			case cl.send <- ev:
			default:
			}
		}
	}
	s.clients[cl] = struct{}{}
	s.wg.Add(2)
	s.mu.Unlock()

	logging.LogConnection(cl.remoteAddr, "feed_client_connected")

	go func() {
		defer s.wg.Done()
		cl.writePump()
	}()
	go func() {
		defer s.wg.Done()
		cl.readPump()
		s.mu.Lock()
		s.removeLocked(cl)
		s.mu.Unlock()
		logging.LogConnection(cl.remoteAddr, "feed_client_closed")
	}()
}

// removeLocked unregisters cl and stops its write pump. s.mu must be held.
func (s *Server) removeLocked(cl *client) {
	if _, ok := s.clients[cl]; !ok {
		return
	}
	delete(s.clients, cl)
	close(cl.send)
}
