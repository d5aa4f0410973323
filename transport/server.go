package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"upscaler/logging"
	"upscaler/shutdown"
	"upscaler/worker"
)

// Connection tuning. Image payloads ride inside JSON messages, so the
// read limit has to be generous.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 256 << 20
	sendBufferSize = 64
)

// RunSubmitter is the slice of the worker the server needs.
type RunSubmitter interface {
	Submit(req worker.RunRequest) error
}

// Config configures a Server.
type Config struct {
	// Addr is the listen address, for example ":8090".
	Addr string

	// TokenHash is the bcrypt hash clients must match to connect. Empty
	// disables authentication (local-only deployments).
	TokenHash string

	// Submitter receives decoded run requests.
	Submitter RunSubmitter

	// Router delivers the worker's outbound messages back to clients. The
	// worker's Emit callback must be wired to Router.Dispatch.
	Router *RunRouter

	// Tracker lets graceful shutdown wait for connected clients. Optional.
	Tracker *shutdown.SessionTracker

	Logger *logging.Logger
}

// Server upgrades HTTP requests to WebSocket connections and shuttles
// run requests to the worker and outbound messages back to their owners.
type Server struct {
	cfg      Config
	log      *logging.Logger
	httpSrv  *http.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// NewServer creates a Server. Call ListenAndServe to start accepting
// connections and Close to stop.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Submitter == nil {
		return nil, errors.New("transport: submitter is required")
	}
	if cfg.Router == nil {
		return nil, errors.New("transport: router is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}

	s := &Server{
		cfg:     cfg,
		log:     cfg.Logger.Named("transport"),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// ListenAndServe blocks until the server is closed. It returns nil after
// a clean Close.
func (s *Server) ListenAndServe() error {
	s.log.Info("Listening", zap.String("addr", s.cfg.Addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops the listener and disconnects every client.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	return s.httpSrv.Shutdown(ctx)
}

// handleHealth answers liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleWS authenticates the request, upgrades it, and runs the client
// pumps until the connection drops.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.TokenHash != "" {
		if err := VerifyToken(bearerToken(r), s.cfg.TokenHash); err != nil {
			s.log.Warn("Rejected connection",
				zap.String("remote", r.RemoteAddr),
				zap.Error(err),
			)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	if s.cfg.Tracker != nil && !s.cfg.Tracker.Start() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.cfg.Tracker != nil {
			s.cfg.Tracker.Done()
		}
		s.log.Warn("Upgrade failed",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	c := &client{
		srv:  s,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
	s.addClient(c)
	s.log.Info("Client connected", zap.String("remote", conn.RemoteAddr().String()))

	go c.writePump()
	c.readPump()

	s.removeClient(c)
	if s.cfg.Tracker != nil {
		s.cfg.Tracker.Done()
	}
	s.log.Info("Client disconnected", zap.String("remote", conn.RemoteAddr().String()))
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.cfg.Router.Release(c)
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
}

// client is one WebSocket connection. Its send channel decouples the
// worker's emit path from the socket write deadline.
type client struct {
	srv  *Server
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// enqueue queues a frame for delivery. It reports false when the client
// is too slow and the buffer is full; the frame is dropped rather than
// blocking the worker.
func (c *client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	default:
		c.srv.log.Warn("Client send buffer full, dropping message",
			zap.String("remote", c.conn.RemoteAddr().String()),
		)
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump decodes run requests and hands them to the worker. Malformed
// or rejected requests are answered with an error message on the same
// connection; the loop keeps going.
func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.srv.log.Warn("Read error", zap.Error(err))
			}
			return
		}

		req, err := worker.DecodeRun(data)
		if err != nil {
			c.reject(0, "invalid request: "+err.Error())
			continue
		}

		c.srv.cfg.Router.Claim(req.RunID, c)
		if err := c.srv.cfg.Submitter.Submit(req); err != nil {
			c.reject(req.RunID, err.Error())
		}
	}
}

// reject sends an error message for a run that never reached the worker.
func (c *client) reject(runID uint64, message string) {
	frame, err := worker.Encode(worker.Error{RunID: runID, Message: message})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down"))
			return
		}
	}
}
