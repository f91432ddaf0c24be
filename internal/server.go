package internal

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// ServerOptions tunes the relay. Zero values fall back to the defaults the
// sanitizers below apply.
type ServerOptions struct {
	// HistoryLimit caps the replay backlog (default 1000 messages).
	HistoryLimit int
	// BufferSize is the websocket read/write buffer watermark in bytes
	// (default 1 MiB). It is an efficiency knob, not a message size limit.
	BufferSize int
	// TransferExpiry is the inactivity window after which a chunked
	// transfer's bookkeeping is considered abandoned (default 2m).
	TransferExpiry time.Duration
	// HandshakeWait bounds how long the server waits for an optional
	// register message after the upgrade (default 5s).
	HandshakeWait time.Duration
	// ConnBurst/ConnWindow rate-limit upgrade attempts per source IP
	// (default 30 per 10s). A negative ConnBurst disables the limiter.
	ConnBurst  int
	ConnWindow time.Duration
}

const (
	defaultBufferSize    = 1 << 20
	defaultHandshakeWait = 5 * time.Second
	defaultConnBurst     = 30
	defaultConnWindow    = 10 * time.Second
)

// Server owns the relay's shared state: the hub, the history backlog, the
// transfer table, and the counters. No state survives the process.
type Server struct {
	hub           *Hub
	history       *History
	transfers     *TransferTable
	metrics       *Metrics
	connLimiter   *RateLimiter
	upgrader      websocket.Upgrader
	handshakeWait time.Duration
}

// NewServer wires the relay and starts its background goroutines (hub loop
// and transfer janitor).
func NewServer(opts ServerOptions) *Server {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.HandshakeWait <= 0 {
		opts.HandshakeWait = defaultHandshakeWait
	}
	if opts.ConnBurst == 0 {
		opts.ConnBurst = defaultConnBurst
	}
	if opts.ConnWindow <= 0 {
		opts.ConnWindow = defaultConnWindow
	}

	metrics := NewMetrics()
	server := &Server{
		hub:       NewHub(metrics),
		history:   NewHistory(opts.HistoryLimit),
		transfers: NewTransferTable(opts.TransferExpiry),
		metrics:   metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.BufferSize,
			WriteBufferSize: opts.BufferSize,
			CheckOrigin: func(r *http.Request) bool {
				// LAN tool, clients connect from whatever origin the
				// static page was served from
				return true
			},
		},
		handshakeWait: opts.HandshakeWait,
	}
	if opts.ConnBurst > 0 {
		server.connLimiter = NewRateLimiter(opts.ConnBurst, opts.ConnWindow)
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				server.connLimiter.Prune()
			}
		}()
	}

	go server.hub.run()
	go server.transfers.janitor(make(chan struct{}))
	return server
}

// Hub exposes the registry, mostly for tests and the metrics handler.
func (s *Server) Hub() *Hub {
	return s.hub
}

// History exposes the backlog for tests.
func (s *Server) History() *History {
	return s.history
}

// MetricsHandler serves the counters as JSON.
func (s *Server) MetricsHandler() http.Handler {
	return s.metrics
}

// HandleHealth is a liveness probe.
func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"online": s.hub.Count(),
	})
}

func (s *Server) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
