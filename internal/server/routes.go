package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/shuffle/internal/metrics"
	"github.com/BioHazard786/shuffle/internal/protocol"
	"github.com/BioHazard786/shuffle/internal/signaling"
)

// Banner is served on /health.
const Banner = "Shuffle signaling server is running"

// Options configures the HTTP surface of the relay.
type Options struct {
	// AllowedOrigins restricts browser upgrades. Empty allows every origin.
	AllowedOrigins []string

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// NewRouter wires /health, /ws and /metrics.
func NewRouter(hub *signaling.Hub, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthCheckHandler)
	mux.Handle("/ws", ServeWs(hub, opts))
	mux.Handle("/metrics", opts.Metrics.Handler())
	return mux
}

// Health Check endpoint
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(Banner))
}

// ServeWs returns an http.HandlerFunc that upgrades to a websocket, picks the
// codec from the negotiated subprotocol and hands the connection to the hub.
func ServeWs(hub *signaling.Hub, opts Options) http.HandlerFunc {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		Subprotocols:    protocol.Subprotocols(),
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("failed to upgrade connection", "remote", r.RemoteAddr, "err", err)
			return
		}

		codec := protocol.ForSubprotocol(conn.Subprotocol())
		client := signaling.NewClient(hub, conn, codec)

		select {
		case hub.Register <- client:
		case <-hub.Done():
			conn.Close()
			return
		}
		logger.Debug("connection upgraded", "remote", r.RemoteAddr, "codec", codec.Name())

		go client.WritePump()
		go client.ReadPump()
	}
}

// originChecker accepts requests without an Origin header (non-browser
// clients) and browser requests whose origin host is listed.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}

	hosts := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		hosts[strings.ToLower(o)] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return hosts[strings.ToLower(u.Host)]
	}
}
