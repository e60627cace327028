package relay

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinyland-inc/noderedmind/pkg/bus"
	"github.com/tinyland-inc/noderedmind/pkg/clientdb"
	"github.com/tinyland-inc/noderedmind/pkg/logger"
	"github.com/tinyland-inc/noderedmind/pkg/metrics"
	"github.com/tinyland-inc/noderedmind/pkg/peers"
	"github.com/tinyland-inc/noderedmind/pkg/translate"
)

// ServerConfig configures the websocket listener.
type ServerConfig struct {
	Addr           string
	CertFile       string // TLS is enabled when both files are set
	KeyFile        string
	MetricsEnabled bool
	SendQueue      int
}

// Server accepts peer connections, authenticates them against the client
// store and feeds their frames to a MessageHandler.
type Server struct {
	config   ServerConfig
	registry *peers.Registry
	handler  MessageHandler
	store    clientdb.Store
	bus      Bus

	upgrader websocket.Upgrader
	router   chi.Router

	mu    sync.Mutex
	conns map[string]*conn
}

func NewServer(cfg ServerConfig, registry *peers.Registry, handler MessageHandler, store clientdb.Store, b Bus) *Server {
	s := &Server{
		config:   cfg,
		registry: registry,
		handler:  handler,
		store:    store,
		bus:      b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Node-RED flows connect from arbitrary origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[string]*conn),
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/", s.handleWebsocket)
	r.Get("/health", s.handleHealth)
	if s.config.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// Handler returns the HTTP handler serving the relay.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is done, then closes every peer connection.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	tlsEnabled := s.config.CertFile != "" && s.config.KeyFile != ""
	if tlsEnabled {
		pair, err := tls.LoadX509KeyPair(s.config.CertFile, s.config.KeyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading certificate: %w", err)
		}
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{pair},
			MinVersion:   tls.VersionTLS12,
		}
		ln = tls.NewListener(ln, srv.TLSConfig)
	}

	logger.InfoCF("relay", "Relay listening", map[string]any{
		"addr": ln.Addr().String(),
		"tls":  tlsEnabled,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.closeAll()
	logger.InfoC("relay", "Relay stopped")
	return err
}

func (s *Server) closeAll() {
	s.mu.Lock()
	open := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		open = append(open, c)
	}
	s.mu.Unlock()

	for _, c := range open {
		c.close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"peers":  s.registry.Len(),
	})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	client, err := s.authenticate(r)
	if err != nil {
		s.rejectAuth(r, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("relay", "Websocket upgrade failed", map[string]any{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
		return
	}

	id := uuid.NewString()
	c := newConn(id, ws, s.config.SendQueue, func() { s.drop(id) })
	peer := peers.NewPeer(id, c,
		peers.WithName(client.Name),
		peers.WithPolicy(client.Blacklist),
	)

	s.mu.Lock()
	s.conns[id] = c
	s.mu.Unlock()
	s.registry.Add(peer)
	metrics.PeersConnected.Inc()

	logger.InfoCF("relay", "Peer connected", map[string]any{
		"peer":   id,
		"name":   client.Name,
		"remote": r.RemoteAddr,
	})

	go c.writeLoop()
	c.readLoop(r.Context(), func(ctx context.Context, data []byte) {
		s.handler.HandleInbound(ctx, peer, data)
	})
}

func (s *Server) drop(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()

	if s.registry.Remove(id) {
		metrics.PeersConnected.Dec()
		logger.InfoCF("relay", "Peer disconnected", map[string]any{"peer": id})
	}
}

// authenticate checks the Basic credentials of r. Browsers cannot set headers
// on websocket requests, so the base64 "name:key" pair is also accepted in
// the authorization query parameter.
func (s *Server) authenticate(r *http.Request) (clientdb.Client, error) {
	name, key, ok := r.BasicAuth()
	if !ok {
		name, key, ok = parseAuthorization(r.URL.Query().Get("authorization"))
	}
	if !ok {
		return clientdb.Client{}, errors.New("missing credentials")
	}
	return clientdb.Authenticate(r.Context(), s.store, name, key)
}

func parseAuthorization(v string) (name, key string, ok bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", "", false
	}
	v = strings.TrimPrefix(v, "Basic ")
	raw, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		if raw, err = base64.URLEncoding.DecodeString(v); err != nil {
			return "", "", false
		}
	}
	return strings.Cut(string(raw), ":")
}

func (s *Server) rejectAuth(r *http.Request, err error) {
	metrics.AuthFailures.Inc()
	logger.WarnCF("relay", "Rejected peer", map[string]any{
		"remote": r.RemoteAddr,
		"error":  err.Error(),
	})
	if s.bus == nil {
		return
	}
	msg := bus.NewMessage(translate.TypeConnectionError,
		map[string]any{"error": err.Error()},
		map[string]any{"source": r.RemoteAddr})
	if perr := s.bus.Publish(r.Context(), msg); perr != nil {
		logger.WarnCF("relay", "Cannot announce connection error", map[string]any{
			"error": perr.Error(),
		})
	}
}
