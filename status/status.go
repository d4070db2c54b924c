// Package status serves the chat server's operator HTTP endpoints: a health
// check, Prometheus metrics, and the roster of connected users.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cyberinferno/go-chatroom/cacher"
	"github.com/cyberinferno/go-chatroom/logger"
)

const (
	rosterKey       = "roster"
	shutdownTimeout = 5 * time.Second
)

// Roster is the view of the chat server the status endpoints need.
type Roster interface {
	Usernames() []string
	ForceLogoff(username string) bool
}

// Config configures a status Server.
type Config struct {
	// Addr is the "host:port" to bind.
	Addr string
	// CacheTTL bounds how stale /users may be; 0 disables caching.
	CacheTTL time.Duration
	// Gatherer backs /metrics; nil uses prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// Cache stores roster snapshots; nil uses an in-memory cache.
	Cache cacher.Cacher[[]string]
}

// UsersResponse is the body of GET /users.
type UsersResponse struct {
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// Server is the status HTTP server.
type Server struct {
	cfg    Config
	roster Roster
	cache  cacher.Cacher[[]string]
	logger logger.Logger
	http   *http.Server

	mu sync.Mutex
	ln net.Listener
}

// New builds a status Server. Nothing is bound until Run.
func New(cfg Config, roster Roster, l logger.Logger) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	cache := cfg.Cache
	if cache == nil {
		cache = cacher.NewMemoryCacher[[]string](cfg.CacheTTL, time.Minute)
	}

	if l == nil {
		l = logger.NewNopLogger()
	}

	s := &Server{
		cfg:    cfg,
		roster: roster,
		cache:  cache,
		logger: l.With(logger.Field{Key: "component", Value: "status"}),
	}

	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the routing for every status endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /users", s.handleUsers)
	mux.HandleFunc("DELETE /users/{name}", s.handleKick)
	return mux
}

// Run binds Addr and serves until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("status HTTP listening", logger.Field{Key: "addr", Value: ln.Addr().String()})

	errc := make(chan error, 1)
	go func() {
		errc <- s.http.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("status HTTP shutdown error", logger.Err(err))
		return err
	}

	s.logger.Info("status HTTP stopped")
	return nil
}

// Addr returns the bound address, or nil before Run binds.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ln == nil {
		return nil
	}

	return s.ln.Addr()
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.snapshot(r.Context())
	if err != nil {
		s.logger.Error("roster snapshot failed", logger.Err(err))
		http.Error(w, "roster unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(UsersResponse{Count: len(users), Users: users})
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.roster.ForceLogoff(name) {
		http.Error(w, "user not connected", http.StatusNotFound)
		return
	}

	if err := s.cache.Delete(r.Context(), rosterKey); err != nil {
		s.logger.Warn("roster cache invalidation failed", logger.Err(err))
	}

	s.logger.Info("user kicked", logger.Field{Key: "username", Value: name})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) snapshot(ctx context.Context) ([]string, error) {
	fetch := func(context.Context) ([]string, error) {
		users := s.roster.Usernames()
		if users == nil {
			users = []string{}
		}
		return users, nil
	}

	if s.cfg.CacheTTL <= 0 {
		return fetch(ctx)
	}

	return s.cache.GetOrFetch(ctx, rosterKey, s.cfg.CacheTTL, fetch)
}
