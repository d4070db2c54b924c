// Package chat implements the chat server core: per-connection sessions, the
// message router, and the server that wires them to the TCP listener.
package chat

import (
	"context"
	"net"
	"strconv"

	"github.com/cyberinferno/go-chatroom/insult"
	"github.com/cyberinferno/go-chatroom/logger"
	"github.com/cyberinferno/go-chatroom/metrics"
	"github.com/cyberinferno/go-chatroom/registry"
	"github.com/cyberinferno/go-chatroom/tcpserver"
)

// DefaultPort is the listen port used when Options.Port is zero.
const DefaultPort = 8000

// Options configures a Server.
type Options struct {
	// Host to bind; empty means every interface.
	Host string
	// Port to bind; 0 means DefaultPort, -1 picks a free port.
	Port int
	// MaxSessions caps concurrently open connections; 0 means 10.
	MaxSessions int
	// OutboxSize is the per-session send queue length; 0 means DefaultOutboxSize.
	OutboxSize int
	// Insults is the phrase pool; nil means insult.Default().
	Insults *insult.Pool
	// Metrics receives server counters; nil records nothing.
	Metrics *metrics.Metrics
}

func (o Options) addr() string {
	port := o.Port
	switch {
	case port == 0:
		port = DefaultPort
	case port < 0:
		port = 0
	}

	return net.JoinHostPort(o.Host, strconv.Itoa(port))
}

// Server is a chat server. It owns the registry every session shares.
type Server struct {
	opts     Options
	logger   logger.Logger
	registry *registry.Registry
	router   *Router
	tcp      *tcpserver.TCPServer
}

// NewServer builds a Server from opts. Nothing is bound until Start.
//
// Parameters:
//   - opts: Server options; zero values take the documented defaults
//   - l: Logger for server and session events
//
// Returns:
//   - The configured Server
func NewServer(opts Options, l logger.Logger) *Server {
	if l == nil {
		l = logger.NewNopLogger()
	}

	reg := registry.New()
	s := &Server{
		opts:     opts,
		logger:   l.With(logger.Field{Key: "component", Value: "chat"}),
		registry: reg,
		router:   NewRouter(reg, opts.Insults, opts.Metrics, l),
	}

	s.tcp = tcpserver.New(tcpserver.Config{
		Name:        "chat",
		Addr:        opts.addr(),
		MaxSessions: opts.MaxSessions,
	}, s.newSession, l)

	s.tcp.Hooks = tcpserver.Hooks{
		OnAccept:       func(uint32, net.Conn) { opts.Metrics.RecordAccepted() },
		OnReject:       func(net.Conn) { opts.Metrics.RecordRejected() },
		OnSessionClose: func(uint32) { opts.Metrics.RecordSessionClosed() },
	}

	return s
}

func (s *Server) newSession(id uint32, conn net.Conn) tcpserver.TCPServerSession {
	return NewSession(id, conn, SessionConfig{
		Registry:   s.registry,
		Router:     s.router,
		Metrics:    s.opts.Metrics,
		Logger:     s.logger,
		OutboxSize: s.opts.OutboxSize,
	})
}

// Start binds the listener and begins accepting connections.
func (s *Server) Start() error {
	return s.tcp.Start()
}

// Stop closes the listener and every session, then waits for their
// goroutines to exit.
func (s *Server) Stop() {
	s.tcp.Stop()
	s.tcp.Wait()
}

// Run starts the server and blocks until ctx is cancelled, then stops it.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	s.Stop()
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.tcp.ListenAddr()
}

// Registry returns the server's username registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// ActiveSessions returns the number of open connections, authenticated or not.
func (s *Server) ActiveSessions() int {
	return s.tcp.ActiveSessions()
}

// Usernames returns the registered usernames sorted ascending.
func (s *Server) Usernames() []string {
	return s.registry.Usernames()
}

// ForceLogoff disconnects the user registered as username.
func (s *Server) ForceLogoff(username string) bool {
	return s.router.ForceLogoff(username)
}
