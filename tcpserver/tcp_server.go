// Package tcpserver accepts TCP connections, enforces a cap on concurrently
// active sessions and hands each admitted connection to its own session.
package tcpserver

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/cyberinferno/go-chatroom/logger"
	"github.com/cyberinferno/go-chatroom/safemap"
)

// DefaultMaxSessions is the session cap used when Config.MaxSessions is zero.
const DefaultMaxSessions = 10

// ErrAlreadyRunning is returned by Start on a running server.
var ErrAlreadyRunning = errors.New("tcpserver: already running")

// NewSessionFunc creates the session for an admitted connection.
type NewSessionFunc func(id uint32, conn net.Conn) TCPServerSession

// Config holds the listener settings.
type Config struct {
	// Name labels log entries.
	Name string
	// Addr is the "host:port" to bind; port 0 picks a free port.
	Addr string
	// MaxSessions caps concurrently active sessions. Connections beyond the
	// cap are accepted and closed at once without any bytes exchanged.
	MaxSessions int
}

// Hooks are optional callbacks fired from the accept loop and session
// goroutines. They must not block.
type Hooks struct {
	OnAccept       func(id uint32, conn net.Conn)
	OnReject       func(conn net.Conn)
	OnSessionClose func(id uint32)
}

// TCPServer runs the accept loop. It holds no per-client protocol state; it
// only tracks live sessions so Stop can close them.
type TCPServer struct {
	Logger     logger.Logger
	Name       string
	Addr       string
	Listener   net.Listener
	Sessions   *safemap.SafeMap[uint32, TCPServerSession]
	Running    atomic.Bool
	NewSession NewSessionFunc
	Hooks      Hooks

	mu          sync.RWMutex // guards Listener
	maxSessions int64
	slots       *semaphore.Weighted
	nextID      atomic.Uint32
	wg          sync.WaitGroup
}

// New builds a TCPServer from cfg. Nothing is bound until Start.
//
// Parameters:
//   - cfg: Listener settings; MaxSessions <= 0 means DefaultMaxSessions
//   - newSession: Factory invoked for every admitted connection
//   - l: Logger for server events
//
// Returns:
//   - The configured server
func New(cfg Config, newSession NewSessionFunc, l logger.Logger) *TCPServer {
	maxSessions := int64(cfg.MaxSessions)
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}

	return &TCPServer{
		Logger:      l.With(logger.Field{Key: "component", Value: "tcpserver"}),
		Name:        cfg.Name,
		Addr:        cfg.Addr,
		Sessions:    safemap.NewSafeMap[uint32, TCPServerSession](),
		NewSession:  newSession,
		maxSessions: maxSessions,
		slots:       semaphore.NewWeighted(maxSessions),
	}
}

// Start binds Addr and runs the accept loop on a new goroutine.
//
// Returns:
//   - ErrAlreadyRunning if the server is running, or the listen error
func (s *TCPServer) Start() error {
	if s.Running.Load() {
		return fmt.Errorf("server %s: %w", s.Name, ErrAlreadyRunning)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Err(err))
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.mu.Lock()
	s.Listener = ln
	s.mu.Unlock()
	s.Running.Store(true)

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name),
		logger.Field{Key: "addr", Value: ln.Addr().String()},
		logger.Field{Key: "max_sessions", Value: s.maxSessions},
	)

	s.wg.Add(1)
	go s.AcceptLoop()

	return nil
}

// ListenAddr returns the bound address, or nil before Start.
func (s *TCPServer) ListenAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.Listener == nil {
		return nil
	}

	return s.Listener.Addr()
}

// Stop closes the listener and every live session. It is safe to call when
// the server is not running.
func (s *TCPServer) Stop() {
	if !s.Running.CompareAndSwap(true, false) {
		return
	}

	s.mu.RLock()
	ln := s.Listener
	s.mu.RUnlock()

	if ln != nil {
		_ = ln.Close()
	}

	s.Sessions.Range(func(_ uint32, session TCPServerSession) bool {
		_ = session.Close()
		return true
	})

	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

// Wait blocks until the accept loop and every session goroutine have exited.
func (s *TCPServer) Wait() {
	s.wg.Wait()
}

// ActiveSessions returns the number of sessions whose Handle is running.
func (s *TCPServer) ActiveSessions() int {
	return s.Sessions.Len()
}

// AcceptLoop accepts connections until the listener is closed. A connection
// that finds every slot taken is closed immediately; otherwise it gets an id,
// a session, and a goroutine running Handle.
func (s *TCPServer) AcceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			if !s.Running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Err(err))
			continue
		}

		if !s.slots.TryAcquire(1) {
			s.reject(conn)
			continue
		}

		s.admit(conn)
	}
}

func (s *TCPServer) reject(conn net.Conn) {
	s.Logger.Warn("maximum sessions reached, connection refused",
		logger.Field{Key: "remote_addr", Value: conn.RemoteAddr().String()},
	)

	if s.Hooks.OnReject != nil {
		s.Hooks.OnReject(conn)
	}

	_ = conn.Close()
}

func (s *TCPServer) admit(conn net.Conn) {
	id := s.nextID.Add(1)
	session := s.NewSession(id, conn)
	s.Sessions.Store(id, session)

	if s.Hooks.OnAccept != nil {
		s.Hooks.OnAccept(id, conn)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.slots.Release(1)
		defer s.Sessions.Delete(id)

		session.Handle()

		if s.Hooks.OnSessionClose != nil {
			s.Hooks.OnSessionClose(id)
		}
	}()

	// Stop may have swept Sessions between Store and here; close late arrivals.
	if !s.Running.Load() {
		_ = session.Close()
	}
}
