package chat

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/cyberinferno/go-chatroom/logger"
	"github.com/cyberinferno/go-chatroom/metrics"
	"github.com/cyberinferno/go-chatroom/protocol"
	"github.com/cyberinferno/go-chatroom/registry"
)

// DefaultOutboxSize is the number of encoded frames a session queues before
// Send blocks on the peer draining its socket.
const DefaultOutboxSize = 64

// State is a session's position in its lifecycle.
type State int32

const (
	StateUnauthenticated State = iota // accepted, no username yet
	StateAuthenticated                // registered under a username
	StateClosed                       // terminal
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "Unauthenticated"
	case StateAuthenticated:
		return "Authenticated"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// SessionConfig carries a session's collaborators.
type SessionConfig struct {
	Registry   *registry.Registry
	Router     *Router
	Metrics    *metrics.Metrics
	Logger     logger.Logger
	OutboxSize int
}

// Session owns one client connection. Handle runs the read loop on the
// caller's goroutine; a second goroutine drains the outbox onto the socket so
// every frame is written whole and in queue order no matter how many routers
// call Send concurrently.
type Session struct {
	id       uint32
	conn     net.Conn
	reader   *bufio.Reader
	registry *registry.Registry
	router   *Router
	metrics  *metrics.Metrics
	logger   logger.Logger

	mu         sync.RWMutex // guards username, state, registered, draining and closing outbox
	username   string
	state      State
	registered bool
	draining   bool

	outbox     chan []byte
	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
}

// NewSession wraps conn. The session does nothing until Handle is called.
//
// Parameters:
//   - id: Server-assigned identifier
//   - conn: The accepted connection; the session owns and closes it
//   - cfg: Registry, router and ambient dependencies
//
// Returns:
//   - The new Session in StateUnauthenticated
func NewSession(id uint32, conn net.Conn, cfg SessionConfig) *Session {
	size := cfg.OutboxSize
	if size <= 0 {
		size = DefaultOutboxSize
	}

	l := cfg.Logger
	if l == nil {
		l = logger.NewNopLogger()
	}

	return &Session{
		id:       id,
		conn:     conn,
		reader:   bufio.NewReader(conn),
		registry: cfg.Registry,
		router:   cfg.Router,
		metrics:  cfg.Metrics,
		logger: l.With(
			logger.Field{Key: "session_id", Value: id},
			logger.Field{Key: "remote_addr", Value: conn.RemoteAddr().String()},
		),
		state:      StateUnauthenticated,
		outbox:     make(chan []byte, size),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// ID returns the server-assigned session id.
func (s *Session) ID() uint32 {
	return s.id
}

// Username returns the registered username, or "" before authentication.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Send queues an encoded frame. It blocks only while the outbox is full. The
// session uses it for its own replies; the router uses TrySend.
//
// Returns:
//   - ErrSessionClosed once the session is closed or closing
func (s *Session) Send(data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}

	select {
	case s.outbox <- data:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// TrySend queues an encoded frame without waiting.
//
// Returns:
//   - ErrOutboxFull when the peer is not draining fast enough; the frame is dropped
//   - ErrSessionClosed once the session is closed or closing
func (s *Session) TrySend(data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == StateClosed {
		return ErrSessionClosed
	}

	select {
	case s.outbox <- data:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrOutboxFull
	}
}

// SendFrame encodes f and queues it.
func (s *Session) SendFrame(f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	return s.Send(data)
}

// Close closes the connection at once, dropping anything still queued. It is
// safe to call repeatedly and from any goroutine.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()

		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
	})

	return err
}

// Handle runs the read loop until the connection fails or the client
// disconnects, then unregisters the session and releases the connection.
func (s *Session) Handle() {
	go s.writeLoop()
	defer s.cleanup()

	s.logger.Debug("session started")

	for {
		frame, err := protocol.Decode(s.reader)
		if err != nil {
			s.logReadError(err)
			return
		}

		s.metrics.RecordFrame(frameLabel(frame))

		if err := s.dispatch(frame); err != nil {
			if errors.Is(err, errDisconnected) || errors.Is(err, ErrSessionClosed) {
				return
			}

			s.logger.Debug("request rejected",
				logger.Field{Key: "type", Value: frame.Type().String()},
				logger.Err(err),
			)
		}
	}
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)

	for {
		select {
		case data, ok := <-s.outbox:
			if !ok {
				return
			}

			if _, err := s.conn.Write(data); err != nil {
				s.logger.Debug("write failed", logger.Err(err))
				_ = s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// closeAfterFlush stops accepting frames and lets the writer drain what is
// already queued; cleanup closes the connection once the writer is done.
func (s *Session) closeAfterFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}

	s.state = StateClosed
	s.draining = true
	close(s.outbox)
}

func (s *Session) cleanup() {
	s.mu.RLock()
	name, registered, draining := s.username, s.registered, s.draining
	s.mu.RUnlock()

	if registered && s.registry.Remove(name, s) {
		s.metrics.UserLeft()
		s.logger.Info("client removed", logger.Field{Key: "username", Value: name})
	}

	if draining {
		<-s.writerDone
	}

	_ = s.Close()
	s.logger.Debug("session closed")
}

func (s *Session) logReadError(err error) {
	var perr *protocol.ProtocolError
	switch {
	case errors.Is(err, io.EOF):
		s.logger.Info("client closed connection", logger.Field{Key: "username", Value: s.Username()})
	case errors.As(err, &perr):
		s.metrics.RecordProtocolError()
		s.logger.Warn("malformed frame, closing session", logger.Err(err))
	case errors.Is(err, net.ErrClosed):
		s.logger.Debug("connection closed locally")
	default:
		s.logger.Info("connection lost", logger.Err(err))
	}
}

func (s *Session) dispatch(frame protocol.Frame) error {
	switch f := frame.(type) {
	case protocol.Connect:
		return s.handleConnect(f)
	case protocol.Disconnect:
		return s.handleDisconnect(f)
	case protocol.QueryUsers:
		return s.handleQueryUsers(f)
	case protocol.Broadcast:
		return s.handleBroadcast(f)
	case protocol.Direct:
		return s.handleDirect(f)
	case protocol.Insult:
		return s.handleInsult(f)
	case protocol.Unknown:
		return s.reject(protocol.Failed{Message: fmt.Sprintf(msgUnknownMessageType, f.Tag)}, ErrUnknownMessage)
	default:
		// Server-to-client kinds are well-formed but meaningless from a client.
		return s.reject(protocol.Failed{Message: fmt.Sprintf(msgUnknownMessageType, int32(f.Type()))}, ErrUnknownMessage)
	}
}

func (s *Session) handleConnect(f protocol.Connect) error {
	s.mu.Lock()
	switch {
	case s.state == StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.state == StateAuthenticated:
		current := s.username
		s.mu.Unlock()
		return s.reject(protocol.ConnectResponse{Success: false, Message: fmt.Sprintf(msgAlreadyConnected, current)}, ErrAlreadyAuthenticated)
	case !s.registry.InsertIfAbsent(f.Username, s):
		s.mu.Unlock()
		s.metrics.RecordAuthConflict()
		return s.reject(protocol.ConnectResponse{Success: false, Message: msgUsernameTaken}, ErrAuthConflict)
	}

	s.username = f.Username
	s.state = StateAuthenticated
	s.registered = true
	s.mu.Unlock()

	s.logger.Info("client connected", logger.Field{Key: "username", Value: f.Username})
	s.metrics.UserJoined()

	others := len(s.registry.OtherUsernames(f.Username))
	return s.reply(protocol.ConnectResponse{Success: true, Message: fmt.Sprintf(msgConnected, others)})
}

func (s *Session) handleDisconnect(f protocol.Disconnect) error {
	name, err := s.authenticatedName()
	if err != nil {
		return err
	}

	if f.Username != name {
		return s.reject(protocol.ConnectResponse{Success: false, Message: msgBadDisconnectName}, ErrIdentityMismatch)
	}

	if s.registry.Remove(name, s) {
		s.metrics.UserLeft()
	}

	if err := s.reply(protocol.ConnectResponse{Success: true, Message: msgDisconnected}); err != nil {
		return err
	}

	s.logger.Info("client disconnected", logger.Field{Key: "username", Value: name})
	s.closeAfterFlush()
	return errDisconnected
}

func (s *Session) handleQueryUsers(f protocol.QueryUsers) error {
	name, err := s.verifyIdentity(f.Username, msgBadQueryName)
	if err != nil {
		return err
	}

	return s.reply(protocol.QueryUserResponse{Usernames: s.registry.OtherUsernames(name)})
}

func (s *Session) handleBroadcast(f protocol.Broadcast) error {
	name, err := s.verifyIdentity(f.Sender, msgBadSenderName)
	if err != nil {
		return err
	}

	if _, err := s.router.Broadcast(name, f.Message); err != nil {
		return s.reject(protocol.Failed{Message: msgMessageTooLong}, err)
	}

	return nil
}

func (s *Session) handleDirect(f protocol.Direct) error {
	name, err := s.verifyIdentity(f.Sender, msgBadSenderName)
	if err != nil {
		return err
	}

	err = s.router.Direct(name, f.Recipient, f.Message)
	if errors.Is(err, ErrMessageTooLong) {
		return s.reject(protocol.Failed{Message: msgMessageTooLong}, err)
	}

	return err
}

func (s *Session) handleInsult(f protocol.Insult) error {
	name, err := s.verifyIdentity(f.Sender, msgBadSenderName)
	if err != nil {
		return err
	}

	if _, err := s.router.Insult(name, f.Recipient); err != nil {
		return s.reject(protocol.Failed{Message: msgMessageTooLong}, err)
	}

	return nil
}

// authenticatedName returns the session's username, answering with a Failed
// frame if the session has not connected yet.
func (s *Session) authenticatedName() (string, error) {
	s.mu.RLock()
	name, state := s.username, s.state
	s.mu.RUnlock()

	switch state {
	case StateAuthenticated:
		return name, nil
	case StateClosed:
		return "", ErrSessionClosed
	default:
		return "", s.reject(protocol.Failed{Message: msgNotConnected}, ErrNotAuthenticated)
	}
}

// verifyIdentity checks that asserted matches the registered username and
// answers a mismatch with Failed{mismatchMsg}.
func (s *Session) verifyIdentity(asserted, mismatchMsg string) (string, error) {
	name, err := s.authenticatedName()
	if err != nil {
		return "", err
	}

	if asserted != name {
		return "", s.reject(protocol.Failed{Message: mismatchMsg}, ErrIdentityMismatch)
	}

	return name, nil
}

// frameLabel names f for the frames_received metric. Every unrecognized tag
// shares one label so a client cannot grow the series set.
func frameLabel(f protocol.Frame) string {
	if _, ok := f.(protocol.Unknown); ok {
		return metrics.UnknownFrameType
	}

	return f.Type().String()
}

func (s *Session) reply(f protocol.Frame) error {
	return s.SendFrame(f)
}

// reject sends f and returns cause, unless the send itself failed.
func (s *Session) reject(f protocol.Frame, cause error) error {
	if err := s.reply(f); err != nil {
		return err
	}

	return cause
}
