// Package chatclient is a TCP client for the chat server. It decodes incoming
// frames on its own goroutine and hands them to a registered handler or to the
// Frames channel, and notifies callers of connection state changes and errors.
package chatclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/go-chatroom/protocol"
)

// ErrClosed is returned by Send and Next once the client has closed.
var ErrClosed = errors.New("chatclient: client is closed")

// ConnectionState represents the current state of the TCP connection.
type ConnectionState int

const (
	Connected ConnectionState = iota // Connection established, read loop running
	Closed                           // Connection gone; the client cannot be reused
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The remote address (e.g. "host:port")
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the state change was due to an error
}

// ErrorEvent is emitted when a read or write error occurs.
type ErrorEvent struct {
	Error     error     // The error that occurred
	Timestamp time.Time // When the error occurred
}

// FrameHandler is called from the read loop, in arrival order, for every
// decoded frame. It must not block for long.
type FrameHandler func(frame protocol.Frame)

// ConnectionStateHandler is called on state changes from its own goroutine.
type ConnectionStateHandler func(event ConnectionStateEvent)

// ErrorHandler is called on read and write errors from its own goroutine.
type ErrorHandler func(event ErrorEvent)

// Config holds configuration for the chat client.
type Config struct {
	// Address is the "host:port" of the chat server.
	Address string
	// ConnectionTimeout bounds the dial; 0 means no timeout beyond ctx.
	ConnectionTimeout time.Duration
	// WriteTimeout is the max duration for a single frame write; 0 means no timeout.
	WriteTimeout time.Duration
	// FrameBuffer is the capacity of the Frames channel.
	FrameBuffer int
	// OnFrame, when set, receives every frame instead of the Frames channel.
	OnFrame FrameHandler
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with ConnectionTimeout 10s, WriteTimeout 10s and FrameBuffer 64
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		FrameBuffer:       64,
	}
}

// Client is a connected chat client. It is safe for concurrent use.
type Client struct {
	config Config
	conn   net.Conn
	reader *bufio.Reader

	mu       sync.RWMutex
	state    ConnectionState
	username string
	readErr  error
	onState  ConnectionStateHandler
	onError  ErrorHandler

	writeMu   sync.Mutex
	frames    chan protocol.Frame
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to address with DefaultConfig.
func Dial(ctx context.Context, address string) (*Client, error) {
	return DialConfig(ctx, DefaultConfig(address))
}

// DialConfig connects using config and starts the read loop.
//
// Parameters:
//   - ctx: Bounds the dial only
//   - config: Connection settings (e.g. from DefaultConfig)
//
// Returns:
//   - The connected Client, or the dial error
func DialConfig(ctx context.Context, config Config) (*Client, error) {
	if config.FrameBuffer <= 0 {
		config.FrameBuffer = 1
	}

	dialer := net.Dialer{Timeout: config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("chatclient: dial %s: %w", config.Address, err)
	}

	c := &Client{
		config:  config,
		conn:    conn,
		reader:  bufio.NewReader(conn),
		state:   Connected,
		frames:  make(chan protocol.Frame, config.FrameBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}

	go c.readLoop()

	return c, nil
}

// OnConnectionState registers the handler for connection state changes.
// Repeated calls replace the previous handler; nil clears it.
func (c *Client) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = handler
}

// OnError registers the handler for read and write errors.
// Repeated calls replace the previous handler; nil clears it.
func (c *Client) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Frames returns the channel frames are delivered on when no OnFrame handler
// is configured. It is closed when the read loop ends.
func (c *Client) Frames() <-chan protocol.Frame {
	return c.frames
}

// Next returns the next frame from Frames.
//
// Returns:
//   - The frame, ctx.Err() on cancellation, or the read loop's terminal error
//     (io.EOF when the server closed the connection cleanly)
func (c *Client) Next(ctx context.Context) (protocol.Frame, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return nil, c.Err()
		}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns why the read loop ended, or nil while it is running.
func (c *Client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readErr
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Done is closed once the read loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// LocalAddr returns the client side of the connection.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Send encodes f and writes it as one frame. Concurrent calls never
// interleave their bytes.
//
// Returns:
//   - ErrClosed after Close, or the encode or write error
func (c *Client) Send(f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	select {
	case <-c.closing:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.config.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}

		defer func() {
			_ = c.conn.SetWriteDeadline(time.Time{})
		}()
	}

	if _, err := c.conn.Write(data); err != nil {
		c.emitError(err)
		return err
	}

	return nil
}

// Connect asks the server to register username. The name is remembered for
// the other helpers.
func (c *Client) Connect(username string) error {
	c.mu.Lock()
	c.username = username
	c.mu.Unlock()

	return c.Send(protocol.Connect{Username: username})
}

// Disconnect asks the server to unregister the current username.
func (c *Client) Disconnect() error {
	return c.Send(protocol.Disconnect{Username: c.Username()})
}

// QueryUsers asks for every other connected username.
func (c *Client) QueryUsers() error {
	return c.Send(protocol.QueryUsers{Username: c.Username()})
}

// Broadcast sends text to every connected user.
func (c *Client) Broadcast(text string) error {
	return c.Send(protocol.Broadcast{Sender: c.Username(), Message: text})
}

// Direct sends text to recipient only.
func (c *Client) Direct(recipient, text string) error {
	return c.Send(protocol.Direct{Sender: c.Username(), Recipient: recipient, Message: text})
}

// Insult asks the server to broadcast an insult aimed at recipient.
func (c *Client) Insult(recipient string) error {
	return c.Send(protocol.Insult{Sender: c.Username(), Recipient: recipient})
}

// Username returns the name passed to the last Connect call.
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username
}

// Close closes the connection and waits for the read loop to exit.
// Idempotent; calling Close multiple times is safe.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		err = c.conn.Close()
	})

	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.frames)

	for {
		frame, err := protocol.Decode(c.reader)
		if err != nil {
			c.finish(err)
			return
		}

		if c.config.OnFrame != nil {
			c.config.OnFrame(frame)
			continue
		}

		select {
		case c.frames <- frame:
		case <-c.closing:
			c.finish(ErrClosed)
			return
		}
	}
}

func (c *Client) finish(err error) {
	closing := false
	select {
	case <-c.closing:
		closing = true
		err = ErrClosed
	default:
	}

	c.mu.Lock()
	c.readErr = err
	c.state = Closed
	c.mu.Unlock()

	_ = c.conn.Close()

	if !closing && !errors.Is(err, io.EOF) {
		c.emitError(err)
	}

	c.emitConnectionState(Closed, err)
}

func (c *Client) emitConnectionState(state ConnectionState, err error) {
	c.mu.RLock()
	handler := c.onState
	c.mu.RUnlock()

	if handler != nil {
		event := ConnectionStateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		}

		go handler(event)
	}
}

func (c *Client) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		event := ErrorEvent{
			Error:     err,
			Timestamp: time.Now(),
		}

		go handler(event)
	}
}
