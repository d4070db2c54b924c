package tcpserver

// TCPServerSession is implemented by the per-connection handler. The server
// creates one session per accepted connection under the cap and runs Handle on
// its own goroutine; the capacity slot is held until Handle returns.
type TCPServerSession interface {
	// ID returns the identifier the server assigned to this session.
	ID() uint32

	// Handle runs the session's read loop. It must return once the
	// connection is closed, and must close the connection before returning.
	Handle()

	// Close closes the session's connection, unblocking Handle. It must be
	// safe to call multiple times and from any goroutine.
	Close() error

	// Send queues data for delivery on the connection. It must be safe for
	// concurrent use.
	Send(data []byte) error
}
