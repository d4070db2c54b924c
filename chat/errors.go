package chat

import "errors"

// Recoverable request errors. Each one has already been answered with exactly
// one Failed or negative ConnectResponse frame by the time it is returned.
var (
	ErrAuthConflict         = errors.New("chat: username already taken")
	ErrAlreadyAuthenticated = errors.New("chat: session already authenticated")
	ErrNotAuthenticated     = errors.New("chat: session not authenticated")
	ErrIdentityMismatch     = errors.New("chat: asserted username does not match session")
	ErrRoutingMiss          = errors.New("chat: recipient not connected")
	ErrUnknownMessage       = errors.New("chat: unknown message type")
)

// ErrMessageTooLong is returned by the router when the frame it would deliver
// does not fit the wire format's string limit. Nothing was sent.
var ErrMessageTooLong = errors.New("chat: message too long")

// ErrSessionClosed is returned by Send once a session can no longer deliver.
var ErrSessionClosed = errors.New("chat: session closed")

// ErrOutboxFull is returned by TrySend when the session's outbox has no room.
var ErrOutboxFull = errors.New("chat: outbox full")

// errDisconnected ends the read loop after a successful Disconnect.
var errDisconnected = errors.New("chat: client disconnected")

// Client-visible response texts.
const (
	msgUsernameTaken      = "Username already taken."
	msgConnected          = "There are %d other connected clients."
	msgAlreadyConnected   = "Already connected as %s."
	msgDisconnected       = "You are no longer connected."
	msgBadDisconnectName  = "Invalid username for disconnect."
	msgBadQueryName       = "Invalid username for query."
	msgBadSenderName      = "Invalid sender username."
	msgNotConnected       = "Not connected: send a connect message first."
	msgUserNotFound       = "User not found: %s"
	msgUnknownMessageType = "Unknown message type: %d"
	msgMessageTooLong     = "Message too long."
	insultFormat          = "%s -> %s: %s"
)
