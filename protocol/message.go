// Package protocol implements the chat wire format: a 4-byte big-endian message
// type tag followed by positional fields. Strings are a 4-byte big-endian signed
// length and that many UTF-8 bytes, integers are 4-byte big-endian signed and
// booleans are a single 0/1 byte.
package protocol

import "fmt"

// MessageType is the tag that prefixes every frame on the wire.
type MessageType int32

const (
	TypeConnect           MessageType = 19 // C->S username
	TypeConnectResponse   MessageType = 20 // S->C success, message
	TypeDisconnect        MessageType = 21 // C->S username
	TypeQueryUsers        MessageType = 22 // C->S username
	TypeQueryUserResponse MessageType = 23 // S->C count, usernames
	TypeBroadcast         MessageType = 24 // sender, message
	TypeDirect            MessageType = 25 // sender, recipient, message
	TypeFailed            MessageType = 26 // S->C error message
	TypeInsult            MessageType = 27 // C->S sender, recipient
)

// String returns a human-readable name for the message type.
func (t MessageType) String() string {
	switch t {
	case TypeConnect:
		return "Connect"
	case TypeConnectResponse:
		return "ConnectResponse"
	case TypeDisconnect:
		return "Disconnect"
	case TypeQueryUsers:
		return "QueryUsers"
	case TypeQueryUserResponse:
		return "QueryUserResponse"
	case TypeBroadcast:
		return "Broadcast"
	case TypeDirect:
		return "Direct"
	case TypeFailed:
		return "Failed"
	case TypeInsult:
		return "Insult"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(t))
	}
}

// Frame is one complete protocol message. The concrete types below are the
// only implementations; a decoded Frame is never mutated.
type Frame interface {
	Type() MessageType
}

// Connect asks the server to register Username for this connection.
type Connect struct {
	Username string
}

// ConnectResponse answers Connect and Disconnect.
type ConnectResponse struct {
	Success bool
	Message string
}

// Disconnect asks the server to end the session registered as Username.
type Disconnect struct {
	Username string
}

// QueryUsers asks for the usernames of every other connected client.
type QueryUsers struct {
	Username string
}

// QueryUserResponse lists connected usernames. The order carries no meaning.
type QueryUserResponse struct {
	Usernames []string
}

// Broadcast carries a message addressed to every connected client.
type Broadcast struct {
	Sender  string
	Message string
}

// Direct carries a message addressed to a single recipient.
type Direct struct {
	Sender    string
	Recipient string
	Message   string
}

// Failed reports a recoverable error to the client.
type Failed struct {
	Message string
}

// Insult asks the server to broadcast a random insult aimed at Recipient.
type Insult struct {
	Sender    string
	Recipient string
}

// Unknown is produced by Decode for a tag outside the known set. Only the tag
// has been consumed from the stream.
type Unknown struct {
	Tag int32
}

func (Connect) Type() MessageType           { return TypeConnect }
func (ConnectResponse) Type() MessageType   { return TypeConnectResponse }
func (Disconnect) Type() MessageType        { return TypeDisconnect }
func (QueryUsers) Type() MessageType        { return TypeQueryUsers }
func (QueryUserResponse) Type() MessageType { return TypeQueryUserResponse }
func (Broadcast) Type() MessageType         { return TypeBroadcast }
func (Direct) Type() MessageType            { return TypeDirect }
func (Failed) Type() MessageType            { return TypeFailed }
func (Insult) Type() MessageType            { return TypeInsult }
func (u Unknown) Type() MessageType         { return MessageType(u.Tag) }
