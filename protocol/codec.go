package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxStringLength bounds a single decoded string (1 MiB).
	MaxStringLength = 1 << 20

	// MaxUserCount bounds the number of names in a QueryUserResponse.
	MaxUserCount = 4096
)

var (
	ErrNegativeLength = errors.New("negative length")
	ErrLengthTooLarge = errors.New("length exceeds limit")
	ErrTruncated      = errors.New("stream ended inside a frame")
	ErrNotEncodable   = errors.New("frame cannot be encoded")
)

// ProtocolError reports a malformed frame. Framing is lost once it occurs, so
// the connection that produced it cannot be used any further.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Encode serializes f into its wire representation.
//
// Parameters:
//   - f: The frame to encode; Unknown frames are rejected
//
// Returns:
//   - The encoded bytes, tag first
//   - ErrNotEncodable for an Unknown frame or unsupported type
//   - A *ProtocolError wrapping ErrLengthTooLarge when a string or the user
//     count exceeds what Decode accepts
func Encode(f Frame) ([]byte, error) {
	var buf bytes.Buffer
	w := &writer{buf: &buf}

	switch m := f.(type) {
	case Connect:
		w.int32(int32(TypeConnect))
		w.string(m.Username)
	case ConnectResponse:
		w.int32(int32(TypeConnectResponse))
		w.bool(m.Success)
		w.string(m.Message)
	case Disconnect:
		w.int32(int32(TypeDisconnect))
		w.string(m.Username)
	case QueryUsers:
		w.int32(int32(TypeQueryUsers))
		w.string(m.Username)
	case QueryUserResponse:
		w.int32(int32(TypeQueryUserResponse))
		w.count(len(m.Usernames))
		for _, name := range m.Usernames {
			w.string(name)
		}
	case Broadcast:
		w.int32(int32(TypeBroadcast))
		w.string(m.Sender)
		w.string(m.Message)
	case Direct:
		w.int32(int32(TypeDirect))
		w.string(m.Sender)
		w.string(m.Recipient)
		w.string(m.Message)
	case Failed:
		w.int32(int32(TypeFailed))
		w.string(m.Message)
	case Insult:
		w.int32(int32(TypeInsult))
		w.string(m.Sender)
		w.string(m.Recipient)
	default:
		return nil, fmt.Errorf("protocol: encode %T: %w", f, ErrNotEncodable)
	}

	if w.err != nil {
		return nil, w.err
	}

	return buf.Bytes(), nil
}

// WriteFrame encodes f and writes it to w in a single Write call.
func WriteFrame(w io.Writer, f Frame) error {
	data, err := Encode(f)
	if err != nil {
		return err
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("protocol: write %s: %w", f.Type(), err)
	}

	return nil
}

// Decode reads exactly one frame from r.
//
// A clean end of stream before the tag returns io.EOF. Running out of bytes
// after the tag, or reading a negative or oversized length, returns a
// *ProtocolError. Other read failures are returned wrapped.
//
// Parameters:
//   - r: The stream to read from
//
// Returns:
//   - The decoded frame; unrecognized tags yield Unknown
//   - An error as described above
func Decode(r io.Reader) (Frame, error) {
	d := reader{r: r}

	tag, err := d.int32()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &ProtocolError{Op: "read tag", Err: ErrTruncated}
		}
		return nil, fmt.Errorf("protocol: read tag: %w", err)
	}

	var f Frame
	switch MessageType(tag) {
	case TypeConnect:
		f = Connect{Username: d.string()}
	case TypeConnectResponse:
		ok := d.bool()
		f = ConnectResponse{Success: ok, Message: d.string()}
	case TypeDisconnect:
		f = Disconnect{Username: d.string()}
	case TypeQueryUsers:
		f = QueryUsers{Username: d.string()}
	case TypeQueryUserResponse:
		f = QueryUserResponse{Usernames: d.stringList()}
	case TypeBroadcast:
		sender := d.string()
		f = Broadcast{Sender: sender, Message: d.string()}
	case TypeDirect:
		sender := d.string()
		recipient := d.string()
		f = Direct{Sender: sender, Recipient: recipient, Message: d.string()}
	case TypeFailed:
		f = Failed{Message: d.string()}
	case TypeInsult:
		sender := d.string()
		f = Insult{Sender: sender, Recipient: d.string()}
	default:
		return Unknown{Tag: tag}, nil
	}

	if d.err != nil {
		return nil, d.err
	}

	return f, nil
}

// writer encodes positional fields and, like reader, keeps the first error.
type writer struct {
	buf *bytes.Buffer
	err error
}

func (w *writer) int32(v int32) {
	if w.err != nil {
		return
	}

	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
}

func (w *writer) bool(v bool) {
	if w.err != nil {
		return
	}

	if v {
		w.buf.WriteByte(1)
		return
	}

	w.buf.WriteByte(0)
}

func (w *writer) string(s string) {
	if w.err != nil {
		return
	}

	if len(s) > MaxStringLength {
		w.err = &ProtocolError{Op: "write string", Err: fmt.Errorf("%w: %d > %d", ErrLengthTooLarge, len(s), MaxStringLength)}
		return
	}

	w.int32(int32(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) count(n int) {
	if w.err != nil {
		return
	}

	if n > MaxUserCount {
		w.err = &ProtocolError{Op: "write user count", Err: fmt.Errorf("%w: %d > %d", ErrLengthTooLarge, n, MaxUserCount)}
		return
	}

	w.int32(int32(n))
}

// reader decodes positional fields and keeps the first error, so a frame's
// fields can be read back to back and checked once.
type reader struct {
	r   io.Reader
	err error
}

func (d *reader) int32() (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}

	return int32(binary.BigEndian.Uint32(b[:])), nil
}

func (d *reader) field(op string) int32 {
	if d.err != nil {
		return 0
	}

	v, err := d.int32()
	if err != nil {
		d.fail(op, err)
		return 0
	}

	return v
}

func (d *reader) bool() bool {
	if d.err != nil {
		return false
	}

	var b [1]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		d.fail("read bool", err)
		return false
	}

	return b[0] != 0
}

func (d *reader) string() string {
	n := d.field("read string length")
	if d.err != nil {
		return ""
	}

	if n < 0 {
		d.err = &ProtocolError{Op: "read string length", Err: ErrNegativeLength}
		return ""
	}

	if n > MaxStringLength {
		d.err = &ProtocolError{Op: "read string length", Err: fmt.Errorf("%w: %d > %d", ErrLengthTooLarge, n, MaxStringLength)}
		return ""
	}

	if n == 0 {
		return ""
	}

	// CopyN grows the buffer with the bytes that actually arrive, so a lying
	// length prefix cannot force a large allocation up front.
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, d.r, int64(n)); err != nil {
		d.fail("read string", err)
		return ""
	}

	return buf.String()
}

func (d *reader) stringList() []string {
	n := d.field("read user count")
	if d.err != nil {
		return nil
	}

	if n < 0 {
		d.err = &ProtocolError{Op: "read user count", Err: ErrNegativeLength}
		return nil
	}

	if n > MaxUserCount {
		d.err = &ProtocolError{Op: "read user count", Err: fmt.Errorf("%w: %d > %d", ErrLengthTooLarge, n, MaxUserCount)}
		return nil
	}

	names := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		name := d.string()
		if d.err != nil {
			return nil
		}
		names = append(names, name)
	}

	return names
}

func (d *reader) fail(op string, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		d.err = &ProtocolError{Op: op, Err: ErrTruncated}
		return
	}

	d.err = fmt.Errorf("protocol: %s: %w", op, err)
}
