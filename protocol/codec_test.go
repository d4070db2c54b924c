package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, f Frame) Frame {
	t.Helper()

	data, err := Encode(f)
	require.NoError(t, err)

	got, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return got
}

func TestEncode_Layout(t *testing.T) {
	t.Run("connect is tag then length-prefixed username", func(t *testing.T) {
		data, err := Encode(Connect{Username: "alice"})
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 0, 0, 19, 0, 0, 0, 5, 'a', 'l', 'i', 'c', 'e'}, data)
	})

	t.Run("connect response writes bool as one byte", func(t *testing.T) {
		data, err := Encode(ConnectResponse{Success: true, Message: ""})
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 0, 0, 20, 1, 0, 0, 0, 0}, data)
	})

	t.Run("query response writes count before names", func(t *testing.T) {
		data, err := Encode(QueryUserResponse{Usernames: []string{"a", "bc"}})
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 0, 0, 23, 0, 0, 0, 2, 0, 0, 0, 1, 'a', 0, 0, 0, 2, 'b', 'c'}, data)
	})

	t.Run("unknown frame is not encodable", func(t *testing.T) {
		_, err := Encode(Unknown{Tag: 99})
		assert.ErrorIs(t, err, ErrNotEncodable)
	})
}

func TestDecode_RoundTrip(t *testing.T) {
	frames := []Frame{
		Connect{Username: "alice"},
		ConnectResponse{Success: false, Message: "Username already taken."},
		Disconnect{Username: "bob"},
		QueryUsers{Username: "carol"},
		QueryUserResponse{Usernames: []string{"alice", "bob"}},
		Broadcast{Sender: "alice", Message: "hi"},
		Direct{Sender: "alice", Recipient: "bob", Message: "psst"},
		Failed{Message: "User not found: carol"},
		Insult{Sender: "alice", Recipient: "bob"},
	}

	for _, f := range frames {
		t.Run(f.Type().String(), func(t *testing.T) {
			assert.Equal(t, f, roundTrip(t, f))
		})
	}
}

func TestDecode_Strings(t *testing.T) {
	for name, s := range map[string]string{
		"empty string":     "",
		"ascii":            "hello",
		"multi-byte utf-8": "héllo wörld ✓ 日本語 🙂",
	} {
		t.Run(name, func(t *testing.T) {
			got := roundTrip(t, Broadcast{Sender: s, Message: s})
			assert.Equal(t, Broadcast{Sender: s, Message: s}, got)
		})
	}

	t.Run("empty string encodes as zero length with no payload", func(t *testing.T) {
		data, err := Encode(Failed{Message: ""})
		require.NoError(t, err)
		assert.Len(t, data, 8)
	})
}

func TestDecode_EmptyUserList(t *testing.T) {
	got := roundTrip(t, QueryUserResponse{})
	resp, ok := got.(QueryUserResponse)
	require.True(t, ok)
	assert.Empty(t, resp.Usernames)
}

func TestDecode_UnknownTag(t *testing.T) {
	data := []byte{0, 0, 0, 42, 'x', 'y'}
	r := bytes.NewReader(data)

	f, err := Decode(r)
	require.NoError(t, err)
	assert.Equal(t, Unknown{Tag: 42}, f)
	assert.Equal(t, 2, r.Len(), "only the tag is consumed")
}

func TestDecode_Errors(t *testing.T) {
	t.Run("empty stream is io.EOF", func(t *testing.T) {
		_, err := Decode(bytes.NewReader(nil))
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("partial tag is truncated", func(t *testing.T) {
		_, err := Decode(bytes.NewReader([]byte{0, 0}))
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("declared length beyond available bytes is truncated", func(t *testing.T) {
		data := []byte{0, 0, 0, 19, 0, 0, 0, 10, 'a', 'b'}
		_, err := Decode(bytes.NewReader(data))
		var perr *ProtocolError
		require.ErrorAs(t, err, &perr)
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("negative length is rejected", func(t *testing.T) {
		data := []byte{0, 0, 0, 19, 0xff, 0xff, 0xff, 0xfe}
		_, err := Decode(bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrNegativeLength)
	})

	t.Run("absurd length is rejected before reading", func(t *testing.T) {
		data := []byte{0, 0, 0, 26, 0x7f, 0xff, 0xff, 0xff}
		_, err := Decode(bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrLengthTooLarge)
	})

	t.Run("negative user count is rejected", func(t *testing.T) {
		data := []byte{0, 0, 0, 23, 0xff, 0xff, 0xff, 0xff}
		_, err := Decode(bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrNegativeLength)
	})

	t.Run("missing second field is truncated", func(t *testing.T) {
		data, err := Encode(Broadcast{Sender: "alice", Message: "hi"})
		require.NoError(t, err)
		_, err = Decode(bytes.NewReader(data[:len(data)-3]))
		assert.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("transport errors are not protocol errors", func(t *testing.T) {
		boom := errors.New("connection reset")
		_, err := Decode(io.MultiReader(bytes.NewReader([]byte{0, 0, 0, 19, 0, 0}), errReader{boom}))
		assert.ErrorIs(t, err, boom)
		var perr *ProtocolError
		assert.False(t, errors.As(err, &perr))
	})
}

func TestDecode_LyingLengthDoesNotBlockOrAllocate(t *testing.T) {
	var data bytes.Buffer
	_ = binary.Write(&data, binary.BigEndian, int32(TypeFailed))
	_ = binary.Write(&data, binary.BigEndian, int32(MaxStringLength))
	data.WriteString("short")

	done := make(chan error, 1)
	go func() {
		_, err := Decode(&data)
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTruncated)
	case <-time.After(time.Second):
		t.Fatal("decode blocked on a closed stream")
	}
}

func TestEncode_RejectsWhatDecodeWould(t *testing.T) {
	t.Run("string at the limit", func(t *testing.T) {
		name := strings.Repeat("a", MaxStringLength)
		data, err := Encode(Connect{Username: name})
		require.NoError(t, err)

		f, err := Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, Connect{Username: name}, f)
	})

	t.Run("string over the limit", func(t *testing.T) {
		long := strings.Repeat("a", MaxStringLength+1)
		for _, f := range []Frame{
			Broadcast{Sender: "alice", Message: long},
			Direct{Sender: "alice", Recipient: long, Message: "hi"},
			Failed{Message: long},
		} {
			data, err := Encode(f)
			assert.Nil(t, data)

			var perr *ProtocolError
			require.ErrorAs(t, err, &perr, "%s", f.Type())
			assert.ErrorIs(t, err, ErrLengthTooLarge)
		}
	})

	t.Run("user count over the limit", func(t *testing.T) {
		_, err := Encode(QueryUserResponse{Usernames: make([]string, MaxUserCount+1)})
		assert.ErrorIs(t, err, ErrLengthTooLarge)

		data, err := Encode(QueryUserResponse{Usernames: make([]string, MaxUserCount)})
		require.NoError(t, err)
		_, err = Decode(bytes.NewReader(data))
		assert.NoError(t, err)
	})
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, Failed{Message: "nope"}))

	f, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, Failed{Message: "nope"}, f)
}

func TestMessageType_String(t *testing.T) {
	assert.Equal(t, "Connect", TypeConnect.String())
	assert.Equal(t, "Insult", TypeInsult.String())
	assert.Equal(t, "Unknown(7)", MessageType(7).String())
}

type errReader struct {
	err error
}

func (r errReader) Read([]byte) (int, error) {
	return 0, r.err
}
