package chatclient

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/go-chatroom/protocol"
)

// serveOnce accepts a single connection and hands it to handle.
func serveOnce(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		handle(conn)
	}()

	return ln.Addr().String()
}

// echoFrames answers every Connect with a successful ConnectResponse and
// reflects every Broadcast back.
func echoFrames(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		f, err := protocol.Decode(r)
		if err != nil {
			return
		}

		switch m := f.(type) {
		case protocol.Connect:
			_ = protocol.WriteFrame(conn, protocol.ConnectResponse{Success: true, Message: "hello " + m.Username})
		case protocol.Broadcast:
			_ = protocol.WriteFrame(conn, m)
		}
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClient_SendAndReceive(t *testing.T) {
	addr := serveOnce(t, echoFrames)
	ctx := testContext(t)

	c, err := Dial(ctx, addr)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	assert.Equal(t, Connected, c.State())

	require.NoError(t, c.Connect("alice"))
	f, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.ConnectResponse{Success: true, Message: "hello alice"}, f)

	require.NoError(t, c.Broadcast("hi"))
	f, err = c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.Broadcast{Sender: "alice", Message: "hi"}, f)
}

func TestClient_FrameHandler(t *testing.T) {
	addr := serveOnce(t, echoFrames)
	ctx := testContext(t)

	var (
		mu  sync.Mutex
		got []protocol.Frame
	)
	cfg := DefaultConfig(addr)
	cfg.OnFrame = func(f protocol.Frame) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, f)
	}

	c, err := DialConfig(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	require.NoError(t, c.Connect("bob"))
	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, c.Broadcast(text))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []protocol.Frame{
		protocol.ConnectResponse{Success: true, Message: "hello bob"},
		protocol.Broadcast{Sender: "bob", Message: "one"},
		protocol.Broadcast{Sender: "bob", Message: "two"},
		protocol.Broadcast{Sender: "bob", Message: "three"},
	}, got, "frames arrive in order")
}

func TestClient_ServerClose(t *testing.T) {
	addr := serveOnce(t, func(conn net.Conn) {
		_ = protocol.WriteFrame(conn, protocol.Failed{Message: "bye"})
	})
	ctx := testContext(t)

	c, err := Dial(ctx, addr)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	f, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, protocol.Failed{Message: "bye"}, f)

	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	select {
	case <-c.Done():
	case <-ctx.Done():
		t.Fatal("read loop did not exit")
	}
	assert.Equal(t, Closed, c.State())
	assert.ErrorIs(t, c.Err(), io.EOF)
}

func TestClient_Close(t *testing.T) {
	addr := serveOnce(t, echoFrames)
	ctx := testContext(t)

	c, err := Dial(ctx, addr)
	require.NoError(t, err)

	require.NoError(t, c.Close())
	assert.NotPanics(t, func() { _ = c.Close() })

	assert.ErrorIs(t, c.Send(protocol.Connect{Username: "late"}), ErrClosed)

	_, err = c.Next(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, Closed, c.State())
}

func TestClient_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial(testContext(t), addr)
	assert.Error(t, err)
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "Connected", Connected.String())
	assert.Equal(t, "Closed", Closed.String())
	assert.Equal(t, "Unknown", ConnectionState(42).String())
}
