package ws

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer("127.0.0.1:0", 64, zap.NewNop())
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Close(ctx)
	})
	return srv
}

func dial(t *testing.T, srv *Server) *Client {
	t.Helper()
	cli, err := Dial(fmt.Sprintf("ws://%s/", srv.Addr()), 64, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })
	return cli
}

func TestClientToServerAndReply(t *testing.T) {
	srv := startServer(t)
	cli := dial(t, srv)

	require.NoError(t, cli.Send([]byte("ping")))

	in, ok := srv.Dequeue(time.Second)
	require.True(t, ok)
	assert.Equal(t, "ping", string(in.Payload))

	require.NoError(t, in.Peer.Send([]byte("pong")))
	payload, ok := cli.Dequeue(time.Second)
	require.True(t, ok)
	assert.Equal(t, "pong", string(payload))
}

func TestBroadcastReachesAllPeers(t *testing.T) {
	srv := startServer(t)
	a := dial(t, srv)
	b := dial(t, srv)

	// Make sure both upgrades completed before broadcasting.
	require.NoError(t, a.Send([]byte("hello-a")))
	require.NoError(t, b.Send([]byte("hello-b")))
	_, ok := srv.Dequeue(time.Second)
	require.True(t, ok)
	_, ok = srv.Dequeue(time.Second)
	require.True(t, ok)

	srv.Broadcast([]byte("tick"))

	pa, ok := a.Dequeue(time.Second)
	require.True(t, ok)
	pb, ok := b.Dequeue(time.Second)
	require.True(t, ok)
	assert.Equal(t, "tick", string(pa))
	assert.Equal(t, "tick", string(pb))
}

func TestDequeueTimeoutAndPoll(t *testing.T) {
	srv := startServer(t)

	start := time.Now()
	_, ok := srv.Dequeue(50 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	_, ok = srv.Dequeue(0)
	assert.False(t, ok)
}

func TestDialUnreachable(t *testing.T) {
	_, err := Dial("ws://127.0.0.1:1/", 1, zap.NewNop())
	assert.Error(t, err)
}
