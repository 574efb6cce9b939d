package transport

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/D1nhkh01/controller/internal/bridge"
)

func TestServeRoundTripsRequestAndReply(t *testing.T) {
	srv, err := Listen(Config{Addr: "127.0.0.1:0"}, func(req bridge.Request) bridge.Reply {
		return bridge.Reply{CorrelationID: req.MessageID, Message: map[string]string{"echo": req.Command}}
	}, zap.NewNop())
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)

	require.NoError(t, enc.Encode(bridge.Request{MessageID: "a1", Command: "PING"}))
	var reply bridge.Reply
	require.NoError(t, dec.Decode(&reply))
	require.Equal(t, "a1", reply.CorrelationID)

	require.NoError(t, enc.Encode(bridge.Request{MessageID: "a2", Command: "PONG"}))
	require.NoError(t, dec.Decode(&reply))
	require.Equal(t, "a2", reply.CorrelationID)
}

func TestServeClosesCleanlyWithNoConnections(t *testing.T) {
	srv, err := Listen(Config{Addr: "127.0.0.1:0"}, func(req bridge.Request) bridge.Reply {
		return bridge.Reply{CorrelationID: req.MessageID}
	}, zap.NewNop())
	require.NoError(t, err)
	go srv.Serve()
	require.NoError(t, srv.Close())
}

func TestServeHandlesMalformedJSONByClosingConnection(t *testing.T) {
	srv, err := Listen(Config{Addr: "127.0.0.1:0"}, func(req bridge.Request) bridge.Reply {
		return bridge.Reply{CorrelationID: req.MessageID}
	}, zap.NewNop())
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not json at all"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(buf)
	require.Error(t, err)
}
