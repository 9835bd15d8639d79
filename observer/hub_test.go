package observer

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/entity-scripting/script"
	"github.com/wippyai/entity-scripting/world"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubBroadcastsReports(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	a := dial(t, srv.URL)
	b := dial(t, srv.URL)
	assert.Equal(t, "hello", readMessage(t, a).Type)
	assert.Equal(t, "hello", readMessage(t, b).Type)
	require.Equal(t, 2, hub.Clients())

	hub.Observe(script.Report{
		Frame: 7,
		Entry: script.EntryAttacked,
		Commands: []script.AppliedCommand{{
			Entity:  3,
			Command: script.Command{Type: script.CommandPlaySound, Audio: &script.AudioCommand{File: "hit.ogg"}},
		}},
		Events:    []script.Event{{Topic: 5, Data: script.Trigger(5)}},
		Despawned: []world.EntityID{4},
	})

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, ProtocolVersion, msg.Ver)
		assert.Equal(t, "report", msg.Type)
		assert.Equal(t, uint64(7), msg.Frame)
		require.NotNil(t, msg.Report)
		assert.Equal(t, script.EntryAttacked, msg.Report.Entry)
		require.Len(t, msg.Report.Commands, 1)
		assert.Equal(t, "hit.ogg", msg.Report.Commands[0].Command.Audio.File)
		assert.Equal(t, []script.Event{{Topic: 5, Data: script.Trigger(5)}}, msg.Report.Events)
		assert.Equal(t, []world.EntityID{4}, msg.Report.Despawned)
	}
	assert.Equal(t, uint64(2), hub.Sent())
}

func TestHubHelloCarriesLastFrame(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	hub.Observe(script.Report{Frame: 42, Entry: script.EntryStep})
	conn := dial(t, srv.URL)
	msg := readMessage(t, conn)
	assert.Equal(t, "hello", msg.Type)
	assert.Equal(t, uint64(42), msg.Frame)
}

func TestHubForgetsClosedClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	conn := dial(t, srv.URL)
	readMessage(t, conn)
	require.Equal(t, 1, hub.Clients())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 5*time.Second, 10*time.Millisecond)

	hub.Observe(script.Report{Frame: 1})
	assert.Equal(t, uint64(0), hub.Sent())
}

func TestHubServeStopsWithContext(t *testing.T) {
	hub := NewHub()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.serve(ctx, ln) }()

	conn := dial(t, "http://"+ln.Addr().String()+"/ws")
	assert.Equal(t, "hello", readMessage(t, conn).Type)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("127.0.0.1:1234"))
	assert.True(t, isLoopback("[::1]:80"))
	assert.False(t, isLoopback("10.0.0.1:80"))
	assert.False(t, isLoopback("garbage"))
}
