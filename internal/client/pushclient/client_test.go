package pushclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldersync/foldersync/internal/client/pushclient"
	"github.com/foldersync/foldersync/internal/wire"
)

// fakeServer performs the CONNECT -> CONNECTED -> SUBSCRIBE handshake
// and then pushes one MESSAGE frame, mirroring internal/server/push's
// protocol closely enough to exercise the client without importing the
// server package (which would pull server-only deps into this test).
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		ctx := r.Context()

		var connect pushclient.Frame
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &connect))
		require.Equal(t, pushclient.FrameConnect, connect.Type)

		connected, _ := json.Marshal(pushclient.Frame{Type: pushclient.FrameConnected})
		require.NoError(t, conn.Write(ctx, websocket.MessageText, connected))

		var sub pushclient.Frame
		_, data, err = conn.Read(ctx)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &sub))
		require.Equal(t, pushclient.FrameSubscribe, sub.Type)

		event := wire.SyncEvent{EventID: "e1", EventType: wire.EventModify, FilePath: "/a.txt"}
		msg, _ := json.Marshal(pushclient.Frame{Type: pushclient.FrameMessage, Event: &event})
		require.NoError(t, conn.Write(ctx, websocket.MessageText, msg))

		<-ctx.Done()
	}))
}

func TestClientReceivesPushedEvent(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	received := make(chan wire.SyncEvent, 1)
	c := pushclient.New(wsURL, "token", "client-1", pushclient.DestFileChanges,
		func(e wire.SyncEvent) { received <- e }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx)

	select {
	case e := <-received:
		assert.Equal(t, "e1", e.EventID)
		assert.Equal(t, wire.EventModify, e.EventType)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not receive pushed event")
	}

	assert.True(t, c.IsConnected())
}
