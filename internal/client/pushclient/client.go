// Package pushclient is the desktop client's side of the real-time push
// channel (component-design.md §4.8): it performs the CONNECT/CONNECTED/
// SUBSCRIBE handshake against internal/server/push.Handler, reconnects
// after a fixed delay on disconnect, sends periodic heartbeats, and forwards
// decoded events to a caller-supplied handler. When disconnected it
// reports so via IsConnected so the engine can fall back to a faster
// poll interval (spec.md §4.8: 30s disconnected / 300s connected).
package pushclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/foldersync/foldersync/internal/wire"
)

// FrameType mirrors the server's push.FrameType constants — duplicated
// here rather than imported since internal/server/push is an
// internal package the client module must not depend on.
type FrameType string

// Recognized frame types (must match internal/server/push.FrameType).
const (
	FrameConnect   FrameType = "CONNECT"
	FrameConnected FrameType = "CONNECTED"
	FrameSubscribe FrameType = "SUBSCRIBE"
	FrameMessage   FrameType = "MESSAGE"
	FrameSend      FrameType = "SEND"
	FrameError     FrameType = "ERROR"
)

// Destination mirrors internal/server/push.Destination.
type Destination string

// Recognized subscription destinations.
const (
	DestFileChanges Destination = "file-changes"
	DestConflicts   Destination = "conflicts"
)

// Frame is the wire envelope exchanged with the push channel.
type Frame struct {
	Type        FrameType       `json:"type"`
	Credential  string          `json:"credential,omitempty"`
	ClientID    string          `json:"clientId,omitempty"`
	Destination Destination     `json:"destination,omitempty"`
	Event       *wire.SyncEvent `json:"event,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// reconnectDelay is the fixed delay between reconnect attempts,
// generalized from the teacher's HTTP retry-with-backoff idiom
// (internal/graph/client.go) to a WebSocket reconnect loop: a long-lived
// connection doesn't need exponential growth the way a bounded HTTP
// retry does, so a fixed delay is enough here.
const reconnectDelay = 10 * time.Second

const heartbeatInterval = 30 * time.Second

// EventHandler receives decoded sync events pushed by the server.
type EventHandler func(event wire.SyncEvent)

// Client maintains a reconnecting push channel subscription.
type Client struct {
	wsURL       string
	credential  string
	clientID    string
	destination Destination
	onEvent     EventHandler
	logger      *slog.Logger

	connected atomic.Bool
}

// New constructs a push channel client. wsURL must be a ws(s):// URL to
// the server's push endpoint.
func New(wsURL, credential, clientID string, destination Destination, onEvent EventHandler, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		wsURL: wsURL, credential: credential, clientID: clientID,
		destination: destination, onEvent: onEvent, logger: logger,
	}
}

// IsConnected reports whether a subscription is currently established.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Run connects and reconnects until ctx is canceled, blocking the caller
// for the lifetime of the subscription — callers run this in its own
// goroutine.
func (c *Client) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := c.runOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Info("push channel disconnected, will reconnect",
				slog.String("error", err.Error()))
		}

		c.connected.Store(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("pushclient: dialing push channel: %w", err)
	}
	defer conn.CloseNow()

	if err := writeJSON(ctx, conn, Frame{Type: FrameConnect, Credential: c.credential, ClientID: c.clientID}); err != nil {
		return fmt.Errorf("pushclient: sending CONNECT: %w", err)
	}

	var connected Frame
	if err := readJSON(ctx, conn, &connected); err != nil {
		return fmt.Errorf("pushclient: awaiting CONNECTED: %w", err)
	}

	if connected.Type != FrameConnected {
		return fmt.Errorf("pushclient: expected CONNECTED, got %s", connected.Type)
	}

	if err := writeJSON(ctx, conn, Frame{Type: FrameSubscribe, Destination: c.destination}); err != nil {
		return fmt.Errorf("pushclient: sending SUBSCRIBE: %w", err)
	}

	c.connected.Store(true)
	c.logger.Info("push channel connected", slog.String("destination", string(c.destination)))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.heartbeatLoop(ctx, conn)

	for {
		var frame Frame
		if err := readJSON(ctx, conn, &frame); err != nil {
			return err
		}

		switch frame.Type {
		case FrameMessage:
			if frame.Event != nil && c.onEvent != nil {
				c.onEvent(*frame.Event)
			}
		case FrameError:
			c.logger.Warn("push channel server error", slog.String("error", frame.Error))
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, Frame{Type: FrameSend}); err != nil {
				return
			}
		}
	}
}

func readJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, v)
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return conn.Write(ctx, websocket.MessageText, data)
}
