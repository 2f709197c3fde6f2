// Package push implements the per-user bidirectional push channel
// (component-design.md §4.8): an authenticated, long-lived connection that
// streams sync events to connected clients and falls back gracefully to
// client-side polling when disconnected.
package push

import "github.com/foldersync/foldersync/internal/wire"

// FrameType enumerates the push channel's frame protocol.
type FrameType string

// Recognized frame types. SUBSCRIBE must not be sent before CONNECTED is
// observed — the server rejects out-of-order SUBSCRIBE frames.
const (
	FrameConnect   FrameType = "CONNECT"
	FrameConnected FrameType = "CONNECTED"
	FrameSubscribe FrameType = "SUBSCRIBE"
	FrameMessage   FrameType = "MESSAGE"
	FrameSend      FrameType = "SEND"
	FrameError     FrameType = "ERROR"
)

// Destination identifies one of the two logical subscriptions a client may
// subscribe to.
type Destination string

// Recognized subscription destinations.
const (
	DestFileChanges Destination = "file-changes"
	DestConflicts   Destination = "conflicts"
)

// Frame is the wire envelope for every message exchanged on the channel.
type Frame struct {
	Type        FrameType       `json:"type"`
	Credential  string          `json:"credential,omitempty"`
	ClientID    string          `json:"clientId,omitempty"`
	Destination Destination     `json:"destination,omitempty"`
	Event       *wire.SyncEvent `json:"event,omitempty"`
	Error       string          `json:"error,omitempty"`
}
