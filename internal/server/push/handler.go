package push

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// Authenticator validates the credential carried on a CONNECT frame and
// returns the authenticated user ID.
type Authenticator interface {
	Authenticate(credential string) (userID string, err error)
}

// Handler upgrades HTTP requests to the push channel protocol.
type Handler struct {
	hub    *Hub
	auth   Authenticator
	logger *slog.Logger
}

// NewHandler constructs a push channel HTTP handler backed by hub.
func NewHandler(hub *Hub, auth Authenticator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{hub: hub, auth: auth, logger: logger}
}

// ServeHTTP implements the CONNECT -> CONNECTED -> SUBSCRIBE handshake and
// then pumps frames until the connection closes or the heartbeat deadline
// lapses.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("push channel upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	userID, clientID, err := h.handshake(ctx, conn)
	if err != nil {
		h.logger.Info("push channel handshake failed", slog.String("error", err.Error()))
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")

		return
	}

	sub := &subscriber{
		userID:      userID,
		clientID:    clientID,
		destination: make(map[Destination]bool),
		send:        make(chan Frame, 16),
	}

	if err := h.awaitSubscribe(ctx, conn, sub); err != nil {
		h.logger.Info("push channel subscribe failed", slog.String("error", err.Error()))
		return
	}

	h.hub.register <- sub
	defer func() { h.hub.unregister <- sub }()

	h.pump(ctx, conn, sub)
}

func (h *Handler) handshake(ctx context.Context, conn *websocket.Conn) (userID, clientID string, err error) {
	var connect Frame
	if err := readJSON(ctx, conn, &connect); err != nil {
		return "", "", err
	}

	if connect.Type != FrameConnect {
		return "", "", errors.New("push: expected CONNECT frame")
	}

	userID, err = h.auth.Authenticate(connect.Credential)
	if err != nil {
		return "", "", err
	}

	if err := writeJSON(ctx, conn, Frame{Type: FrameConnected}); err != nil {
		return "", "", err
	}

	return userID, connect.ClientID, nil
}

func (h *Handler) awaitSubscribe(ctx context.Context, conn *websocket.Conn, sub *subscriber) error {
	var frame Frame
	if err := readJSON(ctx, conn, &frame); err != nil {
		return err
	}

	if frame.Type != FrameSubscribe {
		writeJSON(ctx, conn, Frame{Type: FrameError, Error: "subscribe required before CONNECTED is used"})

		return errors.New("push: expected SUBSCRIBE frame")
	}

	sub.destination[frame.Destination] = true

	return nil
}

// pump runs the read and write loops for an established subscription until
// either side closes or the client misses missedHeartbeatLimit heartbeats.
func (h *Handler) pump(ctx context.Context, conn *websocket.Conn, sub *subscriber) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})

	go func() {
		defer close(done)
		h.readLoop(ctx, conn, sub, cancel)
	}()

	h.writeLoop(ctx, conn, sub)
	<-done
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sub *subscriber, cancel context.CancelFunc) {
	defer cancel()

	missed := 0

	for {
		readCtx, readCancel := context.WithTimeout(ctx, missedHeartbeatLimit*heartbeatInterval)

		var frame Frame
		err := readJSON(readCtx, conn, &frame)
		readCancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				missed++
				if missed >= missedHeartbeatLimit {
					h.logger.Info("push channel client missed heartbeats, disconnecting",
						slog.String("user_id", sub.userID), slog.String("client_id", sub.clientID))

					return
				}

				continue
			}

			return
		}

		missed = 0

		if frame.Type != FrameSend {
			continue
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, sub *subscriber) {
	for {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-sub.send:
			if !ok {
				return
			}

			if err := writeJSON(ctx, conn, frame); err != nil {
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
