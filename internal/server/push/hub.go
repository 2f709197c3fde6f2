package push

import (
	"log/slog"
	"time"

	"github.com/foldersync/foldersync/internal/server/metastore"
	"github.com/foldersync/foldersync/internal/wire"
)

// missedHeartbeatLimit is the number of consecutive missed heartbeats after
// which the server considers a client offline and drops its subscription
// (component-design.md §4.8).
const missedHeartbeatLimit = 2

// heartbeatInterval is the expected client heartbeat cadence.
const heartbeatInterval = 30 * time.Second

// subscriber is one connected client's registration with the hub.
type subscriber struct {
	userID      string
	clientID    string
	destination map[Destination]bool
	send        chan Frame
}

// Hub fans out accepted sync events to every connected subscriber of the
// originating user except the one whose clientID matches the event's
// originating client (self-filtering, component-design.md §4.7). Modeled on
// a register/unregister/broadcast channel loop, the same shape a websocket
// fan-out hub takes in this codebase's wider pack.
type Hub struct {
	register   chan *subscriber
	unregister chan *subscriber
	broadcast  chan userEvent
	logger     *slog.Logger

	subscribers map[string]map[*subscriber]bool // userID -> set
}

type userEvent struct {
	userID string
	event  wire.SyncEvent
}

// NewHub constructs a Hub. Call Run in its own goroutine before serving any
// connections.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		register:    make(chan *subscriber),
		unregister:  make(chan *subscriber),
		broadcast:   make(chan userEvent, 64),
		logger:      logger,
		subscribers: make(map[string]map[*subscriber]bool),
	}
}

// Run processes register/unregister/broadcast requests until Stop closes
// the register channel.
// It owns all hub state, so no other goroutine touches the subscriber maps.
func (h *Hub) Run() {
	for {
		select {
		case sub, ok := <-h.register:
			if !ok {
				return
			}

			if h.subscribers[sub.userID] == nil {
				h.subscribers[sub.userID] = make(map[*subscriber]bool)
			}

			h.subscribers[sub.userID][sub] = true

		case sub := <-h.unregister:
			if set, ok := h.subscribers[sub.userID]; ok {
				if _, ok := set[sub]; ok {
					delete(set, sub)
					close(sub.send)
				}

				if len(set) == 0 {
					delete(h.subscribers, sub.userID)
				}
			}

		case ue := <-h.broadcast:
			dests := []Destination{DestFileChanges}
			if ue.event.SyncStatus == wire.EventStatusConflict {
				dests = append(dests, DestConflicts)
			}

			for sub := range h.subscribers[ue.userID] {
				if sub.clientID == ue.event.ClientID {
					continue // self-filtering: originating client already has this state
				}

				for _, dest := range dests {
					if !sub.destination[dest] {
						continue
					}

					select {
					case sub.send <- Frame{Type: FrameMessage, Destination: dest, Event: &ue.event}:
					default:
						h.logger.Warn("dropping push frame for slow subscriber",
							slog.String("user_id", sub.userID), slog.String("client_id", sub.clientID))
					}
				}
			}
		}
	}
}

// Publish satisfies reconcile.Broadcaster: it queues event for fan-out to
// userID's connected subscribers. The event is converted to its wire shape
// here so a frame pushed over this channel is byte-for-byte the same JSON a
// client would see polling GET /sync/changes for the same event — the two
// delivery paths must agree (testable property: push and poll agree).
// Non-blocking — Run's broadcast channel is buffered, and a full buffer
// means a very bursty reconciliation rate, not a condition worth blocking
// request handlers over.
func (h *Hub) Publish(userID string, event *metastore.SyncEvent) {
	we := wire.SyncEvent{
		EventID:      event.EventID,
		UserID:       event.UserID,
		FileID:       event.FileID,
		EventType:    wire.EventType(event.EventType),
		Timestamp:    event.Timestamp,
		ClientID:     event.ClientID,
		SyncStatus:   wire.EventSyncStatus(event.SyncStatus),
		ErrorMessage: event.ErrorMessage,
		FilePath:     event.FilePath,
		FileSize:     event.FileSize,
		Checksum:     event.Checksum,
	}

	select {
	case h.broadcast <- userEvent{userID: userID, event: we}:
	default:
		h.logger.Warn("push hub broadcast channel full, dropping event",
			slog.String("user_id", userID), slog.String("event_id", event.EventID))
	}
}

// Stop closes the register channel, causing Run to return once any
// in-flight register/unregister/broadcast has drained.
func (h *Hub) Stop() {
	close(h.register)
}
