package push

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldersync/foldersync/internal/server/metastore"
)

func newRunningHub(t *testing.T) *Hub {
	t.Helper()

	h := NewHub(nil)
	go h.Run()
	t.Cleanup(h.Stop)

	return h
}

func TestBroadcastFiltersSelfClient(t *testing.T) {
	h := newRunningHub(t)

	subA := &subscriber{userID: "u1", clientID: "a", destination: map[Destination]bool{DestFileChanges: true}, send: make(chan Frame, 4)}
	subB := &subscriber{userID: "u1", clientID: "b", destination: map[Destination]bool{DestFileChanges: true}, send: make(chan Frame, 4)}

	h.register <- subA
	h.register <- subB

	h.Publish("u1", &metastore.SyncEvent{EventID: "e1", ClientID: "a", SyncStatus: metastore.EventStatusCompleted})

	select {
	case frame := <-subB.send:
		assert.Equal(t, "e1", frame.Event.EventID)
	case <-time.After(time.Second):
		t.Fatal("subscriber B did not receive the event")
	}

	select {
	case frame := <-subA.send:
		t.Fatalf("subscriber A (originating client) should not receive its own event, got %v", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastOnlyReachesSubscribedDestination(t *testing.T) {
	h := newRunningHub(t)

	sub := &subscriber{userID: "u1", clientID: "b", destination: map[Destination]bool{DestConflicts: true}, send: make(chan Frame, 4)}
	h.register <- sub

	h.Publish("u1", &metastore.SyncEvent{EventID: "e1", ClientID: "a", SyncStatus: metastore.EventStatusCompleted})

	select {
	case frame := <-sub.send:
		t.Fatalf("subscriber only watching conflicts should not see a non-conflict event, got %v", frame)
	case <-time.After(50 * time.Millisecond):
	}

	h.Publish("u1", &metastore.SyncEvent{EventID: "e2", ClientID: "a", SyncStatus: metastore.EventStatusConflict})

	select {
	case frame := <-sub.send:
		assert.Equal(t, "e2", frame.Event.EventID)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive conflict event on conflicts destination")
	}
}

func TestBroadcastDoesNotReachOtherUsers(t *testing.T) {
	h := newRunningHub(t)

	sub := &subscriber{userID: "u2", clientID: "b", destination: map[Destination]bool{DestFileChanges: true}, send: make(chan Frame, 4)}
	h.register <- sub

	h.Publish("u1", &metastore.SyncEvent{EventID: "e1", ClientID: "a", SyncStatus: metastore.EventStatusCompleted})

	select {
	case frame := <-sub.send:
		t.Fatalf("subscriber of a different user should not receive the event, got %v", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterClosesSendChannel(t *testing.T) {
	h := newRunningHub(t)

	sub := &subscriber{userID: "u1", clientID: "a", destination: map[Destination]bool{DestFileChanges: true}, send: make(chan Frame, 4)}
	h.register <- sub
	h.unregister <- sub

	_, ok := <-sub.send
	require.False(t, ok)
}
