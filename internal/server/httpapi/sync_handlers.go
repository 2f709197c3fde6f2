package httpapi

import (
	"net/http"
	"time"

	"github.com/foldersync/foldersync/internal/wire"
)

// syncChanges returns every sync event recorded for the caller's account
// since the "since" query parameter (RFC3339), for clients falling back to
// polling when the push channel is unavailable (component-design.md §4.8).
func (h *handlers) syncChanges(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	since := time.Unix(0, 0).UTC()

	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}

		since = parsed
	}

	events, err := h.deps.Store.ListEventsSince(r.Context(), userID, since)
	if err != nil {
		h.deps.Logger.Error("listing sync events failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing sync events failed")

		return
	}

	out := make([]wire.SyncEvent, 0, len(events))
	for _, e := range events {
		out = append(out, eventToWire(e))
	}

	writeJSON(w, http.StatusOK, out)
}

// heartbeat acknowledges a client is alive. The push channel tracks
// liveness itself over its own connection (missed-heartbeat disconnect in
// package push); this HTTP endpoint exists for clients currently on the
// polling fallback so the server can still distinguish an idle client from
// a vanished one.
func (h *handlers) heartbeat(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
