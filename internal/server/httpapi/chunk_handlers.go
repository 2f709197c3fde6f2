package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/foldersync/foldersync/internal/server/chunksession"
	"github.com/foldersync/foldersync/internal/server/metastore"
	"github.com/foldersync/foldersync/internal/server/reconcile"
	"github.com/foldersync/foldersync/internal/vv"
	"github.com/foldersync/foldersync/internal/wire"
)

func (h *handlers) initiateChunked(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	var req wire.InitiateChunkedUploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.FilePath == "" || req.TotalChunks <= 0 {
		writeError(w, http.StatusBadRequest, "filePath and totalChunks are required")
		return
	}

	session, err := h.deps.Chunks.Initiate(r.Context(), userID, req.FilePath, req.TotalFileSize, req.TotalChunks)
	if err != nil {
		if errors.Is(err, chunksession.ErrTooManyActiveSessions) {
			writeError(w, http.StatusTooManyRequests, "too many active upload sessions")
			return
		}

		h.deps.Logger.Error("initiating chunk session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "initiating chunk session failed")

		return
	}

	writeJSON(w, http.StatusCreated, wire.InitiateChunkedUploadResponse{SessionID: session.SessionID})
}

// uploadChunk accepts one chunk's bytes as multipart form data. When the
// chunk just received completes the session (every chunk index now present),
// the caller must also supply clientId, checksum, and versionVector so the
// assembled file can be handed straight to the reconciliation service —
// there is no separate "complete" call in this API surface.
func (h *handlers) uploadChunk(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxFileSize)

	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart form")
		return
	}

	sessionID := r.FormValue("sessionId")

	chunkIndex, err := strconv.Atoi(r.FormValue("chunkIndex"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "chunkIndex must be an integer")
		return
	}

	data, header, err := r.FormFile("data")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing data part")
		return
	}
	defer data.Close()

	session, err := h.deps.Chunks.UploadChunk(r.Context(), sessionID, chunkIndex, header.Size, data)
	if err != nil {
		h.respondChunkError(w, err)
		return
	}

	if session.ReceivedChunks < session.TotalChunks {
		writeJSON(w, http.StatusOK, sessionToWire(session))
		return
	}

	checksum := r.FormValue("checksum")
	clientID := r.FormValue("clientId")

	if checksum == "" || clientID == "" {
		writeError(w, http.StatusBadRequest, "checksum and clientId are required on the chunk that completes the session")
		return
	}

	assembled, err := h.deps.Chunks.Complete(r.Context(), sessionID, checksum)
	if err != nil {
		h.respondChunkError(w, err)
		return
	}

	incoming := vv.New()
	if raw := r.FormValue("versionVector"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &incoming); err != nil {
			writeError(w, http.StatusBadRequest, "malformed versionVector")
			return
		}
	}

	result, err := h.deps.Reconciler.Reconcile(r.Context(), reconcile.Upload{
		UserID:      userID,
		Path:        session.FilePath,
		StoragePath: assembled.StoragePath,
		FileSize:    assembled.FileSize,
		Checksum:    assembled.Checksum,
		ClientID:    clientID,
		VV:          incoming,
	})
	if err != nil {
		if errors.Is(err, reconcile.ErrStaleUpload) {
			writeError(w, http.StatusConflict, "server version vector already dominates this upload")
			return
		}

		h.deps.Logger.Error("reconciling assembled chunk upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reconciliation failed")

		return
	}

	status := http.StatusOK
	if result.Outcome == reconcile.OutcomeCreated {
		status = http.StatusCreated
	}

	writeJSON(w, status, fileToWire(result.File))
}

func (h *handlers) respondChunkError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, metastore.ErrNotFound):
		writeError(w, http.StatusNotFound, "upload session not found")
	case errors.Is(err, chunksession.ErrSessionExpired):
		writeError(w, http.StatusGone, "upload session expired")
	case errors.Is(err, chunksession.ErrSessionNotInProgress):
		writeError(w, http.StatusConflict, "upload session is no longer in progress")
	case errors.Is(err, chunksession.ErrSizeMismatch), errors.Is(err, chunksession.ErrChecksumMismatch),
		errors.Is(err, chunksession.ErrInvalidChunkIndex):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.deps.Logger.Error("chunk session operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "chunk session operation failed")
	}
}

func (h *handlers) sessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	session, err := h.deps.Chunks.Status(r.Context(), sessionID)
	if err != nil {
		h.respondChunkError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionToWire(session))
}

func (h *handlers) cancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")

	if err := h.deps.Chunks.Cancel(r.Context(), sessionID); err != nil {
		h.respondChunkError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	sessions, err := h.deps.Store.ListActiveSessions(r.Context(), userID)
	if err != nil {
		h.deps.Logger.Error("listing sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing sessions failed")

		return
	}

	out := make([]wire.ChunkSession, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionToWire(s))
	}

	writeJSON(w, http.StatusOK, out)
}
