package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/foldersync/foldersync/internal/server/metastore"
	"github.com/foldersync/foldersync/internal/server/reconcile"
	"github.com/foldersync/foldersync/internal/vv"
	"github.com/foldersync/foldersync/internal/wire"
)

func (h *handlers) listFiles(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	files, err := h.deps.Store.ListFiles(r.Context(), userID)
	if err != nil {
		h.deps.Logger.Error("listing files failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing files failed")

		return
	}

	out := make([]wire.FileRecord, 0, len(files))
	for _, f := range files {
		out = append(out, fileToWire(f))
	}

	writeJSON(w, http.StatusOK, out)
}

// uploadParams is the common multipart shape of a direct upload (POST
// /files/upload) and a whole-file replace (PUT /files/{fileId}).
type uploadParams struct {
	path          string
	checksum      string
	clientID      string
	versionVector vv.VV
	size          int64
	body          io.Reader
}

func (h *handlers) parseUploadForm(w http.ResponseWriter, r *http.Request) (*uploadParams, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxFileSize)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart form")
		return nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file part")
		return nil, false
	}

	params := &uploadParams{
		path:     r.FormValue("path"),
		checksum: r.FormValue("checksum"),
		clientID: r.FormValue("clientId"),
		size:     header.Size,
		body:     file,
	}

	if params.path == "" || params.clientID == "" {
		writeError(w, http.StatusBadRequest, "path and clientId are required")
		return nil, false
	}

	if raw := r.FormValue("versionVector"); raw != "" {
		var incoming vv.VV
		if err := json.Unmarshal([]byte(raw), &incoming); err != nil {
			writeError(w, http.StatusBadRequest, "malformed versionVector")
			return nil, false
		}

		params.versionVector = incoming
	} else {
		params.versionVector = vv.New()
	}

	return params, true
}

func (h *handlers) uploadDirect(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	params, ok := h.parseUploadForm(w, r)
	if !ok {
		return
	}

	data, err := io.ReadAll(params.body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading upload body failed")
		return
	}

	storagePath, err := h.deps.Content.Put(userID, uuid.NewString(), data)
	if err != nil {
		h.deps.Logger.Error("storing upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storing upload failed")

		return
	}

	h.reconcileUpload(w, r, reconcile.Upload{
		UserID:      userID,
		Path:        params.path,
		StoragePath: storagePath,
		FileSize:    int64(len(data)),
		Checksum:    params.checksum,
		ClientID:    params.clientID,
		VV:          params.versionVector,
	})
}

func (h *handlers) replace(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	fileID := chi.URLParam(r, "fileId")

	existing, err := h.deps.Store.GetFileByID(r.Context(), userID, fileID)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}

		writeError(w, http.StatusInternalServerError, "looking up file failed")

		return
	}

	params, ok := h.parseUploadForm(w, r)
	if !ok {
		return
	}

	data, err := io.ReadAll(params.body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading upload body failed")
		return
	}

	storagePath, err := h.deps.Content.Put(userID, uuid.NewString(), data)
	if err != nil {
		h.deps.Logger.Error("storing upload failed", "error", err)
		writeError(w, http.StatusInternalServerError, "storing upload failed")

		return
	}

	h.reconcileUpload(w, r, reconcile.Upload{
		UserID:      userID,
		Path:        existing.FilePath,
		StoragePath: storagePath,
		FileSize:    int64(len(data)),
		Checksum:    params.checksum,
		ClientID:    params.clientID,
		VV:          params.versionVector,
	})
}

func (h *handlers) reconcileUpload(w http.ResponseWriter, r *http.Request, u reconcile.Upload) {
	result, err := h.deps.Reconciler.Reconcile(r.Context(), u)
	if err != nil {
		if errors.Is(err, reconcile.ErrStaleUpload) {
			writeError(w, http.StatusConflict, "server version vector already dominates this upload")
			return
		}

		h.deps.Logger.Error("reconciliation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reconciliation failed")

		return
	}

	status := http.StatusOK
	if result.Outcome == reconcile.OutcomeCreated {
		status = http.StatusCreated
	}

	writeJSON(w, status, fileToWire(result.File))
}

func (h *handlers) download(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	fileID := chi.URLParam(r, "fileId")

	f, err := h.deps.Store.GetFileByID(r.Context(), userID, fileID)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}

		writeError(w, http.StatusInternalServerError, "looking up file failed")

		return
	}

	rc, err := h.deps.Content.Get(f.StoragePath)
	if err != nil {
		h.deps.Logger.Error("opening content failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reading file content failed")

		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+f.FileName+`"`)
	w.Header().Set("X-Checksum", f.Checksum)

	io.Copy(w, rc)
}

func (h *handlers) downloadChunked(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	fileID := chi.URLParam(r, "fileId")

	f, err := h.deps.Store.GetFileByID(r.Context(), userID, fileID)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}

		writeError(w, http.StatusInternalServerError, "looking up file failed")

		return
	}

	rc, err := h.deps.Content.Get(f.StoragePath)
	if err != nil {
		h.deps.Logger.Error("opening content failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reading file content failed")

		return
	}
	defer rc.Close()

	seeker, ok := rc.(io.ReadSeeker)
	if !ok {
		writeError(w, http.StatusInternalServerError, "file content does not support range reads")
		return
	}

	w.Header().Set("X-Checksum", f.Checksum)
	http.ServeContent(w, r, f.FileName, f.ModifiedAt, seeker)
}

func (h *handlers) deleteFile(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	fileID := chi.URLParam(r, "fileId")
	clientID := r.URL.Query().Get("clientId")

	_, err := h.deps.Reconciler.Delete(r.Context(), userID, fileID, clientID)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}

		h.deps.Logger.Error("delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) versions(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileId")

	versions, err := h.deps.Store.ListVersions(r.Context(), fileID)
	if err != nil {
		h.deps.Logger.Error("listing versions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing versions failed")

		return
	}

	out := make([]wire.FileVersion, 0, len(versions))
	for _, v := range versions {
		out = append(out, versionToWire(v))
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) metadata(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	fileID := chi.URLParam(r, "fileId")

	f, err := h.deps.Store.GetFileByID(r.Context(), userID, fileID)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}

		writeError(w, http.StatusInternalServerError, "looking up file failed")

		return
	}

	writeJSON(w, http.StatusOK, fileToWire(f))
}
