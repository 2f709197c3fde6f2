package httpapi

import (
	"errors"
	"net/http"

	"github.com/foldersync/foldersync/internal/server/auth"
	"github.com/foldersync/foldersync/internal/server/metastore"
	"github.com/foldersync/foldersync/internal/wire"
)

// defaultStorageQuota is assigned to every newly registered account
// (api-spec.md §6.1 register response does not surface a quota override).
const defaultStorageQuota = 10 * 1024 * 1024 * 1024 // 10 GiB

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var req wire.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	userID, err := h.deps.Auth.Register(r.Context(), req.Username, req.Email, req.Password, defaultStorageQuota)
	if err != nil {
		if errors.Is(err, metastore.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "username already registered")
			return
		}

		h.deps.Logger.Error("registration failed", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")

		return
	}

	writeJSON(w, http.StatusCreated, struct {
		UserID string `json:"userId"`
	}{UserID: userID})
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req wire.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pair, err := h.deps.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}

		h.deps.Logger.Error("login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")

		return
	}

	writeJSON(w, http.StatusOK, tokenPairToWire(pair))
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req wire.RefreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pair, err := h.deps.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "refresh token invalid or expired")
		return
	}

	writeJSON(w, http.StatusOK, tokenPairToWire(pair))
}

// logout is stateless on this server: bearer tokens are short-lived JWTs
// with no server-side session record to revoke, so logout is just the
// client discarding its tokens. The endpoint exists for API symmetry and to
// let a future revocation list hang off it without a wire-contract change.
func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func tokenPairToWire(p *auth.TokenPair) wire.TokenPair {
	return wire.TokenPair{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresIn:    p.ExpiresIn,
	}
}
