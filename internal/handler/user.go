// User handlers expose the registry admin surface: listing accounts and
// flipping the approval and admin flags.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stakahashi/tenken/internal/store"
)

type UserHandler struct {
	users store.UserStore
}

func NewUserHandler(users store.UserStore) *UserHandler {
	return &UserHandler{users: users}
}

func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		storeErrorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *UserHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, "approved")
}

func (h *UserHandler) Admin(w http.ResponseWriter, r *http.Request) {
	h.setFlag(w, r, "admin")
}

func (h *UserHandler) setFlag(w http.ResponseWriter, r *http.Request, flag string) {
	sess, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req struct {
		Value bool `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	id := chi.URLParam(r, "userID")
	var err error
	if flag == "approved" {
		err = h.users.SetApproved(r.Context(), id, req.Value, sess.UserID)
	} else {
		err = h.users.SetAdmin(r.Context(), id, req.Value, sess.UserID)
	}
	if err != nil {
		storeErrorToHTTP(w, err)
		return
	}
	u, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		storeErrorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}
