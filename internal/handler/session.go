// Session handlers manage one entry-form controller per data-entry session.
// A session is created by an approved user, follows the live tree, and is
// torn down on delete or server shutdown.
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/stakahashi/tenken/internal/form"
	"github.com/stakahashi/tenken/internal/store"
	"github.com/stakahashi/tenken/internal/types"
)

type SessionHandler struct {
	mu       sync.Mutex
	sessions map[string]*form.Controller

	src   form.TreeSource
	tree  TreeProvider
	disp  form.Dispatcher
	users store.UserStore
}

func NewSessionHandler(src form.TreeSource, tree TreeProvider, disp form.Dispatcher, users store.UserStore) *SessionHandler {
	return &SessionHandler{
		sessions: make(map[string]*form.Controller),
		src:      src,
		tree:     tree,
		disp:     disp,
		users:    users,
	}
}

// Close tears down every live session.
func (h *SessionHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ctrl := range h.sessions {
		ctrl.Close()
		delete(h.sessions, id)
	}
}

// Create registers the caller if unseen, checks the approval flag and opens
// a controller that follows the live tree.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess, ok := parseAuthSession(w, r)
	if !ok {
		return
	}

	// First contact registers the account; approval stays false until an
	// admin flips it.
	u := types.User{ID: sess.UserID, Name: sess.Name, Admin: sess.Admin}
	if err := h.users.UpsertUser(r.Context(), u); err != nil {
		storeErrorToHTTP(w, err)
		return
	}
	stored, err := h.users.GetUser(r.Context(), sess.UserID)
	if err != nil {
		storeErrorToHTTP(w, err)
		return
	}
	if !stored.Approved && !sess.Admin {
		writeError(w, http.StatusForbidden, "PENDING_APPROVAL", "account is waiting for approval")
		return
	}

	ctrl := form.NewController(sess, h.disp)
	ctrl.Observe(h.src)

	id := uuid.NewString()
	h.mu.Lock()
	h.sessions[id] = ctrl
	h.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	h.mu.Lock()
	ctrl, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown session")
		return
	}
	ctrl.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) lookup(w http.ResponseWriter, r *http.Request) (*form.Controller, bool) {
	id := chi.URLParam(r, "sessionID")
	h.mu.Lock()
	ctrl, ok := h.sessions[id]
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown session")
		return nil, false
	}
	return ctrl, true
}

// itemView is the per-item slice of a session state response.
type itemView struct {
	types.EntryState
	Label string         `json:"label"`
	Type  types.ItemType `json:"type"`
}

type nodeView struct {
	Name       string `json:"name"`
	Complete   bool   `json:"complete"`
	HasWarning bool   `json:"has_warning"`
	Degraded   bool   `json:"degraded,omitempty"`
}

type stateView struct {
	PlaceID        string              `json:"place_id"`
	CategoryID     string              `json:"category_id"`
	Submitting     bool                `json:"submitting"`
	ConfirmPending bool                `json:"confirm_pending"`
	AllComplete    bool                `json:"all_complete"`
	Places         map[string]nodeView `json:"places"`
	Categories     map[string]nodeView `json:"categories"`
	Items          map[string]itemView `json:"items"`
}

// GetState renders the session's entry state across the current tree.
func (h *SessionHandler) GetState(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}

	view := stateView{
		Submitting:     ctrl.Submitting(),
		ConfirmPending: ctrl.ConfirmPending(),
		AllComplete:    ctrl.AllComplete(),
		Places:         make(map[string]nodeView),
		Categories:     make(map[string]nodeView),
		Items:          make(map[string]itemView),
	}
	view.PlaceID, view.CategoryID = ctrl.Cursor()

	tree := h.tree.Tree()
	if tree != nil {
		for _, p := range tree.Places {
			view.Places[p.ID] = nodeView{
				Name:       p.Name,
				Complete:   ctrl.PlaceComplete(p.ID),
				HasWarning: ctrl.PlaceHasWarning(p.ID),
				Degraded:   p.Degraded,
			}
			for _, c := range p.Categories {
				view.Categories[c.ID] = nodeView{
					Name:       c.Name,
					Complete:   ctrl.CategoryComplete(c.ID),
					HasWarning: ctrl.CategoryHasWarning(c.ID),
					Degraded:   c.Degraded,
				}
			}
		}
		tree.Items(func(_ types.Place, _ types.Category, it types.Item) {
			st, ok := ctrl.State(it.ID)
			if !ok {
				return
			}
			view.Items[it.ID] = itemView{EntryState: st, Label: it.Label, Type: it.Type}
		})
	}

	writeJSON(w, http.StatusOK, view)
}

func (h *SessionHandler) SelectPlace(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	if err := ctrl.SelectPlace(req.ID); err != nil {
		formErrorToHTTP(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) SelectCategory(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	if err := ctrl.SelectCategory(req.ID); err != nil {
		formErrorToHTTP(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) Back(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	ctrl.Back()
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) SetValue(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Value any `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	// JSON numbers decode as float64; the entry state stores the string form.
	switch v := req.Value.(type) {
	case float64:
		req.Value = strconv.FormatFloat(v, 'f', -1, 64)
	case string, bool, nil:
	default:
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "value must be a string, number or boolean")
		return
	}
	itemID := chi.URLParam(r, "itemID")
	if err := ctrl.SetValue(itemID, req.Value); err != nil {
		formErrorToHTTP(w, err)
		return
	}
	st, _ := ctrl.State(itemID)
	writeJSON(w, http.StatusOK, st)
}

func (h *SessionHandler) SetDetail(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Detail string `json:"detail"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	itemID := chi.URLParam(r, "itemID")
	if err := ctrl.SetDetail(itemID, req.Detail); err != nil {
		formErrorToHTTP(w, err)
		return
	}
	st, _ := ctrl.State(itemID)
	writeJSON(w, http.StatusOK, st)
}

func (h *SessionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	outcome, err := ctrl.RequestSubmit(r.Context())
	if err != nil {
		formErrorToHTTP(w, err)
		return
	}
	switch outcome {
	case form.NeedsConfirm:
		writeJSON(w, http.StatusOK, map[string]string{"outcome": "needs_confirm"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"outcome": "submitted"})
	}
}

func (h *SessionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := ctrl.ConfirmSubmit(r.Context()); err != nil {
		formErrorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": "submitted"})
}

func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.lookup(w, r)
	if !ok {
		return
	}
	ctrl.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func formErrorToHTTP(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, form.ErrUnknownItem), errors.Is(err, form.ErrUnknownNode):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, form.ErrTreeNotLoaded):
		writeError(w, http.StatusServiceUnavailable, "TREE_NOT_LOADED", err.Error())
	case errors.Is(err, form.ErrNotComplete),
		errors.Is(err, form.ErrSubmitting),
		errors.Is(err, form.ErrNoConfirmPending):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, form.ErrNoSession):
		writeError(w, http.StatusBadRequest, "MISSING_USER", err.Error())
	default:
		storeErrorToHTTP(w, err)
	}
}
