// Structure handlers cover the admin surface of the tree: add, delete and
// reorder at each of the three levels, plus bulk import from a CUE
// definition. Reads go through the synchronizer so clients always see the
// same merged tree the form sessions see.
package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stakahashi/tenken/internal/store"
	"github.com/stakahashi/tenken/internal/structdef"
	"github.com/stakahashi/tenken/internal/types"
)

// TreeProvider is the read surface of the synchronizer.
type TreeProvider interface {
	Tree() *types.StructureTree
}

type StructureHandler struct {
	st   store.StructureStore
	tree TreeProvider
}

func NewStructureHandler(st store.StructureStore, tree TreeProvider) *StructureHandler {
	return &StructureHandler{st: st, tree: tree}
}

// GetTree returns the current merged structure tree.
func (h *StructureHandler) GetTree(w http.ResponseWriter, r *http.Request) {
	t := h.tree.Tree()
	if t == nil {
		t = &types.StructureTree{}
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *StructureHandler) AddPlace(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "MISSING_NAME", "name is required")
		return
	}
	id, err := h.st.AddPlace(r.Context(), req.Name, sess.UserID)
	if err != nil {
		storeErrorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *StructureHandler) DeletePlace(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	if err := h.st.DeletePlace(r.Context(), chi.URLParam(r, "placeID"), sess.UserID); err != nil {
		storeErrorToHTTP(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StructureHandler) ReorderPlaces(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	ids, ok := decodeOrderedIDs(w, r)
	if !ok {
		return
	}
	if err := h.st.ReorderPlaces(r.Context(), ids, sess.UserID); err != nil {
		storeErrorToHTTP(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StructureHandler) AddCategory(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "MISSING_NAME", "name is required")
		return
	}
	id, err := h.st.AddCategory(r.Context(), chi.URLParam(r, "placeID"), req.Name, sess.UserID)
	if err != nil {
		storeErrorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *StructureHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	err := h.st.DeleteCategory(r.Context(), chi.URLParam(r, "placeID"), chi.URLParam(r, "categoryID"), sess.UserID)
	if err != nil {
		storeErrorToHTTP(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StructureHandler) ReorderCategories(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	ids, ok := decodeOrderedIDs(w, r)
	if !ok {
		return
	}
	err := h.st.ReorderCategories(r.Context(), chi.URLParam(r, "placeID"), ids, sess.UserID)
	if err != nil {
		storeErrorToHTTP(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StructureHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req struct {
		Label          string   `json:"label"`
		Type           string   `json:"type"`
		StandardValue  *float64 `json:"standard_value,omitempty"`
		ErrorThreshold *float64 `json:"error_threshold,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return
	}
	if req.Label == "" {
		writeError(w, http.StatusBadRequest, "MISSING_LABEL", "label is required")
		return
	}
	itemType := types.ItemType(req.Type)
	if itemType != types.ItemNumber && itemType != types.ItemCheckbox {
		writeError(w, http.StatusBadRequest, "INVALID_TYPE", "type must be number or checkbox")
		return
	}
	if itemType == types.ItemNumber && (req.StandardValue == nil || req.ErrorThreshold == nil) {
		writeError(w, http.StatusBadRequest, "MISSING_TOLERANCE", "number items need standard_value and error_threshold")
		return
	}
	def := store.ItemDef{
		Label:          req.Label,
		Type:           itemType,
		StandardValue:  req.StandardValue,
		ErrorThreshold: req.ErrorThreshold,
	}
	id, err := h.st.AddItem(r.Context(), chi.URLParam(r, "placeID"), chi.URLParam(r, "categoryID"), def, sess.UserID)
	if err != nil {
		storeErrorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *StructureHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	err := h.st.DeleteItem(r.Context(),
		chi.URLParam(r, "placeID"), chi.URLParam(r, "categoryID"), chi.URLParam(r, "itemID"), sess.UserID)
	if err != nil {
		storeErrorToHTTP(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StructureHandler) ReorderItems(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	ids, ok := decodeOrderedIDs(w, r)
	if !ok {
		return
	}
	err := h.st.ReorderItems(r.Context(),
		chi.URLParam(r, "placeID"), chi.URLParam(r, "categoryID"), ids, sess.UserID)
	if err != nil {
		storeErrorToHTTP(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Import compiles a CUE structure definition and loads it through the
// ordered add operations. The document appends to whatever already exists.
func (h *StructureHandler) Import(w http.ResponseWriter, r *http.Request) {
	sess, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()
	src, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "reading request body")
		return
	}
	places, err := structdef.Compile(string(src))
	if err != nil {
		storeErrorToHTTP(w, err)
		return
	}

	created := 0
	for _, p := range places {
		placeID, err := h.st.AddPlace(r.Context(), p.Name, sess.UserID)
		if err != nil {
			storeErrorToHTTP(w, err)
			return
		}
		created++
		for _, c := range p.Categories {
			catID, err := h.st.AddCategory(r.Context(), placeID, c.Name, sess.UserID)
			if err != nil {
				storeErrorToHTTP(w, err)
				return
			}
			created++
			for _, it := range c.Items {
				def := store.ItemDef{
					Label:          it.Label,
					Type:           it.Type,
					StandardValue:  it.StandardValue,
					ErrorThreshold: it.ErrorThreshold,
				}
				if _, err := h.st.AddItem(r.Context(), placeID, catID, def, sess.UserID); err != nil {
					storeErrorToHTTP(w, err)
					return
				}
				created++
			}
		}
	}
	writeJSON(w, http.StatusCreated, map[string]int{"created": created})
}

func decodeOrderedIDs(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	var req struct {
		OrderedIDs []string `json:"ordered_ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		return nil, false
	}
	if len(req.OrderedIDs) == 0 {
		writeError(w, http.StatusBadRequest, "MISSING_IDS", "ordered_ids is required")
		return nil, false
	}
	return req.OrderedIDs, true
}
