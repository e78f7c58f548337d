package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/stakahashi/tenken/internal/store"
	"github.com/stakahashi/tenken/internal/structdef"
	"github.com/stakahashi/tenken/internal/types"
)

// writeJSON marshals v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON encode error: %v", err)
	}
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}

// decodeJSON decodes the request body into v.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// parseLimit extracts a result limit from query params.
func parseLimit(r *http.Request) int {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}
	return limit
}

// storeErrorToHTTP maps store errors to appropriate HTTP responses.
func storeErrorToHTTP(w http.ResponseWriter, err error) {
	var compileErr *structdef.CompileError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, store.ErrBadReorder):
		writeError(w, http.StatusConflict, "BAD_REORDER", err.Error())
	case errors.As(err, &compileErr):
		writeError(w, http.StatusBadRequest, "INVALID_DEFINITION", err.Error())
	default:
		log.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// parseAuthSession extracts the caller's identity claim from request headers.
// Authentication happens upstream; these headers are trusted.
func parseAuthSession(w http.ResponseWriter, r *http.Request) (types.AuthSession, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_USER", "X-User-ID header is required")
		return types.AuthSession{}, false
	}
	sess := types.AuthSession{
		UserID: userID,
		Name:   r.Header.Get("X-User-Name"),
		Admin:  r.Header.Get("X-Admin") == "true",
	}
	return sess, true
}

// requireAdmin enforces the admin claim for structure and registry writes.
func requireAdmin(w http.ResponseWriter, r *http.Request) (types.AuthSession, bool) {
	sess, ok := parseAuthSession(w, r)
	if !ok {
		return types.AuthSession{}, false
	}
	if !sess.Admin {
		writeError(w, http.StatusForbidden, "NOT_ADMIN", "admin claim required")
		return types.AuthSession{}, false
	}
	return sess, true
}
