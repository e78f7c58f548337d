// Package store persists the structure tree, submitted reports, and the user
// registry. The structure side exposes the OrderedTree capability: ordered
// collections addressed by path, with add/delete/batched-reorder writes that
// publish a change event after commit so watchers can re-read.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stakahashi/tenken/internal/types"
)

var (
	// ErrNotFound is returned when a document or collection path does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrBadReorder is returned when a reorder request is not a permutation
	// of the collection's current document ids.
	ErrBadReorder = errors.New("store: reorder is not a permutation of current ids")
)

// Record is one document of an ordered collection. Name carries the place or
// category name, or the item label. The item-specific fields are zero for the
// two upper levels.
type Record struct {
	ID             string
	Name           string
	Order          int
	ItemType       types.ItemType
	StandardValue  *float64
	ErrorThreshold *float64
}

// ItemDef is the admin-supplied definition of a new item.
type ItemDef struct {
	Label          string
	Type           types.ItemType
	StandardValue  *float64
	ErrorThreshold *float64
}

// Collection paths mirror the remote document layout.
func PlacesPath() string { return "places" }

func CategoriesPath(placeID string) string {
	return "places/" + placeID + "/categories"
}

func ItemsPath(placeID, categoryID string) string {
	return "places/" + placeID + "/categories/" + categoryID + "/items"
}

// Level identifies which of the three collection kinds a path names.
type Level int

const (
	LevelPlaces Level = iota
	LevelCategories
	LevelItems
)

// ParsePath splits a collection path into its level and parent ids.
func ParsePath(path string) (level Level, placeID, categoryID string, err error) {
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 1 && parts[0] == "places":
		return LevelPlaces, "", "", nil
	case len(parts) == 3 && parts[0] == "places" && parts[2] == "categories":
		return LevelCategories, parts[1], "", nil
	case len(parts) == 5 && parts[0] == "places" && parts[2] == "categories" && parts[4] == "items":
		return LevelItems, parts[1], parts[3], nil
	}
	return 0, "", "", fmt.Errorf("store: malformed collection path %q", path)
}

// StructureStore is the ordered-collection capability consumed by the watch
// layer and the admin surface.
type StructureStore interface {
	// ListCollection returns the collection's records sorted by order field.
	ListCollection(ctx context.Context, path string) ([]Record, error)

	AddPlace(ctx context.Context, name, actor string) (string, error)
	DeletePlace(ctx context.Context, id, actor string) error
	ReorderPlaces(ctx context.Context, orderedIDs []string, actor string) error

	AddCategory(ctx context.Context, placeID, name, actor string) (string, error)
	DeleteCategory(ctx context.Context, placeID, id, actor string) error
	ReorderCategories(ctx context.Context, placeID string, orderedIDs []string, actor string) error

	AddItem(ctx context.Context, placeID, categoryID string, def ItemDef, actor string) (string, error)
	DeleteItem(ctx context.Context, placeID, categoryID, id, actor string) error
	ReorderItems(ctx context.Context, placeID, categoryID string, orderedIDs []string, actor string) error
}

// ReportStore is the append-only report log.
type ReportStore interface {
	AppendReport(ctx context.Context, snap *types.ReportSnapshot) error
	MarkMirrored(ctx context.Context, reportID string) error
	ListReports(ctx context.Context, limit int) ([]types.ReportSnapshot, error)
}

// UserStore keeps the registered-user registry with approval and admin flags.
type UserStore interface {
	UpsertUser(ctx context.Context, u types.User) error
	GetUser(ctx context.Context, id string) (types.User, error)
	SetApproved(ctx context.Context, id string, approved bool, actor string) error
	SetAdmin(ctx context.Context, id string, admin bool, actor string) error
	ListUsers(ctx context.Context) ([]types.User, error)
}

// Store bundles the three capabilities; both the SQL store and the memory
// store satisfy it.
type Store interface {
	StructureStore
	ReportStore
	UserStore
}
