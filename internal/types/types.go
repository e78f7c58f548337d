// Package types provides the shared domain structs for the inspection
// structure tree, data-entry state, and report snapshots. The tree types are
// the in-memory projection of the ordered collections in the structure store.
package types

import (
	"time"
)

// ItemType distinguishes the two kinds of measurement items.
type ItemType string

const (
	// ItemNumber is a free numeric reading checked against a tolerance band.
	ItemNumber ItemType = "number"
	// ItemCheckbox is a normal/abnormal check; abnormal requires detail text.
	ItemCheckbox ItemType = "checkbox"
)

// Item is a single measurable or checkable field within a category.
// StandardValue and ErrorThreshold are set only for number items and define
// the tolerance band [StandardValue-ErrorThreshold, StandardValue+ErrorThreshold].
type Item struct {
	ID             string   `json:"id"`
	Label          string   `json:"label"`
	Order          int      `json:"order"`
	Type           ItemType `json:"type"`
	StandardValue  *float64 `json:"standard_value,omitempty"`
	ErrorThreshold *float64 `json:"error_threshold,omitempty"`
}

// Category is a facility within a place.
type Category struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
	Items []Item `json:"items"`
	// Degraded is set when the item watcher for this category has failed;
	// Items then holds the last good snapshot.
	Degraded bool `json:"degraded,omitempty"`
}

// Place is a top-level location node, e.g. a treatment plant.
type Place struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Order      int        `json:"order"`
	Categories []Category `json:"categories"`
	// Degraded is set when the category watcher for this place has failed;
	// Categories then holds the last good snapshot.
	Degraded bool `json:"degraded,omitempty"`
}

// StructureTree is one atomic emission of the full place hierarchy.
// Places, their categories, and their items are each ordered by the
// persisted order field, never by arrival order of remote updates.
type StructureTree struct {
	Places []Place `json:"places"`
}

// FindPlace returns the place with the given id, or nil.
func (t *StructureTree) FindPlace(id string) *Place {
	for i := range t.Places {
		if t.Places[i].ID == id {
			return &t.Places[i]
		}
	}
	return nil
}

// FindCategory returns the category with the given id under the place, or nil.
func (p *Place) FindCategory(id string) *Category {
	for i := range p.Categories {
		if p.Categories[i].ID == id {
			return &p.Categories[i]
		}
	}
	return nil
}

// Items iterates every item in the tree in display order.
func (t *StructureTree) Items(fn func(p Place, c Category, it Item)) {
	for _, p := range t.Places {
		for _, c := range p.Categories {
			for _, it := range c.Items {
				fn(p, c, it)
			}
		}
	}
}

// EntryState is the per-item input record of an active form session.
// Value is a string for number items and a bool for checkbox items.
type EntryState struct {
	Value   any    `json:"value"`
	Error   string `json:"error"`
	Warning string `json:"warning"`
	Detail  string `json:"detail"`
}

// Submitter identifies who submitted a report.
type Submitter struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ReportValues is the nested fold of entry state over the tree:
// place name → category name → item label → value. Values are float64 for
// number items, true for passed checkboxes, and the free-text detail (or a
// fallback literal) for failed checkboxes.
type ReportValues map[string]map[string]map[string]any

// ReportSnapshot is a point-in-time fold of entry state over the structure
// tree. It is a pure derived value and is never mutated after assembly.
type ReportSnapshot struct {
	ID          string       `json:"id"`
	SubmittedAt time.Time    `json:"submitted_at"`
	SubmittedBy Submitter    `json:"submitted_by"`
	Values      ReportValues `json:"values"`
	// Mirrored reports have been accepted by the external sink. The durable
	// store is the source of truth; the sink is a best-effort mirror.
	Mirrored bool `json:"mirrored"`
}

// AuthSession is the opaque identity claim issued by the external identity
// provider. The core never authenticates; it only consumes these fields.
type AuthSession struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Admin  bool   `json:"admin"`
}

// User is a registered account as kept in the user registry. Approved users
// may submit reports; admins may mutate the structure tree.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Admin     bool      `json:"admin"`
	Approved  bool      `json:"approved"`
	CreatedAt time.Time `json:"created_at"`
}
