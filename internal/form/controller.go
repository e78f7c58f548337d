// Package form owns the data-entry state of one inspection session: per-item
// values, validation results, free-text details, the drill-down cursor, and
// the submit gate. The structure tree is joined by item id only — a tree
// refresh never invalidates in-flight edits for items whose id survived.
package form

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stakahashi/tenken/internal/report"
	"github.com/stakahashi/tenken/internal/types"
	"github.com/stakahashi/tenken/internal/validate"
)

var (
	// ErrTreeNotLoaded is returned for operations that need a loaded tree.
	ErrTreeNotLoaded = errors.New("form: structure tree not loaded")
	// ErrNoSession is returned when no authenticated session is attached.
	ErrNoSession = errors.New("form: no authenticated session")
	// ErrNotComplete is returned by submit while any item still has an error.
	ErrNotComplete = errors.New("form: entries are not complete")
	// ErrSubmitting rejects re-entrant submits while a dispatch is in flight.
	ErrSubmitting = errors.New("form: submission already in progress")
	// ErrNoConfirmPending is returned by ConfirmSubmit without a prior
	// RequestSubmit that asked for confirmation.
	ErrNoConfirmPending = errors.New("form: no confirmation pending")
	// ErrUnknownItem is returned for edits addressed to an id not in the tree.
	ErrUnknownItem = errors.New("form: unknown item")
	// ErrUnknownNode is returned for cursor moves to a missing place/category.
	ErrUnknownNode = errors.New("form: unknown place or category")
)

// SubmitOutcome is the result of RequestSubmit.
type SubmitOutcome int

const (
	// Submitted means the report was dispatched immediately.
	Submitted SubmitOutcome = iota
	// NeedsConfirm means at least one warning exists and the caller must
	// acknowledge it via ConfirmSubmit before dispatch.
	NeedsConfirm
)

// Dispatcher performs the submit sequence for an assembled snapshot.
type Dispatcher interface {
	Dispatch(ctx context.Context, snap *types.ReportSnapshot) error
}

// TreeSource is the subscription surface of the synchronizer.
type TreeSource interface {
	Subscribe() (<-chan *types.StructureTree, func())
}

// Controller is the entry-state machine for one user session.
type Controller struct {
	mu   sync.Mutex
	user types.AuthSession
	disp Dispatcher

	tree     *types.StructureTree
	values   map[string]any
	errors   map[string]string
	warnings map[string]string
	details  map[string]string

	selectedPlaceID    string
	selectedCategoryID string

	submitting     bool
	confirmPending bool

	cancelObserve func()
	observeDone   chan struct{}
}

// NewController creates a controller for the given session.
func NewController(user types.AuthSession, disp Dispatcher) *Controller {
	return &Controller{
		user:     user,
		disp:     disp,
		values:   make(map[string]any),
		errors:   make(map[string]string),
		warnings: make(map[string]string),
		details:  make(map[string]string),
	}
}

// Observe attaches the controller to a tree source. The first emission seeds
// the entry state; later emissions are merged by item id. Close detaches.
func (c *Controller) Observe(src TreeSource) {
	ch, cancel := src.Subscribe()
	done := make(chan struct{})
	c.mu.Lock()
	c.cancelObserve = cancel
	c.observeDone = done
	c.mu.Unlock()
	go func() {
		defer close(done)
		for tree := range ch {
			c.SetTree(tree)
		}
	}()
}

// Close detaches from the tree source.
func (c *Controller) Close() {
	c.mu.Lock()
	cancel, done := c.cancelObserve, c.observeDone
	c.cancelObserve, c.observeDone = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// SetTree installs a tree emission: new item ids are seeded with their
// default invalid state, ids no longer present are dropped, and everything
// else keeps its in-flight edits untouched.
func (c *Controller) SetTree(tree *types.StructureTree) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tree = tree

	known := make(map[string]bool)
	tree.Items(func(_ types.Place, _ types.Category, it types.Item) {
		known[it.ID] = true
		if _, ok := c.values[it.ID]; ok {
			return
		}
		c.seedItem(it)
	})
	for id := range c.values {
		if !known[id] {
			delete(c.values, id)
			delete(c.errors, id)
			delete(c.warnings, id)
			delete(c.details, id)
		}
	}
}

func (c *Controller) seedItem(it types.Item) {
	if it.Type == types.ItemCheckbox {
		c.values[it.ID] = false
		c.errors[it.ID] = validate.ErrDetailRequired
	} else {
		c.values[it.ID] = ""
		c.errors[it.ID] = validate.ErrRequired
	}
	c.warnings[it.ID] = ""
	c.details[it.ID] = ""
}

// ── Navigation cursor ────────────────────────────────────────────────────────

// SelectPlace moves the cursor to a place (the category-list view).
func (c *Controller) SelectPlace(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tree == nil {
		return ErrTreeNotLoaded
	}
	if c.tree.FindPlace(id) == nil {
		return fmt.Errorf("%w: place %s", ErrUnknownNode, id)
	}
	c.selectedPlaceID = id
	c.selectedCategoryID = ""
	return nil
}

// SelectCategory moves the cursor to a category under the selected place
// (the item-form view).
func (c *Controller) SelectCategory(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tree == nil {
		return ErrTreeNotLoaded
	}
	place := c.tree.FindPlace(c.selectedPlaceID)
	if place == nil {
		return fmt.Errorf("%w: no place selected", ErrUnknownNode)
	}
	if place.FindCategory(id) == nil {
		return fmt.Errorf("%w: category %s", ErrUnknownNode, id)
	}
	c.selectedCategoryID = id
	return nil
}

// Back pops one level of the drill-down stack: it clears the deeper cursor
// only.
func (c *Controller) Back() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selectedCategoryID != "" {
		c.selectedCategoryID = ""
		return
	}
	c.selectedPlaceID = ""
}

// Cursor returns the current drill-down position.
func (c *Controller) Cursor() (placeID, categoryID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedPlaceID, c.selectedCategoryID
}

// ── Edits ────────────────────────────────────────────────────────────────────

// SetValue records a user edit and re-validates that item only. Checking a
// checkbox clears its stored detail.
func (c *Controller) SetValue(itemID string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitting {
		return ErrSubmitting
	}
	it, ok := c.findItem(itemID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}

	c.values[itemID] = value
	c.confirmPending = false
	if it.Type == types.ItemCheckbox {
		if checked, _ := value.(bool); checked {
			c.details[itemID] = ""
		}
	}
	res := validate.Item(it, value, c.details[itemID])
	c.errors[itemID] = res.Error
	c.warnings[itemID] = res.Warning
	return nil
}

// SetDetail records the free-text detail of a checkbox item and re-validates
// that item only.
func (c *Controller) SetDetail(itemID, detail string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitting {
		return ErrSubmitting
	}
	it, ok := c.findItem(itemID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
	}

	c.details[itemID] = detail
	c.confirmPending = false
	res := validate.Item(it, c.values[itemID], detail)
	c.errors[itemID] = res.Error
	c.warnings[itemID] = res.Warning
	return nil
}

func (c *Controller) findItem(itemID string) (types.Item, bool) {
	if c.tree == nil {
		return types.Item{}, false
	}
	var found types.Item
	ok := false
	c.tree.Items(func(_ types.Place, _ types.Category, it types.Item) {
		if it.ID == itemID {
			found, ok = it, true
		}
	})
	return found, ok
}

// State returns the entry record for one item id.
func (c *Controller) State(itemID string) (types.EntryState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[itemID]; !ok {
		return types.EntryState{}, false
	}
	return types.EntryState{
		Value:   c.values[itemID],
		Error:   c.errors[itemID],
		Warning: c.warnings[itemID],
		Detail:  c.details[itemID],
	}, true
}

// ── Completion predicates (derived, never stored) ────────────────────────────

func (c *Controller) categoryComplete(cat types.Category) bool {
	for _, it := range cat.Items {
		if _, ok := c.values[it.ID]; !ok {
			return false
		}
		if c.errors[it.ID] != "" {
			return false
		}
	}
	return true
}

func (c *Controller) categoryHasWarning(cat types.Category) bool {
	for _, it := range cat.Items {
		if c.warnings[it.ID] != "" {
			return true
		}
	}
	return false
}

// CategoryComplete reports whether every item in the category has a defined,
// error-free value. Warnings do not block completion.
func (c *Controller) CategoryComplete(categoryID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cat := c.lookupCategory(categoryID)
	return cat != nil && c.categoryComplete(*cat)
}

// CategoryHasWarning reports whether any item in the category carries a
// warning.
func (c *Controller) CategoryHasWarning(categoryID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cat := c.lookupCategory(categoryID)
	return cat != nil && c.categoryHasWarning(*cat)
}

// PlaceComplete is the conjunction of CategoryComplete over the place.
func (c *Controller) PlaceComplete(placeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tree == nil {
		return false
	}
	place := c.tree.FindPlace(placeID)
	if place == nil {
		return false
	}
	for _, cat := range place.Categories {
		if !c.categoryComplete(cat) {
			return false
		}
	}
	return true
}

// PlaceHasWarning is the disjunction of CategoryHasWarning over the place.
func (c *Controller) PlaceHasWarning(placeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tree == nil {
		return false
	}
	place := c.tree.FindPlace(placeID)
	if place == nil {
		return false
	}
	for _, cat := range place.Categories {
		if c.categoryHasWarning(cat) {
			return true
		}
	}
	return false
}

// AllComplete reports whether every item of every place is complete. An
// empty or unloaded tree is never complete, so a form cannot read as done
// before the structure has arrived.
func (c *Controller) AllComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allComplete()
}

func (c *Controller) allComplete() bool {
	if c.tree == nil || len(c.tree.Places) == 0 {
		return false
	}
	for _, place := range c.tree.Places {
		for _, cat := range place.Categories {
			if !c.categoryComplete(cat) {
				return false
			}
		}
	}
	return true
}

func (c *Controller) anyWarning() bool {
	for _, w := range c.warnings {
		if w != "" {
			return true
		}
	}
	return false
}

func (c *Controller) lookupCategory(categoryID string) *types.Category {
	if c.tree == nil {
		return nil
	}
	for i := range c.tree.Places {
		if cat := c.tree.Places[i].FindCategory(categoryID); cat != nil {
			return cat
		}
	}
	return nil
}

// ── Submission gate ──────────────────────────────────────────────────────────

// RequestSubmit dispatches the report when every entry is complete. When any
// warning exists the dispatch is withheld until ConfirmSubmit acknowledges
// the soft failures.
func (c *Controller) RequestSubmit(ctx context.Context) (SubmitOutcome, error) {
	c.mu.Lock()
	if err := c.submitPreconditions(); err != nil {
		c.mu.Unlock()
		return 0, err
	}
	if c.anyWarning() {
		c.confirmPending = true
		c.mu.Unlock()
		return NeedsConfirm, nil
	}
	return Submitted, c.dispatchLocked(ctx)
}

// ConfirmSubmit completes a two-step submit after RequestSubmit reported
// NeedsConfirm.
func (c *Controller) ConfirmSubmit(ctx context.Context) error {
	c.mu.Lock()
	if !c.confirmPending {
		c.mu.Unlock()
		return ErrNoConfirmPending
	}
	if err := c.submitPreconditions(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.confirmPending = false
	return c.dispatchLocked(ctx)
}

func (c *Controller) submitPreconditions() error {
	if c.user.UserID == "" {
		return ErrNoSession
	}
	if c.tree == nil {
		return ErrTreeNotLoaded
	}
	if c.submitting {
		return ErrSubmitting
	}
	if !c.allComplete() {
		return ErrNotComplete
	}
	return nil
}

// dispatchLocked assembles the snapshot and runs the submit sequence. Called
// with the lock held; the lock is released for the duration of the remote
// calls and re-acquired to settle the outcome.
func (c *Controller) dispatchLocked(ctx context.Context) error {
	c.submitting = true
	tree := c.tree
	values := make(map[string]any, len(c.values))
	for k, v := range c.values {
		values[k] = v
	}
	details := make(map[string]string, len(c.details))
	for k, v := range c.details {
		details[k] = v
	}
	c.mu.Unlock()

	snap := report.Assemble(tree, values, details, types.Submitter{ID: c.user.UserID, Name: c.user.Name})
	err := c.disp.Dispatch(ctx, snap)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting = false
	if err != nil {
		// Durable write failed: the form stays as entered so the user can
		// retry.
		return err
	}
	c.resetLocked()
	return nil
}

// Reset discards the entry state and cursor and reseeds from the current
// tree.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Controller) resetLocked() {
	c.values = make(map[string]any)
	c.errors = make(map[string]string)
	c.warnings = make(map[string]string)
	c.details = make(map[string]string)
	c.selectedPlaceID = ""
	c.selectedCategoryID = ""
	c.confirmPending = false
	if c.tree != nil {
		c.tree.Items(func(_ types.Place, _ types.Category, it types.Item) {
			c.seedItem(it)
		})
	}
}

// Submitting reports whether a dispatch is currently in flight.
func (c *Controller) Submitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitting
}

// ConfirmPending reports whether a two-step confirm is awaited.
func (c *Controller) ConfirmPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmPending
}
