package watch

import (
	"context"
	"log"
	"sync"

	"github.com/stakahashi/tenken/internal/eventbus"
	"github.com/stakahashi/tenken/internal/store"
	"github.com/stakahashi/tenken/internal/types"
)

// Synchronizer maintains one place-level watcher plus one category watcher
// per known place plus one item watcher per known category, and folds their
// snapshots into a single tree. All merging happens in one run-loop
// goroutine, so every emitted tree is fully assembled before subscribers see
// it. A watcher failure degrades its own subtree to the last good snapshot
// and never aborts the siblings.
type Synchronizer struct {
	st  Lister
	bus *eventbus.Bus

	updates chan update
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once

	// Owned by the run loop after Start.
	placeWatcher *Watcher
	catWatchers  map[string]*Watcher // place id → categories watcher
	itemWatchers map[string]*Watcher // category id → items watcher
	catOwner     map[string]string   // category id → place id
	tree         types.StructureTree

	mu       sync.Mutex
	subs     map[int]chan *types.StructureTree
	nextSub  int
	lastTree *types.StructureTree
}

type update struct {
	level      store.Level
	placeID    string
	categoryID string
	snap       Snapshot
}

// NewSynchronizer creates a synchronizer over the given store and bus.
// One synchronizer is constructed per active form session scope and torn
// down with Close when the consumer stops observing.
func NewSynchronizer(st Lister, bus *eventbus.Bus) *Synchronizer {
	return &Synchronizer{
		st:           st,
		bus:          bus,
		updates:      make(chan update, 64),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		catWatchers:  make(map[string]*Watcher),
		itemWatchers: make(map[string]*Watcher),
		catOwner:     make(map[string]string),
		subs:         make(map[int]chan *types.StructureTree),
	}
}

// Start performs the initial place-level read and begins the run loop.
func (s *Synchronizer) Start(ctx context.Context) error {
	w, err := NewWatcher(ctx, s.st, s.bus, store.PlacesPath())
	if err != nil {
		return err
	}
	s.placeWatcher = w
	s.forward(w, store.LevelPlaces, "", "")
	go s.run(ctx)
	return nil
}

// Subscribe registers a tree consumer. The channel is primed with the most
// recently emitted tree, holds at most one unread emission (latest wins),
// and is closed on teardown. The returned cancel is idempotent.
func (s *Synchronizer) Subscribe() (<-chan *types.StructureTree, func()) {
	ch := make(chan *types.StructureTree, 1)
	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = ch
	if s.lastTree != nil {
		ch <- s.lastTree
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// Tree returns the most recently emitted tree, or nil before the first
// emission. The returned tree is shared and must not be mutated.
func (s *Synchronizer) Tree() *types.StructureTree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTree
}

// Close tears the synchronizer down: the run loop closes every nested
// watcher leaf-first and then exits. Idempotent; blocks until teardown
// is complete.
func (s *Synchronizer) Close() {
	s.once.Do(func() { close(s.done) })
	if s.placeWatcher == nil {
		return // Start never ran; there is nothing to tear down
	}
	<-s.stopped
}

// forward pumps one watcher's snapshots into the merge loop, tagged with the
// node the watcher belongs to.
func (s *Synchronizer) forward(w *Watcher, level store.Level, placeID, categoryID string) {
	go func() {
		for {
			select {
			case <-s.done:
				return
			case <-w.closed:
				return
			case snap := <-w.C():
				select {
				case s.updates <- update{level: level, placeID: placeID, categoryID: categoryID, snap: snap}:
				case <-s.done:
					return
				case <-w.closed:
					return
				}
			}
		}
	}()
}

func (s *Synchronizer) run(ctx context.Context) {
	defer close(s.stopped)
	defer s.teardown()
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.once.Do(func() { close(s.done) })
			return
		case u := <-s.updates:
			if s.apply(ctx, u) {
				s.emit()
			}
		}
	}
}

// teardown closes the watcher tree leaf-first so no notification can land in
// a subtree whose parent is already gone, then closes subscriber channels.
func (s *Synchronizer) teardown() {
	for _, w := range s.itemWatchers {
		w.Close()
	}
	for _, w := range s.catWatchers {
		w.Close()
	}
	if s.placeWatcher != nil {
		s.placeWatcher.Close()
	}
	s.mu.Lock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()
}

// apply folds one snapshot into the tree. Returns false for stale updates
// addressed to nodes that no longer exist.
func (s *Synchronizer) apply(ctx context.Context, u update) bool {
	switch u.level {
	case store.LevelPlaces:
		return s.applyPlaces(ctx, u.snap)
	case store.LevelCategories:
		return s.applyCategories(ctx, u.placeID, u.snap)
	case store.LevelItems:
		return s.applyItems(u.categoryID, u.snap)
	}
	return false
}

func (s *Synchronizer) applyPlaces(ctx context.Context, snap Snapshot) bool {
	if snap.Err != nil {
		// Keep the whole last-known tree; the place list itself is degraded.
		log.Printf("watch: place list re-read failed: %v", snap.Err)
		return false
	}

	existing := make(map[string]*types.Place, len(s.tree.Places))
	for i := range s.tree.Places {
		existing[s.tree.Places[i].ID] = &s.tree.Places[i]
	}

	next := make([]types.Place, 0, len(snap.Records))
	seen := make(map[string]bool, len(snap.Records))
	for _, rec := range snap.Records {
		seen[rec.ID] = true
		p := types.Place{ID: rec.ID, Name: rec.Name, Order: rec.Order}
		if old, ok := existing[rec.ID]; ok {
			// A place-list-only refresh never resets populated categories.
			p.Categories = old.Categories
			p.Degraded = old.Degraded
		} else if w, err := NewWatcher(ctx, s.st, s.bus, store.CategoriesPath(rec.ID)); err != nil {
			log.Printf("watch: starting category watcher for place %s: %v", rec.ID, err)
			p.Degraded = true
		} else {
			s.catWatchers[rec.ID] = w
			s.forward(w, store.LevelCategories, rec.ID, "")
		}
		next = append(next, p)
	}

	for id := range existing {
		if !seen[id] {
			s.dropPlaceWatchers(id)
		}
	}
	s.tree.Places = next
	return true
}

func (s *Synchronizer) applyCategories(ctx context.Context, placeID string, snap Snapshot) bool {
	place := s.tree.FindPlace(placeID)
	if place == nil {
		return false // stale: place removed while the snapshot was in flight
	}
	if snap.Err != nil {
		place.Degraded = true
		log.Printf("watch: category re-read failed for place %s: %v", placeID, snap.Err)
		return true
	}
	place.Degraded = false

	existing := make(map[string]*types.Category, len(place.Categories))
	for i := range place.Categories {
		existing[place.Categories[i].ID] = &place.Categories[i]
	}

	next := make([]types.Category, 0, len(snap.Records))
	seen := make(map[string]bool, len(snap.Records))
	for _, rec := range snap.Records {
		seen[rec.ID] = true
		c := types.Category{ID: rec.ID, Name: rec.Name, Order: rec.Order}
		if old, ok := existing[rec.ID]; ok {
			c.Items = old.Items
			c.Degraded = old.Degraded
		} else if w, err := NewWatcher(ctx, s.st, s.bus, store.ItemsPath(placeID, rec.ID)); err != nil {
			log.Printf("watch: starting item watcher for category %s: %v", rec.ID, err)
			c.Degraded = true
		} else {
			s.itemWatchers[rec.ID] = w
			s.catOwner[rec.ID] = placeID
			s.forward(w, store.LevelItems, placeID, rec.ID)
		}
		next = append(next, c)
	}

	for id := range existing {
		if !seen[id] {
			s.dropCategoryWatcher(id)
		}
	}
	place.Categories = next
	return true
}

func (s *Synchronizer) applyItems(categoryID string, snap Snapshot) bool {
	placeID, ok := s.catOwner[categoryID]
	if !ok {
		return false
	}
	place := s.tree.FindPlace(placeID)
	if place == nil {
		return false
	}
	cat := place.FindCategory(categoryID)
	if cat == nil {
		return false
	}
	if snap.Err != nil {
		cat.Degraded = true
		log.Printf("watch: item re-read failed for category %s: %v", categoryID, snap.Err)
		return true
	}
	cat.Degraded = false

	items := make([]types.Item, 0, len(snap.Records))
	for _, rec := range snap.Records {
		items = append(items, types.Item{
			ID:             rec.ID,
			Label:          rec.Name,
			Order:          rec.Order,
			Type:           rec.ItemType,
			StandardValue:  rec.StandardValue,
			ErrorThreshold: rec.ErrorThreshold,
		})
	}
	cat.Items = items
	return true
}

// dropPlaceWatchers stops a removed place's watchers, items before
// categories.
func (s *Synchronizer) dropPlaceWatchers(placeID string) {
	for catID, owner := range s.catOwner {
		if owner != placeID {
			continue
		}
		s.dropCategoryWatcher(catID)
	}
	if w, ok := s.catWatchers[placeID]; ok {
		w.Close()
		delete(s.catWatchers, placeID)
	}
}

func (s *Synchronizer) dropCategoryWatcher(categoryID string) {
	if w, ok := s.itemWatchers[categoryID]; ok {
		w.Close()
		delete(s.itemWatchers, categoryID)
	}
	delete(s.catOwner, categoryID)
}

// emit publishes a deep copy of the fully merged tree to every subscriber.
// Delivery is latest-wins per subscriber; a slow consumer only ever misses
// intermediate trees, never sees a partial one.
func (s *Synchronizer) emit() {
	tree := cloneTree(&s.tree)
	s.mu.Lock()
	s.lastTree = tree
	for _, ch := range s.subs {
		select {
		case ch <- tree:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- tree:
		default:
		}
	}
	s.mu.Unlock()
}

func cloneTree(t *types.StructureTree) *types.StructureTree {
	out := &types.StructureTree{Places: make([]types.Place, len(t.Places))}
	for i, p := range t.Places {
		cp := p
		cp.Categories = make([]types.Category, len(p.Categories))
		for j, c := range p.Categories {
			cc := c
			cc.Items = append([]types.Item(nil), c.Items...)
			cp.Categories[j] = cc
		}
		out.Places[i] = cp
	}
	return out
}
