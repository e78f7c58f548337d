package watch

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stakahashi/tenken/internal/eventbus"
	"github.com/stakahashi/tenken/internal/store"
	"github.com/stakahashi/tenken/internal/types"
)

func awaitTree(t *testing.T, trees <-chan *types.StructureTree, cond func(*types.StructureTree) bool, msg string) *types.StructureTree {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case tree, ok := <-trees:
			if !ok {
				t.Fatalf("%s: subscription closed", msg)
			}
			if cond(tree) {
				return tree
			}
		case <-deadline:
			t.Fatal(msg)
		}
	}
}

func startSync(t *testing.T) (context.Context, *store.MemoryStore, *Synchronizer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := eventbus.New(64)
	st := store.NewMemoryStore(bus)
	bus.Start(ctx)

	s := NewSynchronizer(st, bus)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Close)
	return ctx, st, s
}

func TestSynchronizer_BuildsFullTree(t *testing.T) {
	ctx, st, s := startSync(t)

	placeID, _ := st.AddPlace(ctx, "浄水場", "tester")
	catID, _ := st.AddCategory(ctx, placeID, "管理棟", "tester")
	standard, threshold := 50.0, 5.0
	st.AddItem(ctx, placeID, catID, store.ItemDef{
		Label: "排水流量計", Type: types.ItemNumber,
		StandardValue: &standard, ErrorThreshold: &threshold,
	}, "tester")
	st.AddItem(ctx, placeID, catID, store.ItemDef{
		Label: "計器盤", Type: types.ItemCheckbox,
	}, "tester")

	trees, cancel := s.Subscribe()
	defer cancel()

	tree := awaitTree(t, trees, func(tr *types.StructureTree) bool {
		p := tr.FindPlace(placeID)
		if p == nil {
			return false
		}
		c := p.FindCategory(catID)
		return c != nil && len(c.Items) == 2
	}, "full tree not assembled")

	p := tree.FindPlace(placeID)
	if p.Name != "浄水場" || p.Degraded {
		t.Errorf("place = %+v", p)
	}
	c := p.FindCategory(catID)
	if c.Name != "管理棟" || c.Degraded {
		t.Errorf("category = %+v", c)
	}
	flow := c.Items[0]
	if flow.Label != "排水流量計" || flow.Type != types.ItemNumber || flow.Order != 0 {
		t.Errorf("first item = %+v", flow)
	}
	if flow.StandardValue == nil || *flow.StandardValue != 50 {
		t.Errorf("standard = %v, want 50", flow.StandardValue)
	}
	if flow.ErrorThreshold == nil || *flow.ErrorThreshold != 5 {
		t.Errorf("threshold = %v, want 5", flow.ErrorThreshold)
	}
	panel := c.Items[1]
	if panel.Label != "計器盤" || panel.Type != types.ItemCheckbox || panel.Order != 1 {
		t.Errorf("second item = %+v", panel)
	}

	if got := s.Tree(); got == nil || got.FindPlace(placeID) == nil {
		t.Error("Tree() does not reflect the emitted tree")
	}
}

func TestSynchronizer_PlaceRefreshKeepsPopulatedChildren(t *testing.T) {
	ctx, st, s := startSync(t)

	placeID, _ := st.AddPlace(ctx, "浄水場", "tester")
	catID, _ := st.AddCategory(ctx, placeID, "管理棟", "tester")
	st.AddItem(ctx, placeID, catID, store.ItemDef{Label: "計器盤", Type: types.ItemCheckbox}, "tester")

	trees, cancel := s.Subscribe()
	defer cancel()

	awaitTree(t, trees, func(tr *types.StructureTree) bool {
		p := tr.FindPlace(placeID)
		return p != nil && p.FindCategory(catID) != nil && len(p.FindCategory(catID).Items) == 1
	}, "initial tree not assembled")

	// A place-level-only change must not wipe the populated subtree.
	other, _ := st.AddPlace(ctx, "配水池", "tester")

	tree := awaitTree(t, trees, func(tr *types.StructureTree) bool {
		return tr.FindPlace(other) != nil
	}, "place refresh not observed")

	p := tree.FindPlace(placeID)
	if p == nil {
		t.Fatal("existing place lost on refresh")
	}
	c := p.FindCategory(catID)
	if c == nil || len(c.Items) != 1 {
		t.Fatalf("populated children lost on place refresh: %+v", p)
	}
}

func TestSynchronizer_RemovalPrunesSubtree(t *testing.T) {
	ctx, st, s := startSync(t)

	keep, _ := st.AddPlace(ctx, "浄水場", "tester")
	gone, _ := st.AddPlace(ctx, "旧施設", "tester")
	goneCat, _ := st.AddCategory(ctx, gone, "倉庫", "tester")
	st.AddItem(ctx, gone, goneCat, store.ItemDef{Label: "扉", Type: types.ItemCheckbox}, "tester")

	trees, cancel := s.Subscribe()
	defer cancel()

	awaitTree(t, trees, func(tr *types.StructureTree) bool {
		p := tr.FindPlace(gone)
		return p != nil && p.FindCategory(goneCat) != nil && len(p.FindCategory(goneCat).Items) == 1
	}, "initial tree not assembled")

	if err := st.DeletePlace(ctx, gone, "tester"); err != nil {
		t.Fatalf("DeletePlace: %v", err)
	}

	tree := awaitTree(t, trees, func(tr *types.StructureTree) bool {
		return tr.FindPlace(gone) == nil && tr.FindPlace(keep) != nil
	}, "place removal not observed")
	if len(tree.Places) != 1 {
		t.Errorf("tree places = %+v", tree.Places)
	}
}

func TestSynchronizer_ReorderIsObserved(t *testing.T) {
	ctx, st, s := startSync(t)

	a, _ := st.AddPlace(ctx, "a", "tester")
	b, _ := st.AddPlace(ctx, "b", "tester")

	trees, cancel := s.Subscribe()
	defer cancel()

	awaitTree(t, trees, func(tr *types.StructureTree) bool {
		return len(tr.Places) == 2
	}, "initial tree not assembled")

	if err := st.ReorderPlaces(ctx, []string{b, a}, "tester"); err != nil {
		t.Fatalf("ReorderPlaces: %v", err)
	}

	awaitTree(t, trees, func(tr *types.StructureTree) bool {
		return len(tr.Places) == 2 && tr.Places[0].ID == b && tr.Places[1].ID == a
	}, "reorder not observed")
}

func TestSynchronizer_SubscribePrimesWithLastTree(t *testing.T) {
	ctx, st, s := startSync(t)

	placeID, _ := st.AddPlace(ctx, "浄水場", "tester")

	first, cancelFirst := s.Subscribe()
	defer cancelFirst()
	awaitTree(t, first, func(tr *types.StructureTree) bool {
		return tr.FindPlace(placeID) != nil
	}, "tree not emitted")

	// A late subscriber gets the current tree without waiting for a change.
	late, cancelLate := s.Subscribe()
	defer cancelLate()
	select {
	case tree := <-late:
		if tree.FindPlace(placeID) == nil {
			t.Errorf("primed tree = %+v", tree)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("late subscriber not primed")
	}
}

func TestSynchronizer_CategoryMergeIsOrderIndependent(t *testing.T) {
	// Build the same two-place structure twice, applying the category-level
	// writes in opposite orders, and compare the assembled trees by name.
	build := func(swap bool) map[string][]string {
		ctx, st, s := startSync(t)

		a, _ := st.AddPlace(ctx, "浄水場", "tester")
		b, _ := st.AddPlace(ctx, "配水池", "tester")

		type write struct{ place, name string }
		writes := []write{{a, "管理棟"}, {b, "ポンプ室"}}
		if swap {
			writes[0], writes[1] = writes[1], writes[0]
		}
		for _, w := range writes {
			if _, err := st.AddCategory(ctx, w.place, w.name, "tester"); err != nil {
				t.Fatalf("AddCategory %s: %v", w.name, err)
			}
		}

		trees, cancel := s.Subscribe()
		defer cancel()
		tree := awaitTree(t, trees, func(tr *types.StructureTree) bool {
			pa, pb := tr.FindPlace(a), tr.FindPlace(b)
			return pa != nil && pb != nil &&
				len(pa.Categories) == 1 && len(pb.Categories) == 1
		}, "two-place tree not assembled")

		byName := make(map[string][]string, len(tree.Places))
		for _, p := range tree.Places {
			var cats []string
			for _, c := range p.Categories {
				cats = append(cats, c.Name)
			}
			byName[p.Name] = cats
		}
		return byName
	}

	forward := build(false)
	reversed := build(true)
	if !reflect.DeepEqual(forward, reversed) {
		t.Errorf("merge depends on write order: %v vs %v", forward, reversed)
	}
}

func TestSynchronizer_StaleSnapshotForRemovedPlaceIsDiscarded(t *testing.T) {
	ctx, st, s := startSync(t)

	placeID, _ := st.AddPlace(ctx, "旧施設", "tester")
	st.AddCategory(ctx, placeID, "倉庫", "tester")

	trees, cancel := s.Subscribe()
	defer cancel()
	awaitTree(t, trees, func(tr *types.StructureTree) bool {
		p := tr.FindPlace(placeID)
		return p != nil && len(p.Categories) == 1
	}, "initial tree not assembled")

	if err := st.DeletePlace(ctx, placeID, "tester"); err != nil {
		t.Fatalf("DeletePlace: %v", err)
	}
	awaitTree(t, trees, func(tr *types.StructureTree) bool {
		return tr.FindPlace(placeID) == nil
	}, "place removal not observed")

	// A snapshot from the dropped category watcher can still be queued
	// behind the removal; it must not resurrect the pruned subtree.
	s.updates <- update{
		level:   store.LevelCategories,
		placeID: placeID,
		snap:    Snapshot{Records: []store.Record{{ID: "zombie", Name: "倉庫"}}},
	}

	// A later real change flushes the queue; updates are applied in order,
	// so once it lands the late snapshot has been processed.
	after, _ := st.AddPlace(ctx, "浄水場", "tester")
	tree := awaitTree(t, trees, func(tr *types.StructureTree) bool {
		return tr.FindPlace(after) != nil
	}, "follow-up change not observed")

	if tree.FindPlace(placeID) != nil {
		t.Error("late snapshot resurrected a removed place")
	}
	if got := s.Tree(); got.FindPlace(placeID) != nil {
		t.Error("Tree() still carries the removed place")
	}
}

func TestSynchronizer_CloseWithEmissionsInFlight(t *testing.T) {
	ctx, st, s := startSync(t)

	trees, cancel := s.Subscribe()
	defer cancel()

	// Close without draining: several change notifications are still
	// working their way through the watchers.
	placeID, _ := st.AddPlace(ctx, "浄水場", "tester")
	catID, _ := st.AddCategory(ctx, placeID, "管理棟", "tester")
	st.AddItem(ctx, placeID, catID, store.ItemDef{Label: "計器盤", Type: types.ItemCheckbox}, "tester")
	s.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-trees:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed on teardown")
		}
	}
}

func TestSynchronizer_CloseClosesSubscriptions(t *testing.T) {
	_, _, s := startSync(t)

	trees, cancel := s.Subscribe()
	defer cancel()

	s.Close()
	s.Close() // idempotent

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-trees:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed on teardown")
		}
	}
}

func TestSynchronizer_CloseWithoutStart(t *testing.T) {
	bus := eventbus.New(16)
	s := NewSynchronizer(store.NewMemoryStore(bus), bus)
	s.Close()
}
