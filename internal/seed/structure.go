// Package seed provides demo structure seeding for an empty database.
package seed

import (
	"context"
	"fmt"
	"log"

	"github.com/stakahashi/tenken/internal/store"
	"github.com/stakahashi/tenken/internal/types"
)

// Structure creates a small demo tree for a water treatment facility. If
// places already exist (idempotent check), it skips seeding.
func Structure(ctx context.Context, st store.StructureStore) error {
	existing, err := st.ListCollection(ctx, store.PlacesPath())
	if err != nil {
		return fmt.Errorf("checking places: %w", err)
	}
	if len(existing) > 0 {
		log.Printf("structure already seeded (%d places found), skipping", len(existing))
		return nil
	}

	actor := "system"

	placeID, err := st.AddPlace(ctx, "浄水場", actor)
	if err != nil {
		return fmt.Errorf("creating place: %w", err)
	}

	catID, err := st.AddCategory(ctx, placeID, "管理棟", actor)
	if err != nil {
		return fmt.Errorf("creating category: %w", err)
	}

	standard := 50.0
	threshold := 5.0
	_, err = st.AddItem(ctx, placeID, catID, store.ItemDef{
		Label:          "排水流量計",
		Type:           types.ItemNumber,
		StandardValue:  &standard,
		ErrorThreshold: &threshold,
	}, actor)
	if err != nil {
		return fmt.Errorf("creating flow meter item: %w", err)
	}

	_, err = st.AddItem(ctx, placeID, catID, store.ItemDef{
		Label: "計器盤",
		Type:  types.ItemCheckbox,
	}, actor)
	if err != nil {
		return fmt.Errorf("creating panel item: %w", err)
	}

	log.Printf("seeded demo structure: 1 place, 1 category, 2 items")
	return nil
}
