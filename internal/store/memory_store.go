package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stakahashi/tenken/internal/event"
	"github.com/stakahashi/tenken/internal/types"
)

// MemoryStore implements Store using in-memory maps.
// Intended for demos and testing — no SQLite required. It publishes the same
// change events the SQL store does, so the watch layer behaves identically.
type MemoryStore struct {
	mu         sync.RWMutex
	bus        Publisher
	places     []Record
	categories map[string][]Record // placeID → ordered records
	items      map[string][]Record // categoryID → ordered records
	reports    []types.ReportSnapshot
	users      map[string]types.User
}

// NewMemoryStore creates a new empty MemoryStore.
func NewMemoryStore(bus Publisher) *MemoryStore {
	return &MemoryStore{
		bus:        bus,
		categories: make(map[string][]Record),
		items:      make(map[string][]Record),
		users:      make(map[string]types.User),
	}
}

func (s *MemoryStore) publish(ctx context.Context, path, op, docID, actor string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, event.NewStructureChanged(event.StructureChangedPayload{
		Path: path, Op: op, DocID: docID, Actor: actor,
	}))
}

func (s *MemoryStore) ListCollection(_ context.Context, path string) ([]Record, error) {
	level, placeID, categoryID, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var src []Record
	switch level {
	case LevelPlaces:
		src = s.places
	case LevelCategories:
		src = s.categories[placeID]
	case LevelItems:
		src = s.items[categoryID]
	}
	out := make([]Record, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (s *MemoryStore) AddPlace(ctx context.Context, name, actor string) (string, error) {
	id := uuid.New().String()
	s.mu.Lock()
	s.places = append(s.places, Record{ID: id, Name: name, Order: len(s.places)})
	s.mu.Unlock()
	s.publish(ctx, PlacesPath(), "add", id, actor)
	return id, nil
}

func (s *MemoryStore) AddCategory(ctx context.Context, placeID, name, actor string) (string, error) {
	id := uuid.New().String()
	s.mu.Lock()
	s.categories[placeID] = append(s.categories[placeID], Record{
		ID: id, Name: name, Order: len(s.categories[placeID]),
	})
	s.mu.Unlock()
	s.publish(ctx, CategoriesPath(placeID), "add", id, actor)
	return id, nil
}

func (s *MemoryStore) AddItem(ctx context.Context, placeID, categoryID string, def ItemDef, actor string) (string, error) {
	id := uuid.New().String()
	rec := Record{
		ID: id, Name: def.Label, ItemType: def.Type,
		StandardValue: def.StandardValue, ErrorThreshold: def.ErrorThreshold,
	}
	s.mu.Lock()
	rec.Order = len(s.items[categoryID])
	s.items[categoryID] = append(s.items[categoryID], rec)
	s.mu.Unlock()
	s.publish(ctx, ItemsPath(placeID, categoryID), "add", id, actor)
	return id, nil
}

func removeRecord(recs []Record, id string) ([]Record, bool) {
	for i, r := range recs {
		if r.ID == id {
			out := append(append([]Record{}, recs[:i]...), recs[i+1:]...)
			for j := range out {
				out[j].Order = j
			}
			return out, true
		}
	}
	return recs, false
}

func (s *MemoryStore) DeletePlace(ctx context.Context, id, actor string) error {
	s.mu.Lock()
	places, ok := removeRecord(s.places, id)
	if ok {
		s.places = places
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.publish(ctx, PlacesPath(), "delete", id, actor)
	return nil
}

func (s *MemoryStore) DeleteCategory(ctx context.Context, placeID, id, actor string) error {
	s.mu.Lock()
	cats, ok := removeRecord(s.categories[placeID], id)
	if ok {
		s.categories[placeID] = cats
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.publish(ctx, CategoriesPath(placeID), "delete", id, actor)
	return nil
}

func (s *MemoryStore) DeleteItem(ctx context.Context, placeID, categoryID, id, actor string) error {
	s.mu.Lock()
	items, ok := removeRecord(s.items[categoryID], id)
	if ok {
		s.items[categoryID] = items
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.publish(ctx, ItemsPath(placeID, categoryID), "delete", id, actor)
	return nil
}

func reorderRecords(recs []Record, orderedIDs []string) ([]Record, error) {
	if len(orderedIDs) != len(recs) {
		return nil, ErrBadReorder
	}
	byID := make(map[string]Record, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}
	out := make([]Record, 0, len(recs))
	for i, id := range orderedIDs {
		r, ok := byID[id]
		if !ok {
			return nil, ErrBadReorder
		}
		delete(byID, id)
		r.Order = i
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryStore) ReorderPlaces(ctx context.Context, orderedIDs []string, actor string) error {
	s.mu.Lock()
	out, err := reorderRecords(s.places, orderedIDs)
	if err == nil {
		s.places = out
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publish(ctx, PlacesPath(), "reorder", "", actor)
	return nil
}

func (s *MemoryStore) ReorderCategories(ctx context.Context, placeID string, orderedIDs []string, actor string) error {
	s.mu.Lock()
	out, err := reorderRecords(s.categories[placeID], orderedIDs)
	if err == nil {
		s.categories[placeID] = out
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publish(ctx, CategoriesPath(placeID), "reorder", "", actor)
	return nil
}

func (s *MemoryStore) ReorderItems(ctx context.Context, placeID, categoryID string, orderedIDs []string, actor string) error {
	s.mu.Lock()
	out, err := reorderRecords(s.items[categoryID], orderedIDs)
	if err == nil {
		s.items[categoryID] = out
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publish(ctx, ItemsPath(placeID, categoryID), "reorder", "", actor)
	return nil
}

func (s *MemoryStore) AppendReport(_ context.Context, snap *types.ReportSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, *snap)
	return nil
}

func (s *MemoryStore) MarkMirrored(_ context.Context, reportID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.reports {
		if s.reports[i].ID == reportID {
			s.reports[i].Mirrored = true
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) ListReports(_ context.Context, limit int) ([]types.ReportSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ReportSnapshot, len(s.reports))
	copy(out, s.reports)
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, u types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[u.ID]; ok {
		existing.Email, existing.Name = u.Email, u.Name
		s.users[u.ID] = existing
		return nil
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	s.users[u.ID] = u
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return types.User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) SetApproved(ctx context.Context, id string, approved bool, actor string) error {
	s.mu.Lock()
	u, ok := s.users[id]
	if ok {
		u.Approved = approved
		s.users[id] = u
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if s.bus != nil {
		s.bus.Publish(ctx, event.NewUserApproved(event.UserApprovedPayload{
			UserID: id, Approved: approved, Actor: actor,
		}))
	}
	return nil
}

func (s *MemoryStore) SetAdmin(_ context.Context, id string, admin bool, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Admin = admin
	s.users[id] = u
	return nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
