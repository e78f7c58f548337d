package store

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/stakahashi/tenken/internal/event"
	"github.com/stakahashi/tenken/internal/types"
)

// Publisher receives a change event after a structure write commits.
// *eventbus.Bus satisfies it; tests may pass nil.
type Publisher interface {
	Publish(ctx context.Context, evt event.DomainEvent)
}

// SQLStore implements Store on SQLite through the ent SQL builder.
type SQLStore struct {
	db  *stdsql.DB
	bus Publisher
}

// NewSQLStore wraps an open database handle. The caller owns the handle.
func NewSQLStore(db *stdsql.DB, bus Publisher) *SQLStore {
	return &SQLStore{db: db, bus: bus}
}

var builder = entsql.Dialect(dialect.SQLite)

// Migrate creates the schema. Idempotent; run once at startup.
func (s *SQLStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS places (
			id   TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			ord  INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS categories (
			id       TEXT PRIMARY KEY,
			place_id TEXT NOT NULL,
			name     TEXT NOT NULL,
			ord      INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS items (
			id              TEXT PRIMARY KEY,
			category_id     TEXT NOT NULL,
			label           TEXT NOT NULL,
			item_type       TEXT NOT NULL,
			standard_value  REAL,
			error_threshold REAL,
			ord             INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_categories_place ON categories (place_id, ord);
		CREATE INDEX IF NOT EXISTS idx_items_category ON items (category_id, ord);

		CREATE TABLE IF NOT EXISTS reports (
			id                TEXT PRIMARY KEY,
			submitted_at      TEXT NOT NULL,
			submitted_by_id   TEXT NOT NULL,
			submitted_by_name TEXT NOT NULL,
			payload           TEXT NOT NULL,
			mirrored          INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL,
			name       TEXT NOT NULL,
			admin      INTEGER NOT NULL DEFAULT 0,
			approved   INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);
	`)
	return err
}

func (s *SQLStore) publish(ctx context.Context, path, op, docID, actor string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, event.NewStructureChanged(event.StructureChangedPayload{
		Path: path, Op: op, DocID: docID, Actor: actor,
	}))
}

// ── Structure ────────────────────────────────────────────────────────────────

func (s *SQLStore) ListCollection(ctx context.Context, path string) ([]Record, error) {
	level, placeID, categoryID, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	var query string
	var args []any
	switch level {
	case LevelPlaces:
		query, args = builder.Select("id", "name", "ord").
			From(entsql.Table("places")).
			OrderBy("ord").Query()
	case LevelCategories:
		query, args = builder.Select("id", "name", "ord").
			From(entsql.Table("categories")).
			Where(entsql.EQ("place_id", placeID)).
			OrderBy("ord").Query()
	case LevelItems:
		query, args = builder.Select("id", "label", "ord", "item_type", "standard_value", "error_threshold").
			From(entsql.Table("items")).
			Where(entsql.EQ("category_id", categoryID)).
			OrderBy("ord").Query()
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", path, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if level == LevelItems {
			var itemType string
			var std, thr stdsql.NullFloat64
			if err := rows.Scan(&r.ID, &r.Name, &r.Order, &itemType, &std, &thr); err != nil {
				return nil, fmt.Errorf("scanning item: %w", err)
			}
			r.ItemType = types.ItemType(itemType)
			if std.Valid {
				v := std.Float64
				r.StandardValue = &v
			}
			if thr.Valid {
				v := thr.Float64
				r.ErrorThreshold = &v
			}
		} else if err := rows.Scan(&r.ID, &r.Name, &r.Order); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) AddPlace(ctx context.Context, name, actor string) (string, error) {
	id := uuid.New().String()
	err := s.addOrdered(ctx, "places", nil, map[string]any{"id": id, "name": name})
	if err != nil {
		return "", err
	}
	s.publish(ctx, PlacesPath(), "add", id, actor)
	return id, nil
}

func (s *SQLStore) AddCategory(ctx context.Context, placeID, name, actor string) (string, error) {
	id := uuid.New().String()
	scope := entsql.EQ("place_id", placeID)
	err := s.addOrdered(ctx, "categories", scope, map[string]any{
		"id": id, "place_id": placeID, "name": name,
	})
	if err != nil {
		return "", err
	}
	s.publish(ctx, CategoriesPath(placeID), "add", id, actor)
	return id, nil
}

func (s *SQLStore) AddItem(ctx context.Context, placeID, categoryID string, def ItemDef, actor string) (string, error) {
	id := uuid.New().String()
	cols := map[string]any{
		"id": id, "category_id": categoryID, "label": def.Label, "item_type": string(def.Type),
	}
	if def.Type == types.ItemNumber {
		cols["standard_value"] = deref(def.StandardValue)
		cols["error_threshold"] = deref(def.ErrorThreshold)
	}
	scope := entsql.EQ("category_id", categoryID)
	if err := s.addOrdered(ctx, "items", scope, cols); err != nil {
		return "", err
	}
	s.publish(ctx, ItemsPath(placeID, categoryID), "add", id, actor)
	return id, nil
}

func deref(f *float64) any {
	if f == nil {
		return float64(0)
	}
	return *f
}

// addOrdered appends a document at the end of its collection: ord = len,
// matching the original admin behaviour (order: places.length).
func (s *SQLStore) addOrdered(ctx context.Context, table string, scope *entsql.Predicate, cols map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	sel := builder.Select(entsql.Count("*")).From(entsql.Table(table))
	if scope != nil {
		sel.Where(scope)
	}
	query, args := sel.Query()
	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return fmt.Errorf("counting %s: %w", table, err)
	}

	names := make([]string, 0, len(cols)+1)
	values := make([]any, 0, len(cols)+1)
	for k, v := range cols {
		names = append(names, k)
		values = append(values, v)
	}
	names = append(names, "ord")
	values = append(values, n)

	query, args = builder.Insert(table).Columns(names...).Values(values...).Query()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting into %s: %w", table, err)
	}
	return tx.Commit()
}

func (s *SQLStore) DeletePlace(ctx context.Context, id, actor string) error {
	if err := s.deleteOrdered(ctx, "places", nil, id); err != nil {
		return err
	}
	s.publish(ctx, PlacesPath(), "delete", id, actor)
	return nil
}

func (s *SQLStore) DeleteCategory(ctx context.Context, placeID, id, actor string) error {
	scope := entsql.EQ("place_id", placeID)
	if err := s.deleteOrdered(ctx, "categories", scope, id); err != nil {
		return err
	}
	s.publish(ctx, CategoriesPath(placeID), "delete", id, actor)
	return nil
}

func (s *SQLStore) DeleteItem(ctx context.Context, placeID, categoryID, id, actor string) error {
	scope := entsql.EQ("category_id", categoryID)
	if err := s.deleteOrdered(ctx, "items", scope, id); err != nil {
		return err
	}
	s.publish(ctx, ItemsPath(placeID, categoryID), "delete", id, actor)
	return nil
}

// deleteOrdered removes a document and re-compacts the ord column so the
// collection stays a dense permutation of [0, len). Child documents of a
// deleted node are orphaned, not cascaded, matching the remote-store
// behaviour the synchronizer expects.
func (s *SQLStore) deleteOrdered(ctx context.Context, table string, scope *entsql.Predicate, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	query, args := builder.Delete(table).Where(entsql.EQ("id", id)).Query()
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	sel := builder.Select("id").From(entsql.Table(table)).OrderBy("ord")
	if scope != nil {
		sel.Where(scope)
	}
	query, args = sel.Query()
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("reading %s for compaction: %w", table, err)
	}
	var ids []string
	for rows.Next() {
		var rid string
		if err := rows.Scan(&rid); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, rid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for i, rid := range ids {
		query, args = builder.Update(table).Set("ord", i).Where(entsql.EQ("id", rid)).Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("compacting %s order: %w", table, err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) ReorderPlaces(ctx context.Context, orderedIDs []string, actor string) error {
	if err := s.reorder(ctx, "places", nil, orderedIDs); err != nil {
		return err
	}
	s.publish(ctx, PlacesPath(), "reorder", "", actor)
	return nil
}

func (s *SQLStore) ReorderCategories(ctx context.Context, placeID string, orderedIDs []string, actor string) error {
	scope := entsql.EQ("place_id", placeID)
	if err := s.reorder(ctx, "categories", scope, orderedIDs); err != nil {
		return err
	}
	s.publish(ctx, CategoriesPath(placeID), "reorder", "", actor)
	return nil
}

func (s *SQLStore) ReorderItems(ctx context.Context, placeID, categoryID string, orderedIDs []string, actor string) error {
	scope := entsql.EQ("category_id", categoryID)
	if err := s.reorder(ctx, "items", scope, orderedIDs); err != nil {
		return err
	}
	s.publish(ctx, ItemsPath(placeID, categoryID), "reorder", "", actor)
	return nil
}

// reorder rewrites the ord column in one transaction from the supplied
// permutation. The permutation must cover exactly the current ids.
func (s *SQLStore) reorder(ctx context.Context, table string, scope *entsql.Predicate, orderedIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback()

	sel := builder.Select("id").From(entsql.Table(table))
	if scope != nil {
		sel.Where(scope)
	}
	query, args := sel.Query()
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("reading %s ids: %w", table, err)
	}
	current := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		current[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(orderedIDs) != len(current) {
		return ErrBadReorder
	}
	for _, id := range orderedIDs {
		if !current[id] {
			return ErrBadReorder
		}
		delete(current, id)
	}

	for i, id := range orderedIDs {
		query, args = builder.Update(table).Set("ord", i).Where(entsql.EQ("id", id)).Query()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("updating %s order: %w", table, err)
		}
	}
	return tx.Commit()
}

// ── Reports ──────────────────────────────────────────────────────────────────

func (s *SQLStore) AppendReport(ctx context.Context, snap *types.ReportSnapshot) error {
	payload, err := json.Marshal(snap.Values)
	if err != nil {
		return fmt.Errorf("encoding report values: %w", err)
	}
	query, args := builder.Insert("reports").
		Columns("id", "submitted_at", "submitted_by_id", "submitted_by_name", "payload", "mirrored").
		Values(snap.ID, snap.SubmittedAt.Format(time.RFC3339Nano), snap.SubmittedBy.ID, snap.SubmittedBy.Name, string(payload), boolInt(snap.Mirrored)).
		Query()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("appending report: %w", err)
	}
	return nil
}

func (s *SQLStore) MarkMirrored(ctx context.Context, reportID string) error {
	query, args := builder.Update("reports").Set("mirrored", 1).Where(entsql.EQ("id", reportID)).Query()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("marking report mirrored: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListReports(ctx context.Context, limit int) ([]types.ReportSnapshot, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query, args := builder.Select("id", "submitted_at", "submitted_by_id", "submitted_by_name", "payload", "mirrored").
		From(entsql.Table("reports")).
		OrderBy(entsql.Desc("submitted_at")).
		Limit(limit).Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	defer rows.Close()

	var out []types.ReportSnapshot
	for rows.Next() {
		var snap types.ReportSnapshot
		var at, payload string
		var mirrored int
		if err := rows.Scan(&snap.ID, &at, &snap.SubmittedBy.ID, &snap.SubmittedBy.Name, &payload, &mirrored); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		snap.SubmittedAt, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parsing report timestamp: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &snap.Values); err != nil {
			return nil, fmt.Errorf("decoding report values: %w", err)
		}
		snap.Mirrored = mirrored != 0
		out = append(out, snap)
	}
	return out, rows.Err()
}

// ── Users ────────────────────────────────────────────────────────────────────

func (s *SQLStore) UpsertUser(ctx context.Context, u types.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	query, args := builder.Insert("users").
		Columns("id", "email", "name", "admin", "approved", "created_at").
		Values(u.ID, u.Email, u.Name, boolInt(u.Admin), boolInt(u.Approved), u.CreatedAt.Format(time.RFC3339Nano)).
		Query()
	// SQLite upsert: keep the registry row current on re-login.
	query += " ON CONFLICT(id) DO UPDATE SET email = excluded.email, name = excluded.name"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (types.User, error) {
	query, args := builder.Select("id", "email", "name", "admin", "approved", "created_at").
		From(entsql.Table("users")).
		Where(entsql.EQ("id", id)).Query()
	var u types.User
	var admin, approved int
	var createdAt string
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&u.ID, &u.Email, &u.Name, &admin, &approved, &createdAt)
	if err == stdsql.ErrNoRows {
		return types.User{}, ErrNotFound
	}
	if err != nil {
		return types.User{}, fmt.Errorf("reading user: %w", err)
	}
	u.Admin, u.Approved = admin != 0, approved != 0
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return u, nil
}

func (s *SQLStore) SetApproved(ctx context.Context, id string, approved bool, actor string) error {
	if err := s.setUserFlag(ctx, id, "approved", approved); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(ctx, event.NewUserApproved(event.UserApprovedPayload{
			UserID: id, Approved: approved, Actor: actor,
		}))
	}
	return nil
}

func (s *SQLStore) SetAdmin(ctx context.Context, id string, admin bool, actor string) error {
	return s.setUserFlag(ctx, id, "admin", admin)
}

func (s *SQLStore) setUserFlag(ctx context.Context, id, column string, value bool) error {
	query, args := builder.Update("users").Set(column, boolInt(value)).Where(entsql.EQ("id", id)).Query()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating user %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListUsers(ctx context.Context) ([]types.User, error) {
	query, args := builder.Select("id", "email", "name", "admin", "approved", "created_at").
		From(entsql.Table("users")).
		OrderBy("created_at").Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var out []types.User
	for rows.Next() {
		var u types.User
		var admin, approved int
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &admin, &approved, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		u.Admin, u.Approved = admin != 0, approved != 0
		u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, u)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
