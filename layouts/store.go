package layouts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/hazyhaar/pkg/dbopen"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/workspaces/contract"
	"github.com/hazyhaar/workspaces/registry"
)

// Schema contains the DDL of the layout store.
const Schema = `
CREATE TABLE IF NOT EXISTS layouts (
    name       TEXT PRIMARY KEY,
    type       TEXT NOT NULL DEFAULT 'Workspace',
    components TEXT NOT NULL DEFAULT '[]',
    metadata   TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS workspace_contexts (
    workspace_id TEXT PRIMARY KEY,
    data         TEXT NOT NULL DEFAULT '{}',
    updated_at   INTEGER NOT NULL
);
`

// SnapshotFunc fetches the current tree of a workspace.
type SnapshotFunc func(ctx context.Context, workspaceID string) (contract.WorkspaceSnapshot, error)

// Store keeps layouts and workspace contexts in SQLite. Context subscribers
// are local to the process.
type Store struct {
	DB       *sql.DB
	snapshot SnapshotFunc
	logger   *slog.Logger

	subs *registry.Registry[map[string]any]
}

// Option configures a Store.
type Option func(*Store)

// WithSnapshotter sets how Save reads the workspace being saved.
func WithSnapshotter(fn SnapshotFunc) Option {
	return func(s *Store) { s.snapshot = fn }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Open opens (or creates) the store at path with the HOROS pragmas and
// applies the schema. ":memory:" keeps everything in one in-memory
// connection.
func Open(path string, opts ...Option) (*Store, error) {
	dbOpts := []dbopen.Option{dbopen.WithSchema(Schema)}
	if path != ":memory:" {
		dbOpts = append(dbOpts, dbopen.WithMkdirAll())
	}
	db, err := dbopen.Open(path, dbOpts...)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	return New(db, opts...)
}

// New wraps an open database, applying the schema.
func New(db *sql.DB, opts ...Option) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("layouts: apply schema: %w", err)
	}
	s := &Store{
		DB:     db,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.subs = registry.New[map[string]any](registry.WithLogger(s.logger))
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Save snapshots the workspace and stores it as a layout, replacing any
// layout of the same name.
func (s *Store) Save(ctx context.Context, req SaveRequest) error {
	if req.Name == "" || req.WorkspaceID == "" {
		return contract.Programming("layouts: save needs a name and a workspace id")
	}
	if s.snapshot == nil {
		return contract.Programming("layouts: store has no snapshotter")
	}
	snap, err := s.snapshot(ctx, req.WorkspaceID)
	if err != nil {
		return err
	}
	defs, err := FromSnapshot(snap.Children)
	if err != nil {
		return err
	}
	components, err := json.Marshal(defs)
	if err != nil {
		return err
	}
	layout := contract.Layout{Name: req.Name, Type: "Workspace", Components: components}
	if req.SaveContext {
		data, err := s.GetContext(ctx, req.WorkspaceID)
		if err != nil {
			return err
		}
		if len(data) > 0 {
			layout.Metadata = map[string]any{"context": data}
		}
	}
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		return upsertLayout(ctx, tx, layout, true)
	})
}

func upsertLayout(ctx context.Context, tx *sql.Tx, l contract.Layout, replace bool) error {
	if l.Name == "" {
		return contract.Programming("layouts: layout without a name")
	}
	typ := l.Type
	if typ == "" {
		typ = "Workspace"
	}
	components := string(l.Components)
	if components == "" {
		components = "[]"
	}
	meta, err := json.Marshal(l.Metadata)
	if err != nil {
		return err
	}
	if l.Metadata == nil {
		meta = []byte("{}")
	}
	now := time.Now().UnixMilli()

	query := `
		INSERT INTO layouts (name, type, components, metadata, created_at, updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET
			type = excluded.type, components = excluded.components,
			metadata = excluded.metadata, updated_at = excluded.updated_at`
	if !replace {
		query = `
		INSERT OR IGNORE INTO layouts (name, type, components, metadata, created_at, updated_at)
		VALUES (?,?,?,?,?,?)`
	}
	_, err = tx.ExecContext(ctx, query, l.Name, typ, components, string(meta), now, now)
	return err
}

// Delete removes a layout.
func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := dbopen.Exec(ctx, s.DB, `DELETE FROM layouts WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrLayoutNotFound, name)
	}
	return nil
}

// Import stores every layout in one transaction.
func (s *Store) Import(ctx context.Context, list []contract.Layout, mode ImportMode) error {
	replace := mode != ImportMerge
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		for _, l := range list {
			if err := upsertLayout(ctx, tx, l, replace); err != nil {
				return err
			}
		}
		return nil
	})
}

// Export returns every layout, sorted by name.
func (s *Store) Export(ctx context.Context) ([]contract.Layout, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT name, type, components, metadata FROM layouts ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contract.Layout
	for rows.Next() {
		l, err := scanLayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// List returns the layout names, sorted.
func (s *Store) List(ctx context.Context) ([]contract.LayoutSummary, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT name FROM layouts ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []contract.LayoutSummary
	for rows.Next() {
		var sum contract.LayoutSummary
		if err := rows.Scan(&sum.Name); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Load returns one layout.
func (s *Store) Load(ctx context.Context, name string) (contract.Layout, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT name, type, components, metadata FROM layouts WHERE name = ?`, name)
	l, err := scanLayout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return contract.Layout{}, fmt.Errorf("%w: %s", ErrLayoutNotFound, name)
	}
	return l, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLayout(sc scanner) (contract.Layout, error) {
	var (
		l          contract.Layout
		components string
		meta       string
	)
	if err := sc.Scan(&l.Name, &l.Type, &components, &meta); err != nil {
		return contract.Layout{}, err
	}
	l.Components = json.RawMessage(components)
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &l.Metadata); err != nil {
			return contract.Layout{}, fmt.Errorf("layouts: %s metadata: %w", l.Name, err)
		}
	}
	return l, nil
}

// GetContext returns the context of a workspace, empty if none was set.
func (s *Store) GetContext(ctx context.Context, workspaceID string) (map[string]any, error) {
	var raw string
	err := s.DB.QueryRowContext(ctx, `SELECT data FROM workspace_contexts WHERE workspace_id = ?`, workspaceID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	data := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("layouts: context of %s: %w", workspaceID, err)
	}
	return data, nil
}

// SetContext replaces the context of a workspace.
func (s *Store) SetContext(ctx context.Context, workspaceID string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	if err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		return writeContext(ctx, tx, workspaceID, data)
	}); err != nil {
		return err
	}
	s.notify(workspaceID, data)
	return nil
}

// UpdateContext merges delta into the context of a workspace.
func (s *Store) UpdateContext(ctx context.Context, workspaceID string, delta map[string]any) error {
	var merged map[string]any
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT data FROM workspace_contexts WHERE workspace_id = ?`, workspaceID).Scan(&raw)
		current := map[string]any{}
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal([]byte(raw), &current); err != nil {
				return err
			}
		}
		merged = merge(current, delta)
		return writeContext(ctx, tx, workspaceID, merged)
	})
	if err != nil {
		return err
	}
	s.notify(workspaceID, merged)
	return nil
}

func writeContext(ctx context.Context, tx *sql.Tx, workspaceID string, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO workspace_contexts (workspace_id, data, updated_at) VALUES (?,?,?)
		ON CONFLICT(workspace_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		workspaceID, string(raw), time.Now().UnixMilli())
	return err
}

// SubscribeContext calls fn with the full context after each change made
// through this store. Subscribers run in registration order.
func (s *Store) SubscribeContext(workspaceID string, fn func(map[string]any)) func() {
	return s.subs.Add(workspaceID, func(data map[string]any) error {
		fn(maps.Clone(data))
		return nil
	})
}

func (s *Store) notify(workspaceID string, data map[string]any) {
	s.subs.Execute(workspaceID, data)
}
