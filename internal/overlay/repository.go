package overlay

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Repository is the durable store for scenes and layers.
//
// Rename, visibility and delete operations on an unknown id are no-ops so the
// store tolerates stale commands. Multi-row writes (scene delete, reorder,
// live replacement) each run in a single transaction.
type Repository interface {
	LoadAll(ctx context.Context) ([]Scene, error)

	CreateScene(ctx context.Context, name string) (*Scene, error)
	// SeedScene creates a scene holding layer as its only draft layer in one
	// transaction.
	SeedScene(ctx context.Context, name string, layer *Layer) (*Scene, error)
	RenameScene(ctx context.Context, id, name string) error
	SetVisibility(ctx context.Context, id string, visible bool) error
	DeleteScene(ctx context.Context, id string) error

	InsertDraftLayer(ctx context.Context, sceneID string, layer *Layer) error
	UpdateDraftLayer(ctx context.Context, layerID string, update LayerUpdate) error
	DeleteDraftLayer(ctx context.Context, layerID string) error
	ReorderDraftLayers(ctx context.Context, sceneID string, orderedIDs []string) error

	// ReplaceLive atomically swaps the scene's live sequence for layers.
	ReplaceLive(ctx context.Context, sceneID string, layers []Layer) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository. The connection
// must have foreign keys enabled (database.Open does this).
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// LoadAll reads every scene ordered by sort_order with its layers split into
// draft and live, each ordered by sort_order. Both queries run in one
// transaction so a concurrent publish is seen entirely or not at all.
func (r *SQLiteRepository) LoadAll(ctx context.Context) ([]Scene, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting load transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // read-only; rollback is always safe

	scenes, err := loadScenes(ctx, tx)
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(scenes))
	for i := range scenes {
		index[scenes[i].ID] = i
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, scene_id, state, label, template, props, source_id
		FROM overlay_layers
		ORDER BY scene_id, state, sort_order, rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying layers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		layer, sceneID, state, err := scanLayer(rows)
		if err != nil {
			return nil, err
		}
		i, ok := index[sceneID]
		if !ok {
			continue
		}
		switch state {
		case StateDraft:
			scenes[i].Draft = append(scenes[i].Draft, *layer)
		case StateLive:
			scenes[i].Live = append(scenes[i].Live, *layer)
		default:
			return nil, fmt.Errorf("layer %s has unknown state %q", layer.ID, state)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating layers: %w", err)
	}
	return scenes, nil
}

func loadScenes(ctx context.Context, tx *sql.Tx) ([]Scene, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, visible, sort_order
		FROM scenes
		ORDER BY sort_order, rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying scenes: %w", err)
	}
	defer rows.Close()

	scenes := []Scene{}
	for rows.Next() {
		s, err := scanScene(rows)
		if err != nil {
			return nil, err
		}
		scenes = append(scenes, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scenes: %w", err)
	}
	return scenes, nil
}

func scanScene(row rowScanner) (*Scene, error) {
	var s Scene
	var visible int
	if err := row.Scan(&s.ID, &s.Name, &visible, &s.Order); err != nil {
		return nil, fmt.Errorf("scanning scene: %w", err)
	}
	s.Visible = visible != 0
	s.Draft = []Layer{}
	s.Live = []Layer{}
	return &s, nil
}

func scanLayer(row rowScanner) (*Layer, string, State, error) {
	var (
		l        Layer
		sceneID  string
		state    string
		template string
		props    string
		sourceID sql.NullString
	)
	if err := row.Scan(&l.ID, &sceneID, &state, &l.Label, &template, &props, &sourceID); err != nil {
		return nil, "", "", fmt.Errorf("scanning layer: %w", err)
	}
	l.Template = Template(template)
	l.SourceID = sourceID.String
	if err := json.Unmarshal([]byte(props), &l.Props); err != nil {
		return nil, "", "", fmt.Errorf("unmarshalling props for layer %s: %w", l.ID, err)
	}
	if l.Props == nil {
		l.Props = map[string]string{}
	}
	return &l, sceneID, State(state), nil
}

// CreateScene inserts a visible scene ordered after every existing scene.
func (r *SQLiteRepository) CreateScene(ctx context.Context, name string) (*Scene, error) {
	s := &Scene{
		ID:      GenerateID(),
		Name:    name,
		Visible: true,
		Draft:   []Layer{},
		Live:    []Layer{},
	}
	ts := now()

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO scenes (id, name, visible, sort_order, created_at, updated_at)
		VALUES (?, ?, 1, (SELECT COALESCE(MAX(sort_order) + 1, 0) FROM scenes), ?, ?)
		RETURNING sort_order`,
		s.ID, s.Name, ts, ts,
	).Scan(&s.Order)
	if err != nil {
		return nil, fmt.Errorf("inserting scene: %w", err)
	}
	return s, nil
}

// SeedScene inserts a visible scene and its first draft layer together.
// Either both rows are committed or neither is.
func (r *SQLiteRepository) SeedScene(ctx context.Context, name string, layer *Layer) (*Scene, error) {
	propsJSON, err := marshalProps(layer.Props)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	s := &Scene{
		ID:      GenerateID(),
		Name:    name,
		Visible: true,
		Live:    []Layer{},
	}
	ts := now()

	if err := tx.QueryRowContext(ctx, `
		INSERT INTO scenes (id, name, visible, sort_order, created_at, updated_at)
		VALUES (?, ?, 1, (SELECT COALESCE(MAX(sort_order) + 1, 0) FROM scenes), ?, ?)
		RETURNING sort_order`,
		s.ID, s.Name, ts, ts,
	).Scan(&s.Order); err != nil {
		return nil, fmt.Errorf("inserting scene: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO overlay_layers (id, scene_id, state, label, template, props, sort_order, created_at, updated_at)
		VALUES (?, ?, 'draft', ?, ?, ?, 0, ?, ?)`,
		layer.ID, s.ID, layer.Label, string(layer.Template), propsJSON, ts, ts,
	); err != nil {
		return nil, fmt.Errorf("inserting draft layer: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing seed: %w", err)
	}
	s.Draft = []Layer{*layer.DeepCopy()}
	return s, nil
}

// RenameScene sets a scene's name.
func (r *SQLiteRepository) RenameScene(ctx context.Context, id, name string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE scenes SET name = ?, updated_at = ? WHERE id = ?",
		name, now(), id,
	)
	if err != nil {
		return fmt.Errorf("renaming scene: %w", err)
	}
	return nil
}

// SetVisibility sets whether a scene's live layers are shown.
func (r *SQLiteRepository) SetVisibility(ctx context.Context, id string, visible bool) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE scenes SET visible = ?, updated_at = ? WHERE id = ?",
		boolToInt(visible), now(), id,
	)
	if err != nil {
		return fmt.Errorf("setting scene visibility: %w", err)
	}
	return nil
}

// DeleteScene removes a scene and all of its layers.
func (r *SQLiteRepository) DeleteScene(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM overlay_layers WHERE scene_id = ?", id); err != nil {
		return fmt.Errorf("deleting scene layers: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM scenes WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting scene: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing scene delete: %w", err)
	}
	return nil
}

// InsertDraftLayer appends layer to the end of the scene's draft sequence.
// Returns ErrSceneNotFound if the scene does not exist.
func (r *SQLiteRepository) InsertDraftLayer(ctx context.Context, sceneID string, layer *Layer) error {
	propsJSON, err := marshalProps(layer.Props)
	if err != nil {
		return err
	}
	ts := now()

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO overlay_layers (id, scene_id, state, label, template, props, sort_order, created_at, updated_at)
		SELECT ?, ?, 'draft', ?, ?, ?,
			(SELECT COALESCE(MAX(sort_order) + 1, 0) FROM overlay_layers WHERE scene_id = ? AND state = 'draft'),
			?, ?
		WHERE EXISTS (SELECT 1 FROM scenes WHERE id = ?)`,
		layer.ID, sceneID, layer.Label, string(layer.Template), propsJSON,
		sceneID, ts, ts, sceneID,
	)
	if err != nil {
		return fmt.Errorf("inserting draft layer: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrSceneNotFound
	}
	return nil
}

// UpdateDraftLayer applies a partial update to a draft layer. Unset fields
// keep their stored values.
func (r *SQLiteRepository) UpdateDraftLayer(ctx context.Context, layerID string, update LayerUpdate) error {
	var label, template, props sql.NullString
	if update.Label != nil {
		label = sql.NullString{String: *update.Label, Valid: true}
	}
	if update.Template != nil {
		template = sql.NullString{String: string(*update.Template), Valid: true}
	}
	if update.Props != nil {
		p, err := marshalProps(update.Props)
		if err != nil {
			return err
		}
		props = sql.NullString{String: p, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE overlay_layers SET
			label = COALESCE(?, label),
			template = COALESCE(?, template),
			props = COALESCE(?, props),
			updated_at = ?
		WHERE id = ? AND state = 'draft'`,
		label, template, props, now(), layerID,
	)
	if err != nil {
		return fmt.Errorf("updating draft layer: %w", err)
	}
	return nil
}

// DeleteDraftLayer removes a draft layer. Live rows are never touched.
func (r *SQLiteRepository) DeleteDraftLayer(ctx context.Context, layerID string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM overlay_layers WHERE id = ? AND state = 'draft'", layerID,
	)
	if err != nil {
		return fmt.Errorf("deleting draft layer: %w", err)
	}
	return nil
}

// ReorderDraftLayers rewrites the scene's draft order. Listed ids come first
// in the given order; unknown and repeated ids are skipped. Draft layers that
// are not listed follow in their current order, so positions stay dense.
func (r *SQLiteRepository) ReorderDraftLayers(ctx context.Context, sceneID string, orderedIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	current, err := draftIDsTx(ctx, tx, sceneID)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE overlay_layers SET sort_order = ?, updated_at = ?
		WHERE id = ? AND scene_id = ? AND state = 'draft'`)
	if err != nil {
		return fmt.Errorf("preparing reorder: %w", err)
	}
	defer stmt.Close()

	ts := now()
	for pos, id := range fullOrder(current, orderedIDs) {
		if _, err := stmt.ExecContext(ctx, pos, ts, id, sceneID); err != nil {
			return fmt.Errorf("reordering layer %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing reorder: %w", err)
	}
	return nil
}

// draftIDsTx returns the scene's draft layer ids in stored order.
func draftIDsTx(ctx context.Context, tx *sql.Tx, sceneID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM overlay_layers
		WHERE scene_id = ? AND state = 'draft'
		ORDER BY sort_order, rowid`, sceneID)
	if err != nil {
		return nil, fmt.Errorf("querying draft layers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning draft layer id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating draft layers: %w", err)
	}
	return ids, nil
}

// fullOrder places the known ids of listed first, then the rest of current.
func fullOrder(current, listed []string) []string {
	pending := make(map[string]bool, len(current))
	for _, id := range current {
		pending[id] = true
	}

	out := make([]string, 0, len(current))
	for _, id := range listed {
		if pending[id] {
			pending[id] = false
			out = append(out, id)
		}
	}
	for _, id := range current {
		if pending[id] {
			out = append(out, id)
		}
	}
	return out
}

// ReplaceLive deletes the scene's live rows and inserts layers in order,
// all in one transaction. Readers see either the old or the new sequence.
func (r *SQLiteRepository) ReplaceLive(ctx context.Context, sceneID string, layers []Layer) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM scenes WHERE id = ?", sceneID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSceneNotFound
	}
	if err != nil {
		return fmt.Errorf("checking scene: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM overlay_layers WHERE scene_id = ? AND state = 'live'", sceneID,
	); err != nil {
		return fmt.Errorf("deleting live layers: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO overlay_layers (id, scene_id, state, label, template, props, sort_order, source_id, created_at, updated_at)
		VALUES (?, ?, 'live', ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing live insert: %w", err)
	}
	defer stmt.Close()

	ts := now()
	for i := range layers {
		l := &layers[i]
		propsJSON, err := marshalProps(l.Props)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			l.ID, sceneID, l.Label, string(l.Template), propsJSON, i,
			nullableString(l.SourceID), ts, ts,
		); err != nil {
			return fmt.Errorf("inserting live layer %s: %w", l.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing live replace: %w", err)
	}
	return nil
}

func marshalProps(props map[string]string) (string, error) {
	if props == nil {
		return "{}", nil
	}
	b, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("marshalling props: %w", err)
	}
	return string(b), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
