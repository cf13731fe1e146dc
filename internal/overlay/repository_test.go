package overlay

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nerrad567/overlay-core/internal/infrastructure/database"
	_ "github.com/nerrad567/overlay-core/migrations"
)

// openTestDB opens a migrated database in a temp directory.
func openTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "overlay.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db
}

func setupRepo(t *testing.T) (*SQLiteRepository, *sql.DB) {
	t.Helper()
	db := openTestDB(t)
	return NewSQLiteRepository(db.DB), db.DB
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRowContext(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count query %q: %v", query, err)
	}
	return n
}

func TestSQLiteRepository_CreateSceneOrdering(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	first, err := repo.CreateScene(ctx, "First")
	if err != nil {
		t.Fatalf("CreateScene() error = %v", err)
	}
	second, err := repo.CreateScene(ctx, "Second")
	if err != nil {
		t.Fatalf("CreateScene() error = %v", err)
	}

	if first.ID == second.ID {
		t.Fatal("scene ids should be unique")
	}
	if second.Order <= first.Order {
		t.Errorf("second.Order = %d, want > %d", second.Order, first.Order)
	}
	if !first.Visible {
		t.Error("new scene should be visible")
	}

	scenes, err := repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(scenes) != 2 || scenes[0].Name != "First" || scenes[1].Name != "Second" {
		t.Fatalf("LoadAll() = %+v, want First then Second", scenes)
	}
	if scenes[0].Draft == nil || scenes[0].Live == nil {
		t.Error("LoadAll() sequences should be empty slices, not nil")
	}
}

func TestSQLiteRepository_LoadAllPartitionsByState(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	scene, _ := repo.CreateScene(ctx, "Main")
	other, _ := repo.CreateScene(ctx, "Other")

	d1 := &Layer{ID: "d1", Label: "One", Template: TemplateLowerThird, Props: map[string]string{"name": "A"}}
	d2 := &Layer{ID: "d2", Label: "Two", Template: TemplateBRB, Props: map[string]string{}}
	for _, l := range []*Layer{d1, d2} {
		if err := repo.InsertDraftLayer(ctx, scene.ID, l); err != nil {
			t.Fatalf("InsertDraftLayer() error = %v", err)
		}
	}
	if err := repo.InsertDraftLayer(ctx, other.ID, &Layer{ID: "o1", Label: "Other", Template: TemplateTicker}); err != nil {
		t.Fatalf("InsertDraftLayer() error = %v", err)
	}
	if err := repo.ReplaceLive(ctx, scene.ID, []Layer{
		{ID: "l1", SourceID: "d1", Label: "One", Template: TemplateLowerThird, Props: map[string]string{"name": "A"}},
	}); err != nil {
		t.Fatalf("ReplaceLive() error = %v", err)
	}

	scenes, err := repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	primary := scenes[0]
	if len(primary.Draft) != 2 || primary.Draft[0].ID != "d1" || primary.Draft[1].ID != "d2" {
		t.Errorf("Draft = %+v, want d1, d2", primary.Draft)
	}
	if len(primary.Live) != 1 || primary.Live[0].ID != "l1" || primary.Live[0].SourceID != "d1" {
		t.Errorf("Live = %+v, want l1 from d1", primary.Live)
	}
	if primary.Live[0].Props["name"] != "A" {
		t.Errorf("Live props = %v, want name=A", primary.Live[0].Props)
	}
	if primary.Draft[0].SourceID != "" {
		t.Errorf("draft SourceID = %q, want empty", primary.Draft[0].SourceID)
	}
	if len(scenes[1].Draft) != 1 || scenes[1].Draft[0].ID != "o1" {
		t.Errorf("Other.Draft = %+v, want o1", scenes[1].Draft)
	}
	if scenes[1].Draft[0].Props == nil {
		t.Error("nil props should load as an empty map")
	}
}

func TestSQLiteRepository_StaleSceneOpsAreNoOps(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	if err := repo.RenameScene(ctx, "missing", "x"); err != nil {
		t.Errorf("RenameScene(missing) error = %v", err)
	}
	if err := repo.SetVisibility(ctx, "missing", false); err != nil {
		t.Errorf("SetVisibility(missing) error = %v", err)
	}
	if err := repo.DeleteScene(ctx, "missing"); err != nil {
		t.Errorf("DeleteScene(missing) error = %v", err)
	}
	if err := repo.UpdateDraftLayer(ctx, "missing", LayerUpdate{Props: map[string]string{}}); err != nil {
		t.Errorf("UpdateDraftLayer(missing) error = %v", err)
	}
	if err := repo.DeleteDraftLayer(ctx, "missing"); err != nil {
		t.Errorf("DeleteDraftLayer(missing) error = %v", err)
	}

	err := repo.InsertDraftLayer(ctx, "missing", &Layer{ID: "x", Template: TemplateBRB})
	if !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("InsertDraftLayer(missing scene) error = %v, want ErrSceneNotFound", err)
	}
	if err := repo.ReplaceLive(ctx, "missing", nil); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("ReplaceLive(missing scene) error = %v, want ErrSceneNotFound", err)
	}
}

func TestSQLiteRepository_DeleteSceneCascades(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	scene, _ := repo.CreateScene(ctx, "Doomed")
	keep, _ := repo.CreateScene(ctx, "Keep")
	_ = repo.InsertDraftLayer(ctx, scene.ID, &Layer{ID: "d1", Template: TemplateBRB})
	_ = repo.InsertDraftLayer(ctx, keep.ID, &Layer{ID: "k1", Template: TemplateBRB})
	_ = repo.ReplaceLive(ctx, scene.ID, []Layer{{ID: "l1", SourceID: "d1", Template: TemplateBRB}})

	if err := repo.DeleteScene(ctx, scene.ID); err != nil {
		t.Fatalf("DeleteScene() error = %v", err)
	}

	if n := countRows(t, db, "SELECT COUNT(*) FROM overlay_layers WHERE scene_id = ?", scene.ID); n != 0 {
		t.Errorf("orphan layers for deleted scene = %d, want 0", n)
	}
	if n := countRows(t, db, "SELECT COUNT(*) FROM overlay_layers WHERE scene_id = ?", keep.ID); n != 1 {
		t.Errorf("layers for other scene = %d, want 1", n)
	}
}

func TestSQLiteRepository_SchemaCascadeOnRawDelete(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	scene, _ := repo.CreateScene(ctx, "Raw")
	_ = repo.InsertDraftLayer(ctx, scene.ID, &Layer{ID: "d1", Template: TemplateBRB})

	if _, err := db.ExecContext(ctx, "DELETE FROM scenes WHERE id = ?", scene.ID); err != nil {
		t.Fatalf("raw delete error = %v", err)
	}
	if n := countRows(t, db, "SELECT COUNT(*) FROM overlay_layers WHERE scene_id = ?", scene.ID); n != 0 {
		t.Errorf("layers after raw scene delete = %d, want 0 (ON DELETE CASCADE)", n)
	}
}

func TestSQLiteRepository_UpdateDraftLayerPartial(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	scene, _ := repo.CreateScene(ctx, "Main")
	_ = repo.InsertDraftLayer(ctx, scene.ID, &Layer{
		ID: "d1", Label: "Host", Template: TemplateLowerThird, Props: map[string]string{"name": "A"},
	})

	label := "Guest"
	if err := repo.UpdateDraftLayer(ctx, "d1", LayerUpdate{Label: &label}); err != nil {
		t.Fatalf("UpdateDraftLayer() error = %v", err)
	}

	scenes, _ := repo.LoadAll(ctx)
	got := scenes[0].Draft[0]
	if got.Label != "Guest" {
		t.Errorf("Label = %q, want Guest", got.Label)
	}
	if got.Template != TemplateLowerThird || got.Props["name"] != "A" {
		t.Errorf("unset fields changed: %+v", got)
	}

	tpl := TemplateTopicBar
	if err := repo.UpdateDraftLayer(ctx, "d1", LayerUpdate{Template: &tpl, Props: map[string]string{"topic": "News"}}); err != nil {
		t.Fatalf("UpdateDraftLayer() error = %v", err)
	}
	scenes, _ = repo.LoadAll(ctx)
	got = scenes[0].Draft[0]
	if got.Template != TemplateTopicBar || got.Props["topic"] != "News" || len(got.Props) != 1 {
		t.Errorf("after second update = %+v", got)
	}
}

func TestSQLiteRepository_DeleteDraftLayerKeepsLive(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	scene, _ := repo.CreateScene(ctx, "Main")
	_ = repo.InsertDraftLayer(ctx, scene.ID, &Layer{ID: "d1", Template: TemplateBRB})
	_ = repo.ReplaceLive(ctx, scene.ID, []Layer{{ID: "l1", SourceID: "d1", Template: TemplateBRB}})

	if err := repo.DeleteDraftLayer(ctx, "d1"); err != nil {
		t.Fatalf("DeleteDraftLayer() error = %v", err)
	}
	// A live id passed to DeleteDraftLayer must not remove the live row.
	if err := repo.DeleteDraftLayer(ctx, "l1"); err != nil {
		t.Fatalf("DeleteDraftLayer(live id) error = %v", err)
	}

	scenes, _ := repo.LoadAll(ctx)
	if len(scenes[0].Draft) != 0 {
		t.Errorf("Draft = %+v, want empty", scenes[0].Draft)
	}
	if len(scenes[0].Live) != 1 {
		t.Errorf("Live = %+v, want the published copy", scenes[0].Live)
	}
}

func TestSQLiteRepository_ReorderSurvivesReload(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	scene, _ := repo.CreateScene(ctx, "Main")
	for _, id := range []string{"a", "b", "c"} {
		_ = repo.InsertDraftLayer(ctx, scene.ID, &Layer{ID: id, Template: TemplateBRB})
	}

	if err := repo.ReorderDraftLayers(ctx, scene.ID, []string{"c", "unknown", "a", "b"}); err != nil {
		t.Fatalf("ReorderDraftLayers() error = %v", err)
	}

	// Reopen through a fresh repository on the same connection pool.
	scenes, err := NewSQLiteRepository(repo.db).LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	var got []string
	for _, l := range scenes[0].Draft {
		got = append(got, l.ID)
	}
	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSQLiteRepository_ReorderPartialList(t *testing.T) {
	tests := []struct {
		name    string
		ordered []string
		want    []string
	}{
		{"single id moves to front", []string{"c"}, []string{"c", "a", "b"}},
		{"unlisted keep relative order", []string{"b", "missing"}, []string{"b", "a", "c"}},
		{"repeated id counts once", []string{"c", "c", "a"}, []string{"c", "a", "b"}},
		{"empty list keeps order", nil, []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, db := setupRepo(t)
			ctx := context.Background()

			scene, _ := repo.CreateScene(ctx, "Main")
			for _, id := range []string{"a", "b", "c"} {
				_ = repo.InsertDraftLayer(ctx, scene.ID, &Layer{ID: id, Template: TemplateBRB})
			}

			if err := repo.ReorderDraftLayers(ctx, scene.ID, tt.ordered); err != nil {
				t.Fatalf("ReorderDraftLayers() error = %v", err)
			}

			scenes, err := repo.LoadAll(ctx)
			if err != nil {
				t.Fatalf("LoadAll() error = %v", err)
			}
			var got []string
			for _, l := range scenes[0].Draft {
				got = append(got, l.ID)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("order = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("order = %v, want %v", got, tt.want)
				}
			}

			distinct := countRows(t, db,
				"SELECT COUNT(DISTINCT sort_order) FROM overlay_layers WHERE scene_id = ? AND state = 'draft'",
				scene.ID)
			if distinct != 3 {
				t.Errorf("distinct draft sort_order values = %d, want 3", distinct)
			}
		})
	}
}

func TestSQLiteRepository_SeedScene(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	layer := &Layer{ID: "seed", Label: "Host", Template: TemplateLowerThird, Props: map[string]string{"name": "Ada"}}
	scene, err := repo.SeedScene(ctx, "Main", layer)
	if err != nil {
		t.Fatalf("SeedScene() error = %v", err)
	}
	if len(scene.Draft) != 1 || scene.Draft[0].ID != "seed" || len(scene.Live) != 0 {
		t.Fatalf("SeedScene() = %+v", scene)
	}

	scenes, err := repo.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(scenes) != 1 || len(scenes[0].Draft) != 1 || scenes[0].Draft[0].Props["name"] != "Ada" {
		t.Fatalf("LoadAll() = %+v", scenes)
	}
	if n := countRows(t, db, "SELECT COUNT(*) FROM overlay_layers WHERE state = 'live'"); n != 0 {
		t.Errorf("live rows = %d, want 0", n)
	}
}

func TestSQLiteRepository_SeedSceneRollsBack(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	other, _ := repo.CreateScene(ctx, "Other")
	if err := repo.InsertDraftLayer(ctx, other.ID, &Layer{ID: "taken", Template: TemplateBRB}); err != nil {
		t.Fatalf("InsertDraftLayer() error = %v", err)
	}

	// The layer insert violates the primary key after the scene row is written.
	if _, err := repo.SeedScene(ctx, "Main", &Layer{ID: "taken", Template: TemplateBRB}); err == nil {
		t.Fatal("SeedScene() with a duplicate layer id should fail")
	}

	if n := countRows(t, db, "SELECT COUNT(*) FROM scenes"); n != 1 {
		t.Errorf("scenes after failed seed = %d, want 1", n)
	}
	if n := countRows(t, db, "SELECT COUNT(*) FROM scenes WHERE name = 'Main'"); n != 0 {
		t.Errorf("seed scene row survived the rollback")
	}
}

func TestSQLiteRepository_ReplaceLiveIsAtomic(t *testing.T) {
	repo, db := setupRepo(t)
	ctx := context.Background()

	scene, _ := repo.CreateScene(ctx, "Main")
	old := []Layer{
		{ID: "l1", SourceID: "d1", Label: "Old", Template: TemplateBRB},
		{ID: "l2", SourceID: "d2", Label: "Old 2", Template: TemplateBRB},
	}
	if err := repo.ReplaceLive(ctx, scene.ID, old); err != nil {
		t.Fatalf("ReplaceLive() error = %v", err)
	}

	// The second insert collides with the first on the primary key, so the
	// transaction fails midway.
	bad := []Layer{
		{ID: "dup", SourceID: "d1", Label: "New", Template: TemplateBRB},
		{ID: "dup", SourceID: "d2", Label: "New", Template: TemplateBRB},
	}
	if err := repo.ReplaceLive(ctx, scene.ID, bad); err == nil {
		t.Fatal("ReplaceLive() with duplicate ids expected error, got nil")
	}

	scenes, _ := repo.LoadAll(ctx)
	live := scenes[0].Live
	if len(live) != 2 || live[0].ID != "l1" || live[1].ID != "l2" {
		t.Errorf("Live after failed replace = %+v, want previous l1, l2", live)
	}
	if n := countRows(t, db, "SELECT COUNT(*) FROM overlay_layers WHERE id = 'dup'"); n != 0 {
		t.Errorf("partial rows from failed replace = %d, want 0", n)
	}
}

func TestSQLiteRepository_RenameAndVisibility(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	scene, _ := repo.CreateScene(ctx, "Main")
	if err := repo.RenameScene(ctx, scene.ID, "Renamed"); err != nil {
		t.Fatalf("RenameScene() error = %v", err)
	}
	if err := repo.SetVisibility(ctx, scene.ID, false); err != nil {
		t.Fatalf("SetVisibility() error = %v", err)
	}

	scenes, _ := repo.LoadAll(ctx)
	if scenes[0].Name != "Renamed" || scenes[0].Visible {
		t.Errorf("scene = %+v, want Renamed and hidden", scenes[0])
	}
}
