package overlay

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the in-memory materialisation of the store.
//
// Mutations are write-through: the Repository is written first and the cache
// is updated only when that succeeds. writeMu serialises mutations so each
// one sees the state left by the previous; mu guards the cache for readers.
//
// All public methods are thread-safe. Returned scenes and layers are deep
// copies.
type Registry struct {
	repo   Repository
	logger Logger

	writeMu sync.Mutex
	mu      sync.RWMutex
	scenes  []*Scene
}

// NewRegistry creates an empty registry over repo. Call Load before use.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Load replaces the cache with the store's contents.
func (r *Registry) Load(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	scenes, err := r.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading scenes: %w", err)
	}

	cache := make([]*Scene, len(scenes))
	for i := range scenes {
		cache[i] = scenes[i].DeepCopy()
	}

	r.mu.Lock()
	r.scenes = cache
	r.mu.Unlock()

	r.logger.Info("scene registry loaded", "scenes", len(cache))
	return nil
}

// Seed creates the default scene when the registry is empty so control
// surfaces never start blank. The scene and its layer are stored together,
// so a failed seed leaves the store empty and the next boot retries. It
// reports whether anything was created.
func (r *Registry) Seed(ctx context.Context) (bool, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if r.Len() > 0 {
		return false, nil
	}

	layer := &Layer{
		ID:       GenerateID(),
		Label:    "Host Lower Third",
		Template: TemplateLowerThird,
		Props:    map[string]string{"name": "Guest Name", "title": "Podcast Guest"},
	}
	scene, err := r.repo.SeedScene(ctx, "Main", layer)
	if err != nil {
		return false, persistErr("seed scene", err)
	}

	r.mu.Lock()
	r.scenes = append(r.scenes, scene.DeepCopy())
	r.mu.Unlock()

	r.logger.Info("seeded default scene", "scene_id", scene.ID)
	return true, nil
}

// Len returns the number of scenes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scenes)
}

// Scenes returns deep copies of every scene in display order.
func (r *Registry) Scenes() []Scene {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Scene, len(r.scenes))
	for i, s := range r.scenes {
		out[i] = *s.DeepCopy()
	}
	return out
}

// Scene returns a deep copy of one scene.
func (r *Registry) Scene(id string) (*Scene, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.indexOf(id); i >= 0 {
		return r.scenes[i].DeepCopy(), nil
	}
	return nil, ErrSceneNotFound
}

// SyncStatus computes the drift report for one scene.
func (r *Registry) SyncStatus(id string) (SyncReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.indexOf(id)
	if i < 0 {
		return SyncReport{}, ErrSceneNotFound
	}
	return ComputeSyncStatus(r.scenes[i].Draft, r.scenes[i].Live), nil
}

// indexOf must be called with mu or writeMu held.
func (r *Registry) indexOf(id string) int {
	return slices.IndexFunc(r.scenes, func(s *Scene) bool { return s.ID == id })
}

// current returns the cached scene for a mutation. Only writers call it, and
// writers never modify a cached scene in place, so no read lock is needed.
func (r *Registry) current(id string) (*Scene, error) {
	if i := r.indexOf(id); i >= 0 {
		return r.scenes[i], nil
	}
	return nil, ErrSceneNotFound
}

// replace swaps the cached scene with the same id for next.
func (r *Registry) replace(next *Scene) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexOf(next.ID); i >= 0 {
		r.scenes[i] = next
	}
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// CreateScene adds a visible, empty scene after all existing scenes. An empty
// name becomes "Untitled".
func (r *Registry) CreateScene(ctx context.Context, name string) (*Scene, error) {
	name, err := normaliseSceneName(name, true)
	if err != nil {
		return nil, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	scene, err := r.repo.CreateScene(ctx, name)
	if err != nil {
		return nil, persistErr("create scene", err)
	}

	r.mu.Lock()
	r.scenes = append(r.scenes, scene.DeepCopy())
	r.mu.Unlock()

	r.logger.Debug("scene created", "scene_id", scene.ID, "name", name)
	return scene, nil
}

// RenameScene changes a scene's name.
func (r *Registry) RenameScene(ctx context.Context, id, name string) error {
	name, err := normaliseSceneName(name, false)
	if err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur, err := r.current(id)
	if err != nil {
		return err
	}
	if err := r.repo.RenameScene(ctx, id, name); err != nil {
		return persistErr("rename scene", err)
	}

	next := cur.DeepCopy()
	next.Name = name
	r.replace(next)
	return nil
}

// SetVisibility shows or hides a scene's live layers.
func (r *Registry) SetVisibility(ctx context.Context, id string, visible bool) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur, err := r.current(id)
	if err != nil {
		return err
	}
	if err := r.repo.SetVisibility(ctx, id, visible); err != nil {
		return persistErr("set visibility", err)
	}

	next := cur.DeepCopy()
	next.Visible = visible
	r.replace(next)
	return nil
}

// DeleteScene removes a scene with both of its sequences.
func (r *Registry) DeleteScene(ctx context.Context, id string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if _, err := r.current(id); err != nil {
		return err
	}
	if err := r.repo.DeleteScene(ctx, id); err != nil {
		return persistErr("delete scene", err)
	}

	r.mu.Lock()
	r.scenes = slices.DeleteFunc(r.scenes, func(s *Scene) bool { return s.ID == id })
	r.mu.Unlock()

	r.logger.Debug("scene deleted", "scene_id", id)
	return nil
}

// AddLayer appends a new draft layer to a scene.
func (r *Registry) AddLayer(ctx context.Context, sceneID string, nl NewLayer) (*Layer, error) {
	if nl.Label == "" {
		nl.Label = nl.Template.DisplayName()
	}
	if nl.Props == nil {
		nl.Props = nl.Template.DefaultProps()
	}
	if err := ValidateNewLayer(nl); err != nil {
		return nil, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur, err := r.current(sceneID)
	if err != nil {
		return nil, err
	}

	layer := &Layer{
		ID:       GenerateID(),
		Label:    nl.Label,
		Template: nl.Template,
		Props:    cloneProps(nl.Props),
	}
	if err := r.repo.InsertDraftLayer(ctx, sceneID, layer); err != nil {
		if IsStale(err) {
			return nil, err
		}
		return nil, persistErr("insert draft layer", err)
	}

	next := cur.DeepCopy()
	next.Draft = append(next.Draft, *layer.DeepCopy())
	r.replace(next)
	return layer, nil
}

// UpdateLayer applies a partial update to a draft layer in sceneID.
func (r *Registry) UpdateLayer(ctx context.Context, sceneID, layerID string, update LayerUpdate) error {
	if err := ValidateLayerUpdate(update); err != nil {
		return err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur, err := r.current(sceneID)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(cur.Draft, func(l Layer) bool { return l.ID == layerID })
	if idx < 0 {
		return ErrLayerNotFound
	}
	if update.IsEmpty() {
		return nil
	}

	if err := r.repo.UpdateDraftLayer(ctx, layerID, update); err != nil {
		return persistErr("update draft layer", err)
	}

	next := cur.DeepCopy()
	update.applyTo(&next.Draft[idx])
	r.replace(next)
	return nil
}

// DeleteLayer removes a draft layer. Live copies of it are unaffected.
func (r *Registry) DeleteLayer(ctx context.Context, sceneID, layerID string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur, err := r.current(sceneID)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(cur.Draft, func(l Layer) bool { return l.ID == layerID }) {
		return ErrLayerNotFound
	}

	if err := r.repo.DeleteDraftLayer(ctx, layerID); err != nil {
		return persistErr("delete draft layer", err)
	}

	next := cur.DeepCopy()
	next.Draft = slices.DeleteFunc(next.Draft, func(l Layer) bool { return l.ID == layerID })
	r.replace(next)
	return nil
}

// ReorderLayers reorders a scene's draft sequence to follow layerIDs.
//
// Ids not in the draft and repeated ids are ignored. Draft layers missing
// from layerIDs keep their relative order after the listed ones, so a
// partial list never drops layers.
func (r *Registry) ReorderLayers(ctx context.Context, sceneID string, layerIDs []string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur, err := r.current(sceneID)
	if err != nil {
		return err
	}

	ordered := reorder(cur.Draft, layerIDs)
	ids := make([]string, len(ordered))
	for i := range ordered {
		ids[i] = ordered[i].ID
	}

	if err := r.repo.ReorderDraftLayers(ctx, sceneID, ids); err != nil {
		return persistErr("reorder draft layers", err)
	}

	next := cur.DeepCopy()
	next.Draft = ordered
	r.replace(next)
	return nil
}

func reorder(draft []Layer, layerIDs []string) []Layer {
	byID := make(map[string]int, len(draft))
	for i := range draft {
		byID[draft[i].ID] = i
	}

	used := make([]bool, len(draft))
	out := make([]Layer, 0, len(draft))
	for _, id := range layerIDs {
		i, ok := byID[id]
		if !ok || used[i] {
			continue
		}
		used[i] = true
		out = append(out, *draft[i].DeepCopy())
	}
	for i := range draft {
		if !used[i] {
			out = append(out, *draft[i].DeepCopy())
		}
	}
	return out
}

// Publish replaces the scene's live sequence with a copy of its draft.
//
// Every live layer gets a fresh id, its own props map and SourceID set to the
// draft layer's id; order is preserved. The store swap is one transaction;
// on failure the previous live sequence stays in place in both the store and
// the cache.
func (r *Registry) Publish(ctx context.Context, sceneID string) ([]Layer, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur, err := r.current(sceneID)
	if err != nil {
		return nil, err
	}

	live := make([]Layer, len(cur.Draft))
	for i := range cur.Draft {
		l := cur.Draft[i].DeepCopy()
		l.SourceID = l.ID
		l.ID = GenerateID()
		live[i] = *l
	}

	if err := r.repo.ReplaceLive(ctx, sceneID, live); err != nil {
		if IsStale(err) {
			return nil, err
		}
		return nil, persistErr("replace live", err)
	}

	next := cur.DeepCopy()
	next.Live = live
	r.replace(next)

	r.logger.Info("scene published", "scene_id", sceneID, "layers", len(live))
	return cloneLayers(live), nil
}
