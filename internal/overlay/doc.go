// Package overlay implements the scene and layer staging model.
//
// A Scene owns two ordered layer sequences: Draft, which the operator edits,
// and Live, which viewers render. Live is only ever written by Publish, which
// replaces it wholesale with a copy of Draft. Each live layer records the
// draft layer it came from in SourceID, and ComputeSyncStatus uses that
// reference to classify drift between the two sequences.
//
// Components:
//   - Repository / SQLiteRepository: the durable store (scenes and
//     overlay_layers tables, partitioned by state)
//   - Registry: write-through in-memory cache, the only thing command
//     handlers mutate
//   - ComputeSyncStatus: pure draft-vs-live comparison
//
// Write path: every Registry mutation persists to the Repository first and
// only then updates the cache. A store failure returns an error wrapping
// ErrPersistence and leaves the cache unchanged.
//
// Stale references (unknown scene or layer ids) return ErrSceneNotFound or
// ErrLayerNotFound without touching the store.
//
// Usage:
//
//	repo := overlay.NewSQLiteRepository(db.DB)
//	reg := overlay.NewRegistry(repo)
//	if err := reg.Load(ctx); err != nil {
//	    return err
//	}
//	if _, err := reg.Seed(ctx); err != nil {
//	    return err
//	}
//	live, err := reg.Publish(ctx, sceneID)
package overlay
