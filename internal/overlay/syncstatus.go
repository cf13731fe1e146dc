package overlay

import "maps"

// Status classifies a draft layer against the live sequence.
type Status string

const (
	// StatusNew means no live layer was published from this draft layer.
	StatusNew Status = "new"

	// StatusModified means the matched live layer differs in label,
	// template, props or position.
	StatusModified Status = "modified"

	// StatusSynced means the matched live layer is identical and at the
	// same index.
	StatusSynced Status = "synced"
)

// SyncReport is the drift between a scene's draft and live sequences.
type SyncReport struct {
	SceneSynced bool `json:"sceneSynced"`

	// Statuses maps every draft layer id to its status.
	Statuses map[string]Status `json:"statuses"`

	// DeletedFromDraft holds live layers whose source draft layer no longer
	// exists, in live order.
	DeletedFromDraft []Layer `json:"deletedFromDraft"`
}

type liveMatch struct {
	layer *Layer
	index int
}

// ComputeSyncStatus compares draft against live. It has no side effects and
// does not retain either slice.
//
// A position change alone counts as modified: the live broadcast order
// differs even when no field does.
func ComputeSyncStatus(draft, live []Layer) SyncReport {
	bySource := make(map[string]liveMatch, len(live))
	for i := range live {
		src := live[i].SourceID
		if src == "" {
			continue
		}
		if _, dup := bySource[src]; !dup {
			bySource[src] = liveMatch{layer: &live[i], index: i}
		}
	}

	report := SyncReport{
		SceneSynced:      true,
		Statuses:         make(map[string]Status, len(draft)),
		DeletedFromDraft: []Layer{},
	}

	inDraft := make(map[string]struct{}, len(draft))
	for i := range draft {
		d := &draft[i]
		inDraft[d.ID] = struct{}{}

		m, ok := bySource[d.ID]
		var st Status
		switch {
		case !ok:
			st = StatusNew
		case layerContentEqual(d, m.layer) && m.index == i:
			st = StatusSynced
		default:
			st = StatusModified
		}
		report.Statuses[d.ID] = st
		if st != StatusSynced {
			report.SceneSynced = false
		}
	}

	for i := range live {
		if _, ok := inDraft[live[i].SourceID]; !ok {
			report.DeletedFromDraft = append(report.DeletedFromDraft, *live[i].DeepCopy())
		}
	}
	if len(report.DeletedFromDraft) > 0 {
		report.SceneSynced = false
	}

	return report
}

// layerContentEqual compares the rendered content of two layers, ignoring ids.
// A nil props map equals an empty one.
func layerContentEqual(a, b *Layer) bool {
	return a.Label == b.Label &&
		a.Template == b.Template &&
		maps.Equal(a.Props, b.Props)
}
