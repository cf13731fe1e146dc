package overlay

import "maps"

// State is the lifecycle partition a stored layer belongs to.
type State string

const (
	StateDraft State = "draft"
	StateLive  State = "live"
)

// Layer is one overlay graphic within a scene sequence.
//
// Props is opaque to this package beyond equality comparison. SourceID is
// set only on live layers and names the draft layer the layer was copied
// from at publish time; the draft layer may since have been deleted.
type Layer struct {
	ID       string            `json:"id"`
	Label    string            `json:"label"`
	Template Template          `json:"template"`
	Props    map[string]string `json:"props"`
	SourceID string            `json:"sourceId,omitempty"`
}

// DeepCopy returns a copy of the layer with its own Props map.
func (l *Layer) DeepCopy() *Layer {
	if l == nil {
		return nil
	}
	cp := *l
	cp.Props = cloneProps(l.Props)
	return &cp
}

// Scene is a named group of layers published as one unit.
//
// Visible gates whether the live sequence is shown at all. Order positions
// the scene among its siblings.
type Scene struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Visible bool    `json:"visible"`
	Order   int     `json:"order"`
	Draft   []Layer `json:"draft"`
	Live    []Layer `json:"live"`
}

// DeepCopy creates an independent copy of the scene, including both layer
// sequences and every props map.
func (s *Scene) DeepCopy() *Scene {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Draft = cloneLayers(s.Draft)
	cp.Live = cloneLayers(s.Live)
	return &cp
}

// NewLayer describes a draft layer to add. Empty Label defaults to the
// template's display name and nil Props to the template's defaults.
type NewLayer struct {
	Label    string
	Template Template
	Props    map[string]string
}

// LayerUpdate is a partial update of a draft layer. Nil fields are left
// unchanged; a non-nil empty Props clears every prop.
type LayerUpdate struct {
	Label    *string
	Template *Template
	Props    map[string]string
}

// IsEmpty reports whether the update changes nothing.
func (u LayerUpdate) IsEmpty() bool {
	return u.Label == nil && u.Template == nil && u.Props == nil
}

func (u LayerUpdate) applyTo(l *Layer) {
	if u.Label != nil {
		l.Label = *u.Label
	}
	if u.Template != nil {
		l.Template = *u.Template
	}
	if u.Props != nil {
		l.Props = cloneProps(u.Props)
	}
}

func cloneProps(p map[string]string) map[string]string {
	if p == nil {
		return map[string]string{}
	}
	return maps.Clone(p)
}

// cloneLayers never returns nil so empty sequences encode as [].
func cloneLayers(layers []Layer) []Layer {
	out := make([]Layer, len(layers))
	for i := range layers {
		out[i] = *layers[i].DeepCopy()
	}
	return out
}
