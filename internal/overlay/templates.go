package overlay

// Template is the rendering kind of a layer. The set is closed; the core only
// compares templates for equality.
type Template string

const (
	TemplateLowerThird Template = "lower-third"
	TemplateTitleCard  Template = "title-card"
	TemplateBRB        Template = "brb"
	TemplateTopicBar   Template = "topic-bar"
	TemplateTicker     Template = "ticker"
)

// TemplateField is one editable prop of a template.
type TemplateField struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Placeholder string `json:"placeholder"`
	Toggle      bool   `json:"toggle,omitempty"`
}

// TemplateInfo describes a template for control surfaces.
type TemplateInfo struct {
	Template Template        `json:"template"`
	Name     string          `json:"name"`
	Fields   []TemplateField `json:"fields"`
}

var templates = []TemplateInfo{
	{
		Template: TemplateLowerThird,
		Name:     "Lower Third",
		Fields: []TemplateField{
			{Key: "name", Label: "Name", Placeholder: "Guest Name"},
			{Key: "title", Label: "Title", Placeholder: "Podcast Guest"},
		},
	},
	{
		Template: TemplateTitleCard,
		Name:     "Title Card",
		Fields: []TemplateField{
			{Key: "heading", Label: "Heading", Placeholder: "Episode Title"},
			{Key: "subtitle", Label: "Subtitle", Placeholder: "Season 1 Episode 1"},
			{Key: "blur", Label: "Blur Background", Toggle: true},
		},
	},
	{
		Template: TemplateBRB,
		Name:     "BRB",
		Fields: []TemplateField{
			{Key: "message", Label: "Message", Placeholder: "Be Right Back"},
		},
	},
	{
		Template: TemplateTopicBar,
		Name:     "Topic Bar",
		Fields: []TemplateField{
			{Key: "topic", Label: "Topic", Placeholder: "Current Discussion"},
		},
	},
	{
		Template: TemplateTicker,
		Name:     "Ticker",
		Fields: []TemplateField{
			{Key: "label", Label: "Label", Placeholder: "HN"},
		},
	},
}

// Templates returns every known template in display order.
func Templates() []TemplateInfo {
	out := make([]TemplateInfo, len(templates))
	copy(out, templates)
	return out
}

func lookupTemplate(t Template) (TemplateInfo, bool) {
	for _, info := range templates {
		if info.Template == t {
			return info, true
		}
	}
	return TemplateInfo{}, false
}

// Valid reports whether t is one of the known templates.
func (t Template) Valid() bool {
	_, ok := lookupTemplate(t)
	return ok
}

// DisplayName returns the human name of the template, or the raw value for
// unknown templates.
func (t Template) DisplayName() string {
	if info, ok := lookupTemplate(t); ok {
		return info.Name
	}
	return string(t)
}

// DefaultProps returns the placeholder props for a new layer of template t.
func (t Template) DefaultProps() map[string]string {
	props := map[string]string{}
	info, ok := lookupTemplate(t)
	if !ok {
		return props
	}
	for _, f := range info.Fields {
		props[f.Key] = f.Placeholder
	}
	return props
}
