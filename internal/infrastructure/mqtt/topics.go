package mqtt

import "strings"

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "overlay"

// Topics builds the overlay topic names under a prefix.
//
//	topics := mqtt.NewTopics("studio-a")
//	topics.SceneLive("3f2a...")
//	// Returns: "studio-a/scenes/3f2a.../live"
type Topics struct {
	prefix string
}

// NewTopics returns topic builders for prefix. Surrounding slashes are
// trimmed; an empty prefix falls back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic prefix.
func (t Topics) Prefix() string {
	return t.prefix
}

// Status is the retained online/offline topic and the LWT topic.
func (t Topics) Status() string {
	return t.prefix + "/status"
}

// Snapshot is the retained full-snapshot topic.
func (t Topics) Snapshot() string {
	return t.prefix + "/snapshot"
}

// SceneLive is the retained live-state topic for one scene.
func (t Topics) SceneLive(sceneID string) string {
	return t.prefix + "/scenes/" + sceneID + "/live"
}

// AllSceneLive matches every per-scene live topic.
func (t Topics) AllSceneLive() string {
	return t.prefix + "/scenes/+/live"
}

// Command is the inbound command topic.
func (t Topics) Command() string {
	return t.prefix + "/command"
}
