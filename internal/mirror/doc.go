// Package mirror copies overlay snapshots to retained MQTT topics.
//
// The API server hands every broadcast snapshot to Offer. A single goroutine
// (Run) publishes the newest frame: the full snapshot to the snapshot topic
// and each scene's visibility and live layers to its own topic. Frames that
// arrive while a publish is in flight replace each other, so a slow broker
// costs intermediate states, never the latest one.
package mirror
