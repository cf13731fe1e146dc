package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementCommands  = "overlay_commands"
	MeasurementPublishes = "overlay_publishes"
)

// RecordCommand records one processed command. outcome is "ok" or an error
// code such as "persistence_error".
func (c *Client) RecordCommand(kind, outcome string, elapsed time.Duration) {
	c.WritePoint(MeasurementCommands,
		map[string]string{
			"type":    kind,
			"outcome": outcome,
		},
		map[string]any{
			"duration_ms": float64(elapsed.Microseconds()) / 1000,
			"count":       1,
		},
	)
}

// RecordPublish records a successful publish of a scene.
func (c *Client) RecordPublish(sceneID string, layers int) {
	c.WritePoint(MeasurementPublishes,
		map[string]string{"scene_id": sceneID},
		map[string]any{"layers": layers},
	)
}

// WritePoint writes a custom point timestamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
