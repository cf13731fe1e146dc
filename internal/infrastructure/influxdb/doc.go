// Package influxdb records overlay telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every applied command
// and every publish becomes one point, so an operator can chart how a show
// was run: command rate, rejected commands, persistence faults and how large
// each publish was.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.RecordCommand("add-layer", "ok", 3*time.Millisecond)
//	client.RecordPublish(sceneID, 4)
//
// # Measurements
//
//	overlay_commands   tags: type, outcome    fields: duration_ms, count
//	overlay_publishes  tags: scene_id         fields: layers
//
// Writes are non-blocking and batched (batch_size, flush_interval). Async
// write failures are delivered to the SetOnError callback.
package influxdb
