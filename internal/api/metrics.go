package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/overlay-core/internal/mirror"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Scenes        SceneMetrics    `json:"scenes"`
	Database      DatabaseMetrics `json:"database"`
	Announcement  bool            `json:"announcement_showing"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	Sessions       int `json:"sessions"`
	QueuedCommands int `json:"queued_commands"`
}

// MQTTMetrics contains broker and mirror statistics.
type MQTTMetrics struct {
	Connected bool          `json:"connected"`
	Mirror    *mirror.Stats `json:"mirror,omitempty"`
}

// SceneMetrics summarises the registry.
type SceneMetrics struct {
	Total       int `json:"total"`
	Visible     int `json:"visible"`
	Unpublished int `json:"unpublished"`
	DraftLayers int `json:"draft_layers"`
	LiveLayers  int `json:"live_layers"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns runtime, session, scene and store statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			Sessions:       s.hub.SessionCount(),
			QueuedCommands: len(s.requests),
		},
		Announcement: s.slot.Current() != nil,
	}

	if s.mqtt != nil {
		metrics.MQTT.Connected = s.mqtt.IsConnected()
	}
	if s.mirror != nil {
		stats := s.mirror.Stats()
		metrics.MQTT.Mirror = &stats
	}

	for _, sc := range s.registry.Scenes() {
		metrics.Scenes.Total++
		if sc.Visible {
			metrics.Scenes.Visible++
		}
		metrics.Scenes.DraftLayers += len(sc.Draft)
		metrics.Scenes.LiveLayers += len(sc.Live)
		if report, err := s.registry.SyncStatus(sc.ID); err == nil && !report.SceneSynced {
			metrics.Scenes.Unpublished++
		}
	}

	if s.db != nil {
		stats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: stats.OpenConnections,
			InUse:           stats.InUse,
			Idle:            stats.Idle,
			WaitCount:       stats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
