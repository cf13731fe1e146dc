package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
api:
  host: "127.0.0.1"
  port: 4000
websocket:
  send_buffer: 8
mqtt:
  enabled: true
  broker:
    host: "broker.local"
    port: 1883
  topic_prefix: "studio-a"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.API.Port != 4000 {
		t.Errorf("API.Port = %d, want 4000", cfg.API.Port)
	}
	if cfg.WebSocket.SendBuffer != 8 {
		t.Errorf("WebSocket.SendBuffer = %d, want 8", cfg.WebSocket.SendBuffer)
	}
	if cfg.MQTT.TopicPrefix != "studio-a" {
		t.Errorf("MQTT.TopicPrefix = %q, want studio-a", cfg.MQTT.TopicPrefix)
	}
	// Untouched sections keep their defaults.
	if cfg.WebSocket.PingInterval != 30 {
		t.Errorf("WebSocket.PingInterval = %d, want default 30", cfg.WebSocket.PingInterval)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "overlay.db" {
		t.Errorf("Database.Path = %q, want overlay.db", cfg.Database.Path)
	}
	if cfg.API.Port != 3010 {
		t.Errorf("API.Port = %d, want 3010", cfg.API.Port)
	}
	if !cfg.UI.Enabled || cfg.UI.Dir != "" {
		t.Errorf("UI = %+v, want enabled with the embedded page", cfg.UI)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
database:
  path: ""
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error for empty database.path, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OVERLAY_DB_PATH", "/var/lib/overlay/state.db")
	t.Setenv("OVERLAY_PORT", "4321")
	t.Setenv("OVERLAY_LOG_LEVEL", "debug")
	t.Setenv("OVERLAY_MQTT_HOST", "mqtt.studio")
	t.Setenv("OVERLAY_UI_DIR", "/srv/overlay-ui")

	cfg, err := Load(writeConfig(t, "database:\n  path: ignored.db\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/var/lib/overlay/state.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.API.Port != 4321 {
		t.Errorf("API.Port = %d, want 4321", cfg.API.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.MQTT.Broker.Host != "mqtt.studio" {
		t.Errorf("MQTT.Broker.Host = %q, want mqtt.studio", cfg.MQTT.Broker.Host)
	}
	if cfg.UI.Dir != "/srv/overlay-ui" {
		t.Errorf("UI.Dir = %q, want env override", cfg.UI.Dir)
	}
}

func TestLoad_InvalidPortEnvIgnored(t *testing.T) {
	t.Setenv("OVERLAY_PORT", "not-a-number")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.Port != 3010 {
		t.Errorf("API.Port = %d, want default 3010", cfg.API.Port)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "empty database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "port too low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "port too high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "zero send buffer",
			mutate:  func(c *Config) { c.WebSocket.SendBuffer = 0 },
			wantErr: true,
		},
		{
			name:    "negative command rate",
			mutate:  func(c *Config) { c.WebSocket.CommandsPerSecond = -1 },
			wantErr: true,
		},
		{
			name:    "announce enabled without endpoint",
			mutate:  func(c *Config) { c.Announce.Endpoint = "" },
			wantErr: true,
		},
		{
			name: "announce disabled without endpoint",
			mutate: func(c *Config) {
				c.Announce.Enabled = false
				c.Announce.Endpoint = ""
			},
			wantErr: false,
		},
		{
			name: "mqtt enabled with invalid qos",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.QoS = 3
			},
			wantErr: true,
		},
		{
			name: "mqtt disabled ignores qos",
			mutate: func(c *Config) {
				c.MQTT.QoS = 3
			},
			wantErr: false,
		},
		{
			name: "influxdb enabled without url",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := Default()

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 30*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", got)
	}
	if got := cfg.GetAnnounceTimeout(); got != 5*time.Second {
		t.Errorf("GetAnnounceTimeout() = %v, want 5s", got)
	}
}
