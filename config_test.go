package workspaces

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workspaces.yaml")
	data := `
bus:
  kind: websocket
  endpoint: ws://127.0.0.1:9000/bus
subscriptions:
  mode: shared
timeouts:
  call: 2s
layouts:
  source: local
  db_path: /tmp/layouts.db
log_level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Bus.Kind != BusWebsocket || cfg.Bus.Endpoint != "ws://127.0.0.1:9000/bus" {
		t.Errorf("bus: %+v", cfg.Bus)
	}
	if cfg.Bus.ControlMethod != "Workspaces.Control" {
		t.Errorf("control method default lost: %q", cfg.Bus.ControlMethod)
	}
	if cfg.Subscriptions.Mode != "shared" || cfg.Subscriptions.SharedStream == "" {
		t.Errorf("subscriptions: %+v", cfg.Subscriptions)
	}
	if cfg.Timeouts.Call != 2*time.Second || cfg.Timeouts.MethodWait != 5*time.Second {
		t.Errorf("timeouts: %+v", cfg.Timeouts)
	}
	if cfg.Layouts.Source != "local" || cfg.Layouts.DBPath != "/tmp/layouts.db" {
		t.Errorf("layouts: %+v", cfg.Layouts)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown bus", func(c *Config) { c.Bus.Kind = "carrier-pigeon" }, "bus.kind"},
		{"websocket without endpoint", func(c *Config) { c.Bus.Kind = BusWebsocket }, "bus.endpoint"},
		{"mcp without command", func(c *Config) { c.Bus.Kind = BusMCP }, "bus.mcp_command"},
		{"no control method", func(c *Config) { c.Bus.ControlMethod = "" }, "bus.control_method"},
		{"unknown mode", func(c *Config) { c.Subscriptions.Mode = "broadcast" }, "subscriptions.mode"},
		{"shared without stream", func(c *Config) {
			c.Subscriptions.Mode = "shared"
			c.Subscriptions.SharedStream = ""
		}, "subscriptions.shared_stream"},
		{"zero method wait", func(c *Config) { c.Timeouts.MethodWait = 0 }, "timeouts.method_wait"},
		{"zero call timeout", func(c *Config) { c.Timeouts.Call = 0 }, "timeouts.call"},
		{"negative host wait", func(c *Config) { c.Timeouts.HostWindow = -time.Second }, "timeouts.host_window"},
		{"unknown layouts source", func(c *Config) { c.Layouts.Source = "cloud" }, "layouts.source"},
		{"no db path", func(c *Config) { c.Layouts.DBPath = "" }, "layouts.db_path"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"journal without heartbeat", func(c *Config) {
			c.Observability.DBPath = "/tmp/wsmirror.db"
			c.Observability.Heartbeat = 0
		}, "observability.heartbeat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("got %v, want an error mentioning %q", err, tt.want)
			}
		})
	}
}
