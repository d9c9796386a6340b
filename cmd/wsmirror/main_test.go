package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workspaces.yaml")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_RequiresRemoteBus(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"no flag", "", "-config is required"},
		{"local bus", writeConfig(t, "log_level: info\n"), "bus.kind"},
		{"missing file", filepath.Join(t.TempDir(), "nope.yaml"), "nope.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(tt.path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("got %v, want an error mentioning %q", err, tt.want)
			}
		})
	}

	cfg, err := loadConfig(writeConfig(t, "bus:\n  kind: websocket\n  endpoint: ws://127.0.0.1:9000/bus\n"))
	if err != nil {
		t.Fatalf("websocket config: %v", err)
	}
	if cfg.Bus.Endpoint != "ws://127.0.0.1:9000/bus" {
		t.Errorf("endpoint: %q", cfg.Bus.Endpoint)
	}
}
