package workspaces

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full engine configuration.
type Config struct {
	Bus           BusConfig           `yaml:"bus"`
	Subscriptions SubscriptionsConfig `yaml:"subscriptions"`
	Timeouts      TimeoutsConfig      `yaml:"timeouts"`
	MyWindowID    string              `yaml:"my_window_id"`
	LogLevel      string              `yaml:"log_level"`
	Layouts       LayoutsConfig       `yaml:"layouts"`
	HTTP          HTTPConfig          `yaml:"http"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// BusConfig selects and addresses the interop bus.
type BusConfig struct {
	Kind          string   `yaml:"kind"`     // local | websocket | mcp
	Endpoint      string   `yaml:"endpoint"` // websocket URL
	ControlMethod string   `yaml:"control_method"`
	MCPCommand    []string `yaml:"mcp_command"` // argv of the MCP server process
}

// SubscriptionsConfig selects how event streams are opened.
type SubscriptionsConfig struct {
	Mode         string `yaml:"mode"` // filtered | shared
	SharedStream string `yaml:"shared_stream"`
}

// TimeoutsConfig bounds remote calls.
type TimeoutsConfig struct {
	MethodWait time.Duration `yaml:"method_wait"`
	Call       time.Duration `yaml:"call"`
	HostWindow time.Duration `yaml:"host_window"`
}

// LayoutsConfig selects where layouts and workspace contexts live.
type LayoutsConfig struct {
	Source string `yaml:"source"` // remote | local
	DBPath string `yaml:"db_path"`
}

// HTTPConfig configures the inspection API of cmd/wsmirror.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// ObservabilityConfig enables the SQLite event journal and heartbeats of
// cmd/wsmirror. An empty DBPath disables both.
type ObservabilityConfig struct {
	DBPath    string        `yaml:"db_path"`
	Heartbeat time.Duration `yaml:"heartbeat"`
}

// Bus kinds.
const (
	BusLocal     = "local"
	BusWebsocket = "websocket"
	BusMCP       = "mcp"
)

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			Kind:          BusLocal,
			ControlMethod: "Workspaces.Control",
		},
		Subscriptions: SubscriptionsConfig{
			Mode:         "filtered",
			SharedStream: "Workspaces.Stream.Events",
		},
		Timeouts: TimeoutsConfig{
			MethodWait: 5 * time.Second,
			Call:       30 * time.Second,
			HostWindow: 30 * time.Second,
		},
		LogLevel: "info",
		Layouts: LayoutsConfig{
			Source: "remote",
			DBPath: ":memory:",
		},
		HTTP:          HTTPConfig{Listen: ":8086"},
		Observability: ObservabilityConfig{Heartbeat: 15 * time.Second},
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	switch c.Bus.Kind {
	case BusLocal:
	case BusWebsocket:
		if c.Bus.Endpoint == "" {
			return fmt.Errorf("bus.endpoint is required for the websocket bus")
		}
	case BusMCP:
		if len(c.Bus.MCPCommand) == 0 {
			return fmt.Errorf("bus.mcp_command is required for the mcp bus")
		}
	default:
		return fmt.Errorf("unsupported bus.kind %q (use local, websocket or mcp)", c.Bus.Kind)
	}
	if c.Bus.ControlMethod == "" {
		return fmt.Errorf("bus.control_method is required")
	}

	switch c.Subscriptions.Mode {
	case "filtered":
	case "shared":
		if c.Subscriptions.SharedStream == "" {
			return fmt.Errorf("subscriptions.shared_stream is required in shared mode")
		}
	default:
		return fmt.Errorf("unsupported subscriptions.mode %q (use filtered or shared)", c.Subscriptions.Mode)
	}

	if c.Timeouts.MethodWait <= 0 {
		return fmt.Errorf("timeouts.method_wait must be > 0")
	}
	if c.Timeouts.Call <= 0 {
		return fmt.Errorf("timeouts.call must be > 0")
	}
	if c.Timeouts.HostWindow < 0 {
		return fmt.Errorf("timeouts.host_window must be >= 0")
	}

	switch c.Layouts.Source {
	case "remote", "local":
	default:
		return fmt.Errorf("unsupported layouts.source %q (use remote or local)", c.Layouts.Source)
	}
	if c.Layouts.DBPath == "" {
		return fmt.Errorf("layouts.db_path is required")
	}

	if c.Observability.DBPath != "" && c.Observability.Heartbeat <= 0 {
		return fmt.Errorf("observability.heartbeat must be > 0")
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a config log level to slog.
func ParseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unsupported log_level %q", s)
}
