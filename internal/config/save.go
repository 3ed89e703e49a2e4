package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SaveConfig saves the configuration to a file.
func SaveConfig(cfg *Config, path string) error {
	// Determine format from extension
	ext := filepath.Ext(path)

	var data []byte
	var err error

	switch ext {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		// Default to TOML
		data, err = encodeToTOML(cfg)
	}

	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	// Write with secure permissions
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// encodeToTOML encodes the config to TOML format. A formatted template is
// generated instead of the raw encoder output so the saved file carries
// comments.
func encodeToTOML(cfg *Config) ([]byte, error) {
	return []byte(generateTOML(cfg)), nil
}

// generateTOML generates a well-formatted TOML configuration file.
func generateTOML(cfg *Config) string {
	return fmt.Sprintf(`# keymapd configuration
# Version %d

version = %d

[engine]
# Tick rate in Hz. Timing below is in milliseconds and rounds up to ticks.
tick_hz = %d
debounce_ms = %d
tap_hold_ms = %d
oneshot_timeout_ms = %d
permissive_hold = %t
hold_on_other_press = %t
nkro = %t
report_queue = %d
event_backlog = %d

[keymap]
path = "%s"
watch = %t

[capture]
enabled = %t
include_patterns = %s
exclude_patterns = %s
grab = %t

[transport]
# "uinput", "hidg", "log", or "none"
type = "%s"
device_name = "%s"
hidg_path = "%s"

[store]
enabled = %t
path = "%s"
busy_timeout_ms = %d
stats_flush_sec = %d

[journal]
enabled = %t
dir = "%s"
max_size_bytes = %d
flush_every = %d

[ipc]
enabled = %t
socket_path = "%s"
permissions = "%s"
max_connections = %d
timeout_sec = %d

[logging]
level = "%s"
format = "%s"
output = "%s"
file_path = "%s"
max_size_mb = %d
max_backups = %d
max_age_days = %d
compress = %t

[indicator]
enabled = %t
timeout_ms = %d
`,
		Version,
		cfg.Version,
		cfg.Engine.TickHz,
		cfg.Engine.DebounceMs,
		cfg.Engine.TapHoldMs,
		cfg.Engine.OneShotTimeoutMs,
		cfg.Engine.PermissiveHold,
		cfg.Engine.HoldOnOtherPress,
		cfg.Engine.NKRO,
		cfg.Engine.ReportQueue,
		cfg.Engine.EventBacklog,
		cfg.Keymap.Path,
		cfg.Keymap.Watch,
		cfg.Capture.Enabled,
		toTOMLArray(cfg.Capture.IncludePatterns),
		toTOMLArray(cfg.Capture.ExcludePatterns),
		cfg.Capture.Grab,
		cfg.Transport.Type,
		cfg.Transport.DeviceName,
		cfg.Transport.HidgPath,
		cfg.Store.Enabled,
		cfg.Store.Path,
		cfg.Store.BusyTimeoutMs,
		cfg.Store.StatsFlushSec,
		cfg.Journal.Enabled,
		cfg.Journal.Dir,
		cfg.Journal.MaxSizeBytes,
		cfg.Journal.FlushEvery,
		cfg.IPC.Enabled,
		cfg.IPC.SocketPath,
		cfg.IPC.Permissions,
		cfg.IPC.MaxConnections,
		cfg.IPC.TimeoutSec,
		cfg.Logging.Level,
		cfg.Logging.Format,
		cfg.Logging.Output,
		cfg.Logging.FilePath,
		cfg.Logging.MaxSizeMB,
		cfg.Logging.MaxBackups,
		cfg.Logging.MaxAgeDays,
		cfg.Logging.Compress,
		cfg.Indicator.Enabled,
		cfg.Indicator.TimeoutMs,
	)
}

func toTOMLArray(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	result := "["
	for i, item := range items {
		if i > 0 {
			result += ", "
		}
		result += fmt.Sprintf("%q", item)
	}
	result += "]"
	return result
}
