// Package config handles configuration loading, validation, and hot reload
// for keymapd.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"keymapd/internal/engine"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Engine holds the tick loop and tap/hold timing knobs.
	Engine EngineConfig `toml:"engine" json:"engine" yaml:"engine"`

	// Keymap points at the keymap file and controls hot reload.
	Keymap KeymapConfig `toml:"keymap" json:"keymap" yaml:"keymap"`

	// Capture configures evdev input device capture.
	Capture CaptureConfig `toml:"capture" json:"capture" yaml:"capture"`

	// Transport selects where reports are written.
	Transport TransportConfig `toml:"transport" json:"transport" yaml:"transport"`

	// Store configures the SQLite overrides and stats database.
	Store StoreConfig `toml:"store" json:"store" yaml:"store"`

	// Journal configures the binary event journal used by record/replay.
	Journal JournalConfig `toml:"journal" json:"journal" yaml:"journal"`

	// IPC configures the control socket.
	IPC IPCConfig `toml:"ipc" json:"ipc" yaml:"ipc"`

	// Logging configures log output.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Indicator configures desktop layer-change notifications.
	Indicator IndicatorConfig `toml:"indicator" json:"indicator" yaml:"indicator"`
}

// EngineConfig holds engine timing configuration. Durations are in
// milliseconds and are translated to ticks at the configured rate.
type EngineConfig struct {
	// TickHz is the scheduler rate in ticks per second.
	TickHz int `toml:"tick_hz" json:"tick_hz" yaml:"tick_hz"`

	// DebounceMs is the debounce window. Zero disables debouncing.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`

	// TapHoldMs is the dual-role key decision deadline.
	TapHoldMs int `toml:"tap_hold_ms" json:"tap_hold_ms" yaml:"tap_hold_ms"`

	// OneShotTimeoutMs disarms an unconsumed one-shot layer.
	OneShotTimeoutMs int `toml:"oneshot_timeout_ms" json:"oneshot_timeout_ms" yaml:"oneshot_timeout_ms"`

	// PermissiveHold resolves a dual-role key as held when another key is
	// pressed and released inside its decision window.
	PermissiveHold bool `toml:"permissive_hold" json:"permissive_hold" yaml:"permissive_hold"`

	// HoldOnOtherPress resolves a dual-role key as held as soon as another
	// key is pressed.
	HoldOnOtherPress bool `toml:"hold_on_other_press" json:"hold_on_other_press" yaml:"hold_on_other_press"`

	// NKRO selects bitmap reports instead of 6-key boot reports.
	NKRO bool `toml:"nkro" json:"nkro" yaml:"nkro"`

	// ReportQueue bounds the report queue between the engine and the
	// transport writer. A full queue drops the oldest report.
	ReportQueue int `toml:"report_queue" json:"report_queue" yaml:"report_queue"`

	// EventBacklog bounds captured events buffered between ticks.
	EventBacklog int `toml:"event_backlog" json:"event_backlog" yaml:"event_backlog"`
}

// KeymapConfig holds keymap file configuration.
type KeymapConfig struct {
	// Path is the keymap file: .toml, .yaml/.yml, or .json (Via import).
	Path string `toml:"path" json:"path" yaml:"path"`

	// Watch reloads the keymap when the file changes.
	Watch bool `toml:"watch" json:"watch" yaml:"watch"`
}

// CaptureConfig holds evdev capture configuration.
type CaptureConfig struct {
	// Enabled turns on device capture. When disabled the engine runs on
	// injected and simulated events only.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// IncludePatterns are glob patterns matched against device names.
	// Empty means every keyboard-capable device.
	IncludePatterns []string `toml:"include_patterns" json:"include_patterns" yaml:"include_patterns"`

	// ExcludePatterns are glob patterns for devices to skip.
	ExcludePatterns []string `toml:"exclude_patterns" json:"exclude_patterns" yaml:"exclude_patterns"`

	// Grab takes exclusive access to captured devices so the original
	// keystrokes do not reach the host twice.
	Grab bool `toml:"grab" json:"grab" yaml:"grab"`
}

// TransportConfig holds report output configuration.
type TransportConfig struct {
	// Type is the output backend: "uinput", "hidg", "log", or "none".
	Type string `toml:"type" json:"type" yaml:"type"`

	// DeviceName is the name of the virtual uinput device.
	DeviceName string `toml:"device_name" json:"device_name" yaml:"device_name"`

	// HidgPath is the USB gadget endpoint (for example /dev/hidg0).
	HidgPath string `toml:"hidg_path" json:"hidg_path" yaml:"hidg_path"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	// Enabled turns on the SQLite store for keymap overrides and key
	// statistics.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`

	// StatsFlushSec is how often per-key statistics are flushed. Zero
	// disables periodic flushing; stats still flush on shutdown.
	StatsFlushSec int `toml:"stats_flush_sec" json:"stats_flush_sec" yaml:"stats_flush_sec"`
}

// JournalConfig holds event journal configuration.
type JournalConfig struct {
	// Enabled turns on event journaling for later replay.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Dir is the journal directory. Each session writes one segment.
	Dir string `toml:"dir" json:"dir" yaml:"dir"`

	// MaxSizeBytes caps a journal segment; recording stops at the cap.
	MaxSizeBytes int64 `toml:"max_size_bytes" json:"max_size_bytes" yaml:"max_size_bytes"`

	// FlushEvery is the number of records between explicit flushes.
	FlushEvery int `toml:"flush_every" json:"flush_every" yaml:"flush_every"`
}

// IPCConfig holds control socket configuration.
type IPCConfig struct {
	// Enabled turns on the IPC server.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// SocketPath is the Unix socket path.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// Permissions is the socket file mode (for example "0600").
	Permissions string `toml:"permissions" json:"permissions" yaml:"permissions"`

	// MaxConnections is the maximum concurrent connections.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// TimeoutSec is the per-connection read/write timeout.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", or "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file (when Output is "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of rotated files.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress gzips rotated files.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// IndicatorConfig holds desktop notification configuration.
type IndicatorConfig struct {
	// Enabled shows a desktop notification when the active layer changes.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// TimeoutMs is the notification expiry passed to the desktop.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dataDir := DataDir()

	return &Config{
		Version: Version,
		Engine: EngineConfig{
			TickHz:           engine.DefaultTickHz,
			DebounceMs:       engine.DefaultDebounceMS,
			TapHoldMs:        engine.DefaultTapHoldMS,
			OneShotTimeoutMs: engine.DefaultOneShotMS,
			PermissiveHold:   false,
			HoldOnOtherPress: false,
			NKRO:             false,
			ReportQueue:      engine.DefaultQueueSize,
			EventBacklog:     engine.DefaultEventBacklog,
		},
		Keymap: KeymapConfig{
			Path:  filepath.Join(ConfigDir(), "keymap.toml"),
			Watch: true,
		},
		Capture: CaptureConfig{
			Enabled:         true,
			IncludePatterns: []string{},
			ExcludePatterns: []string{"*uinput*", "*keymapd*"},
			Grab:            true,
		},
		Transport: TransportConfig{
			Type:       "uinput",
			DeviceName: "keymapd virtual keyboard",
			HidgPath:   "/dev/hidg0",
		},
		Store: StoreConfig{
			Enabled:       true,
			Path:          filepath.Join(dataDir, "keymapd.db"),
			BusyTimeoutMs: 5000,
			StatsFlushSec: 60,
		},
		Journal: JournalConfig{
			Enabled:      false,
			Dir:          filepath.Join(dataDir, "journal"),
			MaxSizeBytes: 64 * 1024 * 1024,
			FlushEvery:   128,
		},
		IPC: IPCConfig{
			Enabled:        true,
			SocketPath:     defaultSocketPath(),
			Permissions:    "0600",
			MaxConnections: 10,
			TimeoutSec:     30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dataDir, "keymapd.log"),
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Indicator: IndicatorConfig{
			Enabled:   false,
			TimeoutMs: 1500,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DataDir returns the keymapd data directory, honoring KEYMAPD_DATA_DIR.
func DataDir() string {
	if dir := os.Getenv("KEYMAPD_DATA_DIR"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", "keymapd")
	case "linux":
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "keymapd")
		}
		return filepath.Join(homeDir(), ".local", "share", "keymapd")
	default:
		return filepath.Join(homeDir(), ".keymapd")
	}
}

// ConfigDir returns the keymapd config directory, honoring
// KEYMAPD_CONFIG_DIR.
func ConfigDir() string {
	if dir := os.Getenv("KEYMAPD_CONFIG_DIR"); dir != "" {
		return dir
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", "keymapd")
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "keymapd")
		}
		return filepath.Join(homeDir(), ".config", "keymapd")
	default:
		return filepath.Join(homeDir(), ".keymapd")
	}
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}

func defaultSocketPath() string {
	switch runtime.GOOS {
	case "linux":
		if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
			return filepath.Join(xdg, "keymapd.sock")
		}
		return "/tmp/keymapd.sock"
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", "keymapd", "keymapd.sock")
	default:
		return "/tmp/keymapd.sock"
	}
}

// Load reads configuration from path, falling back to defaults when the
// file does not exist. The format is chosen by extension: TOML, JSON, or
// YAML. Environment overrides are applied afterwards.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config (unknown format): %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// ApplyEnvOverrides applies KEYMAPD_* environment variables on top of the
// configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("KEYMAPD_KEYMAP"); v != "" {
		c.Keymap.Path = v
	}
	if v := os.Getenv("KEYMAPD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("KEYMAPD_LOG_PATH"); v != "" {
		c.Logging.Output = "file"
		c.Logging.FilePath = v
	}
	if v := os.Getenv("KEYMAPD_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("KEYMAPD_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("KEYMAPD_JOURNAL_DIR"); v != "" {
		c.Journal.Dir = v
	}
	if v := os.Getenv("KEYMAPD_TRANSPORT"); v != "" {
		c.Transport.Type = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EngineParams translates the millisecond-denominated engine settings into
// tick-denominated engine parameters.
func (c *Config) EngineParams() engine.Params {
	p := engine.Params{
		TickHz:           c.Engine.TickHz,
		PermissiveHold:   c.Engine.PermissiveHold,
		HoldOnOtherPress: c.Engine.HoldOnOtherPress,
		NKRO:             c.Engine.NKRO,
		QueueSize:        c.Engine.ReportQueue,
		EventBacklog:     c.Engine.EventBacklog,
	}
	p.DebounceTicks = p.TicksFromMS(uint64(c.Engine.DebounceMs))
	p.TapHoldTicks = p.TicksFromMS(uint64(c.Engine.TapHoldMs))
	p.OneShotTicks = p.TicksFromMS(uint64(c.Engine.OneShotTimeoutMs))
	return p
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Store.Path),
		filepath.Dir(c.IPC.SocketPath),
	}
	if c.Journal.Enabled {
		dirs = append(dirs, c.Journal.Dir)
	}
	if c.Logging.Output == "file" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Capture.IncludePatterns = append([]string{}, c.Capture.IncludePatterns...)
	clone.Capture.ExcludePatterns = append([]string{}, c.Capture.ExcludePatterns...)
	return &clone
}
