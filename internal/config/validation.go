package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	// Validate version
	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	// Validate engine configuration
	if engineErrs := validateEngine(&c.Engine); len(engineErrs) > 0 {
		errs = append(errs, engineErrs...)
	}

	// Validate keymap configuration
	if keymapErrs := validateKeymap(&c.Keymap); len(keymapErrs) > 0 {
		errs = append(errs, keymapErrs...)
	}

	// Validate capture configuration
	if captureErrs := validateCapture(&c.Capture); len(captureErrs) > 0 {
		errs = append(errs, captureErrs...)
	}

	// Validate transport configuration
	if transportErrs := validateTransport(&c.Transport); len(transportErrs) > 0 {
		errs = append(errs, transportErrs...)
	}

	// Validate store configuration
	if storeErrs := validateStore(&c.Store); len(storeErrs) > 0 {
		errs = append(errs, storeErrs...)
	}

	// Validate journal configuration
	if journalErrs := validateJournal(&c.Journal); len(journalErrs) > 0 {
		errs = append(errs, journalErrs...)
	}

	// Validate IPC configuration
	if ipcErrs := validateIPC(&c.IPC); len(ipcErrs) > 0 {
		errs = append(errs, ipcErrs...)
	}

	// Validate logging configuration
	if loggingErrs := validateLogging(&c.Logging); len(loggingErrs) > 0 {
		errs = append(errs, loggingErrs...)
	}

	// Validate indicator configuration
	if indicatorErrs := validateIndicator(&c.Indicator); len(indicatorErrs) > 0 {
		errs = append(errs, indicatorErrs...)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateEngine(e *EngineConfig) ValidationErrors {
	var errs ValidationErrors

	if e.TickHz < 125 {
		errs = append(errs, ValidationError{
			Field:   "engine.tick_hz",
			Message: "tick rate must be at least 125 Hz",
		})
	}
	if e.TickHz > 8000 {
		errs = append(errs, ValidationError{
			Field:   "engine.tick_hz",
			Message: "tick rate cannot exceed 8000 Hz",
		})
	}

	if e.DebounceMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "engine.debounce_ms",
			Message: "debounce cannot be negative",
		})
	}
	if e.DebounceMs > 50 {
		errs = append(errs, ValidationError{
			Field:   "engine.debounce_ms",
			Message: "debounce cannot exceed 50ms",
		})
	}

	if e.TapHoldMs < 50 {
		errs = append(errs, ValidationError{
			Field:   "engine.tap_hold_ms",
			Message: "tap-hold timeout must be at least 50ms",
		})
	}
	if e.TapHoldMs > 1000 {
		errs = append(errs, ValidationError{
			Field:   "engine.tap_hold_ms",
			Message: "tap-hold timeout cannot exceed 1000ms",
		})
	}

	if e.OneShotTimeoutMs < 100 {
		errs = append(errs, ValidationError{
			Field:   "engine.oneshot_timeout_ms",
			Message: "one-shot timeout must be at least 100ms",
		})
	}
	if e.OneShotTimeoutMs > 10000 {
		errs = append(errs, ValidationError{
			Field:   "engine.oneshot_timeout_ms",
			Message: "one-shot timeout cannot exceed 10000ms",
		})
	}

	if e.ReportQueue < 1 {
		errs = append(errs, ValidationError{
			Field:   "engine.report_queue",
			Message: "report queue must hold at least 1 report",
		})
	}
	if e.ReportQueue > 1024 {
		errs = append(errs, ValidationError{
			Field:   "engine.report_queue",
			Message: "report queue cannot exceed 1024 reports",
		})
	}

	if e.EventBacklog < 1 {
		errs = append(errs, ValidationError{
			Field:   "engine.event_backlog",
			Message: "event backlog must hold at least 1 event",
		})
	}
	if e.EventBacklog > 4096 {
		errs = append(errs, ValidationError{
			Field:   "engine.event_backlog",
			Message: "event backlog cannot exceed 4096 events",
		})
	}

	return errs
}

func validateKeymap(k *KeymapConfig) ValidationErrors {
	var errs ValidationErrors

	if k.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "keymap.path",
			Message: "keymap path is required",
		})
		return errs
	}

	switch strings.ToLower(filepath.Ext(k.Path)) {
	case ".toml", ".json", ".yaml", ".yml":
		// Supported formats
	default:
		errs = append(errs, ValidationError{
			Field:   "keymap.path",
			Message: fmt.Sprintf("unsupported keymap format: %s (valid: .toml, .json, .yaml)", filepath.Ext(k.Path)),
		})
	}

	// The file might not exist yet (created by `keymapd init`), so only
	// flag paths that exist but are not regular files.
	if info, err := os.Stat(expandPath(k.Path)); err == nil && info.IsDir() {
		errs = append(errs, ValidationError{
			Field:   "keymap.path",
			Message: fmt.Sprintf("keymap path is a directory: %s", k.Path),
		})
	}

	return errs
}

func validateCapture(c *CaptureConfig) ValidationErrors {
	var errs ValidationErrors

	if !c.Enabled {
		return errs // Skip validation if capture is disabled
	}

	for i, pattern := range c.IncludePatterns {
		if !isValidGlobPattern(pattern) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("capture.include_patterns[%d]", i),
				Message: fmt.Sprintf("invalid glob pattern: %s", pattern),
			})
		}
	}

	for i, pattern := range c.ExcludePatterns {
		if !isValidGlobPattern(pattern) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("capture.exclude_patterns[%d]", i),
				Message: fmt.Sprintf("invalid glob pattern: %s", pattern),
			})
		}
	}

	return errs
}

func validateTransport(t *TransportConfig) ValidationErrors {
	var errs ValidationErrors

	switch t.Type {
	case "uinput", "hidg", "log", "none":
		// Valid types
	default:
		errs = append(errs, ValidationError{
			Field:   "transport.type",
			Message: fmt.Sprintf("invalid transport type: %s (valid: uinput, hidg, log, none)", t.Type),
		})
	}

	if t.Type == "uinput" && t.DeviceName == "" {
		errs = append(errs, ValidationError{
			Field:   "transport.device_name",
			Message: "device name is required for uinput transport",
		})
	}

	if t.Type == "hidg" && t.HidgPath == "" {
		errs = append(errs, ValidationError{
			Field:   "transport.hidg_path",
			Message: "gadget device path is required for hidg transport",
		})
	}

	return errs
}

func validateStore(s *StoreConfig) ValidationErrors {
	var errs ValidationErrors

	if !s.Enabled {
		return errs // Skip validation if the store is disabled
	}

	if s.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "store.path",
			Message: "database path is required when the store is enabled",
		})
	}

	// Check parent directory exists or can be created
	dir := filepath.Dir(expandPath(s.Path))
	if dir != "" && dir != "." {
		if info, err := os.Stat(dir); err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, ValidationError{
					Field:   "store.path",
					Message: fmt.Sprintf("cannot access directory: %v", err),
				})
			}
			// Directory doesn't exist yet - that's OK, it will be created
		} else if !info.IsDir() {
			errs = append(errs, ValidationError{
				Field:   "store.path",
				Message: fmt.Sprintf("parent path is not a directory: %s", dir),
			})
		}
	}

	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "store.busy_timeout_ms",
			Message: "busy timeout cannot be negative",
		})
	}

	if s.StatsFlushSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "store.stats_flush_sec",
			Message: "stats flush interval must be at least 1 second",
		})
	}

	return errs
}

func validateJournal(j *JournalConfig) ValidationErrors {
	var errs ValidationErrors

	if !j.Enabled {
		return errs // Skip validation if the journal is disabled
	}

	if j.Dir == "" {
		errs = append(errs, ValidationError{
			Field:   "journal.dir",
			Message: "journal directory is required when enabled",
		})
	}

	if j.MaxSizeBytes < 1024*1024 { // Minimum 1MB
		errs = append(errs, ValidationError{
			Field:   "journal.max_size_bytes",
			Message: "journal max size must be at least 1MB",
		})
	}

	if j.FlushEvery < 1 {
		errs = append(errs, ValidationError{
			Field:   "journal.flush_every",
			Message: "flush interval must be at least 1 entry",
		})
	}

	return errs
}

func validateIPC(i *IPCConfig) ValidationErrors {
	var errs ValidationErrors

	if !i.Enabled {
		return errs
	}

	if i.SocketPath == "" {
		errs = append(errs, ValidationError{
			Field:   "ipc.socket_path",
			Message: "socket path is required when IPC is enabled",
		})
	}

	// Validate permissions format (Unix only)
	if i.Permissions != "" {
		if matched, _ := regexp.MatchString(`^0[0-7]{3}$`, i.Permissions); !matched {
			errs = append(errs, ValidationError{
				Field:   "ipc.permissions",
				Message: fmt.Sprintf("invalid permissions format: %s (expected octal like 0600)", i.Permissions),
			})
		}
	}

	if i.MaxConnections < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.max_connections",
			Message: "max connections must be at least 1",
		})
	}

	if i.TimeoutSec < 1 {
		errs = append(errs, ValidationError{
			Field:   "ipc.timeout_sec",
			Message: "timeout must be at least 1 second",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
		// Valid formats
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr", "file":
		// Valid outputs
		if l.Output == "file" && l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output is 'file'",
			})
		}
	default:
		if l.Output == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: "log output is required",
			})
		} else {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file)", l.Output),
			})
		}
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

func validateIndicator(n *IndicatorConfig) ValidationErrors {
	var errs ValidationErrors

	if !n.Enabled {
		return errs
	}

	if n.TimeoutMs < 100 {
		errs = append(errs, ValidationError{
			Field:   "indicator.timeout_ms",
			Message: "indicator timeout must be at least 100ms",
		})
	}

	return errs
}

// Helper functions

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// isValidGlobPattern reports whether the pattern compiles with the same
// matcher the device capture layer uses.
func isValidGlobPattern(pattern string) bool {
	if pattern == "" {
		return false
	}
	_, err := glob.Compile(pattern)
	return err == nil
}

// IsWarning returns true if this is a non-fatal validation issue.
func (e *ValidationError) IsWarning() bool {
	// Some fields are warnings, not errors
	warningFields := []string{
		"keymap.path", // The keymap might not exist yet
	}
	for _, f := range warningFields {
		if strings.HasPrefix(e.Field, f) {
			return true
		}
	}
	return false
}

// Warnings returns only warning-level validation errors.
func (e ValidationErrors) Warnings() ValidationErrors {
	var warnings ValidationErrors
	for _, err := range e {
		if err.IsWarning() {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Errors returns only error-level validation errors.
func (e ValidationErrors) Errors() ValidationErrors {
	var errs ValidationErrors
	for _, err := range e {
		if !err.IsWarning() {
			errs = append(errs, err)
		}
	}
	return errs
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")
