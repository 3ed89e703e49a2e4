package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"ERROR", LevelError, false},
		{"verbose", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("json"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(json) = %v, %v", f, err)
	}
	if f, err := ParseFormat("TEXT"); err != nil || f != FormatText {
		t.Errorf("ParseFormat(TEXT) = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
	}

	for _, tt := range tests {
		if got := LevelString(tt.level); got != tt.want {
			t.Errorf("LevelString(%v) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != LevelInfo {
		t.Errorf("expected info level, got %v", cfg.Level)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected stderr output, got %s", cfg.Output)
	}
	if cfg.Component != "keymapd" {
		t.Errorf("expected keymapd component, got %s", cfg.Component)
	}
	if !strings.Contains(cfg.FilePath, "keymapd") {
		t.Errorf("log path should contain keymapd: %s", cfg.FilePath)
	}
}

func TestNewFileOutput(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "keymapd.log")

	cfg := &Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     "file",
		FilePath:   logPath,
		MaxSize:    10,
		MaxBackups: 2,
		Component:  "test",
	}

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Info("engine started", "tick_hz", 1000)
	if err := logger.Sync(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "engine started") {
		t.Errorf("log output missing message: %s", out)
	}
	if !strings.Contains(out, "tick_hz=1000") {
		t.Errorf("log output missing attribute: %s", out)
	}
	if !strings.Contains(out, "component=test") {
		t.Errorf("log output missing component: %s", out)
	}
}

func TestJSONFormat(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "keymapd.log")

	cfg := &Config{
		Level:     LevelInfo,
		Format:    FormatJSON,
		Output:    "file",
		FilePath:  logPath,
		MaxSize:   10,
		Component: "test",
	}

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Info("layer activated", "layer", "nav")
	logger.Sync()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	line := strings.TrimSpace(string(data))
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not valid JSON: %v\n%s", err, line)
	}
	if entry["msg"] != "layer activated" {
		t.Errorf("expected msg 'layer activated', got %v", entry["msg"])
	}
	if entry["layer"] != "nav" {
		t.Errorf("expected layer nav, got %v", entry["layer"])
	}
}

func TestLevelFiltering(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "keymapd.log")

	cfg := &Config{
		Level:    LevelWarn,
		Format:   FormatText,
		Output:   "file",
		FilePath: logPath,
		MaxSize:  10,
	}

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Debug("suppressed debug")
	logger.Info("suppressed info")
	logger.Warn("visible warning")
	logger.Sync()

	data, _ := os.ReadFile(logPath)
	out := string(data)
	if strings.Contains(out, "suppressed") {
		t.Errorf("levels below warn should be filtered: %s", out)
	}
	if !strings.Contains(out, "visible warning") {
		t.Errorf("warn level should be logged: %s", out)
	}
}

func TestMacroTextRedaction(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "keymapd.log")

	cfg := &Config{
		Level:    LevelDebug,
		Format:   FormatText,
		Output:   "file",
		FilePath: logPath,
		MaxSize:  10,
	}

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Debug("macro compiled", "name", "login", "text", "hunter2")
	logger.Sync()

	data, _ := os.ReadFile(logPath)
	out := string(data)
	if strings.Contains(out, "hunter2") {
		t.Errorf("macro text leaked into log: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker: %s", out)
	}
	if !strings.Contains(out, "login") {
		t.Errorf("macro name should not be redacted: %s", out)
	}
}

func TestShouldRedact(t *testing.T) {
	redacted := []string{"text", "macro_text", "password", "PASSPHRASE"}
	for _, key := range redacted {
		if !shouldRedact(key) {
			t.Errorf("expected %q to be redacted", key)
		}
	}

	// Key-related attribute names are routine in this daemon and must
	// never be redacted.
	clear := []string{"keymap", "key", "keys", "layer", "usage", "device"}
	for _, key := range clear {
		if shouldRedact(key) {
			t.Errorf("expected %q to pass through", key)
		}
	}
}

func TestWithComponent(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "keymapd.log")

	cfg := &Config{
		Level:    LevelInfo,
		Format:   FormatText,
		Output:   "file",
		FilePath: logPath,
		MaxSize:  10,
	}

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Close()

	ipcLogger := logger.WithComponent("ipc")
	ipcLogger.Info("listening")
	logger.Sync()

	data, _ := os.ReadFile(logPath)
	if !strings.Contains(string(data), "component=ipc") {
		t.Errorf("expected ipc component attribute: %s", data)
	}
}

func TestFileRotator(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	cfg := &Config{
		FilePath:   logPath,
		MaxSize:    1, // 1 MB
		MaxAge:     7,
		MaxBackups: 3,
		Compress:   false,
	}

	rotator, err := NewFileRotator(cfg)
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}
	defer rotator.Close()

	testData := []byte("test log line\n")
	n, err := rotator.Write(testData)
	if err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	if n != len(testData) {
		t.Errorf("expected to write %d bytes, wrote %d", len(testData), n)
	}

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Error("log file was not created")
	}

	if err := rotator.Sync(); err != nil {
		t.Errorf("sync failed: %v", err)
	}
}

func TestFileRotatorRotation(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	// A zero size cap forces rotation on every write
	cfg := &Config{
		FilePath:   logPath,
		MaxSize:    0,
		MaxAge:     7,
		MaxBackups: 5,
		Compress:   false,
	}

	rotator, err := NewFileRotator(cfg)
	if err != nil {
		t.Fatalf("failed to create rotator: %v", err)
	}
	defer rotator.Close()

	if _, err := rotator.Write([]byte("first\n")); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if _, err := rotator.Write([]byte("second\n")); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	rotated, err := filepath.Glob(filepath.Join(tmpDir, "test-*.log"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(rotated) == 0 {
		t.Error("expected rotated log files")
	}
}

func TestCrashHandler(t *testing.T) {
	tmpDir := t.TempDir()

	var reported CrashReport
	h := NewCrashHandler(&CrashHandlerConfig{
		CrashDir:  tmpDir,
		Version:   "test",
		Component: "keymapd",
		OnCrash:   func(r CrashReport) { reported = r },
	})

	h.Recover(func() {
		panic("matrix overflow")
	})

	if reported.PanicValue != "matrix overflow" {
		t.Errorf("expected panic value in report, got %q", reported.PanicValue)
	}
	if reported.Component != "keymapd" {
		t.Errorf("expected keymapd component, got %q", reported.Component)
	}
	if !strings.Contains(reported.StackTrace, "goroutine") {
		t.Error("expected stack trace in report")
	}

	reports, err := h.GetCrashReports()
	if err != nil {
		t.Fatalf("GetCrashReports failed: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected 1 crash report on disk, got %d", len(reports))
	}
	if reports[0].PanicValue != "matrix overflow" {
		t.Errorf("persisted report mismatch: %q", reports[0].PanicValue)
	}
}

func TestCrashHandlerNoPanic(t *testing.T) {
	tmpDir := t.TempDir()
	h := NewCrashHandler(&CrashHandlerConfig{CrashDir: tmpDir})

	ran := false
	h.Recover(func() { ran = true })

	if !ran {
		t.Error("wrapped function did not run")
	}
	reports, _ := h.GetCrashReports()
	if len(reports) != 0 {
		t.Errorf("expected no crash reports, got %d", len(reports))
	}
}

func TestCrashHandlerCleanup(t *testing.T) {
	tmpDir := t.TempDir()
	h := NewCrashHandler(&CrashHandlerConfig{CrashDir: tmpDir, Component: "keymapd"})

	h.Recover(func() { panic("old crash") })

	// A negative max age puts the cutoff in the future, removing everything
	if err := h.CleanupOldCrashReports(-time.Minute); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	reports, _ := h.GetCrashReports()
	if len(reports) != 0 {
		t.Errorf("expected crash reports to be cleaned up, got %d", len(reports))
	}
}
