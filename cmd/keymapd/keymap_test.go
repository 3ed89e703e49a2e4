package main

import (
	"os"
	"path/filepath"
	"testing"

	"keymapd/internal/layout"
	"keymapd/internal/logging"
	"keymapd/internal/store"
)

const managerKeymapTOML = `
name = "mgr-test"

[matrix]
rows = 2
cols = 3

[[layers]]
name = "base"
keys = [
  ["A", "B", "SPC"],
  ["LSFT", "MO(1)", "ENT"],
]

[[layers]]
name = "fn"
keys = [
  ["F1", "F2", "____"],
  ["____", "____", "VOLU"],
]
`

func quietLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.New(&logging.Config{Level: logging.LevelError, Format: logging.FormatText, Output: "stderr"})
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	return log
}

func writeKeymapFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keymap.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write keymap: %v", err)
	}
	return path
}

func TestManagerAppliesStoredOverrides(t *testing.T) {
	path := writeKeymapFile(t, managerKeymapTOML)

	km, err := layout.Load(path)
	if err != nil {
		t.Fatalf("load keymap: %v", err)
	}
	fp := km.Fingerprint()

	overridesFor := func(fingerprint string) ([]store.Override, error) {
		if fingerprint != fp {
			t.Errorf("override lookup for fingerprint %q, want %q", fingerprint, fp)
		}
		return []store.Override{
			{Fingerprint: fp, Layer: 0, Row: 0, Col: 0, Action: "ESC"},
			// Stale entries must be skipped, not fail the load.
			{Fingerprint: fp, Layer: 0, Row: 0, Col: 1, Action: "NOT_A_KEY("},
			{Fingerprint: fp, Layer: 5, Row: 0, Col: 2, Action: "A"},
		}, nil
	}

	m, err := newKeymapManager(path, overridesFor, quietLogger(t))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	want, _ := layout.ParseExpr("ESC")
	if got := m.Live().ActionAt(0, 0, 0); got != want {
		t.Errorf("override not applied: got %+v, want %+v", got, want)
	}
	// The skipped overrides leave their positions as compiled.
	compiled, _ := layout.ParseExpr("B")
	if got := m.Live().ActionAt(0, 0, 1); got != compiled {
		t.Errorf("bad override mutated position: got %+v", got)
	}
}

func TestManagerRebindAndRestore(t *testing.T) {
	path := writeKeymapFile(t, managerKeymapTOML)
	m, err := newKeymapManager(path, nil, quietLogger(t))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	newAction, _ := layout.ParseExpr("TAB")
	compiled, _ := layout.ParseExpr("SPC")

	prev, err := m.Rebind(0, 0, 2, newAction)
	if err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if prev != compiled {
		t.Errorf("rebind previous = %+v, want %+v", prev, compiled)
	}
	if got := m.Live().ActionAt(0, 0, 2); got != newAction {
		t.Errorf("live action = %+v, want %+v", got, newAction)
	}

	prev, restored, err := m.Restore(0, 0, 2)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if prev != newAction {
		t.Errorf("restore previous = %+v, want %+v", prev, newAction)
	}
	if restored != compiled {
		t.Errorf("restored action = %+v, want compiled %+v", restored, compiled)
	}
	if got := m.Live().ActionAt(0, 0, 2); got != compiled {
		t.Errorf("live after restore = %+v, want %+v", got, compiled)
	}
}

func TestManagerRebindOutOfRange(t *testing.T) {
	path := writeKeymapFile(t, managerKeymapTOML)
	m, err := newKeymapManager(path, nil, quietLogger(t))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	a, _ := layout.ParseExpr("A")
	if _, err := m.Rebind(7, 0, 0, a); err == nil {
		t.Error("rebind on missing layer succeeded")
	}
	if _, err := m.Rebind(0, 9, 0, a); err == nil {
		t.Error("rebind on missing row succeeded")
	}
}

func TestManagerReloadKeepsRunningKeymapOnError(t *testing.T) {
	path := writeKeymapFile(t, managerKeymapTOML)
	m, err := newKeymapManager(path, nil, quietLogger(t))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if err := os.WriteFile(path, []byte("not a keymap ["), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reload(); err == nil {
		t.Fatal("reload of a broken file succeeded")
	}
	if got := m.Live().Name; got != "mgr-test" {
		t.Errorf("running keymap replaced after failed reload: %q", got)
	}
}

func TestManagerImportPersistFormatMismatch(t *testing.T) {
	path := writeKeymapFile(t, managerKeymapTOML)
	m, err := newKeymapManager(path, nil, quietLogger(t))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	jsonKeymap := []byte(`{
  "name": "json-import",
  "matrix": {"rows": 1, "cols": 2},
  "layers": [["A", "B"]]
}`)

	if _, err := m.Import("json", jsonKeymap, true); err == nil {
		t.Fatal("persisting a JSON keymap to a .toml path succeeded")
	}
	if got := m.Live().Name; got != "mgr-test" {
		t.Errorf("running keymap replaced after rejected persist: %q", got)
	}
	// Without persist the same upload is fine.
	if _, err := m.Import("json", jsonKeymap, false); err != nil {
		t.Fatalf("import without persist: %v", err)
	}
	if got := m.Live().Name; got != "json-import" {
		t.Errorf("running keymap = %q, want json-import", got)
	}
}

func TestManagerImportPersistWritesFile(t *testing.T) {
	path := writeKeymapFile(t, managerKeymapTOML)
	m, err := newKeymapManager(path, nil, quietLogger(t))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	updated := []byte(`
name = "updated"

[matrix]
rows = 1
cols = 2

[[layers]]
name = "base"
keys = [["X", "Y"]]
`)

	if _, err := m.Import("toml", updated, true); err != nil {
		t.Fatalf("import: %v", err)
	}
	if got := m.Live().Name; got != "updated" {
		t.Errorf("running keymap = %q, want updated", got)
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(onDisk) != string(updated) {
		t.Error("keymap file does not match the imported source")
	}

	// A later reload compiles what was persisted.
	km, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if km.Name != "updated" {
		t.Errorf("reloaded keymap = %q, want updated", km.Name)
	}
}
