package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"keymapd/internal/engine"
	"keymapd/internal/layout"
	"keymapd/internal/logging"
	"keymapd/internal/store"
)

// keymapManager is the daemon's keymap state: the keymap as compiled from
// the file (pristine), the running copy with dynamic overrides applied
// (live), and the engine the live copy is pushed into. It implements
// ipc.KeymapSource, so every control-plane mutation funnels through here
// and the handler never touches the engine's keymap directly.
type keymapManager struct {
	mu       sync.Mutex
	path     string
	live     *layout.Keymap
	pristine *layout.Keymap

	// overridesFor returns the stored overrides for a fingerprint. Nil
	// when persistence is disabled.
	overridesFor func(fingerprint string) ([]store.Override, error)

	// eng is nil during boot; set once the engine exists.
	eng *engine.Engine

	log *logging.Logger
}

func newKeymapManager(path string, overridesFor func(string) ([]store.Override, error), log *logging.Logger) (*keymapManager, error) {
	m := &keymapManager{
		path:         path,
		overridesFor: overridesFor,
		log:          log.WithComponent("keymap"),
	}
	km, err := layout.Load(path)
	if err != nil {
		return nil, err
	}
	m.install(km)
	return m, nil
}

// setEngine attaches the engine. Later mutations are pushed into it.
func (m *keymapManager) setEngine(e *engine.Engine) {
	m.mu.Lock()
	m.eng = e
	m.mu.Unlock()
}

// install replaces both copies and reapplies stored overrides for the new
// fingerprint. Caller holds no lock or the lock; install takes it itself.
func (m *keymapManager) install(km *layout.Keymap) {
	live := km.Clone()
	applied := m.applyOverrides(live)

	m.mu.Lock()
	m.pristine = km
	m.live = live
	m.mu.Unlock()

	if applied > 0 {
		m.log.Info("stored overrides applied", "count", applied, "fingerprint", km.Fingerprint())
	}
}

// applyOverrides parses and applies stored overrides onto km. Overrides
// that no longer parse or point outside the keymap are skipped and logged;
// a stale override must never block a keymap from loading.
func (m *keymapManager) applyOverrides(km *layout.Keymap) int {
	if m.overridesFor == nil {
		return 0
	}
	ovs, err := m.overridesFor(km.Fingerprint())
	if err != nil {
		m.log.Warn("override lookup failed", "error", err)
		return 0
	}
	applied := 0
	for _, ov := range ovs {
		a, err := layout.ParseExprWith(ov.Action, km.MacroIndex)
		if err != nil {
			m.log.Warn("skipping stored override",
				"layer", ov.Layer, "row", ov.Row, "col", ov.Col,
				"action", ov.Action, "error", err)
			continue
		}
		if err := km.SetAction(ov.Layer, int(ov.Row), int(ov.Col), a); err != nil {
			m.log.Warn("skipping stored override",
				"layer", ov.Layer, "row", ov.Row, "col", ov.Col, "error", err)
			continue
		}
		applied++
	}
	return applied
}

// Live returns the running keymap including overrides.
func (m *keymapManager) Live() *layout.Keymap {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// Path returns the keymap file path.
func (m *keymapManager) Path() string {
	return m.path
}

// Rebind replaces one action on the live keymap and in the engine.
func (m *keymapManager) Rebind(layer, row, col int, a layout.Action) (layout.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.live.ActionAt(layer, row, col)
	if err := m.live.SetAction(layer, row, col, a); err != nil {
		return layout.Action{}, err
	}
	if m.eng != nil {
		if err := m.eng.SetAction(layer, row, col, a); err != nil {
			// Roll the control-plane copy back so both stay in step.
			m.live.SetAction(layer, row, col, prev)
			return layout.Action{}, err
		}
	}
	return prev, nil
}

// Restore puts back the action compiled from the keymap file.
func (m *keymapManager) Restore(layer, row, col int) (layout.Action, layout.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.live.ActionAt(layer, row, col)
	restored := m.pristine.ActionAt(layer, row, col)
	if err := m.live.SetAction(layer, row, col, restored); err != nil {
		return layout.Action{}, layout.Action{}, err
	}
	if m.eng != nil {
		if err := m.eng.SetAction(layer, row, col, restored); err != nil {
			m.live.SetAction(layer, row, col, prev)
			return layout.Action{}, layout.Action{}, err
		}
	}
	return prev, restored, nil
}

// Reload recompiles the keymap file and swaps it into the engine. A file
// that fails to compile leaves the running keymap untouched.
func (m *keymapManager) Reload() (*layout.Keymap, error) {
	km, err := layout.Load(m.path)
	if err != nil {
		return nil, err
	}
	return m.swap(km)
}

// Import compiles an uploaded keymap and swaps it in. With persist set the
// source is written to the keymap path first; the write must succeed before
// the running keymap changes.
func (m *keymapManager) Import(format string, data []byte, persist bool) (*layout.Keymap, error) {
	var km *layout.Keymap
	var err error
	switch format {
	case "toml", "":
		km, err = layout.ParseTOML(data)
	case "yaml":
		km, err = layout.ParseYAML(data)
	case "json":
		km, err = layout.ParseJSON(data)
	default:
		return nil, fmt.Errorf("unknown keymap format %q", format)
	}
	if err != nil {
		return nil, err
	}

	if persist {
		if err := m.persist(format, data); err != nil {
			return nil, err
		}
	}
	return m.swap(km)
}

// persist writes the imported source to the keymap path via a temp file
// and rename, so the watcher and later reloads see either the old file or
// the whole new one. The format must match the path's extension: writing
// JSON into keymap.toml would make every later reload fail.
func (m *keymapManager) persist(format string, data []byte) error {
	ext := strings.TrimPrefix(filepath.Ext(m.path), ".")
	if ext == "yml" {
		ext = "yaml"
	}
	if format == "" {
		format = "toml"
	}
	if format != ext {
		return fmt.Errorf("cannot persist %s keymap to %s", format, filepath.Base(m.path))
	}

	tmp, err := os.CreateTemp(filepath.Dir(m.path), ".keymap-*")
	if err != nil {
		return fmt.Errorf("persist keymap: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("persist keymap: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persist keymap: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.path); err != nil {
		return fmt.Errorf("persist keymap: %w", err)
	}
	return nil
}

// swap installs a freshly compiled keymap and pushes it into the engine.
func (m *keymapManager) swap(km *layout.Keymap) (*layout.Keymap, error) {
	m.install(km)

	m.mu.Lock()
	live := m.live
	eng := m.eng
	m.mu.Unlock()

	if eng != nil {
		if err := eng.SwapKeymap(live.Clone()); err != nil {
			return nil, err
		}
	}
	return live, nil
}
