package ipc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"keymapd/internal/engine"
	"keymapd/internal/layout"
	"keymapd/internal/store"
)

const handlerKeymapTOML = `
name = "ctl-test"

[matrix]
rows = 2
cols = 3

[[layers]]
name = "base"
keys = [
  ["A", "B", "LT(1,SPC)"],
  ["LSFT", "MO(1)", "MACRO(greet)"],
]

[[layers]]
name = "fn"
keys = [
  ["F1", "F2", "____"],
  ["____", "____", "VOLU"],
]

[[macros]]
name = "greet"
steps = ["text:hi"]
`

const importedKeymapTOML = `
name = "imported"

[matrix]
rows = 2
cols = 3

[[layers]]
name = "base"
keys = [
  ["X", "Y", "Z"],
  ["1", "2", "3"],
]
`

func parseHandlerKeymap(t *testing.T) *layout.Keymap {
	t.Helper()
	km, err := layout.ParseTOML([]byte(handlerKeymapTOML))
	if err != nil {
		t.Fatalf("compile test keymap: %v", err)
	}
	return km
}

type nullTransport struct{}

func (nullTransport) WriteKeyboard(engine.Report) error         { return nil }
func (nullTransport) WriteConsumer(engine.ConsumerReport) error { return nil }
func (nullTransport) Close() error                              { return nil }

// testSource is an in-memory KeymapSource. Rebind and Restore mutate only
// the source's own copy; the handler never touches the engine's keymap
// directly.
type testSource struct {
	mu        sync.Mutex
	live      *layout.Keymap
	pristine  *layout.Keymap
	path      string
	reloadErr error
}

func newTestSource(t *testing.T) *testSource {
	t.Helper()
	km := parseHandlerKeymap(t)
	return &testSource{
		live:     km,
		pristine: km.Clone(),
		path:     "/etc/keymapd/keymap.toml",
	}
}

func (s *testSource) Live() *layout.Keymap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *testSource) Path() string { return s.path }

func (s *testSource) Rebind(layer, row, col int, a layout.Action) (layout.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.live.ActionAt(layer, row, col)
	if err := s.live.SetAction(layer, row, col, a); err != nil {
		return layout.Action{}, err
	}
	return prev, nil
}

func (s *testSource) Restore(layer, row, col int) (layout.Action, layout.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.live.ActionAt(layer, row, col)
	restored := s.pristine.ActionAt(layer, row, col)
	if err := s.live.SetAction(layer, row, col, restored); err != nil {
		return layout.Action{}, layout.Action{}, err
	}
	return prev, restored, nil
}

func (s *testSource) Reload() (*layout.Keymap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reloadErr != nil {
		return nil, s.reloadErr
	}
	return s.live, nil
}

func (s *testSource) Import(format string, data []byte, persist bool) (*layout.Keymap, error) {
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

	s.mu.Lock()
	s.live = km
	s.pristine = km.Clone()
	s.mu.Unlock()
	return km, nil
}

func newTestHandler(t *testing.T, st *store.Store) (*DaemonHandler, *testSource) {
	t.Helper()

	src := newTestSource(t)
	core, err := engine.NewCore(src.Live().Clone(), nil, engine.Params{})
	if err != nil {
		t.Fatalf("NewCore failed: %v", err)
	}
	eng := engine.New(core, nullTransport{}, nil)
	if err := eng.Start(); err != nil {
		t.Fatalf("engine Start failed: %v", err)
	}
	t.Cleanup(func() { eng.Stop() })

	h := NewDaemonHandler(DaemonHandlerConfig{
		Version:   "test",
		Engine:    eng,
		Keymap:    src,
		Store:     st,
		Transport: "none",
		Logger:    testLogger(t),
	})
	return h, src
}

func newHandlerStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "keymapd.db"), store.DefaultBusyTimeoutMs)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func call(t *testing.T, h *DaemonHandler, msgType MessageType, payload any) *Message {
	t.Helper()
	var data []byte
	if payload != nil {
		var err error
		data, err = Encode(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}

	resp, err := h.HandleMessage(context.Background(), &Client{ID: "test-client"}, NewMessage(msgType, 7, data))
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if resp == nil {
		t.Fatal("HandleMessage returned nil response")
	}
	return resp
}

func mustDecode(t *testing.T, resp *Message, want MessageType, out any) {
	t.Helper()
	if resp.Header.Type == MsgError {
		var er ErrorResponse
		Decode(resp.Payload, &er)
		t.Fatalf("got error response: code %d: %s", er.Code, er.Message)
	}
	if resp.Header.Type != want {
		t.Fatalf("response type = 0x%04x, want 0x%04x", uint16(resp.Header.Type), uint16(want))
	}
	if err := Decode(resp.Payload, out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func mustError(t *testing.T, resp *Message, wantCode int) ErrorResponse {
	t.Helper()
	if resp.Header.Type != MsgError {
		t.Fatalf("response type = 0x%04x, want MsgError", uint16(resp.Header.Type))
	}
	var er ErrorResponse
	if err := Decode(resp.Payload, &er); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if er.Code != wantCode {
		t.Fatalf("error code = %d (%s), want %d", er.Code, er.Message, wantCode)
	}
	return er
}

func TestHandlerStatus(t *testing.T) {
	h, src := newTestHandler(t, nil)

	var resp StatusResponse
	mustDecode(t, call(t, h, MsgStatus, nil), MsgStatusResp, &resp)

	if resp.Daemon.Version != "test" {
		t.Errorf("version = %q, want %q", resp.Daemon.Version, "test")
	}
	if resp.Daemon.PID != os.Getpid() {
		t.Errorf("pid = %d, want %d", resp.Daemon.PID, os.Getpid())
	}
	if resp.Daemon.KeymapPath != src.Path() {
		t.Errorf("keymap path = %q, want %q", resp.Daemon.KeymapPath, src.Path())
	}
	if resp.Daemon.StoreEnabled {
		t.Error("store reported enabled with nil store")
	}
	if resp.Engine.Keymap != "ctl-test" {
		t.Errorf("engine keymap = %q, want %q", resp.Engine.Keymap, "ctl-test")
	}
	if resp.Engine.DefaultLayer != "base" {
		t.Errorf("default layer = %q, want %q", resp.Engine.DefaultLayer, "base")
	}
}

func TestHandlerMetrics(t *testing.T) {
	h := NewDaemonHandler(DaemonHandlerConfig{
		Version: "test",
		Metrics: func() string { return "keymapd_ticks_total 42\n" },
		Logger:  testLogger(t),
	})

	var resp MetricsResponse
	mustDecode(t, call(t, h, MsgMetrics, nil), MsgMetricsResp, &resp)
	if !strings.Contains(resp.Text, "keymapd_ticks_total 42") {
		t.Errorf("metrics text = %q", resp.Text)
	}
}

func TestHandlerMetricsDisabled(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	mustError(t, call(t, h, MsgMetrics, nil), ErrUnavailable)
}

func TestHandlerListLayers(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	var resp ListLayersResponse
	mustDecode(t, call(t, h, MsgListLayers, nil), MsgListLayersResp, &resp)

	if len(resp.Layers) != 2 {
		t.Fatalf("layer count = %d, want 2", len(resp.Layers))
	}
	base := resp.Layers[0]
	if base.Name != "base" || !base.Active || !base.Default {
		t.Errorf("base layer = %+v, want active default", base)
	}
	fn := resp.Layers[1]
	if fn.Name != "fn" || fn.Active || fn.Default {
		t.Errorf("fn layer = %+v, want inactive", fn)
	}
}

func TestHandlerLayerOps(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	var resp LayerResponse
	mustDecode(t, call(t, h, MsgActivateLayer, &LayerRequest{Layer: 1}), MsgActivateLayerResp, &resp)
	if !resp.Success {
		t.Fatalf("activate failed: %s", resp.Error)
	}
	if len(resp.ActiveLayers) != 2 || resp.ActiveLayers[1] != "fn" {
		t.Errorf("active layers = %v, want [base fn]", resp.ActiveLayers)
	}

	mustDecode(t, call(t, h, MsgDeactivateLayer, &LayerRequest{Layer: 1}), MsgDeactivateLayerResp, &resp)
	if !resp.Success {
		t.Fatalf("deactivate failed: %s", resp.Error)
	}
	if len(resp.ActiveLayers) != 1 {
		t.Errorf("active layers = %v, want [base]", resp.ActiveLayers)
	}

	mustDecode(t, call(t, h, MsgToggleLayer, &LayerRequest{Layer: 1}), MsgToggleLayerResp, &resp)
	if !resp.Success || len(resp.ActiveLayers) != 2 {
		t.Errorf("toggle on: success=%v layers=%v", resp.Success, resp.ActiveLayers)
	}

	mustDecode(t, call(t, h, MsgSetDefaultLayer, &LayerRequest{Layer: 1}), MsgSetDefaultLayerResp, &resp)
	if !resp.Success || resp.DefaultLayer != "fn" {
		t.Errorf("set default: success=%v default=%q", resp.Success, resp.DefaultLayer)
	}
}

func TestHandlerLayerOpOutOfRange(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	var resp LayerResponse
	mustDecode(t, call(t, h, MsgActivateLayer, &LayerRequest{Layer: 9}), MsgActivateLayerResp, &resp)
	if resp.Success {
		t.Fatal("activating layer 9 of 2 succeeded")
	}
	if resp.Error == "" {
		t.Error("missing error text")
	}
	if len(resp.ActiveLayers) != 1 {
		t.Errorf("active layers = %v, want unchanged [base]", resp.ActiveLayers)
	}
}

func TestHandlerGetKeymap(t *testing.T) {
	st := newHandlerStore(t)
	h, src := newTestHandler(t, st)

	var setResp SetKeyResponse
	mustDecode(t, call(t, h, MsgSetKey, &SetKeyRequest{Layer: 0, Row: 0, Col: 1, Action: "ESC"}), MsgSetKeyResp, &setResp)
	if !setResp.Success {
		t.Fatalf("set key failed: %s", setResp.Error)
	}

	var resp GetKeymapResponse
	mustDecode(t, call(t, h, MsgGetKeymap, nil), MsgGetKeymapResp, &resp)

	if resp.Name != "ctl-test" {
		t.Errorf("name = %q, want %q", resp.Name, "ctl-test")
	}
	if resp.Fingerprint != src.Live().Fingerprint() {
		t.Errorf("fingerprint = %q, want %q", resp.Fingerprint, src.Live().Fingerprint())
	}
	if resp.Rows != 2 || resp.Cols != 3 {
		t.Errorf("matrix = %dx%d, want 2x3", resp.Rows, resp.Cols)
	}
	if len(resp.Layers) != 2 || resp.Layers[0] != "base" || resp.Layers[1] != "fn" {
		t.Errorf("layers = %v, want [base fn]", resp.Layers)
	}
	if len(resp.Overrides) != 1 {
		t.Fatalf("override count = %d, want 1", len(resp.Overrides))
	}
	ov := resp.Overrides[0]
	if ov.Layer != 0 || ov.Row != 0 || ov.Col != 1 || ov.Action != "ESC" {
		t.Errorf("override = %+v", ov)
	}
}

func TestHandlerSetKeyAndClear(t *testing.T) {
	st := newHandlerStore(t)
	h, src := newTestHandler(t, st)
	fp := src.Live().Fingerprint()

	var resp SetKeyResponse
	mustDecode(t, call(t, h, MsgSetKey, &SetKeyRequest{Layer: 0, Row: 0, Col: 0, Action: "Q"}), MsgSetKeyResp, &resp)
	if !resp.Success {
		t.Fatalf("set key failed: %s", resp.Error)
	}
	if resp.Previous != "A" {
		t.Errorf("previous = %q, want %q", resp.Previous, "A")
	}
	if resp.Action != "Q" {
		t.Errorf("action = %q, want %q", resp.Action, "Q")
	}
	if got := src.Live().ActionAt(0, 0, 0).String(); got != "Q" {
		t.Errorf("live action = %q, want %q", got, "Q")
	}

	ovs, err := st.Overrides(fp)
	if err != nil {
		t.Fatalf("Overrides failed: %v", err)
	}
	if len(ovs) != 1 || ovs[0].Action != "Q" {
		t.Fatalf("stored overrides = %+v, want one with action Q", ovs)
	}

	mustDecode(t, call(t, h, MsgSetKey, &SetKeyRequest{Layer: 0, Row: 0, Col: 0, Clear: true}), MsgSetKeyResp, &resp)
	if !resp.Success {
		t.Fatalf("clear failed: %s", resp.Error)
	}
	if resp.Previous != "Q" || resp.Action != "A" {
		t.Errorf("clear previous = %q action = %q, want Q and A", resp.Previous, resp.Action)
	}
	if got := src.Live().ActionAt(0, 0, 0).String(); got != "A" {
		t.Errorf("live action after clear = %q, want %q", got, "A")
	}

	ovs, err = st.Overrides(fp)
	if err != nil {
		t.Fatalf("Overrides failed: %v", err)
	}
	if len(ovs) != 0 {
		t.Errorf("overrides after clear = %+v, want none", ovs)
	}
}

func TestHandlerSetKeyMacroByName(t *testing.T) {
	h, src := newTestHandler(t, nil)

	var resp SetKeyResponse
	mustDecode(t, call(t, h, MsgSetKey, &SetKeyRequest{Layer: 0, Row: 1, Col: 0, Action: "MACRO(greet)"}), MsgSetKeyResp, &resp)
	if !resp.Success {
		t.Fatalf("set key failed: %s", resp.Error)
	}
	if resp.Action != "MACRO(0)" {
		t.Errorf("action = %q, want %q", resp.Action, "MACRO(0)")
	}
	if got := src.Live().ActionAt(0, 1, 0).String(); got != "MACRO(0)" {
		t.Errorf("live action = %q, want %q", got, "MACRO(0)")
	}
}

func TestHandlerSetKeyBadAction(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	resp := call(t, h, MsgSetKey, &SetKeyRequest{Layer: 0, Row: 0, Col: 0, Action: "NOT_A_KEY_NAME"})
	mustError(t, resp, ErrBadAction)
}

func TestHandlerSetKeyOutOfRange(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	resp := call(t, h, MsgSetKey, &SetKeyRequest{Layer: 5, Row: 0, Col: 0, Action: "Q"})
	mustError(t, resp, ErrInvalidRequest)
}

func TestHandlerReload(t *testing.T) {
	h, src := newTestHandler(t, nil)

	var resp ReloadKeymapResponse
	mustDecode(t, call(t, h, MsgReloadKeymap, nil), MsgReloadKeymapResp, &resp)
	if !resp.Success {
		t.Fatalf("reload failed: %s", resp.Error)
	}
	if resp.Name != "ctl-test" || resp.Layers != 2 {
		t.Errorf("reload = %+v", resp)
	}

	src.mu.Lock()
	src.reloadErr = errors.New("keymap: row 1 has 2 keys, want 3")
	src.mu.Unlock()

	mustDecode(t, call(t, h, MsgReloadKeymap, nil), MsgReloadKeymapResp, &resp)
	if resp.Success {
		t.Fatal("reload of a broken keymap reported success")
	}
	if !strings.Contains(resp.Error, "row 1") {
		t.Errorf("error = %q, want the compile error", resp.Error)
	}
}

func TestHandlerImport(t *testing.T) {
	h, src := newTestHandler(t, nil)

	var resp ImportKeymapResponse
	req := &ImportKeymapRequest{Format: "toml", Data: []byte(importedKeymapTOML)}
	mustDecode(t, call(t, h, MsgImportKeymap, req), MsgImportKeymapResp, &resp)
	if !resp.Success {
		t.Fatalf("import failed: %s", resp.Error)
	}
	if resp.Name != "imported" || resp.Layers != 1 {
		t.Errorf("import = %+v", resp)
	}
	if resp.Persisted {
		t.Error("persisted without persist flag")
	}
	if src.Live().Name != "imported" {
		t.Errorf("live keymap = %q, want %q", src.Live().Name, "imported")
	}
}

func TestHandlerImportBadData(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	var resp ImportKeymapResponse
	req := &ImportKeymapRequest{Format: "toml", Data: []byte("not a keymap")}
	mustDecode(t, call(t, h, MsgImportKeymap, req), MsgImportKeymapResp, &resp)
	if resp.Success {
		t.Fatal("import of garbage succeeded")
	}
	if resp.Error == "" {
		t.Error("missing error text")
	}
}

func TestHandlerImportEmpty(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	resp := call(t, h, MsgImportKeymap, &ImportKeymapRequest{Format: "toml"})
	mustError(t, resp, ErrInvalidRequest)
}

func TestHandlerStatsDisabled(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	mustError(t, call(t, h, MsgStats, nil), ErrUnavailable)
}

func TestHandlerStats(t *testing.T) {
	st := newHandlerStore(t)
	h, src := newTestHandler(t, st)
	fp := src.Live().Fingerprint()

	sess, err := st.BeginSession("ctl-test", fp, 1000, time.Now().UnixNano())
	if err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}
	stats := []engine.KeyStat{
		{Row: 0, Col: 0, Presses: 5, Taps: 3, Holds: 1},
		{Row: 1, Col: 2, Presses: 2},
	}
	if err := st.AddKeyStats(sess.ID, stats); err != nil {
		t.Fatalf("AddKeyStats failed: %v", err)
	}

	var resp StatsResponse
	mustDecode(t, call(t, h, MsgStats, &StatsRequest{TopN: 5, Sessions: 5}), MsgStatsResp, &resp)

	if resp.Fingerprint != fp {
		t.Errorf("fingerprint = %q, want %q", resp.Fingerprint, fp)
	}
	if resp.Sessions != 1 {
		t.Errorf("sessions = %d, want 1", resp.Sessions)
	}
	if resp.Presses != 7 || resp.Taps != 3 || resp.Holds != 1 {
		t.Errorf("totals = %d/%d/%d, want 7/3/1", resp.Presses, resp.Taps, resp.Holds)
	}
	if len(resp.Top) != 2 {
		t.Fatalf("top count = %d, want 2", len(resp.Top))
	}
	if resp.Top[0].Row != 0 || resp.Top[0].Col != 0 || resp.Top[0].Presses != 5 {
		t.Errorf("top[0] = %+v", resp.Top[0])
	}
	if len(resp.Recent) != 1 {
		t.Fatalf("recent count = %d, want 1", len(resp.Recent))
	}
	recent := resp.Recent[0]
	if recent.ID != sess.ID || recent.Keymap != "ctl-test" || !recent.Active {
		t.Errorf("recent = %+v", recent)
	}
}

func TestHandlerShutdown(t *testing.T) {
	done := make(chan struct{})
	var events []*Event
	var mu sync.Mutex

	h := NewDaemonHandler(DaemonHandlerConfig{
		Version:  "test",
		Shutdown: func() { close(done) },
		Logger:   testLogger(t),
	})
	h.SetBroadcaster(func(ev *Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	var resp ShutdownResponse
	mustDecode(t, call(t, h, MsgShutdown, nil), MsgShutdownAck, &resp)
	if !resp.Success {
		t.Fatal("shutdown refused")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown callback not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].Type != EventDaemonShutdown {
		t.Errorf("broadcast events = %+v, want one shutdown event", events)
	}
}

func TestHandlerUnknownType(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	er := mustError(t, call(t, h, MessageType(0x0F00), nil), ErrInvalidRequest)
	if !strings.Contains(er.Message, "unknown message type") {
		t.Errorf("message = %q", er.Message)
	}
}
