package ipc

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"keymapd/internal/engine"
	"keymapd/internal/layout"
	"keymapd/internal/logging"
	"keymapd/internal/store"
)

// KeymapSource is the daemon's keymap state as the control plane sees it.
// Implementations must be safe for concurrent use: handler methods run on
// one goroutine per connected client.
type KeymapSource interface {
	// Live returns the running keymap, including runtime overrides.
	Live() *layout.Keymap

	// Path returns the keymap file path the daemon was started with.
	Path() string

	// Rebind replaces the action at one position on the running keymap
	// and returns the action it replaced.
	Rebind(layer, row, col int, a layout.Action) (layout.Action, error)

	// Restore puts back the action compiled from the keymap file. It
	// returns the override it removed and the action now in effect.
	Restore(layer, row, col int) (prev, restored layout.Action, err error)

	// Reload recompiles the keymap file and swaps it into the engine.
	Reload() (*layout.Keymap, error)

	// Import compiles an uploaded keymap and swaps it into the engine.
	// With persist set, the source is written to the keymap path before
	// the swap; a failed write leaves the running keymap untouched.
	Import(format string, data []byte, persist bool) (*layout.Keymap, error)
}

// DaemonHandler implements the Handler interface for the keymapd daemon
type DaemonHandler struct {
	mu        sync.RWMutex
	version   string
	startedAt time.Time

	engine *engine.Engine
	keymap KeymapSource

	// Usage statistics, nil when persistence is disabled
	store *store.Store

	// Snapshot hooks wired by the daemon
	metrics  func() string
	devices  func() []string
	clients  func() int
	session  func() string
	shutdown func()

	transport string

	// Event broadcaster (for sending events to clients)
	broadcaster func(*Event)

	log *logging.Logger
}

// DaemonHandlerConfig configures the daemon handler
type DaemonHandlerConfig struct {
	Version   string
	Engine    *engine.Engine
	Keymap    KeymapSource
	Store     *store.Store    // nil disables stats and override persistence
	Metrics   func() string   // metrics snapshot in text exposition format
	Devices   func() []string // captured input device names
	Clients   func() int      // connected control clients
	Session   func() string   // current stats session ID
	Shutdown  func()          // invoked on MsgShutdown
	Transport string
	Logger    *logging.Logger
}

// NewDaemonHandler creates a new daemon handler
func NewDaemonHandler(cfg DaemonHandlerConfig) *DaemonHandler {
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}

	return &DaemonHandler{
		version:   cfg.Version,
		startedAt: time.Now(),
		engine:    cfg.Engine,
		keymap:    cfg.Keymap,
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		devices:   cfg.Devices,
		clients:   cfg.Clients,
		session:   cfg.Session,
		shutdown:  cfg.Shutdown,
		transport: cfg.Transport,
		log:       log.WithComponent("ipc"),
	}
}

// SetBroadcaster sets the function used to broadcast events
func (h *DaemonHandler) SetBroadcaster(broadcaster func(*Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcaster = broadcaster
}

// HandleMessage processes an IPC message
func (h *DaemonHandler) HandleMessage(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	switch msg.Header.Type {
	case MsgStatus:
		return h.handleStatus(ctx, client, msg)

	case MsgMetrics:
		return h.handleMetrics(ctx, client, msg)

	case MsgListLayers:
		return h.handleListLayers(ctx, client, msg)

	case MsgActivateLayer:
		return h.handleLayerOp(msg, MsgActivateLayerResp, h.engine.ActivateLayer)

	case MsgDeactivateLayer:
		return h.handleLayerOp(msg, MsgDeactivateLayerResp, h.engine.DeactivateLayer)

	case MsgToggleLayer:
		return h.handleLayerOp(msg, MsgToggleLayerResp, h.engine.ToggleLayer)

	case MsgSetDefaultLayer:
		return h.handleLayerOp(msg, MsgSetDefaultLayerResp, h.engine.SetDefaultLayer)

	case MsgGetKeymap:
		return h.handleGetKeymap(ctx, client, msg)

	case MsgSetKey:
		return h.handleSetKey(ctx, client, msg)

	case MsgReloadKeymap:
		return h.handleReloadKeymap(ctx, client, msg)

	case MsgImportKeymap:
		return h.handleImportKeymap(ctx, client, msg)

	case MsgStats:
		return h.handleStats(ctx, client, msg)

	case MsgShutdown:
		return h.handleShutdown(ctx, client, msg)

	default:
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unknown message type: %d", msg.Header.Type)), nil
	}
}

// handleStatus handles status requests
func (h *DaemonHandler) handleStatus(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	st, err := h.engine.Status()
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, err.Error()), nil
	}

	info := DaemonInfo{
		Version:      h.version,
		PID:          os.Getpid(),
		StartedAt:    h.startedAt,
		Uptime:       time.Since(h.startedAt),
		KeymapPath:   h.keymap.Path(),
		Transport:    h.transport,
		StoreEnabled: h.store != nil,
	}
	if h.devices != nil {
		info.Devices = h.devices()
	}
	if h.clients != nil {
		info.Clients = h.clients()
	}

	resp := &StatusResponse{
		Daemon: info,
		Engine: st,
	}
	return NewResponse(MsgStatusResp, msg.Header.RequestID, resp)
}

// handleMetrics handles metrics snapshot requests
func (h *DaemonHandler) handleMetrics(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	if h.metrics == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "metrics disabled"), nil
	}

	resp := &MetricsResponse{Text: h.metrics()}
	return NewResponse(MsgMetricsResp, msg.Header.RequestID, resp)
}

// handleListLayers handles layer list requests
func (h *DaemonHandler) handleListLayers(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	st, err := h.engine.Status()
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, err.Error()), nil
	}

	active := make(map[string]bool, len(st.ActiveLayers))
	for _, name := range st.ActiveLayers {
		active[name] = true
	}

	km := h.keymap.Live()
	layers := make([]LayerInfo, len(km.Layers))
	for i := range km.Layers {
		name := km.Layers[i].Name
		layers[i] = LayerInfo{
			Index:   i,
			Name:    name,
			Active:  active[name],
			Default: name == st.DefaultLayer,
		}
	}

	resp := &ListLayersResponse{Layers: layers}
	return NewResponse(MsgListLayersResp, msg.Header.RequestID, resp)
}

// handleLayerOp handles the four layer stack operations. Failures are
// reported in-band so the client still sees the current stack.
func (h *DaemonHandler) handleLayerOp(msg *Message, respType MessageType, op func(int) error) (*Message, error) {
	var req LayerRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid request"), nil
	}

	resp := &LayerResponse{}
	if err := op(req.Layer); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Success = true
	}

	if st, err := h.engine.Status(); err == nil {
		resp.ActiveLayers = st.ActiveLayers
		resp.DefaultLayer = st.DefaultLayer
	}

	return NewResponse(respType, msg.Header.RequestID, resp)
}

// handleGetKeymap handles keymap summary requests
func (h *DaemonHandler) handleGetKeymap(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	km := h.keymap.Live()

	resp := &GetKeymapResponse{
		Name:        km.Name,
		Fingerprint: km.Fingerprint(),
		Path:        h.keymap.Path(),
		Rows:        km.Rows,
		Cols:        km.Cols,
	}
	for i := range km.Layers {
		resp.Layers = append(resp.Layers, km.Layers[i].Name)
	}

	if h.store != nil {
		ovs, err := h.store.Overrides(km.Fingerprint())
		if err != nil {
			h.log.Warn("override lookup failed", "error", err)
		}
		for _, ov := range ovs {
			resp.Overrides = append(resp.Overrides, OverrideInfo{
				Layer:  ov.Layer,
				Row:    ov.Row,
				Col:    ov.Col,
				Action: ov.Action,
			})
		}
	}

	return NewResponse(MsgGetKeymapResp, msg.Header.RequestID, resp)
}

// handleSetKey handles runtime rebinding requests
func (h *DaemonHandler) handleSetKey(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req SetKeyRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid request"), nil
	}

	if req.Clear {
		return h.clearKey(&req, msg.Header.RequestID)
	}

	km := h.keymap.Live()
	action, err := layout.ParseExprWith(req.Action, km.MacroIndex)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrBadAction, err.Error()), nil
	}

	prev, err := h.keymap.Rebind(req.Layer, int(req.Row), int(req.Col), action)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, err.Error()), nil
	}

	resp := &SetKeyResponse{
		Success:  true,
		Previous: prev.String(),
		Action:   action.String(),
	}

	if h.store != nil {
		// The raw expression is stored, not the compiled action: macro
		// names resolve against the macro table frozen by the fingerprint.
		ov := &store.Override{
			Fingerprint: km.Fingerprint(),
			Layer:       req.Layer,
			Row:         req.Row,
			Col:         req.Col,
			Action:      req.Action,
			UpdatedNs:   time.Now().UnixNano(),
		}
		if err := h.store.SaveOverride(ov); err != nil {
			h.log.Warn("override not persisted", "error", err)
			resp.Error = fmt.Sprintf("applied but not persisted: %v", err)
		}
	}

	h.log.Info("key rebound",
		"layer", req.Layer,
		"row", req.Row,
		"col", req.Col,
		"action", action.String(),
		"client", client.ID)

	return NewResponse(MsgSetKeyResp, msg.Header.RequestID, resp)
}

// clearKey removes an override and restores the compiled action
func (h *DaemonHandler) clearKey(req *SetKeyRequest, requestID uint32) (*Message, error) {
	prev, restored, err := h.keymap.Restore(req.Layer, int(req.Row), int(req.Col))
	if err != nil {
		return NewErrorMessage(requestID, ErrInvalidRequest, err.Error()), nil
	}

	resp := &SetKeyResponse{
		Success:  true,
		Previous: prev.String(),
		Action:   restored.String(),
	}

	if h.store != nil {
		fp := h.keymap.Live().Fingerprint()
		if err := h.store.DeleteOverride(fp, req.Layer, req.Row, req.Col); err != nil {
			h.log.Warn("override not removed from store", "error", err)
			resp.Error = fmt.Sprintf("restored but not removed from store: %v", err)
		}
	}

	return NewResponse(MsgSetKeyResp, requestID, resp)
}

// handleReloadKeymap handles keymap reload requests. A keymap that fails to
// compile is reported in-band; the running keymap stays in effect.
func (h *DaemonHandler) handleReloadKeymap(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	km, err := h.keymap.Reload()
	if err != nil {
		resp := &ReloadKeymapResponse{Error: err.Error()}
		return NewResponse(MsgReloadKeymapResp, msg.Header.RequestID, resp)
	}

	h.log.Info("keymap reloaded",
		"keymap", km.Name,
		"fingerprint", km.Fingerprint(),
		"client", client.ID)

	resp := &ReloadKeymapResponse{
		Success:     true,
		Name:        km.Name,
		Fingerprint: km.Fingerprint(),
		Layers:      len(km.Layers),
	}
	return NewResponse(MsgReloadKeymapResp, msg.Header.RequestID, resp)
}

// handleImportKeymap handles keymap upload requests
func (h *DaemonHandler) handleImportKeymap(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req ImportKeymapRequest
	if err := Decode(msg.Payload, &req); err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid request"), nil
	}

	if len(req.Data) == 0 {
		return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "empty keymap"), nil
	}

	km, err := h.keymap.Import(req.Format, req.Data, req.Persist)
	if err != nil {
		resp := &ImportKeymapResponse{Error: err.Error()}
		return NewResponse(MsgImportKeymapResp, msg.Header.RequestID, resp)
	}

	h.log.Info("keymap imported",
		"keymap", km.Name,
		"fingerprint", km.Fingerprint(),
		"format", req.Format,
		"persisted", req.Persist,
		"client", client.ID)

	resp := &ImportKeymapResponse{
		Success:     true,
		Name:        km.Name,
		Fingerprint: km.Fingerprint(),
		Layers:      len(km.Layers),
		Persisted:   req.Persist,
	}
	return NewResponse(MsgImportKeymapResp, msg.Header.RequestID, resp)
}

// handleStats handles usage statistics requests
func (h *DaemonHandler) handleStats(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	var req StatsRequest
	if len(msg.Payload) > 0 {
		if err := Decode(msg.Payload, &req); err != nil {
			return NewErrorMessage(msg.Header.RequestID, ErrInvalidRequest, "invalid request"), nil
		}
	}

	if h.store == nil {
		return NewErrorMessage(msg.Header.RequestID, ErrUnavailable, "statistics disabled"), nil
	}

	if req.TopN <= 0 {
		req.TopN = 10
	}
	if req.Sessions <= 0 {
		req.Sessions = 5
	}

	// Drain counts accumulated since the last periodic flush so the
	// response reflects keys pressed moments ago.
	if h.session != nil {
		if id := h.session(); id != "" {
			if stats, err := h.engine.TakeKeyStats(); err == nil && len(stats) > 0 {
				if err := h.store.AddKeyStats(id, stats); err != nil {
					h.log.Warn("stats flush failed", "error", err)
				}
			}
		}
	}

	fp := h.keymap.Live().Fingerprint()

	sum, err := h.store.Summary(fp)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error()), nil
	}

	resp := &StatsResponse{
		Fingerprint: fp,
		Sessions:    sum.Sessions,
		Presses:     sum.Presses,
		Taps:        sum.Taps,
		Holds:       sum.Holds,
	}

	top, err := h.store.TopKeys(fp, req.TopN)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error()), nil
	}
	for _, k := range top {
		resp.Top = append(resp.Top, KeyUsage{
			Row:     k.Row,
			Col:     k.Col,
			Presses: k.Presses,
			Taps:    k.Taps,
			Holds:   k.Holds,
		})
	}

	recent, err := h.store.RecentSessions(req.Sessions)
	if err != nil {
		return NewErrorMessage(msg.Header.RequestID, ErrInternalError, err.Error()), nil
	}
	for _, s := range recent {
		info := SessionInfo{
			ID:        s.ID,
			Keymap:    s.KeymapName,
			StartedAt: time.Unix(0, s.StartedNs),
			Active:    s.EndedNs == nil,
		}
		if s.EndedNs != nil {
			info.EndedAt = time.Unix(0, *s.EndedNs)
		}
		resp.Recent = append(resp.Recent, info)
	}

	return NewResponse(MsgStatsResp, msg.Header.RequestID, resp)
}

// handleShutdown handles daemon shutdown requests
func (h *DaemonHandler) handleShutdown(ctx context.Context, client *Client, msg *Message) (*Message, error) {
	h.log.Info("shutdown requested over control socket", "client", client.ID)

	h.broadcast(&Event{
		Type:      EventDaemonShutdown,
		Timestamp: time.Now(),
	})

	if h.shutdown != nil {
		// The callback tears the server down. Run it off this goroutine
		// so the acknowledgement still reaches the client.
		go h.shutdown()
	}

	return NewResponse(MsgShutdownAck, msg.Header.RequestID, &ShutdownResponse{Success: true})
}

// broadcast sends an event to all subscribers
func (h *DaemonHandler) broadcast(event *Event) {
	h.mu.RLock()
	broadcaster := h.broadcaster
	h.mu.RUnlock()

	if broadcaster != nil {
		broadcaster(event)
	}
}
