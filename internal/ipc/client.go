package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Common errors
var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")
)

// IPCClient is the client for communicating with the keymapd daemon
type IPCClient struct {
	mu         sync.RWMutex
	conn       net.Conn
	socketPath string
	clientID   string
	version    string

	// Connection state
	connected    atomic.Bool
	reconnecting atomic.Bool

	// Request handling
	pending   map[uint32]chan *Message
	pendingMu sync.Mutex
	nextReqID atomic.Uint32

	// Event handling
	eventChan    chan *Event
	eventHandler EventHandler
	eventMu      sync.RWMutex

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Configuration
	config ClientConfig
}

// ClientConfig configures the IPC client
type ClientConfig struct {
	SocketPath     string
	ClientName     string
	ClientVersion  string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	AutoReconnect  bool
	ReconnectWait  time.Duration
	MaxReconnect   int
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig(socketPath string) ClientConfig {
	return ClientConfig{
		SocketPath:     socketPath,
		ClientName:     "keymapctl",
		ClientVersion:  "dev",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 30 * time.Second,
		AutoReconnect:  false,
		ReconnectWait:  time.Second,
		MaxReconnect:   3,
	}
}

// EventHandler is called when events are received
type EventHandler func(event *Event)

// NewClient creates a new IPC client
func NewClient(cfg ClientConfig) *IPCClient {
	ctx, cancel := context.WithCancel(context.Background())

	return &IPCClient{
		socketPath: cfg.SocketPath,
		pending:    make(map[uint32]chan *Message),
		eventChan:  make(chan *Event, 100),
		ctx:        ctx,
		cancel:     cancel,
		config:     cfg,
	}
}

// Connect establishes a connection to the daemon
func (c *IPCClient) Connect() error {
	c.mu.Lock()

	if c.connected.Load() {
		c.mu.Unlock()
		return nil
	}

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.Dial("unix", c.socketPath)
	if err != nil {
		c.mu.Unlock()
		if _, statErr := os.Stat(c.socketPath); os.IsNotExist(statErr) {
			return ErrDaemonNotRunning
		}
		return fmt.Errorf("connect: %w", err)
	}

	c.conn = conn
	c.connected.Store(true)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.readLoop()

	// The handshake round-trips through the read loop, so the lock must be
	// released before it runs.
	if err := c.handshake(); err != nil {
		c.close()
		return fmt.Errorf("handshake: %w", err)
	}

	return nil
}

// Close closes the connection to the daemon
func (c *IPCClient) Close() error {
	c.cancel()
	c.close()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}

	close(c.eventChan)
	return nil
}

// close closes the connection without signaling shutdown
func (c *IPCClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)

	// Cancel all pending requests
	c.pendingMu.Lock()
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = make(map[uint32]chan *Message)
	c.pendingMu.Unlock()
}

// IsConnected returns whether the client is connected
func (c *IPCClient) IsConnected() bool {
	return c.connected.Load()
}

// ClientID returns the ID assigned by the server during handshake
func (c *IPCClient) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

// ServerVersion returns the daemon version reported during handshake
func (c *IPCClient) ServerVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// SetEventHandler sets the handler for streamed events
func (c *IPCClient) SetEventHandler(handler EventHandler) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	c.eventHandler = handler
}

// Events returns the event channel for streaming events
func (c *IPCClient) Events() <-chan *Event {
	return c.eventChan
}

// handshake performs the initial handshake with the server
func (c *IPCClient) handshake() error {
	req := &HandshakeRequest{
		ClientVersion:   c.config.ClientVersion,
		ClientName:      c.config.ClientName,
		ProtocolVersion: ProtocolVersion,
	}

	resp, err := c.request(MsgHandshake, req)
	if err != nil {
		return err
	}

	if resp.Header.Type != MsgHandshakeAck {
		return fmt.Errorf("unexpected response type: %d", resp.Header.Type)
	}

	var ack HandshakeResponse
	if err := Decode(resp.Payload, &ack); err != nil {
		return err
	}

	c.mu.Lock()
	c.clientID = ack.ClientID
	c.version = ack.ServerVersion
	c.mu.Unlock()

	return nil
}

// request sends a request and waits for a response
func (c *IPCClient) request(msgType MessageType, payload any) (*Message, error) {
	return c.requestWithTimeout(msgType, payload, c.config.RequestTimeout)
}

// requestWithTimeout sends a request with a custom timeout
func (c *IPCClient) requestWithTimeout(msgType MessageType, payload any, timeout time.Duration) (*Message, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}

	var data []byte
	var err error
	if payload != nil {
		data, err = Encode(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	reqID := c.nextReqID.Add(1)
	msg := NewMessage(msgType, reqID, data)

	respChan := make(chan *Message, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return nil, ErrNotConnected
	}

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := msg.Write(conn); err != nil {
		c.close()
		return nil, fmt.Errorf("write message: %w", err)
	}

	select {
	case resp, ok := <-respChan:
		if !ok {
			return nil, ErrConnectionLost
		}
		return resp, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

// readLoop reads messages from the connection
func (c *IPCClient) readLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		if conn == nil {
			// A successful reconnect starts a fresh read loop, so this
			// one exits either way.
			if c.config.AutoReconnect {
				c.tryReconnect()
			}
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		msg, err := ReadMessage(conn)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.sendPing()
				continue
			}

			c.close()
			if c.config.AutoReconnect {
				c.tryReconnect()
			}
			return
		}

		c.handleMessage(msg)
	}
}

// handleMessage processes an incoming message
func (c *IPCClient) handleMessage(msg *Message) {
	switch msg.Header.Type {
	case MsgPong:
		// Ping response, ignore

	case MsgPing:
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn != nil {
			pong := NewMessage(MsgPong, msg.Header.RequestID, nil)
			pong.Write(conn)
		}

	case MsgEvent:
		var event Event
		if err := Decode(msg.Payload, &event); err == nil {
			select {
			case c.eventChan <- &event:
			default:
				// Channel full, drop event
			}

			c.eventMu.RLock()
			handler := c.eventHandler
			c.eventMu.RUnlock()
			if handler != nil {
				go handler(&event)
			}
		}

	default:
		// Response to a request
		c.pendingMu.Lock()
		if ch, ok := c.pending[msg.Header.RequestID]; ok {
			select {
			case ch <- msg:
			default:
			}
		}
		c.pendingMu.Unlock()
	}
}

// sendPing sends a ping to keep connection alive
func (c *IPCClient) sendPing() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn != nil {
		msg := NewMessage(MsgPing, c.nextReqID.Add(1), nil)
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		msg.Write(conn)
	}
}

// tryReconnect attempts to reconnect to the daemon
func (c *IPCClient) tryReconnect() {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return // Already reconnecting
	}
	defer c.reconnecting.Store(false)

	for i := 0; i < c.config.MaxReconnect; i++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.config.ReconnectWait):
		}

		if err := c.Connect(); err == nil {
			return
		}
	}
}

// decodeResponse unwraps an error response or decodes the payload into out.
func decodeResponse(resp *Message, out any) error {
	if resp.Header.Type == MsgError {
		var errResp ErrorResponse
		if err := Decode(resp.Payload, &errResp); err != nil {
			return fmt.Errorf("daemon error (code unknown)")
		}
		return fmt.Errorf("%s", errResp.Message)
	}
	if out == nil {
		return nil
	}
	return Decode(resp.Payload, out)
}

// High-level API methods

// Status requests daemon and engine status
func (c *IPCClient) Status() (*StatusResponse, error) {
	resp, err := c.request(MsgStatus, nil)
	if err != nil {
		return nil, err
	}

	var status StatusResponse
	if err := decodeResponse(resp, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Metrics requests a metrics snapshot in text exposition format
func (c *IPCClient) Metrics() (string, error) {
	resp, err := c.request(MsgMetrics, nil)
	if err != nil {
		return "", err
	}

	var metrics MetricsResponse
	if err := decodeResponse(resp, &metrics); err != nil {
		return "", err
	}
	return metrics.Text, nil
}

// Layers lists the keymap's layers
func (c *IPCClient) Layers() (*ListLayersResponse, error) {
	resp, err := c.request(MsgListLayers, nil)
	if err != nil {
		return nil, err
	}

	var layers ListLayersResponse
	if err := decodeResponse(resp, &layers); err != nil {
		return nil, err
	}
	return &layers, nil
}

// layerOp issues one of the layer mutation requests
func (c *IPCClient) layerOp(msgType MessageType, layer int) (*LayerResponse, error) {
	resp, err := c.request(msgType, &LayerRequest{Layer: layer})
	if err != nil {
		return nil, err
	}

	var lr LayerResponse
	if err := decodeResponse(resp, &lr); err != nil {
		return nil, err
	}
	if !lr.Success {
		return &lr, fmt.Errorf("%s", lr.Error)
	}
	return &lr, nil
}

// ActivateLayer pushes a layer onto the active stack
func (c *IPCClient) ActivateLayer(layer int) (*LayerResponse, error) {
	return c.layerOp(MsgActivateLayer, layer)
}

// DeactivateLayer removes a layer from the active stack
func (c *IPCClient) DeactivateLayer(layer int) (*LayerResponse, error) {
	return c.layerOp(MsgDeactivateLayer, layer)
}

// ToggleLayer flips a layer's membership in the active stack
func (c *IPCClient) ToggleLayer(layer int) (*LayerResponse, error) {
	return c.layerOp(MsgToggleLayer, layer)
}

// SetDefaultLayer replaces the base layer
func (c *IPCClient) SetDefaultLayer(layer int) (*LayerResponse, error) {
	return c.layerOp(MsgSetDefaultLayer, layer)
}

// GetKeymap requests a summary of the running keymap
func (c *IPCClient) GetKeymap() (*GetKeymapResponse, error) {
	resp, err := c.request(MsgGetKeymap, nil)
	if err != nil {
		return nil, err
	}

	var km GetKeymapResponse
	if err := decodeResponse(resp, &km); err != nil {
		return nil, err
	}
	return &km, nil
}

// SetKey rebinds one position at runtime
func (c *IPCClient) SetKey(layer int, row, col uint8, action string) (*SetKeyResponse, error) {
	return c.setKey(&SetKeyRequest{Layer: layer, Row: row, Col: col, Action: action})
}

// ClearKey removes a runtime override, restoring the compiled action
func (c *IPCClient) ClearKey(layer int, row, col uint8) (*SetKeyResponse, error) {
	return c.setKey(&SetKeyRequest{Layer: layer, Row: row, Col: col, Clear: true})
}

func (c *IPCClient) setKey(req *SetKeyRequest) (*SetKeyResponse, error) {
	resp, err := c.request(MsgSetKey, req)
	if err != nil {
		return nil, err
	}

	var sk SetKeyResponse
	if err := decodeResponse(resp, &sk); err != nil {
		return nil, err
	}
	if !sk.Success {
		return &sk, fmt.Errorf("%s", sk.Error)
	}
	return &sk, nil
}

// ReloadKeymap recompiles the keymap file and swaps it in
func (c *IPCClient) ReloadKeymap() (*ReloadKeymapResponse, error) {
	resp, err := c.request(MsgReloadKeymap, nil)
	if err != nil {
		return nil, err
	}

	var rl ReloadKeymapResponse
	if err := decodeResponse(resp, &rl); err != nil {
		return nil, err
	}
	if !rl.Success {
		return &rl, fmt.Errorf("%s", rl.Error)
	}
	return &rl, nil
}

// ImportKeymap uploads a keymap for validation and hot swap
func (c *IPCClient) ImportKeymap(format string, data []byte, persist bool) (*ImportKeymapResponse, error) {
	req := &ImportKeymapRequest{Format: format, Data: data, Persist: persist}
	resp, err := c.request(MsgImportKeymap, req)
	if err != nil {
		return nil, err
	}

	var im ImportKeymapResponse
	if err := decodeResponse(resp, &im); err != nil {
		return nil, err
	}
	if !im.Success {
		return &im, fmt.Errorf("%s", im.Error)
	}
	return &im, nil
}

// Stats requests usage statistics for the running keymap
func (c *IPCClient) Stats(topN, sessions int) (*StatsResponse, error) {
	req := &StatsRequest{TopN: topN, Sessions: sessions}
	resp, err := c.request(MsgStats, req)
	if err != nil {
		return nil, err
	}

	var stats StatsResponse
	if err := decodeResponse(resp, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Subscribe requests event streaming. Events arrive on Events().
func (c *IPCClient) Subscribe(events ...EventType) (*SubscribeResponse, error) {
	req := &SubscribeRequest{Events: events}
	resp, err := c.request(MsgSubscribe, req)
	if err != nil {
		return nil, err
	}

	var sub SubscribeResponse
	if err := decodeResponse(resp, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// Unsubscribe stops event streaming
func (c *IPCClient) Unsubscribe() error {
	c.mu.RLock()
	id := c.clientID
	c.mu.RUnlock()

	resp, err := c.request(MsgUnsubscribe, &UnsubscribeRequest{SubscriptionID: id})
	if err != nil {
		return err
	}
	return decodeResponse(resp, nil)
}

// Shutdown asks the daemon to stop
func (c *IPCClient) Shutdown() error {
	resp, err := c.request(MsgShutdown, nil)
	if err != nil {
		return err
	}

	var ack ShutdownResponse
	if err := decodeResponse(resp, &ack); err != nil {
		return err
	}
	if !ack.Success {
		return errors.New("daemon refused shutdown")
	}
	return nil
}
