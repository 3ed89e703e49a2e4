// Package ipc provides communication between the keymapd daemon and client
// applications (keymapctl, scripts, third-party tools).
//
// The protocol is designed for:
// - Request/response pattern for commands
// - Event streaming for real-time updates
// - A fixed binary header with JSON payloads
// - Protocol versioning for compatibility
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"keymapd/internal/engine"
)

// Protocol version for compatibility checking
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x4B4D5043 // "KMPC"
)

// MessageType identifies the type of IPC message
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005
	MsgShutdown     MessageType = 0x0006
	MsgShutdownAck  MessageType = 0x0007

	// Status and metrics (0x01xx)
	MsgStatus      MessageType = 0x0100
	MsgStatusResp  MessageType = 0x0101
	MsgMetrics     MessageType = 0x0102
	MsgMetricsResp MessageType = 0x0103

	// Layer operations (0x02xx)
	MsgListLayers          MessageType = 0x0200
	MsgListLayersResp      MessageType = 0x0201
	MsgActivateLayer       MessageType = 0x0202
	MsgActivateLayerResp   MessageType = 0x0203
	MsgDeactivateLayer     MessageType = 0x0204
	MsgDeactivateLayerResp MessageType = 0x0205
	MsgToggleLayer         MessageType = 0x0206
	MsgToggleLayerResp     MessageType = 0x0207
	MsgSetDefaultLayer     MessageType = 0x0208
	MsgSetDefaultLayerResp MessageType = 0x0209

	// Keymap operations (0x03xx)
	MsgGetKeymap        MessageType = 0x0300
	MsgGetKeymapResp    MessageType = 0x0301
	MsgSetKey           MessageType = 0x0302
	MsgSetKeyResp       MessageType = 0x0303
	MsgReloadKeymap     MessageType = 0x0304
	MsgReloadKeymapResp MessageType = 0x0305
	MsgImportKeymap     MessageType = 0x0306
	MsgImportKeymapResp MessageType = 0x0307

	// Statistics (0x04xx)
	MsgStats     MessageType = 0x0400
	MsgStatsResp MessageType = 0x0401

	// Event streaming (0x05xx)
	MsgSubscribe       MessageType = 0x0500
	MsgSubscribeResp   MessageType = 0x0501
	MsgUnsubscribe     MessageType = 0x0502
	MsgUnsubscribeResp MessageType = 0x0503
	MsgEvent           MessageType = 0x0504
)

// EventType identifies the type of streamed event
type EventType uint16

const (
	EventLayerChange    EventType = 0x0001
	EventKeymapSwap     EventType = 0x0002
	EventReportDrop     EventType = 0x0003
	EventDaemonShutdown EventType = 0x0004
)

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// FlagJSON marks the payload as JSON. It is the only encoding in use; the
// flag byte is carried so the wire format can grow without a version bump.
const FlagJSON uint8 = 0x04

// MaxPayloadSize bounds a single message. Keymap imports are the largest
// payloads and stay well under this.
const MaxPayloadSize = 16 * 1024 * 1024

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}

	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}

	return h, nil
}

// Write writes the message to a writer
func (m *Message) Write(w io.Writer) error {
	if err := m.Header.Write(w); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		_, err := w.Write(m.Payload)
		return err
	}
	return nil
}

// ReadMessage reads a complete message from a reader
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayloadSize {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Request/Response payloads

// HandshakeRequest is sent by the client to initiate connection
type HandshakeRequest struct {
	ClientVersion   string `json:"client_version"`
	ClientName      string `json:"client_name"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// HandshakeResponse is sent by the server to acknowledge connection
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	ClientID        string `json:"client_id"`
}

// ErrorResponse is sent when an operation fails
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error codes
const (
	ErrUnknown          = 1
	ErrInvalidRequest   = 2
	ErrNotFound         = 3
	ErrPermissionDenied = 4
	ErrInternalError    = 5
	ErrUnavailable      = 6
	ErrBadAction        = 7
)

// DaemonInfo describes the running daemon in a status response.
type DaemonInfo struct {
	Version      string        `json:"version"`
	PID          int           `json:"pid"`
	StartedAt    time.Time     `json:"started_at"`
	Uptime       time.Duration `json:"uptime"`
	KeymapPath   string        `json:"keymap_path"`
	Transport    string        `json:"transport"`
	Devices      []string      `json:"devices,omitempty"`
	StoreEnabled bool          `json:"store_enabled"`
	Clients      int           `json:"clients"`
}

// StatusResponse contains daemon and engine status
type StatusResponse struct {
	Daemon DaemonInfo    `json:"daemon"`
	Engine engine.Status `json:"engine"`
}

// MetricsResponse carries a metrics snapshot in text exposition format
type MetricsResponse struct {
	Text string `json:"text"`
}

// LayerRequest names a layer by index for activate/deactivate/toggle/default
type LayerRequest struct {
	Layer int `json:"layer"`
}

// LayerResponse reports the layer stack after a layer operation
type LayerResponse struct {
	Success      bool     `json:"success"`
	ActiveLayers []string `json:"active_layers,omitempty"`
	DefaultLayer string   `json:"default_layer,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// LayerInfo describes one layer in a list response
type LayerInfo struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	Active  bool   `json:"active"`
	Default bool   `json:"default"`
}

// ListLayersResponse contains the keymap's layers
type ListLayersResponse struct {
	Layers []LayerInfo `json:"layers"`
}

// OverrideInfo describes one live dynamic-keymap override
type OverrideInfo struct {
	Layer  int    `json:"layer"`
	Row    uint8  `json:"row"`
	Col    uint8  `json:"col"`
	Action string `json:"action"`
}

// GetKeymapResponse summarizes the running keymap
type GetKeymapResponse struct {
	Name        string         `json:"name"`
	Fingerprint string         `json:"fingerprint"`
	Path        string         `json:"path"`
	Rows        int            `json:"rows"`
	Cols        int            `json:"cols"`
	Layers      []string       `json:"layers"`
	Overrides   []OverrideInfo `json:"overrides,omitempty"`
}

// SetKeyRequest rebinds one position at runtime. Clear removes the override
// and restores the action compiled from the keymap file.
type SetKeyRequest struct {
	Layer  int    `json:"layer"`
	Row    uint8  `json:"row"`
	Col    uint8  `json:"col"`
	Action string `json:"action,omitempty"`
	Clear  bool   `json:"clear,omitempty"`
}

// SetKeyResponse acknowledges a rebinding
type SetKeyResponse struct {
	Success  bool   `json:"success"`
	Previous string `json:"previous,omitempty"`
	Action   string `json:"action,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ReloadKeymapResponse acknowledges a keymap reload
type ReloadKeymapResponse struct {
	Success     bool   `json:"success"`
	Name        string `json:"name,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Layers      int    `json:"layers,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ImportKeymapRequest uploads a keymap in one of the supported encodings.
// Persist writes the accepted keymap to the configured keymap path.
type ImportKeymapRequest struct {
	Format  string `json:"format"` // "toml", "yaml", "json"
	Data    []byte `json:"data"`
	Persist bool   `json:"persist,omitempty"`
}

// ImportKeymapResponse acknowledges a keymap import
type ImportKeymapResponse struct {
	Success     bool   `json:"success"`
	Name        string `json:"name,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Layers      int    `json:"layers,omitempty"`
	Persisted   bool   `json:"persisted,omitempty"`
	Error       string `json:"error,omitempty"`
}

// StatsRequest asks for usage statistics of the running keymap
type StatsRequest struct {
	TopN     int `json:"top_n,omitempty"`
	Sessions int `json:"sessions,omitempty"`
}

// KeyUsage is the accumulated activity of one matrix position
type KeyUsage struct {
	Row     uint8  `json:"row"`
	Col     uint8  `json:"col"`
	Presses uint64 `json:"presses"`
	Taps    uint64 `json:"taps"`
	Holds   uint64 `json:"holds"`
}

// SessionInfo summarizes one recorded session
type SessionInfo struct {
	ID        string    `json:"id"`
	Keymap    string    `json:"keymap"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Active    bool      `json:"active"`
}

// StatsResponse contains usage statistics for the running keymap
type StatsResponse struct {
	Fingerprint string        `json:"fingerprint"`
	Sessions    int           `json:"sessions"`
	Presses     uint64        `json:"presses"`
	Taps        uint64        `json:"taps"`
	Holds       uint64        `json:"holds"`
	Top         []KeyUsage    `json:"top,omitempty"`
	Recent      []SessionInfo `json:"recent,omitempty"`
}

// SubscribeRequest requests event subscription
type SubscribeRequest struct {
	Events []EventType `json:"events"` // Empty means all events
}

// SubscribeResponse acknowledges subscription
type SubscribeResponse struct {
	Success        bool   `json:"success"`
	SubscriptionID string `json:"subscription_id"`
}

// UnsubscribeRequest requests event unsubscription
type UnsubscribeRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

// Event is a streamed event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// LayerChangeEvent reports a layer joining or leaving the stack
type LayerChangeEvent struct {
	Layer        uint8    `json:"layer"`
	Name         string   `json:"name"`
	Active       bool     `json:"active"`
	ActiveLayers []string `json:"active_layers"`
	Tick         uint64   `json:"tick"`
}

// KeymapSwapEvent reports a hot reload or import taking effect
type KeymapSwapEvent struct {
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
	Tick        uint64 `json:"tick"`
}

// ReportDropEvent reports HID reports lost to a full queue
type ReportDropEvent struct {
	Dropped uint64 `json:"dropped"`
	Tick    uint64 `json:"tick"`
}

// ShutdownResponse acknowledges a shutdown request
type ShutdownResponse struct {
	Success bool `json:"success"`
}

// Encode encodes a payload to JSON bytes
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
