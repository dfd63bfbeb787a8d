// Package service defines the contract every platform adapter implements:
// the connection state surface, the batch delivery channel, and the shared
// resilience helpers (bad-reply counting, edge-triggered state tracking).
package service

import (
	"context"

	"github.com/john/chatfeed/internal/chat"
)

// ConnectionState is the derived per-adapter connection state.
type ConnectionState int

const (
	NotConnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "not_connected"
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is the raw per-adapter connection state the derived
// ConnectionState is computed from.
type State struct {
	Connected bool `json:"connected"`

	// StreamID is the resolved channel/video identifier, empty while
	// unresolved.
	StreamID string `json:"streamId,omitempty"`

	StreamURL       string `json:"streamUrl,omitempty"`
	ChatURL         string `json:"chatUrl,omitempty"`
	ControlPanelURL string `json:"controlPanelUrl,omitempty"`

	// ViewersCount is -1 while unknown.
	ViewersCount int `json:"viewersCount"`
}

// NewState returns a cleared state with unknown viewer count.
func NewState() State {
	return State{ViewersCount: -1}
}

// ConnectionState derives the three-valued state: Connected wins, then
// Connecting while an enabled adapter has a resolved stream id, otherwise
// NotConnected.
func (s State) ConnectionState(enabled bool) ConnectionState {
	if s.Connected {
		return Connected
	}
	if enabled && s.StreamID != "" {
		return Connecting
	}
	return NotConnected
}

// Batch is one readyRead emission: zero or more complete message/author
// pairs produced from one inbound unit of work. Messages[i] is authored by
// Authors[i]; the Author slot is nil only for deleter messages.
type Batch struct {
	Service  chat.ServiceType
	Messages []chat.Message
	Authors  []*chat.Author
}

// StateChange is emitted on connection state edges only, once per edge.
type StateChange struct {
	Service   chat.ServiceType
	Connected bool
	StreamID  string
}

// Service is the engine-facing surface of a platform adapter. The engine
// never inspects adapter-internal protocol state: an adapter is a source of
// batches plus this surface.
type Service interface {
	Type() chat.ServiceType

	// Start runs the adapter's connection loops until ctx is cancelled.
	// Cancellation closes sockets, aborts in-flight requests and stops all
	// timers; nothing retries after cancellation.
	Start(ctx context.Context) error

	// Reconnect resets adapter-local state and re-resolves the stream
	// identifier from raw user input.
	Reconnect()

	ConnectionState() ConnectionState

	// StateDescription is a human-readable reason for the current state.
	// Never used by engine logic.
	StateDescription() string

	State() State
}
