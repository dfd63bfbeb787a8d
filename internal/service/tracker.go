package service

import (
	"sync"

	"github.com/john/chatfeed/internal/chat"
)

// Tracker owns an adapter's State and emits edge-triggered connection
// changes. Adapters embed one and mutate state only through it, which keeps
// the "one notification per edge" rule in a single place.
type Tracker struct {
	typ     chat.ServiceType
	changes chan<- StateChange

	mu      sync.Mutex
	enabled bool
	state   State
}

func NewTracker(typ chat.ServiceType, enabled bool, changes chan<- StateChange) *Tracker {
	return &Tracker{
		typ:     typ,
		changes: changes,
		enabled: enabled,
		state:   NewState(),
	}
}

func (t *Tracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SetEnabled flips the enabled flag. Disabling tears the session down,
// emitting the disconnect edge if the adapter was connected.
func (t *Tracker) SetEnabled(enabled bool) {
	t.mu.Lock()
	if t.enabled == enabled {
		t.mu.Unlock()
		return
	}
	t.enabled = enabled
	t.mu.Unlock()

	if !enabled {
		t.ResetSession()
	}
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) StreamID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.StreamID
}

func (t *Tracker) ConnectionState() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.ConnectionState(t.enabled)
}

// Update mutates the state under the lock. Connection edges must go through
// SetConnected instead so they are emitted exactly once.
func (t *Tracker) Update(fn func(*State)) {
	t.mu.Lock()
	fn(&t.state)
	t.mu.Unlock()
}

// SetConnected flips the connected flag. It reports whether this was an
// edge; on an edge a StateChange is emitted.
func (t *Tracker) SetConnected(connected bool) bool {
	t.mu.Lock()
	if t.state.Connected == connected {
		t.mu.Unlock()
		return false
	}
	t.state.Connected = connected
	change := StateChange{Service: t.typ, Connected: connected, StreamID: t.state.StreamID}
	t.mu.Unlock()

	if t.changes != nil {
		select {
		case t.changes <- change:
		default:
		}
	}
	return true
}

// ResetSession clears all per-session state, emitting a disconnect edge if
// the adapter was connected. The stream id survives the reset: it belongs
// to resolution, not to the session.
func (t *Tracker) ResetSession() {
	t.mu.Lock()
	wasConnected := t.state.Connected
	streamID := t.state.StreamID
	urls := t.state

	t.state = NewState()
	t.state.StreamID = streamID
	t.state.StreamURL = urls.StreamURL
	t.state.ChatURL = urls.ChatURL
	t.state.ControlPanelURL = urls.ControlPanelURL
	t.mu.Unlock()

	if wasConnected && t.changes != nil {
		select {
		case t.changes <- StateChange{Service: t.typ, Connected: false, StreamID: streamID}:
		default:
		}
	}
}

// SetResolved installs the outcome of identifier resolution, replacing all
// previous session state.
func (t *Tracker) SetResolved(streamID, streamURL, chatURL, controlPanelURL string) {
	t.mu.Lock()
	wasConnected := t.state.Connected
	t.state = NewState()
	t.state.StreamID = streamID
	t.state.StreamURL = streamURL
	t.state.ChatURL = chatURL
	t.state.ControlPanelURL = controlPanelURL
	t.mu.Unlock()

	if wasConnected && t.changes != nil {
		select {
		case t.changes <- StateChange{Service: t.typ, Connected: false, StreamID: streamID}:
		default:
		}
	}
}
