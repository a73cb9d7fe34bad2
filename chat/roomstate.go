package chat

import "sync"

// RoomState holds the three channel chat restriction modes.
type RoomState struct {
	R9K      bool `json:"r9k"`
	Slow     bool `json:"slow"`
	SubsOnly bool `json:"subs_only"`
}

// RoomTracker maintains the room modes from ROOMSTATE tags and NOTICE msg-ids.
// ROOMSTATE updates only the fields present in the tags and notifies only when
// at least one of them actually changed; a NOTICE always notifies, whether or
// not its msg-id mapped to a mode.
type RoomTracker struct {
	mu     sync.Mutex
	state  RoomState
	notify func(RoomState)
}

func NewRoomTracker(notify func(RoomState)) *RoomTracker {
	return &RoomTracker{notify: notify}
}

// ApplyRoomState applies the fields present in a ROOMSTATE tag map.
func (t *RoomTracker) ApplyRoomState(tags map[string]string) {
	t.mu.Lock()
	prev := t.state
	if v, ok := tags["r9k"]; ok {
		t.state.R9K = v == "1"
	}
	if v, ok := tags["slow"]; ok {
		// Slow mode carries its delay in seconds; any non-zero value means on.
		t.state.Slow = v != "0"
	}
	if v, ok := tags["subs-only"]; ok {
		t.state.SubsOnly = v == "1"
	}
	changed := t.state != prev
	state := t.state
	t.mu.Unlock()

	if changed && t.notify != nil {
		t.notify(state)
	}
}

// ApplyNotice applies a NOTICE msg-id and always notifies.
func (t *RoomTracker) ApplyNotice(msgID string) {
	t.mu.Lock()
	switch msgID {
	case "subs_on":
		t.state.SubsOnly = true
	case "subs_off":
		t.state.SubsOnly = false
	case "slow_on":
		t.state.Slow = true
	case "slow_off":
		t.state.Slow = false
	case "r9k_on":
		t.state.R9K = true
	case "r9k_off":
		t.state.R9K = false
	}
	state := t.state
	t.mu.Unlock()

	if t.notify != nil {
		t.notify(state)
	}
}

// State returns the current room modes.
func (t *RoomTracker) State() RoomState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
