package ioapicdev

import "fmt"

// PinState is the saved state of one input pin.
type PinState struct {
	Entry uint64
	Level bool
}

// Snapshot is the full saved device state.
type Snapshot struct {
	Index uint8
	ID    uint8
	Pins  []PinState
}

// CaptureSnapshot returns a copy of the device state.
func (m *Model) CaptureSnapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Index: m.index,
		ID:    m.id,
		Pins:  make([]PinState, len(m.pins)),
	}
	for i, p := range m.pins {
		snap.Pins[i] = PinState{Entry: p.entry, Level: p.level}
	}
	return snap
}

// RestoreSnapshot replaces the device state with a previously captured
// snapshot.
func (m *Model) RestoreSnapshot(snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(snap.Pins) != len(m.pins) {
		return fmt.Errorf("ioapicdev: snapshot pin count mismatch: got %d, want %d",
			len(snap.Pins), len(m.pins))
	}

	m.index = snap.Index
	m.id = snap.ID
	for i, p := range snap.Pins {
		m.pins[i].entry = p.Entry
		m.pins[i].level = p.Level
	}
	return nil
}
