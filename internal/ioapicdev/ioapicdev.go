// Package ioapicdev models the register interface of an I/O APIC-class
// redirection controller: the select/data indirect register pair, the
// identification and version registers, and the redirection table with
// edge/level line semantics. It backs the driver tests and the
// file-backed inspection mode of cmd/apicdump, where it stands in for
// the physical device.
package ioapicdev

import (
	"fmt"
	"sync"

	"github.com/tinyrange/ioapic/internal/mmio"
)

const (
	// WindowSize covers the select and data registers.
	WindowSize uint64 = 0x20

	selectOffset uint64 = 0x00
	dataOffset   uint64 = 0x10

	idRegister          uint8 = 0x00
	versionRegister     uint8 = 0x01
	arbitrationRegister uint8 = 0x02
	tableBase           uint8 = 0x10

	deviceVersion = 0x11

	deliveryModeFixed          = 0x0
	deliveryModeLowestPriority = 0x1
)

// Entry bits the bus master is permitted to write. Read-only status bits
// such as delivery status and remote IRR are excluded.
const writableMask uint64 = 0xff000000000000ff |
	(0x7 << 8) | // delivery mode
	(1 << 11) | // destination mode
	(1 << 13) | // polarity
	(1 << 15) | // trigger mode
	(1 << 16) // mask

const (
	entryMaskBit      uint64 = 1 << 16
	entryTriggerBit   uint64 = 1 << 15
	entryRemoteIRRBit uint64 = 1 << 14
)

// Sink receives interrupt messages the device decides to deliver.
type Sink interface {
	// Deliver carries one interrupt message: the programmed vector, the
	// destination field, whether the destination is a logical group, the
	// delivery mode, and whether the entry is level triggered.
	Deliver(vector uint8, dest uint8, logical bool, deliveryMode uint8, level bool)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(vector uint8, dest uint8, logical bool, deliveryMode uint8, level bool)

func (f SinkFunc) Deliver(vector uint8, dest uint8, logical bool, deliveryMode uint8, level bool) {
	if f != nil {
		f(vector, dest, logical, deliveryMode, level)
	}
}

type noopSink struct{}

func (noopSink) Deliver(uint8, uint8, bool, uint8, bool) {}

type pin struct {
	entry uint64
	level bool
}

// Model is one emulated controller.
type Model struct {
	mu sync.Mutex

	index uint8
	id    uint8
	pins  []pin
	sink  Sink
}

// NewModel builds a controller exposing numEntries redirection slots, all
// masked, as after power-on.
func NewModel(numEntries int) *Model {
	if numEntries <= 0 {
		numEntries = 24
	}
	pins := make([]pin, numEntries)
	for i := range pins {
		pins[i].entry = entryMaskBit
	}
	return &Model{
		pins: pins,
		sink: noopSink{},
	}
}

// SetSink overrides where delivered interrupts go.
func (m *Model) SetSink(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == nil {
		m.sink = noopSink{}
	} else {
		m.sink = s
	}
}

// Read32 implements mmio.Window.
func (m *Model) Read32(offset uint64) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch offset {
	case selectOffset:
		return uint32(m.index), nil
	case dataOffset:
		return m.readRegister(m.index), nil
	default:
		return 0, fmt.Errorf("ioapicdev: invalid read offset 0x%x", offset)
	}
}

// Write32 implements mmio.Window.
func (m *Model) Write32(offset uint64, value uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch offset {
	case selectOffset:
		m.index = uint8(value)
		return nil
	case dataOffset:
		m.writeRegister(m.index, value)
		return nil
	default:
		return fmt.Errorf("ioapicdev: invalid write offset 0x%x", offset)
	}
}

func (m *Model) readRegister(index uint8) uint32 {
	switch {
	case index == idRegister:
		return uint32(m.id&0x0f) << 24
	case index == versionRegister:
		return uint32(deviceVersion) | uint32(len(m.pins)-1)<<16
	case index == arbitrationRegister:
		return 0
	case index >= tableBase:
		return m.readRedirection(index - tableBase)
	default:
		return 0
	}
}

func (m *Model) writeRegister(index uint8, value uint32) {
	switch {
	case index == idRegister:
		m.id = uint8((value >> 24) & 0x0f)
	case index == versionRegister, index == arbitrationRegister:
		// Read-only in hardware.
	case index >= tableBase:
		m.writeRedirection(index-tableBase, value)
	}
}

func (m *Model) readRedirection(index uint8) uint32 {
	p := m.pinForIndex(index)
	if p == nil {
		return 0
	}
	if index&1 == 1 {
		return uint32(p.entry >> 32)
	}
	return uint32(p.entry)
}

func (m *Model) writeRedirection(index uint8, value uint32) {
	p := m.pinForIndex(index)
	if p == nil {
		return
	}

	raw := p.entry
	val := uint64(value)
	lowMask := writableMask & 0xffffffff
	highMask := writableMask &^ 0xffffffff

	wasMasked := raw&entryMaskBit != 0

	if index&1 == 1 {
		raw &= ^highMask
		raw |= (val << 32) & highMask
	} else {
		raw &= ^lowMask
		raw |= val & lowMask
	}
	p.entry = raw

	// Unmasking while the line sits high counts as a rising edge for
	// edge-triggered entries; without this a device waiting for its
	// first interrupt after configuration hangs forever.
	isMasked := raw&entryMaskBit != 0
	forceEdge := wasMasked && !isMasked && p.level

	m.evaluate(p, forceEdge)
}

func (m *Model) pinForIndex(index uint8) *pin {
	n := int(index / 2)
	if n >= len(m.pins) {
		return nil
	}
	return &m.pins[n]
}

// SetIRQ drives the level of one input pin.
func (m *Model) SetIRQ(line int, high bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if line < 0 || line >= len(m.pins) {
		return
	}
	p := &m.pins[line]
	if high {
		edge := !p.level
		p.level = true
		m.evaluate(p, edge)
	} else {
		// Remote IRR survives deassertion; only an EOI clears it.
		p.level = false
	}
}

// HandleEOI clears remote IRR on every pin targeting vector and
// re-evaluates pending level-triggered interrupts.
func (m *Model) HandleEOI(vector uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.pins {
		p := &m.pins[i]
		if uint8(p.entry&0xff) == vector {
			p.entry &^= entryRemoteIRRBit
			m.evaluate(p, false)
		}
	}
}

func (m *Model) evaluate(p *pin, edge bool) {
	if p.entry&entryMaskBit != 0 {
		return
	}
	deliveryMode := uint8((p.entry >> 8) & 0x7)
	isLevel := p.entry&entryTriggerBit != 0 &&
		(deliveryMode == deliveryModeFixed || deliveryMode == deliveryModeLowestPriority)
	switch {
	case isLevel && (!p.level || p.entry&entryRemoteIRRBit != 0):
		return
	case !isLevel && !edge:
		return
	}

	if isLevel {
		p.entry |= entryRemoteIRRBit
	}

	m.sink.Deliver(
		uint8(p.entry&0xff),
		uint8(p.entry>>56),
		p.entry&(1<<11) != 0,
		deliveryMode,
		isLevel,
	)
}

// Entry returns the raw redirection entry for pin n, for inspection.
func (m *Model) Entry(n int) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.pins) {
		return 0
	}
	return m.pins[n].entry
}

// ID returns the current identification register value.
func (m *Model) ID() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

var _ mmio.Window = (*Model)(nil)
