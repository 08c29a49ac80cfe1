// Package pic8259 covers the one interaction this project has with the
// legacy dual-8259 interrupt controller: masking every line around system
// power transitions. A register model of the interrupt-mask path ships
// alongside for tests.
package pic8259

import "fmt"

// Legacy controller port assignments.
const (
	PrimaryCommandPort   uint16 = 0x20
	PrimaryDataPort      uint16 = 0x21
	SecondaryCommandPort uint16 = 0xa0
	SecondaryDataPort    uint16 = 0xa1
)

const maskAllLines byte = 0xff

// PortBus issues byte-wide accesses to legacy I/O ports.
type PortBus interface {
	ReadIOPort(port uint16, data []byte) error
	WriteIOPort(port uint16, data []byte) error
}

// Masker masks the legacy controller through a PortBus. It never
// unmasks; reprogramming the legacy controller is someone else's job.
type Masker struct {
	bus PortBus
}

// NewMasker returns a Masker driving bus.
func NewMasker(bus PortBus) *Masker {
	return &Masker{bus: bus}
}

// MaskAll writes an all-ones interrupt mask to both controllers.
func (m *Masker) MaskAll() error {
	for _, port := range []uint16{SecondaryDataPort, PrimaryDataPort} {
		if err := m.bus.WriteIOPort(port, []byte{maskAllLines}); err != nil {
			return fmt.Errorf("pic8259: mask port 0x%02x: %w", port, err)
		}
	}
	return nil
}

// DualModel is a register model of the cascaded pair, reduced to the
// interrupt-mask path: data-port writes program the IMR, data-port reads
// return it, and request lines are visible through Pending.
type DualModel struct {
	pics [2]picModel
}

type picModel struct {
	imr   byte
	lines byte
}

// NewDualModel returns a model with all lines deasserted and unmasked.
func NewDualModel() *DualModel {
	return &DualModel{}
}

func (d *DualModel) picFor(port uint16) (*picModel, bool) {
	switch port {
	case PrimaryCommandPort, PrimaryDataPort:
		return &d.pics[0], port == PrimaryDataPort
	case SecondaryCommandPort, SecondaryDataPort:
		return &d.pics[1], port == SecondaryDataPort
	default:
		return nil, false
	}
}

// ReadIOPort implements PortBus.
func (d *DualModel) ReadIOPort(port uint16, data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("pic8259: invalid read size %d", len(data))
	}
	p, isData := d.picFor(port)
	if p == nil {
		return fmt.Errorf("pic8259: invalid read port 0x%04x", port)
	}
	if isData {
		data[0] = p.imr
	} else {
		data[0] = p.lines
	}
	return nil
}

// WriteIOPort implements PortBus.
func (d *DualModel) WriteIOPort(port uint16, data []byte) error {
	if len(data) != 1 {
		return fmt.Errorf("pic8259: invalid write size %d", len(data))
	}
	p, isData := d.picFor(port)
	if p == nil {
		return fmt.Errorf("pic8259: invalid write port 0x%04x", port)
	}
	if isData {
		p.imr = data[0]
	}
	return nil
}

// SetIRQ drives one request line, 0-15 across the pair.
func (d *DualModel) SetIRQ(line uint8, high bool) {
	if line >= 16 {
		return
	}
	p := &d.pics[line/8]
	bit := byte(1) << (line % 8)
	if high {
		p.lines |= bit
	} else {
		p.lines &^= bit
	}
}

// Pending reports whether any unmasked line is asserted.
func (d *DualModel) Pending() bool {
	for i := range d.pics {
		if d.pics[i].lines&^d.pics[i].imr != 0 {
			return true
		}
	}
	return false
}

var _ PortBus = (*DualModel)(nil)
