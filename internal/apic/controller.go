// Package apic drives a single I/O APIC-class interrupt redirection
// controller. The controller multiplexes a block of interrupt input pins
// onto a contiguous range of system vectors and routes each vector to a
// destination processor through a 64-bit redirection table entry per pin.
//
// The in-memory vector table is the single source of truth for pending
// configuration; every mutation is written through to the hardware
// registers in the same critical section, so table and hardware never
// diverge outside one protected read-modify-write sequence.
package apic

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyrange/ioapic/internal/interrupts"
	"github.com/tinyrange/ioapic/internal/mmio"
)

// LegacyMasker masks every line of the legacy interrupt controller. It is
// invoked as a defensive side effect around system sleep and wake; stray
// legacy assertions surviving a power transition would otherwise be
// serviced before this controller is reprogrammed.
type LegacyMasker interface {
	MaskAll() error
}

// Config carries the platform-assigned identity of one controller. The
// platform enumerates these values from firmware; this package only
// consumes them.
type Config struct {
	// Name is the platform-assigned controller name, unique system-wide.
	Name string

	// BaseVector is the first system vector owned by this controller.
	// With multiple controllers present each owns a contiguous range
	// starting here; a specifier's vector offset equals its input pin.
	BaseVector uint32

	// Destination is the APIC ID of the processor that handles this
	// controller's interrupt messages, programmed in physical
	// destination mode. Must fit the 8-bit destination field.
	Destination uint32

	// Window is the mapped register window (select + data registers).
	Window mmio.Window

	// Legacy, when present, is masked around power transitions.
	Legacy LegacyMasker
}

// Controller owns one redirection-table device: its register window, the
// mirrored vector table, and the per-vector dispatch state.
type Controller struct {
	name        string
	baseVector  uint32
	vectorCount int
	destination uint8
	window      mmio.Window
	legacy      LegacyMasker

	// regMu serializes index/data register pairs. Held for every
	// read-modify-write against the indirect registers so a dispatch-path
	// mask cannot interleave with a configuration call's accesses.
	regMu sync.Mutex

	// savedID is the identification register captured at start and
	// restored on every wake.
	savedID uint32

	table   []RedirectionEntry
	vectors []vectorState

	stats dispatchStats
}

type dispatchStats struct {
	interrupts uint64
	unhandled  uint64
	perVector  []uint64
}

// New maps out the controller described by cfg: captures the ID register,
// derives the vector count from the version register, allocates the
// vector table and resets every entry to its masked default. A failure
// here leaves no controller state behind.
func New(cfg Config) (*Controller, error) {
	if cfg.Window == nil {
		return nil, fmt.Errorf("ioapic %q: nil register window: %w",
			cfg.Name, interrupts.ErrBadArgument)
	}
	if cfg.Destination > 0xff {
		return nil, fmt.Errorf("ioapic %q: destination APIC ID %d does not fit the destination field: %w",
			cfg.Name, cfg.Destination, interrupts.ErrBadArgument)
	}

	c := &Controller{
		name:        cfg.Name,
		baseVector:  cfg.BaseVector,
		destination: uint8(cfg.Destination),
		window:      cfg.Window,
		legacy:      cfg.Legacy,
	}

	// The BIOS assigned each controller a unique APIC ID; cache it for
	// restoration on wake.
	id, err := c.indexRead(regID)
	if err != nil {
		return nil, fmt.Errorf("ioapic %q: read ID register: %w", cfg.Name, err)
	}
	c.savedID = id

	version, err := c.indexRead(regVersion)
	if err != nil {
		return nil, fmt.Errorf("ioapic %q: read version register: %w", cfg.Name, err)
	}
	maxEntry := (version & versionMaxEntriesMask) >> versionMaxEntriesShift
	if maxEntry >= 0xff {
		return nil, fmt.Errorf("ioapic %q: excessive vector count %d: %w",
			cfg.Name, maxEntry, interrupts.ErrHardwareBounds)
	}
	c.vectorCount = int(maxEntry) + 1

	c.table = make([]RedirectionEntry, c.vectorCount)
	c.vectors = make([]vectorState, c.vectorCount)
	c.stats.perVector = make([]uint64, c.vectorCount)

	if err := c.ResetVectorTable(); err != nil {
		slog.Warn("ioapic: reset vector table", "name", c.name, "error", err)
	}

	slog.Info("ioapic: controller start",
		"name", c.name,
		"version", fmt.Sprintf("0x%02x", version&versionVersionMask),
		"vectors", fmt.Sprintf("%d:%d", c.baseVector, c.baseVector+uint32(c.vectorCount)-1))

	return c, nil
}

// Name returns the platform-assigned controller name.
func (c *Controller) Name() string { return c.name }

// BaseVector returns the first system vector this controller owns.
func (c *Controller) BaseVector() uint32 { return c.baseVector }

// VectorCount returns the number of redirection entries.
func (c *Controller) VectorCount() int { return c.vectorCount }

// ResetVectorTable programs every entry to its masked default: vector
// field base+index, fixed delivery, physical destination mode. Writes are
// best effort; a failed entry does not stop the remaining entries, and
// the last write error is returned.
func (c *Controller) ResetVectorTable() error {
	var lastErr error
	for n := 0; n < c.vectorCount; n++ {
		c.table[n] = NewRedirectionEntry(uint8(c.baseVector)+uint8(n), c.destination)
		if err := c.writeEntry(n); err != nil {
			slog.Warn("ioapic: reset entry", "name", c.name, "vector", n, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// writeEntry writes the stored table entry for vector n through to
// hardware. Both register halves are written under the register lock so
// no other access can interleave with the index/data sequence.
func (c *Controller) writeEntry(n int) error {
	return c.writeEntryValue(n, c.table[n])
}

// writeEntryValue writes a caller-supplied entry for vector n without
// touching the stored table. Used for transient states such as the
// force-mask issued around wake.
func (c *Controller) writeEntryValue(n int, entry RedirectionEntry) error {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	if err := c.indexWrite(regTableBase+uint32(n*2), entry.Low()); err != nil {
		return err
	}
	return c.indexWrite(regTableBase+uint32(n*2)+1, entry.High())
}

// readEntry reads vector n's entry back from hardware.
func (c *Controller) readEntry(n int) (RedirectionEntry, error) {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	low, err := c.indexRead(regTableBase + uint32(n*2))
	if err != nil {
		return RedirectionEntry{}, err
	}
	high, err := c.indexRead(regTableBase + uint32(n*2) + 1)
	if err != nil {
		return RedirectionEntry{}, err
	}
	return EntryFromWords(low, high), nil
}

// SetTriggerAndPolarity programs vector n's trigger mode and polarity and
// writes the entry through. Called once per vector, before the vector is
// first unmasked; the entry is still masked so nothing can observe the
// intermediate field states.
func (c *Controller) SetTriggerAndPolarity(n int, mode interrupts.TriggerMode, polarity interrupts.Polarity) error {
	if n < 0 || n >= c.vectorCount {
		return fmt.Errorf("ioapic %q: vector %d out of range: %w",
			c.name, n, interrupts.ErrBadArgument)
	}

	c.table[n].SetTriggerMode(mode)
	c.table[n].SetPolarity(polarity)
	err := c.writeEntry(n)

	slog.Debug("ioapic: program vector",
		"name", c.name, "vector", n,
		"trigger", mode.String(), "polarity", polarity.String(),
		"error", err)
	return err
}

// SetVectorPhysicalDestination reroutes vector n to the processor with
// the given APIC ID. The vector is hard-masked before the destination
// field changes so no interrupt can be delivered to a half-updated
// destination; it stays masked until re-enabled.
func (c *Controller) SetVectorPhysicalDestination(n int, apicID uint32) error {
	slog.Info("ioapic: set vector destination", "name", c.name, "vector", n, "apicID", apicID)

	if n < 0 || n >= c.vectorCount || apicID > 0xff {
		return fmt.Errorf("ioapic %q: vector %d apicID %d: %w",
			c.name, n, apicID, interrupts.ErrBadArgument)
	}

	if err := c.DisableVectorEntry(n); err != nil {
		return err
	}
	c.table[n].SetDestination(uint8(apicID))
	return c.writeEntry(n)
}

// EnableVectorEntry clears vector n's mask bit and writes through.
// Callers must have programmed trigger and polarity first; unmasking a
// default-initialized entry is a contract violation.
func (c *Controller) EnableVectorEntry(n int) error {
	c.table[n].SetMasked(false)
	return c.writeEntry(n)
}

// DisableVectorEntry sets vector n's mask bit and writes through.
func (c *Controller) DisableVectorEntry(n int) error {
	c.table[n].SetMasked(true)
	return c.writeEntry(n)
}

// TableSnapshot returns a copy of the stored vector table.
func (c *Controller) TableSnapshot() []RedirectionEntry {
	snap := make([]RedirectionEntry, len(c.table))
	copy(snap, c.table)
	return snap
}

// Stats reports how many interrupts the dispatch path has seen, and how
// many arrived for unregistered or soft-disabled vectors.
func (c *Controller) Stats() (delivered, unhandled uint64) {
	return c.stats.interrupts, c.stats.unhandled
}
