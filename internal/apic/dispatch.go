package apic

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyrange/ioapic/internal/interrupts"
)

// vectorState is the per-vector runtime state consulted by the dispatch
// path. The flags are mutated either from the dispatch path for that same
// vector, or from a configuration call holding the per-vector lock; there
// is no cross-vector ordering.
type vectorState struct {
	mu sync.Mutex

	active       bool
	disabledSoft bool
	disabledHard bool
	registered   bool

	nub     interrupts.Nub
	source  int
	target  any
	refCon  any
	handler interrupts.Handler
}

// systemToPin maps a raw system vector onto a table index.
func (c *Controller) systemToPin(system int) int {
	return system - int(c.baseVector)
}

// specifierFor fetches and decodes the interrupt source specifier the
// platform attached to nub's source index.
func (c *Controller) specifierFor(nub interrupts.Nub, source int) (interrupts.Specifier, error) {
	if nub == nil {
		return interrupts.Specifier{}, fmt.Errorf("ioapic %q: nil nub: %w",
			c.name, interrupts.ErrBadArgument)
	}
	data, ok := nub.InterruptSpecifier(source)
	if !ok {
		return interrupts.Specifier{}, fmt.Errorf("ioapic %q: %s has no specifier for source %d: %w",
			c.name, nub.Name(), source, interrupts.ErrNotFound)
	}
	return interrupts.DecodeSpecifier(data)
}

// GetInterruptType reports whether nub's interrupt source is edge or
// level triggered, derived from the platform-assigned specifier flags.
func (c *Controller) GetInterruptType(nub interrupts.Nub, source int) (interrupts.TriggerMode, error) {
	spec, err := c.specifierFor(nub, source)
	if err != nil {
		return 0, err
	}

	slog.Debug("ioapic: interrupt type",
		"name", c.name, "nub", nub.Name(), "source", source,
		"type", spec.TriggerMode().String(), "vector", spec.Vector)
	return spec.TriggerMode(), nil
}

// RegisterInterrupt attaches a handler to the vector encoded in nub's
// specifier. The vector offset must be within this controller's range.
func (c *Controller) RegisterInterrupt(nub interrupts.Nub, source int, target any, handler interrupts.Handler, refCon any) error {
	spec, err := c.specifierFor(nub, source)
	if err != nil {
		return err
	}
	if spec.Vector >= uint32(c.vectorCount) {
		return fmt.Errorf("ioapic %q: vector %d out of range for %s: %w",
			c.name, spec.Vector, nub.Name(), interrupts.ErrBadArgument)
	}
	if handler == nil {
		return fmt.Errorf("ioapic %q: nil handler for %s: %w",
			c.name, nub.Name(), interrupts.ErrBadArgument)
	}

	v := &c.vectors[spec.Vector]
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.registered {
		return fmt.Errorf("ioapic %q: vector %d already registered: %w",
			c.name, spec.Vector, interrupts.ErrBadArgument)
	}

	v.nub = nub
	v.source = source
	v.target = target
	v.refCon = refCon
	v.handler = handler

	// The entry is still masked from reset; record that so the first
	// EnableInterrupt unmasks it.
	v.disabledSoft = true
	v.disabledHard = true
	v.registered = true

	c.InitVector(int(spec.Vector))
	return nil
}

// InitVector programs vector n's trigger mode and polarity from the
// registered nub's specifier, before the vector is first unmasked. A
// missing or malformed specifier is logged and leaves the entry masked
// with its default fields; it must never produce a live entry with
// undefined trigger or polarity.
func (c *Controller) InitVector(n int) {
	if n < 0 || n >= c.vectorCount {
		return
	}
	v := &c.vectors[n]
	spec, err := c.specifierFor(v.nub, v.source)
	if err != nil {
		slog.Warn("ioapic: init vector without usable specifier",
			"name", c.name, "vector", n, "error", err)
		return
	}

	// The vector is still disabled here, so the table mutation needs no
	// locking beyond the write-through itself.
	if err := c.SetTriggerAndPolarity(n, spec.TriggerMode(), spec.Polarity()); err != nil {
		slog.Warn("ioapic: init vector write", "name", c.name, "vector", n, "error", err)
	}
}

// EnableVector unmasks vector n at the hardware level.
func (c *Controller) EnableVector(n int) {
	if n < 0 || n >= c.vectorCount {
		return
	}
	if err := c.EnableVectorEntry(n); err != nil {
		slog.Warn("ioapic: enable vector", "name", c.name, "vector", n, "error", err)
	}
}

// DisableVectorHard masks vector n at the hardware level, independent of
// any software disable state.
func (c *Controller) DisableVectorHard(n int) {
	if n < 0 || n >= c.vectorCount {
		return
	}
	if err := c.DisableVectorEntry(n); err != nil {
		slog.Warn("ioapic: disable vector", "name", c.name, "vector", n, "error", err)
	}
}

// VectorCanBeShared reports whether multiple devices may attach to a
// vector. The platform driver manages interrupt allocations and never
// co-assigns an unshareable line, so this controller performs no
// independent veto.
func (c *Controller) VectorCanBeShared(n int) bool {
	return true
}

// EnableInterrupt clears vector n's soft-disable state and, if the vector
// was hard-masked as a consequence, unmasks it.
func (c *Controller) EnableInterrupt(n int) error {
	if n < 0 || n >= c.vectorCount {
		return fmt.Errorf("ioapic %q: vector %d out of range: %w",
			c.name, n, interrupts.ErrBadArgument)
	}
	v := &c.vectors[n]
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.disabledSoft {
		return nil
	}
	v.disabledSoft = false
	if v.disabledHard {
		v.disabledHard = false
		return c.EnableVectorEntry(n)
	}
	return nil
}

// DisableInterrupt soft-disables vector n. If the vector is not currently
// executing its handler it is hard-masked immediately; otherwise the
// dispatch path masks it when the handler returns.
func (c *Controller) DisableInterrupt(n int) error {
	if n < 0 || n >= c.vectorCount {
		return fmt.Errorf("ioapic %q: vector %d out of range: %w",
			c.name, n, interrupts.ErrBadArgument)
	}
	v := &c.vectors[n]
	v.mu.Lock()
	defer v.mu.Unlock()

	v.disabledSoft = true
	if !v.active {
		v.disabledHard = true
		return c.DisableVectorEntry(n)
	}
	return nil
}

// HandleInterrupt is the interrupt-time entry point. source is the raw
// system vector; it must map into this controller's range, anything else
// is a dispatch-framework bug. The path is allocation free and issues no
// hardware access beyond the masking write.
func (c *Controller) HandleInterrupt(state any, nub interrupts.Nub, source int) error {
	_ = state

	n := c.systemToPin(source)
	if n < 0 || n >= c.vectorCount {
		panic(fmt.Sprintf("ioapic %q: system vector %d outside range %d:%d",
			c.name, source, c.baseVector, c.baseVector+uint32(c.vectorCount)-1))
	}

	v := &c.vectors[n]
	v.active = true
	c.stats.interrupts++
	c.stats.perVector[n]++

	if !v.disabledSoft && v.registered {
		v.handler(v.target, v.refCon, v.nub, v.source)

		// The handler may have requested soft-disable during its
		// invocation; mask now rather than take another interrupt.
		if v.disabledSoft {
			v.disabledHard = true
			if err := c.DisableVectorEntry(n); err != nil {
				slog.Warn("ioapic: mask after soft-disable", "name", c.name, "vector", n, "error", err)
			}
		}
	} else {
		// An unexpected delivery is a signal to suppress future ones.
		c.stats.unhandled++
		v.disabledHard = true
		if err := c.DisableVectorEntry(n); err != nil {
			slog.Warn("ioapic: mask unexpected vector", "name", c.name, "vector", n, "error", err)
		}
	}

	v.active = false
	return nil
}

var _ interrupts.Controller = (*Controller)(nil)
