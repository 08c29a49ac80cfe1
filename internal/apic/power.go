package apic

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/ioapic/internal/interrupts"
)

// PlatformFunction selects a platform-level controller operation. The
// power-management collaborator invokes these through
// CallPlatformFunction rather than holding a direct reference to the
// concrete controller type.
type PlatformFunction int

const (
	// FuncHandleSleepWake drives the power transition machine. Its first
	// argument is a SleepWake sub-code; for SleepWakeDeepIdle the second
	// argument names the wake vector.
	FuncHandleSleepWake PlatformFunction = iota

	// FuncSetVectorPhysicalDestination reroutes a vector: the first
	// argument is the vector number, the second the destination APIC ID.
	FuncSetVectorPhysicalDestination
)

// Sub-codes for FuncHandleSleepWake. Anything other than sleep or deep
// idle resumes from wake.
const (
	SleepWakeResume   uint32 = 0
	SleepWakeSleep    uint32 = 1
	SleepWakeDeepIdle uint32 = 2
)

// CallPlatformFunction dispatches a platform-function invocation onto the
// named operation.
func (c *Controller) CallPlatformFunction(fn PlatformFunction, arg1, arg2 uint32) error {
	switch fn {
	case FuncHandleSleepWake:
		switch arg1 {
		case SleepWakeSleep:
			return c.PrepareForSleep()
		case SleepWakeDeepIdle:
			return c.PrepareForDeepIdle(int(arg2))
		default:
			return c.ResumeFromWake()
		}
	case FuncSetVectorPhysicalDestination:
		return c.SetVectorPhysicalDestination(int(arg1), arg2)
	default:
		return fmt.Errorf("ioapic %q: unknown platform function %d: %w",
			c.name, fn, interrupts.ErrBadArgument)
	}
}

// PrepareForSleep masks every vector before platform sleep. The stored
// trigger, polarity and destination fields are untouched; each entry is
// written through with only the mask bit forced so wake can restore the
// exact pre-sleep configuration. The legacy controller is masked too as a
// defense against stray assertions surviving into the sleep state; the
// ordering between the two maskings is not load-bearing.
func (c *Controller) PrepareForSleep() error {
	slog.Debug("ioapic: prepare for sleep", "name", c.name)

	var lastErr error
	for n := 0; n < c.vectorCount; n++ {
		entry := c.table[n]
		entry.SetMasked(true)
		if err := c.writeEntryValue(n, entry); err != nil {
			slog.Warn("ioapic: sleep mask", "name", c.name, "vector", n, "error", err)
			lastErr = err
		}
	}

	if err := c.maskLegacy(); err != nil {
		lastErr = err
	}
	return lastErr
}

// ResumeFromWake reprograms the controller after platform wake. The
// legacy controller is masked first: some systems wake with a legacy
// interrupt line asserted, and servicing it before this controller is
// reprogrammed hangs the machine the moment processor interrupts come
// back on. The saved identification register is restored, then every
// vector is written masked and immediately rewritten with its stored
// entry; the two-step forces a de-assertion edge on the line so an edge
// that arrived during the masked window is not swallowed as
// level-already-asserted.
func (c *Controller) ResumeFromWake() error {
	slog.Debug("ioapic: resume from wake", "name", c.name)

	var lastErr error
	if err := c.maskLegacy(); err != nil {
		lastErr = err
	}

	c.regMu.Lock()
	if err := c.indexWrite(regID, c.savedID); err != nil {
		slog.Warn("ioapic: restore ID register", "name", c.name, "error", err)
		lastErr = err
	}
	c.regMu.Unlock()

	for n := 0; n < c.vectorCount; n++ {
		entry := c.table[n]
		entry.SetMasked(true)
		if err := c.writeEntryValue(n, entry); err != nil {
			slog.Warn("ioapic: wake force-mask", "name", c.name, "vector", n, "error", err)
			lastErr = err
		}

		if err := c.writeEntry(n); err != nil {
			slog.Warn("ioapic: wake restore", "name", c.name, "vector", n, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// PrepareForDeepIdle unmasks exactly the named wake vector, leaving every
// other field untouched. The stored entry keeps its configured mask state;
// only the hardware copy is written unmasked.
func (c *Controller) PrepareForDeepIdle(n int) error {
	if c.table == nil || n < 0 || n >= c.vectorCount {
		return fmt.Errorf("ioapic %q: deep idle vector %d: %w",
			c.name, n, interrupts.ErrBadArgument)
	}

	entry := c.table[n]
	entry.SetMasked(false)
	return c.writeEntryValue(n, entry)
}

func (c *Controller) maskLegacy() error {
	if c.legacy == nil {
		return nil
	}
	if err := c.legacy.MaskAll(); err != nil {
		slog.Warn("ioapic: mask legacy controller", "name", c.name, "error", err)
		return err
	}
	return nil
}
