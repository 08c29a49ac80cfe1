package apic

import (
	"fmt"
	"io"

	"github.com/tinyrange/ioapic/internal/mmio"
)

// Dump prints the identification block and every redirection entry pair
// read through win. It issues only reads (besides the index selects), so
// it is safe to point at live hardware. label prefixes each line.
func Dump(out io.Writer, win mmio.Window, label string) error {
	read := func(index uint32) (uint32, error) {
		if err := win.Write32(regSelect, index); err != nil {
			return 0, err
		}
		return win.Read32(regData)
	}

	version := uint32(0)
	for index := uint32(0); index < regTableBase; index++ {
		value, err := read(index)
		if err != nil {
			return fmt.Errorf("dump %s register 0x%02x: %w", label, index, err)
		}
		if index == regVersion {
			version = value
		}
		if _, err := fmt.Fprintf(out, "%s: reg %02x = %08x\n", label, index, value); err != nil {
			return err
		}
	}

	count := int((version&versionMaxEntriesMask)>>versionMaxEntriesShift) + 1
	for n := 0; n < count; n++ {
		index := regTableBase + uint32(n*2)
		low, err := read(index)
		if err != nil {
			return fmt.Errorf("dump %s entry %d: %w", label, n, err)
		}
		high, err := read(index + 1)
		if err != nil {
			return fmt.Errorf("dump %s entry %d: %w", label, n, err)
		}
		if _, err := fmt.Fprintf(out, "%s: reg %02x = %08x %08x\n", label, index, high, low); err != nil {
			return err
		}
	}
	return nil
}

// DumpRegisters prints this controller's registers as read back from
// hardware, holding the register lock for the whole walk.
func (c *Controller) DumpRegisters(w io.Writer) error {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	return Dump(w, c.window, fmt.Sprintf("ioapic-%d", c.baseVector))
}
