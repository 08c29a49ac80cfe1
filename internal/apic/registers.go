package apic

// The controller exposes two memory-mapped registers: an index register
// selecting an internal register, and a data window reading or writing
// the selected register.
const (
	// RegisterWindowSize covers the select and data registers.
	RegisterWindowSize uint64 = 0x20

	regSelect uint64 = 0x00
	regData   uint64 = 0x10
)

// Indirect register indexes.
const (
	regID          uint32 = 0x00
	regVersion     uint32 = 0x01
	regArbitration uint32 = 0x02
	regTableBase   uint32 = 0x10
)

// Version register fields.
const (
	versionVersionMask    uint32 = 0x000000ff
	versionMaxEntriesMask uint32 = 0x00ff0000
	versionMaxEntriesShift       = 16
)

// indexRead reads one indirect register. The index and data accesses are
// not atomic as a pair; callers needing atomicity across accesses must
// hold the controller's register lock.
func (c *Controller) indexRead(index uint32) (uint32, error) {
	if err := c.window.Write32(regSelect, index); err != nil {
		return 0, err
	}
	return c.window.Read32(regData)
}

// indexWrite writes one indirect register. Same locking contract as
// indexRead.
func (c *Controller) indexWrite(index uint32, value uint32) error {
	if err := c.window.Write32(regSelect, index); err != nil {
		return err
	}
	return c.window.Write32(regData, value)
}
