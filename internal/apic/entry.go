package apic

import "github.com/tinyrange/ioapic/internal/interrupts"

// Redirection table entry bit layout. The low word carries the vector and
// control bits, the high word carries the destination APIC ID.
const (
	entryVectorMask uint64 = 0x000000ff

	entryDeliveryModeMask  uint64 = 0x00000700
	entryDeliveryModeShift        = 8
	deliveryModeFixed      uint64 = 0x0

	entryDestinationModeLogical uint64 = 1 << 11
	entryDeliveryStatusPending  uint64 = 1 << 12
	entryPolarityLow            uint64 = 1 << 13
	entryRemoteIRR              uint64 = 1 << 14
	entryTriggerModeLevel       uint64 = 1 << 15
	entryMasked                 uint64 = 1 << 16

	entryDestinationMask  uint64 = 0xff << 56
	entryDestinationShift        = 56
)

// RedirectionEntry is the 64-bit hardware record describing how one input
// pin is delivered: vector, delivery mode, destination mode, polarity,
// trigger mode, mask state and destination APIC ID.
type RedirectionEntry struct {
	value uint64
}

// NewRedirectionEntry builds the power-on default for a pin: the given
// vector, fixed delivery, physical destination mode, and masked. Entries
// stay masked until trigger and polarity have been programmed.
func NewRedirectionEntry(vector uint8, destination uint8) RedirectionEntry {
	var e RedirectionEntry
	e.value = uint64(vector) & entryVectorMask
	e.value |= deliveryModeFixed << entryDeliveryModeShift
	e.value |= entryMasked
	e.SetDestination(destination)
	return e
}

// EntryFromWords reassembles an entry from its low and high register words.
func EntryFromWords(low, high uint32) RedirectionEntry {
	return RedirectionEntry{value: uint64(high)<<32 | uint64(low)}
}

// Raw returns the full 64-bit encoding.
func (e RedirectionEntry) Raw() uint64 { return e.value }

// Low returns the low 32-bit register word.
func (e RedirectionEntry) Low() uint32 { return uint32(e.value) }

// High returns the high 32-bit register word.
func (e RedirectionEntry) High() uint32 { return uint32(e.value >> 32) }

// Vector returns the vector number field.
func (e RedirectionEntry) Vector() uint8 { return uint8(e.value & entryVectorMask) }

// DeliveryMode returns the 3-bit delivery mode field.
func (e RedirectionEntry) DeliveryMode() uint8 {
	return uint8((e.value & entryDeliveryModeMask) >> entryDeliveryModeShift)
}

// DestinationModePhysical reports whether the destination field is a raw
// APIC ID rather than a logical group.
func (e RedirectionEntry) DestinationModePhysical() bool {
	return e.value&entryDestinationModeLogical == 0
}

// Masked reports whether delivery is suppressed.
func (e RedirectionEntry) Masked() bool { return e.value&entryMasked != 0 }

// SetMasked sets or clears the mask bit.
func (e *RedirectionEntry) SetMasked(masked bool) {
	if masked {
		e.value |= entryMasked
	} else {
		e.value &^= entryMasked
	}
}

// TriggerMode returns the trigger mode bit.
func (e RedirectionEntry) TriggerMode() interrupts.TriggerMode {
	if e.value&entryTriggerModeLevel != 0 {
		return interrupts.TriggerLevel
	}
	return interrupts.TriggerEdge
}

// SetTriggerMode programs the trigger mode bit.
func (e *RedirectionEntry) SetTriggerMode(mode interrupts.TriggerMode) {
	e.value &^= entryTriggerModeLevel
	if mode == interrupts.TriggerLevel {
		e.value |= entryTriggerModeLevel
	}
}

// Polarity returns the input polarity bit.
func (e RedirectionEntry) Polarity() interrupts.Polarity {
	if e.value&entryPolarityLow != 0 {
		return interrupts.PolarityLow
	}
	return interrupts.PolarityHigh
}

// SetPolarity programs the input polarity bit.
func (e *RedirectionEntry) SetPolarity(polarity interrupts.Polarity) {
	e.value &^= entryPolarityLow
	if polarity == interrupts.PolarityLow {
		e.value |= entryPolarityLow
	}
}

// Destination returns the destination APIC ID field.
func (e RedirectionEntry) Destination() uint8 {
	return uint8((e.value & entryDestinationMask) >> entryDestinationShift)
}

// SetDestination replaces the destination APIC ID field.
func (e *RedirectionEntry) SetDestination(id uint8) {
	e.value &^= entryDestinationMask
	e.value |= (uint64(id) << entryDestinationShift) & entryDestinationMask
}
