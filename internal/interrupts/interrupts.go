// Package interrupts holds the vocabulary shared between interrupt
// controllers and the devices that register with them: trigger and
// polarity types, the encoded interrupt source specifier, the controller
// capability set, and a named-controller registry.
package interrupts

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Failure classes reported by controller operations. Callers receive these
// wrapped with operation context; match with errors.Is.
var (
	ErrBadArgument       = errors.New("bad argument")
	ErrNotFound          = errors.New("not found")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrHardwareBounds    = errors.New("hardware bounds exceeded")
)

// TriggerMode describes how an interrupt line signals.
type TriggerMode int

const (
	TriggerEdge TriggerMode = iota
	TriggerLevel
)

func (t TriggerMode) String() string {
	if t == TriggerLevel {
		return "level"
	}
	return "edge"
}

// Polarity describes the active state of an interrupt line.
type Polarity int

const (
	PolarityHigh Polarity = iota
	PolarityLow
)

func (p Polarity) String() string {
	if p == PolarityLow {
		return "low"
	}
	return "high"
}

// Source specifier flag bits. The platform encodes these in the second
// word of each interrupt source specifier.
const (
	SpecifierTriggerModeMask  uint32 = 0x01
	SpecifierTriggerModeEdge  uint32 = 0x00
	SpecifierTriggerModeLevel uint32 = 0x01

	SpecifierPolarityMask uint32 = 0x02
	SpecifierPolarityHigh uint32 = 0x00
	SpecifierPolarityLow  uint32 = 0x02

	SpecifierShareableMask uint32 = 0x04
)

// SpecifierSize is the minimum length of an encoded source specifier:
// a 32-bit vector offset followed by 32 bits of flags.
const SpecifierSize = 8

// Specifier is a decoded interrupt source specifier. Vector is an offset
// into the owning controller's vector range, equal to the input pin number.
type Specifier struct {
	Vector uint32
	Flags  uint32
}

// TriggerMode returns the trigger mode encoded in the flags.
func (s Specifier) TriggerMode() TriggerMode {
	if s.Flags&SpecifierTriggerModeMask == SpecifierTriggerModeEdge {
		return TriggerEdge
	}
	return TriggerLevel
}

// Polarity returns the line polarity encoded in the flags.
func (s Specifier) Polarity() Polarity {
	if s.Flags&SpecifierPolarityMask == SpecifierPolarityHigh {
		return PolarityHigh
	}
	return PolarityLow
}

// Shareable reports whether the platform marked the line shareable.
func (s Specifier) Shareable() bool {
	return s.Flags&SpecifierShareableMask != 0
}

// Encode renders the specifier in its wire form.
func (s Specifier) Encode() []byte {
	buf := make([]byte, SpecifierSize)
	binary.LittleEndian.PutUint32(buf[0:], s.Vector)
	binary.LittleEndian.PutUint32(buf[4:], s.Flags)
	return buf
}

// DecodeSpecifier parses an encoded source specifier. A specifier too
// short to contain the vector and flag words reports ErrNotFound.
func DecodeSpecifier(data []byte) (Specifier, error) {
	if len(data) < SpecifierSize {
		return Specifier{}, fmt.Errorf("specifier is %d bytes, need %d: %w",
			len(data), SpecifierSize, ErrNotFound)
	}
	return Specifier{
		Vector: binary.LittleEndian.Uint32(data[0:]),
		Flags:  binary.LittleEndian.Uint32(data[4:]),
	}, nil
}

// Nub is the device-side attachment point a controller sees when a driver
// registers an interrupt. Source indexes select between a device's
// interrupt specifiers.
type Nub interface {
	Name() string
	InterruptSpecifier(source int) ([]byte, bool)
}

// DeviceNub is a minimal Nub backed by a static specifier list.
type DeviceNub struct {
	DeviceName string
	Specifiers [][]byte
}

func (n *DeviceNub) Name() string { return n.DeviceName }

func (n *DeviceNub) InterruptSpecifier(source int) ([]byte, bool) {
	if source < 0 || source >= len(n.Specifiers) {
		return nil, false
	}
	return n.Specifiers[source], true
}

// Handler services one interrupt delivery. target and refCon are the
// opaque values supplied at registration.
type Handler func(target, refCon any, nub Nub, source int)

// Controller is the capability set an interrupt controller exposes to the
// dispatch framework. Vector numbers are offsets into the controller's
// own range, not system-wide vectors.
type Controller interface {
	GetInterruptType(nub Nub, source int) (TriggerMode, error)
	RegisterInterrupt(nub Nub, source int, target any, handler Handler, refCon any) error
	InitVector(vector int)
	EnableVector(vector int)
	DisableVectorHard(vector int)
	VectorCanBeShared(vector int) bool
	HandleInterrupt(state any, nub Nub, source int) error
}
