// Package mmio provides 32-bit access to memory-mapped device register
// windows. Reads and writes go through sync/atomic so they are issued as
// single uncached loads and stores against the mapping, never torn or
// combined by the compiler.
package mmio

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Window is a 32-bit register window. Offsets are byte offsets from the
// window base and must be 4-byte aligned.
type Window interface {
	Read32(offset uint64) (uint32, error)
	Write32(offset uint64, value uint32) error
}

// MappedWindow is a Window backed by an mmap of a device file such as
// /dev/mem or a UIO node. A regular file works too, which the tests use.
type MappedWindow struct {
	file *os.File
	mem  []byte
	base uint64
	size uint64
}

// MapFile maps size bytes of path starting at offset base. base must be
// page aligned for device files; regular files are mapped from zero and
// indexed by base internally so any alignment works there.
func MapFile(path string, base uint64, size uint64) (*MappedWindow, error) {
	if size == 0 {
		return nil, fmt.Errorf("mmio: zero-sized window for %s", path)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmio: open %s: %w", path, err)
	}

	pageSize := uint64(os.Getpagesize())
	mapBase := base &^ (pageSize - 1)
	skew := base - mapBase

	mem, err := unix.Mmap(int(f.Fd()), int64(mapBase), int(skew+size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmio: mmap %s at 0x%x: %w", path, base, err)
	}

	return &MappedWindow{
		file: f,
		mem:  mem,
		base: skew,
		size: size,
	}, nil
}

// Read32 implements Window.
func (w *MappedWindow) Read32(offset uint64) (uint32, error) {
	if err := w.check(offset); err != nil {
		return 0, err
	}
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&w.mem[w.base+offset]))), nil
}

// Write32 implements Window.
func (w *MappedWindow) Write32(offset uint64, value uint32) error {
	if err := w.check(offset); err != nil {
		return err
	}
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&w.mem[w.base+offset])), value)
	return nil
}

func (w *MappedWindow) check(offset uint64) error {
	if offset%4 != 0 {
		return fmt.Errorf("mmio: unaligned register offset 0x%x", offset)
	}
	if offset+4 > w.size {
		return fmt.Errorf("mmio: register offset 0x%x outside window of size 0x%x", offset, w.size)
	}
	return nil
}

// Size returns the usable window size in bytes.
func (w *MappedWindow) Size() uint64 { return w.size }

// Close unmaps the window and closes the underlying file.
func (w *MappedWindow) Close() error {
	if w.mem != nil {
		if err := unix.Munmap(w.mem); err != nil {
			w.file.Close()
			return fmt.Errorf("mmio: munmap: %w", err)
		}
		w.mem = nil
	}
	return w.file.Close()
}
