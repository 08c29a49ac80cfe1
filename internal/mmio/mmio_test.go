package mmio

import (
	"os"
	"path/filepath"
	"testing"
)

func newBackingFile(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "regs")
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("create backing file: %v", err)
	}
	return path
}

func write32(t *testing.T, w *MappedWindow, offset uint64, value uint32) {
	t.Helper()
	if err := w.Write32(offset, value); err != nil {
		t.Fatalf("Write32(0x%x): %v", offset, err)
	}
}

func read32(t *testing.T, w *MappedWindow, offset uint64) uint32 {
	t.Helper()
	v, err := w.Read32(offset)
	if err != nil {
		t.Fatalf("Read32(0x%x): %v", offset, err)
	}
	return v
}

func TestMappedWindowReadWrite(t *testing.T) {
	path := newBackingFile(t, 0x1000)

	w, err := MapFile(path, 0, 0x40)
	if err != nil {
		t.Fatalf("MapFile: %v", err)
	}
	defer w.Close()

	write32(t, w, 0x00, 0xdeadbeef)
	write32(t, w, 0x10, 0x12345678)

	if got := read32(t, w, 0x00); got != 0xdeadbeef {
		t.Errorf("Read32(0x00) = 0x%08x, want 0xdeadbeef", got)
	}
	if got := read32(t, w, 0x10); got != 0x12345678 {
		t.Errorf("Read32(0x10) = 0x%08x, want 0x12345678", got)
	}
}

func TestMappedWindowUnalignedBase(t *testing.T) {
	path := newBackingFile(t, 0x2000)

	// A base inside the first page exercises the skew path.
	w, err := MapFile(path, 0x0c0, 0x40)
	if err != nil {
		t.Fatalf("MapFile: %v", err)
	}
	defer w.Close()

	write32(t, w, 0x04, 0xa5a5a5a5)
	if got := read32(t, w, 0x04); got != 0xa5a5a5a5 {
		t.Errorf("Read32(0x04) = 0x%08x, want 0xa5a5a5a5", got)
	}

	// The write must land at base+offset in the backing file.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read backing file: %v", err)
	}
	if raw[0x0c4] != 0xa5 {
		t.Errorf("backing file byte at 0x0c4 = 0x%02x, want 0xa5", raw[0x0c4])
	}
}

func TestMappedWindowBounds(t *testing.T) {
	path := newBackingFile(t, 0x1000)

	w, err := MapFile(path, 0, 0x20)
	if err != nil {
		t.Fatalf("MapFile: %v", err)
	}
	defer w.Close()

	if err := w.Write32(0x20, 1); err == nil {
		t.Error("expected error writing past window end")
	}
	if _, err := w.Read32(0x02); err == nil {
		t.Error("expected error for unaligned read")
	}
}

func TestMapFileZeroSize(t *testing.T) {
	if _, err := MapFile("/dev/null", 0, 0); err == nil {
		t.Fatal("expected error for zero-sized window")
	}
}
