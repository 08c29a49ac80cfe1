package platform

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tinyrange/ioapic/internal/interrupts"
)

const testConfig = `
controllers:
  - name: io-apic-0
    baseVector: 64
    physicalAddress: 0xfec00000
    destinationAPICID: 0
  - name: io-apic-1
    baseVector: 96
    physicalAddress: 0xfec01000
    destinationAPICID: 1
    memoryDevice: /dev/uio0
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(testConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Controllers) != 2 {
		t.Fatalf("got %d controllers, want 2", len(cfg.Controllers))
	}

	cc := cfg.Controllers[0]
	if cc.Name != "io-apic-0" || cc.BaseVector != 64 || cc.PhysicalAddress != 0xfec00000 {
		t.Errorf("controller 0 parsed as %+v", cc)
	}
	if cc.memoryDevice() != "/dev/mem" {
		t.Errorf("default memory device = %q", cc.memoryDevice())
	}
	if cfg.Controllers[1].memoryDevice() != "/dev/uio0" {
		t.Errorf("override memory device = %q", cfg.Controllers[1].memoryDevice())
	}
}

func TestParseValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"empty name", `
controllers:
  - name: ""
    baseVector: 64
    physicalAddress: 0xfec00000
`},
		{"duplicate name", `
controllers:
  - name: io-apic-0
    baseVector: 64
    physicalAddress: 0xfec00000
  - name: io-apic-0
    baseVector: 96
    physicalAddress: 0xfec01000
`},
		{"duplicate base vector", `
controllers:
  - name: io-apic-0
    baseVector: 64
    physicalAddress: 0xfec00000
  - name: io-apic-1
    baseVector: 64
    physicalAddress: 0xfec01000
`},
		{"missing address", `
controllers:
  - name: io-apic-0
    baseVector: 64
`},
		{"destination too large", `
controllers:
  - name: io-apic-0
    baseVector: 64
    physicalAddress: 0xfec00000
    destinationAPICID: 256
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.yaml)); !errors.Is(err, interrupts.ErrBadArgument) {
				t.Errorf("err = %v, want ErrBadArgument", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

// writeBackingFile builds a file standing in for a register window: a
// version register at base+0x10 advertising maxEntry redirection slots.
func writeBackingFile(t *testing.T, base uint64, maxEntry uint8) string {
	t.Helper()
	buf := make([]byte, base+0x1000)
	binary.LittleEndian.PutUint32(buf[base+0x10:], 0x11|uint32(maxEntry)<<16)

	path := filepath.Join(t.TempDir(), "regs")
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		t.Fatalf("write backing file: %v", err)
	}
	return path
}

func TestOpenAgainstBackingFile(t *testing.T) {
	const base = 0x1000
	path := writeBackingFile(t, base, 23)

	inst, err := Open(ControllerConfig{
		Name:            "io-apic-0",
		BaseVector:      64,
		PhysicalAddress: base,
		MemoryDevice:    path,
	}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer inst.Close()

	if got := inst.Controller.VectorCount(); got != 24 {
		t.Errorf("VectorCount() = %d, want 24", got)
	}
	if got := inst.Controller.BaseVector(); got != 64 {
		t.Errorf("BaseVector() = %d, want 64", got)
	}
}

func TestOpenMissingDeviceIsResourceExhausted(t *testing.T) {
	_, err := Open(ControllerConfig{
		Name:            "io-apic-0",
		BaseVector:      64,
		PhysicalAddress: 0x1000,
		MemoryDevice:    filepath.Join(t.TempDir(), "absent"),
	}, nil)
	if !errors.Is(err, interrupts.ErrResourceExhausted) {
		t.Fatalf("err = %v, want ErrResourceExhausted", err)
	}
}

func TestInstallRegistersAndTearsDown(t *testing.T) {
	const base = 0x1000
	path := writeBackingFile(t, base, 7)

	registry := interrupts.NewRegistry()
	cfg := Config{Controllers: []ControllerConfig{{
		Name:            "io-apic-0",
		BaseVector:      64,
		PhysicalAddress: base,
		MemoryDevice:    path,
	}}}

	instances, err := Install(cfg, registry, nil)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	defer func() {
		for _, inst := range instances {
			inst.Close()
		}
	}()

	if _, err := registry.Lookup("io-apic-0"); err != nil {
		t.Errorf("Lookup after Install: %v", err)
	}

	// A later failure must undo earlier registrations.
	registry2 := interrupts.NewRegistry()
	cfg.Controllers = append(cfg.Controllers, ControllerConfig{
		Name:            "io-apic-1",
		BaseVector:      96,
		PhysicalAddress: base,
		MemoryDevice:    filepath.Join(t.TempDir(), "absent"),
	})
	if _, err := Install(cfg, registry2, nil); err == nil {
		t.Fatal("Install with a broken controller should fail")
	}
	if names := registry2.Names(); len(names) != 0 {
		t.Errorf("registry not empty after failed Install: %v", names)
	}
}
