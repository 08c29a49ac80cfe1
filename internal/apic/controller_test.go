package apic

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/tinyrange/ioapic/internal/interrupts"
	"github.com/tinyrange/ioapic/internal/ioapicdev"
	"github.com/tinyrange/ioapic/internal/mmio"
)

const (
	testBaseVector  = 0x40
	testDestination = 1
)

func newTestController(t *testing.T, entries int) (*Controller, *ioapicdev.Model) {
	t.Helper()
	model := ioapicdev.NewModel(entries)
	ctrl, err := New(Config{
		Name:        "ioapic0",
		BaseVector:  testBaseVector,
		Destination: testDestination,
		Window:      model,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ctrl, model
}

func modelEntry(m *ioapicdev.Model, n int) RedirectionEntry {
	raw := m.Entry(n)
	return EntryFromWords(uint32(raw), uint32(raw>>32))
}

func TestVectorCountFromVersionRegister(t *testing.T) {
	// A max-entry field of 23 (0x17) means 24 entries, zero-based.
	ctrl, _ := newTestController(t, 24)
	if got := ctrl.VectorCount(); got != 24 {
		t.Fatalf("VectorCount() = %d, want 24", got)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(Config{Name: "x", Window: nil}); !errors.Is(err, interrupts.ErrBadArgument) {
		t.Errorf("nil window: err = %v, want ErrBadArgument", err)
	}
	model := ioapicdev.NewModel(8)
	if _, err := New(Config{Name: "x", Window: model, Destination: 256}); !errors.Is(err, interrupts.ErrBadArgument) {
		t.Errorf("destination 256: err = %v, want ErrBadArgument", err)
	}
}

func TestResetVectorTableDefaults(t *testing.T) {
	ctrl, model := newTestController(t, 24)

	for n := 0; n < ctrl.VectorCount(); n++ {
		e := modelEntry(model, n)
		if got, want := e.Vector(), uint8(testBaseVector+n); got != want {
			t.Errorf("entry %d vector = 0x%02x, want 0x%02x", n, got, want)
		}
		if !e.Masked() {
			t.Errorf("entry %d not masked after reset", n)
		}
		if e.DeliveryMode() != 0 {
			t.Errorf("entry %d delivery mode = %d, want fixed", n, e.DeliveryMode())
		}
		if !e.DestinationModePhysical() {
			t.Errorf("entry %d not in physical destination mode", n)
		}
		if e.Destination() != testDestination {
			t.Errorf("entry %d destination = %d, want %d", n, e.Destination(), testDestination)
		}
	}
}

func TestSetTriggerAndPolarity(t *testing.T) {
	ctrl, model := newTestController(t, 24)

	if err := ctrl.SetTriggerAndPolarity(3, interrupts.TriggerLevel, interrupts.PolarityLow); err != nil {
		t.Fatalf("SetTriggerAndPolarity: %v", err)
	}

	e := modelEntry(model, 3)
	if e.TriggerMode() != interrupts.TriggerLevel {
		t.Error("hardware entry not level triggered")
	}
	if e.Polarity() != interrupts.PolarityLow {
		t.Error("hardware entry not active low")
	}
	if !e.Masked() {
		t.Error("programming trigger/polarity must not unmask the entry")
	}

	if err := ctrl.SetTriggerAndPolarity(-1, interrupts.TriggerEdge, interrupts.PolarityHigh); !errors.Is(err, interrupts.ErrBadArgument) {
		t.Errorf("out-of-range vector: err = %v, want ErrBadArgument", err)
	}
}

// recordingWindow captures the logical register writes issued through a
// window so tests can assert ordering.
type recordingWindow struct {
	mmio.Window

	selected uint32
	writes   []registerWrite
}

type registerWrite struct {
	index uint32
	value uint32
}

func (w *recordingWindow) Write32(offset uint64, value uint32) error {
	switch offset {
	case 0x00:
		w.selected = value
	case 0x10:
		w.writes = append(w.writes, registerWrite{index: w.selected, value: value})
	}
	return w.Window.Write32(offset, value)
}

func TestSetVectorPhysicalDestinationMasksFirst(t *testing.T) {
	model := ioapicdev.NewModel(24)
	rec := &recordingWindow{Window: model}
	ctrl, err := New(Config{
		Name:        "ioapic0",
		BaseVector:  testBaseVector,
		Destination: testDestination,
		Window:      rec,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const n = 5
	ctrl.SetTriggerAndPolarity(n, interrupts.TriggerEdge, interrupts.PolarityHigh)
	if err := ctrl.EnableVectorEntry(n); err != nil {
		t.Fatalf("EnableVectorEntry: %v", err)
	}

	rec.writes = nil
	if err := ctrl.SetVectorPhysicalDestination(n, 9); err != nil {
		t.Fatalf("SetVectorPhysicalDestination: %v", err)
	}

	// Every low-half write for pin n must carry the mask bit: the vector
	// is masked before the destination changes and stays masked after.
	lowIndex := uint32(0x10 + n*2)
	sawLow := false
	for _, wr := range rec.writes {
		if wr.index == lowIndex {
			sawLow = true
			if wr.value&(1<<16) == 0 {
				t.Fatalf("low-half write 0x%08x issued unmasked during destination update", wr.value)
			}
		}
	}
	if !sawLow {
		t.Fatal("no low-half write recorded for the vector")
	}

	e := modelEntry(model, n)
	if e.Destination() != 9 {
		t.Errorf("destination = %d, want 9", e.Destination())
	}
	if !e.Masked() {
		t.Error("vector must be left masked after destination update")
	}
}

func TestSetVectorPhysicalDestinationBadArgument(t *testing.T) {
	ctrl, model := newTestController(t, 24)

	before := model.Entry(4)
	if err := ctrl.SetVectorPhysicalDestination(4, 256); !errors.Is(err, interrupts.ErrBadArgument) {
		t.Fatalf("apicID 256: err = %v, want ErrBadArgument", err)
	}
	if model.Entry(4) != before {
		t.Error("entry changed despite bad argument")
	}

	if err := ctrl.SetVectorPhysicalDestination(99, 1); !errors.Is(err, interrupts.ErrBadArgument) {
		t.Errorf("vector 99: err = %v, want ErrBadArgument", err)
	}
}

func TestEnableDisableVectorEntry(t *testing.T) {
	ctrl, model := newTestController(t, 24)

	ctrl.SetTriggerAndPolarity(2, interrupts.TriggerEdge, interrupts.PolarityHigh)
	if err := ctrl.EnableVectorEntry(2); err != nil {
		t.Fatalf("EnableVectorEntry: %v", err)
	}
	if modelEntry(model, 2).Masked() {
		t.Error("entry still masked after enable")
	}

	if err := ctrl.DisableVectorEntry(2); err != nil {
		t.Fatalf("DisableVectorEntry: %v", err)
	}
	if !modelEntry(model, 2).Masked() {
		t.Error("entry not masked after disable")
	}
}

func TestVectorCanBeShared(t *testing.T) {
	ctrl, _ := newTestController(t, 24)
	for _, n := range []int{0, 5, 23} {
		if !ctrl.VectorCanBeShared(n) {
			t.Errorf("VectorCanBeShared(%d) = false, want true", n)
		}
	}
}

func TestDumpRegisters(t *testing.T) {
	ctrl, _ := newTestController(t, 8)

	var buf bytes.Buffer
	if err := ctrl.DumpRegisters(&buf); err != nil {
		t.Fatalf("DumpRegisters: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "reg 01 =") {
		t.Error("dump missing version register")
	}
	// 8 entries -> last pair at index 0x10 + 7*2 = 0x1e.
	if !strings.Contains(out, "reg 1e =") {
		t.Errorf("dump missing last redirection pair:\n%s", out)
	}
}
