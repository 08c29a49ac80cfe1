// Package platform consumes the firmware-derived description of the
// machine's redirection controllers and brings them up. Enumeration
// itself (ACPI parsing, interrupt-source discovery) happens elsewhere;
// this package only reads the distilled YAML description the platform
// ships.
package platform

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/ioapic/internal/apic"
	"github.com/tinyrange/ioapic/internal/interrupts"
	"github.com/tinyrange/ioapic/internal/mmio"
)

const defaultMemoryDevice = "/dev/mem"

// Config is the top-level platform description.
type Config struct {
	Controllers []ControllerConfig `yaml:"controllers"`
}

// ControllerConfig describes one controller instance.
type ControllerConfig struct {
	// Name is the platform-assigned controller name, unique system-wide.
	Name string `yaml:"name"`

	// BaseVector is the first system vector assigned to this controller.
	BaseVector uint32 `yaml:"baseVector"`

	// PhysicalAddress locates the memory-mapped register window.
	PhysicalAddress uint64 `yaml:"physicalAddress"`

	// DestinationAPICID is the boot processor's APIC ID, the default
	// physical-mode destination for every vector.
	DestinationAPICID uint32 `yaml:"destinationAPICID"`

	// MemoryDevice overrides the device file the register window is
	// mapped from. Defaults to /dev/mem.
	MemoryDevice string `yaml:"memoryDevice,omitempty"`
}

func (c ControllerConfig) memoryDevice() string {
	if c.MemoryDevice != "" {
		return c.MemoryDevice
	}
	return defaultMemoryDevice
}

// Parse decodes and validates a platform description.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("platform: parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses a platform description file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("platform: read config: %w", err)
	}
	return Parse(data)
}

func (c Config) validate() error {
	names := make(map[string]bool, len(c.Controllers))
	bases := make(map[uint32]string, len(c.Controllers))

	for _, cc := range c.Controllers {
		if cc.Name == "" {
			return fmt.Errorf("platform: controller with empty name: %w", interrupts.ErrBadArgument)
		}
		if names[cc.Name] {
			return fmt.Errorf("platform: duplicate controller name %q: %w", cc.Name, interrupts.ErrBadArgument)
		}
		names[cc.Name] = true

		if other, dup := bases[cc.BaseVector]; dup {
			return fmt.Errorf("platform: controllers %q and %q share base vector %d: %w",
				other, cc.Name, cc.BaseVector, interrupts.ErrBadArgument)
		}
		bases[cc.BaseVector] = cc.Name

		if cc.PhysicalAddress == 0 {
			return fmt.Errorf("platform: controller %q has no physical address: %w",
				cc.Name, interrupts.ErrBadArgument)
		}
		if cc.DestinationAPICID > 0xff {
			return fmt.Errorf("platform: controller %q destination APIC ID %d out of range: %w",
				cc.Name, cc.DestinationAPICID, interrupts.ErrBadArgument)
		}
	}
	return nil
}

// Instance is one brought-up controller and its register mapping.
type Instance struct {
	Controller *apic.Controller

	window *mmio.MappedWindow
}

// Close releases the register mapping.
func (i *Instance) Close() error {
	if i.window == nil {
		return nil
	}
	err := i.window.Close()
	i.window = nil
	return err
}

// Open maps one controller's register window and starts the controller.
func Open(cc ControllerConfig, legacy apic.LegacyMasker) (*Instance, error) {
	window, err := mmio.MapFile(cc.memoryDevice(), cc.PhysicalAddress, apic.RegisterWindowSize)
	if err != nil {
		return nil, fmt.Errorf("platform: map controller %q registers: %v: %w",
			cc.Name, err, interrupts.ErrResourceExhausted)
	}

	ctrl, err := apic.New(apic.Config{
		Name:        cc.Name,
		BaseVector:  cc.BaseVector,
		Destination: cc.DestinationAPICID,
		Window:      window,
		Legacy:      legacy,
	})
	if err != nil {
		window.Close()
		return nil, err
	}

	return &Instance{Controller: ctrl, window: window}, nil
}

// Install brings up every configured controller and registers each under
// its platform name. Any failure tears down the controllers opened so
// far; no partial platform state is left registered.
func Install(cfg Config, registry *interrupts.Registry, legacy apic.LegacyMasker) ([]*Instance, error) {
	var opened []*Instance
	for _, cc := range cfg.Controllers {
		inst, err := Open(cc, legacy)
		if err == nil {
			err = registry.Register(cc.Name, inst.Controller)
			if err != nil {
				inst.Close()
			}
		}
		if err != nil {
			for _, prev := range opened {
				registry.Unregister(prev.Controller.Name())
				prev.Close()
			}
			return nil, err
		}
		opened = append(opened, inst)
	}
	return opened, nil
}
