// Command apicdump maps the register windows of the controllers named in
// a platform description and prints their identification registers and
// redirection tables. It only reads the hardware; pointing it at a file
// snapshot of the register window works too.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/tinyrange/ioapic/internal/apic"
	"github.com/tinyrange/ioapic/internal/mmio"
	"github.com/tinyrange/ioapic/internal/platform"
)

func main() {
	configPath := flag.String("config", "", "platform description file")
	controller := flag.String("controller", "", "dump only the named controller")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	setupLogging(*debug)

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "usage: apicdump -config platform.yaml [-controller name]")
		os.Exit(2)
	}

	if err := run(*configPath, *controller); err != nil {
		slog.Error("apicdump: failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(debug bool) {
	opts := &slog.HandlerOptions{}
	if debug {
		opts.Level = slog.LevelDebug
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		// Interactive runs don't need timestamps.
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
}

func run(configPath, only string) error {
	cfg, err := platform.Load(configPath)
	if err != nil {
		return err
	}

	dumped := 0
	for _, cc := range cfg.Controllers {
		if only != "" && cc.Name != only {
			continue
		}

		if err := dumpController(cc); err != nil {
			return err
		}
		dumped++
	}

	if dumped == 0 {
		return fmt.Errorf("no controller matched %q", only)
	}
	return nil
}

func dumpController(cc platform.ControllerConfig) error {
	device := cc.MemoryDevice
	if device == "" {
		device = "/dev/mem"
	}
	slog.Debug("apicdump: mapping controller",
		"name", cc.Name, "device", device,
		"address", fmt.Sprintf("0x%x", cc.PhysicalAddress))

	window, err := mmio.MapFile(device, cc.PhysicalAddress, apic.RegisterWindowSize)
	if err != nil {
		return err
	}
	defer window.Close()

	return apic.Dump(os.Stdout, window, cc.Name)
}
