package gpio

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Driver modes. Mock logs transitions instead of touching hardware.
const (
	ModeMock  = "mock"
	ModeSysfs = "sysfs"
)

// Driver abstracts the physical pin so the pulse logic can be exercised
// off-device. Implementations must tolerate repeated Off calls.
type Driver interface {
	On() error
	Off() error
	Close() error
}

// NewDriver builds a driver for the given mode ("mock" or "sysfs").
// A sysfs init failure falls back to mock with a warning, so a gate
// deployed on non-Pi hardware still runs end to end.
func NewDriver(mode string, pin int, log *slog.Logger) Driver {
	if log == nil {
		log = slog.Default()
	}
	if mode != ModeSysfs {
		log.Info("gpio mock mode enabled", "pin", pin)
		return &mockDriver{pin: pin, log: log}
	}

	d, err := newSysfsDriver(pin)
	if err != nil {
		log.Warn("sysfs gpio init failed, falling back to mock", "pin", pin, "err", err)
		return &mockDriver{pin: pin, log: log}
	}
	log.Info("sysfs gpio initialized", "pin", pin)
	return d
}

type mockDriver struct {
	pin int
	log *slog.Logger
}

func (d *mockDriver) On() error {
	d.log.Info("gpio pin activated", "pin", d.pin, "mock", true)
	return nil
}

func (d *mockDriver) Off() error {
	d.log.Info("gpio pin deactivated", "pin", d.pin, "mock", true)
	return nil
}

func (d *mockDriver) Close() error { return nil }

// sysfsDriver drives a pin through the legacy Linux sysfs GPIO interface.
// Kernel deprecation aside, sysfs remains the stable lowest common
// denominator on the Pi images this gate ships on.
type sysfsDriver struct {
	pin       int
	valuePath string
}

const sysfsRoot = "/sys/class/gpio"

func newSysfsDriver(pin int) (*sysfsDriver, error) {
	pinDir := filepath.Join(sysfsRoot, fmt.Sprintf("gpio%d", pin))

	if _, err := os.Stat(pinDir); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(sysfsRoot, "export"), []byte(fmt.Sprintf("%d", pin)), 0o200); err != nil {
			return nil, fmt.Errorf("gpio export: %w", err)
		}
		// The kernel needs a moment to create the pin directory and fix
		// its permissions after export.
		time.Sleep(100 * time.Millisecond)
	}

	if err := os.WriteFile(filepath.Join(pinDir, "direction"), []byte("out"), 0o644); err != nil {
		return nil, fmt.Errorf("gpio direction: %w", err)
	}

	return &sysfsDriver{pin: pin, valuePath: filepath.Join(pinDir, "value")}, nil
}

func (d *sysfsDriver) On() error {
	return os.WriteFile(d.valuePath, []byte("1"), 0o644)
}

func (d *sysfsDriver) Off() error {
	return os.WriteFile(d.valuePath, []byte("0"), 0o644)
}

func (d *sysfsDriver) Close() error {
	if err := d.Off(); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(sysfsRoot, "unexport"), []byte(fmt.Sprintf("%d", d.pin)), 0o200)
}
