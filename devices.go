package jacobi

import (
	"errors"

	"github.com/gogpu/jacobi/device"
	"github.com/gogpu/jacobi/internal/cpu"
)

func init() {
	// The software device is always available.
	device.Register(device.NameSoftware, cpu.Open)
}

// openDevice opens the device named in cfg, or the best available one.
func openDevice(cfg Config) (device.Device, error) {
	opts := cfg.deviceOptions()
	if cfg.Device != "" {
		return device.Open(cfg.Device, opts)
	}

	d, err := device.Default(opts)
	if err != nil {
		return nil, err
	}
	if d.Info().Name != device.NameWGPU && device.IsRegistered(device.NameWGPU) {
		Logger().Warn("jacobi: GPU device not available, using fallback", "device", d.Info().Name)
	}
	return d, nil
}

// IsNotAvailable reports whether err means a device cannot run on this
// machine.
func IsNotAvailable(err error) bool {
	return errors.Is(err, device.ErrNotAvailable)
}
