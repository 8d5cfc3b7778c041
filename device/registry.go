package device

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Registered device names.
const (
	NameSoftware = "software"
	NameWGPU     = "wgpu"
)

// ErrUnknownDevice is returned by Open for names nobody registered.
var ErrUnknownDevice = errors.New("device: unknown device")

// Options are passed to device factories.
type Options struct {
	// Workers is the number of host goroutines a software device may use.
	// Zero means GOMAXPROCS.
	Workers int

	// Timeout bounds how long a hardware device waits for a single
	// submission to complete. Zero means DefaultTimeout.
	Timeout time.Duration
}

// DefaultTimeout is the per-submission wait used when Options.Timeout is
// zero.
const DefaultTimeout = 30 * time.Second

// WaitTimeout returns o.Timeout, or DefaultTimeout when it is unset.
func (o Options) WaitTimeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// Factory opens a device.
type Factory func(opts Options) (Device, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
	// Priority order for Default (first one that opens wins).
	priority = []string{NameWGPU, NameSoftware}
)

// Register registers a device factory under name. Registering an existing
// name replaces it.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = f
}

// Unregister removes a device factory. Useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns the sorted names of all registered devices.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether a device named name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Open opens the device registered under name.
func Open(name string, opts Options) (Device, error) {
	registryMu.RLock()
	f, ok := factories[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownDevice, name, Available())
	}
	return f(opts)
}

// Default opens the highest-priority device that is available, then any
// other registered device. The errors of every failed attempt are joined
// into the returned error when nothing opens.
func Default(opts Options) (Device, error) {
	registryMu.RLock()
	tried := make(map[string]bool, len(factories))
	order := make([]string, 0, len(factories))
	for _, name := range priority {
		if _, ok := factories[name]; ok {
			order = append(order, name)
			tried[name] = true
		}
	}
	rest := make([]string, 0, len(factories))
	for name := range factories {
		if !tried[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	order = append(order, rest...)
	fs := make([]Factory, len(order))
	for i, name := range order {
		fs[i] = factories[name]
	}
	registryMu.RUnlock()

	var errs []error
	for i, f := range fs {
		d, err := f(opts)
		if err == nil {
			return d, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", order[i], err))
	}
	if len(errs) == 0 {
		return nil, ErrNotAvailable
	}
	return nil, fmt.Errorf("%w: %w", ErrNotAvailable, errors.Join(errs...))
}
