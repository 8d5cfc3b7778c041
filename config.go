package jacobi

import (
	"fmt"
	"math"
	"time"

	"github.com/gogpu/jacobi/device"
	"github.com/gogpu/jacobi/internal/stream"
)

// Defaults of the benchmark configuration.
const (
	DefaultNX        = 7168
	DefaultNY        = 7168
	DefaultIterMax   = 1000
	DefaultNCCheck   = 1
	DefaultTolerance = 1e-8
)

// ProgressInterval is the number of iterations between progress reports
// of the text reporter.
const ProgressInterval = 100

// Config configures a Solver.
type Config struct {
	// NX and NY are the grid width and height, including the boundary
	// columns and the periodic ghost rows. Both must be at least 3.
	NX int
	NY int

	// IterMax caps the number of iterations.
	IterMax int

	// NCCheck is the norm check interval. Only 1 is supported.
	NCCheck int

	// Tolerance is the L2 norm below which the run is converged.
	Tolerance float64

	// Device names the device to open ("software", "wgpu"). Empty selects
	// the best available one.
	Device string

	// Workers is the number of software device goroutines. Zero means
	// GOMAXPROCS.
	Workers int

	// WaitTimeout bounds every host wait for a norm copy and every device
	// submission. Zero waits indefinitely on the host and uses the device
	// default for submissions.
	WaitTimeout time.Duration

	// StreamDepth is the queue capacity of each command stream. Zero means
	// the stream default.
	StreamDepth int
}

// DefaultConfig returns the benchmark defaults: a 7168x7168 grid, 1000
// iterations, a norm check every iteration and a tolerance of 1e-8.
func DefaultConfig() Config {
	return Config{
		NX:        DefaultNX,
		NY:        DefaultNY,
		IterMax:   DefaultIterMax,
		NCCheck:   DefaultNCCheck,
		Tolerance: DefaultTolerance,
	}
}

// Validate checks the configuration. It touches no device, so a rejected
// configuration never allocates anything.
func (c Config) Validate() error {
	if c.NCCheck != 1 {
		return fmt.Errorf("%w (got %d)", ErrUnsupportedCheckInterval, c.NCCheck)
	}
	if err := device.CheckGrid(c.NX, c.NY); err != nil {
		return err
	}
	if c.IterMax < 0 {
		return fmt.Errorf("%w: negative iteration cap %d", ErrInvalidConfig, c.IterMax)
	}
	if c.Tolerance < 0 || math.IsNaN(c.Tolerance) {
		return fmt.Errorf("%w: tolerance %v", ErrInvalidConfig, c.Tolerance)
	}
	if c.WaitTimeout < 0 {
		return fmt.Errorf("%w: negative wait timeout %v", ErrInvalidConfig, c.WaitTimeout)
	}
	return nil
}

// withDefaults fills in zero-valued tuning fields.
func (c Config) withDefaults() Config {
	if c.StreamDepth <= 0 {
		c.StreamDepth = stream.DefaultDepth
	}
	return c
}

// deviceOptions returns the options passed to device factories.
func (c Config) deviceOptions() device.Options {
	return device.Options{Workers: c.Workers, Timeout: c.WaitTimeout}
}

// interior returns the rows the stencil updates.
func (c Config) interior() (iyStart, iyEnd int) {
	return 1, c.NY - 1
}
