package jacobi

import "github.com/gogpu/jacobi/device"

// Option configures a Solver during creation.
//
// Example:
//
//	// Best available device, no output
//	s, err := jacobi.New(cfg)
//
//	// Caller-owned device and text progress on stdout
//	s, err := jacobi.New(cfg,
//	    jacobi.WithDevice(dev),
//	    jacobi.WithReporter(jacobi.NewTextReporter(os.Stdout)))
type Option func(*options)

// options holds optional configuration for Solver creation.
type options struct {
	device   device.Device
	reporter Reporter
}

// defaultOptions returns the default solver options.
func defaultOptions() options {
	return options{
		device:   nil, // opened from Config.Device if nil
		reporter: nil, // no reporting if nil
	}
}

// WithDevice runs the solver on a caller-owned device. The solver does not
// close it.
func WithDevice(d device.Device) Option {
	return func(o *options) {
		o.device = d
	}
}

// WithReporter sets the receiver of progress and results. Use
// MultiReporter to fan out to several.
func WithReporter(r Reporter) Option {
	return func(o *options) {
		o.reporter = r
	}
}
