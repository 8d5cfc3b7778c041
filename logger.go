package jacobi

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/jacobi/device"
	"github.com/gogpu/jacobi/internal/stream"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for jacobi and its command streams.
// By default, jacobi produces no log output. Pass nil to restore the
// default silent behavior.
//
// Devices opened after the call receive the logger when a Solver opens
// them.
//
// Log levels used by jacobi:
//   - [slog.LevelDebug]: per-iteration pipeline state, buffer allocation
//   - [slog.LevelInfo]: device selection, run start and finish
//   - [slog.LevelWarn]: non-fatal issues (GPU unavailable, falling back)
//   - [slog.LevelError]: failed device operations
//
// Example:
//
//	jacobi.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	stream.SetLogger(l)
}

// Logger returns the current logger used by jacobi.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// loggerSetter is implemented by devices that accept a logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger passes the logger to a device if it implements
// loggerSetter.
func propagateLogger(d device.Device, l *slog.Logger) {
	if ls, ok := d.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}
