// Command jacobi runs the single-device Jacobi relaxation benchmark.
//
// Usage:
//
//	jacobi [-niter 1000] [-nccheck 1] [-nx 7168] [-ny 7168] [-csv] [-tol 1e-8]
//	       [-device software|wgpu] [-workers N] [-verify]
//	       [-png out.png] [-png-size 512] [-monitor :8080] [-v]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/jacobi"
	_ "github.com/gogpu/jacobi/gpu" // registers the wgpu device
	"github.com/gogpu/jacobi/internal/monitor"
)

// Exit codes.
const (
	exitOK               = 0
	exitFailure          = 1
	exitUsage            = 2
	exitUnsupportedCheck = 255
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type flags struct {
	cfg     jacobi.Config
	csv     bool
	verify  bool
	png     string
	pngSize int
	monitor string
	verbose bool
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	f := flags{cfg: jacobi.DefaultConfig()}
	fs := flag.NewFlagSet("jacobi", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.IntVar(&f.cfg.IterMax, "niter", jacobi.DefaultIterMax, "iteration cap")
	fs.IntVar(&f.cfg.NCCheck, "nccheck", jacobi.DefaultNCCheck, "norm check interval (only 1 is supported)")
	fs.IntVar(&f.cfg.NX, "nx", jacobi.DefaultNX, "grid width")
	fs.IntVar(&f.cfg.NY, "ny", jacobi.DefaultNY, "grid height")
	fs.BoolVar(&f.csv, "csv", false, "machine-readable output")
	fs.Float64Var(&f.cfg.Tolerance, "tol", jacobi.DefaultTolerance, "convergence tolerance")
	fs.StringVar(&f.cfg.Device, "device", "", "device to run on (software, wgpu); empty picks the best available")
	fs.IntVar(&f.cfg.Workers, "workers", 0, "software device goroutines (0 = GOMAXPROCS)")
	fs.BoolVar(&f.verify, "verify", false, "compare the result against a host reference solve")
	fs.StringVar(&f.png, "png", "", "write a heat-map snapshot of the final grid to this file")
	fs.IntVar(&f.pngSize, "png-size", jacobi.DefaultSnapshotSize, "snapshot edge length in pixels")
	fs.StringVar(&f.monitor, "monitor", "", "serve live progress over WebSocket at this address")
	fs.BoolVar(&f.verbose, "v", false, "debug logging to stderr")

	err := fs.Parse(args)
	return f, err
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if f.verbose {
		jacobi.SetLogger(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
		defer jacobi.SetLogger(nil)
	}

	// Rejected before any device is touched.
	if err := f.cfg.Validate(); err != nil {
		if errors.Is(err, jacobi.ErrUnsupportedCheckInterval) {
			fmt.Fprintln(stderr, "Only nccheck = 1 is supported")
			return exitUnsupportedCheck
		}
		fmt.Fprintln(stderr, "jacobi:", err)
		return exitUsage
	}

	var reporter jacobi.Reporter
	if f.csv {
		reporter = jacobi.NewCSVReporter(stdout)
	} else {
		reporter = jacobi.NewTextReporter(stdout)
	}

	if f.monitor != "" {
		hub := monitor.NewHub(0)
		defer hub.Close()
		srv, err := monitor.Listen(f.monitor, hub)
		if err != nil {
			fmt.Fprintln(stderr, "jacobi: monitor:", err)
			return exitFailure
		}
		srvCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := srv.Serve(srvCtx); err != nil {
				jacobi.Logger().Error("monitor: serve failed", "err", err)
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
		if !f.csv {
			fmt.Fprintf(stderr, "monitor: ws://%s/ws\n", srv.Addr())
		}
		reporter = jacobi.MultiReporter(reporter, hub)
	}

	s, err := jacobi.New(f.cfg, jacobi.WithReporter(reporter))
	if err != nil {
		fmt.Fprintln(stderr, "jacobi:", err)
		return exitFailure
	}
	defer s.Close()

	res, err := s.Run(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "jacobi:", err)
		return exitFailure
	}

	if f.png != "" {
		if err := writeSnapshot(s, f.png, f.pngSize); err != nil {
			fmt.Fprintln(stderr, "jacobi:", err)
			return exitFailure
		}
	}

	if f.verify {
		v, err := s.Verify(res)
		if err != nil {
			fmt.Fprintln(stderr, "jacobi:", err)
			return exitFailure
		}
		if !f.csv {
			cfg := s.Config()
			p := message.NewPrinter(language.English)
			p.Fprintf(stdout, "verify: max |diff| %.3e, L2 %.3e over %d cells (tolerance %.0e)\n",
				v.MaxAbsDiff, v.L2Diff, cfg.NX*cfg.NY, v.Tolerance)
		}
	}
	return exitOK
}

func writeSnapshot(s *jacobi.Solver, path string, size int) (err error) {
	grid, err := s.Grid()
	if err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	cfg := s.Config()
	return jacobi.WriteSnapshot(out, grid, cfg.NX, cfg.NY, size)
}
