// Package profiling starts and stops the Go profilers behind the CLI's
// profiling flags.
package profiling

import (
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"

	"github.com/felixge/fgprof"
	"go.uber.org/multierr"
)

// Options names the output file for each profiler. An empty path leaves that
// profiler off.
type Options struct {
	CPUProfile string
	MemProfile string
	Trace      string
	// FullProfile is a wall-clock profile that includes off-CPU time.
	FullProfile string
}

// Start starts the requested profilers. The returned stop function flushes
// and closes all of them and must be called before the process exits.
func Start(opts Options) (stop func() error, err error) {
	var (
		cpuFile    *os.File
		traceFile  *os.File
		fullFile   *os.File
		fgprofStop func() error
	)

	if opts.CPUProfile != "" {
		cpuFile, err = os.Create(opts.CPUProfile)
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(cpuFile); err != nil {
			return nil, err
		}
	}

	if opts.FullProfile != "" {
		fullFile, err = os.Create(opts.FullProfile)
		if err != nil {
			return nil, err
		}
		fgprofStop = fgprof.Start(fullFile, fgprof.FormatPprof)
	}

	if opts.Trace != "" {
		traceFile, err = os.Create(opts.Trace)
		if err != nil {
			return nil, err
		}
		if err := trace.Start(traceFile); err != nil {
			return nil, err
		}
	}

	return func() (err error) {
		if opts.MemProfile != "" {
			f, ferr := os.Create(opts.MemProfile)
			if ferr != nil {
				err = multierr.Append(err, ferr)
			} else {
				runtime.GC() // up-to-date allocation statistics
				err = multierr.Append(err, pprof.WriteHeapProfile(f))
				err = multierr.Append(err, f.Close())
			}
		}
		if cpuFile != nil {
			pprof.StopCPUProfile()
			err = multierr.Append(err, cpuFile.Close())
		}
		if fullFile != nil {
			err = multierr.Append(err, fgprofStop())
			err = multierr.Append(err, fullFile.Close())
		}
		if traceFile != nil {
			trace.Stop()
			err = multierr.Append(err, traceFile.Close())
		}
		return err
	}, nil
}
