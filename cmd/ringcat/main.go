// ringcat reads files through an io_uring and writes them to stdout.
// It exists to exercise the library end to end: open, fixed buffers,
// linked timeouts, and both blocking adapters.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	uring "github.com/ringway/go-uring"
	"github.com/ringway/go-uring/internal/logging"
)

func main() {
	// A .env next to the binary can preseed defaults; flags win.
	_ = godotenv.Load()

	var (
		entries = flag.Uint("entries", envUint("RINGCAT_ENTRIES", 64), "submission queue depth")
		workers = flag.Int("workers", envInt("RINGCAT_WORKERS", 1), "concurrent read operations (1 = synchronous adapter)")
		fixed   = flag.Bool("fixed", false, "use registered fixed buffers")
		timeout = flag.Duration("timeout", 0, "per-read timeout (0 = none)")
		stats   = flag.Bool("stats", false, "print queue metrics to stderr on exit")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: ringcat [flags] FILE...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := uring.DefaultConfig()
	cfg.Entries = uint32(*entries)
	if *fixed {
		cfg.FixedBuffers = uint32(*workers)
		if cfg.FixedBuffers == 0 {
			cfg.FixedBuffers = 1
		}
	}

	ring, err := uring.Open(cfg)
	if err != nil {
		logger.Error("failed to open ring", "error", err)
		os.Exit(1)
	}

	var exit int
	if *workers > 1 {
		exit = catConcurrent(ring, flag.Args(), *workers, *timeout, logger, *stats)
	} else {
		exit = catSequential(ring, flag.Args(), *fixed, *timeout, logger, *stats)
	}
	os.Exit(exit)
}

// catSequential streams each file through the single-threaded adapter,
// one chunk at a time.
func catSequential(ring *uring.Ring, paths []string, fixed bool, timeout time.Duration, logger *logging.Logger, stats bool) int {
	q := uring.NewSyncQueue(ring)
	defer func() {
		if err := q.Close(); err != nil {
			logger.Error("close failed", "error", err)
		}
		if stats {
			printStats(q.Metrics().Snapshot())
		}
	}()

	buf := make([]byte, 64*1024)
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			logger.Error("open failed", "path", path, "error", err)
			return 1
		}
		var off uint64
		for {
			var d *uring.Descriptor
			var fb *uring.FixedBuffer
			if fixed {
				var ok bool
				fb, ok = ring.GetRegisteredBuffer()
				if !ok {
					logger.Error("no fixed buffer available")
					f.Close()
					return 1
				}
				d = uring.ReadFixed(int32(f.Fd()), fb, uint32(len(fb.B)), off)
			} else {
				d = uring.Read(int32(f.Fd()), buf, off)
			}

			var c uring.Completion
			if timeout > 0 {
				c, err = q.SubmitAndWaitTimeout(d, timeout)
			} else {
				c, err = q.SubmitAndWait(d)
			}
			if err != nil {
				logger.Error("read failed", "path", path, "offset", off, "error", err)
				if fb != nil {
					ring.ReturnRegisteredBuffer(fb)
				}
				f.Close()
				return 1
			}
			if c.Res == 0 {
				if fb != nil {
					ring.ReturnRegisteredBuffer(fb)
				}
				break
			}
			if fb != nil {
				os.Stdout.Write(fb.B[:c.Res])
				ring.ReturnRegisteredBuffer(fb)
			} else {
				os.Stdout.Write(buf[:c.Res])
			}
			off += uint64(c.Res)
		}
		f.Close()
	}
	return 0
}

// catConcurrent fans file chunks out over the multi-threaded adapter.
// Chunks complete out of order and are reassembled before writing.
func catConcurrent(ring *uring.Ring, paths []string, workers int, timeout time.Duration, logger *logging.Logger, stats bool) int {
	q := uring.NewWorkQueue(ring, &uring.WorkQueueConfig{Logger: logger})
	defer func() {
		if err := q.Close(); err != nil {
			logger.Error("close failed", "error", err)
		}
		if stats {
			printStats(q.Metrics().Snapshot())
		}
	}()

	const chunk = 64 * 1024
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			logger.Error("open failed", "path", path, "error", err)
			return 1
		}
		info, err := f.Stat()
		if err != nil {
			logger.Error("stat failed", "path", path, "error", err)
			f.Close()
			return 1
		}
		size := info.Size()
		n := int((size + chunk - 1) / chunk)
		bufs := make([][]byte, n)

		sem := make(chan struct{}, workers)
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			sem <- struct{}{}
			go func(i int) {
				defer func() { <-sem }()
				off := uint64(i) * chunk
				want := chunk
				if rem := size - int64(off); rem < chunk {
					want = int(rem)
				}
				b := make([]byte, want)
				d := uring.Read(int32(f.Fd()), b, off)
				var c uring.Completion
				var err error
				if timeout > 0 {
					c, err = q.SubmitAndWaitTimeout(d, timeout)
				} else {
					c, err = q.SubmitAndWait(d)
				}
				if err != nil {
					errs <- err
					return
				}
				bufs[i] = b[:c.Res]
				errs <- nil
			}(i)
		}
		var failed bool
		for i := 0; i < n; i++ {
			if err := <-errs; err != nil {
				logger.Error("read failed", "path", path, "error", err)
				failed = true
			}
		}
		f.Close()
		if failed {
			return 1
		}
		for _, b := range bufs {
			os.Stdout.Write(b)
		}
	}
	return 0
}

func printStats(s uring.Snapshot) {
	fmt.Fprintf(os.Stderr, "submissions: %d\n", s.Submissions)
	fmt.Fprintf(os.Stderr, "completions: %d\n", s.Completions)
	fmt.Fprintf(os.Stderr, "enter calls: %d\n", s.EnterCalls)
	fmt.Fprintf(os.Stderr, "timeouts:    %d\n", s.Timeouts)
	fmt.Fprintf(os.Stderr, "queue full:  %d\n", s.QueueFull)
	fmt.Fprintf(os.Stderr, "avg latency: %s\n", time.Duration(s.AvgLatencyNs))
}

func envUint(key string, def uint) uint {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint(n)
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
