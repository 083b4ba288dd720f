// Command server runs one of the four server architectures (epoll/kqueue
// event loop, io_uring placeholder, thread pool, or vanilla) against the
// fixed-width request/response protocol, until interrupted or, when
// -timeout is non-zero, for that wall-clock duration.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/mjyoussef/server-benchmarks/engine"
	"github.com/mjyoussef/server-benchmarks/iouring"
	"github.com/mjyoussef/server-benchmarks/threadpool"
	"github.com/mjyoussef/server-benchmarks/vanilla"
)

func main() {
	var (
		kind     = flag.String("kind", "epoll", "server architecture: epoll, io_uring, threads, vanilla")
		ip       = flag.String("ip", "127.0.0.1", "address to listen on")
		port     = flag.Int("port", 9000, "port to listen on")
		timeout  = flag.Duration("timeout", 0, "wall-clock run duration; 0 runs until interrupted")
		workers  = flag.Int("workers", 1, "(epoll only) number of worker goroutines")
		capacity = flag.Int("capacity", 1024, "(epoll only) per-worker connection capacity")
		poolSize = flag.Int("threads", 8, "(threads only) thread-pool size")
		verbose  = flag.Bool("verbose", false, "enable debug-level logging")
	)
	flag.Parse()

	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Str("kind", *kind).
		Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if *timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	if err := run(ctx, logger, *kind, *ip, *port, *workers, *capacity, *poolSize); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, logger zerolog.Logger, kind, ip string, port, workers, capacity, poolSize int) error {
	addr := fmt.Sprintf("%s:%d", ip, port)

	var backend engine.Backend
	switch kind {
	case "epoll":
		parsed := net.ParseIP(ip).To4()
		if parsed == nil {
			return fmt.Errorf("invalid IPv4 address: %q", ip)
		}
		srv, err := engine.New(
			[4]byte{parsed[0], parsed[1], parsed[2], parsed[3]}, port,
			engine.WithWorkers(workers),
			engine.WithCapacity(capacity),
			engine.WithLogger(logger),
		)
		if err != nil {
			return fmt.Errorf("construct epoll/kqueue server: %w", err)
		}
		backend = srv
	case "io_uring":
		backend = iouring.New()
	case "threads":
		backend = threadpool.Server{Addr: addr, Size: poolSize}
	case "vanilla":
		backend = vanilla.Server{Addr: addr}
	default:
		return fmt.Errorf("unknown kind %q", kind)
	}

	logger.Info().Str("addr", addr).Msg("starting server")
	return backend.Run(ctx)
}
