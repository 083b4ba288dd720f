package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Backend is satisfied by every server architecture this repository can
// select via its `kind` flag (see cmd/server), so a future completion-based
// engine (io_uring) can be dropped in behind the same switch.
type Backend interface {
	Run(ctx context.Context) error
}

// Server is the readiness-notification event-loop server architecture:
// one acceptor goroutine plus N worker goroutines, each running an
// independent poller and ConnectionPool, fed by a shared inbox of accepted
// connections.
type Server struct {
	cfg      config
	ip       [4]byte
	port     int
	listenFd int
}

var _ Backend = (*Server)(nil)

// New creates a Server bound to ip:port. The listening socket is created
// eagerly so New can return bind errors immediately, but accept() is not
// called until Run.
func New(ip [4]byte, port int, opts ...Option) (*Server, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("engine: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("engine: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: ip}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("engine: bind: %w", err)
	}
	if err := unix.Listen(fd, 1024); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("engine: listen: %w", err)
	}

	return &Server{cfg: cfg, ip: ip, port: port, listenFd: fd}, nil
}

// Run starts the acceptor and all workers, and blocks until ctx is
// cancelled or a fatal accept error occurs. Cancelling ctx closes the
// listening socket and the shared inbox, which drains every worker's
// admission wait cleanly; connections already in flight are not drained —
// there is no graceful connection drain beyond end-of-stream detection.
func (s *Server) Run(ctx context.Context) error {
	inbox := make(chan int, s.cfg.inboxSize)
	var closing atomic.Bool

	workers := make([]*worker, s.cfg.workers)
	for i := range workers {
		w, err := newWorker(i, s.cfg, inbox, &closing)
		if err != nil {
			return fmt.Errorf("engine: starting worker %d: %w", i, err)
		}
		workers[i] = w
	}

	var wg sync.WaitGroup
	wg.Add(len(workers))
	for _, w := range workers {
		w := w
		go func() {
			defer wg.Done()
			w.run()
		}()
	}

	acceptDone := make(chan error, 1)
	go func() {
		acceptDone <- s.acceptLoop(inbox, &closing)
	}()

	s.cfg.logger.Info().Int("port", s.port).Int("workers", s.cfg.workers).Msg("server listening")

	var runErr error
	select {
	case <-ctx.Done():
		closing.Store(true)
		// close() alone does not wake a goroutine blocked in accept() on
		// Linux; shutdown() does.
		_ = unix.Shutdown(s.listenFd, unix.SHUT_RDWR)
		_ = unix.Close(s.listenFd)
		<-acceptDone
	case err := <-acceptDone:
		runErr = err
		closing.Store(true)
	}

	close(inbox)
	for _, w := range workers {
		_ = w.poller.close()
	}
	wg.Wait()

	return runErr
}

// acceptLoop blocks in accept() on the (blocking-mode) listening socket,
// pushing each accepted fd — set non-blocking with TCP_NODELAY — into
// inbox until the listening socket is closed.
func (s *Server) acceptLoop(inbox chan<- int, closing *atomic.Bool) error {
	for {
		connFd, _, err := unix.Accept(s.listenFd)
		if err != nil {
			if closing.Load() {
				return nil
			}
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("engine: accept: %w", err)
		}

		if err := unix.SetNonblock(connFd, true); err != nil {
			s.cfg.logger.Warn().Err(err).Msg("failed to set non-blocking")
			_ = unix.Close(connFd)
			continue
		}
		if err := unix.SetsockoptInt(connFd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			s.cfg.logger.Warn().Err(err).Msg("failed to set TCP_NODELAY")
			_ = unix.Close(connFd)
			continue
		}

		// Bounded inbox backpressure: this blocks until a worker has room,
		// rather than growing memory without bound.
		inbox <- connFd
	}
}
