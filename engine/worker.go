package engine

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/mjyoussef/server-benchmarks/protocol"
	"github.com/mjyoussef/server-benchmarks/workload"
)

// worker owns one poller and one connectionPool. Exactly one goroutine
// ever drives a given worker's run loop; the pool and poller are not
// touched from anywhere else, so no lock is required on the connection
// slab — each slot has exactly one writer.
type worker struct {
	id      int
	poller  poller
	pool    *connectionPool
	inbox   <-chan int // accepted fds, fed by the acceptor
	events  []pollEvent
	log     zerolog.Logger
	closing *atomic.Bool // shared with Server; set true during shutdown
}

func newWorker(id int, cfg config, inbox <-chan int, closing *atomic.Bool) (*worker, error) {
	p, err := newPoller(cfg.maxEvents)
	if err != nil {
		return nil, err
	}
	return &worker{
		id:      id,
		poller:  p,
		pool:    newConnectionPool(cfg.capacity),
		inbox:   inbox,
		events:  make([]pollEvent, cfg.maxEvents),
		log:     cfg.logger.With().Int("worker", id).Logger(),
		closing: closing,
	}, nil
}

// run is the admission/wait/service cycle. It returns when admission finds
// the inbox closed, or when wait fails (including after the poller has been
// closed). Connections still held in the pool at that point are not
// drained.
func (w *worker) run() {
	for {
		// Admission: guarantee at least one registered interest before we
		// wait, without monopolizing the inbox. An empty pool means no fd
		// is registered with the poller yet, so wait() would block
		// forever with nothing to report; a full pool must never reach
		// acquire(), so this blocking branch is gated on empty(), not
		// full().
		if w.pool.empty() {
			fd, ok := <-w.inbox
			if !ok {
				return
			}
			w.admit(fd)
		}

		for !w.pool.full() {
			select {
			case fd, ok := <-w.inbox:
				if !ok {
					return
				}
				w.admit(fd)
			default:
				goto wait
			}
		}

	wait:
		n, err := w.poller.wait(w.events)
		if err != nil {
			if errors.Is(err, errPollerClosed) || w.closing.Load() {
				return
			}
			w.log.Error().Err(err).Msg("poller wait failed")
			return
		}

		for i := 0; i < n; i++ {
			w.service(w.events[i])
		}
	}
}

// admit registers a freshly accepted fd in a free pool slot for readable
// interest and resets its connection state to Read.
func (w *worker) admit(fd int) {
	idx := w.pool.acquire()
	conn := w.pool.conn(idx)
	conn.reset(fd, stateRead)
	if err := w.poller.add(fd, idx, false); err != nil {
		w.log.Warn().Err(err).Int("fd", fd).Msg("failed to register connection")
		w.drop(idx)
	}
}

// service drives the one connection behind a single readiness event
// through copyUntilBlocked, and performs the read/write state transition
// on completion.
func (w *worker) service(ev pollEvent) {
	conn := w.pool.conn(ev.idx)

	err := conn.copyUntilBlocked()
	switch {
	case err == nil:
		w.advance(ev.idx, conn)
	case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK):
		// Not finished yet; the event will refire when progress is
		// possible. Nothing to do.
	case errors.Is(err, io.EOF), errors.Is(err, errWriteZero):
		w.log.Debug().Int("fd", conn.fd).Msg("connection closed")
		w.drop(ev.idx)
	default:
		w.log.Warn().Err(err).Int("fd", conn.fd).Msg("connection io error")
		w.drop(ev.idx)
	}
}

// advance runs the just-completed half-transaction's follow-up: decode and
// execute a request then flip to Write, or reset to Read after a response
// finished sending.
func (w *worker) advance(idx int, conn *connection) {
	switch conn.state {
	case stateRead:
		req, err := conn.decodeRequest()
		if err != nil {
			w.log.Warn().Err(err).Int("fd", conn.fd).Msg("malformed request")
			w.drop(idx)
			return
		}

		workload.Execute(req.Work)

		conn.encodeResponse(protocol.Response{ClientSendTime: req.SendTime})
		conn.reset(conn.fd, stateWrite)
		if err := w.poller.modify(conn.fd, idx, true); err != nil {
			w.log.Warn().Err(err).Int("fd", conn.fd).Msg("failed to arm write interest")
			w.drop(idx)
		}

	case stateWrite:
		conn.reset(conn.fd, stateRead)
		if err := w.poller.modify(conn.fd, idx, false); err != nil {
			w.log.Warn().Err(err).Int("fd", conn.fd).Msg("failed to arm read interest")
			w.drop(idx)
		}
	}
}

// drop unregisters and closes a connection's fd and returns its slot to
// the free list.
func (w *worker) drop(idx int) {
	conn := w.pool.conn(idx)
	_ = w.poller.remove(conn.fd)
	_ = unix.Close(conn.fd)
	w.pool.release(idx)
}

// occupancy reports (inUse, capacity) for this worker's pool.
func (w *worker) occupancy() (int, int) { return w.pool.occupancy() }
