//go:build darwin

package engine

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// kqueuePoller implements poller using kqueue: one kqueue fd, a
// preallocated Kevent_t buffer, golang.org/x/sys/unix throughout. Rather
// than dispatching by fd, this stashes the connection-pool slot index in
// Udata so dispatch never needs an fd->slot lookup.
type kqueuePoller struct {
	kq       int
	eventBuf []unix.Kevent_t
	closed   atomic.Bool
}

func newPoller(maxEvents int) (*kqueuePoller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueuePoller{
		kq:       kq,
		eventBuf: make([]unix.Kevent_t, maxEvents),
	}, nil
}

func udataOf(idx int) *byte {
	return (*byte)(unsafe.Pointer(uintptr(idx)))
}

func (p *kqueuePoller) register(fd int, idx int, writable bool, flags uint16) error {
	filter := int16(unix.EVFILT_READ)
	if writable {
		filter = unix.EVFILT_WRITE
	}
	kev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: filter,
		Flags:  flags,
		Udata:  udataOf(idx),
	}
	_, err := unix.Kevent(p.kq, []unix.Kevent_t{kev}, nil, nil)
	return err
}

func (p *kqueuePoller) add(fd int, idx int, writable bool) error {
	return p.register(fd, idx, writable, unix.EV_ADD|unix.EV_ENABLE)
}

func (p *kqueuePoller) modify(fd int, idx int, writable bool) error {
	// kqueue has no single-call "change filter" op: disable both filters,
	// then enable the one we want, since a given fd may have had either
	// EVFILT_READ or EVFILT_WRITE registered previously.
	_ = p.register(fd, idx, false, unix.EV_DELETE)
	_ = p.register(fd, idx, true, unix.EV_DELETE)
	return p.register(fd, idx, writable, unix.EV_ADD|unix.EV_ENABLE)
}

func (p *kqueuePoller) remove(fd int) error {
	_ = p.register(fd, 0, false, unix.EV_DELETE)
	_ = p.register(fd, 0, true, unix.EV_DELETE)
	return nil
}

func (p *kqueuePoller) wait(events []pollEvent) (int, error) {
	if p.closed.Load() {
		return 0, errPollerClosed
	}

	for {
		n, err := unix.Kevent(p.kq, nil, p.eventBuf, nil)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, err
		}

		count := n
		if count > len(events) {
			count = len(events)
		}
		for i := 0; i < count; i++ {
			raw := p.eventBuf[i]
			idx := int(uintptr(unsafe.Pointer(raw.Udata)))
			var e ioEvents
			switch raw.Filter {
			case unix.EVFILT_READ:
				e |= ioRead
			case unix.EVFILT_WRITE:
				e |= ioWrite
			}
			if raw.Flags&unix.EV_EOF != 0 {
				e |= ioHangup
			}
			events[i] = pollEvent{idx: idx, events: e}
		}
		return count, nil
	}
}

func (p *kqueuePoller) close() error {
	p.closed.Store(true)
	return unix.Close(p.kq)
}
