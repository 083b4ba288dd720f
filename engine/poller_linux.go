//go:build linux

package engine

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// epollPoller implements poller using epoll: golang.org/x/sys/unix for
// every syscall, a preallocated event buffer, and an atomic closed flag,
// adapted here to carry a connection-pool slot index as user-data instead
// of dispatching an inline callback per fd.
type epollPoller struct {
	epfd     int
	eventBuf []unix.EpollEvent
	closed   atomic.Bool
}

func newPoller(maxEvents int) (*epollPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		epfd:     epfd,
		eventBuf: make([]unix.EpollEvent, maxEvents),
	}, nil
}

func epollFlags(writable bool) uint32 {
	if writable {
		return unix.EPOLLOUT
	}
	return unix.EPOLLIN
}

func (p *epollPoller) add(fd int, idx int, writable bool) error {
	ev := unix.EpollEvent{Events: epollFlags(writable), Fd: int32(idx)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *epollPoller) modify(fd int, idx int, writable bool) error {
	ev := unix.EpollEvent{Events: epollFlags(writable), Fd: int32(idx)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *epollPoller) remove(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *epollPoller) wait(events []pollEvent) (int, error) {
	if p.closed.Load() {
		return 0, errPollerClosed
	}

	for {
		n, err := unix.EpollWait(p.epfd, p.eventBuf, -1)
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
			var e ioEvents
			if raw.Events&unix.EPOLLIN != 0 {
				e |= ioRead
			}
			if raw.Events&unix.EPOLLOUT != 0 {
				e |= ioWrite
			}
			if raw.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				e |= ioHangup
			}
			events[i] = pollEvent{idx: int(raw.Fd), events: e}
		}
		return count, nil
	}
}

func (p *epollPoller) close() error {
	p.closed.Store(true)
	return unix.Close(p.epfd)
}
