package engine

import (
	"errors"
	"io"

	"golang.org/x/sys/unix"

	"github.com/mjyoussef/server-benchmarks/protocol"
)

// connState is the half-transaction a Connection is currently in.
type connState uint8

const (
	stateRead connState = iota
	stateWrite
)

// scratchSize is the size of a Connection's reusable buffer: large enough
// to hold either a full Request or a full Response.
const scratchSize = protocol.RequestSize

// errWriteZero signals a write() that returned 0 with no error, which
// (like a read returning 0) means the peer is gone.
var errWriteZero = errors.New("engine: write returned 0")

// connection is one slot's worth of state in a Worker's ConnectionPool: a
// socket, a reusable scratch buffer sized for the larger of Request and
// Response (a connection strictly alternates request and response — never
// reading and writing at once), a cursor into that buffer, and the
// half-transaction direction.
//
// A connection is allocated once, in a fixed-size slab, at worker startup
// (see pool.go), and reused across successive client connections without
// reallocating its buffer.
type connection struct {
	fd    int
	buf   [scratchSize]byte
	idx   int
	state connState
}

// reset prepares the connection for a new half-transaction, truncating the
// logical buffer to the size the new state expects and rewinding the
// cursor to zero.
func (c *connection) reset(fd int, state connState) {
	c.fd = fd
	c.idx = 0
	c.state = state
}

// size returns how many bytes of c.buf matter for the current state.
func (c *connection) size() int {
	if c.state == stateRead {
		return protocol.RequestSize
	}
	return protocol.ResponseSize
}

// copyUntilBlocked performs one non-blocking recv or send loop, advancing
// idx by each successful read/write, until the buffer for the current
// state is full (returns nil), the underlying fd would block (returns
// unix.EAGAIN/EWOULDBLOCK), or the peer is gone (io.EOF / errWriteZero).
// Any other error is returned verbatim.
func (c *connection) copyUntilBlocked() error {
	size := c.size()

	for c.idx < size {
		var n int
		var err error
		if c.state == stateRead {
			n, err = unix.Read(c.fd, c.buf[c.idx:size])
		} else {
			n, err = unix.Write(c.fd, c.buf[c.idx:size])
		}

		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		if n == 0 {
			if c.state == stateRead {
				return io.EOF
			}
			return errWriteZero
		}

		c.idx += n
	}

	return nil
}

// decodeRequest decodes the Request that copyUntilBlocked just finished
// reading into c.buf.
func (c *connection) decodeRequest() (protocol.Request, error) {
	return protocol.GetRequest(c.buf[:protocol.RequestSize])
}

// encodeResponse writes resp into c.buf ahead of the write half-transaction
// copyUntilBlocked is about to perform.
func (c *connection) encodeResponse(resp protocol.Response) {
	protocol.PutResponse(c.buf[:protocol.ResponseSize], resp)
}
