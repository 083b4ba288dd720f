package loadgen

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mjyoussef/server-benchmarks/clock"
	"github.com/mjyoussef/server-benchmarks/protocol"
)

// OpenLoop drives a single connection with two goroutines: a sender that
// paces itself to Delay regardless of outstanding responses, and a
// receiver that reads whatever comes back. Unlike ClosedLoop, many
// requests can be in flight at once — this models an external arrival
// process rather than a request-response round trip per client.
type OpenLoop struct {
	Addr    string
	Runtime time.Duration
	Delay   time.Duration
	Work    protocol.Work
}

// openLoopDone is a two-party handshake: the sender sets the flag once its
// deadline has passed and then sends exactly one further request, so a
// receiver blocked on a read always gets one more response; the receiver
// returns as soon as it sees the flag set after a response. sent counts
// every request written, including that last one.
type openLoopDone struct {
	flag atomic.Bool
	sent atomic.Uint64
}

// Run dials Addr, drives it for Runtime, and returns every latency record
// along with the total number of requests sent (offered load, which
// exceeds len(records) by the responses still in flight when the receiver
// stopped).
func (o OpenLoop) Run(ctx context.Context) ([]protocol.LatencyRecord, int, error) {
	conn, err := net.Dial("tcp", o.Addr)
	if err != nil {
		return nil, 0, fmt.Errorf("loadgen: open-loop dial: %w", err)
	}
	defer conn.Close()
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()
	defer close(stop)

	var handshake openLoopDone
	var records []protocol.LatencyRecord

	// errgroup.Group.Go spawns synchronously, so the receiver is launched
	// first: starting the sender first would let its goroutine-spawn cost
	// bleed into the first few send timestamps before the receiver is
	// even listening.
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		recs, err := o.receiveLoop(conn, &handshake)
		records = recs
		return err
	})
	g.Go(func() error {
		return o.sendLoop(conn, &handshake)
	})

	if err := g.Wait(); err != nil {
		return records, int(handshake.sent.Load()), fmt.Errorf("loadgen: open-loop: %w", err)
	}
	return records, int(handshake.sent.Load()), nil
}

func (o OpenLoop) sendLoop(conn net.Conn, h *openLoopDone) error {
	p := newPacer(o.Delay)
	deadline := time.Now().Add(o.Runtime)

	for {
		cycleStart := time.Now()

		if !time.Now().Before(deadline) {
			h.flag.Store(true)
		}

		req := protocol.Request{SendTime: clock.NowNanos(), Work: o.Work}
		if err := protocol.EncodeRequest(conn, req); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		h.sent.Add(1)

		if h.flag.Load() {
			return nil
		}

		p.wait(cycleStart)
	}
}

func (o OpenLoop) receiveLoop(conn net.Conn, h *openLoopDone) ([]protocol.LatencyRecord, error) {
	var records []protocol.LatencyRecord

	for {
		resp, err := protocol.DecodeResponse(conn)
		if err != nil {
			if h.flag.Load() {
				return records, nil
			}
			return records, fmt.Errorf("receive: %w", err)
		}

		rec, err := resp.ToLatencyRecord(clock.NowNanos())
		if err != nil {
			return records, fmt.Errorf("latency: %w", err)
		}
		records = append(records, rec)

		if h.flag.Load() {
			return records, nil
		}
	}
}
