package loadgen

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mjyoussef/server-benchmarks/clock"
	"github.com/mjyoussef/server-benchmarks/protocol"
)

// ClosedLoop holds NumClients connections open for Runtime, each one a
// strictly synchronous send-wait-receive-pace cycle: at most one request
// outstanding per connection.
type ClosedLoop struct {
	Addr       string
	Runtime    time.Duration
	Delay      time.Duration
	Work       protocol.Work
	NumClients int
}

// Run dials NumClients connections and drives each with its own goroutine
// and its own pacer until Runtime elapses, then returns every latency
// record gathered across all clients. The per-client error group means one
// client's dial or I/O failure aborts the whole run rather than silently
// skewing the results.
func (c ClosedLoop) Run(ctx context.Context) ([]protocol.LatencyRecord, error) {
	results := make([][]protocol.LatencyRecord, c.NumClients)

	g, gctx := errgroup.WithContext(ctx)
	deadline := time.Now().Add(c.Runtime)
	for i := 0; i < c.NumClients; i++ {
		i := i
		g.Go(func() error {
			records, err := c.runClient(gctx, deadline)
			if err != nil {
				return fmt.Errorf("loadgen: closed-loop client %d: %w", i, err)
			}
			results[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []protocol.LatencyRecord
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

func (c ClosedLoop) runClient(ctx context.Context, deadline time.Time) ([]protocol.LatencyRecord, error) {
	conn, err := net.Dial("tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	p := newPacer(c.Delay)
	var records []protocol.LatencyRecord
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return records, nil
		}

		cycleStart := time.Now()

		req := protocol.Request{SendTime: clock.NowNanos(), Work: c.Work}
		if err := protocol.EncodeRequest(conn, req); err != nil {
			return nil, fmt.Errorf("send: %w", err)
		}
		resp, err := protocol.DecodeResponse(conn)
		if err != nil {
			return nil, fmt.Errorf("receive: %w", err)
		}
		rec, err := resp.ToLatencyRecord(clock.NowNanos())
		if err != nil {
			return nil, fmt.Errorf("latency: %w", err)
		}
		records = append(records, rec)

		p.wait(cycleStart)
	}
	return records, nil
}
