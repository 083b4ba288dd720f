package loadgen

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mjyoussef/server-benchmarks/clock"
	"github.com/mjyoussef/server-benchmarks/protocol"
)

// PartialOpenLoop paces session arrivals like OpenLoop, but each arrival is
// a token handed to a small, lazily-grown pool of persistent sessions
// rather than a fresh connection: at most MaxThreads goroutines ever dial,
// and each one, once admitted, holds its connection open across NumRequests
// back-to-back request/response pairs before going idle and waiting for
// its next token. This models a server-side connection pool or keep-alive
// client population rather than a flood of one-shot connections.
//
// ready tracks how many live sessions are currently idle (blocked waiting
// for a token rather than mid-session). The driver only spawns a new
// session when ready reports zero — meaning every existing session, if
// any, is currently busy — and the pool has not yet reached MaxThreads.
// Regardless of whether a new session was spawned, the driver always hands
// out a token: an idle session (or the one just spawned) will pick it up.
type PartialOpenLoop struct {
	Addr        string
	Runtime     time.Duration
	Delay       time.Duration
	Work        protocol.Work
	MaxThreads  int
	NumRequests int
}

// Run drives arrivals for Runtime and returns every latency record
// gathered from completed requests, along with the total number of
// requests sent. Sessions finish every token they take, including tokens
// still queued at the deadline, so sent exceeds len(records) only when a
// round trip fails after its request was written.
func (p PartialOpenLoop) Run(ctx context.Context) ([]protocol.LatencyRecord, int, error) {
	tokens := make(chan struct{}, p.MaxThreads)
	var ready atomic.Int64
	var sent atomic.Uint64
	var wg sync.WaitGroup
	results := make(chan []protocol.LatencyRecord, p.MaxThreads)
	errs := make(chan error, p.MaxThreads)

	pc := newPacer(p.Delay)
	deadline := time.Now().Add(p.Runtime)
	spawned := 0

	for time.Now().Before(deadline) {
		cycleStart := time.Now()

		if ready.Load() == 0 && spawned < p.MaxThreads {
			spawned++
			wg.Add(1)
			go p.session(ctx, tokens, &ready, &sent, results, errs, &wg)
		}

		select {
		case tokens <- struct{}{}:
		case <-ctx.Done():
			close(tokens)
			records, err := p.collect(&wg, results, errs)
			return records, int(sent.Load()), err
		}

		pc.wait(cycleStart)
	}

	close(tokens)
	records, err := p.collect(&wg, results, errs)
	return records, int(sent.Load()), err
}

// collect waits for every spawned session to drain tokens and exit, then
// flattens their per-session records and surfaces the first error seen.
func (p PartialOpenLoop) collect(wg *sync.WaitGroup, results chan []protocol.LatencyRecord, errs chan error) ([]protocol.LatencyRecord, error) {
	wg.Wait()
	close(results)
	close(errs)

	var records []protocol.LatencyRecord
	for recs := range results {
		records = append(records, recs...)
	}

	var firstErr error
	for err := range errs {
		if firstErr == nil {
			firstErr = fmt.Errorf("loadgen: partial-open-loop session: %w", err)
		}
	}

	return records, firstErr
}

// session is one persistent-connection worker: it dials once, then for
// each token received performs NumRequests back-to-back request/response
// round trips before reporting itself ready for the next token. It exits
// once tokens is closed and drained.
func (p PartialOpenLoop) session(ctx context.Context, tokens <-chan struct{}, ready *atomic.Int64, sent *atomic.Uint64, results chan<- []protocol.LatencyRecord, errs chan<- error, wg *sync.WaitGroup) {
	defer wg.Done()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		errs <- fmt.Errorf("dial: %w", err)
		return
	}
	defer conn.Close()
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	// Waiting for the first token counts as idle.
	ready.Add(1)

	var records []protocol.LatencyRecord
	for range tokens {
		ready.Add(-1)
		for i := 0; i < p.NumRequests; i++ {
			rec, err := p.roundTrip(conn, sent)
			if err != nil {
				errs <- err
				results <- records
				return
			}
			records = append(records, rec)
		}
		ready.Add(1)
	}

	results <- records
}

func (p PartialOpenLoop) roundTrip(conn net.Conn, sent *atomic.Uint64) (protocol.LatencyRecord, error) {
	req := protocol.Request{SendTime: clock.NowNanos(), Work: p.Work}
	if err := protocol.EncodeRequest(conn, req); err != nil {
		return protocol.LatencyRecord{}, fmt.Errorf("send: %w", err)
	}
	sent.Add(1)

	resp, err := protocol.DecodeResponse(conn)
	if err != nil {
		return protocol.LatencyRecord{}, fmt.Errorf("receive: %w", err)
	}
	return resp.ToLatencyRecord(clock.NowNanos())
}
