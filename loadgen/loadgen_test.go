package loadgen

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mjyoussef/server-benchmarks/engine"
	"github.com/mjyoussef/server-benchmarks/protocol"
)

func startEchoServer(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	srv, err := engine.New([4]byte{127, 0, 0, 1}, port, engine.WithWorkers(2), engine.WithCapacity(32))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	addr = "127.0.0.1:" + strconv.Itoa(port)
	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err != nil {
			return false
		}
		_ = c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return addr, func() {
		cancel()
		<-done
	}
}

// TestClosedLoopRecordsOrdered checks that a closed-loop run with several
// clients records responses, and that every record's receive time is at or
// after its send time.
func TestClosedLoopRecordsOrdered(t *testing.T) {
	addr, stop := startEchoServer(t)
	defer stop()

	cl := ClosedLoop{
		Addr:       addr,
		Runtime:    100 * time.Millisecond,
		Delay:      0,
		Work:       protocol.Work{Tag: protocol.WorkConstant},
		NumClients: 4,
	}
	records, err := cl.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, records)
	for _, r := range records {
		require.GreaterOrEqual(t, r.RecvTime, r.SendTime)
	}
}

// TestClosedLoopPacingLaw checks spec property 7: with a fixed Delay and
// no server-side congestion, one client's average inter-request interval
// should be close to Delay.
func TestClosedLoopPacingLaw(t *testing.T) {
	addr, stop := startEchoServer(t)
	defer stop()

	delay := 5 * time.Millisecond
	cl := ClosedLoop{
		Addr:       addr,
		Runtime:    200 * time.Millisecond,
		Delay:      delay,
		Work:       protocol.Work{Tag: protocol.WorkConstant},
		NumClients: 1,
	}
	start := time.Now()
	records, err := cl.Run(context.Background())
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.NotEmpty(t, records)

	avgInterval := elapsed / time.Duration(len(records))
	require.InDelta(t, float64(delay), float64(avgInterval), float64(delay))
}

// TestOpenLoopRecordCountNeverExceedsSent is the open-loop analogue of the
// closed-loop count invariant: responses can lag behind or be dropped when
// the run ends mid-flight, but can never outnumber requests sent.
func TestOpenLoopRecordCountNeverExceedsSent(t *testing.T) {
	addr, stop := startEchoServer(t)
	defer stop()

	ol := OpenLoop{
		Addr:    addr,
		Runtime: 100 * time.Millisecond,
		Delay:   time.Millisecond,
		Work:    protocol.Work{Tag: protocol.WorkConstant},
	}
	records, sent, err := ol.Run(context.Background())
	require.NoError(t, err)
	require.LessOrEqual(t, len(records), sent)
	require.Greater(t, sent, 0)
}

// TestOpenLoopDrainsAfterDeadline checks the sender flushes exactly one
// more request after flipping its done flag, and the receiver observes a
// response for it rather than deadlocking.
func TestOpenLoopDrainsAfterDeadline(t *testing.T) {
	addr, stop := startEchoServer(t)
	defer stop()

	ol := OpenLoop{
		Addr:    addr,
		Runtime: 20 * time.Millisecond,
		Delay:   50 * time.Millisecond,
		Work:    protocol.Work{Tag: protocol.WorkConstant},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	records, sent, err := ol.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, sent, len(records))
}

// TestPartialOpenLoopBoundsConcurrency checks that the session pool never
// grows past MaxThreads by using a slow (sleep) workload and confirming the
// observed completion rate is capped accordingly.
func TestPartialOpenLoopBoundsConcurrency(t *testing.T) {
	addr, stop := startEchoServer(t)
	defer stop()

	pol := PartialOpenLoop{
		Addr:        addr,
		Runtime:     150 * time.Millisecond,
		Delay:       time.Millisecond,
		Work:        protocol.Work{Tag: protocol.WorkSleep, Payload: 10_000},
		MaxThreads:  2,
		NumRequests: 1,
	}
	records, sent, err := pol.Run(context.Background())
	require.NoError(t, err)
	require.LessOrEqual(t, len(records), sent)
	// With a 10ms sleep per request and only 2 persistent sessions ever
	// admitted over a 150ms run, at most ~30 requests can possibly
	// complete.
	require.Less(t, len(records), 40)
}

// TestPartialOpenLoopSessionReuse checks that a session performs
// NumRequests back-to-back round trips per token, so the total request
// count is a multiple of NumRequests: sessions finish every token they
// take, even past the deadline.
func TestPartialOpenLoopSessionReuse(t *testing.T) {
	addr, stop := startEchoServer(t)
	defer stop()

	pol := PartialOpenLoop{
		Addr:        addr,
		Runtime:     100 * time.Millisecond,
		Delay:       2 * time.Millisecond,
		Work:        protocol.Work{Tag: protocol.WorkConstant},
		MaxThreads:  4,
		NumRequests: 3,
	}
	records, sent, err := pol.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, sent, len(records))
	require.Greater(t, sent, 0)
	require.Zero(t, sent%pol.NumRequests)
}
