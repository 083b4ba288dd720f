// Package stats computes the percentile-latency and throughput summary a
// benchmark run emits, and renders it in the two-line text format the
// client binary prints to standard output. The core (loadgen) is agnostic
// to this format; cmd/client is the only caller.
package stats

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/mjyoussef/server-benchmarks/protocol"
)

// Summary is the percentile latency and throughput profile of one
// benchmark run.
type Summary struct {
	P50, P95, P99 time.Duration
	OfferedRPS    int64
	AchievedRPS   int64
}

// Summarize computes a Summary from the collected latency records, the
// count of requests the load generator attempted to send, and the
// configured runtime. requestsSent may exceed len(records) in open-loop
// runs, since a request still in flight when the run ends is charged as
// offered load without ever producing a recorded response.
//
// An empty records slice yields a zero-valued percentile set; throughput is
// still computed from requestsSent and len(records).
func Summarize(records []protocol.LatencyRecord, requestsSent int, runtime time.Duration) Summary {
	micros := make([]int64, len(records))
	for i, r := range records {
		micros[i] = int64(r.RecvTime-r.SendTime) / int64(time.Microsecond)
	}
	sort.Slice(micros, func(i, j int) bool { return micros[i] < micros[j] })

	seconds := runtime.Seconds()
	var offered, achieved int64
	if seconds > 0 {
		offered = int64(float64(requestsSent) / seconds)
		achieved = int64(float64(len(records)) / seconds)
	}

	return Summary{
		P50:         percentile(micros, 0.50),
		P95:         percentile(micros, 0.95),
		P99:         percentile(micros, 0.99),
		OfferedRPS:  offered,
		AchievedRPS: achieved,
	}
}

// percentile returns the p-th percentile (0 <= p <= 1) of a sorted slice of
// microsecond samples, as a time.Duration. Empty input yields zero.
func percentile(sortedMicros []int64, p float64) time.Duration {
	if len(sortedMicros) == 0 {
		return 0
	}
	idx := int(p * float64(len(sortedMicros)-1))
	return time.Duration(sortedMicros[idx]) * time.Microsecond
}

// WriteTo renders the summary as two comma-separated lines: "p50, p95,
// p99" (microseconds, float) then "offered, achieved" (integer requests
// per second).
func (s Summary) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w, "%.3f, %.3f, %.3f\n%d, %d\n",
		float64(s.P50)/float64(time.Microsecond),
		float64(s.P95)/float64(time.Microsecond),
		float64(s.P99)/float64(time.Microsecond),
		s.OfferedRPS, s.AchievedRPS,
	)
	return int64(n), err
}
