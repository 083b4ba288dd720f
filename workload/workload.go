// Package workload executes a decoded protocol.Work on the server side,
// producing the measurable service time a benchmark run is meant to
// exercise.
package workload

import (
	"time"

	"github.com/mjyoussef/server-benchmarks/protocol"
)

// sink absorbs the Busy loop's accumulator so the compiler cannot prove the
// loop has no observable effect and elide it. It is intentionally
// uninlined and never read; the write is the whole point.
//
//go:noinline
func sink(uint64) {}

// Execute performs the synthetic work described by w, blocking the calling
// goroutine for the duration (if any) that variant implies.
func Execute(w protocol.Work) {
	switch w.Tag {
	case protocol.WorkConstant:
		// no-op
	case protocol.WorkBusy:
		var acc uint64
		for i := uint64(0); i < w.Payload; i++ {
			acc += i
		}
		sink(acc)
	case protocol.WorkSleep:
		time.Sleep(time.Duration(w.Payload) * time.Microsecond)
	}
}
