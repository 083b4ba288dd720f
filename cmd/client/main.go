// Command client drives one of the three load-generation engines (closed
// loop, open loop, partial-open loop) against a running server and writes
// a latency/throughput summary.
//
// Usage:
//
//	client closed -addr 127.0.0.1:9000 -runtime 10s -delay 1ms -num-clients 16 -work constant
//	client open -addr 127.0.0.1:9000 -runtime 10s -delay 200us -work busy -payload 5000
//	client partial -addr 127.0.0.1:9000 -runtime 10s -delay 100us -max-threads 32 -num-requests 4 -work sleep -payload 1000
//
// Each loop kind is its own flag.FlagSet, since the three engines take
// different parameters (num-clients only makes sense for the closed loop,
// max-threads only for the partial-open loop): a "subcommand plus its own
// FlagSet" idiom rather than one flat flag namespace.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mjyoussef/server-benchmarks/loadgen"
	"github.com/mjyoussef/server-benchmarks/protocol"
	"github.com/mjyoussef/server-benchmarks/stats"
)

type workFlags struct {
	work    string
	payload uint64
}

func (w workFlags) toWork() (protocol.Work, error) {
	switch w.work {
	case "constant":
		return protocol.Work{Tag: protocol.WorkConstant}, nil
	case "busy":
		return protocol.Work{Tag: protocol.WorkBusy, Payload: w.payload}, nil
	case "sleep":
		return protocol.Work{Tag: protocol.WorkSleep, Payload: w.payload}, nil
	default:
		return protocol.Work{}, fmt.Errorf("unknown work kind %q", w.work)
	}
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: client <closed|open|partial> [flags]")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var (
		records []protocol.LatencyRecord
		sent    int
		runtime time.Duration
		err     error
	)

	switch os.Args[1] {
	case "closed":
		records, sent, runtime, err = runClosed(ctx, os.Args[2:])
	case "open":
		records, sent, runtime, err = runOpen(ctx, os.Args[2:])
	case "partial":
		records, sent, runtime, err = runPartial(ctx, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "client:", err)
		os.Exit(1)
	}

	summary := stats.Summarize(records, sent, runtime)
	if _, err := summary.WriteTo(os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "client: writing summary:", err)
		os.Exit(1)
	}
}

func registerWorkFlags(fs *flag.FlagSet) *workFlags {
	w := &workFlags{}
	fs.StringVar(&w.work, "work", "constant", "workload kind: constant, busy, sleep")
	fs.Uint64Var(&w.payload, "payload", 0, "work payload (busy: loop iterations, sleep: microseconds)")
	return w
}

func runClosed(ctx context.Context, args []string) ([]protocol.LatencyRecord, int, time.Duration, error) {
	fs := flag.NewFlagSet("closed", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:9000", "server address")
	runtime := fs.Duration("runtime", 10*time.Second, "run duration")
	delay := fs.Duration("delay", 0, "target per-client inter-request delay")
	numClients := fs.Int("num-clients", 1, "number of concurrent closed-loop clients")
	w := registerWorkFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, 0, 0, err
	}
	work, err := w.toWork()
	if err != nil {
		return nil, 0, 0, err
	}

	cl := loadgen.ClosedLoop{
		Addr:       *addr,
		Runtime:    *runtime,
		Delay:      *delay,
		Work:       work,
		NumClients: *numClients,
	}
	records, err := cl.Run(ctx)
	return records, len(records), *runtime, err
}

func runOpen(ctx context.Context, args []string) ([]protocol.LatencyRecord, int, time.Duration, error) {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:9000", "server address")
	runtime := fs.Duration("runtime", 10*time.Second, "run duration")
	delay := fs.Duration("delay", time.Millisecond, "target inter-arrival delay")
	w := registerWorkFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, 0, 0, err
	}
	work, err := w.toWork()
	if err != nil {
		return nil, 0, 0, err
	}

	ol := loadgen.OpenLoop{
		Addr:    *addr,
		Runtime: *runtime,
		Delay:   *delay,
		Work:    work,
	}
	records, sent, err := ol.Run(ctx)
	return records, sent, *runtime, err
}

func runPartial(ctx context.Context, args []string) ([]protocol.LatencyRecord, int, time.Duration, error) {
	fs := flag.NewFlagSet("partial", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:9000", "server address")
	runtime := fs.Duration("runtime", 10*time.Second, "run duration")
	delay := fs.Duration("delay", time.Millisecond, "target session-arrival delay")
	maxThreads := fs.Int("max-threads", 32, "maximum number of persistent sessions")
	numRequests := fs.Int("num-requests", 1, "requests per session before it goes idle again")
	w := registerWorkFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, 0, 0, err
	}
	work, err := w.toWork()
	if err != nil {
		return nil, 0, 0, err
	}

	pol := loadgen.PartialOpenLoop{
		Addr:        *addr,
		Runtime:     *runtime,
		Delay:       *delay,
		Work:        work,
		MaxThreads:  *maxThreads,
		NumRequests: *numRequests,
	}
	records, sent, err := pol.Run(ctx)
	return records, sent, *runtime, err
}
