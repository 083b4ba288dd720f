package workload

import (
	"testing"
	"time"

	"github.com/mjyoussef/server-benchmarks/protocol"
	"github.com/stretchr/testify/require"
)

func TestExecuteConstantReturnsImmediately(t *testing.T) {
	start := time.Now()
	Execute(protocol.Work{Tag: protocol.WorkConstant})
	require.Less(t, time.Since(start), 10*time.Millisecond)
}

func TestExecuteBusyTerminates(t *testing.T) {
	Execute(protocol.Work{Tag: protocol.WorkBusy, Payload: 1_000_000})
}

func TestExecuteSleepBlocksApproximately(t *testing.T) {
	start := time.Now()
	Execute(protocol.Work{Tag: protocol.WorkSleep, Payload: 20_000})
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
