package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNowNanosIncreasesAcrossSleep(t *testing.T) {
	a := NowNanos()
	time.Sleep(time.Millisecond)
	b := NowNanos()
	require.Greater(t, b, a)
}
