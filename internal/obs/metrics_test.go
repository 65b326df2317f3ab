package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPoolGaugeTracksLeases(t *testing.T) {
	before := testutil.ToFloat64(poolInUse)

	PoolAcquired(5 * time.Millisecond)
	PoolAcquired(time.Millisecond)
	if got := testutil.ToFloat64(poolInUse); got != before+2 {
		t.Fatalf("in-use gauge = %v, want %v", got, before+2)
	}

	PoolReleased()
	PoolReleased()
	if got := testutil.ToFloat64(poolInUse); got != before {
		t.Fatalf("in-use gauge = %v, want %v", got, before)
	}
}

func TestPoolExhaustedCounts(t *testing.T) {
	before := testutil.ToFloat64(poolExhaustedTotal)
	PoolExhausted(200 * time.Millisecond)
	if got := testutil.ToFloat64(poolExhaustedTotal); got != before+1 {
		t.Fatalf("exhausted counter = %v, want %v", got, before+1)
	}
}
