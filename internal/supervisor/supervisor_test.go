package supervisor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cluvio/agent/internal/forwarder"
)

func TestBackoffDelayGrowsExponentiallyThenCaps(t *testing.T) {
	cases := []struct {
		failures   int
		wantUncapped time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 32 * time.Second},
		{7, 64 * time.Second}, // exceeds cap, so capped
	}

	for _, c := range cases {
		want := c.wantUncapped
		if want > backoffCap {
			want = backoffCap
		}
		lo := time.Duration(float64(want) * (1 - backoffJitter))
		hi := time.Duration(float64(want) * (1 + backoffJitter))

		for i := 0; i < 20; i++ {
			d := backoffDelay(c.failures)
			assert.GreaterOrEqualf(t, d, lo, "failures=%d delay=%v lo=%v", c.failures, d, lo)
			assert.LessOrEqualf(t, d, hi, "failures=%d delay=%v hi=%v", c.failures, d, hi)
		}
	}
}

func TestBackoffDelayNeverExceedsJitteredCap(t *testing.T) {
	maxAllowed := time.Duration(float64(backoffCap) * (1 + backoffJitter))
	for _, failures := range []int{10, 20, 50, 100} {
		for i := 0; i < 10; i++ {
			d := backoffDelay(failures)
			assert.LessOrEqual(t, d, maxAllowed)
			assert.GreaterOrEqual(t, d, time.Duration(0))
		}
	}
}

func TestBackoffDelayTreatsNonPositiveFailuresAsFirstAttempt(t *testing.T) {
	for _, failures := range []int{0, -1, -100} {
		d := backoffDelay(failures)
		lo := time.Duration(float64(backoffBase) * (1 - backoffJitter))
		hi := time.Duration(float64(backoffBase) * (1 + backoffJitter))
		assert.GreaterOrEqual(t, d, lo)
		assert.LessOrEqual(t, d, hi)
	}
}

func TestTaskSetWaitReturnsOnceTrackedTasksFinish(t *testing.T) {
	peerA, peerB := net.Pipe()
	upA, upB := net.Pipe()

	task := forwarder.New(1, peerB, upB)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTaskSet()
	ts.track(task)
	go task.Run(ctx)

	waitDone := make(chan struct{})
	go func() {
		ts.wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
		t.Fatal("wait returned before the task finished")
	case <-time.After(50 * time.Millisecond):
	}

	peerA.Close()
	upA.Close()

	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return after the task finished")
	}
}

func TestGracefulShutdownDrainsWithinBudget(t *testing.T) {
	peerA, peerB := net.Pipe()
	upA, upB := net.Pipe()
	defer peerA.Close()
	defer upA.Close()

	task := forwarder.New(1, peerB, upB)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ts := newTaskSet()
	ts.track(task)
	go task.Run(ctx)

	go func() {
		time.Sleep(10 * time.Millisecond)
		peerA.Close()
		upA.Close()
	}()

	s := &Supervisor{}
	start := time.Now()
	s.gracefulShutdown(noopGoAway{}, noopConn{}, ts)
	require.Less(t, time.Since(start), drainTimeout)
}

type noopGoAway struct{}

func (noopGoAway) GoAway() error { return nil }

type noopConn struct{ net.Conn }

func (noopConn) Close() error { return nil }
