package reconcile

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottleLeadingAndSingleTrailing(t *testing.T) {
	var runs atomic.Int32
	th := NewThrottle(func() { runs.Add(1) }, 50*time.Millisecond)

	th.Trigger()
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 10; i++ {
		th.Trigger()
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())

	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(2), runs.Load())
}

func TestThrottleNeverOverlaps(t *testing.T) {
	var active, maxActive, runs atomic.Int32
	release := make(chan struct{})
	th := NewThrottle(func() {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		if runs.Add(1) == 1 {
			<-release
		}
		active.Add(-1)
	}, 0)

	th.Trigger()
	require.Eventually(t, func() bool { return active.Load() == 1 }, time.Second, time.Millisecond)
	th.Trigger()
	th.Trigger()
	th.Flush()
	close(release)

	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)
	th.Wait()
	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, int32(2), runs.Load())
}

func TestThrottleCancel(t *testing.T) {
	var runs atomic.Int32
	th := NewThrottle(func() { runs.Add(1) }, 40*time.Millisecond)

	th.Trigger()
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	th.Wait()
	th.Trigger()
	th.Cancel()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestThrottleFlushSkipsCooldown(t *testing.T) {
	var runs atomic.Int32
	th := NewThrottle(func() { runs.Add(1) }, time.Hour)

	th.Trigger()
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	th.Wait()
	th.Trigger()
	th.Flush()
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)
}
