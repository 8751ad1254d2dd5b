package stream

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannel_OverwritesOldest(t *testing.T) {
	rc := NewRingChannel[int](3)
	for i := 0; i < 10; i++ {
		require.True(t, rc.Send(i))
	}
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{7, 8, 9}, got, "MUST keep only the newest values")
	assert.Equal(t, Metrics{Written: 10, Overwritten: 7}, rc.GetMetrics())
}

func TestRingChannel_TrySend(t *testing.T) {
	rc := NewRingChannel[string](1)
	assert.True(t, rc.TrySend("a"))
	assert.False(t, rc.TrySend("b"), "TrySend MUST NOT drop buffered values")
	assert.Equal(t, 1, rc.Len())
	assert.Equal(t, 1, rc.Cap())
}

func TestRingChannel_SendAfterClose(t *testing.T) {
	rc := NewRingChannel[int](2)
	rc.Close()
	rc.Close()
	assert.False(t, rc.Send(1), "Send after Close MUST be ignored, not panic")
	assert.False(t, rc.TrySend(1))
}

func TestRingChannel_ConcurrentProducers(t *testing.T) {
	rc := NewRingChannel[int](8)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rc.Send(i)
			}
		}()
	}
	wg.Wait()

	m := rc.GetMetrics()
	assert.EqualValues(t, 400, m.Written)
	assert.EqualValues(t, 400-rc.Len(), m.Overwritten)
}

func TestNewRingChannel_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { NewRingChannel[int](0) })
}
