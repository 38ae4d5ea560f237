package handoff

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct{ seq int }

// TestSlot_LatestWins verifies overwrite semantics and displaced-value return
//
// Scenario:
//  1. Publish A, B, C without draining
//  2. Publish returns the displaced value each time
//  3. Drain yields only C
func TestSlot_LatestWins(t *testing.T) {
	var s Slot[frame]

	a, b, c := &frame{1}, &frame{2}, &frame{3}

	assert.Nil(t, s.Publish(a))
	assert.Same(t, a, s.Publish(b))
	assert.Same(t, b, s.Publish(c))

	got, ok := s.TryDrain()
	require.True(t, ok)
	assert.Same(t, c, got)

	_, ok = s.TryDrain()
	assert.False(t, ok, "slot should be empty after drain")

	st := s.Stats()
	assert.EqualValues(t, 3, st.Published)
	assert.EqualValues(t, 1, st.Drained)
	assert.EqualValues(t, 2, st.Overwritten)
	assert.EqualValues(t, 0, st.ConsecutiveDrops)
	assert.False(t, st.Pending)
	assert.False(t, st.LastDrainedAt.IsZero())

	t.Log("✅ Slot keeps only the latest value")
}

func TestSlot_EmptyDrain(t *testing.T) {
	var s Slot[frame]
	v, ok := s.TryDrain()
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestSlot_Reset(t *testing.T) {
	var s Slot[frame]
	a := &frame{1}
	s.Publish(a)

	assert.Same(t, a, s.Reset())
	assert.Nil(t, s.Reset())

	_, ok := s.TryDrain()
	assert.False(t, ok)
}

func TestSlot_ConsecutiveDrops(t *testing.T) {
	var s Slot[frame]
	for i := 0; i < 5; i++ {
		s.Publish(&frame{i})
	}
	assert.EqualValues(t, 4, s.Stats().ConsecutiveDrops)
	assert.True(t, s.Stats().Pending)

	s.TryDrain()
	assert.EqualValues(t, 0, s.Stats().ConsecutiveDrops)
}

// TestSlot_ConcurrentProducerConsumer checks monotonic delivery under the race detector
func TestSlot_ConcurrentProducerConsumer(t *testing.T) {
	var s Slot[frame]
	const n = 10000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= n; i++ {
			s.Publish(&frame{i})
		}
	}()

	last := 0
	deadline := time.Now().Add(5 * time.Second)
	for last < n && time.Now().Before(deadline) {
		if v, ok := s.TryDrain(); ok {
			require.Greater(t, v.seq, last, "frames must never go backwards")
			last = v.seq
		}
	}
	wg.Wait()

	if v, ok := s.TryDrain(); ok {
		last = v.seq
	}
	assert.Equal(t, n, last)

	st := s.Stats()
	assert.Equal(t, st.Published, st.Drained+st.Overwritten)
	t.Logf("✅ %d published, %d drained, %d overwritten", st.Published, st.Drained, st.Overwritten)
}
