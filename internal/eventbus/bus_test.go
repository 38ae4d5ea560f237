package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	kind  int // 0 = lossless, 1 and 2 = coalesced keys
	value int
}

func classify(e testEvent) (int, bool) {
	return e.kind, e.kind != 0
}

func receive(t *testing.T, ch <-chan testEvent) testEvent {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return testEvent{}
	}
}

func TestBus_FanOutInOrder(t *testing.T) {
	b := New(classify)
	defer b.Close()

	ch1, err := b.Subscribe("a")
	require.NoError(t, err)
	ch2, err := b.Subscribe("b")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		b.Publish(testEvent{kind: 0, value: i})
	}

	for i := 0; i < 5; i++ {
		assert.Equal(t, i, receive(t, ch1).value)
		assert.Equal(t, i, receive(t, ch2).value)
	}
	assert.EqualValues(t, 5, b.Published())

	t.Log("✅ Lossless events delivered to every subscriber in order")
}

// TestBus_PublishNeverBlocks verifies a reader that never drains does not stall Publish
func TestBus_PublishNeverBlocks(t *testing.T) {
	b := New(classify)
	defer b.Close()

	_, err := b.Subscribe("stuck")
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < MaxQueue*2; i++ {
		b.Publish(testEvent{kind: 0, value: i})
	}
	assert.Less(t, time.Since(start), time.Second)

	// Let the pump fill the channel buffer
	require.Eventually(t, func() bool {
		st, _ := b.Stats("stuck")
		return st.Delivered == chanBuffer
	}, time.Second, 5*time.Millisecond)

	st, err := b.Stats("stuck")
	require.NoError(t, err)
	assert.Positive(t, st.Dropped)
}

func TestBus_CoalescesByKey(t *testing.T) {
	b := New(classify)
	defer b.Close()

	ch, err := b.Subscribe("slow")
	require.NoError(t, err)

	// Fill the channel buffer plus the pump's hand so further events stay queued
	for i := 0; i < chanBuffer+1; i++ {
		b.Publish(testEvent{kind: 0, value: -1})
	}
	require.Eventually(t, func() bool {
		st, _ := b.Stats("slow")
		return st.Delivered == chanBuffer
	}, time.Second, 5*time.Millisecond)

	b.Publish(testEvent{kind: 1, value: 1})
	b.Publish(testEvent{kind: 0, value: 100})
	b.Publish(testEvent{kind: 1, value: 2})
	b.Publish(testEvent{kind: 2, value: 7})
	b.Publish(testEvent{kind: 1, value: 3})

	for i := 0; i < chanBuffer+1; i++ {
		receive(t, ch)
	}

	// Key 1 keeps only its newest value, queued behind everything published before it
	assert.Equal(t, testEvent{kind: 0, value: 100}, receive(t, ch))
	assert.Equal(t, testEvent{kind: 2, value: 7}, receive(t, ch))
	assert.Equal(t, testEvent{kind: 1, value: 3}, receive(t, ch))

	st, err := b.Stats("slow")
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.Coalesced)

	t.Log("✅ Coalesced events replaced and kept in publish order")
}

// TestBus_CoalescedNeverOvertakesLossless verifies a coalesced event published
// after a lossless one is delivered after it
func TestBus_CoalescedNeverOvertakesLossless(t *testing.T) {
	b := New(classify)
	defer b.Close()

	ch, err := b.Subscribe("slow")
	require.NoError(t, err)

	for i := 0; i < chanBuffer+1; i++ {
		b.Publish(testEvent{kind: 0, value: -1})
	}
	require.Eventually(t, func() bool {
		st, _ := b.Stats("slow")
		return st.Delivered == chanBuffer
	}, time.Second, 5*time.Millisecond)

	b.Publish(testEvent{kind: 0, value: 38})
	b.Publish(testEvent{kind: 1, value: 101})
	b.Publish(testEvent{kind: 0, value: 200})
	b.Publish(testEvent{kind: 1, value: 103})

	for i := 0; i < chanBuffer+1; i++ {
		receive(t, ch)
	}

	var got []int
	for i := 0; i < 3; i++ {
		got = append(got, receive(t, ch).value)
	}
	assert.Equal(t, []int{38, 200, 103}, got)

	t.Log("✅ Lossless state changes arrive before later metrics")
}

func TestBus_SubscribeErrors(t *testing.T) {
	b := New[testEvent](nil)

	_, err := b.Subscribe("a")
	require.NoError(t, err)
	_, err = b.Subscribe("a")
	assert.ErrorIs(t, err, ErrSubscriberExists)

	assert.ErrorIs(t, b.Unsubscribe("missing"), ErrSubscriberNotFound)
	_, err = b.Stats("missing")
	assert.ErrorIs(t, err, ErrSubscriberNotFound)

	b.Close()
	b.Close()

	_, err = b.Subscribe("b")
	assert.ErrorIs(t, err, ErrBusClosed)

	// Publish after close is a no-op
	b.Publish(testEvent{})
	assert.EqualValues(t, 0, b.Published())
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := New(classify)
	defer b.Close()

	ch, err := b.Subscribe("a")
	require.NoError(t, err)
	require.NoError(t, b.Unsubscribe("a"))

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Unsubscribe")
	}
}
