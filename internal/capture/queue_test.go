package capture

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingRoundsUpAndFills(t *testing.T) {
	r := NewRing[int](5)
	assert.Equal(t, 8, r.Cap())

	for i := 0; i < 8; i++ {
		require.True(t, r.Push(i))
	}
	assert.False(t, r.Push(8), "full ring rejects push")
	assert.Equal(t, 8, r.Len())

	for i := 0; i < 8; i++ {
		v, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := r.Pop()
	assert.False(t, ok)
}

func TestRingConcurrentOrder(t *testing.T) {
	const n = 100000
	r := NewRing[int](64)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; {
			if r.Push(i) {
				i++
			}
		}
	}()

	for want := 0; want < n; {
		v, ok := r.Pop()
		if !ok {
			continue
		}
		require.Equal(t, want, v)
		want++
	}
	wg.Wait()
}

func TestQueueCoalescesMotion(t *testing.T) {
	q := NewQueue(64)
	now := time.Now()

	for i := 0; i < 50; i++ {
		require.True(t, q.TryPush(RawEvent{Kind: Move, X: i, Y: i, Time: now}))
		if i == 20 {
			require.True(t, q.TryPush(KeyEvent(30, "KEY_A", true, now)))
		}
		if i == 35 {
			ev, _ := ButtonEvent(1, true, now)
			require.True(t, q.TryPush(ev))
		}
	}

	got := q.Drain(nil)
	require.Len(t, got, 3)
	assert.Equal(t, KeyDown, got[0].Kind)
	assert.Equal(t, ButtonDown, got[1].Kind)
	assert.Equal(t, Move, got[2].Kind)
	assert.Equal(t, 49, got[2].X, "latest motion sample wins")
	assert.Equal(t, uint64(49), q.Coalesced())

	assert.Empty(t, q.Drain(nil))
}

func TestQueueNextOrder(t *testing.T) {
	q := NewQueue(4)
	now := time.Now()
	q.TryPush(RawEvent{Kind: Move, X: 1, Time: now})
	q.TryPush(KeyEvent(30, "", true, now))
	q.TryPush(KeyEvent(30, "", false, now))

	ev, ok := q.Next()
	require.True(t, ok)
	assert.Equal(t, KeyDown, ev.Kind)
	ev, _ = q.Next()
	assert.Equal(t, KeyUp, ev.Kind)
	ev, _ = q.Next()
	assert.Equal(t, Move, ev.Kind)
	_, ok = q.Next()
	assert.False(t, ok)
}

func TestQueueFullRejectsKeys(t *testing.T) {
	q := NewQueue(2)
	now := time.Now()
	assert.True(t, q.TryPush(KeyEvent(1, "", true, now)))
	assert.True(t, q.TryPush(KeyEvent(1, "", false, now)))
	assert.False(t, q.TryPush(KeyEvent(2, "", true, now)))
	assert.True(t, q.TryPush(RawEvent{Kind: Move}), "motion never waits for ring space")
}

func TestButtonEvent(t *testing.T) {
	now := time.Now()
	cases := []struct {
		button  int
		pressed bool
		ok      bool
		kind    Kind
		axis    Axis
		delta   int
	}{
		{1, true, true, ButtonDown, Vertical, 0},
		{3, false, true, ButtonUp, Vertical, 0},
		{4, true, true, Scroll, Vertical, 1},
		{5, true, true, Scroll, Vertical, -1},
		{6, true, true, Scroll, Horizontal, -1},
		{7, true, true, Scroll, Horizontal, 1},
		{4, false, false, 0, 0, 0},
		{9, true, true, ButtonDown, Vertical, 0},
	}
	for _, tc := range cases {
		ev, ok := ButtonEvent(tc.button, tc.pressed, now)
		require.Equal(t, tc.ok, ok, "button %d", tc.button)
		if !ok {
			continue
		}
		assert.Equal(t, tc.kind, ev.Kind, "button %d", tc.button)
		assert.Equal(t, tc.axis, ev.Axis, "button %d", tc.button)
		assert.Equal(t, tc.delta, ev.Delta, "button %d", tc.button)
	}
}
