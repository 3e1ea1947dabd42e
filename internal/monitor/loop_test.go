package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dooshek/keymon/internal/capture"
	"github.com/dooshek/keymon/internal/indicator"
	"github.com/dooshek/keymon/internal/keymap"
)

type countingRenderer struct {
	mu       sync.Mutex
	displays []string
	clears   []string
	moves    int
}

func (r *countingRenderer) Display(slot, symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.displays = append(r.displays, slot+"="+symbol)
}

func (r *countingRenderer) Clear(slot string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears = append(r.clears, slot)
}

func (r *countingRenderer) MovePointer(x, y int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.moves++
}

type observerFunc func(capture.RawEvent)

func (f observerFunc) Observe(ev capture.RawEvent) { f(ev) }

func table() *keymap.Table {
	t := keymap.NewTable()
	t.Set(keymap.Entry{Scancode: 30, Name: "KEY_A", Medium: "A"})
	t.Set(keymap.Entry{Scancode: 48, Name: "KEY_B", Medium: "B"})
	return t
}

func setup(t *testing.T) (*Loop, *capture.Queue, *countingRenderer) {
	t.Helper()
	q := capture.NewQueue(64)
	r := &countingRenderer{}
	cfg := indicator.Config{Mouse: true, FollowMouse: true, KeyTimeout: 50 * time.Millisecond}
	m := indicator.New(cfg, table(), r)
	return New(q, m, time.Millisecond), q, r
}

func TestPollHandlesEventsAndTicks(t *testing.T) {
	l, q, r := setup(t)
	now := time.Now()

	q.TryPush(capture.KeyEvent(30, "", true, now))
	q.TryPush(capture.KeyEvent(30, "", false, now))
	l.Poll(now)
	assert.Equal(t, []string{"KEY0=KEY_A"}, r.displays)
	assert.Equal(t, uint64(2), l.Counters().Keys)

	// no new events: the idle tick still clears after the timeout
	l.Poll(time.Now().Add(time.Second))
	assert.Equal(t, []string{"KEY0"}, r.clears)
	assert.Equal(t, uint64(2), l.Polls())
}

func TestPollMotionBurstSingleMove(t *testing.T) {
	l, q, r := setup(t)
	now := time.Now()

	for i := 0; i < 50; i++ {
		q.TryPush(capture.RawEvent{Kind: capture.Move, X: i, Y: i})
		if i == 10 {
			ev, _ := capture.ButtonEvent(1, true, now)
			q.TryPush(ev)
		}
	}
	l.Poll(now)
	assert.Equal(t, 1, r.moves)
	assert.Equal(t, []string{"MOUSE=BTN_LEFT"}, r.displays)
}

func TestObserversSeeEvents(t *testing.T) {
	q := capture.NewQueue(8)
	var seen []capture.Kind
	m := indicator.New(indicator.Config{}, table(), &countingRenderer{})
	l := New(q, m, time.Millisecond, WithObserver(observerFunc(func(ev capture.RawEvent) {
		seen = append(seen, ev.Kind)
	})))

	q.TryPush(capture.KeyEvent(30, "", true, time.Now()))
	q.TryPush(capture.RawEvent{Kind: capture.Move})
	l.Poll(time.Now())
	assert.Equal(t, []capture.Kind{capture.KeyDown, capture.Move}, seen)
}

func TestInjectThroughRunningLoop(t *testing.T) {
	l, _, r := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Run(ctx)
	}()

	require.NoError(t, l.Inject(ctx, "KEY_B", true))
	err := l.Inject(ctx, "KEY_MISSING", true)
	assert.ErrorIs(t, err, indicator.ErrUnknownKey)

	var snap []indicator.SlotState
	require.NoError(t, l.Do(ctx, func(m *indicator.Machine) error {
		snap = m.Snapshot()
		return nil
	}))
	cancel()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Contains(t, r.displays, "KEY0=KEY_B")
	assert.Equal(t, "KEY_B", snap[len(snap)-1].Symbol)
}

func TestSetResolverAppliedOnNextPoll(t *testing.T) {
	l, q, r := setup(t)
	other := keymap.NewTable()
	other.Set(keymap.Entry{Scancode: 30, Name: "KEY_Z", Medium: "Z"})

	l.SetResolver(table())
	l.SetResolver(other) // replaces the pending one
	q.TryPush(capture.KeyEvent(30, "", true, time.Now()))
	l.Poll(time.Now())
	assert.Equal(t, []string{"KEY0=KEY_Z"}, r.displays)
}

func TestDoBusy(t *testing.T) {
	q := capture.NewQueue(8)
	m := indicator.New(indicator.Config{}, table(), &countingRenderer{})
	l := New(q, m, time.Millisecond, WithQueueDepth(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	go l.Do(ctx, func(*indicator.Machine) error { return nil })
	require.Eventually(t, func() bool { return len(l.requests) == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, l.Do(ctx, func(*indicator.Machine) error { return nil }), ErrBusy)
}
