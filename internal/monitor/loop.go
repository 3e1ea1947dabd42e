// Package monitor runs the poll loop that owns the indicator machine.
package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/dooshek/keymon/internal/capture"
	"github.com/dooshek/keymon/internal/indicator"
	"github.com/dooshek/keymon/internal/logger"
)

// ErrBusy is returned when the loop's request queue is full.
var ErrBusy = errors.New("monitor loop is busy")

// EventSource is drained once per poll.
type EventSource interface {
	Drain(dst []capture.RawEvent) []capture.RawEvent
}

// Observer sees every captured event before the machine handles it.
type Observer interface {
	Observe(ev capture.RawEvent)
}

type request struct {
	fn   func(*indicator.Machine) error
	done chan error
}

// Option configures a Loop.
type Option func(*Loop)

// WithObserver adds an observer, e.g. the session journal.
func WithObserver(o Observer) Option {
	return func(l *Loop) {
		l.observers = append(l.observers, o)
	}
}

// WithQueueDepth sets how many pending requests the loop accepts.
func WithQueueDepth(n int) Option {
	return func(l *Loop) {
		l.requests = make(chan request, n)
	}
}

// Loop polls the event source at a fixed interval, feeds the machine and
// ticks it. Other goroutines reach the machine only through Do, Inject and
// SetResolver, which hand work to the loop.
type Loop struct {
	src       EventSource
	machine   *indicator.Machine
	interval  time.Duration
	observers []Observer

	requests  chan request
	resolvers chan indicator.Resolver
	buf       []capture.RawEvent
	counters  atomic.Pointer[indicator.Counters]
	polls     atomic.Uint64
}

func New(src EventSource, machine *indicator.Machine, interval time.Duration, opts ...Option) *Loop {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	l := &Loop{
		src:       src,
		machine:   machine,
		interval:  interval,
		requests:  make(chan request, 64),
		resolvers: make(chan indicator.Resolver, 1),
		buf:       make([]capture.RawEvent, 0, 64),
	}
	for _, opt := range opts {
		opt(l)
	}
	c := machine.Stats()
	l.counters.Store(&c)
	return l
}

// Run polls until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	logger.Debugf("Poll loop running every %v", l.interval)

	for {
		select {
		case <-ctx.Done():
			l.failPending(ctx.Err())
			return nil
		case now := <-ticker.C:
			l.Poll(now)
		}
	}
}

// Poll runs one iteration: events, queued requests, then the idle tick.
func (l *Loop) Poll(now time.Time) {
	l.polls.Add(1)

	select {
	case r := <-l.resolvers:
		l.machine.SetResolver(r)
		logger.Info("Keymap reloaded")
	default:
	}

	l.buf = l.src.Drain(l.buf[:0])
	for _, ev := range l.buf {
		for _, o := range l.observers {
			o.Observe(ev)
		}
		l.machine.Handle(ev)
	}

requests:
	for {
		select {
		case req := <-l.requests:
			req.done <- req.fn(l.machine)
		default:
			break requests
		}
	}

	l.machine.Tick(now)
	c := l.machine.Stats()
	l.counters.Store(&c)
}

// Do runs fn on the loop goroutine during the next poll and waits for it.
func (l *Loop) Do(ctx context.Context, fn func(*indicator.Machine) error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case l.requests <- req:
	default:
		return ErrBusy
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Inject feeds a synthetic press or release through the machine.
func (l *Loop) Inject(ctx context.Context, name string, pressed bool) error {
	return l.Do(ctx, func(m *indicator.Machine) error {
		return m.Inject(name, pressed)
	})
}

// SetResolver queues a new keymap; it replaces any not yet applied.
func (l *Loop) SetResolver(r indicator.Resolver) {
	for {
		select {
		case l.resolvers <- r:
			return
		default:
		}
		select {
		case <-l.resolvers:
		default:
		}
	}
}

// Counters returns the machine counters as of the last poll.
func (l *Loop) Counters() indicator.Counters {
	return *l.counters.Load()
}

// Polls returns how many polls ran.
func (l *Loop) Polls() uint64 {
	return l.polls.Load()
}

func (l *Loop) failPending(err error) {
	for {
		select {
		case req := <-l.requests:
			req.done <- err
		default:
			return
		}
	}
}

// Snapshot returns the slot states as seen by the loop goroutine.
func (l *Loop) Snapshot(ctx context.Context) ([]indicator.SlotState, error) {
	var out []indicator.SlotState
	err := l.Do(ctx, func(m *indicator.Machine) error {
		out = m.Snapshot()
		return nil
	})
	return out, err
}
