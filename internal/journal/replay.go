package journal

import (
	"context"
	"sync"
	"time"

	"github.com/dooshek/keymon/internal/capture"
	"github.com/dooshek/keymon/internal/logger"
)

// maxGap caps the pause between two replayed events.
const maxGap = 2 * time.Second

// ReplaySource plays a recorded session back as a capture source. Gaps
// between events are divided by Speed; a Speed of zero replays without
// pauses.
type ReplaySource struct {
	journal *Journal
	session int64
	Speed   float64

	events []capture.RawEvent
	once   sync.Once
	done   chan struct{}
}

func NewReplaySource(j *Journal, session int64, speed float64) *ReplaySource {
	return &ReplaySource{journal: j, session: session, Speed: speed, done: make(chan struct{})}
}

func (r *ReplaySource) Open(ctx context.Context) error {
	events, err := r.journal.Events(r.session)
	if err != nil {
		return err
	}
	r.events = events
	logger.Infof("Replaying session %d (%d events)", r.session, len(events))
	return nil
}

// Read emits the recorded events once, then blocks until ctx is done.
func (r *ReplaySource) Read(ctx context.Context, emit func(capture.RawEvent)) error {
	var prev time.Time
	for _, ev := range r.events {
		if gap := r.gap(prev, ev.Time); gap > 0 {
			timer := time.NewTimer(gap)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
		if !ev.Time.IsZero() {
			prev = ev.Time
		}
		ev.Time = time.Now()
		emit(ev)
	}
	r.events = nil
	r.once.Do(func() { close(r.done) })

	<-ctx.Done()
	return nil
}

func (r *ReplaySource) gap(prev, next time.Time) time.Duration {
	if r.Speed <= 0 || prev.IsZero() || next.IsZero() {
		return 0
	}
	d := time.Duration(float64(next.Sub(prev)) / r.Speed)
	if d > maxGap {
		d = maxGap
	}
	return d
}

// Done is closed once every recorded event has been emitted.
func (r *ReplaySource) Done() <-chan struct{} {
	return r.done
}

func (r *ReplaySource) Close() error {
	return nil
}
