package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dooshek/keymon/internal/logger"
)

var (
	// ErrExtensionMissing means the X server does not offer RECORD.
	ErrExtensionMissing = errors.New("X RECORD extension not available")
	// ErrNoDevices means no readable input device was found.
	ErrNoDevices = errors.New("no input devices found")

	errAlreadyStarted = errors.New("capture service already started")
)

// Source is a blocking producer of raw input events.
type Source interface {
	// Open establishes the subscription. Errors are fatal at startup.
	Open(ctx context.Context) error
	// Read blocks, calling emit for every decoded event, until ctx is done
	// (returns nil) or the stream fails.
	Read(ctx context.Context, emit func(RawEvent)) error
	// Close releases the subscription and unblocks Read. It must be safe to
	// call more than once and concurrently with Read.
	Close() error
}

// StartupError is returned by Start when the source cannot be opened.
type StartupError struct {
	Err  error
	Hint string
}

func (e *StartupError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("failed to start input capture: %v", e.Err)
	}
	return fmt.Sprintf("failed to start input capture: %v\n%s", e.Err, e.Hint)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

const permissionHint = "Cannot access input devices.\n" +
	"Solution: \n" +
	"1. Add yourself to the input group: sudo usermod -aG input $USER \n" +
	"2. Log out and log back in (or restart your system) \n" +
	"3. Run the program again \n" +
	"Alternatively, you can run the program with sudo (not recommended)."

func remediation(err error) string {
	switch {
	case errors.Is(err, os.ErrPermission):
		return permissionHint
	case errors.Is(err, ErrExtensionMissing):
		return "Enable the RECORD extension in your X server (Section \"Module\": Load \"record\") " +
			"or run with --backend=evdev."
	case errors.Is(err, ErrNoDevices):
		return "No keyboard found under /dev/input. Check that evdev is available or run with --backend=x11."
	}
	return ""
}

// Option configures a Service.
type Option func(*Service)

// WithQueueSize sets the ring capacity for key, button and scroll events.
func WithQueueSize(n int) Option {
	return func(s *Service) {
		s.queue = NewQueue(n)
	}
}

// WithBackoff sets how long the producer waits when the ring is full.
func WithBackoff(d time.Duration) Option {
	return func(s *Service) {
		s.backoff = d
	}
}

// WithRetryDelay sets the pause before a failed source is reopened.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Service) {
		s.retryDelay = d
	}
}

// Service runs a Source on its own goroutine and exposes the events through
// a non-blocking Queue.
type Service struct {
	src        Source
	queue      *Queue
	backoff    time.Duration
	retryDelay time.Duration

	started  atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	// srcMu serializes reopen with Stop so a source opened after Stop is
	// never left running.
	srcMu   sync.Mutex
	stopped bool

	stalls   atomic.Uint64
	restarts atomic.Uint64
}

func NewService(src Source, opts ...Option) *Service {
	s := &Service{
		src:        src,
		queue:      NewQueue(DefaultQueueSize),
		backoff:    time.Millisecond,
		retryDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the source and begins reading in the background.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errAlreadyStarted
	}
	if err := s.src.Open(ctx); err != nil {
		s.started.Store(false)
		return &StartupError{Err: err, Hint: remediation(err)}
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
	logger.Debug("Input capture started")
	return nil
}

// Stop cancels the read loop, closes the source and waits for the capture
// goroutine to exit. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		s.srcMu.Lock()
		s.stopped = true
		if err := s.src.Close(); err != nil {
			logger.Debugf("Closing capture source: %v", err)
		}
		s.srcMu.Unlock()
		<-s.done
		logger.Debug("Input capture stopped")
	})
}

// Next pops one event. It never blocks.
func (s *Service) Next() (RawEvent, bool) {
	return s.queue.Next()
}

// Drain appends all pending events to dst.
func (s *Service) Drain(dst []RawEvent) []RawEvent {
	return s.queue.Drain(dst)
}

// Stats reports queue counters.
func (s *Service) Stats() (coalesced, stalls, restarts uint64) {
	return s.queue.Coalesced(), s.stalls.Load(), s.restarts.Load()
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)
	emit := s.emitter(ctx)

	for {
		err := s.readOnce(ctx, emit)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("source stopped unexpectedly")
		}
		logger.Error("Input capture interrupted, reopening source", err)
		if !s.reopen(ctx) {
			return
		}
		s.restarts.Add(1)
	}
}

func (s *Service) readOnce(ctx context.Context, emit func(RawEvent)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capture panic: %v", r)
		}
	}()
	return s.src.Read(ctx, emit)
}

func (s *Service) reopen(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.retryDelay):
		}
		ok, err := s.reopenOnce(ctx)
		if err != nil {
			logger.Error("Failed to reopen capture source", err)
			continue
		}
		return ok
	}
}

func (s *Service) reopenOnce(ctx context.Context) (bool, error) {
	s.srcMu.Lock()
	defer s.srcMu.Unlock()
	if s.stopped {
		return false, nil
	}
	_ = s.src.Close()
	if err := s.src.Open(ctx); err != nil {
		return false, err
	}
	if ctx.Err() != nil {
		_ = s.src.Close()
		return false, nil
	}
	return true, nil
}

// emitter returns the push callback handed to the source. Events arriving
// after cancellation are discarded.
func (s *Service) emitter(ctx context.Context) func(RawEvent) {
	return func(ev RawEvent) {
		if ctx.Err() != nil {
			return
		}
		if s.queue.TryPush(ev) {
			return
		}
		s.stalls.Add(1)
		for !s.queue.TryPush(ev) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.backoff):
			}
		}
	}
}
