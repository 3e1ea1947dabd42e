package capture

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/MarinX/keylogger"

	"github.com/dooshek/keymon/internal/logger"
)

// Linux input event codes (linux/input-event-codes.h).
const (
	evdevKeyMax  = 0x100
	evdevRelHWhl = 0x06
	evdevRelWhl  = 0x08
)

// evdevButtons maps BTN_* codes to X button numbers.
var evdevButtons = map[uint16]int{
	0x110: 1, // BTN_LEFT
	0x111: 3, // BTN_RIGHT
	0x112: 2, // BTN_MIDDLE
	0x113: 8, // BTN_SIDE
	0x114: 9, // BTN_EXTRA
}

var mouseGlobs = []string{
	"/dev/input/by-path/*-event-mouse",
	"/dev/input/by-id/*-event-mouse",
}

// EvdevSource reads keyboards and mice straight from /dev/input. It works
// under Wayland but needs read access to the device nodes. Pointer motion
// is not reported since evdev only knows relative deltas.
type EvdevSource struct {
	findKeyboards func() []string
	findMice      func() []string

	mu      sync.Mutex
	devices []*keylogger.KeyLogger
}

func NewEvdevSource() *EvdevSource {
	return &EvdevSource{
		findKeyboards: keylogger.FindAllKeyboardDevices,
		findMice:      findMouseDevices,
	}
}

func findMouseDevices() []string {
	var out []string
	seen := map[string]bool{}
	for _, pattern := range mouseGlobs {
		matches, _ := filepath.Glob(pattern)
		for _, m := range matches {
			real, err := filepath.EvalSymlinks(m)
			if err != nil {
				real = m
			}
			if !seen[real] {
				seen[real] = true
				out = append(out, real)
			}
		}
	}
	return out
}

func (s *EvdevSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.devices) > 0 {
		return nil
	}

	keyboards := s.findKeyboards()
	if len(keyboards) == 0 {
		return ErrNoDevices
	}

	var firstErr error
	for _, path := range append(keyboards, s.findMice()...) {
		kl, err := keylogger.New(path)
		if err != nil {
			logger.Debugf("Skipping input device %s: %v", path, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		logger.Debugf("Listening on input device %s", path)
		s.devices = append(s.devices, kl)
	}

	if len(s.devices) == 0 {
		if firstErr != nil {
			return fmt.Errorf("error initializing keylogger: %w", firstErr)
		}
		return ErrNoDevices
	}
	logger.Infof("Reading input from %d evdev devices", len(s.devices))
	return nil
}

func (s *EvdevSource) Read(ctx context.Context, emit func(RawEvent)) error {
	s.mu.Lock()
	devices := append([]*keylogger.KeyLogger(nil), s.devices...)
	s.mu.Unlock()
	if len(devices) == 0 {
		return errors.New("evdev source is not open")
	}

	// one forwarder per device keeps emit on this goroutine
	merged := make(chan keylogger.InputEvent, 64)
	var wg sync.WaitGroup
	for _, kl := range devices {
		events := kl.Read()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range events {
				select {
				case merged <- e:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-merged:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("all input devices closed")
			}
			if ev, ok := translateEvdev(e, time.Now()); ok {
				emit(ev)
			}
		}
	}
}

func (s *EvdevSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, kl := range s.devices {
		if err := kl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.devices = nil
	return errors.Join(errs...)
}

// translateEvdev maps one kernel input event. Autorepeat (value 2), sync
// and unknown codes are dropped.
func translateEvdev(e keylogger.InputEvent, ts time.Time) (RawEvent, bool) {
	switch e.Type {
	case keylogger.EvKey:
		if e.Value != 0 && e.Value != 1 {
			return RawEvent{}, false
		}
		pressed := e.Value == 1
		if e.Code < evdevKeyMax {
			return KeyEvent(int(e.Code), "", pressed, ts), true
		}
		if button, ok := evdevButtons[e.Code]; ok {
			return ButtonEvent(button, pressed, ts)
		}
	case keylogger.EvRel:
		if e.Value == 0 {
			return RawEvent{}, false
		}
		delta := 1
		if e.Value < 0 {
			delta = -1
		}
		switch e.Code {
		case evdevRelWhl:
			return RawEvent{Kind: Scroll, Axis: Vertical, Delta: delta, Time: ts}, true
		case evdevRelHWhl:
			return RawEvent{Kind: Scroll, Axis: Horizontal, Delta: delta, Time: ts}, true
		}
	}
	return RawEvent{}, false
}
