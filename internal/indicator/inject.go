package indicator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dooshek/keymon/internal/capture"
)

var injectButtons = map[string]int{
	"BTN_LEFT":   1,
	"BTN_MIDDLE": 2,
	"BTN_RIGHT":  3,
}

var injectScrolls = map[string]capture.RawEvent{
	SymScrollUp:   {Kind: capture.Scroll, Axis: capture.Vertical, Delta: 1},
	SymScrollDown: {Kind: capture.Scroll, Axis: capture.Vertical, Delta: -1},
	SymRelLeft:    {Kind: capture.Scroll, Axis: capture.Horizontal, Delta: -1},
	SymRelRight:   {Kind: capture.Scroll, Axis: capture.Horizontal, Delta: 1},
}

// Inject feeds a synthetic event for a canonical name. Key names go through
// the resolver's reverse lookup and are then handled exactly like captured
// events. BTN_* and scroll symbols drive the mouse slot.
func (m *Machine) Inject(name string, pressed bool) error {
	ev, err := m.injectEvent(name, pressed)
	if err != nil {
		return err
	}
	m.counts.Injected++
	m.Handle(ev)
	return nil
}

func (m *Machine) injectEvent(name string, pressed bool) (capture.RawEvent, error) {
	now := m.now()
	if ev, ok := injectScrolls[name]; ok {
		if !pressed {
			return capture.RawEvent{}, fmt.Errorf("%s has no release", name)
		}
		ev.Time = now
		return ev, nil
	}
	if strings.HasPrefix(name, "BTN_") {
		button, ok := injectButtons[name]
		if !ok {
			n, err := strconv.Atoi(strings.TrimPrefix(name, "BTN_"))
			if err != nil {
				return capture.RawEvent{}, fmt.Errorf("%w: %s", ErrUnknownKey, name)
			}
			button = n
		}
		if m.cfg.SwapButtons {
			// undo the swap Handle applies so the named button is shown
			button = swapButton(button)
		}
		ev, ok := capture.ButtonEvent(button, pressed, now)
		if !ok {
			return capture.RawEvent{}, fmt.Errorf("%w: %s", ErrUnknownKey, name)
		}
		return ev, nil
	}

	if m.resolver == nil {
		return capture.RawEvent{}, fmt.Errorf("%w: %s", ErrUnknownKey, name)
	}
	code, ok := m.resolver.ScancodeFor(name)
	if !ok {
		return capture.RawEvent{}, fmt.Errorf("%w: %s", ErrUnknownKey, name)
	}
	return capture.KeyEvent(code, name, pressed, now), nil
}
