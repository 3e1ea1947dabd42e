// Package capture reads global input events on a background goroutine and
// hands them to a single consumer through a non-blocking queue.
package capture

import (
	"fmt"
	"time"
)

// Kind is the decoded event category.
type Kind uint8

const (
	KeyDown Kind = iota + 1
	KeyUp
	ButtonDown
	ButtonUp
	Scroll
	Move
)

func (k Kind) String() string {
	switch k {
	case KeyDown:
		return "KeyDown"
	case KeyUp:
		return "KeyUp"
	case ButtonDown:
		return "ButtonDown"
	case ButtonUp:
		return "ButtonUp"
	case Scroll:
		return "Scroll"
	case Move:
		return "Move"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Axis of a scroll pulse.
type Axis uint8

const (
	Vertical Axis = iota
	Horizontal
)

// RawEvent is one decoded input record.
type RawEvent struct {
	Kind Kind
	// Code is the scancode for keys and the X button number for buttons.
	Code int
	// Name is the canonical key name the source observed, if it knows one.
	Name string
	// Delta is +1 (up/right) or -1 (down/left) for scroll pulses.
	Delta int
	Axis  Axis
	X, Y  int
	Time  time.Time
}

func (e RawEvent) String() string {
	switch e.Kind {
	case Move:
		return fmt.Sprintf("Move(%d,%d)", e.X, e.Y)
	case Scroll:
		return fmt.Sprintf("Scroll(axis=%d delta=%d)", e.Axis, e.Delta)
	default:
		return fmt.Sprintf("%s(code=%d name=%s)", e.Kind, e.Code, e.Name)
	}
}

// ButtonEvent builds the event for an X button number. Buttons 4-7 are
// wheel clicks and turn into scroll pulses on press; their release is
// dropped.
func ButtonEvent(button int, pressed bool, ts time.Time) (RawEvent, bool) {
	switch button {
	case 4, 5, 6, 7:
		if !pressed {
			return RawEvent{}, false
		}
		ev := RawEvent{Kind: Scroll, Code: button, Time: ts}
		switch button {
		case 4:
			ev.Delta = 1
		case 5:
			ev.Delta = -1
		case 6:
			ev.Axis, ev.Delta = Horizontal, -1
		case 7:
			ev.Axis, ev.Delta = Horizontal, 1
		}
		return ev, true
	}
	kind := ButtonUp
	if pressed {
		kind = ButtonDown
	}
	return RawEvent{Kind: kind, Code: button, Time: ts}, true
}

// KeyEvent builds a key event.
func KeyEvent(scancode int, name string, pressed bool, ts time.Time) RawEvent {
	kind := KeyUp
	if pressed {
		kind = KeyDown
	}
	return RawEvent{Kind: kind, Code: scancode, Name: name, Time: ts}
}
