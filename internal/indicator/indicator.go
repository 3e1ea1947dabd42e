// Package indicator decides what every on-screen indicator shows. A
// Machine consumes capture events, resolves them to key names and drives a
// fixed set of slots through idle, active and fading states.
package indicator

import (
	"errors"
	"strconv"
	"time"

	"github.com/dooshek/keymon/internal/keymap"
	"github.com/dooshek/keymon/internal/types"
)

// Slot ids.
const (
	SlotMouse = "MOUSE"
	SlotShift = "SHIFT"
	SlotCtrl  = "CTRL"
	SlotAlt   = "ALT"
	SlotMeta  = "META"
)

// Idle placeholders.
const (
	MouseEmpty = "MOUSE"
	ShiftEmpty = "SHIFT_EMPTY"
	CtrlEmpty  = "CTRL_EMPTY"
	AltEmpty   = "ALT_EMPTY"
	MetaEmpty  = "META_EMPTY"
	KeyEmpty   = "KEY_EMPTY"
)

// Symbols synthesized by the machine.
const (
	SymShift = "SHIFT"
	SymCtrl  = "CTRL"
	SymAlt   = "ALT"
	SymAltGr = "ALTGR"
	SymMeta  = "META"

	SymScrollUp   = "SCROLL_UP"
	SymScrollDown = "SCROLL_DOWN"
	SymRelLeft    = "REL_LEFT"
	SymRelRight   = "REL_RIGHT"
)

// ErrUnknownKey is returned by Inject for names the resolver does not know.
var ErrUnknownKey = errors.New("unknown key name")

// HistorySlot returns the id of the i-th history slot.
func HistorySlot(i int) string {
	return "KEY" + strconv.Itoa(i)
}

// Resolver maps hardware codes to table entries.
type Resolver interface {
	Resolve(code int, observed string) (keymap.Entry, bool)
	ScancodeFor(name string) (int, bool)
}

// Renderer shows symbols. Display is called whenever a slot is activated
// and Clear when it returns to idle.
type Renderer interface {
	Display(slot, symbol string)
	Clear(slot string)
	MovePointer(x, y int)
}

// Images is told about every symbol before it is first displayed.
type Images interface {
	EnsureRenderable(symbol string, t Template)
}

// Config holds the policy values the machine needs.
type Config struct {
	Mouse, Shift, Ctrl, Alt, Meta bool
	// OldKeys is the number of history slots after the head.
	OldKeys int

	OnlyCombo     bool
	Sticky        bool
	EmulateMiddle bool
	SwapButtons   bool
	FollowMouse   bool

	KeyTimeout   time.Duration
	MouseTimeout time.Duration
	Scale        float64
}

// ConfigFrom builds a Config from the application config with defaults.
func ConfigFrom(c *types.Config) Config {
	ind := c.GetIndicatorsConfig()
	b := c.GetBehaviorConfig()
	return Config{
		Mouse:         ind.Mouse,
		Shift:         ind.Shift,
		Ctrl:          ind.Ctrl,
		Alt:           ind.Alt,
		Meta:          ind.Meta,
		OldKeys:       ind.OldKeys,
		OnlyCombo:     b.OnlyCombo,
		Sticky:        b.Sticky,
		EmulateMiddle: b.EmulateMiddle,
		SwapButtons:   b.SwapButtons,
		FollowMouse:   b.FollowMouse,
		KeyTimeout:    b.KeyFade(),
		MouseTimeout:  b.MouseFade(),
		Scale:         b.Scale,
	}
}

func (c Config) withDefaults() Config {
	if c.KeyTimeout <= 0 {
		c.KeyTimeout = 500 * time.Millisecond
	}
	if c.MouseTimeout <= 0 {
		c.MouseTimeout = 200 * time.Millisecond
	}
	if c.Scale <= 0 {
		c.Scale = 1.0
	}
	if c.OldKeys < 0 {
		c.OldKeys = 0
	}
	return c
}

// SlotState is a read-only view of one slot.
type SlotState struct {
	ID       string
	Symbol   string
	Pressed  bool
	Idle     bool
	Deadline time.Time // zero when no fade is armed
}

// Counters are running totals kept by the machine.
type Counters struct {
	Events     uint64
	Keys       uint64
	Buttons    uint64
	Scrolls    uint64
	Moves      uint64
	Unresolved uint64
	Suppressed uint64
	Injected   uint64
	Displays   uint64
	Clears     uint64
}

// SlotIDs returns the ids New creates for cfg, in layout order.
func SlotIDs(cfg Config) []string {
	cfg = cfg.withDefaults()
	var ids []string
	for _, s := range []struct {
		on bool
		id string
	}{
		{cfg.Mouse, SlotMouse},
		{cfg.Shift, SlotShift},
		{cfg.Ctrl, SlotCtrl},
		{cfg.Alt, SlotAlt},
		{cfg.Meta, SlotMeta},
	} {
		if s.on {
			ids = append(ids, s.id)
		}
	}
	for i := 0; i <= cfg.OldKeys; i++ {
		ids = append(ids, HistorySlot(i))
	}
	return ids
}
