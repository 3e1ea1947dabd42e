package indicator

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dooshek/keymon/internal/capture"
	"github.com/dooshek/keymon/internal/keymap"
)

type recorder struct {
	calls []string
	moves int
}

func (r *recorder) Display(slot, symbol string) {
	r.calls = append(r.calls, "display "+slot+" "+symbol)
}

func (r *recorder) Clear(slot string) {
	r.calls = append(r.calls, "clear "+slot)
}

func (r *recorder) MovePointer(x, y int) {
	r.moves++
	r.calls = append(r.calls, fmt.Sprintf("move %d %d", x, y))
}

func (r *recorder) EnsureRenderable(symbol string, t Template) {
	r.calls = append(r.calls, "ensure "+symbol+" "+t.Kind.String())
}

func (r *recorder) reset() {
	r.calls = nil
	r.moves = 0
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testTable() *keymap.Table {
	t := keymap.NewTable()
	for _, e := range []keymap.Entry{
		{Scancode: 16, Name: "KEY_Q", Medium: "Q"},
		{Scancode: 29, Name: "KEY_CONTROL_L", Medium: "Ctrl", Short: "Ctl"},
		{Scancode: 30, Name: "KEY_A", Medium: "A"},
		{Scancode: 42, Name: "KEY_SHIFT_L", Medium: "Shift", Short: "Shft"},
		{Scancode: 46, Name: "KEY_C", Medium: "C"},
		{Scancode: 48, Name: "KEY_B", Medium: "B"},
		{Scancode: 54, Name: "KEY_SHIFT_R", Medium: "Shift", Short: "Shft"},
		{Scancode: 56, Name: "KEY_ALT_L", Medium: "Alt"},
		{Scancode: 57, Name: "KEY_SPACE", Medium: "Space", Short: "Spc"},
		{Scancode: 79, Name: "KEY_KP_1", Medium: "1"},
		{Scancode: 100, Name: "KEY_ISO_LEVEL3_SHIFT", Medium: "Alt"},
		{Scancode: 105, Name: "KEY_LEFT", Medium: "←"},
		{Scancode: 125, Name: "KEY_SUPER_L", Medium: "Super", Short: "Spr"},
	} {
		t.Set(e)
	}
	return t
}

func baseConfig() Config {
	return Config{
		Mouse: true, Shift: true, Ctrl: true, Alt: true, Meta: true,
		KeyTimeout:   500 * time.Millisecond,
		MouseTimeout: 200 * time.Millisecond,
		Scale:        1.0,
	}
}

func newMachine(t *testing.T, cfg Config) (*Machine, *recorder, *clock) {
	t.Helper()
	rec := &recorder{}
	clk := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := New(cfg, testTable(), rec, WithClock(clk.now))
	rec.reset()
	return m, rec, clk
}

func key(code int, pressed bool) capture.RawEvent {
	return capture.KeyEvent(code, "", pressed, time.Time{})
}

func button(n int, pressed bool) capture.RawEvent {
	ev, _ := capture.ButtonEvent(n, pressed, time.Time{})
	return ev
}

func slotState(t *testing.T, m *Machine, id string) SlotState {
	t.Helper()
	for _, s := range m.Snapshot() {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("slot %s not present", id)
	return SlotState{}
}

func TestInitialStateIdle(t *testing.T) {
	cfg := baseConfig()
	cfg.OldKeys = 2
	m, _, _ := newMachine(t, cfg)

	snap := m.Snapshot()
	ids := make([]string, len(snap))
	for i, s := range snap {
		ids[i] = s.ID
		assert.True(t, s.Idle, s.ID)
		assert.True(t, s.Deadline.IsZero(), s.ID)
	}
	assert.Equal(t, []string{"MOUSE", "SHIFT", "CTRL", "ALT", "META", "KEY0", "KEY1", "KEY2"}, ids)
	assert.Equal(t, ShiftEmpty, slotState(t, m, SlotShift).Symbol)
	assert.Equal(t, KeyEmpty, slotState(t, m, "KEY2").Symbol)
}

func TestNamedTemplatesAnnounced(t *testing.T) {
	rec := &recorder{}
	New(baseConfig(), testTable(), rec)
	assert.Contains(t, rec.calls, "ensure BTN_LEFTRIGHT named")
	assert.Contains(t, rec.calls, "ensure SHIFT_EMPTY named")
}

func TestChordComposition(t *testing.T) {
	m, rec, _ := newMachine(t, baseConfig())

	m.Handle(button(1, true))
	m.Handle(button(3, true))
	assert.Equal(t, "BTN_LEFTRIGHT", slotState(t, m, SlotMouse).Symbol)

	m.Handle(button(3, false))
	s := slotState(t, m, SlotMouse)
	assert.Equal(t, "BTN_LEFT", s.Symbol)
	assert.True(t, s.Pressed)
	assert.True(t, s.Deadline.IsZero())

	assert.Equal(t, []string{
		"display MOUSE BTN_LEFT",
		"display MOUSE BTN_LEFTRIGHT",
		"display MOUSE BTN_LEFT",
	}, rec.calls)

	m.Handle(button(1, false))
	s = slotState(t, m, SlotMouse)
	assert.False(t, s.Pressed)
	assert.False(t, s.Deadline.IsZero())
}

func TestChordEmulateMiddle(t *testing.T) {
	cfg := baseConfig()
	cfg.EmulateMiddle = true
	m, _, _ := newMachine(t, cfg)

	m.Handle(button(1, true))
	m.Handle(button(3, true))
	assert.Equal(t, "BTN_MIDDLE", slotState(t, m, SlotMouse).Symbol)

	m.Handle(button(3, false))
	assert.Equal(t, "BTN_LEFT", slotState(t, m, SlotMouse).Symbol)
}

func TestThreeButtonChord(t *testing.T) {
	m, _, _ := newMachine(t, baseConfig())
	m.Handle(button(2, true))
	m.Handle(button(3, true))
	assert.Equal(t, "BTN_MIDDLERIGHT", slotState(t, m, SlotMouse).Symbol)
	m.Handle(button(1, true))
	assert.Equal(t, "BTN_LEFTMIDDLERIGHT", slotState(t, m, SlotMouse).Symbol)
	m.Handle(button(2, false))
	assert.Equal(t, "BTN_LEFTRIGHT", slotState(t, m, SlotMouse).Symbol)
}

func TestSwapButtons(t *testing.T) {
	cfg := baseConfig()
	cfg.SwapButtons = true
	m, _, _ := newMachine(t, cfg)

	m.Handle(button(1, true))
	assert.Equal(t, "BTN_RIGHT", slotState(t, m, SlotMouse).Symbol)
	m.Handle(button(1, false))

	require.NoError(t, m.Inject("BTN_LEFT", true))
	assert.Equal(t, "BTN_LEFT", slotState(t, m, SlotMouse).Symbol, "injection names the shown button")
}

func TestExtraButtonTemplate(t *testing.T) {
	m, rec, clk := newMachine(t, baseConfig())

	m.Handle(button(8, true))
	assert.Equal(t, []string{"ensure BTN_8 mouse", "display MOUSE BTN_8"}, rec.calls)

	m.Handle(button(8, false))
	clk.advance(200 * time.Millisecond)
	m.Tick(clk.now())
	assert.True(t, slotState(t, m, SlotMouse).Idle)

	rec.reset()
	m.Handle(button(8, true))
	assert.Equal(t, []string{"display MOUSE BTN_8"}, rec.calls, "template registered once")
}

func TestTimeoutIdempotence(t *testing.T) {
	m, rec, clk := newMachine(t, baseConfig())

	m.Handle(key(30, true))
	m.Handle(key(30, false))

	clk.advance(499 * time.Millisecond)
	m.Tick(clk.now())
	assert.False(t, slotState(t, m, "KEY0").Idle, "short of the deadline")

	clk.advance(time.Millisecond)
	for i := 0; i < 5; i++ {
		m.Tick(clk.now())
		clk.advance(100 * time.Millisecond)
	}
	assert.True(t, slotState(t, m, "KEY0").Idle)

	clears := 0
	for _, c := range rec.calls {
		if c == "clear KEY0" {
			clears++
		}
	}
	assert.Equal(t, 1, clears)
}

func TestHistoryChaining(t *testing.T) {
	cfg := baseConfig()
	cfg.OldKeys = 1
	m, _, clk := newMachine(t, cfg)

	for _, code := range []int{30, 48} { // A, B
		m.Handle(key(code, true))
		clk.advance(10 * time.Millisecond)
		m.Handle(key(code, false))
		clk.advance(10 * time.Millisecond)
	}
	m.Handle(key(46, true)) // C

	assert.Equal(t, "KEY_C", slotState(t, m, "KEY0").Symbol)
	assert.Equal(t, "KEY_B", slotState(t, m, "KEY1").Symbol)
	for _, s := range m.Snapshot() {
		assert.NotEqual(t, "KEY_A", s.Symbol, "A is evicted")
	}

	m.Handle(key(46, false))
	head := slotState(t, m, "KEY0")
	next := slotState(t, m, "KEY1")
	require.False(t, head.Deadline.IsZero())
	assert.True(t, next.Deadline.After(head.Deadline))

	// slots clear in chain order
	clk.advance(500 * time.Millisecond)
	m.Tick(clk.now())
	assert.True(t, slotState(t, m, "KEY0").Idle)
	assert.False(t, slotState(t, m, "KEY1").Idle)
	clk.advance(500 * time.Millisecond)
	m.Tick(clk.now())
	assert.True(t, slotState(t, m, "KEY1").Idle)
}

func TestHistoryDeadlineOffsets(t *testing.T) {
	cfg := baseConfig()
	cfg.OldKeys = 2
	m, _, clk := newMachine(t, cfg)

	for _, code := range []int{30, 48, 46} {
		m.Handle(key(code, true))
		m.Handle(key(code, false))
	}
	now := clk.now()
	assert.Equal(t, now.Add(500*time.Millisecond), slotState(t, m, "KEY0").Deadline)
	assert.Equal(t, now.Add(1000*time.Millisecond), slotState(t, m, "KEY1").Deadline)
	assert.Equal(t, now.Add(1500*time.Millisecond), slotState(t, m, "KEY2").Deadline)
	assert.Equal(t, "KEY_A", slotState(t, m, "KEY2").Symbol)
}

func TestAutorepeatIgnored(t *testing.T) {
	cfg := baseConfig()
	cfg.OldKeys = 1
	m, rec, _ := newMachine(t, cfg)

	m.Handle(key(30, true))
	m.Handle(key(30, true))
	m.Handle(key(30, true))
	assert.True(t, slotState(t, m, "KEY1").Idle)

	displays := 0
	for _, c := range rec.calls {
		if c == "display KEY0 KEY_A" {
			displays++
		}
	}
	assert.Equal(t, 1, displays)
}

func TestUnresolvedScancode(t *testing.T) {
	m, rec, _ := newMachine(t, baseConfig())
	before := m.Snapshot()

	m.Handle(key(250, true))
	m.Handle(key(250, false))

	assert.Equal(t, before, m.Snapshot())
	assert.Empty(t, rec.calls)
	assert.Equal(t, uint64(2), m.Stats().Unresolved)
}

func TestObservedNameFallback(t *testing.T) {
	m, _, _ := newMachine(t, baseConfig())
	// the server reports scancode 16 as KEY_A after a live layout switch
	m.Handle(capture.KeyEvent(16, "KEY_A", true, time.Time{}))
	assert.Equal(t, "KEY_A", slotState(t, m, "KEY0").Symbol)
}

func TestModifierSlots(t *testing.T) {
	m, rec, clk := newMachine(t, baseConfig())

	m.Handle(key(42, true))
	s := slotState(t, m, SlotShift)
	assert.Equal(t, SymShift, s.Symbol)
	assert.True(t, s.Pressed)
	assert.True(t, slotState(t, m, "KEY0").Idle, "modifiers stay out of history")

	m.Handle(key(42, false))
	s = slotState(t, m, SlotShift)
	assert.False(t, s.Pressed)
	assert.Equal(t, clk.now().Add(500*time.Millisecond), s.Deadline)

	m.Handle(key(100, true))
	assert.Equal(t, SymAltGr, slotState(t, m, SlotAlt).Symbol)
	m.Handle(key(125, true))
	assert.Equal(t, SymMeta, slotState(t, m, SlotMeta).Symbol)

	assert.Equal(t, []string{
		"display SHIFT SHIFT",
		"display ALT ALTGR",
		"display META META",
	}, rec.calls)
}

func TestDisabledModifierGoesToHistory(t *testing.T) {
	cfg := baseConfig()
	cfg.Meta = false
	m, rec, _ := newMachine(t, cfg)

	m.Handle(key(125, true))
	assert.Equal(t, "KEY_SUPER_L", slotState(t, m, "KEY0").Symbol)
	assert.Equal(t, []string{"ensure KEY_SUPER_L multi-char", "display KEY0 KEY_SUPER_L"}, rec.calls)
	for _, s := range m.Snapshot() {
		assert.NotEqual(t, SlotMeta, s.ID)
	}
}

func TestModifierReleaseHeldWhileChorded(t *testing.T) {
	cfg := baseConfig()
	cfg.Meta = false
	m, _, clk := newMachine(t, cfg)

	m.Handle(key(29, true))   // ctrl, own slot
	m.Handle(key(125, true))  // super, history
	m.Handle(key(125, false)) // released while ctrl is held
	assert.True(t, slotState(t, m, "KEY0").Deadline.IsZero())

	m.Handle(key(29, false))
	assert.Equal(t, clk.now().Add(500*time.Millisecond), slotState(t, m, "KEY0").Deadline)
}

func TestOnlyCombo(t *testing.T) {
	cfg := baseConfig()
	cfg.OnlyCombo = true
	m, rec, _ := newMachine(t, cfg)

	m.Handle(key(29, true))
	s := slotState(t, m, SlotCtrl)
	assert.True(t, s.Pressed, "pressed flag still tracks hardware")
	assert.True(t, s.Idle, "lone modifier is not shown")
	assert.Empty(t, rec.calls)

	m.Handle(key(46, true))
	assert.Equal(t, SymCtrl, slotState(t, m, SlotCtrl).Symbol)
	assert.Equal(t, "KEY_C", slotState(t, m, "KEY0").Symbol)

	m.Handle(key(46, false))
	m.Handle(key(29, false))

	rec.reset()
	m.Handle(key(30, true))
	assert.Empty(t, rec.calls, "plain key without modifier is not a combo")
	assert.Equal(t, uint64(2), m.Stats().Suppressed)
}

func TestOnlyComboTwoModifiers(t *testing.T) {
	cfg := baseConfig()
	cfg.OnlyCombo = true
	m, _, _ := newMachine(t, cfg)

	m.Handle(key(29, true))
	m.Handle(key(42, true))
	assert.Equal(t, SymCtrl, slotState(t, m, SlotCtrl).Symbol)
	assert.Equal(t, SymShift, slotState(t, m, SlotShift).Symbol)
}

func TestStickyModifier(t *testing.T) {
	cfg := baseConfig()
	cfg.Sticky = true
	m, rec, clk := newMachine(t, cfg)

	m.Handle(key(42, true))
	m.Handle(key(42, false))
	clk.advance(10 * time.Second)
	m.Tick(clk.now())
	s := slotState(t, m, SlotShift)
	assert.Equal(t, SymShift, s.Symbol, "sticky modifier stays shown")
	assert.False(t, s.Pressed)

	m.Handle(key(42, true))
	assert.True(t, slotState(t, m, SlotShift).Idle, "second press toggles it off")
	m.Handle(key(42, false))
	m.Tick(clk.now())

	assert.Equal(t, []string{"display SHIFT SHIFT", "clear SHIFT"}, rec.calls)
}

func TestScroll(t *testing.T) {
	m, rec, clk := newMachine(t, baseConfig())

	cases := []struct {
		axis  capture.Axis
		delta int
		want  string
	}{
		{capture.Vertical, 1, SymScrollUp},
		{capture.Vertical, -1, SymScrollDown},
		{capture.Horizontal, -1, SymRelLeft},
		{capture.Horizontal, 1, SymRelRight},
	}
	for _, tc := range cases {
		m.Handle(capture.RawEvent{Kind: capture.Scroll, Axis: tc.axis, Delta: tc.delta})
		s := slotState(t, m, SlotMouse)
		assert.Equal(t, tc.want, s.Symbol)
		assert.False(t, s.Pressed)
		assert.Equal(t, clk.now().Add(200*time.Millisecond), s.Deadline, "scroll fades immediately")
	}

	rec.reset()
	clk.advance(200 * time.Millisecond)
	m.Tick(clk.now())
	assert.Equal(t, []string{"clear MOUSE"}, rec.calls)
}

func TestTemplatesRegisteredBeforeDisplay(t *testing.T) {
	m, rec, _ := newMachine(t, baseConfig())

	m.Handle(key(16, true))
	m.Handle(key(79, true))
	m.Handle(key(105, true))
	m.Handle(key(57, true))

	assert.Equal(t, []string{
		"ensure KEY_Q one-char",
		"display KEY0 KEY_Q",
		"ensure KEY_KP_1 numpad",
		"display KEY0 KEY_KP_1",
		"ensure KEY_LEFT one-char",
		"display KEY0 KEY_LEFT",
		"display KEY0 KEY_SPACE",
	}, rec.calls)

	tpl, ok := m.Templates().Lookup("KEY_Q")
	require.True(t, ok)
	assert.Equal(t, "Q", tpl.Label)
}

func TestScaledLabels(t *testing.T) {
	cfg := baseConfig()
	cfg.Scale = 0.5
	cfg.Shift = false
	m, _, _ := newMachine(t, cfg)

	m.Handle(key(42, true))
	tpl, ok := m.Templates().Lookup("KEY_SHIFT_L")
	require.True(t, ok)
	assert.Equal(t, "Shft", tpl.Label)
}

func TestFollowMouse(t *testing.T) {
	cfg := baseConfig()
	cfg.FollowMouse = true
	m, rec, _ := newMachine(t, cfg)

	m.Handle(capture.RawEvent{Kind: capture.Move, X: 10, Y: 20})
	assert.Equal(t, []string{"move 10 20"}, rec.calls)

	cfg.FollowMouse = false
	m2, rec2, _ := newMachine(t, cfg)
	m2.Handle(capture.RawEvent{Kind: capture.Move, X: 10, Y: 20})
	assert.Empty(t, rec2.calls)
}

func TestMotionBurstCoalesced(t *testing.T) {
	cfg := baseConfig()
	cfg.FollowMouse = true
	m, rec, _ := newMachine(t, cfg)
	q := capture.NewQueue(64)

	for i := 0; i < 50; i++ {
		q.TryPush(capture.RawEvent{Kind: capture.Move, X: i, Y: i})
		if i == 25 {
			q.TryPush(key(30, true))
		}
	}
	for _, ev := range q.Drain(nil) {
		m.Handle(ev)
	}

	assert.Equal(t, 1, rec.moves)
	assert.Equal(t, "KEY_A", slotState(t, m, "KEY0").Symbol)
}

func TestInjectRoundTrip(t *testing.T) {
	m, rec, _ := newMachine(t, baseConfig())

	require.NoError(t, m.Inject("KEY_A", true))
	assert.Equal(t, "KEY_A", slotState(t, m, "KEY0").Symbol)
	require.NoError(t, m.Inject("KEY_A", false))
	assert.False(t, slotState(t, m, "KEY0").Pressed)

	require.NoError(t, m.Inject("KEY_CONTROL_L", true))
	assert.Equal(t, SymCtrl, slotState(t, m, SlotCtrl).Symbol)

	require.NoError(t, m.Inject("SCROLL_DOWN", true))
	assert.Equal(t, SymScrollDown, slotState(t, m, SlotMouse).Symbol)

	err := m.Inject("KEY_NOPE", true)
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.Equal(t, uint64(4), m.Stats().Injected)
	assert.Contains(t, rec.calls, "display KEY0 KEY_A")
}

func TestAllSlotsDisabled(t *testing.T) {
	cfg := Config{}
	m, rec, _ := newMachine(t, cfg)

	m.Handle(button(1, true))
	m.Handle(capture.RawEvent{Kind: capture.Scroll, Delta: 1})
	m.Handle(key(42, true))
	assert.Len(t, m.Snapshot(), 1, "only the history head remains")
	assert.NotContains(t, rec.calls, "display MOUSE BTN_LEFT")
}

func TestSetResolver(t *testing.T) {
	m, _, _ := newMachine(t, baseConfig())
	other := keymap.NewTable()
	other.Set(keymap.Entry{Scancode: 30, Name: "KEY_Q", Medium: "Q"})

	m.SetResolver(other)
	m.Handle(key(30, true))
	assert.Equal(t, "KEY_Q", slotState(t, m, "KEY0").Symbol)
}

func TestSlotIDsMatchLayout(t *testing.T) {
	cfg := baseConfig()
	cfg.OldKeys = 2
	m, _, _ := newMachine(t, cfg)

	var ids []string
	for _, s := range m.Snapshot() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, ids, SlotIDs(cfg))
}

func TestModifierStaysPressedWhileTwinHeld(t *testing.T) {
	m, _, clk := newMachine(t, baseConfig())

	m.Handle(key(42, true)) // Shift_L
	m.Handle(key(54, true)) // Shift_R
	m.Handle(key(54, false))

	shift := slotState(t, m, SlotShift)
	assert.True(t, shift.Pressed)
	assert.True(t, shift.Deadline.IsZero())
	assert.Equal(t, SymShift, shift.Symbol)

	clk.advance(time.Second)
	m.Tick(clk.now())
	assert.Equal(t, SymShift, slotState(t, m, SlotShift).Symbol)

	m.Handle(key(42, false))
	shift = slotState(t, m, SlotShift)
	assert.False(t, shift.Pressed)
	assert.False(t, shift.Deadline.IsZero())
	clk.advance(time.Second)
	m.Tick(clk.now())
	assert.True(t, slotState(t, m, SlotShift).Idle)
}

func TestAltGrReleaseFallsBackToHeldAlt(t *testing.T) {
	m, rec, _ := newMachine(t, baseConfig())

	m.Handle(key(56, true))  // Alt_L
	m.Handle(key(100, true)) // AltGr
	assert.Equal(t, SymAltGr, slotState(t, m, SlotAlt).Symbol)

	rec.reset()
	m.Handle(key(100, false))
	alt := slotState(t, m, SlotAlt)
	assert.Equal(t, SymAlt, alt.Symbol)
	assert.True(t, alt.Pressed)
	assert.Equal(t, []string{"display ALT " + SymAlt}, rec.calls)
}

func TestExtraButtonHeldAfterChordRelease(t *testing.T) {
	m, _, clk := newMachine(t, baseConfig())

	m.Handle(button(8, true))
	m.Handle(button(1, true))
	assert.Equal(t, "BTN_LEFT", slotState(t, m, SlotMouse).Symbol)

	m.Handle(button(1, false))
	mouse := slotState(t, m, SlotMouse)
	assert.Equal(t, "BTN_8", mouse.Symbol)
	assert.True(t, mouse.Pressed)
	assert.True(t, mouse.Deadline.IsZero())

	clk.advance(time.Second)
	m.Tick(clk.now())
	assert.Equal(t, "BTN_8", slotState(t, m, SlotMouse).Symbol)

	m.Handle(button(8, false))
	assert.False(t, slotState(t, m, SlotMouse).Pressed)
	clk.advance(time.Second)
	m.Tick(clk.now())
	assert.True(t, slotState(t, m, SlotMouse).Idle)
}
