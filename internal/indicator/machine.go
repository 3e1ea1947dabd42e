package indicator

import (
	"strings"
	"time"

	"github.com/dooshek/keymon/internal/capture"
	"github.com/dooshek/keymon/internal/keymap"
	"github.com/dooshek/keymon/internal/logger"
)

// slot is one indicator. History slots form a forward chain through next.
type slot struct {
	id      string
	idle    string
	symbol  string
	want    string // symbol to show while pressed, kept for combo reveal
	pressed bool
	latched bool // sticky modifier currently pinned
	timeout time.Duration
	fadeAt  time.Time
	next    int // index of the next history slot, -1 at the tail
}

func (s *slot) isIdle() bool {
	return s.symbol == s.idle
}

// modifier classes, matched by prefix on the canonical name
var modifierPrefixes = []struct {
	prefix string
	slot   string
	symbol string
}{
	{"KEY_SHIFT", SlotShift, SymShift},
	{"KEY_CONTROL", SlotCtrl, SymCtrl},
	{"KEY_ALT", SlotAlt, SymAlt},
	{"KEY_ISO_LEVEL3_SHIFT", SlotAlt, SymAltGr},
	{"KEY_SUPER", SlotMeta, SymMeta},
	{"KEY_META", SlotMeta, SymMeta},
}

func classifyModifier(name string) (slotID, symbol string, ok bool) {
	for _, m := range modifierPrefixes {
		if strings.HasPrefix(name, m.prefix) {
			return m.slot, m.symbol, true
		}
	}
	return "", "", false
}

type heldModifier struct {
	slot   string
	symbol string
}

// Option configures a Machine.
type Option func(*Machine)

// WithImages sets the collaborator told about new templates. By default
// the renderer is used when it implements Images.
func WithImages(im Images) Option {
	return func(m *Machine) {
		m.images = im
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// Machine is the indicator state machine. It is not safe for concurrent
// use; a single loop goroutine owns it.
type Machine struct {
	cfg       Config
	resolver  Resolver
	renderer  Renderer
	images    Images
	templates *Templates
	now       func() time.Time

	slots  []slot
	byID   map[string]int
	head   int // first history slot
	chord  chord
	extras []int              // held buttons outside the chord, in press order
	mods   map[int]heldModifier // held modifier scancodes
	keys   map[int]bool
	counts Counters
}

// New builds the slots from cfg. Every slot starts idle.
func New(cfg Config, resolver Resolver, r Renderer, opts ...Option) *Machine {
	cfg = cfg.withDefaults()
	m := &Machine{
		cfg:       cfg,
		resolver:  resolver,
		renderer:  r,
		templates: NewTemplates(),
		now:       time.Now,
		byID:      make(map[string]int),
		mods:      make(map[int]heldModifier),
		keys:      make(map[int]bool),
	}
	if im, ok := r.(Images); ok {
		m.images = im
	}
	for _, opt := range opts {
		opt(m)
	}

	add := func(enabled bool, id, idle string, timeout time.Duration) {
		if !enabled {
			return
		}
		m.byID[id] = len(m.slots)
		m.slots = append(m.slots, slot{id: id, idle: idle, symbol: idle, timeout: timeout, next: -1})
	}
	add(cfg.Mouse, SlotMouse, MouseEmpty, cfg.MouseTimeout)
	add(cfg.Shift, SlotShift, ShiftEmpty, cfg.KeyTimeout)
	add(cfg.Ctrl, SlotCtrl, CtrlEmpty, cfg.KeyTimeout)
	add(cfg.Alt, SlotAlt, AltEmpty, cfg.KeyTimeout)
	add(cfg.Meta, SlotMeta, MetaEmpty, cfg.KeyTimeout)

	m.head = len(m.slots)
	for i := 0; i <= cfg.OldKeys; i++ {
		add(true, HistorySlot(i), KeyEmpty, cfg.KeyTimeout)
		if i > 0 {
			m.slots[m.head+i-1].next = m.head + i
		}
	}

	if m.images != nil {
		m.templates.Each(m.images.EnsureRenderable)
	}
	return m
}

// SetResolver swaps the lookup table, e.g. after a kbd file reload.
func (m *Machine) SetResolver(r Resolver) {
	m.resolver = r
}

// Templates exposes the template cache.
func (m *Machine) Templates() *Templates {
	return m.templates
}

// Stats returns the running counters.
func (m *Machine) Stats() Counters {
	return m.counts
}

// Snapshot returns the state of every slot in layout order.
func (m *Machine) Snapshot() []SlotState {
	out := make([]SlotState, len(m.slots))
	for i := range m.slots {
		s := &m.slots[i]
		out[i] = SlotState{
			ID:       s.id,
			Symbol:   s.symbol,
			Pressed:  s.pressed,
			Idle:     s.isIdle(),
			Deadline: s.fadeAt,
		}
	}
	return out
}

// Handle applies one capture event.
func (m *Machine) Handle(ev capture.RawEvent) {
	m.counts.Events++
	now := m.now()
	switch ev.Kind {
	case capture.KeyDown, capture.KeyUp:
		m.handleKey(ev, now)
	case capture.ButtonDown, capture.ButtonUp:
		m.handleButton(ev, now)
	case capture.Scroll:
		m.handleScroll(ev, now)
	case capture.Move:
		m.counts.Moves++
		if m.cfg.FollowMouse {
			m.renderer.MovePointer(ev.X, ev.Y)
		}
	}
}

// Tick reverts every slot whose fade deadline has passed.
func (m *Machine) Tick(now time.Time) {
	for i := range m.slots {
		s := &m.slots[i]
		if s.fadeAt.IsZero() || now.Before(s.fadeAt) {
			continue
		}
		s.fadeAt = time.Time{}
		s.latched = false
		if !s.isIdle() {
			s.symbol = s.idle
			m.clear(s)
		}
	}
}

func (m *Machine) handleKey(ev capture.RawEvent, now time.Time) {
	if m.resolver == nil {
		m.counts.Unresolved++
		return
	}
	entry, ok := m.resolver.Resolve(ev.Code, ev.Name)
	if !ok {
		m.counts.Unresolved++
		logger.Debugf("No mapping for scan_code %d (%s)", ev.Code, ev.Name)
		return
	}
	m.counts.Keys++
	pressed := ev.Kind == capture.KeyDown

	slotID, symbol, isMod := classifyModifier(entry.Name)
	if isMod {
		if pressed {
			m.mods[ev.Code] = heldModifier{slot: slotID, symbol: symbol}
		} else {
			delete(m.mods, ev.Code)
		}
		if i, ok := m.byID[slotID]; ok {
			m.driveModifier(&m.slots[i], ev.Code, symbol, pressed, now)
			if !pressed && len(m.mods) == 0 {
				m.rearmHistory(now)
			}
			return
		}
	}

	m.driveHistory(ev.Code, entry, isMod, pressed, now)
	if isMod && !pressed && len(m.mods) == 0 {
		m.rearmHistory(now)
	}
}

func (m *Machine) driveModifier(s *slot, code int, symbol string, pressed bool, now time.Time) {
	if !pressed {
		if other, ok := m.heldOn(s.id); ok {
			// another key of the same class is still down
			s.want = other
			if !s.isIdle() && s.symbol != other {
				m.activate(s, other)
			}
			return
		}
		s.pressed = false
		if m.cfg.Sticky || s.isIdle() {
			return
		}
		s.fadeAt = now.Add(s.timeout)
		return
	}

	if s.pressed && s.want == symbol {
		return // autorepeat
	}
	s.pressed = true
	s.want = symbol

	if m.cfg.Sticky && s.latched {
		s.latched = false
		s.fadeAt = time.Time{}
		if !s.isIdle() {
			s.symbol = s.idle
			m.clear(s)
		}
		return
	}
	if m.cfg.OnlyCombo && !m.comboHeld(code, true) {
		m.counts.Suppressed++
		return
	}
	m.activate(s, symbol)
	if m.cfg.Sticky {
		s.latched = true
	}
	if m.cfg.OnlyCombo {
		m.revealModifiers()
	}
}

// heldOn returns the symbol of a modifier still held for the slot.
func (m *Machine) heldOn(slotID string) (string, bool) {
	for _, h := range m.mods {
		if h.slot == slotID {
			return h.symbol, true
		}
	}
	return "", false
}

func (m *Machine) driveHistory(code int, entry keymap.Entry, isMod, pressed bool, now time.Time) {
	name := entry.Name
	head := &m.slots[m.head]
	if !pressed {
		delete(m.keys, code)
		if !head.pressed || head.symbol != name {
			return
		}
		head.pressed = false
		if isMod && len(m.mods) > 0 {
			return // modifier release held back while chorded
		}
		head.fadeAt = now.Add(head.timeout)
		return
	}

	if head.pressed && head.symbol == name {
		return // autorepeat
	}
	if !isMod {
		m.keys[code] = true
	}
	if m.cfg.OnlyCombo && !m.comboHeld(code, isMod) {
		m.counts.Suppressed++
		return
	}
	if !m.ensureKey(name, entry.Label(m.cfg.Scale)) {
		return
	}
	if m.cfg.OnlyCombo {
		m.revealModifiers()
	}

	if !head.isIdle() {
		m.deferTo(head.next, head.symbol, now, 1)
	}
	m.activate(head, name)
}

// deferTo pushes symbol into history slot i, cascading what i showed
// further down the chain. The tail's old symbol is dropped.
func (m *Machine) deferTo(i int, symbol string, now time.Time, depth int) {
	if i < 0 {
		return
	}
	s := &m.slots[i]
	if !s.isIdle() {
		m.deferTo(s.next, s.symbol, now, depth+1)
	}
	s.symbol = symbol
	s.pressed = false
	s.fadeAt = now.Add(s.timeout * time.Duration(depth+1))
	m.display(s)
}

// rearmHistory arms history slots left without a deadline by a held-back
// modifier release.
func (m *Machine) rearmHistory(now time.Time) {
	for i := m.head; i >= 0 && i < len(m.slots); i = m.slots[i].next {
		s := &m.slots[i]
		if !s.isIdle() && !s.pressed && s.fadeAt.IsZero() {
			s.fadeAt = now.Add(s.timeout)
		}
	}
}

// comboHeld reports whether a press of code forms a combination: another
// modifier is held, or for a modifier any other key is held.
func (m *Machine) comboHeld(code int, isMod bool) bool {
	for c := range m.mods {
		if c != code {
			return true
		}
	}
	if isMod {
		for c := range m.keys {
			if c != code {
				return true
			}
		}
	}
	return false
}

// revealModifiers shows held modifiers that combo-only kept hidden.
func (m *Machine) revealModifiers() {
	for _, id := range []string{SlotShift, SlotCtrl, SlotAlt, SlotMeta} {
		i, ok := m.byID[id]
		if !ok {
			continue
		}
		s := &m.slots[i]
		if s.pressed && s.isIdle() && s.want != "" {
			m.activate(s, s.want)
			if m.cfg.Sticky {
				s.latched = true
			}
		}
	}
}

func (m *Machine) handleButton(ev capture.RawEvent, now time.Time) {
	m.counts.Buttons++
	button := ev.Code
	if m.cfg.SwapButtons {
		button = swapButton(button)
	}
	pressed := ev.Kind == capture.ButtonDown

	var symbol string
	kind := TemplateNamed
	if bit, ok := buttonBit(button); ok {
		if pressed {
			m.chord |= bit
		} else {
			m.chord &^= bit
		}
		symbol = m.chord.symbol(m.cfg.EmulateMiddle)
	} else {
		if pressed {
			m.extras = append(m.extras, button)
			symbol = extraButtonSymbol(button)
			kind = TemplateMouse
		} else {
			m.releaseExtra(button)
		}
		if !pressed && m.chord != 0 {
			symbol = m.chord.symbol(m.cfg.EmulateMiddle)
		}
	}
	if symbol == "" && len(m.extras) > 0 {
		symbol = extraButtonSymbol(m.extras[len(m.extras)-1])
		kind = TemplateMouse
	}

	i, ok := m.byID[SlotMouse]
	if !ok {
		return
	}
	s := &m.slots[i]

	if symbol == "" {
		// nothing held any more
		s.pressed = false
		if !s.isIdle() {
			s.fadeAt = now.Add(s.timeout)
		}
		return
	}
	if kind == TemplateMouse {
		m.ensure(symbol, Template{Kind: TemplateMouse, Label: strings.TrimPrefix(symbol, "BTN_")})
	}
	if !pressed && s.symbol == symbol && s.pressed {
		return
	}
	m.activate(s, symbol)
}

func (m *Machine) releaseExtra(button int) {
	for i := len(m.extras) - 1; i >= 0; i-- {
		if m.extras[i] == button {
			m.extras = append(m.extras[:i], m.extras[i+1:]...)
			return
		}
	}
}

func (m *Machine) handleScroll(ev capture.RawEvent, now time.Time) {
	m.counts.Scrolls++
	i, ok := m.byID[SlotMouse]
	if !ok {
		return
	}
	var symbol string
	switch {
	case ev.Axis == capture.Horizontal && ev.Delta < 0:
		symbol = SymRelLeft
	case ev.Axis == capture.Horizontal && ev.Delta > 0:
		symbol = SymRelRight
	case ev.Delta > 0:
		symbol = SymScrollUp
	case ev.Delta < 0:
		symbol = SymScrollDown
	default:
		return
	}
	s := &m.slots[i]
	m.activate(s, symbol)
	s.pressed = false
	s.fadeAt = now.Add(s.timeout)
}

// ensureKey registers the template for a key symbol on first sight.
func (m *Machine) ensureKey(name, label string) bool {
	if _, ok := m.templates.Lookup(name); ok {
		return true
	}
	if !strings.HasPrefix(name, "KEY_") {
		logger.Debugf("Ignoring symbol without template: %s", name)
		return false
	}
	m.ensure(name, keyTemplate(name, label))
	return true
}

func (m *Machine) ensure(symbol string, tpl Template) {
	if !m.templates.Register(symbol, tpl) {
		return
	}
	logger.Debugf("New %s template for %s (%q)", tpl.Kind, symbol, tpl.Label)
	if m.images != nil {
		m.images.EnsureRenderable(symbol, tpl)
	}
}

func (m *Machine) activate(s *slot, symbol string) {
	s.symbol = symbol
	s.pressed = true
	s.fadeAt = time.Time{}
	m.display(s)
}

func (m *Machine) display(s *slot) {
	m.counts.Displays++
	m.renderer.Display(s.id, s.symbol)
}

func (m *Machine) clear(s *slot) {
	m.counts.Clears++
	m.renderer.Clear(s.id)
}
