package renderer

import (
	"context"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"github.com/dooshek/keymon/internal/indicator"
)

const (
	boxWidth  = 10
	boxHeight = 3
	boxGap    = 1
	boxTop    = 1
)

var (
	styleIdle     = tcell.StyleDefault.Dim(true)
	styleKey      = tcell.StyleDefault.Foreground(tcell.ColorGreen).Bold(true)
	styleModifier = tcell.StyleDefault.Foreground(tcell.ColorTeal).Bold(true)
	styleMouse    = tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true)
	styleTitle    = tcell.StyleDefault.Bold(true)
)

// Screen draws one box per slot on a tcell screen.
type Screen struct {
	*Labels

	mu      sync.Mutex
	screen  tcell.Screen
	order   []string
	shown   map[string]string
	px, py  int
	pointer bool
}

// NewScreen wraps screen. Pass nil to open the controlling terminal.
func NewScreen(screen tcell.Screen, slots []string) (*Screen, error) {
	if screen == nil {
		var err error
		screen, err = tcell.NewScreen()
		if err != nil {
			return nil, err
		}
	}
	return &Screen{
		Labels: NewLabels(),
		screen: screen,
		order:  slots,
		shown:  make(map[string]string, len(slots)),
	}, nil
}

func (s *Screen) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.screen.Init(); err != nil {
		return err
	}
	s.screen.HideCursor()
	s.draw()
	return nil
}

func (s *Screen) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.screen.Fini()
}

func (s *Screen) Display(slot, symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.shown[slot] = symbol
	s.draw()
}

func (s *Screen) Clear(slot string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.shown, slot)
	s.draw()
}

// MovePointer shows the last pointer position on the status row.
func (s *Screen) MovePointer(x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.px, s.py, s.pointer = x, y, true
	s.draw()
}

// Events handles resize and quit keys until ctx is done or the screen is
// finalized. quit is called on q, Esc or Ctrl-C.
func (s *Screen) Events(ctx context.Context, quit func()) {
	for ctx.Err() == nil {
		ev := s.screen.PollEvent()
		switch ev := ev.(type) {
		case nil:
			return
		case *tcell.EventResize:
			s.mu.Lock()
			s.screen.Sync()
			s.draw()
			s.mu.Unlock()
		case *tcell.EventKey:
			if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC || ev.Rune() == 'q' {
				quit()
				return
			}
		}
	}
}

func (s *Screen) draw() {
	s.screen.Clear()
	s.text(0, 0, "keymon  (q to quit)", styleTitle)

	width, _ := s.screen.Size()
	x := 0
	for _, slot := range s.order {
		if x+boxWidth > width && x > 0 {
			break
		}
		symbol, active := s.shown[slot]
		style := styleIdle
		label := ""
		if active {
			label = s.Label(symbol)
			style = slotStyle(slot)
		}
		s.box(x, boxTop, style)
		s.text(x+1, boxTop+boxHeight, runewidth.Truncate(slot, boxWidth-2, ""), styleIdle)
		label = runewidth.Truncate(label, boxWidth-2, "…")
		pad := (boxWidth - 2 - runewidth.StringWidth(label)) / 2
		s.text(x+1+pad, boxTop+1, label, style)
		x += boxWidth + boxGap
	}

	if s.pointer {
		s.text(0, boxTop+boxHeight+2, pointerText(s.px, s.py), styleIdle)
	}
	s.screen.Show()
}

func (s *Screen) box(x, y int, style tcell.Style) {
	right, bottom := x+boxWidth-1, y+boxHeight-1
	for i := x + 1; i < right; i++ {
		s.screen.SetContent(i, y, tcell.RuneHLine, nil, style)
		s.screen.SetContent(i, bottom, tcell.RuneHLine, nil, style)
	}
	for j := y + 1; j < bottom; j++ {
		s.screen.SetContent(x, j, tcell.RuneVLine, nil, style)
		s.screen.SetContent(right, j, tcell.RuneVLine, nil, style)
	}
	s.screen.SetContent(x, y, tcell.RuneULCorner, nil, style)
	s.screen.SetContent(right, y, tcell.RuneURCorner, nil, style)
	s.screen.SetContent(x, bottom, tcell.RuneLLCorner, nil, style)
	s.screen.SetContent(right, bottom, tcell.RuneLRCorner, nil, style)
}

func (s *Screen) text(x, y int, str string, style tcell.Style) {
	for _, r := range str {
		s.screen.SetContent(x, y, r, nil, style)
		x += runewidth.RuneWidth(r)
	}
}

func slotStyle(slot string) tcell.Style {
	switch slot {
	case indicator.SlotMouse:
		return styleMouse
	case indicator.SlotShift, indicator.SlotCtrl, indicator.SlotAlt, indicator.SlotMeta:
		return styleModifier
	}
	return styleKey
}
