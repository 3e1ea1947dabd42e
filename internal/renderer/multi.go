package renderer

import (
	"strconv"

	"github.com/dooshek/keymon/internal/indicator"
)

// Multi forwards every call to each of its renderers.
type Multi []indicator.Renderer

func (m Multi) Display(slot, symbol string) {
	for _, r := range m {
		r.Display(slot, symbol)
	}
}

func (m Multi) Clear(slot string) {
	for _, r := range m {
		r.Clear(slot)
	}
}

func (m Multi) MovePointer(x, y int) {
	for _, r := range m {
		r.MovePointer(x, y)
	}
}

// EnsureRenderable reaches the renderers that keep labels.
func (m Multi) EnsureRenderable(symbol string, t indicator.Template) {
	for _, r := range m {
		if im, ok := r.(indicator.Images); ok {
			im.EnsureRenderable(symbol, t)
		}
	}
}

// None discards everything. Used when only the D-Bus signal or the journal
// consume slot changes.
type None struct{}

func (None) Display(slot, symbol string) {}
func (None) Clear(slot string)           {}
func (None) MovePointer(x, y int)        {}

func pointerText(x, y int) string {
	return "pointer " + strconv.Itoa(x) + "," + strconv.Itoa(y)
}
