package renderer

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/dooshek/keymon/internal/indicator"
)

var (
	modifierColor = color.New(color.FgCyan, color.Bold)
	keyColor      = color.New(color.FgGreen, color.Bold)
	mouseColor    = color.New(color.FgYellow, color.Bold)
	idleColor     = color.New(color.Faint)
)

// Console writes slot changes as text. Inline mode rewrites a single status
// line with carriage returns; otherwise every change is printed on its own
// line, which suits logs and pipes.
type Console struct {
	*Labels

	mu     sync.Mutex
	w      io.Writer
	inline bool
	order  []string
	shown  map[string]string
}

func NewConsole(w io.Writer, slots []string, inline bool) *Console {
	return &Console{
		Labels: NewLabels(),
		w:      w,
		inline: inline,
		order:  slots,
		shown:  make(map[string]string, len(slots)),
	}
}

func (c *Console) Display(slot, symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shown[slot] = symbol
	if c.inline {
		c.redraw()
		return
	}
	fmt.Fprintf(c.w, "%-6s %s\n", slot, c.paint(slot, symbol))
}

func (c *Console) Clear(slot string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.shown, slot)
	if c.inline {
		c.redraw()
		return
	}
	fmt.Fprintf(c.w, "%-6s %s\n", slot, idleColor.Sprint("-"))
}

// MovePointer is a no-op: a text line has no position to follow.
func (c *Console) MovePointer(x, y int) {}

// Line returns the current status line without escape codes for cursor
// movement.
func (c *Console) Line() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.line()
}

func (c *Console) line() string {
	parts := make([]string, 0, len(c.order))
	for _, slot := range c.order {
		symbol, ok := c.shown[slot]
		if !ok {
			parts = append(parts, idleColor.Sprintf("[%s]", slot))
			continue
		}
		parts = append(parts, "["+c.paint(slot, symbol)+"]")
	}
	return strings.Join(parts, " ")
}

func (c *Console) redraw() {
	fmt.Fprint(c.w, "\r\x1b[K"+c.line())
}

func (c *Console) paint(slot, symbol string) string {
	label := c.Label(symbol)
	if label == "" {
		return idleColor.Sprint(slot)
	}
	switch slot {
	case indicator.SlotMouse:
		return mouseColor.Sprint(label)
	case indicator.SlotShift, indicator.SlotCtrl, indicator.SlotAlt, indicator.SlotMeta:
		return modifierColor.Sprint(label)
	}
	return keyColor.Sprint(label)
}
