package renderer

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/dooshek/keymon/internal/indicator"
	"github.com/dooshek/keymon/internal/logger"
	"github.com/dooshek/keymon/internal/types"
)

// New builds the renderer of the given kind for slots. The returned Screen
// is non-nil only for the screen kind; the caller initializes it, runs its
// event loop and shuts it down.
func New(kind string, slots []string, out *os.File) (indicator.Renderer, *Screen, error) {
	if kind == types.RendererAuto {
		kind = autoKind(out)
		logger.Debugf("Renderer auto-selected: %s", kind)
	}

	switch kind {
	case types.RendererScreen:
		s, err := NewScreen(nil, slots)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open terminal screen: %w", err)
		}
		return s, s, nil
	case types.RendererConsole:
		return NewConsole(out, slots, isTerminal(out)), nil, nil
	case types.RendererNone:
		return None{}, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown renderer kind %q", kind)
}

func autoKind(out *os.File) string {
	if isTerminal(out) {
		return types.RendererScreen
	}
	return types.RendererConsole
}

func isTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}
