package capture

import (
	"fmt"
	"os"
	"strings"

	"github.com/dooshek/keymon/internal/types"
)

// NewSource creates the capture source for a backend name.
func NewSource(backend, display string) (Source, error) {
	switch strings.ToLower(backend) {
	case types.BackendX11:
		return NewX11Source(display), nil
	case types.BackendEvdev:
		return NewEvdevSource(), nil
	case types.BackendAuto, "":
		if isX11() {
			return NewX11Source(display), nil
		}
		return NewEvdevSource(), nil
	default:
		return nil, fmt.Errorf("unknown capture backend: %s", backend)
	}
}

// isX11 checks if the current session is running X11
func isX11() bool {
	session := strings.ToLower(os.Getenv("XDG_SESSION_TYPE"))
	if session != "" {
		return session == "x11"
	}
	return os.Getenv("DISPLAY") != ""
}
