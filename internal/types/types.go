package types

import "time"

// Backend names for the capture source
const (
	BackendAuto  = "auto"
	BackendX11   = "x11"
	BackendEvdev = "evdev"
)

// Renderer kinds
const (
	RendererAuto    = "auto"
	RendererConsole = "console"
	RendererScreen  = "screen"
	RendererNone    = "none"
)

// LiveKeymap is the keymap.file token that asks for the running server's
// mapping instead of a kbd file.
const LiveKeymap = "xmodmap"

type KeymapConfig struct {
	File          string `yaml:"file,omitempty" toml:"file,omitempty" json:"file,omitempty"`                               // kbd file name or "xmodmap"
	DefaultLayout string `yaml:"default_layout,omitempty" toml:"default_layout,omitempty" json:"default_layout,omitempty"` // bundled layout used without a token
}

type CaptureConfig struct {
	Backend      string  `yaml:"backend,omitempty" toml:"backend,omitempty" json:"backend,omitempty"`
	PollInterval float64 `yaml:"poll_interval,omitempty" toml:"poll_interval,omitempty" json:"poll_interval,omitempty"` // seconds
}

// IndicatorsConfig says which slots exist. Pointers keep "unset" apart
// from an explicit false so defaults can be applied.
type IndicatorsConfig struct {
	Mouse   *bool `yaml:"mouse,omitempty" toml:"mouse,omitempty" json:"mouse,omitempty"`
	Shift   *bool `yaml:"shift,omitempty" toml:"shift,omitempty" json:"shift,omitempty"`
	Ctrl    *bool `yaml:"ctrl,omitempty" toml:"ctrl,omitempty" json:"ctrl,omitempty"`
	Alt     *bool `yaml:"alt,omitempty" toml:"alt,omitempty" json:"alt,omitempty"`
	Meta    *bool `yaml:"meta,omitempty" toml:"meta,omitempty" json:"meta,omitempty"`
	OldKeys *int  `yaml:"old_keys,omitempty" toml:"old_keys,omitempty" json:"old_keys,omitempty"`
}

type BehaviorConfig struct {
	OnlyCombo     bool    `yaml:"only_combo,omitempty" toml:"only_combo,omitempty" json:"only_combo,omitempty"`
	Sticky        bool    `yaml:"sticky,omitempty" toml:"sticky,omitempty" json:"sticky,omitempty"`
	EmulateMiddle bool    `yaml:"emulate_middle,omitempty" toml:"emulate_middle,omitempty" json:"emulate_middle,omitempty"`
	SwapButtons   bool    `yaml:"swap_buttons,omitempty" toml:"swap_buttons,omitempty" json:"swap_buttons,omitempty"`
	FollowMouse   bool    `yaml:"follow_mouse,omitempty" toml:"follow_mouse,omitempty" json:"follow_mouse,omitempty"`
	KeyTimeout    float64 `yaml:"key_timeout,omitempty" toml:"key_timeout,omitempty" json:"key_timeout,omitempty"`       // seconds
	MouseTimeout  float64 `yaml:"mouse_timeout,omitempty" toml:"mouse_timeout,omitempty" json:"mouse_timeout,omitempty"` // seconds
	Scale         float64 `yaml:"scale,omitempty" toml:"scale,omitempty" json:"scale,omitempty"`
}

type RendererConfig struct {
	Kind string `yaml:"kind,omitempty" toml:"kind,omitempty" json:"kind,omitempty"`
}

type DBusConfig struct {
	Enabled bool `yaml:"enabled,omitempty" toml:"enabled,omitempty" json:"enabled,omitempty"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled,omitempty" toml:"enabled,omitempty" json:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty" toml:"path,omitempty" json:"path,omitempty"`
}

type Config struct {
	Keymap     KeymapConfig     `yaml:"keymap" toml:"keymap" json:"keymap"`
	Capture    CaptureConfig    `yaml:"capture" toml:"capture" json:"capture"`
	Indicators IndicatorsConfig `yaml:"indicators" toml:"indicators" json:"indicators"`
	Behavior   BehaviorConfig   `yaml:"behavior" toml:"behavior" json:"behavior"`
	Renderer   RendererConfig   `yaml:"renderer" toml:"renderer" json:"renderer"`
	DBus       DBusConfig       `yaml:"dbus" toml:"dbus" json:"dbus"`
	Journal    JournalConfig    `yaml:"journal" toml:"journal" json:"journal"`
}

// Bool returns a pointer to b, for building configs in code.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to n.
func Int(n int) *int { return &n }

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// GetKeymapConfig returns keymap configuration with defaults
func (c *Config) GetKeymapConfig() KeymapConfig {
	config := c.Keymap
	if config.DefaultLayout == "" {
		config.DefaultLayout = "us"
	}
	return config
}

// GetCaptureConfig returns capture configuration with defaults
func (c *Config) GetCaptureConfig() CaptureConfig {
	config := c.Capture
	if config.Backend == "" {
		config.Backend = BackendAuto
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 0.01
	}
	return config
}

// PollEvery converts the configured poll interval to a duration.
func (c CaptureConfig) PollEvery() time.Duration {
	return seconds(c.PollInterval)
}

// ResolvedIndicators is IndicatorsConfig with every default applied.
type ResolvedIndicators struct {
	Mouse   bool
	Shift   bool
	Ctrl    bool
	Alt     bool
	Meta    bool
	OldKeys int
}

// GetIndicatorsConfig returns which slots are enabled. Meta is off and
// everything else on unless configured.
func (c *Config) GetIndicatorsConfig() ResolvedIndicators {
	r := ResolvedIndicators{
		Mouse: boolOr(c.Indicators.Mouse, true),
		Shift: boolOr(c.Indicators.Shift, true),
		Ctrl:  boolOr(c.Indicators.Ctrl, true),
		Alt:   boolOr(c.Indicators.Alt, true),
		Meta:  boolOr(c.Indicators.Meta, false),
	}
	if c.Indicators.OldKeys != nil && *c.Indicators.OldKeys > 0 {
		r.OldKeys = *c.Indicators.OldKeys
	}
	return r
}

// GetBehaviorConfig returns behavior configuration with defaults
func (c *Config) GetBehaviorConfig() BehaviorConfig {
	config := c.Behavior
	if config.KeyTimeout <= 0 {
		config.KeyTimeout = 0.5
	}
	if config.MouseTimeout <= 0 {
		config.MouseTimeout = 0.2
	}
	if config.Scale <= 0 {
		config.Scale = 1.0
	}
	return config
}

// KeyFade is the key slot timeout as a duration.
func (b BehaviorConfig) KeyFade() time.Duration { return seconds(b.KeyTimeout) }

// MouseFade is the mouse slot timeout as a duration.
func (b BehaviorConfig) MouseFade() time.Duration { return seconds(b.MouseTimeout) }

// GetRendererConfig returns renderer configuration with defaults
func (c *Config) GetRendererConfig() RendererConfig {
	config := c.Renderer
	if config.Kind == "" {
		config.Kind = RendererAuto
	}
	return config
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
