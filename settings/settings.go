// Package settings supplies the engine's feature flags, tunables, and
// shortcut bindings from a YAML file or a SQLite table, with asynchronous
// change notification.
package settings

import "time"

// Settings is the full read-mostly configuration record.
type Settings struct {
	// ClassPrefix is the host app's block class prefix. Default: "sp".
	ClassPrefix string `yaml:"class_prefix"`
	// ShortcutPrefix is the modifier every shortcut must carry.
	// Default: "alt".
	ShortcutPrefix string `yaml:"shortcut_prefix"`
	// Debug gates debug-level logging at runtime.
	Debug bool `yaml:"debug"`

	// Annotations toggles block annotation. Default: on.
	Annotations *bool `yaml:"annotations"`
	// PageEnhancements toggles the landmark/breadcrumb pass. Default: on.
	PageEnhancements *bool `yaml:"page_enhancements"`
	// Cursor toggles the virtual cursor and shortcuts. Default: on.
	Cursor *bool `yaml:"cursor"`

	ExcerptLen     int           `yaml:"excerpt_len"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
	DebounceMax    int           `yaml:"debounce_max"`
	RescanEvery    time.Duration `yaml:"rescan_every"`
	NavPollEvery   time.Duration `yaml:"nav_poll_every"`
	NavSettle      time.Duration `yaml:"nav_settle"`
	ClearAfter     time.Duration `yaml:"clear_after"`

	// Bindings maps combo strings to action names. Replaces the default
	// table entirely when non-empty.
	Bindings map[string]string `yaml:"bindings"`
}

// DefaultBindings is the stock shortcut table.
var DefaultBindings = map[string]string{
	"alt+n":            "enter_navigate",
	"alt+arrowdown":    "next",
	"alt+arrowup":      "prev",
	"alt+home":         "first",
	"alt+end":          "last",
	"alt+h":            "next_heading",
	"alt+shift+h":      "prev_heading",
	"alt+r":            "rescan",
}

// Default returns the stock settings.
func Default() Settings {
	var s Settings
	s.applyDefaults()
	return s
}

func (s *Settings) applyDefaults() {
	if s.ClassPrefix == "" {
		s.ClassPrefix = "sp"
	}
	if s.ShortcutPrefix == "" {
		s.ShortcutPrefix = "alt"
	}
	if s.Annotations == nil {
		s.Annotations = boolPtr(true)
	}
	if s.PageEnhancements == nil {
		s.PageEnhancements = boolPtr(true)
	}
	if s.Cursor == nil {
		s.Cursor = boolPtr(true)
	}
	if s.ExcerptLen <= 0 {
		s.ExcerptLen = 80
	}
	if s.DebounceWindow <= 0 {
		s.DebounceWindow = 250 * time.Millisecond
	}
	if s.DebounceMax <= 0 {
		s.DebounceMax = 1000
	}
	if s.RescanEvery <= 0 {
		s.RescanEvery = 5 * time.Second
	}
	if s.NavPollEvery <= 0 {
		s.NavPollEvery = 500 * time.Millisecond
	}
	if s.NavSettle <= 0 {
		s.NavSettle = 1200 * time.Millisecond
	}
	if s.ClearAfter <= 0 {
		s.ClearAfter = 7 * time.Second
	}
	if len(s.Bindings) == 0 {
		s.Bindings = make(map[string]string, len(DefaultBindings))
		for k, v := range DefaultBindings {
			s.Bindings[k] = v
		}
	}
}

func boolPtr(b bool) *bool { return &b }

// On reports a feature flag, treating nil as true.
func On(flag *bool) bool { return flag == nil || *flag }

// Source supplies settings and change notification. Close stops the
// notification machinery.
type Source interface {
	Load() (Settings, error)
	OnChange(fn func(Settings))
	Close() error
}

// Static is a Source with fixed settings and no change notification.
type Static struct {
	S Settings
}

func (s Static) Load() (Settings, error) {
	s.S.applyDefaults()
	return s.S, nil
}

func (Static) OnChange(func(Settings)) {}
func (Static) Close() error            { return nil }
