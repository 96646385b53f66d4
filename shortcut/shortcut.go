// Package shortcut normalizes physical key events into canonical combo
// strings and dispatches them against a rebuildable binding table.
package shortcut

import (
	"log/slog"
	"strings"
	"sync"
)

// KeyEvent is one physical key event as reported by the host.
type KeyEvent struct {
	// Key is the produced character or logical key name ("j", "Ω",
	// "ArrowDown").
	Key string
	// Code is the hardware key identifier ("KeyJ", "Digit1"). Used when
	// the produced character is a composed one: on macOS the option
	// modifier composes accented characters instead of the physical
	// letter.
	Code string

	Alt   bool
	Ctrl  bool
	Meta  bool
	Shift bool
}

// Combo returns the canonical modifier-sorted combo string, e.g.
// "alt+shift+j". Modifier order is fixed: alt, ctrl, meta, shift.
func (e KeyEvent) Combo() string {
	var sb strings.Builder
	if e.Alt {
		sb.WriteString("alt+")
	}
	if e.Ctrl {
		sb.WriteString("ctrl+")
	}
	if e.Meta {
		sb.WriteString("meta+")
	}
	if e.Shift {
		sb.WriteString("shift+")
	}
	sb.WriteString(e.baseKey())
	return sb.String()
}

// baseKey resolves the logical key, falling back to the hardware code
// when a modifier combination produced a composed character.
func (e KeyEvent) baseKey() string {
	key := strings.ToLower(e.Key)
	runes := []rune(key)
	if len(runes) > 1 {
		// Logical key name ("arrowdown", "escape", "enter").
		return key
	}
	if len(runes) == 1 && isPlain(runes[0]) {
		return key
	}
	// Composed character ("Ω", "é", "ˇ"): recover the physical key.
	return codeKey(e.Code)
}

func isPlain(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') ||
		strings.ContainsRune("`-=[]\\;',./", r)
}

// codeKey maps a hardware key identifier to its base key.
func codeKey(code string) string {
	switch {
	case strings.HasPrefix(code, "Key") && len(code) == 4:
		return strings.ToLower(code[3:])
	case strings.HasPrefix(code, "Digit") && len(code) == 6:
		return code[5:]
	default:
		return strings.ToLower(code)
	}
}

// ParseCombo canonicalises a user-written combo string: "Shift+Alt+J"
// becomes "alt+shift+j". Unknown modifier tokens are treated as the key.
func ParseCombo(s string) string {
	ev := KeyEvent{}
	key := ""
	for _, part := range strings.Split(s, "+") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "alt", "option", "opt":
			ev.Alt = true
		case "ctrl", "control":
			ev.Ctrl = true
		case "meta", "cmd", "command", "win":
			ev.Meta = true
		case "shift":
			ev.Shift = true
		default:
			key = strings.ToLower(strings.TrimSpace(part))
		}
	}
	ev.Key = key
	return ev.Combo()
}

// Action is a bound shortcut handler.
type Action func()

// Dispatcher routes key events to actions. The binding table is replaced
// wholesale on every settings change; patching a live table would leave
// removed bindings behind.
type Dispatcher struct {
	prefix string
	logger *slog.Logger

	mu       sync.RWMutex
	bindings map[string]Action
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a Dispatcher requiring the given modifier prefix on every
// handled combo. An empty prefix selects "alt".
func New(prefix string, opts ...Option) *Dispatcher {
	if prefix == "" {
		prefix = "alt"
	}
	d := &Dispatcher{
		prefix:   strings.ToLower(prefix),
		logger:   slog.Default(),
		bindings: make(map[string]Action),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Rebuild replaces the whole binding table. Combo keys are canonicalised
// on the way in, so settings may spell them in any order or case.
func (d *Dispatcher) Rebuild(bindings map[string]Action) {
	table := make(map[string]Action, len(bindings))
	for combo, action := range bindings {
		if action == nil {
			continue
		}
		table[ParseCombo(combo)] = action
	}
	d.mu.Lock()
	d.bindings = table
	d.mu.Unlock()
	d.logger.Debug("shortcut: bindings rebuilt", "count", len(table))
}

// Len reports the number of active bindings.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.bindings)
}

// Combos returns the canonical combo strings currently bound.
func (d *Dispatcher) Combos() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.bindings))
	for combo := range d.bindings {
		out = append(out, combo)
	}
	return out
}

// Handle dispatches a key event. Returns true when an action consumed
// the event; false means the event must propagate to the host untouched,
// which covers unbound combos and combos missing the required modifier
// prefix.
func (d *Dispatcher) Handle(ev KeyEvent) bool {
	if !d.hasPrefix(ev) {
		return false
	}
	combo := ev.Combo()

	d.mu.RLock()
	action, ok := d.bindings[combo]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	d.logger.Debug("shortcut: dispatch", "combo", combo)
	action()
	return true
}

func (d *Dispatcher) hasPrefix(ev KeyEvent) bool {
	switch d.prefix {
	case "alt":
		return ev.Alt
	case "ctrl":
		return ev.Ctrl
	case "meta":
		return ev.Meta
	case "shift":
		return ev.Shift
	default:
		return false
	}
}
