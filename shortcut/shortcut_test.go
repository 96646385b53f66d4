package shortcut

import "testing"

func TestCombo_ModifierOrder(t *testing.T) {
	ev := KeyEvent{Key: "j", Shift: true, Alt: true}
	if got := ev.Combo(); got != "alt+shift+j" {
		t.Errorf("got %q, want alt+shift+j", got)
	}
}

func TestCombo_LogicalKeys(t *testing.T) {
	ev := KeyEvent{Key: "ArrowDown", Alt: true}
	if got := ev.Combo(); got != "alt+arrowdown" {
		t.Errorf("got %q, want alt+arrowdown", got)
	}
}

func TestCombo_ComposedCharFallsBackToCode(t *testing.T) {
	// macOS: option+shift reports the composed character, not the
	// physical letter.
	cases := []struct {
		ev   KeyEvent
		want string
	}{
		{KeyEvent{Key: "Ω", Code: "KeyZ", Alt: true}, "alt+z"},
		{KeyEvent{Key: "É", Code: "KeyE", Alt: true, Shift: true}, "alt+shift+e"},
		{KeyEvent{Key: "¡", Code: "Digit1", Alt: true}, "alt+1"},
	}
	for _, c := range cases {
		if got := c.ev.Combo(); got != c.want {
			t.Errorf("%+v: got %q, want %q", c.ev, got, c.want)
		}
	}
}

func TestCombo_PlainLetterNotOverridden(t *testing.T) {
	// A direct letter must win even when a code is present.
	ev := KeyEvent{Key: "j", Code: "KeyJ", Alt: true}
	if got := ev.Combo(); got != "alt+j" {
		t.Errorf("got %q, want alt+j", got)
	}
}

func TestParseCombo(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Shift+Alt+J", "alt+shift+j"},
		{"alt+j", "alt+j"},
		{"Cmd+K", "meta+k"},
		{"option+ArrowDown", "alt+arrowdown"},
		{"ctrl + alt + x", "alt+ctrl+x"},
	}
	for _, c := range cases {
		if got := ParseCombo(c.in); got != c.want {
			t.Errorf("ParseCombo(%q): got %q, want %q", c.in, got, c.want)
		}
	}
}

func TestHandle_DispatchAndPropagation(t *testing.T) {
	var fired []string
	d := New("alt")
	d.Rebuild(map[string]Action{
		"Alt+J":       func() { fired = append(fired, "down") },
		"alt+shift+h": func() { fired = append(fired, "heading") },
	})

	if !d.Handle(KeyEvent{Key: "j", Alt: true}) {
		t.Error("bound combo not consumed")
	}
	if d.Handle(KeyEvent{Key: "j"}) {
		t.Error("combo without the prefix modifier was consumed")
	}
	if d.Handle(KeyEvent{Key: "q", Alt: true}) {
		t.Error("unbound combo was consumed")
	}
	if !d.Handle(KeyEvent{Key: "Ó", Code: "KeyH", Alt: true, Shift: true}) {
		t.Error("composed-char combo not consumed")
	}

	want := []string{"down", "heading"}
	if len(fired) != len(want) {
		t.Fatalf("fired: %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Errorf("fired[%d]: got %q, want %q", i, fired[i], want[i])
		}
	}
}

func TestRebuild_Wholesale(t *testing.T) {
	d := New("")
	d.Rebuild(map[string]Action{"alt+a": func() {}, "alt+b": func() {}})
	if d.Len() != 2 {
		t.Fatalf("len: got %d, want 2", d.Len())
	}

	// A rebuild drops bindings absent from the new table.
	d.Rebuild(map[string]Action{"alt+c": func() {}})
	if d.Len() != 1 {
		t.Fatalf("len after rebuild: got %d, want 1", d.Len())
	}
	if d.Handle(KeyEvent{Key: "a", Alt: true}) {
		t.Error("stale binding survived rebuild")
	}
	if !d.Handle(KeyEvent{Key: "c", Alt: true}) {
		t.Error("new binding not active")
	}
}
