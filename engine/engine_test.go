package engine

import (
	"strings"
	"testing"

	"github.com/hazyhaar/ariakeeper/announce"
	"github.com/hazyhaar/ariakeeper/cursor"
	"github.com/hazyhaar/ariakeeper/dom"
	"github.com/hazyhaar/ariakeeper/mutation"
	"github.com/hazyhaar/ariakeeper/settings"
	"github.com/hazyhaar/ariakeeper/shortcut"
)

const page = `<html><head></head><body>
<div class="sp-frame">
	<div class="sp-header-block">Quarterly plan</div>
	<div class="sp-text-block"><div contenteditable="true">First paragraph</div></div>
	<div class="sp-toggle-block"><div>Details</div><div style="display:none">body</div></div>
</div>
</body></html>`

func newEngine(t *testing.T, html string, cfg Config) (*Engine, *dom.Document) {
	t.Helper()
	d, err := dom.ParseString(html)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	cfg.Doc = d
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, d
}

func attrOf(t *testing.T, el dom.Element, name string) string {
	t.Helper()
	v, _ := el.Attr(name)
	return v
}

func TestStart_AnnotatesAndEnhances(t *testing.T) {
	e, d := newEngine(t, page, Config{})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	frame := d.Body().Children()[0]
	if got := attrOf(t, frame, "role"); got != "main" {
		t.Errorf("frame role: got %q, want main", got)
	}
	header := frame.Children()[0]
	if got := attrOf(t, header, "role"); got != "heading" {
		t.Errorf("header role: got %q, want heading", got)
	}
	if _, ok := d.GetByID(announce.AssertiveRegionID); !ok {
		t.Error("assertive live region missing")
	}
	if _, ok := d.GetByID(cursor.StyleID); !ok {
		t.Error("cursor stylesheet missing")
	}
}

func TestScanAndEnhance_Count(t *testing.T) {
	e, _ := newEngine(t, page, Config{})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	// Everything is already annotated; the re-scan still counts blocks.
	if got := e.ScanAndEnhance(); got != 3 {
		t.Errorf("ScanAndEnhance: got %d, want 3", got)
	}
}

func TestAnnounce(t *testing.T) {
	e, d := newEngine(t, page, Config{})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	e.Announce("saved", announce.Polite)
	region, _ := d.GetByID(announce.PoliteRegionID)
	if got := region.Text(); got != "saved" {
		t.Errorf("polite region: got %q, want saved", got)
	}
}

func TestHandleKey_ShortcutsAndArrows(t *testing.T) {
	e, d := newEngine(t, page, Config{})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	if !e.HandleKey(shortcut.KeyEvent{Key: "n", Alt: true}) {
		t.Fatal("alt+n not consumed")
	}
	if e.cursor.Mode() != cursor.Navigate {
		t.Fatalf("mode: got %v, want Navigate", e.cursor.Mode())
	}

	if !e.HandleKey(shortcut.KeyEvent{Key: "ArrowDown"}) {
		t.Error("plain ArrowDown not consumed in Navigate mode")
	}
	if e.cursor.Index() != 1 {
		t.Errorf("index: got %d, want 1", e.cursor.Index())
	}

	// Modified arrows belong to the host (native multi-block selection).
	if e.HandleKey(shortcut.KeyEvent{Key: "ArrowDown", Shift: true}) {
		t.Error("shift+ArrowDown was consumed")
	}
	if e.cursor.Index() != 1 {
		t.Errorf("index moved on modified arrow: %d", e.cursor.Index())
	}

	if !e.HandleKey(shortcut.KeyEvent{Key: "Escape"}) {
		t.Error("Escape not consumed in Navigate mode")
	}
	if e.cursor.Mode() != cursor.Neutral {
		t.Errorf("mode after Escape: got %v", e.cursor.Mode())
	}

	// Neutral mode: everything propagates.
	if e.HandleKey(shortcut.KeyEvent{Key: "ArrowDown"}) {
		t.Error("ArrowDown consumed in Neutral mode")
	}

	hl := d.Body().FindAll(func(el dom.Element) bool { return el.HasAttr(cursor.HighlightAttr) })
	if len(hl) != 0 {
		t.Errorf("highlights remain after Escape: %d", len(hl))
	}
}

func TestHandleKey_CursorDisabled(t *testing.T) {
	off := false
	e, _ := newEngine(t, page, Config{
		Source: settings.Static{S: settings.Settings{Cursor: &off}},
	})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	if e.HandleKey(shortcut.KeyEvent{Key: "n", Alt: true}) {
		t.Error("key consumed with cursor disabled")
	}
}

func TestApplySettings_RebuildsBindings(t *testing.T) {
	e, _ := newEngine(t, page, Config{})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	s := settings.Default()
	s.Bindings = map[string]string{"alt+g": "enter_navigate"}
	e.ApplySettings(s)

	if e.HandleKey(shortcut.KeyEvent{Key: "n", Alt: true}) {
		t.Error("stale binding survived rebuild")
	}
	if !e.HandleKey(shortcut.KeyEvent{Key: "g", Alt: true}) {
		t.Error("new binding not active")
	}
}

func TestStop_LeavesNoResidue(t *testing.T) {
	d, err := dom.ParseString(page)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	before, err := d.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	e, err := New(Config{Doc: d})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.HandleKey(shortcut.KeyEvent{Key: "n", Alt: true})
	e.Announce("working", announce.Assertive)
	e.Stop()

	after, err := d.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if after != before {
		t.Errorf("document changed across Start/Stop:\nbefore: %s\nafter:  %s", before, after)
	}
}

func TestStop_KeepsAuthorLabel(t *testing.T) {
	doc := `<html><head></head><body><div class="sp-text-block" aria-label="author name">text</div></body></html>`
	e, d := newEngine(t, doc, Config{})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Stop()

	el := d.Body().Children()[0]
	if got := attrOf(t, el, "aria-label"); got != "author name" {
		t.Errorf("author label lost: got %q", got)
	}
	if el.HasAttr("role") {
		t.Error("engine attributes remain")
	}
}

func TestRestart_CleanState(t *testing.T) {
	e, d := newEngine(t, page, Config{})
	if err := e.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	e.Stop()
	if err := e.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	defer e.Stop()

	header := d.Body().Children()[0].Children()[0]
	if got := attrOf(t, header, "role"); got != "heading" {
		t.Errorf("role after restart: got %q", got)
	}
	if got := strings.Count(mustRender(t, d), announce.AssertiveRegionID); got != 1 {
		t.Errorf("assertive region count: got %d, want 1", got)
	}
}

func mustRender(t *testing.T, d *dom.Document) string {
	t.Helper()
	s, err := d.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return s
}

func TestApplyObserved_MirrorAndDivergence(t *testing.T) {
	e, d := newEngine(t, page, Config{})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	header := d.Body().ByClass("sp-header-block")[0]
	err := e.ApplyObserved(mutation.Record{
		Op:    mutation.OpAttr,
		XPath: header.XPath(),
		Name:  "data-state",
		Value: "pinned",
	})
	if err != nil {
		t.Fatalf("ApplyObserved: %v", err)
	}
	if got := attrOf(t, header, "data-state"); got != "pinned" {
		t.Errorf("mirror attr: got %q, want %q", got, "pinned")
	}

	// A record addressing a gone subtree means divergence.
	err = e.ApplyObserved(mutation.Record{
		Op:    mutation.OpAttr,
		XPath: "/html/body/div/section[9]",
		Name:  "class",
		Value: "x",
	})
	if err == nil {
		t.Fatal("unresolvable record: got nil error, want divergence")
	}

	// Navigation records skip the mirror replay entirely.
	if err := e.ApplyObserved(mutation.Record{Op: mutation.OpNavigate, Value: "https://x/2"}); err != nil {
		t.Fatalf("navigate record: %v", err)
	}
}

func TestResetDocument(t *testing.T) {
	e, d := newEngine(t, page, Config{})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	fresh := `<html><head></head><body><div class="sp-frame"><div class="sp-text-block">after reset</div></div></body></html>`
	if err := e.ResetDocument(fresh); err != nil {
		t.Fatalf("ResetDocument: %v", err)
	}

	blocks := d.Body().ByClass("sp-text-block")
	if len(blocks) != 1 {
		t.Fatalf("blocks after reset: got %d, want 1", len(blocks))
	}
	if len(d.Body().ByClass("sp-header-block")) != 0 {
		t.Error("old header survived the reset")
	}
	if e.CursorMode() != cursor.Neutral {
		t.Errorf("cursor mode after reset: got %v, want Neutral", e.CursorMode())
	}
}

func TestBoundCombos(t *testing.T) {
	e, _ := newEngine(t, page, Config{})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer e.Stop()

	combos := e.BoundCombos()
	want := map[string]bool{"alt+n": true, "alt+arrowdown": true, "alt+shift+h": true}
	seen := map[string]bool{}
	for _, c := range combos {
		seen[c] = true
	}
	for c := range want {
		if !seen[c] {
			t.Errorf("combo %q missing from %v", c, combos)
		}
	}
}
