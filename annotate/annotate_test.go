package annotate

import (
	"strings"
	"testing"

	"github.com/hazyhaar/ariakeeper/block"
	"github.com/hazyhaar/ariakeeper/dom"
	"github.com/hazyhaar/ariakeeper/guard"
	"github.com/hazyhaar/ariakeeper/mutation"
)

type fixture struct {
	doc   *dom.Document
	g     *guard.Guard
	ann   *Annotator
	t     *testing.T
	close func()
}

func newFixture(t *testing.T, body string) *fixture {
	t.Helper()
	d, err := dom.ParseString("<html><body>" + body + "</body></html>")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	g := guard.InstallGuard(d)
	ann := New(block.NewClassifier("sp"), guard.NewBridge(d))
	f := &fixture{doc: d, g: g, ann: ann, t: t, close: g.Uninstall}
	t.Cleanup(f.close)
	return f
}

func (f *fixture) firstBlock() dom.Element {
	return f.doc.Body().Children()[0]
}

func attrOf(t *testing.T, el dom.Element, name string) string {
	t.Helper()
	v, _ := el.Attr(name)
	return v
}

func TestAnnotate_Basic(t *testing.T) {
	f := newFixture(t, `<div class="sp-text-block">hello world</div>`)
	el := f.firstBlock()
	if err := f.ann.Annotate(el); err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if got := attrOf(t, el, "role"); got != "article" {
		t.Errorf("role: got %q, want article", got)
	}
	if got := attrOf(t, el, "aria-label"); got != "hello world" {
		t.Errorf("aria-label: got %q", got)
	}
	if !el.HasAttr(Marker) {
		t.Error("marker not set")
	}
	if !f.g.Protected(el) {
		t.Error("annotated element not registered with the bridge")
	}
}

func TestAnnotate_Idempotent(t *testing.T) {
	f := newFixture(t, `<div class="sp-header-block">Title</div>`)
	el := f.firstBlock()

	if err := f.ann.Annotate(el); err != nil {
		t.Fatalf("first Annotate: %v", err)
	}
	first, err := el.RenderElement()
	if err != nil {
		t.Fatalf("RenderElement: %v", err)
	}

	var writes int
	f.doc.SetNotify(func(r mutation.Record) {
		if r.Op == mutation.OpAttr || r.Op == mutation.OpAttrDel {
			writes++
		}
	})
	if err := f.ann.Annotate(el); err != nil {
		t.Fatalf("second Annotate: %v", err)
	}
	second, _ := el.RenderElement()

	if first != second {
		t.Errorf("attributes drifted:\nfirst:  %s\nsecond: %s", first, second)
	}
	if writes != 0 {
		t.Errorf("second Annotate emitted %d attribute writes, want 0", writes)
	}
	if got := f.g.Len(); got != 1 {
		t.Errorf("protection registrations: got %d, want 1", got)
	}
}

func TestAnnotate_NonBlockSkipped(t *testing.T) {
	f := newFixture(t, `<div class="toolbar"></div>`)
	el := f.firstBlock()
	if err := f.ann.Annotate(el); err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if el.HasAttr("role") || el.HasAttr(Marker) {
		t.Error("non-block was annotated")
	}
}

func TestAnnotate_Heading(t *testing.T) {
	f := newFixture(t, `<div class="sp-sub-header-block">Section</div>`)
	el := f.firstBlock()
	f.ann.Annotate(el)
	if got := attrOf(t, el, "role"); got != "heading" {
		t.Errorf("role: got %q", got)
	}
	if got := attrOf(t, el, "aria-level"); got != "2" {
		t.Errorf("aria-level: got %q, want 2", got)
	}
}

func TestAnnotate_EmptyBlockLabeled(t *testing.T) {
	f := newFixture(t, `<div class="sp-text-block"></div>`)
	el := f.firstBlock()
	f.ann.Annotate(el)
	if got := attrOf(t, el, "aria-label"); got != "text (empty)" {
		t.Errorf("aria-label: got %q, want %q", got, "text (empty)")
	}
}

func TestAnnotate_AuthorNameRespected(t *testing.T) {
	f := newFixture(t, `<div class="sp-text-block" aria-label="author name">body text</div>`)
	el := f.firstBlock()
	f.ann.Annotate(el)
	if got := attrOf(t, el, "aria-label"); got != "author name" {
		t.Errorf("aria-label: got %q, want the author's name kept", got)
	}

	// Still kept on a later pass, not replaced by the excerpt.
	f.ann.Annotate(el)
	if got := attrOf(t, el, "aria-label"); got != "author name" {
		t.Errorf("aria-label after re-annotation: got %q", got)
	}
}

func TestAnnotate_KnownBadNameReplaced(t *testing.T) {
	f := newFixture(t, `<div class="sp-text-block" aria-label="touch">real content</div>`)
	el := f.firstBlock()
	f.ann.Annotate(el)
	if got := attrOf(t, el, "aria-label"); got != "real content" {
		t.Errorf("aria-label: got %q, want placeholder replaced", got)
	}
}

func TestAnnotate_ToDoChecked(t *testing.T) {
	f := newFixture(t, `<div class="sp-to-do-block"><input type="checkbox" checked><span>buy milk</span></div>`)
	el := f.firstBlock()
	f.ann.Annotate(el)
	if got := attrOf(t, el, "aria-checked"); got != "true" {
		t.Errorf("aria-checked: got %q, want true", got)
	}

	f2 := newFixture(t, `<div class="sp-to-do-block"><input type="checkbox"><span>buy milk</span></div>`)
	el2 := f2.firstBlock()
	f2.ann.Annotate(el2)
	if got := attrOf(t, el2, "aria-checked"); got != "false" {
		t.Errorf("aria-checked: got %q, want false", got)
	}
}

func TestAnnotate_ToggleState(t *testing.T) {
	f := newFixture(t, `<div class="sp-toggle-block">
		<div class="toggle-title">Details</div>
		<div class="toggle-content" style="display:none">hidden body</div>
	</div>`)
	el := f.firstBlock()
	f.ann.Annotate(el)
	if got := attrOf(t, el, "aria-expanded"); got != "false" {
		t.Errorf("aria-expanded collapsed: got %q, want false", got)
	}

	// Host expands the toggle: content region becomes visible.
	content := el.NthChild(1)
	f.doc.HostSetAttribute(content, "style", "")
	f.ann.Annotate(el)
	if got := attrOf(t, el, "aria-expanded"); got != "true" {
		t.Errorf("aria-expanded expanded: got %q, want true", got)
	}
}

func TestAnnotate_CalloutGlyph(t *testing.T) {
	f := newFixture(t, `<div class="sp-callout-block">
		<div class="callout-icon">⚠</div>
		<div contenteditable="true">mind the gap</div>
	</div>`)
	el := f.firstBlock()
	f.ann.Annotate(el)
	got := attrOf(t, el, "aria-label")
	if !strings.HasPrefix(got, "⚠") || !strings.Contains(got, "mind the gap") {
		t.Errorf("aria-label: got %q, want glyph + excerpt", got)
	}
}

func TestAnnotate_CollectionTitleOnly(t *testing.T) {
	f := newFixture(t, `<div class="sp-collection-view-block">
		<div class="collection-title">Projects</div>
		<div class="view-tabs">Table view Board view</div>
	</div>`)
	el := f.firstBlock()
	f.ann.Annotate(el)
	if got := attrOf(t, el, "aria-label"); got != "Projects" {
		t.Errorf("aria-label: got %q, want title region only", got)
	}
}

func TestAnnotate_EmbedFromTitle(t *testing.T) {
	f := newFixture(t, `<div class="sp-embed-block"><iframe title="Quarterly deck" src="https://example.com/x"></iframe></div>`)
	el := f.firstBlock()
	f.ann.Annotate(el)
	if got := attrOf(t, el, "aria-label"); got != "Quarterly deck" {
		t.Errorf("aria-label: got %q", got)
	}
}

func TestAnnotate_EmbedFromKnownHost(t *testing.T) {
	f := newFixture(t, `<div class="sp-embed-block"><iframe src="https://www.youtube.com/embed/abc"></iframe></div>`)
	el := f.firstBlock()
	f.ann.Annotate(el)
	if got := attrOf(t, el, "aria-label"); got != "YouTube embed" {
		t.Errorf("aria-label: got %q, want YouTube embed", got)
	}
}

func TestAnnotate_ProtectsDescendants(t *testing.T) {
	f := newFixture(t, `<div class="sp-toggle-block">
		<div class="toggle-title">Details</div>
		<div class="toggle-content">body</div>
	</div>`)
	el := f.firstBlock()
	f.ann.Annotate(el)

	// Host tries to revert the root's role.
	f.doc.HostRemoveAttribute(el, "role")
	if got := attrOf(t, el, "role"); got != "button" {
		t.Errorf("role after host revert: got %q, want button", got)
	}
}

func TestScanSubtree_CountsAndSeenSet(t *testing.T) {
	f := newFixture(t, `
		<div class="sp-header-block">One</div>
		<div class="sp-text-block">Two</div>
		<div class="sp-toggle-block"><div class="sp-text-block">Three</div></div>`)

	seen := make(map[dom.Element]struct{})
	got := f.ann.ScanSubtree(f.doc.Body(), seen)
	if got != 4 {
		t.Fatalf("ScanSubtree: got %d blocks, want 4", got)
	}

	// Re-scanning an overlapping subtree within the same batch does
	// nothing: every element is already in the seen set.
	again := f.ann.ScanSubtree(f.doc.Body().Children()[2], seen)
	if again != 0 {
		t.Errorf("overlapping rescan: got %d, want 0", again)
	}
}

func TestScanSubtree_BareTextboxAndImage(t *testing.T) {
	f := newFixture(t, `
		<div class="note-area" contenteditable="true">free text</div>
		<img src="photo.png">`)
	f.ann.ScanSubtree(f.doc.Body(), nil)

	tb := f.doc.Body().Children()[0]
	if got := attrOf(t, tb, "role"); got != "textbox" {
		t.Errorf("bare editable role: got %q, want textbox", got)
	}
	img := f.doc.Body().Children()[1]
	if got := attrOf(t, img, "aria-label"); got != "image (no description)" {
		t.Errorf("bare image label: got %q", got)
	}
}
