package enhance

import (
	"testing"

	"github.com/hazyhaar/ariakeeper/announce"
	"github.com/hazyhaar/ariakeeper/dom"
	"github.com/hazyhaar/ariakeeper/guard"
	"github.com/hazyhaar/ariakeeper/mutation"
)

func newDoc(t *testing.T, body string) *dom.Document {
	t.Helper()
	d, err := dom.ParseString("<html><body>" + body + "</body></html>")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	return d
}

func attrOf(t *testing.T, el dom.Element, name string) string {
	t.Helper()
	v, _ := el.Attr(name)
	return v
}

func findClass(t *testing.T, d *dom.Document, class string) dom.Element {
	t.Helper()
	el, ok := d.Body().Find(func(e dom.Element) bool { return e.HasClass(class) })
	if !ok {
		t.Fatalf("no element with class %q", class)
	}
	return el
}

func TestRun_Landmarks(t *testing.T) {
	d := newDoc(t, `
		<div class="sp-sidebar">nav tree</div>
		<div class="sp-topbar"><div class="topbar-breadcrumb">
			<div>Home</div><div>Projects</div>
		</div></div>
		<div class="sp-frame">content</div>
		<div class="sp-side-panel">comments</div>`)
	e := New("sp", guard.NewBridge(d))
	e.Run(d)

	cases := []struct {
		class, role, label string
	}{
		{"sp-frame", "main", "page content"},
		{"sp-sidebar", "navigation", "sidebar"},
		{"sp-topbar", "banner", "top bar"},
		{"topbar-breadcrumb", "navigation", "breadcrumb"},
		{"sp-side-panel", "complementary", "side panel"},
	}
	for _, c := range cases {
		el := findClass(t, d, c.class)
		if got := attrOf(t, el, "role"); got != c.role {
			t.Errorf("%s role: got %q, want %q", c.class, got, c.role)
		}
		if got := attrOf(t, el, "aria-label"); got != c.label {
			t.Errorf("%s aria-label: got %q, want %q", c.class, got, c.label)
		}
	}

	crumb := findClass(t, d, "topbar-breadcrumb")
	for i, entry := range crumb.Children() {
		if got := attrOf(t, entry, "role"); got != "link" {
			t.Errorf("breadcrumb entry %d role: got %q, want link", i, got)
		}
	}
}

func TestRun_Idempotent(t *testing.T) {
	d := newDoc(t, `<div class="sp-frame">content</div><div class="sp-sidebar">nav</div>`)
	e := New("sp", guard.NewBridge(d))
	e.Run(d)

	var writes int
	d.SetNotify(func(r mutation.Record) {
		if r.Op == mutation.OpAttr || r.Op == mutation.OpAttrDel {
			writes++
		}
	})
	e.Run(d)
	if writes != 0 {
		t.Errorf("second Run emitted %d attribute writes, want 0", writes)
	}
}

func TestRun_AuthorLabelKept(t *testing.T) {
	d := newDoc(t, `<div class="sp-frame" aria-label="Meeting notes">content</div>`)
	e := New("sp", guard.NewBridge(d))
	e.Run(d)
	if got := attrOf(t, findClass(t, d, "sp-frame"), "aria-label"); got != "Meeting notes" {
		t.Errorf("aria-label: got %q, want the author's label kept", got)
	}
}

func TestRun_MissingMainReportedOnce(t *testing.T) {
	d := newDoc(t, `<div class="sp-sidebar">nav only</div>`)
	var reports []string
	e := New("sp", guard.NewBridge(d), WithNotify(func(text string, p announce.Priority) {
		if p != announce.Assertive {
			t.Errorf("priority: got %q, want assertive", p)
		}
		reports = append(reports, text)
	}))

	e.Run(d)
	e.Run(d)
	if len(reports) != 1 {
		t.Fatalf("reports: got %d, want 1", len(reports))
	}

	// Navigation re-arms the report for the next page.
	e.Reset()
	e.Run(d)
	if len(reports) != 2 {
		t.Errorf("reports after reset: got %d, want 2", len(reports))
	}
}

func TestRun_ProtectsLandmarks(t *testing.T) {
	d := newDoc(t, `<div class="sp-frame">content</div>`)
	g := guard.InstallGuard(d)
	defer g.Uninstall()

	e := New("sp", guard.NewBridge(d))
	e.Run(d)

	frame := findClass(t, d, "sp-frame")
	d.HostRemoveAttribute(frame, "role")
	if got := attrOf(t, frame, "role"); got != "main" {
		t.Errorf("role after host revert: got %q, want main", got)
	}
}

func TestRun_HomeSections(t *testing.T) {
	d := newDoc(t, `
		<div class="sp-frame">
			<div class="sp-home-section"><div class="section-title">Recently visited</div></div>
			<div class="sp-home-section"><div class="section-title">Upcoming events</div></div>
		</div>`)
	e := New("sp", guard.NewBridge(d))
	e.Run(d)

	sections := d.Body().FindAll(func(el dom.Element) bool { return el.HasClass("sp-home-section") })
	if len(sections) != 2 {
		t.Fatalf("sections: got %d, want 2", len(sections))
	}
	want := []string{"Recently visited", "Upcoming events"}
	for i, sec := range sections {
		if got := attrOf(t, sec, "role"); got != "region" {
			t.Errorf("section %d role: got %q, want region", i, got)
		}
		if got := attrOf(t, sec, "aria-label"); got != want[i] {
			t.Errorf("section %d aria-label: got %q, want %q", i, got, want[i])
		}
	}
}
