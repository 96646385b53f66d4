package block

import (
	"fmt"
	"strings"
	"testing"

	"github.com/hazyhaar/ariakeeper/dom"
)

func docWith(t *testing.T, body string) *dom.Document {
	t.Helper()
	d, err := dom.ParseString("<html><body>" + body + "</body></html>")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	return d
}

func TestClassify_Totality(t *testing.T) {
	c := NewClassifier("sp")
	for _, s := range signatures {
		cls := "sp-" + s.Infix + "-block"
		d := docWith(t, fmt.Sprintf(`<div class=%q></div>`, cls))
		el := d.Body().Children()[0]
		got, ok := c.Classify(el)
		if !ok {
			t.Fatalf("Classify(%s): no match", cls)
		}
		if got != s.Type {
			t.Errorf("Classify(%s): got %s, want %s", cls, got, s.Type)
		}
	}
}

func TestClassify_UnknownIsNotABlock(t *testing.T) {
	c := NewClassifier("sp")
	d := docWith(t, `<div class="toolbar spacer sp-frame"></div>`)
	el := d.Body().Children()[0]
	if _, ok := c.Classify(el); ok {
		t.Error("Classify: matched an unregistered signature")
	}
	if _, ok := c.Classify(dom.Element{}); ok {
		t.Error("Classify: matched the zero element")
	}
}

func TestClassify_HeaderShadowing(t *testing.T) {
	c := NewClassifier("sp")
	cases := map[string]Type{
		"sp-header-block":         Header,
		"sp-sub-header-block":     SubHeader,
		"sp-sub-sub-header-block": SubSubHeader,
	}
	for cls, want := range cases {
		d := docWith(t, fmt.Sprintf(`<div class=%q></div>`, cls))
		el := d.Body().Children()[0]
		got, ok := c.Classify(el)
		if !ok || got != want {
			t.Errorf("Classify(%s): got %s ok=%v, want %s", cls, got, ok, want)
		}
	}
}

func TestClassify_FallbackAcrossPrefixes(t *testing.T) {
	// Classifier configured for "sp" but the host renders "host2".
	c := NewClassifier("sp")
	d := docWith(t, `<div class="host2-to-do-block"></div>`)
	el := d.Body().Children()[0]
	got, ok := c.Classify(el)
	if !ok {
		t.Fatal("Classify: fallback did not match a foreign prefix")
	}
	if got != ToDo {
		t.Errorf("Classify: got %s, want %s", got, ToDo)
	}
}

func TestBlocks_DocumentOrder(t *testing.T) {
	c := NewClassifier("sp")
	d := docWith(t, `
		<div class="sp-header-block">Title</div>
		<div class="sp-text-block">one</div>
		<div class="sp-toggle-block">
			<div class="sp-text-block">nested</div>
		</div>`)
	blocks := c.Blocks(d.Body())
	want := []Type{Header, Text, Toggle, Text}
	if len(blocks) != len(want) {
		t.Fatalf("Blocks: got %d, want %d", len(blocks), len(want))
	}
	for i, w := range want {
		if blocks[i].Type != w {
			t.Errorf("block %d: got %s, want %s", i, blocks[i].Type, w)
		}
	}
}

func TestDescriptors_Complete(t *testing.T) {
	for _, typ := range RegisteredTypes() {
		desc := Describe(typ)
		if desc.Role == "" {
			t.Errorf("Describe(%s): empty role", typ)
		}
		if desc.Description == "" {
			t.Errorf("Describe(%s): empty description", typ)
		}
	}
	if lvl := Describe(Header).HeadingLevel; lvl != 1 {
		t.Errorf("Header level: got %d, want 1", lvl)
	}
	if lvl := Describe(SubSubHeader).HeadingLevel; lvl != 3 {
		t.Errorf("SubSubHeader level: got %d, want 3", lvl)
	}
	if !Describe(Toggle).HasExpandState {
		t.Error("Toggle should carry the expand-state flag")
	}
	if !Describe(ToDo).HasCheckedState {
		t.Error("ToDo should carry the checked-state flag")
	}
}

func TestExcerpt_Truncation(t *testing.T) {
	long := strings.Repeat("ab", 100)
	d := docWith(t, fmt.Sprintf(`<div class="sp-text-block">%s</div>`, long))
	el := d.Body().Children()[0]

	got := Excerpt(el, 10)
	runes := []rune(got)
	if len(runes) != 11 {
		t.Fatalf("Excerpt: got %d runes, want 10 + ellipsis", len(runes))
	}
	if !strings.HasSuffix(got, Ellipsis) {
		t.Errorf("Excerpt: missing ellipsis in %q", got)
	}
	if got[:10] != long[:10] {
		t.Errorf("Excerpt: got prefix %q, want %q", got[:10], long[:10])
	}
}

func TestExcerpt_UnderLimitUnchanged(t *testing.T) {
	d := docWith(t, `<div class="sp-text-block">short text</div>`)
	el := d.Body().Children()[0]
	if got := Excerpt(el, 80); got != "short text" {
		t.Errorf("Excerpt: got %q, want %q", got, "short text")
	}
	if got := Excerpt(el, 10); got != "short text" {
		t.Errorf("Excerpt at exact limit: got %q, want %q", got, "short text")
	}
}

func TestExcerpt_Empty(t *testing.T) {
	d := docWith(t, `<div class="sp-text-block"></div>`)
	el := d.Body().Children()[0]
	if got := Excerpt(el, 80); got != "" {
		t.Errorf("Excerpt of empty block: got %q, want empty", got)
	}
	if got := Excerpt(dom.Element{}, 80); got != "" {
		t.Errorf("Excerpt of zero element: got %q, want empty", got)
	}
}

func TestExcerpt_PrefersEditableRegion(t *testing.T) {
	d := docWith(t, `<div class="sp-collection-view-block">
		<div class="view-tabs">Table view Board view</div>
		<div contenteditable="true">Projects</div>
	</div>`)
	el := d.Body().Children()[0]
	if got := Excerpt(el, 80); got != "Projects" {
		t.Errorf("Excerpt: got %q, want %q", got, "Projects")
	}
}
