package annotate

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/hazyhaar/ariakeeper/block"
	"github.com/hazyhaar/ariakeeper/dom"
	"github.com/hazyhaar/ariakeeper/guard"
)

// writer batches a single Annotate call's attribute writes and remembers
// which names landed on which element, so protection can cover every
// touched element, not just the root. Host reversion targets
// descendants independently.
type writer struct {
	doc       *dom.Document
	firstPass bool
	touched   map[dom.Element][]string
}

func newWriter(doc *dom.Document) *writer {
	return &writer{doc: doc, touched: make(map[dom.Element][]string)}
}

func (w *writer) set(el dom.Element, name, value string) {
	el.SetAttr(name, value)
	w.touched[el] = append(w.touched[el], name)
}

func (w *writer) protect(b *guard.Bridge) {
	for el, names := range w.touched {
		b.Protect(el, names...)
	}
}

// enhanceFunc is one per-type deep-enhancement routine. Adding a block
// type means adding a table entry here, not new branches at call sites.
type enhanceFunc func(a *Annotator, w *writer, el dom.Element, desc block.Descriptor)

var enhancers = map[block.Type]enhanceFunc{
	block.Header:       enhanceHeading,
	block.SubHeader:    enhanceHeading,
	block.SubSubHeader: enhanceHeading,
	block.ToDo:         enhanceToDo,
	block.Toggle:       enhanceToggle,
	block.Callout:      enhanceCallout,
	block.Collection:   enhanceCollection,
	block.Image:        enhanceImage,
	block.Embed:        enhanceEmbed,
	block.Divider:      enhanceDivider,
}

func enhanceHeading(a *Annotator, w *writer, el dom.Element, desc block.Descriptor) {
	if el.AttrOr("aria-level", "") != strconv.Itoa(desc.HeadingLevel) {
		w.set(el, "aria-level", strconv.Itoa(desc.HeadingLevel))
	}
	a.labelFromExcerpt(w, el, desc)
}

// enhanceToDo reads the checked state from the embedded checkbox: a real
// input's checked attribute, or the host's "checked" class token.
func enhanceToDo(a *Annotator, w *writer, el dom.Element, desc block.Descriptor) {
	checked := "false"
	if _, ok := el.Find(func(d dom.Element) bool {
		if d.Tag() == "input" && d.AttrOr("type", "") == "checkbox" && d.HasAttr("checked") {
			return true
		}
		return d.HasClass("checked")
	}); ok {
		checked = "true"
	}
	if el.AttrOr("aria-checked", "") != checked {
		w.set(el, "aria-checked", checked)
	}
	a.labelFromExcerpt(w, el, desc)
}

// enhanceToggle derives the expanded state from the visibility of the
// block's second child region: the host renders the collapsed content
// region hidden, not absent.
func enhanceToggle(a *Annotator, w *writer, el dom.Element, desc block.Descriptor) {
	content := el.NthChild(1)
	expanded := "false"
	if !content.IsZero() && content.Visible() {
		expanded = "true"
	}
	if el.AttrOr("aria-expanded", "") != expanded {
		w.set(el, "aria-expanded", expanded)
	}
	a.labelFromExcerpt(w, el, desc)
}

// enhanceCallout combines the icon glyph with the excerpt: "⚠ caution"
// reads better than either part alone.
func enhanceCallout(a *Annotator, w *writer, el dom.Element, desc block.Descriptor) {
	label := block.Excerpt(el, a.excerptLen)
	if icon, ok := el.Find(func(d dom.Element) bool {
		for _, c := range d.Classes() {
			if strings.Contains(c, "icon") {
				return true
			}
		}
		return false
	}); ok {
		glyph := icon.Text()
		if glyph != "" && !strings.HasPrefix(label, glyph) {
			label = strings.TrimSpace(glyph + " " + label)
		}
	}
	a.writeLabel(w, el, label, desc)
}

// enhanceCollection names a database block from its title region only.
// The embedded view tabs ("Table view Board view") are navigation chrome,
// never part of the name.
func enhanceCollection(a *Annotator, w *writer, el dom.Element, desc block.Descriptor) {
	label := ""
	if title, ok := el.Find(func(d dom.Element) bool {
		for _, c := range d.Classes() {
			if strings.Contains(c, "title") {
				return true
			}
		}
		return false
	}); ok {
		label = block.Excerpt(title, a.excerptLen)
	}
	a.writeLabel(w, el, label, desc)
}

func enhanceImage(a *Annotator, w *writer, el dom.Element, desc block.Descriptor) {
	label := ""
	if img, ok := el.Find(func(d dom.Element) bool { return d.Tag() == "img" }); ok {
		label = img.AttrOr("alt", "")
	}
	if label == "" {
		if cap, ok := el.Find(func(d dom.Element) bool {
			return d.Tag() == "figcaption" || d.HasClass("caption")
		}); ok {
			label = block.Excerpt(cap, a.excerptLen)
		}
	}
	a.writeLabel(w, el, label, desc)
}

// knownEmbedServices maps iframe source hosts to readable service names.
var knownEmbedServices = map[string]string{
	"youtube.com":      "YouTube",
	"youtu.be":         "YouTube",
	"player.vimeo.com": "Vimeo",
	"vimeo.com":        "Vimeo",
	"twitter.com":      "Twitter",
	"x.com":            "Twitter",
	"figma.com":        "Figma",
	"codepen.io":       "CodePen",
	"open.spotify.com": "Spotify",
	"docs.google.com":  "Google Docs",
	"maps.google.com":  "Google Maps",
}

// enhanceEmbed labels an embedded iframe from its title attribute, or
// infers the service from the source host when the title is missing.
func enhanceEmbed(a *Annotator, w *writer, el dom.Element, desc block.Descriptor) {
	label := ""
	if frame, ok := el.Find(func(d dom.Element) bool { return d.Tag() == "iframe" }); ok {
		label = frame.AttrOr("title", "")
		if label == "" {
			if src, ok := frame.Attr("src"); ok {
				if u, err := url.Parse(src); err == nil {
					host := strings.TrimPrefix(u.Hostname(), "www.")
					if name, known := knownEmbedServices[host]; known {
						label = name + " embed"
					} else if host != "" {
						label = host + " embed"
					}
				}
			}
		}
	}
	a.writeLabel(w, el, label, desc)
}

// enhanceDivider writes no label: a separator announces itself.
func enhanceDivider(_ *Annotator, _ *writer, _ dom.Element, _ block.Descriptor) {}
