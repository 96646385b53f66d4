// Package annotate writes accessibility semantics onto classified blocks:
// role, accessible name, heading level, and per-type state, all
// idempotently. Every attribute it writes is registered with the
// protection bridge so the host app's defensive reverts cannot undo it.
package annotate

import (
	"fmt"
	"log/slog"

	"github.com/hazyhaar/ariakeeper/block"
	"github.com/hazyhaar/ariakeeper/dom"
	"github.com/hazyhaar/ariakeeper/guard"
)

// Marker is the annotation-marker attribute: its presence records that
// the element was processed this lifecycle.
const Marker = "data-ak-annotated"

// MarkerAuthorNamed records that the element carried an author-provided
// accessible name at first annotation. Later passes leave that name
// alone instead of replacing it with the current excerpt.
const MarkerAuthorNamed = "data-ak-author-named"

// knownBadNames are placeholder accessible names the host app leaves on
// some widgets. They convey nothing, so the annotator replaces them with
// a type-appropriate guess instead of treating them as author intent.
var knownBadNames = map[string]bool{
	"touch":  true,
	"button": true,
	"image":  true,
	"img":    true,
}

// Annotator applies per-type enhancement routines. It owns no state
// beyond its collaborators; idempotence comes from the marker attribute
// and the no-op write semantics of the document layer.
type Annotator struct {
	classifier *block.Classifier
	bridge     *guard.Bridge
	logger     *slog.Logger
	excerptLen int
}

// Option configures an Annotator.
type Option func(*Annotator)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Annotator) { a.logger = l }
}

// WithExcerptLen overrides the label excerpt budget.
func WithExcerptLen(n int) Option {
	return func(a *Annotator) { a.excerptLen = n }
}

// New creates an Annotator.
func New(classifier *block.Classifier, bridge *guard.Bridge, opts ...Option) *Annotator {
	a := &Annotator{
		classifier: classifier,
		bridge:     bridge,
		logger:     slog.Default(),
		excerptLen: block.DefaultExcerptLen,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Annotate classifies and annotates a single element. Non-blocks are
// skipped silently. The per-type enhancement routine always runs (the
// block's content may have changed since the last pass); structural
// role/description assignment is skipped when already correct. Panics
// and errors are contained here: one broken element never aborts a scan.
func (a *Annotator) Annotate(el dom.Element) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("annotate: %v", r)
		}
	}()

	t, ok := a.classifier.Classify(el)
	if !ok {
		return nil
	}
	desc := block.Describe(t)
	w := newWriter(el.Doc())
	w.firstPass = !el.HasAttr(Marker)

	// Structural assignment: role and type description, skipped when
	// already correct.
	if el.AttrOr("role", "") != desc.Role {
		w.set(el, "role", desc.Role)
	}
	if el.AttrOr("aria-roledescription", "") != desc.Description {
		w.set(el, "aria-roledescription", desc.Description)
	}

	if fn, ok := enhancers[t]; ok {
		fn(a, w, el, desc)
	} else {
		a.labelFromExcerpt(w, el, desc)
	}

	// Marker goes last: a panic above leaves the element unmarked, so
	// the next pass retries it.
	w.set(el, Marker, string(t))
	w.protect(a.bridge)
	return nil
}

// ScanSubtree annotates every block, textbox, and image under root
// (root included), at most once per batch via the shared seen set. Pass
// nil for a one-shot scan. Returns the number of blocks annotated;
// per-element failures are logged and skipped.
func (a *Annotator) ScanSubtree(root dom.Element, seen map[dom.Element]struct{}) int {
	if root.IsZero() {
		return 0
	}
	if seen == nil {
		seen = make(map[dom.Element]struct{})
	}
	count := 0
	root.Walk(func(el dom.Element) bool {
		if _, dup := seen[el]; dup {
			return true
		}
		seen[el] = struct{}{}

		if _, isBlock := a.classifier.Classify(el); isBlock {
			if err := a.Annotate(el); err != nil {
				a.logger.Warn("annotate: element failed", "xpath", el.XPath(), "error", err)
			} else {
				count++
			}
			return true
		}
		a.annotateBareEditable(el)
		a.annotateBareImage(el)
		return true
	})
	return count
}

// AnnotateEnclosing re-annotates the nearest enclosing block of el, el
// included. No-op when el sits outside any block.
func (a *Annotator) AnnotateEnclosing(el dom.Element) error {
	b, ok := el.Closest(func(d dom.Element) bool {
		_, isBlock := a.classifier.Classify(d)
		return isBlock
	})
	if !ok {
		return nil
	}
	return a.Annotate(b)
}

// annotateBareEditable gives naked contenteditable regions a textbox role
// so they are reachable outside any block context.
func (a *Annotator) annotateBareEditable(el dom.Element) {
	v, ok := el.Attr("contenteditable")
	if !ok || v == "false" {
		return
	}
	if el.HasAttr("role") {
		return
	}
	w := newWriter(el.Doc())
	w.set(el, "role", "textbox")
	w.set(el, "aria-multiline", "true")
	w.protect(a.bridge)
}

// annotateBareImage labels images that have no alt text and no block
// wrapper, so they stop being announced as bare filenames.
func (a *Annotator) annotateBareImage(el dom.Element) {
	if el.Tag() != "img" {
		return
	}
	if alt, ok := el.Attr("alt"); ok && alt != "" {
		return
	}
	if el.HasAttr("aria-label") {
		return
	}
	w := newWriter(el.Doc())
	w.set(el, "aria-label", "image (no description)")
	w.protect(a.bridge)
}

// labelFromExcerpt is the default naming rule: the block's excerpt, or
// the type description with an explicit "(empty)" qualifier, so nothing
// is ever left unlabeled.
func (a *Annotator) labelFromExcerpt(w *writer, el dom.Element, desc block.Descriptor) {
	a.writeLabel(w, el, block.Excerpt(el, a.excerptLen), desc)
}

// writeLabel applies the naming edge-case policy: author-provided names
// are respected unless they match a known-bad placeholder.
func (a *Annotator) writeLabel(w *writer, el dom.Element, label string, desc block.Descriptor) {
	if el.HasAttr(MarkerAuthorNamed) {
		return
	}
	if existing, ok := el.Attr("aria-label"); ok && w.firstPass && !knownBadNames[existing] {
		w.set(el, MarkerAuthorNamed, "true")
		return
	}
	if label == "" {
		label = desc.Description + " (empty)"
	}
	if el.AttrOr("aria-label", "") != label {
		w.set(el, "aria-label", label)
	}
}
