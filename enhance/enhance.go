// Package enhance applies page-level accessibility enhancements: landmark
// roles and labels for the host app's chrome regions. The host replaces
// these regions wholesale rather than patching them, so the full list is
// re-run after every reconciliation pass; every write is a no-op when the
// attribute already holds the target value.
package enhance

import (
	"log/slog"
	"strings"

	"github.com/hazyhaar/ariakeeper/announce"
	"github.com/hazyhaar/ariakeeper/dom"
	"github.com/hazyhaar/ariakeeper/guard"
)

// NotifyFunc emits user-facing status text through the live announcer.
type NotifyFunc func(text string, p announce.Priority)

// Enhancer runs the fixed list of page-level enhancements. It remembers
// whether the missing main-content warning has fired so the report goes
// out once per page, not once per pass.
type Enhancer struct {
	prefix       string
	bridge       *guard.Bridge
	notify       NotifyFunc
	logger       *slog.Logger
	mainReported bool
}

// Option configures an Enhancer.
type Option func(*Enhancer)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Enhancer) { e.logger = l }
}

// WithNotify routes status text to the live announcer.
func WithNotify(fn NotifyFunc) Option {
	return func(e *Enhancer) { e.notify = fn }
}

// New returns an Enhancer for class tokens carrying the given prefix.
// An empty prefix selects the default "sp".
func New(prefix string, bridge *guard.Bridge, opts ...Option) *Enhancer {
	if prefix == "" {
		prefix = "sp"
	}
	e := &Enhancer{
		prefix: prefix,
		bridge: bridge,
		notify: func(string, announce.Priority) {},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes every page-level enhancement in order. Structural block
// annotation must already have happened for the current pass.
func (e *Enhancer) Run(doc *dom.Document) {
	if doc == nil {
		return
	}
	body := doc.Body()
	if body.IsZero() {
		return
	}
	e.labelMain(body)
	e.labelSidebar(body)
	e.labelTopbar(body)
	e.labelBreadcrumb(body)
	e.labelSidePanel(body)
	e.labelHomeSections(body)
}

// Reset re-arms the one-shot missing-main report. Called on host
// navigation: the new page gets its own diagnosis.
func (e *Enhancer) Reset() {
	e.mainReported = false
}

// byClassToken finds the first element carrying the prefixed class token.
func (e *Enhancer) byClassToken(root dom.Element, token string) (dom.Element, bool) {
	return root.Find(func(d dom.Element) bool {
		return d.HasClass(e.prefix + "-" + token)
	})
}

// label sets a role and accessible name, protecting what it touched.
// An existing author-provided aria-label wins over ours.
func (e *Enhancer) label(el dom.Element, role, name string) {
	var touched []string
	if el.AttrOr("role", "") != role {
		el.SetAttr("role", role)
	}
	touched = append(touched, "role")
	if name != "" && !el.HasAttr("aria-label") {
		el.SetAttr("aria-label", name)
		touched = append(touched, "aria-label")
	}
	e.bridge.Protect(el, touched...)
}

// labelMain marks the page-content frame as the main landmark. A page
// with no recognizable frame is reported once on the assertive channel:
// the user should know navigation will not work here.
func (e *Enhancer) labelMain(body dom.Element) {
	frame, ok := e.byClassToken(body, "frame")
	if !ok {
		frame, ok = body.Find(func(d dom.Element) bool {
			return d.Tag() == "main" || d.AttrOr("role", "") == "main"
		})
	}
	if !ok {
		if !e.mainReported {
			e.mainReported = true
			e.logger.Warn("enhance: no main content region found")
			e.notify("main content region not found", announce.Assertive)
		}
		return
	}
	e.label(frame, "main", "page content")
}

func (e *Enhancer) labelSidebar(body dom.Element) {
	if sb, ok := e.byClassToken(body, "sidebar"); ok {
		e.label(sb, "navigation", "sidebar")
	}
}

func (e *Enhancer) labelTopbar(body dom.Element) {
	if tb, ok := e.byClassToken(body, "topbar"); ok {
		e.label(tb, "banner", "top bar")
	}
}

// labelBreadcrumb marks the breadcrumb trail and gives its entries link
// roles, so the path reads as "navigation, breadcrumb" with each ancestor
// page reachable.
func (e *Enhancer) labelBreadcrumb(body dom.Element) {
	crumb, ok := body.Find(func(d dom.Element) bool {
		for _, c := range d.Classes() {
			if strings.Contains(c, "breadcrumb") {
				return true
			}
		}
		return false
	})
	if !ok {
		return
	}
	e.label(crumb, "navigation", "breadcrumb")
	for _, entry := range crumb.Children() {
		if entry.HasAttr("role") || entry.Text() == "" {
			continue
		}
		entry.SetAttr("role", "link")
		e.bridge.Protect(entry, "role")
	}
}

func (e *Enhancer) labelSidePanel(body dom.Element) {
	if sp, ok := e.byClassToken(body, "side-panel"); ok {
		e.label(sp, "complementary", "side panel")
	}
}

// labelHomeSections gives each home-page section a region role named
// after its title element, so the sections are reachable by landmark
// navigation instead of reading as one flat list.
func (e *Enhancer) labelHomeSections(body dom.Element) {
	sections := body.FindAll(func(d dom.Element) bool {
		return d.HasClass(e.prefix + "-home-section")
	})
	for _, sec := range sections {
		name := ""
		if title, ok := sec.Find(func(d dom.Element) bool {
			for _, c := range d.Classes() {
				if strings.Contains(c, "title") {
					return true
				}
			}
			return false
		}); ok {
			name = title.Text()
		}
		e.label(sec, "region", name)
	}
}
