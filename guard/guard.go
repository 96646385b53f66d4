// Package guard implements the attribute-protection bridge between the
// privileged context (the engine) and the host realm (the page's own
// scripts). The host app runs a defensive mutation observer that reverts
// attribute changes it did not make; the guard wraps the attribute
// primitives as seen from the host realm so those reverts are dropped for
// protected elements, while the privileged context's own writes keep
// using the original primitives.
//
// Membership is communicated over DOM-level events, never by sharing
// registry references: the two realms share nothing but the DOM itself.
// Event delivery is synchronous within the dispatching turn, and the
// host's revert logic is scheduled as a microtask after that turn, so
// protection is always in force before the first revert can run. The
// same protocol is installed into a real page by the embedded guard.js.
package guard

import (
	_ "embed"
	"log/slog"
	"sync"

	"golang.org/x/net/html"

	"github.com/hazyhaar/ariakeeper/dom"
)

// GuardedAttributes is the fixed, named set of attributes the guard
// defends. It is data: the wrappers and guard.js both consume this list,
// nothing else hard-codes attribute names.
var GuardedAttributes = []string{
	"role",
	"aria-label",
	"aria-level",
	"aria-expanded",
	"aria-checked",
	"aria-roledescription",
	"aria-describedby",
	"data-ak-annotated",
}

// Event types of the cross-realm protocol.
const (
	EventProtect   = "ak-protect"
	EventUnprotect = "ak-unprotect"
)

// PageScript is the host-realm half of the protocol for live pages:
// it wraps Element.prototype.setAttribute/removeAttribute and listens
// for the protect events. Installed once per page by the live session.
//
//go:embed guard.js
var PageScript []byte

// installed tracks guards per document so a second InstallGuard returns
// the existing guard instead of double-wrapping the primitives.
var (
	installedMu sync.Mutex
	installed   = map[*dom.Document]*Guard{}
)

// Guard is the installed host-realm wrapper pair plus its registry.
type Guard struct {
	doc        *dom.Document
	reg        *registry
	origSet    func(dom.Element, string, string)
	origRemove func(dom.Element, string)
	logger     *slog.Logger
	guarded    map[string]bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

// InstallGuard wraps the document's host-realm attribute primitives and
// registers the protect-event listeners. Installing twice on the same
// document is a no-op returning the existing guard.
func InstallGuard(doc *dom.Document, opts ...Option) *Guard {
	installedMu.Lock()
	defer installedMu.Unlock()
	if g, ok := installed[doc]; ok {
		return g
	}

	g := &Guard{
		doc:     doc,
		reg:     newRegistry(),
		logger:  slog.Default(),
		guarded: make(map[string]bool, len(GuardedAttributes)),
	}
	for _, o := range opts {
		o(g)
	}
	for _, name := range GuardedAttributes {
		g.guarded[name] = true
	}

	g.origSet, g.origRemove = doc.HostPrimitives()
	doc.SetHostPrimitives(g.hostSet, g.hostRemove)

	doc.AddEventListener(EventProtect, func(ev dom.Event) {
		g.reg.add(ev.Target.Node(), ev.Detail)
	})
	doc.AddEventListener(EventUnprotect, func(ev dom.Event) {
		g.reg.remove(ev.Target.Node())
	})

	installed[doc] = g
	g.logger.Debug("guard: installed", "guarded_attrs", len(GuardedAttributes))
	return g
}

// hostSet is the wrapped attribute-set primitive. Host-context writes to
// a protected name on a protected element are silently dropped; anything
// else falls through to the original primitive.
func (g *Guard) hostSet(el dom.Element, name, value string) {
	if g.guarded[name] && g.reg.protects(el.Node(), name) {
		g.logger.Debug("guard: dropped host set", "attr", name, "xpath", el.XPath())
		return
	}
	g.origSet(el, name, value)
}

// hostRemove is the wrapped attribute-remove primitive.
func (g *Guard) hostRemove(el dom.Element, name string) {
	if g.guarded[name] && g.reg.protects(el.Node(), name) {
		g.logger.Debug("guard: dropped host remove", "attr", name, "xpath", el.XPath())
		return
	}
	g.origRemove(el, name)
}

// Protected reports whether the element currently has protected entries.
func (g *Guard) Protected(el dom.Element) bool {
	return g.reg.has(el.Node())
}

// Len returns the number of live registry entries.
func (g *Guard) Len() int {
	return g.reg.len()
}

// Each visits every protected element with its protected attribute
// names. The engine uses it at teardown to strip the attributes it
// wrote, since the registry holds exactly the names the engine set.
func (g *Guard) Each(fn func(el dom.Element, names []string)) {
	g.reg.each(func(n *html.Node, names []string) {
		fn(g.doc.Wrap(n), names)
	})
}

// Uninstall restores the original primitives, removes the event
// listeners, and empties the registry. Idempotent.
func (g *Guard) Uninstall() {
	installedMu.Lock()
	defer installedMu.Unlock()
	if installed[g.doc] != g {
		return
	}
	g.doc.SetHostPrimitives(g.origSet, g.origRemove)
	g.doc.RemoveEventListeners(EventProtect)
	g.doc.RemoveEventListeners(EventUnprotect)
	g.reg.clear()
	delete(installed, g.doc)
	g.logger.Debug("guard: uninstalled")
}
