package guard

import "github.com/hazyhaar/ariakeeper/dom"

// Bridge is the privileged-context side of the protocol. It holds no
// registry reference; protect requests travel as DOM events on the target
// element, the only channel the two realms share.
type Bridge struct {
	doc *dom.Document
}

// NewBridge creates the privileged-side handle for a document.
func NewBridge(doc *dom.Document) *Bridge {
	return &Bridge{doc: doc}
}

// Protect registers the attribute names as immune to host-realm reversion
// on el. With no names, the full guarded set is registered. Delivery is
// synchronous: when Protect returns, the registration is already in
// force, ahead of any microtask-scheduled host revert.
func (b *Bridge) Protect(el dom.Element, names ...string) {
	if el.IsZero() {
		return
	}
	if len(names) == 0 {
		names = GuardedAttributes
	}
	b.doc.DispatchEvent(dom.Event{Type: EventProtect, Target: el, Detail: names})
}

// Unprotect removes el's protection entirely. Used at teardown.
func (b *Bridge) Unprotect(el dom.Element) {
	if el.IsZero() {
		return
	}
	b.doc.DispatchEvent(dom.Event{Type: EventUnprotect, Target: el})
}
