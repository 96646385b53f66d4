// Package dom provides a mutable document layer over golang.org/x/net/html.
//
// It is the engine's view of the host page: in static mode the document is
// the page, in live mode it is a mirror maintained from the injected
// observer's mutation records, with privileged attribute writes pushed back
// out through an applier hook.
//
// A Document is not safe for concurrent use. The engine serialises all
// access on the reconciliation goroutine, matching the single-threaded
// cooperative model of the environment it mirrors.
package dom

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/ariakeeper/mutation"
)

// NotifyFunc receives a record for every tree mutation, the in-process
// analogue of a MutationObserver callback.
type NotifyFunc func(mutation.Record)

// ApplyFunc receives records for privileged writes only, so a live
// session can replay them against the real page.
type ApplyFunc func(mutation.Record)

// Event is a synchronous DOM-level notification dispatched on an element
// and delivered to document-level listeners, the analogue of a capturing
// CustomEvent listener. It is the only channel the privileged side uses
// to talk to code living in the host realm.
type Event struct {
	Type   string
	Target Element
	Detail []string
}

// EventListener handles a dispatched Event.
type EventListener func(Event)

// Document is one parsed HTML document.
type Document struct {
	root *html.Node // html.DocumentNode
	url  string

	notify  NotifyFunc
	applier ApplyFunc

	listeners map[string][]EventListener

	// Host-realm attribute primitives. These are what host-context code
	// calls; the guard replaces them at install time. Privileged writes
	// never go through them.
	hostSet    func(el Element, name, value string)
	hostRemove func(el Element, name string)
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	d := &Document{
		root:      root,
		listeners: make(map[string][]EventListener),
	}
	d.hostSet = func(el Element, name, value string) { el.setAttrRaw(name, value) }
	d.hostRemove = func(el Element, name string) { el.removeAttrRaw(name) }
	return d, nil
}

// ParseString parses an HTML document from a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Reset re-parses the document from fresh HTML in place, keeping the
// URL, hooks, and listeners. The live session uses it when the page
// replaced its whole document and the mirror must be rebuilt. Elements
// obtained before the reset refer to the discarded tree.
func (d *Document) Reset(s string) error {
	root, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return fmt.Errorf("dom: reset: %w", err)
	}
	d.root = root
	return nil
}

// URL returns the document's location identifier.
func (d *Document) URL() string { return d.url }

// SetURL records the document's location identifier. The reconciliation
// loop polls this to detect host-app navigation.
func (d *Document) SetURL(u string) { d.url = u }

// SetNotify installs the mutation notification hook. Pass nil to remove.
func (d *Document) SetNotify(fn NotifyFunc) { d.notify = fn }

// SetApplier installs the privileged-write applier hook. Pass nil to remove.
func (d *Document) SetApplier(fn ApplyFunc) { d.applier = fn }

// Root returns the <html> element.
func (d *Document) Root() Element {
	for n := d.root.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == html.ElementNode && n.DataAtom == atom.Html {
			return Element{d: d, n: n}
		}
	}
	return Element{}
}

// Body returns the <body> element.
func (d *Document) Body() Element {
	return d.childOfRoot(atom.Body)
}

// Head returns the <head> element.
func (d *Document) Head() Element {
	return d.childOfRoot(atom.Head)
}

func (d *Document) childOfRoot(a atom.Atom) Element {
	root := d.Root()
	if root.IsZero() {
		return Element{}
	}
	for n := root.n.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == html.ElementNode && n.DataAtom == a {
			return Element{d: d, n: n}
		}
	}
	return Element{}
}

// NewElement creates a detached element owned by this document.
func (d *Document) NewElement(tag string) Element {
	return Element{d: d, n: &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Lookup([]byte(tag)),
		Data:     tag,
	}}
}

// GetByID returns the first element with the given id attribute.
func (d *Document) GetByID(id string) (Element, bool) {
	root := d.Root()
	if root.IsZero() {
		return Element{}, false
	}
	return root.Find(func(el Element) bool {
		v, _ := el.Attr("id")
		return v == id
	})
}

// Render serialises the full document.
func (d *Document) Render() (string, error) {
	var sb strings.Builder
	if err := html.Render(&sb, d.root); err != nil {
		return "", fmt.Errorf("dom: render: %w", err)
	}
	return sb.String(), nil
}

// AddEventListener registers a document-level listener for events of the
// given type. The guard uses this to observe protect notifications.
func (d *Document) AddEventListener(eventType string, fn EventListener) {
	d.listeners[eventType] = append(d.listeners[eventType], fn)
}

// RemoveEventListeners drops all listeners for the given type.
func (d *Document) RemoveEventListeners(eventType string) {
	delete(d.listeners, eventType)
}

// DispatchEvent delivers an event synchronously to all listeners of its
// type. Delivery completes before DispatchEvent returns; there is no
// task-queue hop, which is what gives the protection protocol its
// ordering guarantee over the host's microtask-scheduled revert logic.
func (d *Document) DispatchEvent(ev Event) {
	for _, fn := range d.listeners[ev.Type] {
		fn(ev)
	}
}

// HostSetAttribute is the attribute-set primitive as seen from the host
// realm. Host-context code (and tests simulating it) must mutate
// attributes through this entry point, never through Element.SetAttr.
func (d *Document) HostSetAttribute(el Element, name, value string) {
	d.hostSet(el, name, value)
}

// HostRemoveAttribute is the attribute-remove primitive as seen from the
// host realm.
func (d *Document) HostRemoveAttribute(el Element, name string) {
	d.hostRemove(el, name)
}

// HostPrimitives returns the current host-realm primitives. The guard
// captures them before wrapping so its own allowed path keeps using the
// originals.
func (d *Document) HostPrimitives() (set func(Element, string, string), remove func(Element, string)) {
	return d.hostSet, d.hostRemove
}

// SetHostPrimitives replaces the host-realm primitives. Used by the guard
// to install and uninstall its wrappers.
func (d *Document) SetHostPrimitives(set func(Element, string, string), remove func(Element, string)) {
	d.hostSet = set
	d.hostRemove = remove
}

func (d *Document) emit(rec mutation.Record) {
	if d.notify != nil {
		d.notify(rec)
	}
}

func (d *Document) apply(rec mutation.Record) {
	if d.applier != nil {
		d.applier(rec)
	}
}
