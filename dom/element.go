package dom

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/ariakeeper/mutation"
)

// Element is one element node of a Document. It is a small comparable
// value: two Elements are equal exactly when they refer to the same node,
// which gives the stable per-element identity the registries key on.
type Element struct {
	d *Document
	n *html.Node
}

// IsZero reports whether the element is the zero value (no node).
func (e Element) IsZero() bool { return e.n == nil }

// Doc returns the owning document.
func (e Element) Doc() *Document { return e.d }

// Node exposes the underlying parse-tree node. The guard uses it as the
// weak-registry key; other packages should not need it.
func (e Element) Node() *html.Node { return e.n }

// Wrap returns the Element for a node obtained from Node earlier.
func (d *Document) Wrap(n *html.Node) Element {
	if n == nil || n.Type != html.ElementNode {
		return Element{}
	}
	return Element{d: d, n: n}
}

// Tag returns the lower-case tag name.
func (e Element) Tag() string {
	if e.n == nil {
		return ""
	}
	return strings.ToLower(e.n.Data)
}

// Attr returns the value of the named attribute.
func (e Element) Attr(name string) (string, bool) {
	if e.n == nil {
		return "", false
	}
	for _, a := range e.n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// AttrOr returns the named attribute or a default.
func (e Element) AttrOr(name, def string) string {
	if v, ok := e.Attr(name); ok {
		return v
	}
	return def
}

// HasAttr reports attribute presence.
func (e Element) HasAttr(name string) bool {
	_, ok := e.Attr(name)
	return ok
}

// setAttrRaw is the unwrapped primitive: mutate the tree, nothing else.
func (e Element) setAttrRaw(name, value string) {
	for i, a := range e.n.Attr {
		if a.Key == name {
			e.n.Attr[i].Val = value
			return
		}
	}
	e.n.Attr = append(e.n.Attr, html.Attribute{Key: name, Val: value})
}

// removeAttrRaw is the unwrapped remove primitive.
func (e Element) removeAttrRaw(name string) {
	for i, a := range e.n.Attr {
		if a.Key == name {
			e.n.Attr = append(e.n.Attr[:i], e.n.Attr[i+1:]...)
			return
		}
	}
}

// SetAttr writes an attribute from the privileged context. Writing a value
// identical to the current one is a no-op: no record is emitted and no
// outward apply happens, which is what makes repeated annotation converge.
func (e Element) SetAttr(name, value string) {
	if e.n == nil {
		return
	}
	old, had := e.Attr(name)
	if had && old == value {
		return
	}
	e.setAttrRaw(name, value)
	rec := mutation.Record{Op: mutation.OpAttr, XPath: e.XPath(), Name: name, Value: value, OldValue: old}
	// Writes to a detached element have no page-side counterpart yet;
	// the eventual insert carries the whole subtree, attributes included.
	if e.IsConnected() {
		e.d.apply(rec)
	}
	e.d.emit(rec)
}

// RemoveAttr removes an attribute from the privileged context. Removing an
// absent attribute is a no-op.
func (e Element) RemoveAttr(name string) {
	if e.n == nil {
		return
	}
	old, had := e.Attr(name)
	if !had {
		return
	}
	e.removeAttrRaw(name)
	rec := mutation.Record{Op: mutation.OpAttrDel, XPath: e.XPath(), Name: name, OldValue: old}
	if e.IsConnected() {
		e.d.apply(rec)
	}
	e.d.emit(rec)
}

// Classes returns the element's class tokens.
func (e Element) Classes() []string {
	v, ok := e.Attr("class")
	if !ok {
		return nil
	}
	return strings.Fields(v)
}

// HasClass reports whether the class list contains the token.
func (e Element) HasClass(class string) bool {
	for _, c := range e.Classes() {
		if c == class {
			return true
		}
	}
	return false
}

// Parent returns the parent element, or zero at the tree top.
func (e Element) Parent() Element {
	if e.n == nil {
		return Element{}
	}
	p := e.n.Parent
	if p == nil || p.Type != html.ElementNode {
		return Element{}
	}
	return Element{d: e.d, n: p}
}

// Children returns the element children in order.
func (e Element) Children() []Element {
	if e.n == nil {
		return nil
	}
	var out []Element
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, Element{d: e.d, n: c})
		}
	}
	return out
}

// NthChild returns the i-th element child (0-based).
func (e Element) NthChild(i int) Element {
	kids := e.Children()
	if i < 0 || i >= len(kids) {
		return Element{}
	}
	return kids[i]
}

// Text returns the element's text content with whitespace runs collapsed.
func (e Element) Text() string {
	if e.n == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(e.n)
	return collapseSpace(sb.String())
}

// SetText replaces the element's children with a single text node. Setting
// text identical to the current content is a no-op.
func (e Element) SetText(text string) {
	if e.n == nil {
		return
	}
	if tn, only := onlyTextChild(e.n); only {
		if (tn == nil && text == "") || (tn != nil && tn.Data == text) {
			return
		}
	}
	for e.n.FirstChild != nil {
		e.n.RemoveChild(e.n.FirstChild)
	}
	if text != "" {
		e.n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
	rec := mutation.Record{Op: mutation.OpText, XPath: e.XPath(), Value: text}
	if e.IsConnected() {
		e.d.apply(rec)
	}
	e.d.emit(rec)
}

// AppendChild attaches a detached element as the last child.
func (e Element) AppendChild(child Element) {
	if e.n == nil || child.n == nil {
		return
	}
	e.n.AppendChild(child.n)
	rec := mutation.Record{Op: mutation.OpInsert, XPath: child.XPath(), NodeType: 1, Tag: child.Tag()}
	if child.IsConnected() {
		e.d.apply(rec)
	}
	e.d.emit(rec)
}

// Detach removes the element from its parent.
func (e Element) Detach() {
	if e.n == nil || e.n.Parent == nil {
		return
	}
	xpath := e.XPath()
	wasConnected := e.IsConnected()
	e.n.Parent.RemoveChild(e.n)
	rec := mutation.Record{Op: mutation.OpRemove, XPath: xpath}
	if wasConnected {
		e.d.apply(rec)
	}
	e.d.emit(rec)
}

// IsConnected reports whether the element is still attached to its
// document's tree.
func (e Element) IsConnected() bool {
	if e.n == nil || e.d == nil {
		return false
	}
	for n := e.n; n != nil; n = n.Parent {
		if n == e.d.root {
			return true
		}
	}
	return false
}

// Walk visits the element and its element descendants in document order.
// Returning false from fn stops the walk.
func (e Element) Walk(fn func(Element) bool) {
	if e.n == nil {
		return
	}
	var rec func(n *html.Node) bool
	rec = func(n *html.Node) bool {
		if n.Type == html.ElementNode {
			if !fn(Element{d: e.d, n: n}) {
				return false
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if !rec(c) {
				return false
			}
		}
		return true
	}
	rec(e.n)
}

// Find returns the first element (self included) matching pred in
// document order.
func (e Element) Find(pred func(Element) bool) (Element, bool) {
	var found Element
	ok := false
	e.Walk(func(el Element) bool {
		if pred(el) {
			found, ok = el, true
			return false
		}
		return true
	})
	return found, ok
}

// FindAll returns all elements (self included) matching pred in document
// order.
func (e Element) FindAll(pred func(Element) bool) []Element {
	var out []Element
	e.Walk(func(el Element) bool {
		if pred(el) {
			out = append(out, el)
		}
		return true
	})
	return out
}

// Closest returns the nearest element (self, then ancestors) matching pred.
func (e Element) Closest(pred func(Element) bool) (Element, bool) {
	for el := e; !el.IsZero(); el = el.Parent() {
		if pred(el) {
			return el, true
		}
	}
	return Element{}, false
}

// ByClass returns descendants (self included) carrying the class token.
func (e Element) ByClass(class string) []Element {
	return e.FindAll(func(el Element) bool { return el.HasClass(class) })
}

// ByTag returns descendants (self included) with the given tag.
func (e Element) ByTag(tag string) []Element {
	return e.FindAll(func(el Element) bool { return el.Tag() == tag })
}

// EditableRegion returns the element's primary editable descendant:
// the first contenteditable region, textarea, or text input.
func (e Element) EditableRegion() (Element, bool) {
	return e.Find(func(el Element) bool {
		if v, ok := el.Attr("contenteditable"); ok && v != "false" {
			return true
		}
		switch el.Tag() {
		case "textarea":
			return true
		case "input":
			t := el.AttrOr("type", "text")
			return t == "text" || t == "search" || t == "email" || t == "url"
		}
		return false
	})
}

// Visible reports CSS-visible state as far as the engine can tell from
// attributes: hidden, display:none, or aria-hidden on the element itself.
func (e Element) Visible() bool {
	if e.n == nil {
		return false
	}
	if e.HasAttr("hidden") {
		return false
	}
	if style, ok := e.Attr("style"); ok {
		s := strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(s, "display:none") || strings.Contains(s, "visibility:hidden") {
			return false
		}
	}
	return true
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// onlyTextChild reports whether n has at most one child and that child is
// a text node. Returns the text node (nil when childless).
func onlyTextChild(n *html.Node) (*html.Node, bool) {
	if n.FirstChild != nil && n.FirstChild == n.LastChild && n.FirstChild.Type == html.TextNode {
		return n.FirstChild, true
	}
	return nil, n.FirstChild == nil
}
