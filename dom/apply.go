package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/ariakeeper/mutation"
)

// ApplyRecord replays one observed mutation against the document. The live
// session uses this to keep the mirror consistent with the real page.
// Records that no longer resolve (the host removed the subtree between
// observation and replay) are reported as errors so the caller can decide
// whether to fall back to a full re-snapshot.
//
// Applied mutations are raw tree edits: they do not re-emit notify records
// (they came from the observer in the first place) and never touch the
// applier (they describe the page's own state, not privileged writes).
func (d *Document) ApplyRecord(rec mutation.Record) error {
	switch rec.Op {
	case mutation.OpAttr:
		el, ok := d.ResolveXPath(rec.XPath)
		if !ok {
			return fmt.Errorf("dom: apply attr: no element at %s", rec.XPath)
		}
		el.setAttrRaw(rec.Name, rec.Value)
		return nil

	case mutation.OpAttrDel:
		el, ok := d.ResolveXPath(rec.XPath)
		if !ok {
			return fmt.Errorf("dom: apply attr_del: no element at %s", rec.XPath)
		}
		el.removeAttrRaw(rec.Name)
		return nil

	case mutation.OpText:
		el, ok := d.ResolveXPath(strings.TrimSuffix(rec.XPath, "/text()"))
		if !ok {
			return fmt.Errorf("dom: apply text: no element at %s", rec.XPath)
		}
		for el.n.FirstChild != nil {
			el.n.RemoveChild(el.n.FirstChild)
		}
		if rec.Value != "" {
			el.n.AppendChild(&html.Node{Type: html.TextNode, Data: rec.Value})
		}
		return nil

	case mutation.OpRemove:
		el, ok := d.ResolveXPath(rec.XPath)
		if !ok {
			// Already gone; removal is idempotent.
			return nil
		}
		if el.n.Parent != nil {
			el.n.Parent.RemoveChild(el.n)
		}
		return nil

	case mutation.OpInsert:
		return d.applyInsert(rec)

	case mutation.OpNavigate:
		d.url = rec.Value
		return nil

	case mutation.OpDocReset:
		// The whole document was replaced; the caller must re-snapshot.
		return fmt.Errorf("dom: doc_reset requires a fresh snapshot")

	default:
		return fmt.Errorf("dom: unknown op %q", rec.Op)
	}
}

func (d *Document) applyInsert(rec mutation.Record) error {
	parentPath, lastSeg := splitLast(rec.XPath)
	parent, ok := d.ResolveXPath(parentPath)
	if !ok {
		return fmt.Errorf("dom: apply insert: no parent at %s", parentPath)
	}

	if rec.NodeType == 3 {
		parent.n.AppendChild(&html.Node{Type: html.TextNode, Data: rec.Value})
		return nil
	}

	if rec.HTML == "" {
		// Bare element insert with no serialised subtree.
		tag, _, segOK := parseSegment(lastSeg)
		if !segOK {
			return fmt.Errorf("dom: apply insert: bad path %s", rec.XPath)
		}
		parent.n.AppendChild(d.NewElement(tag).n)
		return nil
	}

	nodes, err := html.ParseFragment(strings.NewReader(rec.HTML), parent.n)
	if err != nil {
		return fmt.Errorf("dom: apply insert: parse fragment: %w", err)
	}
	for _, n := range nodes {
		parent.n.AppendChild(n)
	}
	return nil
}

// RenderElement serialises one element subtree (outer HTML).
func (e Element) RenderElement() (string, error) {
	if e.n == nil {
		return "", nil
	}
	var sb strings.Builder
	if err := html.Render(&sb, e.n); err != nil {
		return "", fmt.Errorf("dom: render element: %w", err)
	}
	return sb.String(), nil
}

func splitLast(xpath string) (parent, last string) {
	i := strings.LastIndexByte(xpath, '/')
	if i <= 0 {
		return "/", strings.TrimPrefix(xpath, "/")
	}
	return xpath[:i], xpath[i+1:]
}
