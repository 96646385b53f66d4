package dom

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// XPath returns a sibling-indexed path for the element, e.g.
// /html/body/div[2]/p. The index is included only when the element has
// same-tag element siblings, matching what the injected observer emits,
// so mirror paths and page paths stay comparable.
func (e Element) XPath() string {
	if e.n == nil {
		return ""
	}
	var parts []string
	for n := e.n; n != nil && n.Type == html.ElementNode; n = n.Parent {
		tag := strings.ToLower(n.Data)
		idx, total := siblingIndex(n)
		if total > 1 {
			parts = append(parts, fmt.Sprintf("%s[%d]", tag, idx))
		} else {
			parts = append(parts, tag)
		}
	}
	// Reverse into document order.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

// siblingIndex returns the 1-based position of n among same-tag element
// siblings and the total count of those siblings.
func siblingIndex(n *html.Node) (idx, total int) {
	if n.Parent == nil {
		return 1, 1
	}
	idx = 1
	for sib := n.Parent.FirstChild; sib != nil; sib = sib.NextSibling {
		if sib.Type != html.ElementNode || sib.Data != n.Data {
			continue
		}
		total++
		if sib == n {
			idx = total
		}
	}
	return idx, total
}

// ResolveXPath walks a sibling-indexed path back to an element. Paths
// with and without explicit [n] indices both resolve (a missing index
// means the first same-tag child).
func (d *Document) ResolveXPath(xpath string) (Element, bool) {
	xpath = strings.TrimSpace(xpath)
	if xpath == "" || xpath[0] != '/' {
		return Element{}, false
	}
	cur := d.root
	for _, seg := range strings.Split(strings.TrimPrefix(xpath, "/"), "/") {
		if seg == "" {
			return Element{}, false
		}
		tag, idx, ok := parseSegment(seg)
		if !ok {
			return Element{}, false
		}
		cur = findChild(cur, tag, idx)
		if cur == nil {
			return Element{}, false
		}
	}
	return Element{d: d, n: cur}, true
}

// parseSegment splits "div[3]" into ("div", 3). A bare tag yields index 1.
func parseSegment(seg string) (tag string, idx int, ok bool) {
	if i := strings.IndexByte(seg, '['); i >= 0 {
		if !strings.HasSuffix(seg, "]") {
			return "", 0, false
		}
		n, err := strconv.Atoi(seg[i+1 : len(seg)-1])
		if err != nil || n < 1 {
			return "", 0, false
		}
		return strings.ToLower(seg[:i]), n, true
	}
	return strings.ToLower(seg), 1, true
}

func findChild(parent *html.Node, tag string, idx int) *html.Node {
	count := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && strings.ToLower(c.Data) == tag {
			count++
			if count == idx {
				return c
			}
		}
	}
	return nil
}
