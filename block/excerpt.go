package block

import "github.com/hazyhaar/ariakeeper/dom"

// DefaultExcerptLen is the announcement excerpt budget.
const DefaultExcerptLen = 80

// Ellipsis is the truncation marker appended to cut excerpts.
const Ellipsis = "…"

// Excerpt returns the element's primary editable text if present, else
// its raw text content, truncated to maxLength runes plus an ellipsis.
// Empty input yields the empty string, never an error.
func Excerpt(el dom.Element, maxLength int) string {
	if el.IsZero() {
		return ""
	}
	var text string
	if ed, ok := el.EditableRegion(); ok {
		text = ed.Text()
	}
	if text == "" {
		text = el.Text()
	}
	return truncate(text, maxLength)
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + Ellipsis
}
