package block

import (
	"strings"

	"github.com/hazyhaar/ariakeeper/dom"
)

// DefaultClassPrefix is the marker-class prefix the host app currently
// renders. It is configuration, not a contract: the fallback matcher
// works for any prefix.
const DefaultClassPrefix = "sp"

// Classifier matches elements against the registered block signatures.
// It is stateless after construction and safe to share.
type Classifier struct {
	prefix string
	// exact is the fast path: full marker class token → type.
	exact map[string]Type
}

// NewClassifier builds a classifier for the given marker-class prefix.
// An empty prefix uses DefaultClassPrefix.
func NewClassifier(prefix string) *Classifier {
	if prefix == "" {
		prefix = DefaultClassPrefix
	}
	exact := make(map[string]Type, len(signatures))
	for _, s := range signatures {
		exact[prefix+"-"+s.Infix+"-block"] = s.Type
	}
	return &Classifier{prefix: prefix, exact: exact}
}

// Classify maps an element's structural signature to a block type.
// ok=false means "not a block", never an error: unmatched elements are
// simply outside the engine's vocabulary.
//
// Fast path: exact marker-class lookup, O(number of classes). Fallback:
// prefix-agnostic suffix reconstruction in signature order (first match
// wins), which survives the host renaming its class prefix.
func (c *Classifier) Classify(el dom.Element) (Type, bool) {
	if el.IsZero() {
		return "", false
	}
	classes := el.Classes()
	for _, cls := range classes {
		if t, ok := c.exact[cls]; ok {
			return t, true
		}
	}
	for _, s := range signatures {
		suffix := "-" + s.Infix + "-block"
		for _, cls := range classes {
			if strings.HasSuffix(cls, suffix) {
				return s.Type, true
			}
		}
	}
	return "", false
}

// Block pairs an element with its classification.
type Block struct {
	El   dom.Element
	Type Type
}

// Blocks collects all blocks under root in document order. Nested blocks
// (a toggle's children, a callout's embedded text) are included as their
// own entries; containment stays observational.
func (c *Classifier) Blocks(root dom.Element) []Block {
	var out []Block
	root.Walk(func(el dom.Element) bool {
		if t, ok := c.Classify(el); ok {
			out = append(out, Block{El: el, Type: t})
		}
		return true
	})
	return out
}
