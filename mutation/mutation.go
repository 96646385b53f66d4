// Package mutation defines the structured records exchanged between DOM
// observation sources and the reconciliation loop. Both the injected
// page observer (live path) and in-process document hooks (static path)
// emit these; the loop consumes them without caring where they came from.
package mutation

// Op is the type of DOM mutation observed.
type Op string

const (
	OpInsert   Op = "insert"    // node added (includes serialised subtree HTML)
	OpRemove   Op = "remove"    // node removed
	OpText     Op = "text"      // character data changed
	OpAttr     Op = "attr"      // attribute set or changed
	OpAttrDel  Op = "attr_del"  // attribute removed
	OpNavigate Op = "navigate"  // host app changed its location identifier
	OpDocReset Op = "doc_reset" // entire document replaced
)

// Record is a single DOM mutation, addressed by XPath so that the
// element can be resolved against the engine's mirror document.
type Record struct {
	Op       Op     `json:"op"`
	XPath    string `json:"xpath"`
	NodeType int    `json:"node_type,omitempty"` // 1=element, 3=text
	Tag      string `json:"tag,omitempty"`
	Name     string `json:"name,omitempty"`      // attribute name for attr/attr_del
	Value    string `json:"value,omitempty"`     // new value; new URL for navigate
	OldValue string `json:"old_value,omitempty"` // previous value
	HTML     string `json:"html,omitempty"`      // serialised subtree for insert
}

// Batch is the atomic unit delivered to the reconciliation loop: all
// records collected during one debounce window, in arrival order.
type Batch struct {
	ID        string   `json:"id"` // UUIDv7
	PageURL   string   `json:"page_url"`
	Seq       uint64   `json:"seq"` // monotonically increasing per page
	Records   []Record `json:"records"`
	Timestamp int64    `json:"timestamp"` // epoch milliseconds at flush
}
