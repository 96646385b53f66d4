// Package block classifies host-app elements into semantic block types
// and derives readable excerpts from them. Classification is a pure
// structural-signature match: the host renders one marker class per block
// type, so the class list is the signature. Nothing here mutates the DOM.
package block

// Type is the closed classification label for one content unit.
type Type string

const (
	Text         Type = "text"
	Header       Type = "header"
	SubHeader    Type = "sub_header"
	SubSubHeader Type = "sub_sub_header"
	BulletedList Type = "bulleted_list"
	NumberedList Type = "numbered_list"
	ToDo         Type = "to_do"
	Toggle       Type = "toggle"
	Quote        Type = "quote"
	Callout      Type = "callout"
	Code         Type = "code"
	Divider      Type = "divider"
	Image        Type = "image"
	Embed        Type = "embed"
	Collection   Type = "collection_view"
	PageLink     Type = "page"
)

// Descriptor is the static, immutable metadata for one block type.
type Descriptor struct {
	// Role is the ARIA role written onto the block.
	Role string
	// Description is the announced, human-readable type name.
	Description string
	// HeadingLevel is non-zero for heading types.
	HeadingLevel int
	// HasExpandState marks types with an expanded/collapsed sub-state.
	HasExpandState bool
	// HasCheckedState marks types with a checked/unchecked sub-state.
	HasCheckedState bool
}

// descriptors is the per-type table. Adding a block type means adding one
// row here and one signature entry in signatures; nothing else branches
// on the type.
var descriptors = map[Type]Descriptor{
	Text:         {Role: "article", Description: "text"},
	Header:       {Role: "heading", Description: "heading 1", HeadingLevel: 1},
	SubHeader:    {Role: "heading", Description: "heading 2", HeadingLevel: 2},
	SubSubHeader: {Role: "heading", Description: "heading 3", HeadingLevel: 3},
	BulletedList: {Role: "listitem", Description: "bulleted list item"},
	NumberedList: {Role: "listitem", Description: "numbered list item"},
	ToDo:         {Role: "checkbox", Description: "to-do", HasCheckedState: true},
	Toggle:       {Role: "button", Description: "toggle", HasExpandState: true},
	Quote:        {Role: "blockquote", Description: "quote"},
	Callout:      {Role: "note", Description: "callout"},
	Code:         {Role: "code", Description: "code"},
	Divider:      {Role: "separator", Description: "divider"},
	Image:        {Role: "img", Description: "image"},
	Embed:        {Role: "group", Description: "embed"},
	Collection:   {Role: "region", Description: "database"},
	PageLink:     {Role: "link", Description: "page link"},
}

// signatures maps type keys to their CSS class infix, most specific
// first: sub_sub_header must be checked before sub_header, and sub_header
// before header, because the suffix fallback would otherwise shadow them.
var signatures = []struct {
	Type  Type
	Infix string
}{
	{SubSubHeader, "sub-sub-header"},
	{SubHeader, "sub-header"},
	{Header, "header"},
	{BulletedList, "bulleted-list"},
	{NumberedList, "numbered-list"},
	{ToDo, "to-do"},
	{Toggle, "toggle"},
	{Quote, "quote"},
	{Callout, "callout"},
	{Code, "code"},
	{Divider, "divider"},
	{Image, "image"},
	{Embed, "embed"},
	{Collection, "collection-view"},
	{PageLink, "page"},
	{Text, "text"},
}

// Describe returns the descriptor for a type. Unknown types return the
// zero Descriptor.
func Describe(t Type) Descriptor {
	return descriptors[t]
}

// RegisteredTypes returns all types in signature order.
func RegisteredTypes() []Type {
	out := make([]Type, len(signatures))
	for i, s := range signatures {
		out[i] = s.Type
	}
	return out
}
