// Package cursor implements the virtual navigation cursor: a highlighted
// position that tracks one block without moving the host's DOM focus.
// Host apps whose editable regions forbid external focus redirection
// still work, because Navigate mode never touches real focus.
package cursor

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/ariakeeper/announce"
	"github.com/hazyhaar/ariakeeper/block"
	"github.com/hazyhaar/ariakeeper/dom"
)

// Mode is the cursor state.
type Mode int

const (
	// Neutral: no highlight, no tracked position.
	Neutral Mode = iota
	// Navigate: a virtual position tracks one block.
	Navigate
	// Edit: the host's native caret is inside a block's editable region.
	Edit
)

func (m Mode) String() string {
	switch m {
	case Navigate:
		return "navigate"
	case Edit:
		return "edit"
	default:
		return "neutral"
	}
}

// HighlightAttr marks the currently highlighted block.
const HighlightAttr = "data-ak-cursor"

// StyleID identifies the injected highlight stylesheet.
const StyleID = "ak-cursor-style"

const highlightCSS = "[" + HighlightAttr + "]{outline:3px solid #2e6fd8;outline-offset:2px}"

// typeAheadWindow is how long between keystrokes the type-ahead buffer
// keeps accumulating.
const typeAheadWindow = time.Second

// NotifyFunc emits cursor feedback through the live announcer.
type NotifyFunc func(text string, p announce.Priority)

// FocusFunc places the host caret at the end of an editable region.
type FocusFunc func(el dom.Element) error

// ActivateFunc triggers a block's primary affordance (link or toggle).
type ActivateFunc func(el dom.Element) error

// Option configures a Cursor.
type Option func(*Cursor)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cursor) { c.logger = l }
}

// WithNotify routes announcements. Defaults to a no-op.
func WithNotify(fn NotifyFunc) Option {
	return func(c *Cursor) { c.notify = fn }
}

// WithFocus supplies the host-caret placement hook for Edit mode.
func WithFocus(fn FocusFunc) Option {
	return func(c *Cursor) { c.focus = fn }
}

// WithActivate supplies the affordance-activation hook used when a block
// has no editable region.
func WithActivate(fn ActivateFunc) Option {
	return func(c *Cursor) { c.activate = fn }
}

// WithExcerptLen overrides the announcement excerpt length.
func WithExcerptLen(n int) Option {
	return func(c *Cursor) { c.excerptLen = n }
}

// Cursor is the navigation state machine. Not safe for concurrent use;
// the engine serialises all calls on one goroutine.
type Cursor struct {
	doc        *dom.Document
	classifier *block.Classifier
	notify     NotifyFunc
	logger     *slog.Logger
	focus      FocusFunc
	activate   ActivateFunc
	excerptLen int

	mode    Mode
	index   int
	current dom.Element
	// editRegion is the editable region focused on the last Navigate →
	// Edit transition, so Escape can restore the position.
	editRegion dom.Element

	typeAhead   string
	typeAheadAt time.Time
	now         func() time.Time
}

// New creates a Cursor in the Neutral state.
func New(doc *dom.Document, classifier *block.Classifier, opts ...Option) *Cursor {
	c := &Cursor{
		doc:        doc,
		classifier: classifier,
		notify:     func(string, announce.Priority) {},
		logger:     slog.Default(),
		focus:      func(dom.Element) error { return nil },
		activate:   func(dom.Element) error { return nil },
		excerptLen: block.DefaultExcerptLen,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ensureStylesheet()
	return c
}

// Mode reports the current state.
func (c *Cursor) Mode() Mode { return c.mode }

// Index reports the tracked position. Meaningful only in Navigate mode.
func (c *Cursor) Index() int { return c.index }

// Current returns the tracked block element, zero outside Navigate mode.
func (c *Cursor) Current() dom.Element {
	if c.mode != Navigate {
		return dom.Element{}
	}
	return c.current
}

// blocks collects the page's blocks fresh on every operation: the host
// re-renders constantly and a cached list would go stale between
// keystrokes.
func (c *Cursor) blocks() []block.Block {
	return c.classifier.Blocks(c.doc.Body())
}

// EnterNavigate moves to Navigate mode at the given position, clamped to
// the page's block range.
func (c *Cursor) EnterNavigate(index int) {
	blocks := c.blocks()
	if len(blocks) == 0 {
		c.notify("no blocks on this page", announce.Assertive)
		return
	}
	if index < 0 {
		index = 0
	}
	if index >= len(blocks) {
		index = len(blocks) - 1
	}
	c.moveTo(blocks, index)
}

// moveTo highlights blocks[index] and announces it. The single point
// where position changes, keeping the one-highlight invariant.
func (c *Cursor) moveTo(blocks []block.Block, index int) {
	c.clearHighlight()
	b := blocks[index]
	b.El.SetAttr(HighlightAttr, "true")
	c.mode = Navigate
	c.index = index
	c.current = b.El
	c.announceBlock(b, index, len(blocks))
}

// reindex locates the current element in a fresh block list, falling
// back to the clamped stored index when the element is gone.
func (c *Cursor) reindex(blocks []block.Block) int {
	for i, b := range blocks {
		if b.El == c.current {
			return i
		}
	}
	if c.index >= len(blocks) {
		return len(blocks) - 1
	}
	return c.index
}

// Next moves the cursor down one block. In Neutral mode it enters
// Navigate at the top instead.
func (c *Cursor) Next() {
	c.step(1, "end of page")
}

// Prev moves the cursor up one block.
func (c *Cursor) Prev() {
	c.step(-1, "top of page")
}

func (c *Cursor) step(delta int, boundary string) {
	if c.mode == Edit {
		return
	}
	if c.mode == Neutral {
		c.EnterNavigate(0)
		return
	}
	blocks := c.blocks()
	if len(blocks) == 0 {
		c.notify("no blocks on this page", announce.Assertive)
		return
	}
	i := c.reindex(blocks) + delta
	if i < 0 || i >= len(blocks) {
		c.notify(boundary, announce.Assertive)
		return
	}
	c.moveTo(blocks, i)
}

// First jumps to the first block.
func (c *Cursor) First() {
	c.EnterNavigate(0)
}

// Last jumps to the last block.
func (c *Cursor) Last() {
	blocks := c.blocks()
	if len(blocks) == 0 {
		c.notify("no blocks on this page", announce.Assertive)
		return
	}
	c.moveTo(blocks, len(blocks)-1)
}

// NextHeading jumps to the next heading block after the current position.
func (c *Cursor) NextHeading() {
	c.seekHeading(1, "no next heading")
}

// PrevHeading jumps to the previous heading block.
func (c *Cursor) PrevHeading() {
	c.seekHeading(-1, "no previous heading")
}

func (c *Cursor) seekHeading(delta int, miss string) {
	if c.mode == Edit {
		return
	}
	blocks := c.blocks()
	if len(blocks) == 0 {
		c.notify("no blocks on this page", announce.Assertive)
		return
	}
	start := -1
	if c.mode == Navigate {
		start = c.reindex(blocks)
	} else if delta < 0 {
		start = len(blocks)
	}
	for i := start + delta; i >= 0 && i < len(blocks); i += delta {
		if block.Describe(blocks[i].Type).HeadingLevel > 0 {
			c.moveTo(blocks, i)
			return
		}
	}
	c.notify(miss, announce.Assertive)
}

// Enter transitions Navigate → Edit by handing the caret to the host:
// the end of the block's editable region when it has one, otherwise the
// block's primary link or toggle affordance. The physical Enter key is
// never suppressed, so the host's own handling still runs.
func (c *Cursor) Enter() {
	if c.mode != Navigate || c.current.IsZero() {
		return
	}
	if region, ok := c.current.EditableRegion(); ok {
		if err := c.focus(region); err != nil {
			c.logger.Warn("cursor: focus editable region", "error", err)
			return
		}
		// Modes are exclusive: the highlight belongs to Navigate.
		c.clearHighlight()
		c.editRegion = region
		c.mode = Edit
		return
	}
	target := c.current
	if link, ok := c.current.Find(func(d dom.Element) bool {
		return d.Tag() == "a" && d.HasAttr("href")
	}); ok {
		target = link
	}
	if err := c.activate(target); err != nil {
		c.logger.Warn("cursor: activate affordance", "error", err)
	}
}

// Escape leaves the current mode: Edit → Navigate at the block that held
// the caret (unless an overlay is open, which the host's own Escape
// handling must close first), Navigate → Neutral.
func (c *Cursor) Escape() {
	switch c.mode {
	case Edit:
		if OverlayOpen(c.doc) {
			return
		}
		region := c.editRegion
		c.editRegion = dom.Element{}
		blocks := c.blocks()
		if encl, ok := region.Closest(func(d dom.Element) bool {
			_, isBlock := c.classifier.Classify(d)
			return isBlock
		}); ok {
			for i, b := range blocks {
				if b.El == encl {
					c.moveTo(blocks, i)
					return
				}
			}
		}
		// Region left the page while editing. Fall back to the stored
		// index.
		c.mode = Neutral
		c.EnterNavigate(c.index)
	case Navigate:
		c.clearHighlight()
		c.mode = Neutral
		c.current = dom.Element{}
	}
}

// TypeAhead accumulates printable keys into a prefix buffer and jumps to
// the next block whose text starts with it. The buffer resets after a
// quiet second.
func (c *Cursor) TypeAhead(r rune) {
	if c.mode != Navigate {
		return
	}
	now := c.now()
	if now.Sub(c.typeAheadAt) > typeAheadWindow {
		c.typeAhead = ""
	}
	c.typeAheadAt = now
	c.typeAhead += strings.ToLower(string(r))

	blocks := c.blocks()
	if len(blocks) == 0 {
		return
	}
	start := c.reindex(blocks)
	for off := 1; off <= len(blocks); off++ {
		i := (start + off) % len(blocks)
		text := strings.ToLower(block.Excerpt(blocks[i].El, c.excerptLen))
		if strings.HasPrefix(text, c.typeAhead) {
			c.moveTo(blocks, i)
			return
		}
	}
	c.notify("no match for "+c.typeAhead, announce.Assertive)
}

// Reset returns to Neutral and clears the type-ahead buffer. Called on
// host navigation: positions do not survive a page change.
func (c *Cursor) Reset() {
	c.clearHighlight()
	c.mode = Neutral
	c.index = 0
	c.current = dom.Element{}
	c.editRegion = dom.Element{}
	c.typeAhead = ""
}

// Close resets the cursor and removes the injected stylesheet.
func (c *Cursor) Close() {
	c.Reset()
	if style, ok := c.doc.GetByID(StyleID); ok {
		style.Detach()
	}
}

func (c *Cursor) clearHighlight() {
	body := c.doc.Body()
	if body.IsZero() {
		return
	}
	for _, el := range body.FindAll(func(d dom.Element) bool {
		return d.HasAttr(HighlightAttr)
	}) {
		el.RemoveAttr(HighlightAttr)
	}
}

func (c *Cursor) ensureStylesheet() {
	if _, ok := c.doc.GetByID(StyleID); ok {
		return
	}
	head := c.doc.Head()
	if head.IsZero() {
		return
	}
	style := c.doc.NewElement("style")
	style.SetAttr("id", StyleID)
	style.SetText(highlightCSS)
	head.AppendChild(style)
}

// announceBlock emits the position announcement: type, excerpt, state
// qualifiers, and position, e.g. "heading 1: Title (1/5)".
func (c *Cursor) announceBlock(b block.Block, index, total int) {
	desc := block.Describe(b.Type)
	text := desc.Description
	if ex := block.Excerpt(b.El, c.excerptLen); ex != "" {
		text += ": " + ex
	}
	if desc.HasExpandState {
		if b.El.AttrOr("aria-expanded", "") == "true" {
			text += ", expanded"
		} else {
			text += ", collapsed"
		}
	}
	if desc.HasCheckedState {
		if b.El.AttrOr("aria-checked", "") == "true" {
			text += ", checked"
		} else {
			text += ", unchecked"
		}
	}
	c.notify(fmt.Sprintf("%s (%d/%d)", text, index+1, total), announce.Assertive)
}

// OverlayOpen reports whether a dialog, menu, or listbox overlay is
// currently visible.
func OverlayOpen(doc *dom.Document) bool {
	body := doc.Body()
	if body.IsZero() {
		return false
	}
	_, open := body.Find(func(d dom.Element) bool {
		switch d.AttrOr("role", "") {
		case "dialog", "menu", "listbox":
			return d.Visible()
		}
		return false
	})
	return open
}
