// Package announce maintains the engine's live-announcement channel: two
// always-present, visually hidden live-region elements (assertive and
// polite) whose text changes assistive technology reads out. It depends
// on nothing but the document.
package announce

import (
	"log/slog"
	"time"

	"github.com/hazyhaar/ariakeeper/dom"
)

// Priority selects the live-region slot.
type Priority string

const (
	// Assertive interrupts the screen reader's current speech.
	Assertive Priority = "assertive"
	// Polite waits for the current speech to finish.
	Polite Priority = "polite"
)

// Element IDs of the injected live regions. Teardown removes both.
const (
	AssertiveRegionID = "ak-live-assertive"
	PoliteRegionID    = "ak-live-polite"
)

// hiddenStyle keeps the regions out of the visual layout without hiding
// them from assistive technology (display:none would silence them).
const hiddenStyle = "position:absolute;width:1px;height:1px;overflow:hidden;clip:rect(0 0 0 0);white-space:nowrap"

// DefaultClearAfter is how long announcement text lingers before the
// pending-clear timer empties the region.
const DefaultClearAfter = 7 * time.Second

// Scheduler runs fn after d and returns a cancel function. The default is
// time.AfterFunc; the engine substitutes one that serialises the clear
// write with the rest of its document work.
type Scheduler func(d time.Duration, fn func()) (cancel func())

// Option configures an Announcer.
type Option func(*Announcer)

// WithClearAfter overrides the pending-clear delay.
func WithClearAfter(d time.Duration) Option {
	return func(a *Announcer) { a.clearAfter = d }
}

// WithScheduler overrides the clear-timer scheduler.
func WithScheduler(s Scheduler) Option {
	return func(a *Announcer) { a.sched = s }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Announcer) { a.logger = l }
}

type slot struct {
	el     dom.Element
	cancel func()
}

// Announcer owns the two live-region slots.
type Announcer struct {
	doc        *dom.Document
	logger     *slog.Logger
	clearAfter time.Duration
	sched      Scheduler
	slots      map[Priority]*slot
}

// New injects the two live regions into the document body and returns the
// announcer. Calling New on a document that already carries the regions
// reuses them instead of duplicating.
func New(doc *dom.Document, opts ...Option) *Announcer {
	a := &Announcer{
		doc:        doc,
		logger:     slog.Default(),
		clearAfter: DefaultClearAfter,
		sched: func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		},
		slots: make(map[Priority]*slot),
	}
	for _, o := range opts {
		o(a)
	}
	a.slots[Assertive] = &slot{el: a.ensureRegion(AssertiveRegionID, Assertive, "alert")}
	a.slots[Polite] = &slot{el: a.ensureRegion(PoliteRegionID, Polite, "status")}
	return a
}

func (a *Announcer) ensureRegion(id string, p Priority, role string) dom.Element {
	if el, ok := a.doc.GetByID(id); ok {
		return el
	}
	el := a.doc.NewElement("div")
	el.SetAttr("id", id)
	el.SetAttr("aria-live", string(p))
	el.SetAttr("role", role)
	el.SetAttr("aria-atomic", "true")
	el.SetAttr("style", hiddenStyle)
	body := a.doc.Body()
	if body.IsZero() {
		a.logger.Warn("announce: document has no body, region not attached", "id", id)
		return el
	}
	body.AppendChild(el)
	return el
}

// Announce publishes text on the given slot. A non-empty slot is cleared
// first in the same synchronous turn, so announcing the same text twice
// still produces two live-region changes for the screen reader. An empty
// slot needs no clear; the set alone is a change. A pending-clear timer
// empties the slot afterwards; it resets on every announcement.
func (a *Announcer) Announce(text string, p Priority) {
	s, ok := a.slots[p]
	if !ok {
		s = a.slots[Polite]
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.el.Text() != "" {
		s.el.SetText("")
	}
	s.el.SetText(text)
	a.logger.Debug("announce: published", "priority", string(p), "text", text)
	el := s.el
	s.cancel = a.sched(a.clearAfter, func() { el.SetText("") })
}

// Text returns the current content of a slot.
func (a *Announcer) Text(p Priority) string {
	if s, ok := a.slots[p]; ok {
		return s.el.Text()
	}
	return ""
}

// Close cancels pending clears and removes both live regions from the
// document, leaving no residual markup.
func (a *Announcer) Close() {
	for _, s := range a.slots {
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.el.Detach()
	}
}
