// Package engine wires the annotation, enhancement, reconciliation,
// cursor, and shortcut components over one document and owns their
// lifecycle.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/ariakeeper/annotate"
	"github.com/hazyhaar/ariakeeper/announce"
	"github.com/hazyhaar/ariakeeper/block"
	"github.com/hazyhaar/ariakeeper/cursor"
	"github.com/hazyhaar/ariakeeper/dom"
	"github.com/hazyhaar/ariakeeper/enhance"
	"github.com/hazyhaar/ariakeeper/guard"
	"github.com/hazyhaar/ariakeeper/mutation"
	"github.com/hazyhaar/ariakeeper/reconcile"
	"github.com/hazyhaar/ariakeeper/settings"
	"github.com/hazyhaar/ariakeeper/shortcut"
)

// Config wires an Engine. Doc is the only required field.
type Config struct {
	Doc *dom.Document
	// Source supplies settings. Defaults to settings.Static with stock
	// settings. The engine closes it on Stop.
	Source settings.Source
	// Locate returns the current location identifier for navigation
	// polling. Defaults to the document's URL, which only changes when
	// something calls SetURL; the live path supplies a real getter.
	Locate func() string
	// Focus places the host caret in an editable region (Edit mode).
	Focus cursor.FocusFunc
	// Activate triggers a block's primary affordance.
	Activate cursor.ActivateFunc
	Logger   *slog.Logger
}

func (c *Config) defaults() {
	if c.Source == nil {
		c.Source = settings.Static{}
	}
	if c.Locate == nil {
		doc := c.Doc
		c.Locate = func() string { return doc.URL() }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine is the orchestrator. New builds it, Start arms it, Stop leaves
// the document carrying no trace of it.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	set     settings.Settings

	// docMu serialises all document access: engine entry points, the
	// reconciliation loop's passes, and the announcer's clear timers all
	// hold it while touching the tree. Always acquired after mu.
	docMu sync.Mutex

	guard      *guard.Guard
	bridge     *guard.Bridge
	classifier *block.Classifier
	annotator  *annotate.Annotator
	enhancer   *enhance.Enhancer
	announcer  *announce.Announcer
	cursor     *cursor.Cursor
	dispatcher *shortcut.Dispatcher
	loop       *reconcile.Loop
}

// New loads settings and builds the component graph. Nothing touches the
// document until Start.
func New(cfg Config) (*Engine, error) {
	if cfg.Doc == nil {
		return nil, fmt.Errorf("engine: nil document")
	}
	cfg.defaults()
	set, err := cfg.Source.Load()
	if err != nil {
		return nil, fmt.Errorf("engine: load settings: %w", err)
	}
	return &Engine{cfg: cfg, logger: cfg.Logger, set: set}, nil
}

// Start installs the guard, builds the live regions and cursor
// stylesheet, runs the initial full pass, and launches the
// reconciliation loop. Idempotent while running.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}
	doc := e.cfg.Doc

	e.docMu.Lock()
	e.guard = guard.InstallGuard(doc, guard.WithLogger(e.logger))
	e.bridge = guard.NewBridge(doc)
	e.classifier = block.NewClassifier(e.set.ClassPrefix)
	e.annotator = annotate.New(e.classifier, e.bridge,
		annotate.WithLogger(e.logger),
		annotate.WithExcerptLen(e.set.ExcerptLen))
	e.enhancer = enhance.New(e.set.ClassPrefix, e.bridge,
		enhance.WithLogger(e.logger),
		enhance.WithNotify(e.notify))
	e.announcer = announce.New(doc,
		announce.WithLogger(e.logger),
		announce.WithClearAfter(e.set.ClearAfter),
		announce.WithScheduler(e.schedule))
	e.cursor = cursor.New(doc, e.classifier,
		cursor.WithLogger(e.logger),
		cursor.WithNotify(e.notify),
		cursor.WithExcerptLen(e.set.ExcerptLen),
		cursor.WithFocus(e.cfg.Focus),
		cursor.WithActivate(e.cfg.Activate))
	e.dispatcher = shortcut.New(e.set.ShortcutPrefix, shortcut.WithLogger(e.logger))
	e.dispatcher.Rebuild(e.actions(e.set.Bindings))

	e.loop = reconcile.New(reconcile.Config{
		Doc:            doc,
		Annotator:      e.annotator,
		Enhancer:       e.enhancer,
		DebounceWindow: e.set.DebounceWindow,
		DebounceMax:    e.set.DebounceMax,
		RescanEvery:    e.set.RescanEvery,
		NavPollEvery:   e.set.NavPollEvery,
		NavSettle:      e.set.NavSettle,
		Locate:         e.cfg.Locate,
		OnNavigate:     func(string) { e.cursor.Reset() },
		Lock:           &e.docMu,
		Logger:         e.logger,
	})
	doc.SetNotify(e.loop.Enqueue)

	count := e.scanAndEnhance()
	e.docMu.Unlock()

	e.loop.Start()
	e.cfg.Source.OnChange(e.ApplySettings)
	e.started = true
	e.logger.Info("engine: started", "blocks", count, "url", doc.URL())
	return nil
}

// Stop tears everything down and strips every attribute the engine
// wrote, so the document ends up exactly as the host built it.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	e.docMu.Lock()
	e.cfg.Doc.SetNotify(nil)
	e.docMu.Unlock()
	// The loop's final pass needs the document lock, so hold nothing
	// while waiting it out.
	e.loop.Stop()

	e.docMu.Lock()
	defer e.docMu.Unlock()
	e.cursor.Close()
	e.announcer.Close()

	// The registry holds exactly the attribute names the engine set on
	// each element; removing them is the whole cleanup.
	e.guard.Each(func(el dom.Element, names []string) {
		// Check before stripping: the bookkeeping attribute itself is
		// among the names about to go.
		keepLabel := el.HasAttr(annotate.MarkerAuthorNamed)
		for _, name := range names {
			if name == "aria-label" && keepLabel {
				// The label predates us.
				continue
			}
			el.RemoveAttr(name)
		}
		// Drop the page-side registry entry too; the live session
		// forwards the unprotect event to the real page.
		e.bridge.Unprotect(el)
	})
	e.guard.Uninstall()

	if err := e.cfg.Source.Close(); err != nil {
		e.logger.Warn("engine: close settings source", "error", err)
	}
	e.started = false
	e.logger.Info("engine: stopped")
}

// ScanAndEnhance runs one full pass: every block annotated, page-level
// enhancements re-applied. Returns the number of blocks annotated.
func (e *Engine) ScanAndEnhance() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return 0
	}
	e.docMu.Lock()
	defer e.docMu.Unlock()
	return e.scanAndEnhance()
}

func (e *Engine) scanAndEnhance() int {
	count := 0
	if settings.On(e.set.Annotations) {
		count = e.annotator.ScanSubtree(e.cfg.Doc.Body(), nil)
	}
	if settings.On(e.set.PageEnhancements) {
		e.enhancer.Run(e.cfg.Doc)
	}
	return count
}

// ApplyObserved replays one observed page mutation against the mirror
// and feeds it to the reconciliation loop. Navigation and document-reset
// records skip the replay: the loop owns navigation state, and a reset
// needs a fresh snapshot through ResetDocument. The returned error means
// the mirror has diverged and the caller should re-snapshot.
func (e *Engine) ApplyObserved(rec mutation.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	switch rec.Op {
	case mutation.OpNavigate, mutation.OpDocReset:
		e.loop.Enqueue(rec)
		return nil
	}
	e.docMu.Lock()
	err := e.cfg.Doc.ApplyRecord(rec)
	e.docMu.Unlock()
	if err != nil {
		return err
	}
	e.loop.Enqueue(rec)
	return nil
}

// ResetDocument rebuilds the mirror from a fresh page snapshot, then
// queues the document-reset record so the loop re-annotates everything.
func (e *Engine) ResetDocument(html string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	e.docMu.Lock()
	err := e.cfg.Doc.Reset(html)
	if err == nil {
		e.cursor.Reset()
	}
	e.docMu.Unlock()
	if err != nil {
		return err
	}
	e.loop.Enqueue(mutation.Record{Op: mutation.OpDocReset})
	return nil
}

// Announce emits status text through the live announcer.
func (e *Engine) Announce(text string, p announce.Priority) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return
	}
	e.docMu.Lock()
	defer e.docMu.Unlock()
	e.announcer.Announce(text, p)
}

// schedule is the announcer's clear-timer scheduler: the deferred clear
// is a document write, so it takes the document lock like everything
// else.
func (e *Engine) schedule(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, func() {
		e.docMu.Lock()
		defer e.docMu.Unlock()
		fn()
	})
	return func() { t.Stop() }
}

func (e *Engine) notify(text string, p announce.Priority) {
	if e.announcer != nil {
		e.announcer.Announce(text, p)
	}
}

// Cursor exposes the navigation actions for direct callers; shortcuts
// route through the same object.
func (e *Engine) Cursor() *cursor.Cursor { return e.cursor }

// CursorMode reports the cursor's current mode. The live session polls
// this after each key to keep the page-side suppression state current.
func (e *Engine) CursorMode() cursor.Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return cursor.Neutral
	}
	e.docMu.Lock()
	defer e.docMu.Unlock()
	return e.cursor.Mode()
}

// BoundCombos lists the canonical combos currently bound.
func (e *Engine) BoundCombos() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dispatcher == nil {
		return nil
	}
	return e.dispatcher.Combos()
}

// HandleKey routes a key event: first the shortcut table, then the
// unmodified Navigate-mode keys. Returns true when the engine consumed
// the event; false means the host must see it. Plain arrows with any
// modifier chord are left alone so native multi-block selection works.
func (e *Engine) HandleKey(ev shortcut.KeyEvent) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || !settings.On(e.set.Cursor) {
		return false
	}
	e.docMu.Lock()
	defer e.docMu.Unlock()
	if e.dispatcher.Handle(ev) {
		return true
	}
	if ev.Alt || ev.Ctrl || ev.Meta || ev.Shift {
		return false
	}
	switch ev.Key {
	case "ArrowDown":
		if e.cursor.Mode() == cursor.Navigate {
			e.cursor.Next()
			return true
		}
	case "ArrowUp":
		if e.cursor.Mode() == cursor.Navigate {
			e.cursor.Prev()
			return true
		}
	case "Enter":
		// Never suppressed: the host's own Enter handling still runs.
		if e.cursor.Mode() == cursor.Navigate {
			e.cursor.Enter()
		}
	case "Escape":
		if e.cursor.Mode() != cursor.Neutral {
			e.cursor.Escape()
			return true
		}
	default:
		if e.cursor.Mode() == cursor.Navigate && len([]rune(ev.Key)) == 1 {
			e.cursor.TypeAhead([]rune(ev.Key)[0])
			return true
		}
	}
	return false
}

// ApplySettings swaps in a new settings record: the shortcut table is
// rebuilt wholesale and the tunables take effect on the next pass where
// possible. Structural changes (class prefix) need a Stop/Start cycle.
func (e *Engine) ApplySettings(s settings.Settings) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.set = s
	if !e.started {
		return
	}
	e.dispatcher.Rebuild(e.actions(s.Bindings))
	e.logger.Info("engine: settings applied", "bindings", len(s.Bindings), "debug", s.Debug)
}

// actions maps binding action names onto cursor and engine operations.
func (e *Engine) actions(bindings map[string]string) map[string]shortcut.Action {
	table := make(map[string]shortcut.Action, len(bindings))
	for combo, name := range bindings {
		var act shortcut.Action
		switch name {
		case "enter_navigate":
			act = func() { e.cursor.EnterNavigate(0) }
		case "next":
			act = e.cursor.Next
		case "prev":
			act = e.cursor.Prev
		case "first":
			act = e.cursor.First
		case "last":
			act = e.cursor.Last
		case "next_heading":
			act = e.cursor.NextHeading
		case "prev_heading":
			act = e.cursor.PrevHeading
		case "rescan":
			act = func() {
				count := e.scanAndEnhance()
				e.notify(fmt.Sprintf("page re-scanned, %d blocks", count), announce.Polite)
			}
		default:
			e.logger.Warn("engine: unknown binding action", "action", name, "combo", combo)
			continue
		}
		table[combo] = act
	}
	return table
}
