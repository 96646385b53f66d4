// Package reconcile drives incremental re-annotation: it consumes raw
// mutation records, debounces them into batches, processes each batch in
// a single serialized pass, and backstops the subscription with a coarse
// periodic full re-scan and host-navigation polling.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/ariakeeper/annotate"
	"github.com/hazyhaar/ariakeeper/dom"
	"github.com/hazyhaar/ariakeeper/enhance"
	"github.com/hazyhaar/ariakeeper/mutation"
)

// Config for creating a Loop.
type Config struct {
	Doc       *dom.Document
	Annotator *annotate.Annotator
	Enhancer  *enhance.Enhancer

	// DebounceWindow coalesces mutation bursts. Default: 250ms.
	DebounceWindow time.Duration
	// DebounceMax flushes immediately at this buffer size. Default: 1000.
	DebounceMax int
	// RescanEvery is the coarse full re-scan period. Default: 5s.
	RescanEvery time.Duration
	// NavPollEvery is the location polling period. Default: 500ms.
	NavPollEvery time.Duration
	// NavSettle is how long the DOM must stay quiet after a navigation
	// before the full re-scan runs. Default: 1200ms.
	NavSettle time.Duration

	// Locate returns the current location identifier. The host does not
	// reliably emit a navigation event, so the loop polls this.
	Locate func() string
	// OnNavigate fires once per detected navigation, before the settle
	// wait. Cursor and type-ahead state reset here.
	OnNavigate func(url string)

	// Lock guards the document. The loop acquires it for every pass so
	// other document users (announcer, cursor) can serialise against it.
	Lock sync.Locker

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.RescanEvery <= 0 {
		c.RescanEvery = 5 * time.Second
	}
	if c.NavPollEvery <= 0 {
		c.NavPollEvery = 500 * time.Millisecond
	}
	if c.NavSettle <= 0 {
		c.NavSettle = 1200 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Loop owns the reconciliation goroutine. All document work happens on
// that one goroutine; callers only feed records through Enqueue.
type Loop struct {
	cfg    Config
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	rawCh     chan mutation.Record
	rescanCh  chan struct{}
	debouncer *debouncer

	// settlePending is set by handleNavigate and consumed by the run
	// loop. Loop goroutine only.
	settlePending bool

	lastURL string
	passes  atomic.Uint64
}

// New creates a Loop. Call Start to begin processing.
func New(cfg Config) *Loop {
	cfg.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		cfg:      cfg,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		rawCh:    make(chan mutation.Record, 4096),
		rescanCh: make(chan struct{}, 1),
		debouncer: newDebouncer(debounceConfig{
			Window:    cfg.DebounceWindow,
			MaxBuffer: cfg.DebounceMax,
		}),
	}
}

// Enqueue feeds a raw mutation record into the loop. Safe to call from
// any goroutine; drops the record when the loop has stopped or the
// channel is full (the periodic re-scan catches what a drop misses).
func (l *Loop) Enqueue(rec mutation.Record) {
	select {
	case l.rawCh <- rec:
	case <-l.ctx.Done():
	default:
		l.logger.Warn("reconcile: record dropped, channel full", "op", string(rec.Op))
	}
}

// Start launches the loop goroutine.
func (l *Loop) Start() {
	if l.cfg.Locate != nil {
		l.lastURL = l.cfg.Locate()
	}
	l.wg.Add(1)
	go l.run()
}

// Stop tears down the loop: remaining buffered records get one final
// pass, then all timers stop.
func (l *Loop) Stop() {
	l.cancel()
	l.wg.Wait()
}

// Rescan requests a full scan outside the periodic schedule. Coalesces
// when one is already pending.
func (l *Loop) Rescan() {
	select {
	case l.rescanCh <- struct{}{}:
	default:
	}
}

// Passes reports how many reconciliation passes have completed.
func (l *Loop) Passes() uint64 {
	return l.passes.Load()
}

func (l *Loop) run() {
	defer l.wg.Done()

	rescan := time.NewTicker(l.cfg.RescanEvery)
	defer rescan.Stop()
	navPoll := time.NewTicker(l.cfg.NavPollEvery)
	defer navPoll.Stop()

	for {
		select {
		case <-l.ctx.Done():
			l.locked(func() { l.pass(l.debouncer.flush()) })
			return

		case rec := <-l.rawCh:
			if l.debouncer.add(rec) {
				l.locked(func() { l.pass(l.debouncer.flush()) })
			}

		case <-l.debouncer.timerC():
			l.locked(func() { l.pass(l.debouncer.flush()) })

		case <-rescan.C:
			l.locked(l.fullScan)

		case <-l.rescanCh:
			l.locked(l.fullScan)

		case <-navPoll.C:
			l.locked(l.checkNavigation)
		}

		for l.settlePending {
			l.settlePending = false
			l.settle()
		}
	}
}

// locked runs fn holding the document lock, when one is configured.
func (l *Loop) locked(fn func()) {
	if l.cfg.Lock != nil {
		l.cfg.Lock.Lock()
		defer l.cfg.Lock.Unlock()
	}
	fn()
}

// pass processes one debounced batch: structural annotation first, then
// the page-level enhancements, which the host replaces wholesale rather
// than patching.
func (l *Loop) pass(records []mutation.Record) {
	if len(records) == 0 {
		return
	}

	seen := make(map[dom.Element]struct{})
	count := 0

	for _, rec := range records {
		switch rec.Op {
		case mutation.OpInsert:
			el, ok := l.cfg.Doc.ResolveXPath(rec.XPath)
			if !ok {
				continue
			}
			count += l.cfg.Annotator.ScanSubtree(el, seen)

		case mutation.OpAttr, mutation.OpAttrDel:
			// Host re-classified an element after the fact. Our own
			// writes land on elements already carrying the marker.
			el, ok := l.cfg.Doc.ResolveXPath(rec.XPath)
			if !ok || el.HasAttr(annotate.Marker) {
				continue
			}
			if _, dup := seen[el]; dup {
				continue
			}
			seen[el] = struct{}{}
			if err := l.cfg.Annotator.Annotate(el); err != nil {
				l.logger.Warn("reconcile: re-annotate failed", "xpath", rec.XPath, "error", err)
			}

		case mutation.OpText:
			// Content changed: the enclosing block's label is stale.
			el, ok := l.cfg.Doc.ResolveXPath(rec.XPath)
			if !ok {
				continue
			}
			if _, dup := seen[el]; dup {
				continue
			}
			seen[el] = struct{}{}
			if err := l.cfg.Annotator.AnnotateEnclosing(el); err != nil {
				l.logger.Warn("reconcile: re-annotate failed", "xpath", rec.XPath, "error", err)
			}

		case mutation.OpNavigate:
			l.handleNavigate(rec.Value)
			return

		case mutation.OpDocReset:
			l.logger.Info("reconcile: document reset, full re-scan")
			l.cfg.Enhancer.Reset()
			l.fullScan()
			return
		}
	}

	l.cfg.Enhancer.Run(l.cfg.Doc)
	l.passes.Add(1)
	l.logger.Debug("reconcile: pass complete", "records", len(records), "annotated", count)
}

// fullScan is the backstop: annotation is idempotent and cheap to
// re-check, so re-scanning the whole page costs little and catches
// mutations the subscription missed.
func (l *Loop) fullScan() {
	count := l.cfg.Annotator.ScanSubtree(l.cfg.Doc.Body(), nil)
	l.cfg.Enhancer.Run(l.cfg.Doc)
	l.passes.Add(1)
	if count > 0 {
		l.logger.Debug("reconcile: full scan", "annotated", count)
	}
}

// checkNavigation polls the location identifier.
func (l *Loop) checkNavigation() {
	if l.cfg.Locate == nil {
		return
	}
	cur := l.cfg.Locate()
	if cur == l.lastURL {
		return
	}
	l.handleNavigate(cur)
}

// handleNavigate resets per-page state under the document lock and
// schedules the settle wait. The wait itself runs lock-free in the run
// loop so the engine stays responsive while the host renders.
func (l *Loop) handleNavigate(url string) {
	l.logger.Info("reconcile: navigation detected", "url", url)
	l.lastURL = url
	l.cfg.Doc.SetURL(url)
	l.cfg.Enhancer.Reset()
	if l.cfg.OnNavigate != nil {
		l.cfg.OnNavigate(url)
	}

	// Discard mutations from the outgoing page.
	l.debouncer.flush()

	l.settlePending = true
}

// settle waits for the DOM to quiet down after a navigation before the
// full re-scan: the host is still rendering the new page and scanning
// early would annotate a tree about to be thrown away. Runs without the
// document lock; only the final scan takes it.
func (l *Loop) settle() {
	timer := time.NewTimer(l.cfg.NavSettle)
	defer timer.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case rec := <-l.rawCh:
			// Still rendering. Buffer and keep waiting.
			l.debouncer.add(rec)
			timer.Reset(l.cfg.NavSettle)
		case <-timer.C:
			l.locked(func() {
				l.pass(l.debouncer.flush())
				if !l.settlePending {
					l.fullScan()
				}
			})
			return
		}
	}
}
