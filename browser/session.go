package browser

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/ariakeeper/cursor"
	"github.com/hazyhaar/ariakeeper/dom"
	"github.com/hazyhaar/ariakeeper/engine"
	"github.com/hazyhaar/ariakeeper/guard"
	"github.com/hazyhaar/ariakeeper/mutation"
	"github.com/hazyhaar/ariakeeper/settings"
	"github.com/hazyhaar/ariakeeper/shortcut"
)

//go:embed observer.js
var observerJS []byte

// bindingName is the runtime binding the observer script calls.
const bindingName = "__ak_binding"

// SessionConfig configures a live Session.
type SessionConfig struct {
	Manager *Manager
	URL     string
	// Source supplies settings; nil means stock settings.
	Source settings.Source
	Logger *slog.Logger
}

// Session attaches the engine to one live page: the mirror document is
// built from a snapshot and maintained from observed mutation records,
// privileged writes are replayed into the page, and key events stream
// back through the binding.
type Session struct {
	page   *rod.Page
	doc    *dom.Document
	eng    *engine.Engine
	echo   *echoFilter
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	curURL atomic.Value // string
	combos atomic.Value // []string, for keymap pushes
}

// Open navigates a stealth page to the URL, installs the guard and
// observer scripts, snapshots the DOM into the mirror, and starts the
// engine against it.
func Open(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("browser: nil manager")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	page, err := cfg.Manager.OpenPage(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		page:   page,
		echo:   newEchoFilter(),
		logger: cfg.Logger,
		ctx:    sctx,
		cancel: cancel,
	}

	if err := s.install(); err != nil {
		cancel()
		page.Close()
		return nil, err
	}

	html, err := s.snapshot()
	if err != nil {
		cancel()
		page.Close()
		return nil, err
	}
	doc, err := dom.ParseString(html)
	if err != nil {
		cancel()
		page.Close()
		return nil, fmt.Errorf("browser: parse snapshot: %w", err)
	}
	url := pageURL(page)
	doc.SetURL(url)
	s.curURL.Store(url)
	s.doc = doc
	doc.SetApplier(s.applyToPage)

	// The in-process protect events must reach the page's registry too;
	// the page-side guard is what actually blocks host reverts.
	doc.AddEventListener(guard.EventProtect, s.forwardProtect)
	doc.AddEventListener(guard.EventUnprotect, s.forwardUnprotect)

	eng, err := engine.New(engine.Config{
		Doc:      doc,
		Source:   cfg.Source,
		Locate:   s.location,
		Focus:    s.focusElement,
		Activate: s.activateElement,
		Logger:   cfg.Logger,
	})
	if err != nil {
		cancel()
		page.Close()
		return nil, err
	}
	s.eng = eng

	go s.listenBinding()

	if err := eng.Start(); err != nil {
		cancel()
		page.Close()
		return nil, err
	}
	s.syncKeymap()

	cfg.Logger.Info("browser: session open", "url", url)
	return s, nil
}

// Engine exposes the running engine.
func (s *Session) Engine() *engine.Engine { return s.eng }

// Close stops the engine first so the teardown strip still reaches the
// live page, then shuts down the binding listener and the page.
func (s *Session) Close() error {
	if s.eng != nil {
		s.eng.Stop()
	}
	s.cancel()
	if s.page != nil {
		return s.page.Close()
	}
	return nil
}

// install injects the guard and observer scripts and registers the
// binding. Both scripts are install-once; re-running them after a
// document reset is safe.
func (s *Session) install() error {
	if _, err := s.page.Eval(string(guard.PageScript)); err != nil {
		return fmt.Errorf("browser: inject guard: %w", err)
	}
	err := proto.RuntimeAddBinding{Name: bindingName}.Call(s.page)
	if err != nil {
		s.logger.Warn("browser: add binding (may already exist)", "error", err)
	}
	if _, err := s.page.Eval(string(observerJS)); err != nil {
		return fmt.Errorf("browser: inject observer: %w", err)
	}
	return nil
}

func (s *Session) snapshot() (string, error) {
	res, err := s.page.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: snapshot: %w", err)
	}
	return res.Value.Str(), nil
}

// Refresh rebuilds the mirror from a fresh snapshot and re-installs the
// page scripts. Called when the mirror diverges or the page replaced its
// document wholesale.
func (s *Session) Refresh() error {
	if err := s.install(); err != nil {
		return err
	}
	html, err := s.snapshot()
	if err != nil {
		return err
	}
	s.logger.Info("browser: mirror re-snapshot", "size", len(html))
	return s.eng.ResetDocument(html)
}

func (s *Session) location() string {
	if v := s.curURL.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// jsRecord is the wire shape of one observer payload entry. Mutation
// fields and key-event fields share the envelope; op selects which half
// is meaningful.
type jsRecord struct {
	Op       string `json:"op"`
	XPath    string `json:"xpath"`
	NodeType int    `json:"node_type"`
	Tag      string `json:"tag"`
	Name     string `json:"name"`
	Value    string `json:"value"`
	OldValue string `json:"old_value"`
	HTML     string `json:"html"`

	Key   string `json:"key"`
	Code  string `json:"code"`
	Alt   bool   `json:"alt"`
	Ctrl  bool   `json:"ctrl"`
	Meta  bool   `json:"meta"`
	Shift bool   `json:"shift"`
}

// listenBinding receives observer payloads via Runtime.bindingCalled.
// It also watches for full page loads: a real navigation destroys the
// injected scripts, so the session re-installs and re-snapshots.
func (s *Session) listenBinding() {
	s.page.Context(s.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		records, err := parsePayload(e.Payload)
		if err != nil {
			s.logger.Warn("browser: parse binding payload", "error", err)
			return
		}
		for _, rec := range records {
			s.handleRecord(rec)
		}
	}, func(e *proto.PageLoadEventFired) {
		s.handlePageLoad()
	})()
}

// handlePageLoad recovers from a full (non-SPA) navigation.
func (s *Session) handlePageLoad() {
	url := pageURL(s.page)
	prev := s.location()
	if url == "" || url == prev {
		return
	}
	s.logger.Info("browser: full page load", "url", url)
	s.curURL.Store(url)
	if err := s.eng.ApplyObserved(mutation.Record{Op: mutation.OpNavigate, Value: url}); err != nil {
		s.logger.Warn("browser: apply navigate", "error", err)
	}
	if err := s.Refresh(); err != nil {
		s.logger.Error("browser: re-attach after load", "error", err)
	}
	s.syncKeymap()
}

// parsePayload decodes one binding payload into its records.
func parsePayload(payload string) ([]jsRecord, error) {
	var records []jsRecord
	if err := json.Unmarshal([]byte(payload), &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Session) handleRecord(rec jsRecord) {
	switch rec.Op {
	case "__key":
		s.handleKey(rec)
		return
	case "__navigate":
		s.curURL.Store(rec.Value)
		if err := s.eng.ApplyObserved(mutation.Record{Op: mutation.OpNavigate, Value: rec.Value}); err != nil {
			s.logger.Warn("browser: apply navigate", "error", err)
		}
		return
	}

	m := mutation.Record{
		Op:       mutation.Op(rec.Op),
		XPath:    rec.XPath,
		NodeType: rec.NodeType,
		Tag:      rec.Tag,
		Name:     rec.Name,
		Value:    rec.Value,
		OldValue: rec.OldValue,
		HTML:     rec.HTML,
	}
	if s.echo.isEcho(m) {
		return
	}
	if err := s.eng.ApplyObserved(m); err != nil {
		s.logger.Warn("browser: mirror diverged, re-snapshotting", "op", rec.Op, "xpath", rec.XPath, "error", err)
		if err := s.Refresh(); err != nil {
			s.logger.Error("browser: re-snapshot failed", "error", err)
		}
	}
}

func (s *Session) handleKey(rec jsRecord) {
	ev := shortcut.KeyEvent{
		Key:   rec.Key,
		Code:  rec.Code,
		Alt:   rec.Alt,
		Ctrl:  rec.Ctrl,
		Meta:  rec.Meta,
		Shift: rec.Shift,
	}
	s.eng.HandleKey(ev)
	// Mode may have flipped; the page needs the new suppression state
	// before the next keystroke.
	s.syncKeymap()
}

// syncKeymap publishes the bound combo set and cursor-mode flag into the
// page, where the keydown listener makes its synchronous preventDefault
// decision.
func (s *Session) syncKeymap() {
	combos := s.eng.BoundCombos()
	sort.Strings(combos)
	nav := s.eng.CursorMode() == cursor.Navigate

	if prev, ok := s.combos.Load().([]string); ok && equalStrings(prev, combos) {
		// Combos unchanged; only the flag needs a push.
		if _, err := s.page.Eval(`(nav) => { window.__akNav = nav; }`, nav); err != nil {
			s.logger.Warn("browser: sync nav flag", "error", err)
		}
		return
	}
	s.combos.Store(combos)

	if _, err := s.page.Eval(
		`(combos, nav) => { window.__akCombos = new Set(combos); window.__akNav = nav; }`,
		combos, nav,
	); err != nil {
		s.logger.Warn("browser: sync keymap", "error", err)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// applyToPage replays one privileged mirror write into the live page.
// Attribute writes travel as guard protocol events so they use the
// pre-wrap primitives; text and structure are not guarded and are
// written directly.
func (s *Session) applyToPage(rec mutation.Record) {
	switch rec.Op {
	case mutation.OpAttr:
		s.echo.expect(rec)
		s.eval(`(xp, name, value) => {
			const el = document.evaluate(xp, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
			if (!el) return false;
			el.dispatchEvent(new CustomEvent('ak-set', { detail: { name, value } }));
			return true;
		}`, rec.XPath, rec.Name, rec.Value)

	case mutation.OpAttrDel:
		s.echo.expect(rec)
		s.eval(`(xp, name) => {
			const el = document.evaluate(xp, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
			if (!el) return false;
			el.dispatchEvent(new CustomEvent('ak-remove', { detail: { name } }));
			return true;
		}`, rec.XPath, rec.Name)

	case mutation.OpText:
		s.echo.expect(rec)
		s.eval(`(xp, value) => {
			const el = document.evaluate(xp, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
			if (!el) return false;
			el.textContent = value;
			return true;
		}`, rec.XPath, rec.Value)

	case mutation.OpInsert:
		html := rec.HTML
		if html == "" {
			el, ok := s.doc.ResolveXPath(rec.XPath)
			if !ok {
				s.logger.Warn("browser: push insert: not in mirror", "xpath", rec.XPath)
				return
			}
			rendered, err := el.RenderElement()
			if err != nil {
				s.logger.Warn("browser: push insert: render", "error", err)
				return
			}
			html = rendered
		}
		s.echo.expect(rec)
		s.eval(`(xp, html) => {
			const parent = document.evaluate(xp, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
			if (!parent) return false;
			parent.insertAdjacentHTML('beforeend', html);
			return true;
		}`, parentPath(rec.XPath), html)

	case mutation.OpRemove:
		s.echo.expect(rec)
		s.eval(`(xp) => {
			const el = document.evaluate(xp, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
			if (!el) return false;
			el.remove();
			return true;
		}`, rec.XPath)
	}
}

func (s *Session) eval(js string, args ...interface{}) {
	evalCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	res, err := s.page.Context(evalCtx).Eval(js, args...)
	if err != nil {
		s.logger.Warn("browser: push write failed", "error", err)
		return
	}
	if !res.Value.Bool() {
		s.logger.Debug("browser: push write target missing")
	}
}

// forwardProtect relays an in-process protect registration into the
// page's guard registry.
func (s *Session) forwardProtect(ev dom.Event) {
	s.eval(`(xp, names) => {
		const el = document.evaluate(xp, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		if (!el) return false;
		el.dispatchEvent(new CustomEvent('ak-protect', { detail: { names } }));
		return true;
	}`, ev.Target.XPath(), ev.Detail)
}

func (s *Session) forwardUnprotect(ev dom.Event) {
	s.eval(`(xp) => {
		const el = document.evaluate(xp, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		if (!el) return false;
		el.dispatchEvent(new CustomEvent('ak-unprotect'));
		return true;
	}`, ev.Target.XPath())
}

// focusScript focuses an element and, when it is editable, collapses the
// selection to the end of its content so typing appends.
const focusScript = `(xp) => {
	const n = document.evaluate(xp, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!n) return false;
	n.focus();
	if (n.isContentEditable) {
		const range = document.createRange();
		range.selectNodeContents(n);
		range.collapse(false);
		const sel = window.getSelection();
		sel.removeAllRanges();
		sel.addRange(range);
	}
	return true;
}`

// focusElement places the page caret at the end of the element's
// content.
func (s *Session) focusElement(el dom.Element) error {
	_, err := s.page.Eval(focusScript, el.XPath())
	if err != nil {
		return fmt.Errorf("browser: focus: %w", err)
	}
	return nil
}

// activateElement clicks the element's primary affordance.
func (s *Session) activateElement(el dom.Element) error {
	_, err := s.page.Eval(`(xp) => {
		const n = document.evaluate(xp, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		if (!n) return false;
		n.click();
		return true;
	}`, el.XPath())
	if err != nil {
		return fmt.Errorf("browser: activate: %w", err)
	}
	return nil
}

func parentPath(xpath string) string {
	i := strings.LastIndexByte(xpath, '/')
	if i <= 0 {
		return "/"
	}
	return xpath[:i]
}
