package announce

import (
	"testing"
	"time"

	"github.com/hazyhaar/ariakeeper/dom"
	"github.com/hazyhaar/ariakeeper/mutation"
)

func testDoc(t *testing.T) *dom.Document {
	t.Helper()
	d, err := dom.ParseString(`<html><body><div class="app"></div></body></html>`)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	return d
}

// manualScheduler captures scheduled clears so tests fire them by hand.
type manualScheduler struct {
	pending []func()
}

func (m *manualScheduler) schedule(_ time.Duration, fn func()) func() {
	m.pending = append(m.pending, fn)
	idx := len(m.pending) - 1
	return func() {
		if idx < len(m.pending) {
			m.pending[idx] = nil
		}
	}
}

func (m *manualScheduler) fire() {
	for _, fn := range m.pending {
		if fn != nil {
			fn()
		}
	}
	m.pending = nil
}

func TestNew_InjectsRegions(t *testing.T) {
	d := testDoc(t)
	a := New(d)
	if _, ok := d.GetByID(AssertiveRegionID); !ok {
		t.Error("assertive region not attached")
	}
	if _, ok := d.GetByID(PoliteRegionID); !ok {
		t.Error("polite region not attached")
	}
	el, _ := d.GetByID(AssertiveRegionID)
	if v, _ := el.Attr("aria-live"); v != "assertive" {
		t.Errorf("aria-live: got %q, want assertive", v)
	}
	a.Close()
}

func TestNew_ReusesExistingRegions(t *testing.T) {
	d := testDoc(t)
	a1 := New(d)
	_ = New(d)
	regions := d.Body().FindAll(func(el dom.Element) bool {
		v, _ := el.Attr("aria-live")
		return v != ""
	})
	if len(regions) != 2 {
		t.Fatalf("live regions: got %d, want 2 (New must not duplicate)", len(regions))
	}
	a1.Close()
}

func TestAnnounce_ClearThenSet(t *testing.T) {
	d := testDoc(t)
	ms := &manualScheduler{}
	a := New(d, WithScheduler(ms.schedule))

	var textRecords []string
	d.SetNotify(func(r mutation.Record) {
		if r.Op == mutation.OpText {
			textRecords = append(textRecords, r.Value)
		}
	})

	a.Announce("hello", Polite)
	a.Announce("hello", Polite)

	// The first announcement lands in an empty slot and needs no clear.
	// The identical repeat gets a clear first, so it still produces a
	// fresh change event.
	want := []string{"hello", "", "hello"}
	if len(textRecords) != len(want) {
		t.Fatalf("text records: got %v, want %v", textRecords, want)
	}
	for i := range want {
		if textRecords[i] != want[i] {
			t.Errorf("record %d: got %q, want %q", i, textRecords[i], want[i])
		}
	}
	if got := a.Text(Polite); got != "hello" {
		t.Errorf("Text: got %q, want hello", got)
	}
}

func TestAnnounce_PendingClear(t *testing.T) {
	d := testDoc(t)
	ms := &manualScheduler{}
	a := New(d, WithScheduler(ms.schedule))

	a.Announce("status", Assertive)
	if got := a.Text(Assertive); got != "status" {
		t.Fatalf("Text before clear: got %q", got)
	}
	ms.fire()
	if got := a.Text(Assertive); got != "" {
		t.Errorf("Text after clear timer: got %q, want empty", got)
	}
}

func TestAnnounce_NewTextCancelsPendingClear(t *testing.T) {
	d := testDoc(t)
	ms := &manualScheduler{}
	a := New(d, WithScheduler(ms.schedule))

	a.Announce("first", Polite)
	a.Announce("second", Polite)
	ms.fire()
	// The first clear was cancelled; only the second one fired, and it
	// clears "second", which is the correct end state. The point is no
	// stale timer wipes a newer announcement early.
	if got := a.Text(Polite); got != "" {
		t.Errorf("Text: got %q, want empty after its own clear", got)
	}
}

func TestClose_RemovesRegions(t *testing.T) {
	d := testDoc(t)
	a := New(d)
	a.Announce("x", Assertive)
	a.Close()
	if _, ok := d.GetByID(AssertiveRegionID); ok {
		t.Error("assertive region still attached after Close")
	}
	if _, ok := d.GetByID(PoliteRegionID); ok {
		t.Error("polite region still attached after Close")
	}
}
