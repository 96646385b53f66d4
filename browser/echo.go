package browser

import (
	"sync"
	"time"

	"github.com/hazyhaar/ariakeeper/mutation"
)

// echoFilter drops the page observer's reflections of the session's own
// privileged writes. Every write pushed into the page comes back through
// the MutationObserver; replaying it into the mirror again would
// duplicate inserts and churn the loop. Keyed on (op, xpath, name,
// value); each registered write absorbs one matching record.
type echoFilter struct {
	mu      sync.Mutex
	window  time.Duration
	maxKeys int
	recent  []echoEntry
}

type echoEntry struct {
	op    mutation.Op
	xpath string
	name  string
	value string
	at    time.Time
}

func newEchoFilter() *echoFilter {
	return &echoFilter{
		window:  2 * time.Second,
		maxKeys: 500,
	}
}

// expect registers a pushed write whose reflection should be dropped.
func (f *echoFilter) expect(rec mutation.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prune(time.Now())
	f.recent = append(f.recent, echoEntry{
		op:    rec.Op,
		xpath: rec.XPath,
		name:  rec.Name,
		value: rec.Value,
		at:    time.Now(),
	})
	if len(f.recent) > f.maxKeys {
		f.recent = f.recent[len(f.recent)-f.maxKeys:]
	}
}

// isEcho reports whether the record matches a registered write, and
// consumes the entry when it does.
func (f *echoFilter) isEcho(rec mutation.Record) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.prune(now)
	for i, e := range f.recent {
		if e.op == rec.Op && e.xpath == rec.XPath && e.name == rec.Name && e.value == rec.Value {
			f.recent = append(f.recent[:i], f.recent[i+1:]...)
			return true
		}
	}
	return false
}

func (f *echoFilter) prune(now time.Time) {
	cutoff := now.Add(-f.window)
	fresh := f.recent[:0]
	for _, e := range f.recent {
		if e.at.After(cutoff) {
			fresh = append(fresh, e)
		}
	}
	f.recent = fresh
}
