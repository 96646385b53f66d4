package guard

import (
	"runtime"
	"sync"
	"weak"

	"golang.org/x/net/html"
)

// registry is the protected-element set. Membership is weak: entries key
// on weak node pointers and a GC cleanup drops them once the host removes
// the element and nothing else retains it, so the registry never extends
// an element's lifetime. Entries otherwise leave only on explicit
// unprotect, never on a timer.
type registry struct {
	mu      sync.Mutex
	entries map[weak.Pointer[html.Node]]map[string]struct{}
}

func newRegistry() *registry {
	return &registry{entries: make(map[weak.Pointer[html.Node]]map[string]struct{})}
}

// add unions the attribute names into the element's protected set.
func (r *registry) add(n *html.Node, names []string) {
	if n == nil {
		return
	}
	wp := weak.Make(n)
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.entries[wp]
	if !ok {
		set = make(map[string]struct{}, len(names))
		r.entries[wp] = set
		// Drop the entry when the node is collected. The cleanup must
		// not capture n itself or the node would never be collected.
		runtime.AddCleanup(n, func(p weak.Pointer[html.Node]) {
			r.remove2(p)
		}, wp)
	}
	for _, name := range names {
		set[name] = struct{}{}
	}
}

// remove drops the element's entry.
func (r *registry) remove(n *html.Node) {
	if n == nil {
		return
	}
	r.remove2(weak.Make(n))
}

func (r *registry) remove2(wp weak.Pointer[html.Node]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, wp)
}

// protects reports whether the named attribute is protected on n.
func (r *registry) protects(n *html.Node, name string) bool {
	if n == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.entries[weak.Make(n)]
	if !ok {
		return false
	}
	_, ok = set[name]
	return ok
}

// has reports whether n has any protected attributes.
func (r *registry) has(n *html.Node) bool {
	if n == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[weak.Make(n)]
	return ok
}

// each visits every live entry. Entries whose node was collected are
// skipped; the pending cleanup will drop them.
func (r *registry) each(fn func(n *html.Node, names []string)) {
	r.mu.Lock()
	snapshot := make(map[*html.Node][]string, len(r.entries))
	for wp, set := range r.entries {
		n := wp.Value()
		if n == nil {
			continue
		}
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		snapshot[n] = names
	}
	r.mu.Unlock()

	for n, names := range snapshot {
		fn(n, names)
	}
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[weak.Pointer[html.Node]]map[string]struct{})
}
