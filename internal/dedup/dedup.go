// Package dedup collapses repeated discovery results within a run.
package dedup

import "sync"

// Admission is the outcome of offering a key to a Deduplicator.
type Admission int

const (
	// FirstSeen means the caller owns the key and should process it.
	FirstSeen Admission = iota
	// Duplicate means another caller already admitted the key.
	Duplicate
)

func (a Admission) String() string {
	if a == FirstSeen {
		return "first_seen"
	}
	return "duplicate"
}

// Deduplicator is a concurrency-safe set of admitted keys. It lives for one
// run; cross-run dedup is the store's job.
type Deduplicator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// New returns an empty Deduplicator.
func New() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// Admit records key and reports whether this call was the first to see it.
// Exactly one concurrent caller per key gets FirstSeen.
func (d *Deduplicator) Admit(key string) Admission {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return Duplicate
	}
	d.seen[key] = struct{}{}
	return FirstSeen
}

// Forget drops key so the next Admit of it is FirstSeen again. Callers use
// it when the work the admission stood for did not happen.
func (d *Deduplicator) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

// Len returns the number of distinct keys admitted.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
