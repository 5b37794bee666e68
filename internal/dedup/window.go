package dedup

import (
	"sync"
	"time"
)

type windowEntry struct {
	id  string
	sig Signature
	at  time.Time
}

// Window is a bounded, time-evicting ring buffer of recently admitted signatures.
// Admit is an atomic check-and-insert, so two near-duplicates racing through
// concurrent batches cannot both be admitted.
type Window struct {
	mu        sync.Mutex
	entries   []windowEntry
	head      int // next slot to overwrite once full
	size      int
	span      time.Duration
	threshold float64
}

// NewWindow returns a Window holding at most capacity signatures no older than span.
// Signatures with similarity >= threshold are duplicates.
func NewWindow(capacity int, span time.Duration, threshold float64) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		entries:   make([]windowEntry, capacity),
		span:      span,
		threshold: threshold,
	}
}

// Admit checks sig against every live entry. When the best match reaches the
// threshold it returns that entry's id and score and admits nothing. Otherwise sig
// is admitted under id, evicting the oldest entry when full. Re-admitting an id
// already in the window succeeds and refreshes its entry.
func (w *Window) Admit(id string, sig Signature, at time.Time) (dupOf string, score float64, admitted bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.evictLocked(at)

	self := -1
	for i := 0; i < w.size; i++ {
		idx := w.slot(i)
		e := w.entries[idx]
		if e.id == id {
			self = idx
			continue
		}
		if s := sig.Similarity(e.sig); s > score {
			score, dupOf = s, e.id
		}
	}
	if score >= w.threshold && dupOf != "" {
		return dupOf, score, false
	}

	if self >= 0 {
		w.entries[self] = windowEntry{id: id, sig: sig, at: at}
		return "", score, true
	}
	w.entries[w.head] = windowEntry{id: id, sig: sig, at: at}
	w.head = (w.head + 1) % len(w.entries)
	if w.size < len(w.entries) {
		w.size++
	}
	return "", score, true
}

// Remove drops the entries admitted under ids and returns how many were dropped.
func (w *Window) Remove(ids ...string) int {
	if len(ids) == 0 {
		return 0
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	kept := make([]windowEntry, 0, w.size)
	for i := 0; i < w.size; i++ {
		if e := w.entries[w.slot(i)]; !drop[e.id] {
			kept = append(kept, e)
		}
	}
	removed := w.size - len(kept)
	if removed == 0 {
		return 0
	}
	for i := range w.entries {
		w.entries[i] = windowEntry{}
	}
	copy(w.entries, kept)
	w.size = len(kept)
	w.head = w.size % len(w.entries)
	return removed
}

// Evict drops entries older than now minus the span and returns how many were dropped.
func (w *Window) Evict(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.evictLocked(now)
}

// evictLocked removes expired entries from the oldest end. Entries are admitted in
// roughly time order, so it stops at the first live one.
func (w *Window) evictLocked(now time.Time) int {
	if w.span <= 0 {
		return 0
	}
	cutoff := now.Add(-w.span)
	dropped := 0
	for w.size > 0 {
		oldest := w.slot(0)
		if !w.entries[oldest].at.Before(cutoff) {
			break
		}
		w.entries[oldest] = windowEntry{}
		w.size--
		dropped++
	}
	return dropped
}

// slot maps the i-th oldest live entry to its index in the ring.
func (w *Window) slot(i int) int {
	n := len(w.entries)
	return (w.head - w.size + i + n) % n
}

// Len returns the number of live entries.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}
