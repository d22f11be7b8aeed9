package contact

import "sync"

// Accumulator maps record id to record. The first record seen for an id
// wins; later duplicates are dropped. Iteration follows insertion order.
type Accumulator struct {
	mu    sync.RWMutex
	byID  map[string]struct{}
	order []Record
}

// NewAccumulator returns an accumulator seeded with recs.
func NewAccumulator(recs ...Record) *Accumulator {
	a := &Accumulator{byID: make(map[string]struct{}, len(recs))}
	a.Merge(recs)
	return a
}

// Add inserts r if its id is absent and reports whether it was added.
func (a *Accumulator) Add(r Record) bool {
	if r.ID == "" {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.byID[r.ID]; ok {
		return false
	}
	a.byID[r.ID] = struct{}{}
	a.order = append(a.order, r)
	return true
}

// Merge adds every record and returns how many were new.
func (a *Accumulator) Merge(recs []Record) int {
	n := 0
	for _, r := range recs {
		if a.Add(r) {
			n++
		}
	}
	return n
}

// Has reports whether id is present.
func (a *Accumulator) Has(id string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.byID[id]
	return ok
}

// Len returns the number of distinct records.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.order)
}

// Snapshot returns a copy of the records in insertion order.
func (a *Accumulator) Snapshot() []Record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Record, len(a.order))
	copy(out, a.order)
	return out
}
