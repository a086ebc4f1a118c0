package topic

import "sync"

// patternEntry tracks one pattern's subscriber set, keeping insertion
// order so fan-out visits subscribers in the order spec.md §4.3 describes.
type patternEntry struct {
	pattern *Pattern
	order   []uint64
	pos     map[uint64]int
}

func newPatternEntry(p *Pattern) *patternEntry {
	return &patternEntry{pattern: p, pos: make(map[uint64]int)}
}

func (e *patternEntry) add(id uint64) bool {
	if _, ok := e.pos[id]; ok {
		return false
	}
	e.pos[id] = len(e.order)
	e.order = append(e.order, id)
	return true
}

// remove deletes id from the subscriber set, shifting later entries down
// one slot rather than swapping in the tail, so the surviving IDs keep
// their original relative insertion order (spec.md §4.3's ordering
// guarantee survives a removal, not just an append).
func (e *patternEntry) remove(id uint64) bool {
	i, ok := e.pos[id]
	if !ok {
		return false
	}
	copy(e.order[i:], e.order[i+1:])
	e.order = e.order[:len(e.order)-1]
	for _, moved := range e.order[i:] {
		e.pos[moved]--
	}
	delete(e.pos, id)
	return true
}

func (e *patternEntry) empty() bool { return len(e.order) == 0 }

// Index is the subscription index of spec.md §3: a mapping from topic
// pattern to the set of session IDs currently subscribed to it, with the
// invariant that a pattern key exists iff its subscriber set is non-empty.
// Patterns are kept in first-subscribed order for deterministic fan-out.
type Index struct {
	mu       sync.Mutex
	order    []string
	entries  map[string]*patternEntry
}

func NewIndex() *Index {
	return &Index{entries: make(map[string]*patternEntry)}
}

// Subscribe registers id under pattern raw, compiling it on first use.
// Returns (false, nil) if id is already subscribed to raw (spec.md §4.3's
// "already subscribed" no-op case), and a compile error if raw fails
// CompilePattern.
func (idx *Index) Subscribe(id uint64, raw string) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry, ok := idx.entries[raw]
	if !ok {
		p, err := CompilePattern(raw)
		if err != nil {
			return false, err
		}
		entry = newPatternEntry(p)
		idx.entries[raw] = entry
		idx.order = append(idx.order, raw)
	}

	return entry.add(id), nil
}

// Unsubscribe removes id from raw's subscriber set, collapsing the pattern
// entry out of the index when it becomes empty. Returns false if id was
// not subscribed to raw.
func (idx *Index) Unsubscribe(id uint64, raw string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry, ok := idx.entries[raw]
	if !ok {
		return false
	}

	removed := entry.remove(id)
	if entry.empty() {
		delete(idx.entries, raw)
		idx.order = removePattern(idx.order, raw)
	}
	return removed
}

func removePattern(patterns []string, target string) []string {
	out := patterns[:0]
	for _, p := range patterns {
		if p != target {
			out = append(out, p)
		}
	}
	return out
}

// Match returns, for every pattern that matches topic, the subscriber IDs
// in that pattern's insertion order — the iteration order spec.md §4.3
// calls for within a single PUBLISH.
func (idx *Index) Match(topicName string) []uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var out []uint64
	for _, raw := range idx.order {
		entry := idx.entries[raw]
		if !entry.pattern.Matches(topicName) {
			continue
		}
		out = append(out, entry.order...)
	}
	return out
}

// PatternCount reports how many distinct patterns currently have at least
// one subscriber, for metrics and tests of invariant 1 (spec.md §8).
func (idx *Index) PatternCount() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.entries)
}

// HasSubscriber reports whether id is present in raw's subscriber set,
// used by tests to verify invariant 2 (spec.md §8) from the index side.
func (idx *Index) HasSubscriber(raw string, id uint64) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	entry, ok := idx.entries[raw]
	if !ok {
		return false
	}
	_, ok = entry.pos[id]
	return ok
}
