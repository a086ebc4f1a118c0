package session

import (
	"sort"
	"sync"

	"github.com/LordBaryhobal/dragonfly/network"
)

// Registry is a free-list-backed slot vector handing out stable, reusable
// session identifiers (spec.md §4.2, §9): on accept, the lowest empty slot
// is reused before the vector grows; on close, the slot is emptied rather
// than the vector shrinking. This keeps session IDs usable as subscription
// index values without ever colliding with a still-live session.
type Registry struct {
	mu    sync.RWMutex
	slots []*Session
	free  []uint64
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register reserves the lowest free slot and constructs the Session bound
// to it via newSession, which receives the assigned id. free is kept
// sorted ascending so this always hands out the lowest hole, per spec.md
// §4.2/§9's "next acceptance reuses the lowest empty slot before
// appending".
func (r *Registry) Register(newSession func(id uint64) *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var id uint64
	if n := len(r.free); n > 0 {
		id = r.free[0]
		r.free = r.free[1:]
	} else {
		id = uint64(len(r.slots))
		r.slots = append(r.slots, nil)
	}

	s := newSession(id)
	r.slots[id] = s
	return s
}

func (r *Registry) Get(id uint64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id >= uint64(len(r.slots)) {
		return nil, false
	}
	s := r.slots[id]
	return s, s != nil
}

// Unregister frees id's slot for reuse by a future Register call. Safe to
// call more than once for the same id.
func (r *Registry) Unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id >= uint64(len(r.slots)) || r.slots[id] == nil {
		return
	}
	r.slots[id] = nil

	i := sort.Search(len(r.free), func(i int) bool { return r.free[i] >= id })
	r.free = append(r.free, 0)
	copy(r.free[i+1:], r.free[i:])
	r.free[i] = id
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, s := range r.slots {
		if s != nil {
			n++
		}
	}
	return n
}

// ForEachConnection implements network.ConnectionEnumerator, letting the
// broker's graceful shutdown path drain every live session's connection
// without the network package importing session.
func (r *Registry) ForEachConnection(fn func(*network.Connection) bool) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.slots))
	for _, s := range r.slots {
		if s != nil {
			sessions = append(sessions, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		if !fn(s.Conn()) {
			return
		}
	}
}
