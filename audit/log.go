// Package audit implements the broker's operational trail (SPEC_FULL.md
// §4.4/§6 DOMAIN STACK ADDITION): an append-only, CBOR-encoded record of
// session lifecycle events and authorization refusals keyed by a
// monotonically increasing sequence number. This is explicitly not message
// persistence — publications and subscriptions are never written here — so
// it does not reopen spec.md's "no message persistence" Non-goal.
// PebbleLog is a thin sequencing layer over store.PebbleStore[Event]: the
// generic store already does the CBOR-encode-then-Set work this package
// needs, keyed by a fixed-width decimal sequence number so Pebble's natural
// key order matches Seq order.
package audit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/LordBaryhobal/dragonfly/store"
)

// EventKind enumerates what happened to a session, for the audit trail.
type EventKind string

const (
	EventConnectAttempt EventKind = "connect_attempt"
	EventAuthResult     EventKind = "auth_result"
	EventDisconnect     EventKind = "disconnect"
	EventAuthRefused    EventKind = "auth_refused"
)

// Event is one audit record. Time is stamped by the caller (package audit
// never calls time.Now() itself, keeping it a pure encode/append layer).
type Event struct {
	Seq       uint64
	Time      time.Time
	SessionID uint64
	Kind      EventKind
	Username  string
	Topic     string
	Detail    string
}

// Log is implemented by both the real pebble-backed trail and Discard, so
// the broker can carry a Log field unconditionally (SPEC_FULL.md: "absent
// configuration, the broker runs with no pebble dependency touched at
// runtime").
type Log interface {
	Record(ctx context.Context, ev Event) error
	Close() error
}

// Discard is a no-op Log used when no audit path is configured.
type Discard struct{}

func (Discard) Record(context.Context, Event) error { return nil }
func (Discard) Close() error                        { return nil }

// PebbleLog appends Events to a store.PebbleStore[Event], keyed by a
// 20-digit zero-padded decimal sequence number so lexicographic key order
// (what Pebble iterates in) matches numeric Seq order.
type PebbleLog struct {
	backend *store.PebbleStore[Event]
	seq     atomic.Uint64
}

// Open opens (creating if absent) a Pebble database at path for the audit
// trail.
func Open(path string) (*PebbleLog, error) {
	backend, err := store.NewPebbleStore[Event](store.PebbleStoreConfig{
		Path:   path,
		Prefix: "audit:",
	})
	if err != nil {
		return nil, err
	}
	return &PebbleLog{backend: backend}, nil
}

// Record assigns the next sequence number to ev and appends it.
func (l *PebbleLog) Record(ctx context.Context, ev Event) error {
	ev.Seq = l.seq.Add(1)
	return l.backend.Save(ctx, seqKey(ev.Seq), ev)
}

// All returns every recorded event in sequence order, for tests and
// operational inspection tooling.
func (l *PebbleLog) All() ([]Event, error) {
	ctx := context.Background()
	keys, err := l.backend.List(ctx)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(keys))
	for _, key := range keys {
		ev, err := l.backend.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (l *PebbleLog) Close() error {
	return l.backend.Close()
}

// seqKey renders seq as a fixed-width decimal string, so the lexicographic
// order PebbleStore.List iterates keys in is also numeric Seq order.
func seqKey(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

var (
	_ Log = (*PebbleLog)(nil)
	_ Log = Discard{}
)
