package session

import (
	"sync"

	"github.com/LordBaryhobal/dragonfly/network"
)

// State is the session state machine driven by CONNECT and transport events
// (spec.md §4.2): ACCEPTED -> CONNECTED -> CLOSED, with auth failure and the
// CONNECT disconnect flag both leading straight to CLOSED.
type State byte

const (
	StateAccepted State = iota
	StateConnected
	StateClosed
)

// recvStep tracks the two-stage frame assembly over the stream: 0 means the
// session still needs the 7-byte header, 1 means it is accumulating the
// body, 2 means a full frame is ready to decode.
const (
	recvStepHeader = 0
	recvStepBody   = 1
	recvStepReady  = 2
)

const headerSize = 7

// Session is a connected client's broker-side state: identity, ordered
// subscription set, and the per-connection receive buffer that assembles
// frames off the wire one at a time.
type Session struct {
	mu sync.RWMutex

	id   uint64
	conn *network.Connection

	username *string
	password *string

	state State

	subscriptions   []string
	subscriptionIdx map[string]int

	step       int
	bodyLength uint32
	buf        []byte
}

// New creates a session for a freshly accepted connection. It starts in
// StateAccepted; the caller transitions it to StateConnected on a
// successful CONNECT.
func New(id uint64, conn *network.Connection) *Session {
	return &Session{
		id:              id,
		conn:            conn,
		state:           StateAccepted,
		subscriptions:   make([]string, 0),
		subscriptionIdx: make(map[string]int),
		buf:             make([]byte, 0, headerSize),
	}
}

func (s *Session) ID() uint64 {
	return s.id
}

func (s *Session) Conn() *network.Connection {
	return s.conn
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) SetState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateConnected
}

// SetCredentials records the username/password presented on CONNECT. Either
// may be nil: the spec treats "absent" as distinct from an empty string.
func (s *Session) SetCredentials(username, password *string) {
	s.mu.Lock()
	s.username = username
	s.password = password
	s.mu.Unlock()
}

func (s *Session) Username() *string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) Password() *string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.password
}

// AddSubscription appends pattern to the session's ordered subscription list.
// Returns false if pattern is already present (caller replies 0x01 no-op
// per spec.md §4.3) and does not mutate anything in that case.
func (s *Session) AddSubscription(pattern string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptionIdx[pattern]; ok {
		return false
	}

	s.subscriptionIdx[pattern] = len(s.subscriptions)
	s.subscriptions = append(s.subscriptions, pattern)
	return true
}

// RemoveSubscription removes pattern from the session's list. Returns false
// if the pattern was not present. Later entries shift down one slot rather
// than swapping in the tail, so the data model's ordered-sequence
// requirement (spec.md §3) holds after a removal, not just after appends.
func (s *Session) RemoveSubscription(pattern string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.subscriptionIdx[pattern]
	if !ok {
		return false
	}

	copy(s.subscriptions[idx:], s.subscriptions[idx+1:])
	s.subscriptions = s.subscriptions[:len(s.subscriptions)-1]
	for _, moved := range s.subscriptions[idx:] {
		s.subscriptionIdx[moved]--
	}
	delete(s.subscriptionIdx, pattern)
	return true
}

// Subscriptions returns a snapshot of the session's subscribed patterns, in
// insertion order.
func (s *Session) Subscriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.subscriptions))
	copy(out, s.subscriptions)
	return out
}

func (s *Session) HasSubscription(pattern string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subscriptionIdx[pattern]
	return ok
}

// ClearSubscriptions empties the subscription list, returning the patterns
// that were removed so the caller can collapse them out of the topic index.
func (s *Session) ClearSubscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.subscriptions
	s.subscriptions = make([]string, 0)
	s.subscriptionIdx = make(map[string]int)
	return out
}

// Feed appends newly read bytes to the receive buffer and reports whether a
// complete frame is now available. maxBodyLength bounds body_length so a
// hostile or corrupt header cannot grow the buffer without limit (spec.md
// §9 open question on receive-buffer growth).
func (s *Session) Feed(data []byte, maxBodyLength uint32) (frame []byte, malformed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, data...)

	if s.step == recvStepHeader {
		if len(s.buf) < headerSize {
			return nil, false
		}
		bodyLength := uint32(s.buf[3])<<24 | uint32(s.buf[4])<<16 | uint32(s.buf[5])<<8 | uint32(s.buf[6])
		if bodyLength > maxBodyLength {
			return nil, true
		}
		s.bodyLength = bodyLength
		if s.bodyLength == 0 {
			s.step = recvStepReady
		} else {
			s.step = recvStepBody
		}
	}

	if s.step == recvStepBody {
		if uint32(len(s.buf)-headerSize) < s.bodyLength {
			return nil, false
		}
		s.step = recvStepReady
	}

	if s.step != recvStepReady {
		return nil, false
	}

	total := headerSize + int(s.bodyLength)
	out := make([]byte, total)
	copy(out, s.buf[:total])

	s.buf = append([]byte(nil), s.buf[total:]...)
	s.step = recvStepHeader
	s.bodyLength = 0

	return out, false
}

// ResetBuffer discards any partially assembled frame and returns the
// receive state to step 0, per spec.md §7's policy of surviving a garbled
// frame rather than closing the connection.
func (s *Session) ResetBuffer() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	s.step = recvStepHeader
	s.bodyLength = 0
	s.mu.Unlock()
}

// Send writes a fully encoded frame to the underlying connection. Writes
// are serialized by the connection's own send lock, so concurrent sends
// from the dispatcher and the session's own goroutine never interleave.
func (s *Session) Send(frame []byte) error {
	return s.conn.WriteFrame(frame)
}

// Close tears down the underlying transport and marks the session closed.
func (s *Session) Close() error {
	s.SetState(StateClosed)
	return s.conn.Close()
}
