package broker

import (
	"errors"
	"io"

	"github.com/LordBaryhobal/dragonfly/network"
	"github.com/LordBaryhobal/dragonfly/protocol"
	"github.com/LordBaryhobal/dragonfly/session"
)

// readChunkSize bounds a single Read call. The two-stage framing (spec.md
// §4.1) only cares about how many bytes it has accumulated, not how many
// arrive per read, so any size works; this one comfortably covers a
// header-only read and most small bodies in one syscall.
const readChunkSize = 4096

// sessionLoop owns one accepted connection end to end: it registers a
// Session, runs the two-stage receive loop (spec.md §4.2), and feeds every
// decoded frame (or the terminal close) to the dispatcher goroutine over
// b.events. It returns once the connection is done, at which point the
// connection has already been closed.
func (b *Broker) sessionLoop(conn *network.Connection) {
	sess := b.registry.Register(func(id uint64) *session.Session {
		return session.New(id, conn)
	})

	if b.metrics != nil {
		b.metrics.SessionsActive.Inc()
	}

	// Stop() closes every session's connection and waits (via the
	// listener's accept-loop waitgroup) for every sessionLoop goroutine to
	// return before it closes b.events, so this send can never race a
	// closed channel.
	defer func() {
		b.events <- inbound{sess: sess, closed: true}
	}()

	buf := make([]byte, readChunkSize)
	for {
		n, readErr := conn.Read(buf)
		if n > 0 {
			if !b.drainFrames(sess, buf[:n]) {
				return
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && b.log != nil {
				b.log.Debug("broker: session read ended", "session", sess.ID(), "error", readErr)
			}
			return
		}
	}
}

// drainFrames feeds newly read bytes into the session's receive buffer and
// dispatches every complete frame it yields, including frames already
// buffered from a prior pipelined read. It returns false if the session
// must be torn down (body_length over the cap, spec.md §9).
func (b *Broker) drainFrames(sess *session.Session, data []byte) bool {
	frame, malformed := sess.Feed(data, protocol.MaxBodyLength)
	for {
		if malformed {
			if b.log != nil {
				b.log.Warn("broker: body_length exceeds cap, closing session", "session", sess.ID())
			}
			return false
		}
		if frame == nil {
			return true
		}

		msg, err := protocol.Decode(frame)
		if err != nil {
			// spec.md §7: decode errors are logged and the frame is
			// dropped; the session stays open. Feed already reset the
			// receive buffer to step 0 for us.
			if b.log != nil {
				b.log.Warn("broker: dropping malformed frame", "session", sess.ID(), "error", err)
			}
		} else {
			b.events <- inbound{sess: sess, msg: msg}
		}

		frame, malformed = sess.Feed(nil, protocol.MaxBodyLength)
	}
}
