package client

import (
	"errors"
	"io"

	"github.com/LordBaryhobal/dragonfly/network"
	"github.com/LordBaryhobal/dragonfly/protocol"
)

// receiveLoop reads frames off conn and dispatches each to the matching
// hook, mirroring broker.sessionLoop/drainFrames on the client side
// (spec.md §4.2's framing state machine is the same in both directions).
func (c *Client) receiveLoop(conn *network.Connection) {
	defer close(c.done)

	buf := make([]byte, readChunkSize)
	for {
		n, readErr := conn.Read(buf)
		if n > 0 {
			c.drainFrames(buf[:n])
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && c.log != nil {
				c.log.Debug("client: receive loop ended", "error", readErr)
			}
			_ = conn.Close()
			return
		}
	}
}

func (c *Client) drainFrames(data []byte) {
	frame, malformed := c.recvBuf.feed(data, protocol.MaxBodyLength)
	for {
		if malformed {
			if c.log != nil {
				c.log.Warn("client: body_length exceeds cap, closing connection")
			}
			_ = c.Close()
			return
		}
		if frame == nil {
			return
		}

		msg, err := protocol.Decode(frame)
		if err != nil {
			if c.log != nil {
				c.log.Warn("client: dropping malformed frame", "error", err)
			}
		} else {
			c.dispatch(msg)
		}

		frame, malformed = c.recvBuf.feed(nil, protocol.MaxBodyLength)
	}
}

// dispatch routes one decoded server message to its hook. SUBSCRIBED and
// UNSUBSCRIBED carry only an ack code on the wire (no echoed topic), so
// this matches each ack to the oldest still-pending request of the same
// kind: a single connection's requests and acks arrive in FIFO order,
// since both client and broker process one frame at a time per session.
func (c *Client) dispatch(msg *protocol.Message) {
	if msg.Version != 0 && c.log != nil {
		c.log.Warn("client: unrecognized protocol version", "version", msg.Version)
	}

	switch p := msg.Payload.(type) {
	case protocol.ConnectedPayload:
		if p.DisconnectAck {
			c.hooks.disconnected(c, p.Code)
			return
		}
		c.hooks.connected(c, p.Code)

	case protocol.PublishedPayload:
		c.hooks.published(c, p.Code)

	case protocol.SubscribedPayload:
		pattern, ok := c.popPendingSubscribe()
		if !ok {
			return
		}
		if !p.Code.Failure() {
			c.mu.Lock()
			if _, exists := c.subscriptionIdx[pattern]; !exists {
				c.subscriptionIdx[pattern] = len(c.subscriptions)
				c.subscriptions = append(c.subscriptions, pattern)
			}
			c.mu.Unlock()
		}
		c.hooks.subscribed(c, pattern, p.Code)

	case protocol.UnsubscribedPayload:
		pattern, ok := c.popPendingUnsubscribe()
		if !ok {
			return
		}
		if !p.Code.Failure() {
			c.mu.Lock()
			c.removeSubscriptionLocked(pattern)
			c.mu.Unlock()
		}
		c.hooks.unsubscribed(c, pattern, p.Code)

	case protocol.PublishPayload:
		c.hooks.message(c, derefOr(p.Topic, ""), derefOr(p.Body, ""))

	default:
		if c.log != nil {
			c.log.Warn("client: ignoring unexpected server message type")
		}
	}
}

func (c *Client) removeSubscriptionLocked(pattern string) {
	idx, ok := c.subscriptionIdx[pattern]
	if !ok {
		return
	}
	last := len(c.subscriptions) - 1
	moved := c.subscriptions[last]
	c.subscriptions[idx] = moved
	c.subscriptions = c.subscriptions[:last]
	c.subscriptionIdx[moved] = idx
	delete(c.subscriptionIdx, pattern)
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
