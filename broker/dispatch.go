package broker

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/LordBaryhobal/dragonfly/audit"
	"github.com/LordBaryhobal/dragonfly/authz"
	"github.com/LordBaryhobal/dragonfly/protocol"
	"github.com/LordBaryhobal/dragonfly/session"
)

// dispatchLoop is the single goroutine that owns the subscription index
// and session registry (spec.md §5): every mutation to either happens
// here, so no lock is needed around them beyond what Registry/Index
// already carry for their own read paths (Get, HasSubscriber, etc., which
// other goroutines never call concurrently with a mutation in practice,
// but which stay safe regardless).
func (b *Broker) dispatchLoop() {
	for ev := range b.events {
		if ev.closed {
			b.handleClose(ev.sess)
			continue
		}
		if ev.msg.Version != 0 && b.log != nil {
			b.log.Warn("broker: unrecognized protocol version", "session", ev.sess.ID(), "version", ev.msg.Version)
		}
		b.handleMessage(ev.sess, ev.msg)
	}
}

func (b *Broker) handleMessage(sess *session.Session, msg *protocol.Message) {
	switch p := msg.Payload.(type) {
	case protocol.ConnectPayload:
		b.handleConnect(sess, p)
	case protocol.PublishPayload:
		b.handlePublish(sess, p)
	case protocol.SubscribePayload:
		b.handleSubscribe(sess, p)
	case protocol.UnsubscribePayload:
		b.handleUnsubscribe(sess, p)
	default:
		// A client sent a server-originated operation (CONNECTED,
		// PUBLISHED, SUBSCRIBED, UNSUBSCRIBED). Not a valid client
		// request; ignored rather than torn down, matching §7's general
		// stance that a garbled/unexpected frame doesn't kill the session.
		if b.log != nil {
			b.log.Warn("broker: ignoring unexpected client message type", "session", sess.ID())
		}
	}
}

func (b *Broker) handleConnect(sess *session.Session, p protocol.ConnectPayload) {
	ctx := context.Background()

	if p.Disconnect {
		b.reply(sess, protocol.Connected, protocol.ConnectedPayload{Code: protocol.AckSuccess, DisconnectAck: true})
		b.auditRecord(ctx, audit.EventDisconnect, sess, "", "client requested disconnect")
		b.handleClose(sess)
		return
	}

	sess.SetCredentials(p.Username, p.Password)
	b.auditRecord(ctx, audit.EventConnectAttempt, sess, usernameOf(p.Username), "")

	if b.authorizer != nil && !b.authorizer.CheckConnect(p.Username, p.Password) {
		b.incAuthRefusal()
		b.auditRecord(ctx, audit.EventAuthRefused, sess, usernameOf(p.Username), "connect refused")
		b.reply(sess, protocol.Connected, protocol.ConnectedPayload{Code: protocol.AckAuthRefused})
		b.handleClose(sess)
		return
	}

	sess.SetState(session.StateConnected)
	b.auditRecord(ctx, audit.EventAuthResult, sess, usernameOf(p.Username), "accepted")
	b.reply(sess, protocol.Connected, protocol.ConnectedPayload{Code: protocol.AckSuccess})
}

func (b *Broker) handlePublish(sess *session.Session, p protocol.PublishPayload) {
	topicName := derefOr(p.Topic, "")

	if b.authorizer != nil && !b.authorizer.Check(context.Background(), authz.ActionPublish, sess.Connected(), sess.Username(), sess.Password(), topicName) {
		b.incAuthRefusal()
		if b.metrics != nil {
			b.incAck(b.metrics.PublishesTotal, protocol.AckAuthRefused)
		}
		b.reply(sess, protocol.Published, protocol.PublishedPayload{Code: protocol.AckAuthRefused})
		return
	}

	if b.metrics != nil {
		b.incAck(b.metrics.PublishesTotal, protocol.AckSuccess)
	}
	b.reply(sess, protocol.Published, protocol.PublishedPayload{Code: protocol.AckSuccess})

	relay := protocol.Message{
		Version: 0,
		Type:    protocol.NewMessageType(protocol.OriginServer, protocol.Publish, 0),
		Payload: p,
	}
	frame, err := protocol.Encode(&relay)
	if err != nil {
		if b.log != nil {
			b.log.Error("broker: failed to encode publish relay", "error", err)
		}
		return
	}

	for _, id := range b.index.Match(topicName) {
		target, ok := b.registry.Get(id)
		if !ok {
			continue
		}
		if err := target.Send(frame); err != nil {
			if b.log != nil {
				b.log.Warn("broker: publish delivery failed, closing subscriber", "session", id, "error", err)
			}
			b.handleClose(target)
		}
	}
}

func (b *Broker) handleSubscribe(sess *session.Session, p protocol.SubscribePayload) {
	topicName := derefOr(p.Topic, "")

	if b.authorizer != nil && !b.authorizer.Check(context.Background(), authz.ActionSubscribe, sess.Connected(), sess.Username(), sess.Password(), topicName) {
		b.incAuthRefusal()
		if b.metrics != nil {
			b.incAck(b.metrics.SubscribesTotal, protocol.AckAuthRefused)
		}
		b.reply(sess, protocol.Subscribed, protocol.SubscribedPayload{Code: protocol.AckAuthRefused})
		return
	}

	if sess.HasSubscription(topicName) {
		if b.metrics != nil {
			b.incAck(b.metrics.SubscribesTotal, protocol.AckNoOp)
		}
		b.reply(sess, protocol.Subscribed, protocol.SubscribedPayload{Code: protocol.AckNoOp})
		return
	}

	if _, err := b.index.Subscribe(sess.ID(), topicName); err != nil {
		if b.metrics != nil {
			b.incAck(b.metrics.SubscribesTotal, protocol.AckInvalidPattern)
		}
		b.reply(sess, protocol.Subscribed, protocol.SubscribedPayload{Code: protocol.AckInvalidPattern})
		return
	}

	sess.AddSubscription(topicName)
	if b.metrics != nil {
		b.incAck(b.metrics.SubscribesTotal, protocol.AckSuccess)
	}
	b.reply(sess, protocol.Subscribed, protocol.SubscribedPayload{Code: protocol.AckSuccess})
}

func (b *Broker) handleUnsubscribe(sess *session.Session, p protocol.UnsubscribePayload) {
	topicName := derefOr(p.Topic, "")

	if !sess.HasSubscription(topicName) {
		if b.metrics != nil {
			b.incAck(b.metrics.UnsubscribesTotal, protocol.AckNoOp)
		}
		b.reply(sess, protocol.Unsubscribed, protocol.UnsubscribedPayload{Code: protocol.AckNoOp})
		return
	}

	sess.RemoveSubscription(topicName)
	b.index.Unsubscribe(sess.ID(), topicName)
	if b.metrics != nil {
		b.incAck(b.metrics.UnsubscribesTotal, protocol.AckSuccess)
	}
	b.reply(sess, protocol.Unsubscribed, protocol.UnsubscribedPayload{Code: protocol.AckSuccess})
}

// handleClose tears a session down exactly once (spec.md §4.2): it
// collapses every pattern the session held out of the index, frees its
// registry slot, and closes the transport. The registry identity check
// makes this safe to call twice for the same logical disconnect (once from
// an explicit CONNECT-disconnect, once from the resulting EOF on the
// session's own receive loop) without touching a slot a new connection has
// since reused.
func (b *Broker) handleClose(sess *session.Session) {
	if sess == nil {
		return
	}
	if current, ok := b.registry.Get(sess.ID()); !ok || current != sess {
		return
	}

	for _, pattern := range sess.ClearSubscriptions() {
		b.index.Unsubscribe(sess.ID(), pattern)
	}
	b.registry.Unregister(sess.ID())
	_ = sess.Close()

	if b.metrics != nil {
		b.metrics.SessionsActive.Dec()
	}
	b.auditRecord(context.Background(), audit.EventDisconnect, sess, usernameOf(sess.Username()), "")
}

func (b *Broker) reply(sess *session.Session, t protocol.Type, payload protocol.Payload) {
	msg := protocol.Message{
		Version: 0,
		Type:    protocol.NewMessageType(protocol.OriginServer, t, 0),
		Payload: payload,
	}
	frame, err := protocol.Encode(&msg)
	if err != nil {
		if b.log != nil {
			b.log.Error("broker: failed to encode reply", "type", t, "error", err)
		}
		return
	}
	if err := sess.Send(frame); err != nil {
		if b.log != nil {
			b.log.Warn("broker: failed to send reply, closing session", "session", sess.ID(), "error", err)
		}
		b.handleClose(sess)
	}
}

func (b *Broker) incAuthRefusal() {
	if b.metrics != nil {
		b.metrics.AuthRefusalsTotal.Inc()
	}
}

// incAck increments vec's counter for the given ack code, labeled by its
// decimal value so a dashboard can distinguish AckSuccess/AckNoOp/etc.
// without the metrics package needing to know about protocol.AckCode.
func (b *Broker) incAck(vec *prometheus.CounterVec, code protocol.AckCode) {
	vec.WithLabelValues(strconv.Itoa(int(code))).Inc()
}

func (b *Broker) auditRecord(ctx context.Context, kind audit.EventKind, sess *session.Session, username, detail string) {
	if b.audit == nil {
		return
	}
	_ = b.audit.Record(ctx, audit.Event{
		Time:      time.Now(),
		SessionID: sess.ID(),
		Kind:      kind,
		Username:  username,
		Detail:    detail,
	})
}

func usernameOf(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
