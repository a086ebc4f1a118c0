// Package client implements Dragonfly's client-side runtime (spec.md §6):
// connect, send, and a background receive loop that dispatches decoded
// frames to the hook set a caller registers. Grounded on the teacher's
// network/connection.go (frame I/O) and network/recovery.go (backoff),
// adapted here into a reconnect helper for the transport this client
// manages on its own rather than accepting one from a listener.
package client

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/LordBaryhobal/dragonfly/network"
	"github.com/LordBaryhobal/dragonfly/pkg/logger"
	"github.com/LordBaryhobal/dragonfly/protocol"
)

// readChunkSize mirrors broker.readChunkSize; kept as its own constant
// since broker's is unexported.
const readChunkSize = 4096

// Options configures a Client.
type Options struct {
	Address  string
	Username *string
	Password *string
	Logger   logger.Logger
	Hooks    Hooks
	Backoff  *network.BackoffConfig
}

// Client is one connection to a Dragonfly broker, with its own receive
// buffer and subscription bookkeeping mirroring the broker's session
// (spec.md §4.2): the wire state machine is the same on both ends.
type Client struct {
	address  string
	username *string
	password *string
	log      logger.Logger
	hooks    Hooks

	recoveryCfg *network.RecoveryConfig

	mu      sync.Mutex
	conn    *network.Connection
	connSeq atomic.Uint64

	subscriptions   []string
	subscriptionIdx map[string]int

	pendingSub   []string
	pendingUnsub []string

	recvBuf recvState

	closed atomic.Bool
	done   chan struct{}
}

// recvState duplicates session.Session's two-stage framing fields: the
// client has no need for the rest of Session (no registry slot, no server-
// side subscription index), so it rolls its own thin copy of just the
// framing state machine rather than pulling in the session package.
type recvState struct {
	mu         sync.Mutex
	step       int
	bodyLength uint32
	buf        []byte
}

const (
	recvStepHeader = 0
	recvStepBody   = 1
	recvStepReady  = 2
)

func (r *recvState) feed(data []byte, maxBodyLength uint32) (frame []byte, malformed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf = append(r.buf, data...)

	if r.step == recvStepHeader {
		if len(r.buf) < protocol.HeaderSize {
			return nil, false
		}
		_, _, bodyLength, err := protocol.DecodeHeader(r.buf)
		if err != nil {
			return nil, true
		}
		if bodyLength > maxBodyLength {
			return nil, true
		}
		r.bodyLength = bodyLength
		if bodyLength == 0 {
			r.step = recvStepReady
		} else {
			r.step = recvStepBody
		}
	}

	if r.step == recvStepBody {
		if uint32(len(r.buf)-protocol.HeaderSize) < r.bodyLength {
			return nil, false
		}
		r.step = recvStepReady
	}

	if r.step != recvStepReady {
		return nil, false
	}

	total := protocol.HeaderSize + int(r.bodyLength)
	out := make([]byte, total)
	copy(out, r.buf[:total])

	r.buf = append([]byte(nil), r.buf[total:]...)
	r.step = recvStepHeader
	r.bodyLength = 0

	return out, false
}

// New constructs a Client bound to opts. Connect must be called before any
// other method.
func New(opts Options) *Client {
	if opts.Backoff == nil {
		opts.Backoff = network.DefaultBackoffConfig()
	}
	return &Client{
		address:         opts.Address,
		username:        opts.Username,
		password:        opts.Password,
		log:             opts.Logger,
		hooks:           opts.Hooks,
		recoveryCfg:     &network.RecoveryConfig{BackoffConfig: opts.Backoff, EnableRecovery: true},
		subscriptionIdx: make(map[string]int),
		done:            make(chan struct{}),
	}
}

// Connect dials the broker, retrying with the configured backoff
// (network.Reconnector, adapted from the teacher's recovery helper), sends
// CONNECT, and starts the background receive loop. It returns once the
// transport is up; CONNECTED arrives asynchronously via the Connected hook.
func (c *Client) Connect(ctx context.Context) error {
	reconnector, err := network.NewReconnector(ctx, c.recoveryCfg, c.dial)
	if err != nil {
		return errors.Wrap(err, "client: build reconnector")
	}
	defer reconnector.Close()

	conn, err := reconnector.Connect()
	if err != nil {
		return errors.Wrap(err, "client: connect")
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.receiveLoop(conn)

	payload := protocol.ConnectPayload{Username: c.username, Password: c.password}
	return c.send(protocol.Connect, payload)
}

func (c *Client) dial() (*network.Connection, error) {
	netConn, err := net.Dial("tcp", c.address)
	if err != nil {
		return nil, err
	}
	id := c.connSeq.Add(1)
	return network.NewConnection(netConn, id, nil), nil
}

// Disconnect sends a graceful CONNECT-disconnect frame (spec.md §4.2's
// disconnect flag) and closes the transport once the loop observes EOF.
func (c *Client) Disconnect() error {
	return c.send(protocol.Connect, protocol.ConnectPayload{Disconnect: true})
}

// Publish sends a PUBLISH for topic with body.
func (c *Client) Publish(topic, body string) error {
	return c.send(protocol.Publish, protocol.PublishPayload{Topic: &topic, Body: &body})
}

// Subscribe sends a SUBSCRIBE for pattern. The pattern is queued so the
// matching SUBSCRIBED ack (which carries no echoed topic on the wire) can
// be correlated back to it in Client.dispatch.
func (c *Client) Subscribe(pattern string) error {
	c.mu.Lock()
	if _, ok := c.subscriptionIdx[pattern]; ok {
		c.mu.Unlock()
		return nil
	}
	c.pendingSub = append(c.pendingSub, pattern)
	c.mu.Unlock()

	if err := c.send(protocol.Subscribe, protocol.SubscribePayload{Topic: &pattern}); err != nil {
		c.mu.Lock()
		c.pendingSub = popMatching(c.pendingSub, pattern)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe sends an UNSUBSCRIBE for pattern, queued the same way
// Subscribe queues its pattern for ack correlation.
func (c *Client) Unsubscribe(pattern string) error {
	c.mu.Lock()
	c.pendingUnsub = append(c.pendingUnsub, pattern)
	c.mu.Unlock()

	if err := c.send(protocol.Unsubscribe, protocol.UnsubscribePayload{Topic: &pattern}); err != nil {
		c.mu.Lock()
		c.pendingUnsub = popMatching(c.pendingUnsub, pattern)
		c.mu.Unlock()
		return err
	}
	return nil
}

// popPendingSubscribe pops the oldest queued Subscribe pattern, matching
// SUBSCRIBED acks to requests in FIFO order (spec.md §5: frames within one
// session are processed in the order received, on both ends).
func (c *Client) popPendingSubscribe() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pendingSub) == 0 {
		return "", false
	}
	pattern := c.pendingSub[0]
	c.pendingSub = c.pendingSub[1:]
	return pattern, true
}

// popPendingUnsubscribe is Unsubscribe's counterpart to popPendingSubscribe.
func (c *Client) popPendingUnsubscribe() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pendingUnsub) == 0 {
		return "", false
	}
	pattern := c.pendingUnsub[0]
	c.pendingUnsub = c.pendingUnsub[1:]
	return pattern, true
}

// popMatching removes the first occurrence of pattern from queue, used to
// roll back a queued ack-correlation entry when the send that should have
// produced a matching ack never made it onto the wire.
func popMatching(queue []string, pattern string) []string {
	for i, p := range queue {
		if p == pattern {
			return append(queue[:i], queue[i+1:]...)
		}
	}
	return queue
}

func (c *Client) send(t protocol.Type, payload protocol.Payload) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	msg := protocol.Message{
		Version: 0,
		Type:    protocol.NewMessageType(protocol.OriginClient, t, 0),
		Payload: payload,
	}
	frame, err := protocol.Encode(&msg)
	if err != nil {
		if c.log != nil {
			c.log.Error("client: failed to encode frame", "type", t, "error", err)
		}
		return err
	}
	return conn.WriteFrame(frame)
}

// Close tears down the transport without sending a graceful disconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Done is closed once the receive loop has exited, signalling the
// connection is fully torn down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
