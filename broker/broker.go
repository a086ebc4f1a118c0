// Package broker implements Dragonfly's accept loop, session registry,
// topic index, routing, and dispatch (spec.md §4.2-§4.4, §5): the
// heaviest of the four core subsystems. Grounded on the teacher's
// network/listener.go (accept loop), network/disconnect.go (graceful
// shutdown), and session/registry.go (slot reuse), wired to the new
// topic and authz packages.
package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/LordBaryhobal/dragonfly/audit"
	"github.com/LordBaryhobal/dragonfly/metrics"
	"github.com/LordBaryhobal/dragonfly/network"
	"github.com/LordBaryhobal/dragonfly/pkg/logger"
	"github.com/LordBaryhobal/dragonfly/protocol"
	"github.com/LordBaryhobal/dragonfly/session"
	"github.com/LordBaryhobal/dragonfly/topic"
)

// DefaultAddress matches spec.md §6: host "localhost", port 1869.
const DefaultAddress = "localhost:1869"

// DefaultEventBuffer sizes the channel carrying decoded frames from every
// session's receive-loop goroutine to the single dispatcher goroutine that
// owns the subscription index and session registry (spec.md §5, §9's
// "Single-event-loop vs goroutines/threads" design note).
const DefaultEventBuffer = 256

// Options configures a Broker.
type Options struct {
	Address         string
	Authorizer      Authorizer
	Logger          logger.Logger
	Metrics         *metrics.Metrics
	Audit           audit.Log
	EventBuffer     int
	ShutdownTimeout time.Duration
}

// inbound is one event handed from a session's receive-loop goroutine to
// the dispatcher goroutine: either a decoded frame or a closed session.
type inbound struct {
	sess   *session.Session
	msg    *protocol.Message
	closed bool
}

// Broker is Dragonfly's server-side runtime.
type Broker struct {
	address    string
	authorizer Authorizer
	log        logger.Logger
	metrics    *metrics.Metrics
	audit      audit.Log

	registry *session.Registry
	index    *topic.Index

	listener        *network.Listener
	shutdown        *network.GracefulShutdown
	shutdownTimeout time.Duration

	events       chan inbound
	dispatchDone chan struct{}

	state atomic.Int32

	mu sync.Mutex
}

// New constructs a Broker bound to opts. It does not start listening until
// Start is called.
func New(opts Options) *Broker {
	if opts.Address == "" {
		opts.Address = DefaultAddress
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.Audit == nil {
		opts.Audit = audit.Discard{}
	}

	return &Broker{
		address:         opts.Address,
		authorizer:      opts.Authorizer,
		log:             opts.Logger,
		metrics:         opts.Metrics,
		audit:           opts.Audit,
		registry:        session.NewRegistry(),
		index:           topic.NewIndex(),
		events:          make(chan inbound, opts.EventBuffer),
		shutdownTimeout: opts.ShutdownTimeout,
	}
}

// newShutdown builds a fresh GracefulShutdown for one Start/Stop cycle.
// GracefulShutdown.Shutdown is one-shot (spec.md §9's lifecycle states
// allow STOPPED -> STARTING again), so Start constructs a new one each
// time rather than reusing a spent instance across a restart.
func (b *Broker) newShutdown() *network.GracefulShutdown {
	dm := network.NewDisconnectManager(b.shutdownTimeout)
	dm.OnDisconnect(func(conn *network.Connection, packet *network.DisconnectPacket) error {
		// SessionsActive is decremented once, by dispatch.go's handleClose,
		// when the session's closed event reaches the dispatcher goroutine
		// — not here, since every path to closing a connection (shutdown or
		// otherwise) ends in that same event.
		if b.log != nil {
			b.log.Debug("broker: draining session for shutdown", "reason", packet.ReasonCode)
		}
		return nil
	})
	return network.NewGracefulShutdown(b.registry, dm, b.shutdownTimeout)
}

// State reports the broker's current lifecycle state.
func (b *Broker) State() State {
	return State(b.state.Load())
}

// Start binds the listening socket and begins accepting connections in the
// background. It returns once the socket is bound; the accept loop and
// dispatcher run on their own goroutines.
func (b *Broker) Start(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrAlreadyRunning
	}

	ln, err := network.NewListener(network.DefaultListenerConfig(b.address))
	if err != nil {
		b.state.Store(int32(StateCrashed))
		return errors.Wrap(err, "broker: construct listener")
	}
	ln.OnConnection(func(conn *network.Connection) error {
		b.sessionLoop(conn)
		return nil
	})
	if err := ln.Start(); err != nil {
		b.state.Store(int32(StateCrashed))
		return errors.Wrap(err, "broker: start listener")
	}

	b.mu.Lock()
	b.listener = ln
	b.shutdown = b.newShutdown()
	b.dispatchDone = make(chan struct{})
	b.mu.Unlock()

	go func() {
		defer close(b.dispatchDone)
		b.dispatchLoop()
	}()

	b.state.Store(int32(StateRunning))
	if b.log != nil {
		b.log.Info("broker: listening", "addr", ln.Addr())
	}
	return nil
}

// Addr returns the bound listener address, or nil if not started.
func (b *Broker) Addr() interface{ String() string } {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// Stop transitions STOPPING -> STOPPED (spec.md §5): closes the listener,
// closes every live session's connection, and waits for the dispatcher to
// drain. golang.org/x/sync/errgroup supervises the listener-close and
// connection-drain steps together, surfacing the first error from either.
func (b *Broker) Stop(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrNotRunning
	}

	b.mu.Lock()
	ln := b.listener
	shutdown := b.shutdown
	done := b.dispatchDone
	b.mu.Unlock()

	var eg errgroup.Group
	eg.Go(func() error {
		if ln == nil {
			return nil
		}
		return ln.Close()
	})
	eg.Go(func() error {
		return shutdown.Shutdown(ctx)
	})
	err := eg.Wait()

	close(b.events)

	select {
	case <-done:
	case <-ctx.Done():
		b.state.Store(int32(StateCrashed))
		return ctx.Err()
	}

	b.state.Store(int32(StateStopped))
	return err
}
