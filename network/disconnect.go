package network

import (
	"context"
	"sync"
	"time"
)

// DisconnectReason mirrors the ack codes carried on the wire (spec.md §4.3):
// the high bit marks failure, the low bits distinguish the cause. Unlike an
// MQTT reason code this is the same byte space as PubAck/SubAck/UnsubAck.
type DisconnectReason byte

const (
	DisconnectSuccess            DisconnectReason = 0x00
	DisconnectNoOp               DisconnectReason = 0x01
	DisconnectAuthRefused        DisconnectReason = 0x81
	DisconnectServerShuttingDown DisconnectReason = 0x82
	DisconnectProtocolError      DisconnectReason = 0x83
)

type DisconnectPacket struct {
	ReasonCode DisconnectReason
	Reason     string
}

type DisconnectHandler func(*Connection, *DisconnectPacket) error

// DisconnectManager runs a chain of handlers whenever a connection is torn
// down, in registration order, short-circuiting on the first error.
type DisconnectManager struct {
	mu              sync.RWMutex
	handlers        []DisconnectHandler
	gracefulTimeout time.Duration
}

func NewDisconnectManager(gracefulTimeout time.Duration) *DisconnectManager {
	if gracefulTimeout == 0 {
		gracefulTimeout = 5 * time.Second
	}

	return &DisconnectManager{
		handlers:        make([]DisconnectHandler, 0),
		gracefulTimeout: gracefulTimeout,
	}
}

func (dm *DisconnectManager) OnDisconnect(handler DisconnectHandler) {
	dm.mu.Lock()
	dm.handlers = append(dm.handlers, handler)
	dm.mu.Unlock()
}

func (dm *DisconnectManager) HandleDisconnect(conn *Connection, packet *DisconnectPacket) error {
	dm.mu.RLock()
	handlers := make([]DisconnectHandler, len(dm.handlers))
	copy(handlers, dm.handlers)
	dm.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(conn, packet); err != nil {
			return err
		}
	}

	return nil
}

func (dm *DisconnectManager) GracefulDisconnect(ctx context.Context, conn *Connection, reason DisconnectReason) error {
	packet := &DisconnectPacket{
		ReasonCode: reason,
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, dm.gracefulTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		if err := dm.HandleDisconnect(conn, packet); err != nil {
			done <- err
			return
		}
		done <- conn.Close()
	}()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		_ = conn.Close()
		return ErrGracefulShutdownTimeout
	}
}

func (dm *DisconnectManager) SendDisconnect(conn *Connection, packet *DisconnectPacket) error {
	if packet == nil {
		packet = &DisconnectPacket{
			ReasonCode: DisconnectSuccess,
		}
	}

	return dm.HandleDisconnect(conn, packet)
}

// ConnectionEnumerator is implemented by whatever keeps the live set of
// accepted connections — the broker's session registry in production, a
// plain slice in tests. GracefulShutdown never assumes a particular
// registry shape, since Dragonfly tracks sessions, not pooled connections.
type ConnectionEnumerator interface {
	ForEachConnection(func(*Connection) bool)
}

// GracefulShutdown drains every live connection during the broker's
// STOPPING state (spec.md §5): each connection runs the DisconnectManager's
// handler chain with DisconnectServerShuttingDown and is then closed. No
// frame is written to the peer; a connection whose handlers have not
// finished by the timeout is closed anyway.
type GracefulShutdown struct {
	conns   ConnectionEnumerator
	dm      *DisconnectManager
	timeout time.Duration

	mu       sync.Mutex
	shutdown bool
}

func NewGracefulShutdown(conns ConnectionEnumerator, dm *DisconnectManager, timeout time.Duration) *GracefulShutdown {
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &GracefulShutdown{
		conns:   conns,
		dm:      dm,
		timeout: timeout,
	}
}

func (gs *GracefulShutdown) Shutdown(ctx context.Context) error {
	gs.mu.Lock()
	if gs.shutdown {
		gs.mu.Unlock()
		return nil
	}
	gs.shutdown = true
	gs.mu.Unlock()

	timeoutCtx, cancel := context.WithTimeout(ctx, gs.timeout)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	gs.conns.ForEachConnection(func(conn *Connection) bool {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()

			if err := gs.dm.GracefulDisconnect(timeoutCtx, c, DisconnectServerShuttingDown); err != nil {
				select {
				case errCh <- err:
				default:
				}
			}
		}(conn)

		return true
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case err := <-errCh:
		return err
	case <-timeoutCtx.Done():
		return ErrGracefulShutdownTimeout
	}
}

func (gs *GracefulShutdown) IsShutdown() bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.shutdown
}
