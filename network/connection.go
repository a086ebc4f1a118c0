package network

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionState tracks the lifecycle of a single TCP connection, independent
// of the higher-level session state machine layered on top of it.
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateClosing
	StateClosed
)

// Connection wraps a net.Conn with read/write deadlines, activity tracking,
// and a close-once guard. Dragonfly has no TLS listener (spec Non-goal), so
// unlike a general-purpose broker this wraps a plain net.Conn only.
type Connection struct {
	conn          net.Conn
	id            uint64
	state         atomic.Int32
	lastActivity  atomic.Int64
	readDeadline  time.Duration
	writeDeadline time.Duration

	mu       sync.RWMutex
	metadata map[string]interface{}

	closeOnce sync.Once
	closeCh   chan struct{}

	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64

	// sendMu serializes whole-frame writes so two goroutines can never
	// interleave partial frames on the wire (spec.md §4.2 send path).
	sendMu sync.Mutex
}

// ConnectionConfig configures read/write deadlines for a Connection.
type ConnectionConfig struct {
	ReadDeadline  time.Duration
	WriteDeadline time.Duration
}

// NewConnection wraps an accepted or dialed net.Conn.
func NewConnection(conn net.Conn, id uint64, cfg *ConnectionConfig) *Connection {
	if cfg == nil {
		cfg = &ConnectionConfig{
			ReadDeadline:  0,
			WriteDeadline: 30 * time.Second,
		}
	}

	c := &Connection{
		conn:          conn,
		id:            id,
		readDeadline:  cfg.ReadDeadline,
		writeDeadline: cfg.WriteDeadline,
		metadata:      make(map[string]interface{}),
		closeCh:       make(chan struct{}),
	}

	c.state.Store(int32(StateConnected))
	c.updateActivity()

	return c
}

func (c *Connection) ID() uint64 {
	return c.id
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Connection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Read performs a single read into b, subject to the configured read deadline.
func (c *Connection) Read(b []byte) (int, error) {
	if c.State() != StateConnected {
		return 0, ErrConnectionClosed
	}

	if c.readDeadline > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readDeadline))
	}

	n, err := c.conn.Read(b)
	if n > 0 {
		c.bytesRead.Add(uint64(n))
		c.updateActivity()
	}

	return n, err
}

// WriteFrame writes b in its entirety under the send lock, so concurrent
// sends to this connection never interleave partial frames on the wire.
func (c *Connection) WriteFrame(b []byte) error {
	if c.State() != StateConnected {
		return ErrConnectionClosed
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.writeDeadline > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeDeadline))
	}

	n, err := c.conn.Write(b)
	if n > 0 {
		c.bytesWritten.Add(uint64(n))
		c.updateActivity()
	}
	if err != nil {
		return err
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		close(c.closeCh)
		err = c.conn.Close()
		c.state.Store(int32(StateClosed))
	})
	return err
}

func (c *Connection) CloseChan() <-chan struct{} {
	return c.closeCh
}

func (c *Connection) updateActivity() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Connection) IdleDuration() time.Duration {
	return time.Since(c.LastActivity())
}

func (c *Connection) BytesRead() uint64 {
	return c.bytesRead.Load()
}

func (c *Connection) BytesWritten() uint64 {
	return c.bytesWritten.Load()
}

func (c *Connection) SetMetadata(key string, value interface{}) {
	c.mu.Lock()
	c.metadata[key] = value
	c.mu.Unlock()
}

func (c *Connection) GetMetadata(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	val, ok := c.metadata[key]
	return val, ok
}

func (c *Connection) DeleteMetadata(key string) {
	c.mu.Lock()
	delete(c.metadata, key)
	c.mu.Unlock()
}

var _ io.ReadWriteCloser = (*connAdapter)(nil)

// connAdapter exposes Connection through the standard io.ReadWriteCloser
// shape for callers (like the per-session receive loop) that want Read plus
// a single full-frame Write rather than the raw net.Conn.Write semantics.
type connAdapter struct{ *Connection }

func (a connAdapter) Write(b []byte) (int, error) {
	if err := a.WriteFrame(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Adapter returns an io.ReadWriteCloser view of the connection.
func (c *Connection) Adapter() io.ReadWriteCloser {
	return connAdapter{c}
}
