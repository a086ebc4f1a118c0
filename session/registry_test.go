package session

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LordBaryhobal/dragonfly/network"
)

func newConn(t *testing.T, id uint64) *network.Connection {
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	return network.NewConnection(server, id, nil)
}

func TestRegistryRegisterAssignsSequentialIDs(t *testing.T) {
	r := NewRegistry()

	s1 := r.Register(func(id uint64) *Session { return New(id, newConn(t, id)) })
	s2 := r.Register(func(id uint64) *Session { return New(id, newConn(t, id)) })

	assert.Equal(t, uint64(0), s1.ID())
	assert.Equal(t, uint64(1), s2.ID())
	assert.Equal(t, 2, r.Len())
}

func TestRegistryUnregisterReusesLowestSlot(t *testing.T) {
	r := NewRegistry()

	s0 := r.Register(func(id uint64) *Session { return New(id, newConn(t, id)) })
	s1 := r.Register(func(id uint64) *Session { return New(id, newConn(t, id)) })
	_ = r.Register(func(id uint64) *Session { return New(id, newConn(t, id)) })

	r.Unregister(s1.ID())
	assert.Equal(t, 2, r.Len())

	s3 := r.Register(func(id uint64) *Session { return New(id, newConn(t, id)) })
	assert.Equal(t, s1.ID(), s3.ID())

	r.Unregister(s0.ID())
	_, ok := r.Get(s0.ID())
	assert.False(t, ok)
}

func TestRegistryGetMissing(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get(42)
	assert.False(t, ok)
}

func TestRegistryUnregisterTwiceIsSafe(t *testing.T) {
	r := NewRegistry()
	s := r.Register(func(id uint64) *Session { return New(id, newConn(t, id)) })

	r.Unregister(s.ID())
	r.Unregister(s.ID())
	assert.Equal(t, 0, r.Len())
}

func TestRegistryForEachConnection(t *testing.T) {
	r := NewRegistry()
	r.Register(func(id uint64) *Session { return New(id, newConn(t, id)) })
	r.Register(func(id uint64) *Session { return New(id, newConn(t, id)) })

	seen := 0
	r.ForEachConnection(func(c *network.Connection) bool {
		seen++
		return true
	})
	assert.Equal(t, 2, seen)
}

func TestRegistryForEachConnectionStopsEarly(t *testing.T) {
	r := NewRegistry()
	r.Register(func(id uint64) *Session { return New(id, newConn(t, id)) })
	r.Register(func(id uint64) *Session { return New(id, newConn(t, id)) })
	r.Register(func(id uint64) *Session { return New(id, newConn(t, id)) })

	seen := 0
	r.ForEachConnection(func(c *network.Connection) bool {
		seen++
		return false
	})
	require.Equal(t, 1, seen)
}

func TestRegistryConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	done := make(chan bool)

	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 50; j++ {
				s := r.Register(func(id uint64) *Session { return New(id, newConn(t, id)) })
				r.Unregister(s.ID())
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}
