package network

import (
	"context"
	"net"
	"testing"
	"time"
)

var (
	benchConn    *Connection
	benchBackoff *Backoff
	benchData    = make([]byte, 1024)
)

func BenchmarkConnectionRead(b *testing.B) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := NewConnection(server, 1, nil)
	defer conn.Close()

	go func() {
		for i := 0; i < b.N; i++ {
			client.Write(benchData)
		}
	}()

	buf := make([]byte, 1024)
	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		conn.Read(buf)
	}
}

func BenchmarkConnectionWrite(b *testing.B) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := NewConnection(server, 1, nil)
	defer conn.Close()

	go func() {
		buf := make([]byte, 1024)
		for i := 0; i < b.N; i++ {
			client.Read(buf)
		}
	}()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		conn.WriteFrame(benchData)
	}
}

func BenchmarkConnectionState(b *testing.B) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := NewConnection(server, 1, nil)
	defer conn.Close()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = conn.State()
	}
}

func BenchmarkConnectionBytesRead(b *testing.B) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := NewConnection(server, 1, nil)
	defer conn.Close()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = conn.BytesRead()
	}
}

func BenchmarkConnectionMetadataSet(b *testing.B) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := NewConnection(server, 1, nil)
	defer conn.Close()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		conn.SetMetadata("key", "value")
	}
}

func BenchmarkConnectionMetadataGet(b *testing.B) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := NewConnection(server, 1, nil)
	defer conn.Close()
	conn.SetMetadata("key", "value")

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_, _ = conn.GetMetadata("key")
	}
}

func BenchmarkBackoffNext(b *testing.B) {
	config := &BackoffConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     1 * time.Second,
		Multiplier:      2.0,
		MaxRetries:      10,
		Jitter:          false,
		JitterFactor:    0.2,
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		backoff, _ := NewBackoff(config)
		_, _ = backoff.Next()
	}
}

func BenchmarkBackoffNextWithJitter(b *testing.B) {
	config := &BackoffConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     1 * time.Second,
		Multiplier:      2.0,
		MaxRetries:      10,
		Jitter:          true,
		JitterFactor:    0.2,
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		backoff, _ := NewBackoff(config)
		_, _ = backoff.Next()
	}
}

func BenchmarkDisconnectManagerHandleDisconnect(b *testing.B) {
	dm := NewDisconnectManager(5 * time.Second)
	dm.OnDisconnect(func(conn *Connection, packet *DisconnectPacket) error {
		return nil
	})

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := NewConnection(server, 1, nil)
	packet := &DisconnectPacket{
		ReasonCode: DisconnectSuccess,
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = dm.HandleDisconnect(conn, packet)
	}
}

func BenchmarkRecoveryRetryNoError(b *testing.B) {
	recovery, _ := NewRecovery(&RecoveryConfig{
		BackoffConfig:  DefaultBackoffConfig(),
		EnableRecovery: false,
	})

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = recovery.Retry(context.Background(), func() error {
			return nil
		})
	}
}

func BenchmarkConnectionLastActivity(b *testing.B) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := NewConnection(server, 1, nil)
	defer conn.Close()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = conn.LastActivity()
	}
}

func BenchmarkConnectionIdleDuration(b *testing.B) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := NewConnection(server, 1, nil)
	defer conn.Close()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = conn.IdleDuration()
	}
}

func BenchmarkNewConnection(b *testing.B) {
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		server, client := net.Pipe()
		conn := NewConnection(server, uint64(i), nil)
		conn.Close()
		client.Close()
	}
}

func BenchmarkConnectionRemoteAddr(b *testing.B) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := NewConnection(server, 1, nil)
	defer conn.Close()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = conn.RemoteAddr()
	}
}

func BenchmarkBackoffReset(b *testing.B) {
	config := &BackoffConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     1 * time.Second,
		Multiplier:      2.0,
		MaxRetries:      10,
		Jitter:          false,
	}
	backoff, _ := NewBackoff(config)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		backoff.Reset()
	}
}
