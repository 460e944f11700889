package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/adred-codev/pubsub-broker/internal/codec"
	"github.com/adred-codev/pubsub-broker/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Server:  config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Index:   config.IndexConfig{CleanupInterval: 20 * time.Millisecond},
		Session: config.SessionConfig{SendQueueSize: 0},
		Limits: config.LimitsConfig{
			MaxConnections:      10,
			ConnRateLimitBurst:  100,
			ConnRateLimitPerSec: 1000,
		},
		Metrics: config.MetricsConfig{SampleInterval: time.Hour}, // disable CPU sampling noise in tests
		Logging: config.LoggingConfig{Level: "info"},
	}
}

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv := NewServer(testConfig(t), zap.NewNop(), nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := srv.listener.Addr().String()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv, addr
}

func TestServerRoutesDataBetweenDialedConnections(t *testing.T) {
	_, addr := startTestServer(t)

	sub, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial sub: %v", err)
	}
	defer sub.Close()
	pub, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial pub: %v", err)
	}
	defer pub.Close()

	if _, err := sub.Write(codec.EncodeSubscribeFrame(42)); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	frame := codec.EncodeDataFrame(codec.EncodeTradeMessage(codec.TradeMessage{
		TopicID: 42, TimestampMs: 1, Price: 1.5, Quantity: 2.5,
	}))
	if _, err := pub.Write(frame); err != nil {
		t.Fatalf("write data: %v", err)
	}

	sub.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, codec.DataFrameLen)
	if _, err := readFull(sub, buf); err != nil {
		t.Fatalf("read data: %v", err)
	}
	if string(buf) != string(frame) {
		t.Fatalf("expected verbatim frame, got %x want %x", buf, frame)
	}
}

func TestServerSessionCountTracksConnections(t *testing.T) {
	srv, addr := startTestServer(t)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	if n := srv.SessionCount(); n != 1 {
		t.Fatalf("expected 1 session after connect, got %d", n)
	}

	conn.Close()
	time.Sleep(100 * time.Millisecond)
	if n := srv.SessionCount(); n != 0 {
		t.Fatalf("expected 0 sessions after disconnect, got %d", n)
	}
}

func TestServerRejectsBeyondMaxConnections(t *testing.T) {
	cfg := testConfig(t)
	cfg.Limits.MaxConnections = 1
	srv := NewServer(cfg, zap.NewNop(), nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	addr := srv.listener.Addr().String()

	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()
	time.Sleep(50 * time.Millisecond)

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := second.Read(buf); err == nil {
		t.Fatalf("expected second connection to be closed once at capacity")
	}
}

func TestServerShutdownClosesSessions(t *testing.T) {
	srv := NewServer(testConfig(t), zap.NewNop(), nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := srv.listener.Addr().String()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatalf("expected connection to be closed after shutdown")
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
