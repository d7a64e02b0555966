package server

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/odin-kv/internal/command"
	"github.com/adred-codev/odin-kv/internal/config"
	"github.com/adred-codev/odin-kv/internal/monitor"
	"github.com/adred-codev/odin-kv/internal/protocol"
	"github.com/adred-codev/odin-kv/internal/pubsub"
	"github.com/adred-codev/odin-kv/internal/stats"
	"github.com/adred-codev/odin-kv/internal/store"
	"github.com/adred-codev/odin-kv/internal/workerpool"
)

func newTestServer(t *testing.T) (*Server, net.Addr) {
	t.Helper()
	cfgStore := config.NewStore(config.Defaults())
	_ = cfgStore.Set("port", "0")
	s := New(
		cfgStore,
		zerolog.Nop(),
		store.New(4),
		pubsub.New(),
		monitor.New(),
		workerpool.New(4),
		stats.New(),
		nil,
		nil,
	)
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go s.Serve()
	t.Cleanup(func() { _ = s.Close() })
	return s, s.Addr()
}

func dial(t *testing.T, addr net.Addr) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial(addr.Network(), addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, bufio.NewReader(conn)
}

func sendCommand(t *testing.T, conn net.Conn, parts ...string) {
	t.Helper()
	items := make([]protocol.Value, len(parts))
	for i, p := range parts {
		items[i] = protocol.NewBulkString(p)
	}
	if _, err := conn.Write(protocol.Encode(protocol.NewArray(items))); err != nil {
		t.Fatalf("write command: %v", err)
	}
}

func readValue(t *testing.T, r *bufio.Reader) protocol.Value {
	t.Helper()
	v, err := protocol.ParseValue(r)
	if err != nil {
		t.Fatalf("parse response: %v", err)
	}
	return v
}

func TestServerRespondsToPing(t *testing.T) {
	_, addr := newTestServer(t)
	conn, r := dial(t, addr)

	sendCommand(t, conn, "PING")
	v := readValue(t, r)
	if v.Str != "PONG" {
		t.Fatalf("expected PONG, got %+v", v)
	}
}

func TestServerSetAndGetRoundTrip(t *testing.T) {
	_, addr := newTestServer(t)
	conn, r := dial(t, addr)

	sendCommand(t, conn, "SET", "k", "v")
	if got := readValue(t, r); got.Str != "OK" {
		t.Fatalf("expected OK, got %+v", got)
	}

	sendCommand(t, conn, "GET", "k")
	if got := readValue(t, r); string(got.Bulk) != "v" {
		t.Fatalf("expected v, got %+v", got)
	}
}

func TestServerUnknownCommandReturnsError(t *testing.T) {
	_, addr := newTestServer(t)
	conn, r := dial(t, addr)

	sendCommand(t, conn, "NOSUCHCOMMAND")
	v := readValue(t, r)
	if v.Kind != protocol.Error {
		t.Fatalf("expected an error response, got %+v", v)
	}
}

func TestServerQuitClosesConnection(t *testing.T) {
	_, addr := newTestServer(t)
	conn, r := dial(t, addr)

	sendCommand(t, conn, "QUIT")
	if got := readValue(t, r); got.Str != "OK" {
		t.Fatalf("expected OK, got %+v", got)
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := r.ReadByte(); err == nil {
		t.Fatal("expected the connection to be closed after QUIT")
	}
}

func TestServerRejectsNonSubscribeCommandsInPubSubMode(t *testing.T) {
	_, addr := newTestServer(t)
	conn, r := dial(t, addr)

	sendCommand(t, conn, "SUBSCRIBE", "news")
	_ = readValue(t, r) // the subscribe ack array

	sendCommand(t, conn, "GET", "k")
	v := readValue(t, r)
	if v.Kind != protocol.Error {
		t.Fatalf("expected GET to be rejected in pub/sub mode, got %+v", v)
	}
}

func TestServerPublishDeliversToSubscriber(t *testing.T) {
	_, addr := newTestServer(t)
	sub, subR := dial(t, addr)
	pub, pubR := dial(t, addr)

	sendCommand(t, sub, "SUBSCRIBE", "news")
	_ = readValue(t, subR)

	sendCommand(t, pub, "PUBLISH", "news", "hello")
	if got := readValue(t, pubR); got.Int != 1 {
		t.Fatalf("expected 1 delivery, got %+v", got)
	}

	msg := readValue(t, subR)
	if len(msg.Items) != 3 || string(msg.Items[2].Bulk) != "hello" {
		t.Fatalf("expected a message frame carrying 'hello', got %+v", msg)
	}
}

func TestServerMonitorObservesCommands(t *testing.T) {
	_, addr := newTestServer(t)
	mon, monR := dial(t, addr)
	other, otherR := dial(t, addr)

	sendCommand(t, mon, "MONITOR")
	if got := readValue(t, monR); got.Str != "OK" {
		t.Fatalf("expected OK from MONITOR, got %+v", got)
	}

	sendCommand(t, other, "PING")
	_ = readValue(t, otherR)

	frame := readValue(t, monR)
	if frame.Kind != protocol.SimpleString || frame.Str == "" {
		t.Fatalf("expected a monitor frame, got %+v", frame)
	}
}

func TestServerCommandsProcessedStatIncrements(t *testing.T) {
	srv, addr := newTestServer(t)
	conn, r := dial(t, addr)

	before := srv.stats.CommandsProcessed()
	sendCommand(t, conn, "PING")
	_ = readValue(t, r)

	deadline := time.Now().Add(time.Second)
	for srv.stats.CommandsProcessed() == before && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if srv.stats.CommandsProcessed() != before+1 {
		t.Fatalf("expected CommandsProcessed to increment, stayed at %d", before)
	}
}
