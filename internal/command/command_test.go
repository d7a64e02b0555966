package command

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/adred-codev/odin-kv/internal/config"
	"github.com/adred-codev/odin-kv/internal/monitor"
	"github.com/adred-codev/odin-kv/internal/pubsub"
	"github.com/adred-codev/odin-kv/internal/stats"
	"github.com/adred-codev/odin-kv/internal/store"
)

// fakeClient stands in for *session.Client in tests that don't need a
// real socket: only the identity/delivery surface the pubsub and
// monitor registries depend on.
type fakeClient struct {
	id         int64
	delivered  [][]byte
	subscribed bool
	closed     bool
}

func (f *fakeClient) ID() int64 { return f.id }
func (f *fakeClient) Deliver(channel string, message []byte) bool {
	if f.closed {
		return false
	}
	f.delivered = append(f.delivered, message)
	return true
}
func (f *fakeClient) DeliverMonitor(frame string) bool { return !f.closed }
func (f *fakeClient) Closed() bool                     { return f.closed }
func (f *fakeClient) SetSubscribed(v bool)             { f.subscribed = v }
func (f *fakeClient) Subscribed() bool                 { return f.subscribed }

func args(strs ...string) [][]byte {
	out := make([][]byte, len(strs))
	for i, s := range strs {
		out[i] = []byte(s)
	}
	return out
}

func newTestContext() (*Context, *Table) {
	return &Context{
		Keyspace: store.New(4),
		PubSub:   pubsub.New(),
		Monitor:  monitor.New(),
		Config:   config.NewStore(config.Defaults()),
		Stats:    stats.New(),
		Logger:   zerolog.Nop(),
	}, NewTable()
}

func TestSetAndGet(t *testing.T) {
	ctx, table := newTestContext()
	h, ok := table.Lookup("SET")
	if !ok {
		t.Fatal("expected SET to be registered")
	}
	if r := h(ctx, args("k", "v")); r.Value.Str != "OK" {
		t.Fatalf("expected OK, got %+v", r.Value)
	}

	get, _ := table.Lookup("GET")
	r := get(ctx, args("k"))
	if string(r.Value.Bulk) != "v" {
		t.Fatalf("expected v, got %q", r.Value.Bulk)
	}
}

func TestSetNXSkipsExistingKey(t *testing.T) {
	ctx, table := newTestContext()
	set, _ := table.Lookup("SET")
	set(ctx, args("k", "first"))
	set(ctx, args("k", "second", "NX"))

	get, _ := table.Lookup("GET")
	r := get(ctx, args("k"))
	if string(r.Value.Bulk) != "first" {
		t.Fatalf("expected NX to leave the original value, got %q", r.Value.Bulk)
	}
}

func TestSetXXSkipsMissingKey(t *testing.T) {
	ctx, table := newTestContext()
	set, _ := table.Lookup("SET")
	set(ctx, args("missing", "v", "XX"))

	get, _ := table.Lookup("GET")
	if got := get(ctx, args("missing")); !got.Value.BulkNil {
		t.Fatalf("expected XX against a missing key to leave it unset, got %+v", got.Value)
	}
}

func TestWrongTypeError(t *testing.T) {
	ctx, table := newTestContext()
	lpush, _ := table.Lookup("LPUSH")
	lpush(ctx, args("l", "a", "b"))

	get, _ := table.Lookup("GET")
	r := get(ctx, args("l"))
	if r.Value.Str == "" || r.Value.Str[:9] != "WRONGTYPE" {
		t.Fatalf("expected WRONGTYPE error, got %+v", r.Value)
	}
}

func TestWrongNumberOfArguments(t *testing.T) {
	ctx, table := newTestContext()
	get, _ := table.Lookup("GET")
	r := get(ctx, args())
	if r.Value.Str == "" {
		t.Fatal("expected an error for wrong argument count")
	}
}

func TestIncrByAndDecrBy(t *testing.T) {
	ctx, table := newTestContext()
	incr, _ := table.Lookup("INCRBY")
	r := incr(ctx, args("counter", "5"))
	if r.Value.Int != 5 {
		t.Fatalf("expected 5, got %d", r.Value.Int)
	}
	decr, _ := table.Lookup("DECRBY")
	r = decr(ctx, args("counter", "2"))
	if r.Value.Int != 3 {
		t.Fatalf("expected 3, got %d", r.Value.Int)
	}
}

func TestListPushPopRange(t *testing.T) {
	ctx, table := newTestContext()
	rpush, _ := table.Lookup("RPUSH")
	rpush(ctx, args("l", "a", "b", "c"))

	lrange, _ := table.Lookup("LRANGE")
	r := lrange(ctx, args("l", "0", "-1"))
	if len(r.Value.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(r.Value.Items))
	}

	lpop, _ := table.Lookup("LPOP")
	popped := lpop(ctx, args("l"))
	if string(popped.Value.Bulk) != "a" {
		t.Fatalf("expected to pop 'a', got %q", popped.Value.Bulk)
	}
}

func TestSetOperations(t *testing.T) {
	ctx, table := newTestContext()
	sadd, _ := table.Lookup("SADD")
	r := sadd(ctx, args("s", "x", "y", "x"))
	if r.Value.Int != 2 {
		t.Fatalf("expected 2 newly added members, got %d", r.Value.Int)
	}

	sismember, _ := table.Lookup("SISMEMBER")
	if got := sismember(ctx, args("s", "x")); got.Value.Int != 1 {
		t.Fatalf("expected x to be a member")
	}
}

func TestDelExistsTTL(t *testing.T) {
	ctx, table := newTestContext()
	set, _ := table.Lookup("SET")
	set(ctx, args("k", "v", "EX", "100"))

	ttl, _ := table.Lookup("TTL")
	r := ttl(ctx, args("k"))
	if r.Value.Int <= 0 {
		t.Fatalf("expected a positive TTL, got %d", r.Value.Int)
	}

	del, _ := table.Lookup("DEL")
	if got := del(ctx, args("k")); got.Value.Int != 1 {
		t.Fatalf("expected DEL to report 1 removed key")
	}

	exists, _ := table.Lookup("EXISTS")
	if got := exists(ctx, args("k")); got.Value.Int != 0 {
		t.Fatalf("expected key to no longer exist")
	}
}

func TestExpireNegativeDeletesKey(t *testing.T) {
	ctx, table := newTestContext()
	set, _ := table.Lookup("SET")
	set(ctx, args("k", "v"))

	expire, _ := table.Lookup("EXPIRE")
	expire(ctx, args("k", "-1"))

	exists, _ := table.Lookup("EXISTS")
	if got := exists(ctx, args("k")); got.Value.Int != 0 {
		t.Fatalf("expected a negative EXPIRE to delete the key")
	}
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	ctx, table := newTestContext()
	sub := &fakeClient{id: 1}
	subCtx := *ctx
	subCtx.Client = sub

	subscribe, _ := table.Lookup("SUBSCRIBE")
	subscribe(&subCtx, args("news"))

	publish, _ := table.Lookup("PUBLISH")
	r := publish(ctx, args("news", "hello"))
	if r.Value.Int != 1 {
		t.Fatalf("expected 1 delivery, got %d", r.Value.Int)
	}
	if len(sub.delivered) != 1 || string(sub.delivered[0]) != "hello" {
		t.Fatalf("expected subscriber to receive 'hello', got %+v", sub.delivered)
	}
}

func TestPubSubChannelsMatchesGlobPattern(t *testing.T) {
	ctx, table := newTestContext()
	subscribe, _ := table.Lookup("SUBSCRIBE")

	for i, ch := range []string{"AGE", "ATE", "HOLA"} {
		subCtx := *ctx
		subCtx.Client = &fakeClient{id: int64(i + 1)}
		subscribe(&subCtx, args(ch))
	}

	pubsub, _ := table.Lookup("PUBSUB")
	r := pubsub(ctx, args("CHANNELS", "A?E"))

	got := make(map[string]bool, len(r.Value.Items))
	for _, item := range r.Value.Items {
		got[string(item.Bulk)] = true
	}
	if len(got) != 2 || !got["AGE"] || !got["ATE"] {
		t.Fatalf("expected PUBSUB CHANNELS A?E to match {AGE, ATE}, got %+v", got)
	}
}

func TestConfigGetSet(t *testing.T) {
	ctx, table := newTestContext()
	configCmd, _ := table.Lookup("CONFIG")

	set := configCmd(ctx, args("SET", "timeout", "30"))
	if set.Value.Str != "OK" {
		t.Fatalf("expected OK from CONFIG SET, got %+v", set.Value)
	}

	get := configCmd(ctx, args("GET", "timeout"))
	if len(get.Value.Items) != 2 || string(get.Value.Items[1].Bulk) != "30" {
		t.Fatalf("expected CONFIG GET to reflect the new value, got %+v", get.Value)
	}
}

func TestDBSizeAndFlushDB(t *testing.T) {
	ctx, table := newTestContext()
	set, _ := table.Lookup("SET")
	set(ctx, args("a", "1"))
	set(ctx, args("b", "2"))

	dbsize, _ := table.Lookup("DBSIZE")
	if r := dbsize(ctx, args()); r.Value.Int != 2 {
		t.Fatalf("expected DBSIZE 2, got %d", r.Value.Int)
	}

	flush, _ := table.Lookup("FLUSHDB")
	flush(ctx, args())

	if r := dbsize(ctx, args()); r.Value.Int != 0 {
		t.Fatalf("expected DBSIZE 0 after FLUSHDB, got %d", r.Value.Int)
	}
}

func TestQuitSignalsClose(t *testing.T) {
	ctx, table := newTestContext()
	quit, _ := table.Lookup("QUIT")
	r := quit(ctx, args())
	if !r.Close {
		t.Fatal("expected QUIT to signal connection close")
	}
}
