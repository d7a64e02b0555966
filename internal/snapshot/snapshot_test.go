package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/odin-kv/internal/store"
)

func TestEncodeDecodeRoundTripString(t *testing.T) {
	e := store.SnapshotEntry{
		Key:        "greeting",
		Value:      store.StringValue([]byte("hello world")),
		LastAccess: time.Unix(1000, 0),
		ExpiresAt:  time.Unix(2000, 0),
	}
	line := Encode(e)
	got, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Key != e.Key || string(got.Value.Str) != "hello world" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.ExpiresAt.Equal(e.ExpiresAt) {
		t.Fatalf("expected expires_at %v, got %v", e.ExpiresAt, got.ExpiresAt)
	}
}

func TestEncodeDecodeRoundTripListAndSet(t *testing.T) {
	list := store.SnapshotEntry{
		Key:        "mylist",
		Value:      store.ListValue([]string{"a", "b", "c"}),
		LastAccess: time.Unix(500, 0),
	}
	got, err := Decode(Encode(list))
	if err != nil {
		t.Fatalf("Decode list: %v", err)
	}
	if len(got.Value.List) != 3 || got.Value.List[1] != "b" {
		t.Fatalf("expected list round trip, got %+v", got.Value.List)
	}
	if !got.ExpiresAt.IsZero() {
		t.Fatalf("expected no expiration, got %v", got.ExpiresAt)
	}

	set := store.SnapshotEntry{
		Key:        "myset",
		Value:      store.SetValue(map[string]struct{}{"x": {}, "y": {}}),
		LastAccess: time.Unix(500, 0),
	}
	got, err = Decode(Encode(set))
	if err != nil {
		t.Fatalf("Decode set: %v", err)
	}
	if len(got.Value.Set) != 2 {
		t.Fatalf("expected 2 set members, got %d", len(got.Value.Set))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ks := store.New(4)
	ks.Set("a", store.StringValue([]byte("1")))
	ks.Set("b", store.StringValue([]byte("2")))
	ks.Push("c", true, "x", "y")
	ks.SAdd("d", "m1", "m2")

	dir := t.TempDir()
	path := filepath.Join(dir, "dump.rdb")

	if err := Save(ks, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := store.New(4)
	if err := Load(loaded, path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.Length() != ks.Length() {
		t.Fatalf("expected %d keys after reload, got %d", ks.Length(), loaded.Length())
	}
	v, ok := loaded.Get("a")
	if !ok || string(v.Str) != "1" {
		t.Fatalf("expected key a to survive round trip, got %+v ok=%v", v, ok)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	ks := store.New(2)
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.rdb")

	if err := Load(ks, path); err != nil {
		t.Fatalf("expected missing snapshot file to be tolerated, got %v", err)
	}
	if ks.Length() != 0 {
		t.Fatalf("expected empty keyspace, got %d keys", ks.Length())
	}
}

func TestManagerSaveNow(t *testing.T) {
	ks := store.New(2)
	ks.Set("k", store.StringValue([]byte("v")))

	dir := t.TempDir()
	path := filepath.Join(dir, "dump.rdb")
	mgr := NewManager(ks, path, nil, zerolog.Nop())

	if err := mgr.SaveNow(); err != nil {
		t.Fatalf("SaveNow: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected snapshot file to exist: %v", err)
	}
}
