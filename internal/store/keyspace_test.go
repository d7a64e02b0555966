package store

import (
	"testing"
	"time"
)

func TestSetGetAndType(t *testing.T) {
	ks := New(4)
	ks.Set("first_key", StringValue([]byte("test")))

	v, ok := ks.Get("first_key")
	if !ok || string(v.Str) != "test" {
		t.Fatalf("got %v ok=%v", v, ok)
	}
	if ks.Type("first_key") != "string" {
		t.Fatalf("got type %q", ks.Type("first_key"))
	}
	if ks.TTL("first_key") != -1 {
		t.Fatalf("expected -1 ttl, got %d", ks.TTL("first_key"))
	}
	if !ks.Delete("first_key") {
		t.Fatal("expected delete to report present")
	}
	if ks.TTL("first_key") != -2 {
		t.Fatalf("expected -2 ttl for absent key, got %d", ks.TTL("first_key"))
	}
}

func TestListPushPopIndex(t *testing.T) {
	ks := New(4)
	ks.Push("L", true, "hola")
	ks.Push("L", true, "test", "adios")

	v, _, err := ks.Index("L", 1)
	if err != nil || v != "test" {
		t.Fatalf("got %q err=%v", v, err)
	}
	length, _ := ks.Len("L")
	if length != 3 {
		t.Fatalf("expected length 3, got %d", length)
	}
	popped, err := ks.Pop("L", true, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(popped) != 2 || popped[0] != "adios" || popped[1] != "test" {
		t.Fatalf("got %v", popped)
	}
}

func TestSetCommandsAndRename(t *testing.T) {
	ks := New(4)
	ks.SAdd("S", "test", "asd")
	card, _ := ks.SCard("S")
	if card != 2 {
		t.Fatalf("expected card 2, got %d", card)
	}

	if err := ks.SetExpiration("S", time.Now().Add(100*time.Second)); err != nil {
		t.Fatal(err)
	}
	ttl := ks.TTL("S")
	if ttl <= 0 || ttl > 100 {
		t.Fatalf("unexpected ttl %d", ttl)
	}

	if err := ks.Rename("S", "S2"); err != nil {
		t.Fatal(err)
	}
	if ks.Exists("S") {
		t.Fatal("S should be gone after rename")
	}
	members, err := ks.SMembers("S2")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %v", members)
	}
}

func TestAppendReturnsCombinedLength(t *testing.T) {
	ks := New(4)
	n1, err := ks.Append("k", []byte("v1"))
	if err != nil || n1 != 2 {
		t.Fatalf("got n=%d err=%v", n1, err)
	}
	n2, err := ks.Append("k", []byte("v2"))
	if err != nil || n2 != 4 {
		t.Fatalf("got n=%d err=%v", n2, err)
	}
	v, _ := ks.Get("k")
	if string(v.Str) != "v1v2" {
		t.Fatalf("got %q", v.Str)
	}
}

func TestIncrementParallel(t *testing.T) {
	ks := New(4)
	const n = 200
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			if _, err := ks.Increment("counter", 1); err != nil {
				t.Error(err)
			}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	v, _ := ks.Get("counter")
	if string(v.Str) != "200" {
		t.Fatalf("expected 200, got %q", v.Str)
	}
}

func TestWrongTypeErrors(t *testing.T) {
	ks := New(4)
	ks.Set("s", StringValue([]byte("x")))
	if _, err := ks.Push("s", true, "a"); err != ErrWrongType {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
}

func TestExpirationIsObservedOnce(t *testing.T) {
	now := time.Now()
	clock := now
	ks := New(4)
	ks.WithClock(func() time.Time { return clock })

	ks.Set("k", StringValue([]byte("v")))
	if err := ks.SetExpiration("k", now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}

	clock = now.Add(2 * time.Second)
	if _, ok := ks.Get("k"); ok {
		t.Fatal("expected expired key to be absent")
	}
	if _, ok := ks.Get("k"); ok {
		t.Fatal("expected second read to also be absent")
	}
}

func TestLRemPositiveCountFromHead(t *testing.T) {
	ks := New(4)
	ks.Push("L", false, "a", "b", "a", "c", "a")

	removed, err := ks.LRem("L", 2, "a")
	if err != nil || removed != 2 {
		t.Fatalf("got removed=%d err=%v", removed, err)
	}
	vals, _ := ks.Range("L", 0, -1)
	if len(vals) != 3 || vals[2] != "a" {
		t.Fatalf("got %v", vals)
	}
}

func TestSortNumeric(t *testing.T) {
	ks := New(4)
	ks.Push("L", false, "3", "1", "2")
	asc, err := ks.Sort("L", false)
	if err != nil {
		t.Fatal(err)
	}
	if asc[0] != "1" || asc[1] != "2" || asc[2] != "3" {
		t.Fatalf("got %v", asc)
	}
	desc, _ := ks.Sort("L", true)
	if desc[0] != "3" {
		t.Fatalf("got %v", desc)
	}
}

func TestKeysGlob(t *testing.T) {
	ks := New(4)
	for _, k := range []string{"age", "ate", "abe"} {
		ks.Set(k, StringValue([]byte("v")))
	}
	matches, err := ks.Keys("a[^g]e")
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, m := range matches {
		got[m] = true
	}
	if !got["ate"] || !got["abe"] || got["age"] {
		t.Fatalf("got %v", matches)
	}
}
