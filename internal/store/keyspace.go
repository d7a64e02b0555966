// Package store implements the concurrent keyspace: a sharded mapping
// from key names to typed, expiring entries, exposing the atomic
// operation set spec.md §4.2 requires.
package store

import (
	"errors"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"time"
)

var (
	ErrNotFound    = errors.New("store: key not found")
	ErrWrongType   = errors.New("store: WRONGTYPE operation against a key holding the wrong kind of value")
	ErrNotInteger  = errors.New("store: value is not an integer")
	ErrOutOfRange  = errors.New("store: index out of range")
	ErrNotANumber  = errors.New("store: value is not a number")
)

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Keyspace is the sharded, concurrent keyspace. Sharding is the
// enhancement SPEC_FULL.md §4.2 calls for over a single whole-map lock:
// each shard carries its own RWMutex, so two keys hashing to different
// shards never contend.
type Keyspace struct {
	shards []*shard
	mask   uint64
	// now is overridable by tests; defaults to time.Now.
	now func() time.Time
}

// New creates a Keyspace with shardCount buckets, rounded up to the next
// power of two (0 or negative defaults to 16).
func New(shardCount int) *Keyspace {
	if shardCount <= 0 {
		shardCount = 16
	}
	n := 1
	for n < shardCount {
		n <<= 1
	}
	ks := &Keyspace{
		shards: make([]*shard, n),
		mask:   uint64(n - 1),
		now:    time.Now,
	}
	for i := range ks.shards {
		ks.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return ks
}

func (ks *Keyspace) shardFor(key string) *shard {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return ks.shards[h.Sum64()&ks.mask]
}

// get returns the live (unexpired) entry for key, or nil, removing an
// expired entry it finds. Callers must hold sh.mu; get takes no lock.
func (ks *Keyspace) get(sh *shard, key string, now time.Time) *entry {
	e, ok := sh.entries[key]
	if !ok {
		return nil
	}
	if e.expired(now) {
		delete(sh.entries, key)
		return nil
	}
	return e
}

// Get returns the value stored at key, updating last_access. A lazily
// observed expiration removes the key and reports absence, never an
// error (spec §4.2, §7).
func (ks *Keyspace) Get(key string) (Value, bool) {
	sh := ks.shardFor(key)
	now := ks.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e := ks.get(sh, key, now)
	if e == nil {
		return Value{}, false
	}
	e.lastAccess = now
	return e.value, true
}

// Type returns the kind-string of key, or "none" if absent/expired.
func (ks *Keyspace) Type(key string) string {
	v, ok := ks.Get(key)
	if !ok {
		return "none"
	}
	return v.Kind.String()
}

// Set replaces the value at key, clears any expiration, and updates
// last_access. Creates the key if absent.
func (ks *Keyspace) Set(key string, v Value) {
	sh := ks.shardFor(key)
	now := ks.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.entries[key] = &entry{value: v, lastAccess: now}
}

// SetKeepTTL behaves like Set but preserves any existing expiration
// (used by SET ... KEEPTTL).
func (ks *Keyspace) SetKeepTTL(key string, v Value) {
	sh := ks.shardFor(key)
	now := ks.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	var expiresAt time.Time
	if e, ok := sh.entries[key]; ok && !e.expired(now) {
		expiresAt = e.expiresAt
	}
	sh.entries[key] = &entry{value: v, lastAccess: now, expiresAt: expiresAt}
}

// SetMultiple applies Set to each pair. No cross-key atomicity is
// required (spec §4.2).
func (ks *Keyspace) SetMultiple(pairs map[string]Value) {
	for k, v := range pairs {
		ks.Set(k, v)
	}
}

// SetExpiration sets (abs non-zero) or clears (zero) the expiration on
// key. Fails if the key is absent.
func (ks *Keyspace) SetExpiration(key string, at time.Time) error {
	sh := ks.shardFor(key)
	now := ks.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e := ks.get(sh, key, now)
	if e == nil {
		return ErrNotFound
	}
	e.expiresAt = at
	return nil
}

// Persist clears any expiration on key. Returns whether a TTL was
// actually removed.
func (ks *Keyspace) Persist(key string) bool {
	sh := ks.shardFor(key)
	now := ks.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e := ks.get(sh, key, now)
	if e == nil || e.expiresAt.IsZero() {
		return false
	}
	e.expiresAt = time.Time{}
	return true
}

// TTL returns seconds-until-expiry, -1 if no expiration, -2 if absent.
func (ks *Keyspace) TTL(key string) int64 {
	sh := ks.shardFor(key)
	now := ks.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e := ks.get(sh, key, now)
	if e == nil {
		return -2
	}
	if e.expiresAt.IsZero() {
		return -1
	}
	d := e.expiresAt.Sub(now)
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}

// Rename moves the entry at src to dst, overwriting dst, preserving
// src's expiration. Fails if src is absent.
func (ks *Keyspace) Rename(src, dst string) error {
	if src == dst {
		sh := ks.shardFor(src)
		now := ks.now()
		sh.mu.Lock()
		defer sh.mu.Unlock()
		if ks.get(sh, src, now) == nil {
			return ErrNotFound
		}
		return nil
	}

	srcShard, dstShard := ks.shardFor(src), ks.shardFor(dst)
	// Lock in a fixed order (by shard slice index) to avoid deadlock
	// when two renames cross the same pair of shards in opposite
	// directions.
	first, second := srcShard, dstShard
	if shardIndex(ks, dstShard) < shardIndex(ks, srcShard) {
		first, second = dstShard, srcShard
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	if second != first {
		second.mu.Lock()
		defer second.mu.Unlock()
	}

	now := ks.now()
	e := ks.get(srcShard, src, now)
	if e == nil {
		return ErrNotFound
	}
	delete(srcShard.entries, src)
	dstShard.entries[dst] = e
	return nil
}

func shardIndex(ks *Keyspace, sh *shard) int {
	for i, s := range ks.shards {
		if s == sh {
			return i
		}
	}
	return -1
}

// Delete removes key, reporting whether it was present.
func (ks *Keyspace) Delete(key string) bool {
	sh := ks.shardFor(key)
	now := ks.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if ks.get(sh, key, now) == nil {
		return false
	}
	delete(sh.entries, key)
	return true
}

// Exists reports whether key is present and unexpired.
func (ks *Keyspace) Exists(key string) bool {
	_, ok := ks.Get(key)
	return ok
}

// Touch updates last_access for key if present, returning whether it was.
func (ks *Keyspace) Touch(key string) bool {
	sh := ks.shardFor(key)
	now := ks.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e := ks.get(sh, key, now)
	if e == nil {
		return false
	}
	e.lastAccess = now
	return true
}

// ModifyLastAccess sets last_access to t, returning the previous value.
// Fails if key is absent.
func (ks *Keyspace) ModifyLastAccess(key string, t time.Time) (time.Time, error) {
	sh := ks.shardFor(key)
	now := ks.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e := ks.get(sh, key, now)
	if e == nil {
		return time.Time{}, ErrNotFound
	}
	prev := e.lastAccess
	e.lastAccess = t
	return prev, nil
}

// Append appends b to the string at key, creating it if absent. Returns
// the new length. Fails on a non-string value.
func (ks *Keyspace) Append(key string, b []byte) (int, error) {
	sh := ks.shardFor(key)
	now := ks.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e := ks.get(sh, key, now)
	if e == nil {
		e = &entry{value: StringValue(nil), lastAccess: now}
		sh.entries[key] = e
	} else if e.value.Kind != KindString {
		return 0, ErrWrongType
	}
	e.value.Str = append(e.value.Str, b...)
	e.lastAccess = now
	return len(e.value.Str), nil
}

// Strlen returns the byte length of the string at key, 0 if absent.
func (ks *Keyspace) Strlen(key string) (int, error) {
	v, ok := ks.Get(key)
	if !ok {
		return 0, nil
	}
	if v.Kind != KindString {
		return 0, ErrWrongType
	}
	return len(v.Str), nil
}

func (ks *Keyspace) incrDecr(key string, delta int64) (int64, error) {
	sh := ks.shardFor(key)
	now := ks.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e := ks.get(sh, key, now)
	var current int64
	if e == nil {
		e = &entry{value: StringValue(nil), lastAccess: now}
		sh.entries[key] = e
	} else if e.value.Kind != KindString {
		return 0, ErrWrongType
	} else if len(e.value.Str) > 0 {
		n, err := strconv.ParseInt(string(e.value.Str), 10, 64)
		if err != nil {
			return 0, ErrNotInteger
		}
		current = n
	}
	current += delta
	e.value.Str = []byte(strconv.FormatInt(current, 10))
	e.lastAccess = now
	return current, nil
}

// Increment parses the current string as a signed 64-bit integer
// (default 0 if absent), adds n, writes it back, and returns the result.
func (ks *Keyspace) Increment(key string, n int64) (int64, error) { return ks.incrDecr(key, n) }

// Decrement is Increment with the delta negated.
func (ks *Keyspace) Decrement(key string, n int64) (int64, error) { return ks.incrDecr(key, -n) }

// --- lists ---

func (ks *Keyspace) listEntry(sh *shard, key string, now time.Time, createIfAbsent bool) (*entry, error) {
	e := ks.get(sh, key, now)
	if e == nil {
		if !createIfAbsent {
			return nil, nil
		}
		e = &entry{value: ListValue(nil), lastAccess: now}
		sh.entries[key] = e
		return e, nil
	}
	if e.value.Kind != KindList {
		return nil, ErrWrongType
	}
	return e, nil
}

// Push prepends (left=true) or appends (left=false) values to the list
// at key, creating it if absent, and returns the new length.
func (ks *Keyspace) Push(key string, left bool, values ...string) (int, error) {
	return ks.push(key, left, true, values...)
}

// PushX is Push but only if key already exists and holds a list.
func (ks *Keyspace) PushX(key string, left bool, values ...string) (int, error) {
	return ks.push(key, left, false, values...)
}

func (ks *Keyspace) push(key string, left, createIfAbsent bool, values ...string) (int, error) {
	sh := ks.shardFor(key)
	now := ks.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, err := ks.listEntry(sh, key, now, createIfAbsent)
	if err != nil {
		return 0, err
	}
	if e == nil {
		return 0, nil
	}
	if left {
		for _, v := range values {
			e.value.List = append([]string{v}, e.value.List...)
		}
	} else {
		e.value.List = append(e.value.List, values...)
	}
	e.lastAccess = now
	return len(e.value.List), nil
}

// Pop removes up to n elements from the head (left=true) or tail, in the
// order they were removed.
func (ks *Keyspace) Pop(key string, left bool, n int) ([]string, error) {
	sh := ks.shardFor(key)
	now := ks.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e := ks.get(sh, key, now)
	if e == nil {
		return nil, nil
	}
	if e.value.Kind != KindList {
		return nil, ErrWrongType
	}
	if n > len(e.value.List) {
		n = len(e.value.List)
	}
	if n <= 0 {
		return nil, nil
	}
	var popped []string
	if left {
		popped = append(popped, e.value.List[:n]...)
		e.value.List = e.value.List[n:]
	} else {
		tail := e.value.List[len(e.value.List)-n:]
		for i := len(tail) - 1; i >= 0; i-- {
			popped = append(popped, tail[i])
		}
		e.value.List = e.value.List[:len(e.value.List)-n]
	}
	e.lastAccess = now
	return popped, nil
}

func normalizeIndex(i, length int) int {
	if i < 0 {
		i += length
	}
	return i
}

// Index returns the element at index i (negative counts from the tail);
// out of range is reported as absent, never an error (spec §9(c)).
func (ks *Keyspace) Index(key string, i int) (string, bool, error) {
	v, ok := ks.Get(key)
	if !ok {
		return "", false, nil
	}
	if v.Kind != KindList {
		return "", false, ErrWrongType
	}
	idx := normalizeIndex(i, len(v.List))
	if idx < 0 || idx >= len(v.List) {
		return "", false, nil
	}
	return v.List[idx], true, nil
}

// Len returns the length of the list at key (0 if absent); an error if
// key holds a non-list value.
func (ks *Keyspace) Len(key string) (int, error) {
	v, ok := ks.Get(key)
	if !ok {
		return 0, nil
	}
	if v.Kind != KindList {
		return 0, ErrWrongType
	}
	return len(v.List), nil
}

// LSet writes value at index i; out-of-range is an error.
func (ks *Keyspace) LSet(key string, i int, value string) error {
	sh := ks.shardFor(key)
	now := ks.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e := ks.get(sh, key, now)
	if e == nil {
		return ErrNotFound
	}
	if e.value.Kind != KindList {
		return ErrWrongType
	}
	idx := normalizeIndex(i, len(e.value.List))
	if idx < 0 || idx >= len(e.value.List) {
		return ErrOutOfRange
	}
	e.value.List[idx] = value
	e.lastAccess = now
	return nil
}

// LRem removes matches of value from the list at key: count>0 removes
// the first count from the head, count<0 the last |count| from the
// tail, count==0 removes all. Returns the number removed.
func (ks *Keyspace) LRem(key string, count int, value string) (int, error) {
	sh := ks.shardFor(key)
	now := ks.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e := ks.get(sh, key, now)
	if e == nil {
		return 0, nil
	}
	if e.value.Kind != KindList {
		return 0, ErrWrongType
	}

	removed := 0
	src := e.value.List
	out := make([]string, 0, len(src))
	switch {
	case count == 0:
		for _, v := range src {
			if v == value {
				removed++
				continue
			}
			out = append(out, v)
		}
	case count > 0:
		limit := count
		for _, v := range src {
			if v == value && limit > 0 {
				removed++
				limit--
				continue
			}
			out = append(out, v)
		}
	default:
		limit := -count
		for i := len(src) - 1; i >= 0; i-- {
			v := src[i]
			if v == value && limit > 0 {
				removed++
				limit--
				continue
			}
			out = append([]string{v}, out...)
		}
	}
	e.value.List = out
	e.lastAccess = now
	return removed, nil
}

// Range returns an inclusive slice [a,b] with negative-index rules; an
// empty slice if key is absent.
func (ks *Keyspace) Range(key string, a, b int) ([]string, error) {
	v, ok := ks.Get(key)
	if !ok {
		return nil, nil
	}
	if v.Kind != KindList {
		return nil, ErrWrongType
	}
	length := len(v.List)
	start := normalizeIndex(a, length)
	end := normalizeIndex(b, length)
	if start < 0 {
		start = 0
	}
	if end >= length {
		end = length - 1
	}
	if start > end || length == 0 {
		return []string{}, nil
	}
	out := make([]string, end-start+1)
	copy(out, v.List[start:end+1])
	return out, nil
}

// --- sets ---

// SAdd adds members to the set at key, creating it if absent. Inserting
// a present element is a no-op; returns the number newly added.
func (ks *Keyspace) SAdd(key string, members ...string) (int, error) {
	sh := ks.shardFor(key)
	now := ks.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e := ks.get(sh, key, now)
	if e == nil {
		e = &entry{value: SetValue(make(map[string]struct{})), lastAccess: now}
		sh.entries[key] = e
	} else if e.value.Kind != KindSet {
		return 0, ErrWrongType
	}
	added := 0
	for _, m := range members {
		if _, exists := e.value.Set[m]; !exists {
			e.value.Set[m] = struct{}{}
			added++
		}
	}
	e.lastAccess = now
	return added, nil
}

// SRem removes members from the set at key; returns the number removed.
func (ks *Keyspace) SRem(key string, members ...string) (int, error) {
	sh := ks.shardFor(key)
	now := ks.now()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e := ks.get(sh, key, now)
	if e == nil {
		return 0, nil
	}
	if e.value.Kind != KindSet {
		return 0, ErrWrongType
	}
	removed := 0
	for _, m := range members {
		if _, exists := e.value.Set[m]; exists {
			delete(e.value.Set, m)
			removed++
		}
	}
	e.lastAccess = now
	return removed, nil
}

// SIsMember reports whether member is in the set at key.
func (ks *Keyspace) SIsMember(key, member string) (bool, error) {
	v, ok := ks.Get(key)
	if !ok {
		return false, nil
	}
	if v.Kind != KindSet {
		return false, ErrWrongType
	}
	_, exists := v.Set[member]
	return exists, nil
}

// SCard returns the cardinality of the set at key.
func (ks *Keyspace) SCard(key string) (int, error) {
	v, ok := ks.Get(key)
	if !ok {
		return 0, nil
	}
	if v.Kind != KindSet {
		return 0, ErrWrongType
	}
	return len(v.Set), nil
}

// SMembers returns all members of the set at key, order unspecified.
func (ks *Keyspace) SMembers(key string) ([]string, error) {
	v, ok := ks.Get(key)
	if !ok {
		return nil, nil
	}
	if v.Kind != KindSet {
		return nil, ErrWrongType
	}
	out := make([]string, 0, len(v.Set))
	for m := range v.Set {
		out = append(out, m)
	}
	return out, nil
}

// Sort returns the elements of the list or set at key, parsed as
// float64 and sorted ascending (or descending). Fails on a string
// value or a non-numeric element.
func (ks *Keyspace) Sort(key string, desc bool) ([]string, error) {
	v, ok := ks.Get(key)
	if !ok {
		return []string{}, nil
	}
	var elems []string
	switch v.Kind {
	case KindList:
		elems = v.List
	case KindSet:
		elems = make([]string, 0, len(v.Set))
		for m := range v.Set {
			elems = append(elems, m)
		}
	default:
		return nil, ErrWrongType
	}

	parsed := make([]float64, len(elems))
	for i, e := range elems {
		f, err := strconv.ParseFloat(e, 64)
		if err != nil {
			return nil, ErrNotANumber
		}
		parsed[i] = f
	}
	idx := make([]int, len(elems))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool {
		if desc {
			return parsed[idx[i]] > parsed[idx[j]]
		}
		return parsed[idx[i]] < parsed[idx[j]]
	})
	out := make([]string, len(elems))
	for i, k := range idx {
		out[i] = elems[k]
	}
	return out, nil
}

// Keys returns all names matching pattern (see compileGlob). Does
// not update last_access.
func (ks *Keyspace) Keys(pattern string) ([]string, error) {
	re, err := compileGlob(pattern)
	if err != nil {
		return nil, err
	}
	now := ks.now()
	var out []string
	for _, sh := range ks.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			if e.expired(now) {
				delete(sh.entries, k)
				continue
			}
			if re.MatchString(k) {
				out = append(out, k)
			}
		}
		sh.mu.Unlock()
	}
	return out, nil
}

// Length returns the number of live keys across all shards (DBSIZE).
func (ks *Keyspace) Length() int {
	now := ks.now()
	total := 0
	for _, sh := range ks.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			if e.expired(now) {
				delete(sh.entries, k)
				continue
			}
			total++
		}
		sh.mu.Unlock()
	}
	return total
}

// IsEmpty reports whether the keyspace holds no live keys.
func (ks *Keyspace) IsEmpty() bool { return ks.Length() == 0 }

// DeleteAll removes every key (FLUSHDB).
func (ks *Keyspace) DeleteAll() {
	for _, sh := range ks.shards {
		sh.mu.Lock()
		sh.entries = make(map[string]*entry)
		sh.mu.Unlock()
	}
}

// Snapshot returns a point-in-time copy of every live entry, used by the
// snapshotter to encode a self-consistent view without holding shard
// locks for the whole save (SPEC_FULL.md §9 snapshot quiescence note).
type SnapshotEntry struct {
	Key        string
	Value      Value
	LastAccess time.Time
	ExpiresAt  time.Time
}

func (ks *Keyspace) Snapshot() []SnapshotEntry {
	now := ks.now()
	var out []SnapshotEntry
	for _, sh := range ks.shards {
		sh.mu.RLock()
		for k, e := range sh.entries {
			if e.expired(now) {
				continue
			}
			v := e.value
			switch v.Kind {
			case KindString:
				v.Str = append([]byte(nil), v.Str...)
			case KindList:
				v.List = append([]string(nil), v.List...)
			case KindSet:
				members := make(map[string]struct{}, len(v.Set))
				for m := range v.Set {
					members[m] = struct{}{}
				}
				v.Set = members
			}
			out = append(out, SnapshotEntry{Key: k, Value: v, LastAccess: e.lastAccess, ExpiresAt: e.expiresAt})
		}
		sh.mu.RUnlock()
	}
	return out
}

// Restore loads entries directly into the keyspace, as used by the
// snapshotter on startup. It bypasses Set's "clear expiration"
// behavior so recorded TTLs survive a reload.
func (ks *Keyspace) Restore(entries []SnapshotEntry) {
	for _, se := range entries {
		sh := ks.shardFor(se.Key)
		sh.mu.Lock()
		sh.entries[se.Key] = &entry{value: se.Value, lastAccess: se.LastAccess, expiresAt: se.ExpiresAt}
		sh.mu.Unlock()
	}
}

// WithClock overrides the time source; used by tests that need to
// observe expiration deterministically.
func (ks *Keyspace) WithClock(now func() time.Time) { ks.now = now }
