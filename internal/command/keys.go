package command

import (
	"strconv"
	"strings"
	"time"

	"github.com/adred-codev/odin-kv/internal/protocol"
	"github.com/adred-codev/odin-kv/internal/store"
)

func registerKeyCommands(t *Table) {
	t.register("DEL", cmdDel)
	t.register("EXISTS", cmdExists)
	t.register("TYPE", cmdType)
	t.register("KEYS", cmdKeys)
	t.register("RENAME", cmdRename)
	t.register("COPY", cmdCopy)
	t.register("SORT", cmdSort)
	t.register("TOUCH", cmdTouch)
	t.register("EXPIRE", cmdExpire)
	t.register("EXPIREAT", cmdExpireAt)
	t.register("TTL", cmdTTL)
	t.register("PERSIST", cmdPersist)
}

func cmdDel(ctx *Context, args [][]byte) Result {
	if len(args) == 0 {
		return argError("DEL")
	}
	n := 0
	for _, a := range args {
		if ctx.Keyspace.Delete(string(a)) {
			n++
		}
	}
	return ok(protocol.NewInteger(int64(n)))
}

func cmdExists(ctx *Context, args [][]byte) Result {
	if len(args) == 0 {
		return argError("EXISTS")
	}
	n := 0
	for _, a := range args {
		if ctx.Keyspace.Exists(string(a)) {
			n++
		}
	}
	return ok(protocol.NewInteger(int64(n)))
}

func cmdType(ctx *Context, args [][]byte) Result {
	if len(args) != 1 {
		return argError("TYPE")
	}
	return ok(protocol.NewSimpleString(ctx.Keyspace.Type(string(args[0]))))
}

func cmdKeys(ctx *Context, args [][]byte) Result {
	if len(args) != 1 {
		return argError("KEYS")
	}
	names, err := ctx.Keyspace.Keys(string(args[0]))
	if err != nil {
		return errf("ERR %s", err.Error())
	}
	items := make([]protocol.Value, len(names))
	for i, n := range names {
		items[i] = protocol.NewBulkString(n)
	}
	return ok(protocol.NewArray(items))
}

func cmdRename(ctx *Context, args [][]byte) Result {
	if len(args) != 2 {
		return argError("RENAME")
	}
	if err := ctx.Keyspace.Rename(string(args[0]), string(args[1])); err != nil {
		return mapStoreErr(err)
	}
	return ok(protocol.OK())
}

// cmdCopy duplicates src's value and metadata to dst without removing
// src, distinct from RENAME. Overwrites dst.
func cmdCopy(ctx *Context, args [][]byte) Result {
	if len(args) != 2 {
		return argError("COPY")
	}
	v, found := ctx.Keyspace.Get(string(args[0]))
	if !found {
		return ok(protocol.NewInteger(0))
	}
	ctx.Keyspace.Set(string(args[1]), copyValue(v))
	if ttl := ctx.Keyspace.TTL(string(args[0])); ttl >= 0 {
		_ = ctx.Keyspace.SetExpiration(string(args[1]), expirationFromSeconds(ttl, time.Now()))
	}
	return ok(protocol.NewInteger(1))
}

func copyValue(v store.Value) store.Value {
	switch v.Kind {
	case store.KindString:
		b := make([]byte, len(v.Str))
		copy(b, v.Str)
		return store.StringValue(b)
	case store.KindList:
		l := make([]string, len(v.List))
		copy(l, v.List)
		return store.ListValue(l)
	case store.KindSet:
		s := make(map[string]struct{}, len(v.Set))
		for m := range v.Set {
			s[m] = struct{}{}
		}
		return store.SetValue(s)
	default:
		return store.Value{}
	}
}

func cmdSort(ctx *Context, args [][]byte) Result {
	if len(args) < 1 {
		return argError("SORT")
	}
	key := string(args[0])
	desc := false
	var storeDst string
	for i := 1; i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "DESC":
			desc = true
		case "STORE":
			if i+1 >= len(args) {
				return argError("SORT")
			}
			i++
			storeDst = string(args[i])
		default:
			return errf("ERR syntax error")
		}
	}
	sorted, err := ctx.Keyspace.Sort(key, desc)
	if err != nil {
		return mapStoreErr(err)
	}
	if storeDst != "" {
		ctx.Keyspace.Set(storeDst, store.ListValue(sorted))
		return ok(protocol.NewInteger(int64(len(sorted))))
	}
	items := make([]protocol.Value, len(sorted))
	for i, s := range sorted {
		items[i] = protocol.NewBulkString(s)
	}
	return ok(protocol.NewArray(items))
}

func cmdTouch(ctx *Context, args [][]byte) Result {
	if len(args) == 0 {
		return argError("TOUCH")
	}
	n := 0
	for _, a := range args {
		if ctx.Keyspace.Touch(string(a)) {
			n++
		}
	}
	return ok(protocol.NewInteger(int64(n)))
}

// cmdExpire treats a negative TTL as an immediate delete (spec.md §6).
func cmdExpire(ctx *Context, args [][]byte) Result {
	if len(args) != 2 {
		return argError("EXPIRE")
	}
	secs, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return notInteger()
	}
	if secs < 0 {
		if ctx.Keyspace.Delete(string(args[0])) {
			return ok(protocol.NewInteger(1))
		}
		return ok(protocol.NewInteger(0))
	}
	if err := ctx.Keyspace.SetExpiration(string(args[0]), expirationFromSeconds(secs, time.Now())); err != nil {
		return ok(protocol.NewInteger(0))
	}
	return ok(protocol.NewInteger(1))
}

func cmdExpireAt(ctx *Context, args [][]byte) Result {
	if len(args) != 2 {
		return argError("EXPIREAT")
	}
	unixSecs, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return notInteger()
	}
	at := time.Unix(unixSecs, 0)
	if !at.After(time.Now()) {
		if ctx.Keyspace.Delete(string(args[0])) {
			return ok(protocol.NewInteger(1))
		}
		return ok(protocol.NewInteger(0))
	}
	if err := ctx.Keyspace.SetExpiration(string(args[0]), at); err != nil {
		return ok(protocol.NewInteger(0))
	}
	return ok(protocol.NewInteger(1))
}

func cmdTTL(ctx *Context, args [][]byte) Result {
	if len(args) != 1 {
		return argError("TTL")
	}
	return ok(protocol.NewInteger(ctx.Keyspace.TTL(string(args[0]))))
}

func cmdPersist(ctx *Context, args [][]byte) Result {
	if len(args) != 1 {
		return argError("PERSIST")
	}
	if ctx.Keyspace.Persist(string(args[0])) {
		return ok(protocol.NewInteger(1))
	}
	return ok(protocol.NewInteger(0))
}
