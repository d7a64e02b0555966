package command

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/adred-codev/odin-kv/internal/protocol"
	"github.com/adred-codev/odin-kv/internal/store"
)

var (
	errSetSyntax = errors.New("syntax error")
	errSetNotInt = errors.New("value is not an integer or out of range")
)

func registerStringCommands(t *Table) {
	t.register("SET", cmdSet)
	t.register("GET", cmdGet)
	t.register("GETSET", cmdGetSet)
	t.register("GETDEL", cmdGetDel)
	t.register("MSET", cmdMSet)
	t.register("MGET", cmdMGet)
	t.register("APPEND", cmdAppend)
	t.register("STRLEN", cmdStrlen)
	t.register("INCRBY", cmdIncrBy)
	t.register("DECRBY", cmdDecrBy)
}

// setOptions captures the option flags spec.md §6 lists for SET:
// one of EX/PX/EXAT/PXAT for expiration, one of NX/XX for existence
// conditions, KEEPTTL to preserve an existing TTL, and GET to return
// the previous value instead of a plain OK.
type setOptions struct {
	hasExpire bool
	expireAt  time.Time
	nx, xx    bool
	keepTTL   bool
	get       bool
}

func parseSetOptions(args [][]byte) (setOptions, error) {
	var o setOptions
	now := time.Now()
	for i := 0; i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "EX", "PX", "EXAT", "PXAT":
			if i+1 >= len(args) {
				return o, errSetSyntax
			}
			kind := strings.ToUpper(string(args[i]))
			n, err := strconv.ParseInt(string(args[i+1]), 10, 64)
			if err != nil {
				return o, errSetNotInt
			}
			i++
			o.hasExpire = true
			switch kind {
			case "EX":
				o.expireAt = now.Add(time.Duration(n) * time.Second)
			case "PX":
				o.expireAt = now.Add(time.Duration(n) * time.Millisecond)
			case "EXAT":
				o.expireAt = time.Unix(n, 0)
			case "PXAT":
				o.expireAt = time.UnixMilli(n)
			}
		case "NX":
			o.nx = true
		case "XX":
			o.xx = true
		case "KEEPTTL":
			o.keepTTL = true
		case "GET":
			o.get = true
		default:
			return o, errSetSyntax
		}
	}
	return o, nil
}

func cmdSet(ctx *Context, args [][]byte) Result {
	if len(args) < 2 {
		return argError("SET")
	}
	key, value := string(args[0]), args[1]
	opts, err := parseSetOptions(args[2:])
	if err != nil {
		if errors.Is(err, errSetNotInt) {
			return notInteger()
		}
		return errf("ERR syntax error")
	}
	if opts.nx && opts.xx {
		return errf("ERR syntax error")
	}

	exists := ctx.Keyspace.Exists(key)
	if (opts.nx && exists) || (opts.xx && !exists) {
		return skippedSet(ctx, key, opts)
	}

	var previous store.Value
	var hadPrevious bool
	if opts.get {
		previous, hadPrevious = ctx.Keyspace.Get(key)
	}

	switch {
	case opts.keepTTL:
		ctx.Keyspace.SetKeepTTL(key, store.StringValue(value))
	default:
		ctx.Keyspace.Set(key, store.StringValue(value))
		if opts.hasExpire {
			_ = ctx.Keyspace.SetExpiration(key, opts.expireAt)
		}
	}
	if opts.hasExpire && opts.keepTTL {
		_ = ctx.Keyspace.SetExpiration(key, opts.expireAt)
	}

	if opts.get {
		if !hadPrevious {
			return ok(protocol.NewNilBulk())
		}
		if previous.Kind != store.KindString {
			return wrongType()
		}
		return ok(protocol.NewBulk(previous.Str))
	}
	return ok(protocol.OK())
}

// skippedSet handles the NX/XX short-circuit: the write was skipped,
// but a GET-flagged SET still reports the (unchanged) previous value.
func skippedSet(ctx *Context, key string, opts setOptions) Result {
	if !opts.get {
		return ok(protocol.NewNilBulk())
	}
	v, found := ctx.Keyspace.Get(key)
	if !found {
		return ok(protocol.NewNilBulk())
	}
	if v.Kind != store.KindString {
		return wrongType()
	}
	return ok(protocol.NewBulk(v.Str))
}

func cmdGet(ctx *Context, args [][]byte) Result {
	if len(args) != 1 {
		return argError("GET")
	}
	v, found := ctx.Keyspace.Get(string(args[0]))
	if !found {
		return ok(protocol.NewNilBulk())
	}
	if v.Kind != store.KindString {
		return wrongType()
	}
	return ok(protocol.NewBulk(v.Str))
}

func cmdGetSet(ctx *Context, args [][]byte) Result {
	if len(args) != 2 {
		return argError("GETSET")
	}
	key := string(args[0])
	prev, found := ctx.Keyspace.Get(key)
	ctx.Keyspace.Set(key, store.StringValue(args[1]))
	if !found {
		return ok(protocol.NewNilBulk())
	}
	if prev.Kind != store.KindString {
		return wrongType()
	}
	return ok(protocol.NewBulk(prev.Str))
}

func cmdGetDel(ctx *Context, args [][]byte) Result {
	if len(args) != 1 {
		return argError("GETDEL")
	}
	key := string(args[0])
	v, found := ctx.Keyspace.Get(key)
	if !found {
		return ok(protocol.NewNilBulk())
	}
	if v.Kind != store.KindString {
		return wrongType()
	}
	ctx.Keyspace.Delete(key)
	return ok(protocol.NewBulk(v.Str))
}

func cmdMSet(ctx *Context, args [][]byte) Result {
	if len(args) == 0 || len(args)%2 != 0 {
		return argError("MSET")
	}
	pairs := make(map[string]store.Value, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		pairs[string(args[i])] = store.StringValue(args[i+1])
	}
	ctx.Keyspace.SetMultiple(pairs)
	return ok(protocol.OK())
}

func cmdMGet(ctx *Context, args [][]byte) Result {
	if len(args) == 0 {
		return argError("MGET")
	}
	items := make([]protocol.Value, len(args))
	for i, a := range args {
		v, found := ctx.Keyspace.Get(string(a))
		if !found || v.Kind != store.KindString {
			items[i] = protocol.NewNilBulk()
			continue
		}
		items[i] = protocol.NewBulk(v.Str)
	}
	return ok(protocol.NewArray(items))
}

func cmdAppend(ctx *Context, args [][]byte) Result {
	if len(args) != 2 {
		return argError("APPEND")
	}
	n, err := ctx.Keyspace.Append(string(args[0]), args[1])
	if err != nil {
		return mapStoreErr(err)
	}
	return ok(protocol.NewInteger(int64(n)))
}

func cmdStrlen(ctx *Context, args [][]byte) Result {
	if len(args) != 1 {
		return argError("STRLEN")
	}
	n, err := ctx.Keyspace.Strlen(string(args[0]))
	if err != nil {
		return mapStoreErr(err)
	}
	return ok(protocol.NewInteger(int64(n)))
}

func cmdIncrBy(ctx *Context, args [][]byte) Result {
	if len(args) != 2 {
		return argError("INCRBY")
	}
	delta, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return notInteger()
	}
	n, err := ctx.Keyspace.Increment(string(args[0]), delta)
	if err != nil {
		return mapStoreErr(err)
	}
	return ok(protocol.NewInteger(n))
}

func cmdDecrBy(ctx *Context, args [][]byte) Result {
	if len(args) != 2 {
		return argError("DECRBY")
	}
	delta, err := strconv.ParseInt(string(args[1]), 10, 64)
	if err != nil {
		return notInteger()
	}
	n, err := ctx.Keyspace.Decrement(string(args[0]), delta)
	if err != nil {
		return mapStoreErr(err)
	}
	return ok(protocol.NewInteger(n))
}
