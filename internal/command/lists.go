package command

import (
	"strconv"

	"github.com/adred-codev/odin-kv/internal/protocol"
)

func registerListCommands(t *Table) {
	t.register("LPUSH", cmdLPush)
	t.register("RPUSH", cmdRPush)
	t.register("LPUSHX", cmdLPushX)
	t.register("RPUSHX", cmdRPushX)
	t.register("LPOP", cmdLPop)
	t.register("RPOP", cmdRPop)
	t.register("LINDEX", cmdLIndex)
	t.register("LLEN", cmdLLen)
	t.register("LRANGE", cmdLRange)
	t.register("LSET", cmdLSet)
	t.register("LREM", cmdLRem)
}

func cmdLPush(ctx *Context, args [][]byte) Result  { return push(ctx, args, "LPUSH", true, true) }
func cmdRPush(ctx *Context, args [][]byte) Result  { return push(ctx, args, "RPUSH", false, true) }
func cmdLPushX(ctx *Context, args [][]byte) Result { return push(ctx, args, "LPUSHX", true, false) }
func cmdRPushX(ctx *Context, args [][]byte) Result { return push(ctx, args, "RPUSHX", false, false) }

func push(ctx *Context, args [][]byte, name string, left, createIfAbsent bool) Result {
	if len(args) < 2 {
		return argError(name)
	}
	var n int
	var err error
	if createIfAbsent {
		n, err = ctx.Keyspace.Push(string(args[0]), left, bytesSlice(args[1:])...)
	} else {
		n, err = ctx.Keyspace.PushX(string(args[0]), left, bytesSlice(args[1:])...)
	}
	if err != nil {
		return mapStoreErr(err)
	}
	return ok(protocol.NewInteger(int64(n)))
}

func pop(ctx *Context, args [][]byte, name string, left bool) Result {
	if len(args) < 1 || len(args) > 2 {
		return argError(name)
	}
	n := 1
	if len(args) == 2 {
		parsed, err := strconv.Atoi(string(args[1]))
		if err != nil || parsed < 0 {
			return notInteger()
		}
		n = parsed
	}
	popped, err := ctx.Keyspace.Pop(string(args[0]), left, n)
	if err != nil {
		return mapStoreErr(err)
	}
	if len(args) == 1 {
		if len(popped) == 0 {
			return ok(protocol.NewNilBulk())
		}
		return ok(protocol.NewBulkString(popped[0]))
	}
	items := make([]protocol.Value, len(popped))
	for i, p := range popped {
		items[i] = protocol.NewBulkString(p)
	}
	return ok(protocol.NewArray(items))
}

func cmdLPop(ctx *Context, args [][]byte) Result { return pop(ctx, args, "LPOP", true) }
func cmdRPop(ctx *Context, args [][]byte) Result { return pop(ctx, args, "RPOP", false) }

func cmdLIndex(ctx *Context, args [][]byte) Result {
	if len(args) != 2 {
		return argError("LINDEX")
	}
	i, err := strconv.Atoi(string(args[1]))
	if err != nil {
		return notInteger()
	}
	v, found, err := ctx.Keyspace.Index(string(args[0]), i)
	if err != nil {
		return mapStoreErr(err)
	}
	if !found {
		return ok(protocol.NewNilBulk())
	}
	return ok(protocol.NewBulkString(v))
}

func cmdLLen(ctx *Context, args [][]byte) Result {
	if len(args) != 1 {
		return argError("LLEN")
	}
	n, err := ctx.Keyspace.Len(string(args[0]))
	if err != nil {
		return mapStoreErr(err)
	}
	return ok(protocol.NewInteger(int64(n)))
}

func cmdLRange(ctx *Context, args [][]byte) Result {
	if len(args) != 3 {
		return argError("LRANGE")
	}
	a, err := strconv.Atoi(string(args[1]))
	if err != nil {
		return notInteger()
	}
	b, err := strconv.Atoi(string(args[2]))
	if err != nil {
		return notInteger()
	}
	items, err := ctx.Keyspace.Range(string(args[0]), a, b)
	if err != nil {
		return mapStoreErr(err)
	}
	out := make([]protocol.Value, len(items))
	for i, v := range items {
		out[i] = protocol.NewBulkString(v)
	}
	return ok(protocol.NewArray(out))
}

func cmdLSet(ctx *Context, args [][]byte) Result {
	if len(args) != 3 {
		return argError("LSET")
	}
	i, err := strconv.Atoi(string(args[1]))
	if err != nil {
		return notInteger()
	}
	if err := ctx.Keyspace.LSet(string(args[0]), i, string(args[2])); err != nil {
		return mapStoreErr(err)
	}
	return ok(protocol.OK())
}

func cmdLRem(ctx *Context, args [][]byte) Result {
	if len(args) != 3 {
		return argError("LREM")
	}
	count, err := strconv.Atoi(string(args[1]))
	if err != nil {
		return notInteger()
	}
	n, err := ctx.Keyspace.LRem(string(args[0]), count, string(args[2]))
	if err != nil {
		return mapStoreErr(err)
	}
	return ok(protocol.NewInteger(int64(n)))
}
