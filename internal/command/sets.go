package command

import "github.com/adred-codev/odin-kv/internal/protocol"

func registerSetCommands(t *Table) {
	t.register("SADD", cmdSAdd)
	t.register("SREM", cmdSRem)
	t.register("SISMEMBER", cmdSIsMember)
	t.register("SCARD", cmdSCard)
	t.register("SMEMBERS", cmdSMembers)
}

func cmdSAdd(ctx *Context, args [][]byte) Result {
	if len(args) < 2 {
		return argError("SADD")
	}
	n, err := ctx.Keyspace.SAdd(string(args[0]), bytesSlice(args[1:])...)
	if err != nil {
		return mapStoreErr(err)
	}
	return ok(protocol.NewInteger(int64(n)))
}

func cmdSRem(ctx *Context, args [][]byte) Result {
	if len(args) < 2 {
		return argError("SREM")
	}
	n, err := ctx.Keyspace.SRem(string(args[0]), bytesSlice(args[1:])...)
	if err != nil {
		return mapStoreErr(err)
	}
	return ok(protocol.NewInteger(int64(n)))
}

func cmdSIsMember(ctx *Context, args [][]byte) Result {
	if len(args) != 2 {
		return argError("SISMEMBER")
	}
	found, err := ctx.Keyspace.SIsMember(string(args[0]), string(args[1]))
	if err != nil {
		return mapStoreErr(err)
	}
	if found {
		return ok(protocol.NewInteger(1))
	}
	return ok(protocol.NewInteger(0))
}

func cmdSCard(ctx *Context, args [][]byte) Result {
	if len(args) != 1 {
		return argError("SCARD")
	}
	n, err := ctx.Keyspace.SCard(string(args[0]))
	if err != nil {
		return mapStoreErr(err)
	}
	return ok(protocol.NewInteger(int64(n)))
}

func cmdSMembers(ctx *Context, args [][]byte) Result {
	if len(args) != 1 {
		return argError("SMEMBERS")
	}
	members, err := ctx.Keyspace.SMembers(string(args[0]))
	if err != nil {
		return mapStoreErr(err)
	}
	items := make([]protocol.Value, len(members))
	for i, m := range members {
		items[i] = protocol.NewBulkString(m)
	}
	return ok(protocol.NewArray(items))
}
