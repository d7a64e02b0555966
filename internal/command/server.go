package command

import (
	"fmt"
	"strings"

	"github.com/adred-codev/odin-kv/internal/protocol"
)

func registerServerCommands(t *Table) {
	t.register("PING", cmdPing)
	t.register("INFO", cmdInfo)
	t.register("CONFIG", cmdConfig)
	t.register("DBSIZE", cmdDBSize)
	t.register("FLUSHDB", cmdFlushDB)
	t.register("MONITOR", cmdMonitor)
	t.register("QUIT", cmdQuit)
	t.register("SAVE", cmdSave)
}

func cmdPing(ctx *Context, args [][]byte) Result {
	if len(args) == 0 {
		return ok(protocol.NewSimpleString("PONG"))
	}
	if len(args) == 1 {
		return ok(protocol.NewBulk(args[0]))
	}
	return argError("PING")
}

func cmdInfo(ctx *Context, args [][]byte) Result {
	cfg := ctx.Config.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "# Server\r\nport:%d\r\nip:%s\r\n", cfg.Port, cfg.IP)
	fmt.Fprintf(&b, "# Clients\r\nconnected_clients:%d\r\n", ctx.Stats.ConnectionsActive())
	fmt.Fprintf(&b, "# Stats\r\ntotal_connections_received:%d\r\ntotal_commands_processed:%d\r\n",
		ctx.Stats.ConnectionsTotal(), ctx.Stats.CommandsProcessed())
	fmt.Fprintf(&b, "# Keyspace\r\ndb0:keys=%d\r\n", ctx.Keyspace.Length())
	return ok(protocol.NewBulkString(b.String()))
}

func cmdConfig(ctx *Context, args [][]byte) Result {
	if len(args) < 2 {
		return argError("CONFIG")
	}
	sub := strings.ToUpper(string(args[0]))
	switch sub {
	case "GET":
		field := string(args[1])
		if field == "*" {
			all := ctx.Config.All()
			items := make([]protocol.Value, 0, len(all)*2)
			for k, v := range all {
				items = append(items, protocol.NewBulkString(k), protocol.NewBulkString(v))
			}
			return ok(protocol.NewArray(items))
		}
		v, found := ctx.Config.Get(field)
		if !found {
			return ok(protocol.NewArray(nil))
		}
		return ok(protocol.NewArray([]protocol.Value{
			protocol.NewBulkString(field), protocol.NewBulkString(v),
		}))
	case "SET":
		if len(args) != 3 {
			return argError("CONFIG")
		}
		if err := ctx.Config.Set(string(args[1]), string(args[2])); err != nil {
			return errf("ERR %s", err.Error())
		}
		return ok(protocol.OK())
	default:
		return errf("ERR unknown CONFIG subcommand '%s'", sub)
	}
}

func cmdDBSize(ctx *Context, args [][]byte) Result {
	if len(args) != 0 {
		return argError("DBSIZE")
	}
	return ok(protocol.NewInteger(int64(ctx.Keyspace.Length())))
}

func cmdFlushDB(ctx *Context, args [][]byte) Result {
	if len(args) != 0 {
		return argError("FLUSHDB")
	}
	ctx.Keyspace.DeleteAll()
	return ok(protocol.OK())
}

func cmdMonitor(ctx *Context, args [][]byte) Result {
	if len(args) != 0 {
		return argError("MONITOR")
	}
	ctx.Monitor.Add(ctx.Client)
	return ok(protocol.OK())
}

func cmdQuit(ctx *Context, args [][]byte) Result {
	return closeWith(protocol.OK())
}

// cmdSave is the enrichment spec.md §4.3 leaves room for: "a save is
// also allowed on explicit request," in addition to the periodic one
// the snapshot.Manager runs on its own timer.
func cmdSave(ctx *Context, args [][]byte) Result {
	if len(args) != 0 {
		return argError("SAVE")
	}
	if ctx.Snapshot == nil {
		return errf("ERR snapshotting is not configured")
	}
	if err := ctx.Snapshot.SaveNow(); err != nil {
		return errf("ERR %s", err.Error())
	}
	return ok(protocol.OK())
}
