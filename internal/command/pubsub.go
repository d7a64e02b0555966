package command

import (
	"strings"

	"github.com/adred-codev/odin-kv/internal/protocol"
	"github.com/adred-codev/odin-kv/internal/store"
)

func registerPubSubCommands(t *Table) {
	t.register("SUBSCRIBE", cmdSubscribe)
	t.register("UNSUBSCRIBE", cmdUnsubscribe)
	t.register("PSUBSCRIBE", cmdPSubscribe)
	t.register("PUNSUBSCRIBE", cmdPUnsubscribe)
	t.register("PUBLISH", cmdPublish)
	t.register("PUBSUB", cmdPubSub)
}

// subscribeAck is the per-channel confirmation frame spec.md §4.4
// implies: channel name, the literal count the client's total
// subscription count reaches.
func subscribeAck(kind, channel string, count int) protocol.Value {
	return protocol.NewArray([]protocol.Value{
		protocol.NewBulkString(kind),
		protocol.NewBulkString(channel),
		protocol.NewInteger(int64(count)),
	})
}

func cmdSubscribe(ctx *Context, args [][]byte) Result {
	if len(args) == 0 {
		return argError("SUBSCRIBE")
	}
	ctx.Client.SetSubscribed(true)
	acks := make([]protocol.Value, len(args))
	for i, a := range args {
		count := ctx.PubSub.Subscribe(ctx.Client, string(a))
		acks[i] = subscribeAck("subscribe", string(a), count)
	}
	return ok(protocol.NewArray(acks))
}

func cmdUnsubscribe(ctx *Context, args [][]byte) Result {
	var channels []string
	if len(args) == 0 {
		channels = ctx.PubSub.UnsubscribeAll(ctx.Client)
	} else {
		channels = bytesSlice(args)
	}
	acks := make([]protocol.Value, 0, len(channels))
	count := 0
	for _, ch := range channels {
		count = ctx.PubSub.Unsubscribe(ctx.Client, ch)
		acks = append(acks, subscribeAck("unsubscribe", ch, count))
	}
	if count == 0 {
		ctx.Client.SetSubscribed(false)
	}
	return ok(protocol.NewArray(acks))
}

// cmdPSubscribe is the minimal, accepted-but-unenriched implementation
// spec.md §9(b) calls for: pattern subscriptions are tracked as
// ordinary literal-channel subscriptions on the pattern text itself,
// since the source leaves matching semantics undefined.
func cmdPSubscribe(ctx *Context, args [][]byte) Result {
	return cmdSubscribe(ctx, args)
}

func cmdPUnsubscribe(ctx *Context, args [][]byte) Result {
	return cmdUnsubscribe(ctx, args)
}

func cmdPublish(ctx *Context, args [][]byte) Result {
	if len(args) != 2 {
		return argError("PUBLISH")
	}
	n := ctx.PubSub.Publish(string(args[0]), args[1])
	return ok(protocol.NewInteger(int64(n)))
}

func cmdPubSub(ctx *Context, args [][]byte) Result {
	if len(args) == 0 {
		return argError("PUBSUB")
	}
	sub := strings.ToUpper(string(args[0]))
	switch sub {
	case "CHANNELS":
		var match func(string) bool
		if len(args) >= 2 {
			re, err := store.CompileGlob(string(args[1]))
			if err != nil {
				return errf("ERR %s", err.Error())
			}
			match = func(ch string) bool { return re.MatchString(ch) }
		}
		channels := ctx.PubSub.ChannelsMatching(match)
		items := make([]protocol.Value, len(channels))
		for i, ch := range channels {
			items[i] = protocol.NewBulkString(ch)
		}
		return ok(protocol.NewArray(items))
	case "NUMSUB":
		channels := bytesSlice(args[1:])
		items := make([]protocol.Value, 0, len(channels)*2)
		for _, ch := range channels {
			items = append(items, protocol.NewBulkString(ch), protocol.NewInteger(int64(ctx.PubSub.SubscriberCount(ch))))
		}
		return ok(protocol.NewArray(items))
	default:
		return errf("ERR unknown PUBSUB subcommand '%s'", sub)
	}
}
