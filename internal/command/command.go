// Package command implements the command table spec.md §4.9 describes:
// a map from lowercased command name to a handler that validates its
// arguments and maps semantically onto the keyspace/registry APIs.
// Handlers are thin adapters, per spec.md §1 — they hold no state of
// their own beyond the Context they are given.
package command

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/odin-kv/internal/config"
	"github.com/adred-codev/odin-kv/internal/monitor"
	"github.com/adred-codev/odin-kv/internal/protocol"
	"github.com/adred-codev/odin-kv/internal/pubsub"
	"github.com/adred-codev/odin-kv/internal/snapshot"
	"github.com/adred-codev/odin-kv/internal/stats"
	"github.com/adred-codev/odin-kv/internal/store"
)

// Client is the subset of *session.Client a handler needs: identity
// and delivery for pub/sub.Subscriber and monitor.Observer, plus the
// pub/sub-mode flag SUBSCRIBE/UNSUBSCRIBE maintain. Declared as an
// interface here (rather than importing internal/session directly) so
// tests can substitute a fake without a real socket.
type Client interface {
	ID() int64
	Closed() bool
	Deliver(channel string, message []byte) bool
	DeliverMonitor(frame string) bool
	SetSubscribed(bool)
	Subscribed() bool
}

// Context bundles everything a handler needs to act: the keyspace and
// registries it mutates, the config store CONFIG GET/SET reads and
// writes, and the client handle issuing the command.
type Context struct {
	Keyspace *store.Keyspace
	PubSub   *pubsub.Registry
	Monitor  *monitor.Registry
	Config   *config.Store
	Stats    *stats.Stats
	Snapshot *snapshot.Manager
	Logger   zerolog.Logger
	Client   Client
}

// Result is what a handler hands back to the dispatcher: the response
// to serialize, and whether the connection should be closed afterward
// (QUIT's signal).
type Result struct {
	Value protocol.Value
	Close bool
}

func ok(v protocol.Value) Result          { return Result{Value: v} }
func closeWith(v protocol.Value) Result   { return Result{Value: v, Close: true} }
func errf(format string, a ...any) Result { return Result{Value: protocol.Errorf(format, a...)} }

// Handler processes one command's arguments (excluding the command
// name itself) against ctx.
type Handler func(ctx *Context, args [][]byte) Result

// Table is the case-insensitive command name -> Handler map.
type Table struct {
	handlers map[string]Handler
}

// NewTable builds the full command table spec.md §6 enumerates.
func NewTable() *Table {
	t := &Table{handlers: make(map[string]Handler)}
	registerServerCommands(t)
	registerKeyCommands(t)
	registerStringCommands(t)
	registerListCommands(t)
	registerSetCommands(t)
	registerPubSubCommands(t)
	return t
}

func (t *Table) register(name string, h Handler) {
	t.handlers[strings.ToLower(name)] = h
}

// Lookup finds the handler for a case-folded command name.
func (t *Table) Lookup(name string) (Handler, bool) {
	h, ok := t.handlers[strings.ToLower(name)]
	return h, ok
}

// AllowedInPubSubMode is the exact set spec.md §4.8 step 3 allows a
// subscribed client to keep issuing.
func AllowedInPubSubMode(name string) bool {
	switch strings.ToUpper(name) {
	case "SUBSCRIBE", "PSUBSCRIBE", "UNSUBSCRIBE", "PUNSUBSCRIBE", "PING", "QUIT":
		return true
	default:
		return false
	}
}

func argError(command string) Result {
	return errf("ERR wrong number of arguments for '%s' command", strings.ToLower(command))
}

func wrongType() Result {
	return errf("WRONGTYPE Operation against a key holding the wrong kind of value")
}

func notInteger() Result {
	return errf("ERR value is not an integer or out of range")
}

func notFloat() Result {
	return errf("ERR value is not a valid float")
}

// mapStoreErr converts a store package sentinel error into the RESP
// error response spec.md §7 calls for. err must be non-nil; callers use
// this only on the error path.
func mapStoreErr(err error) Result {
	switch err {
	case store.ErrWrongType:
		return wrongType()
	case store.ErrNotFound:
		return errf("ERR no such key")
	case store.ErrNotInteger:
		return notInteger()
	case store.ErrNotANumber:
		return notFloat()
	case store.ErrOutOfRange:
		return errf("ERR index out of range")
	default:
		return errf("ERR %s", err.Error())
	}
}

func bytesSlice(args [][]byte) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = string(a)
	}
	return out
}

// expirationFromSeconds converts a relative-second TTL into an absolute
// deadline. A non-positive value maps to "delete" semantics, handled by
// the caller (spec.md §6 EXPIRE: "negative = delete").
func expirationFromSeconds(secs int64, now time.Time) time.Time {
	return now.Add(time.Duration(secs) * time.Second)
}
