// Package session implements the per-connection Client handle spec.md
// §4.6 describes: a socket owner that serializes writes from the
// handler's own dispatch thread against writes from asynchronous
// publishers and the monitor broadcaster, without either blocking on
// a slow peer.
package session

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/adred-codev/odin-kv/internal/protocol"
)

var nextID int64

// Client is one connected peer's session state: its socket, its
// buffered reader for the parse loop, its outbound queue, and the
// pub/sub-mode flag that restricts which commands it may issue.
type Client struct {
	id   int64
	conn net.Conn

	reader *bufio.Reader
	writer *bufio.Writer

	writeMu sync.Mutex
	queueMu sync.Mutex
	queue   [][]byte

	subscribed int32 // atomic bool: in pub/sub mode

	closed int32 // atomic bool

	limiter *rate.Limiter // nil when rate limiting is disabled

	lastCommand atomic.Value // time.Time
}

// New wraps conn in a Client with a freshly assigned, process-unique ID.
// limiter may be nil to disable per-session rate limiting
// (SPEC_FULL.md §4.6 enrichment; disabled by default).
func New(conn net.Conn, limiter *rate.Limiter) *Client {
	c := &Client{
		id:      atomic.AddInt64(&nextID, 1),
		conn:    conn,
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
		limiter: limiter,
	}
	c.lastCommand.Store(time.Now())
	return c
}

// ReadCommand drives the protocol parser against the session's buffered
// reader, per spec.md §4.6's parse-loop description.
func (c *Client) ReadCommand() (name string, args [][]byte, err error) {
	return protocol.ParseCommand(c.reader)
}

// Touch records that a command was just parsed, resetting the idle
// timeout clock (spec.md §4.8).
func (c *Client) Touch() {
	c.lastCommand.Store(time.Now())
}

// IdleSince returns how long it has been since the last command was
// parsed from this session.
func (c *Client) IdleSince() time.Duration {
	return time.Since(c.lastCommand.Load().(time.Time))
}

// SetDeadline arms the socket's read deadline for the idle timeout
// spec.md §4.8 describes; a zero Time disarms it.
func (c *Client) SetDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Allow reports whether this session may process another command right
// now, consulting the optional rate limiter. Always true when rate
// limiting is disabled.
func (c *Client) Allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

// SetSubscribed flips the pub/sub-mode flag spec.md §4.8 step 3 uses to
// restrict the command surface.
func (c *Client) SetSubscribed(v bool) {
	b := int32(0)
	if v {
		b = 1
	}
	atomic.StoreInt32(&c.subscribed, b)
}

// Subscribed reports whether this client is currently in pub/sub mode.
func (c *Client) Subscribed() bool {
	return atomic.LoadInt32(&c.subscribed) == 1
}

// Closed reports whether the session has been torn down. Satisfies
// both pubsub.Subscriber and monitor.Observer.
func (c *Client) Closed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// Close marks the session closed and releases the underlying socket.
// Idempotent.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.conn.Close()
}

// ID implements pubsub.Subscriber and monitor.Observer.
func (c *Client) ID() int64 { return c.id }

// Deliver implements pubsub.Subscriber: it encodes a published message
// as a three-element RESP array ("message", channel, message) and queues or writes
// it via the same discipline as a command response. Returns false if
// the session is already closed, the signal pubsub.Publish's delivery
// count relies on.
func (c *Client) Deliver(channel string, message []byte) bool {
	if c.Closed() {
		return false
	}
	frame := protocol.Encode(protocol.NewArray([]protocol.Value{
		protocol.NewBulkString("message"),
		protocol.NewBulkString(channel),
		protocol.NewBulk(message),
	}))
	c.write(frame)
	return true
}

// DeliverMonitor implements monitor.Observer by reusing the same
// write-or-queue discipline as pub/sub delivery.
func (c *Client) DeliverMonitor(frame string) bool {
	if c.Closed() {
		return false
	}
	c.write(protocol.Encode(protocol.NewSimpleString(frame)))
	return true
}

// WriteResponse encodes v and writes (or queues) it — the path the
// dispatch worker uses for a command's own response.
func (c *Client) WriteResponse(v protocol.Value) error {
	c.write(protocol.Encode(v))
	return nil
}

// write implements the discipline from spec.md §4.6: a writer that can
// acquire the socket lock first drains anything queued by writers that
// couldn't, then writes its own frame directly; a writer that can't
// acquire it appends to the queue and returns, never blocking on the
// socket.
func (c *Client) write(frame []byte) {
	if c.Closed() {
		return
	}
	if !c.writeMu.TryLock() {
		c.enqueue(frame)
		return
	}
	defer c.writeMu.Unlock()

	c.drainQueue()
	if err := c.writeDirect(frame); err != nil {
		_ = c.Close()
	}
}

// enqueue appends to the outbound queue under queueMu, never writeMu —
// a writer that lost the TryLock race must be able to queue and return
// immediately even while another goroutine is blocked inside writeDirect
// on a slow peer's socket.
func (c *Client) enqueue(frame []byte) {
	c.queueMu.Lock()
	c.queue = append(c.queue, frame)
	c.queueMu.Unlock()
}

// drainQueue flushes every frame queued by writers that lost the race
// for the socket lock. Caller must hold writeMu; queueMu is taken only
// to swap out the pending slice, since enqueue can still be appending
// to it concurrently.
func (c *Client) drainQueue() {
	for {
		c.queueMu.Lock()
		if len(c.queue) == 0 {
			c.queueMu.Unlock()
			return
		}
		pending := c.queue
		c.queue = nil
		c.queueMu.Unlock()

		for _, f := range pending {
			if err := c.writeDirect(f); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

func (c *Client) writeDirect(frame []byte) error {
	if _, err := c.writer.Write(frame); err != nil {
		return err
	}
	return c.writer.Flush()
}
