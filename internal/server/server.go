// Package server implements the listener and dispatcher spec.md §4.8
// describes: bind a TCP socket, hand each accepted connection to the
// worker pool as a task, and run the seven-step command loop against
// it for the connection's whole lifetime.
package server

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/adred-codev/odin-kv/internal/command"
	"github.com/adred-codev/odin-kv/internal/config"
	"github.com/adred-codev/odin-kv/internal/metrics"
	"github.com/adred-codev/odin-kv/internal/monitor"
	"github.com/adred-codev/odin-kv/internal/protocol"
	"github.com/adred-codev/odin-kv/internal/pubsub"
	"github.com/adred-codev/odin-kv/internal/session"
	"github.com/adred-codev/odin-kv/internal/snapshot"
	"github.com/adred-codev/odin-kv/internal/stats"
	"github.com/adred-codev/odin-kv/internal/store"
	"github.com/adred-codev/odin-kv/internal/workerpool"
)

// Server owns the listening socket and the shared collaborators every
// connection's command loop dispatches against.
type Server struct {
	cfgStore *config.Store
	logger   zerolog.Logger
	keyspace *store.Keyspace
	pubsub   *pubsub.Registry
	monitor  *monitor.Registry
	table    *command.Table
	pool     *workerpool.Pool
	stats    *stats.Stats
	snapshot *snapshot.Manager
	metrics  *metrics.Registry

	listener net.Listener
}

// New builds a Server. pool, metrics and snapshotMgr are supplied by
// main so their lifetimes are managed alongside the listener's.
func New(
	cfgStore *config.Store,
	logger zerolog.Logger,
	keyspace *store.Keyspace,
	pubsubRegistry *pubsub.Registry,
	monitorRegistry *monitor.Registry,
	pool *workerpool.Pool,
	st *stats.Stats,
	snapshotMgr *snapshot.Manager,
	metricsRegistry *metrics.Registry,
) *Server {
	return &Server{
		cfgStore: cfgStore,
		logger:   logger,
		keyspace: keyspace,
		pubsub:   pubsubRegistry,
		monitor:  monitorRegistry,
		table:    command.NewTable(),
		pool:     pool,
		stats:    st,
		snapshot: snapshotMgr,
		metrics:  metricsRegistry,
	}
}

// Listen binds the TCP address from the current configuration.
func (s *Server) Listen() error {
	cfg := s.cfgStore.Snapshot()
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", cfg.Addr(), err)
	}
	s.listener = ln
	s.logger.Info().Str("addr", cfg.Addr()).Msg("listening")
	return nil
}

// Addr returns the bound address, valid after a successful Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop until the listener is closed (typically
// via Close from a shutdown signal handler in main).
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		s.handleAccepted(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleAccepted(conn net.Conn) {
	s.stats.ConnectionOpened()
	if s.metrics != nil {
		s.metrics.ConnectionsActive.Inc()
		s.metrics.ConnectionsTotal.Inc()
	}

	var limiter *rate.Limiter
	cfg := s.cfgStore.Snapshot()
	if cfg.RateLimitPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	}
	client := session.New(conn, limiter)

	s.pool.Submit(func() {
		s.serveClient(client, cfg.Timeout)
		if s.metrics != nil {
			s.metrics.ConnectionsActive.Dec()
		}
		s.stats.ConnectionClosed()
	})
}

// serveClient runs the worker loop from spec.md §4.8 for one
// connection's whole lifetime.
func (s *Server) serveClient(client *session.Client, idleTimeoutSeconds int) {
	defer func() {
		s.pubsub.UnsubscribeAll(client)
		s.monitor.Remove(client.ID())
		_ = client.Close()
	}()

	ctx := &command.Context{
		Keyspace: s.keyspace,
		PubSub:   s.pubsub,
		Monitor:  s.monitor,
		Config:   s.cfgStore,
		Stats:    s.stats,
		Snapshot: s.snapshot,
		Logger:   s.logger,
		Client:   client,
	}

	for {
		// Step 1: a closed socket ends the loop; the deferred cleanup
		// above handles registry removal.
		if client.Closed() {
			return
		}

		if idleTimeoutSeconds > 0 {
			_ = client.SetDeadline(time.Now().Add(time.Duration(idleTimeoutSeconds) * time.Second))
		}

		name, args, err := client.ReadCommand()
		if err != nil {
			if errors.Is(err, protocol.ErrParse) {
				_ = client.WriteResponse(protocol.Errorf("ERR Protocol error: %s", err.Error()))
				continue
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Debug().Int64("client", client.ID()).Msg("idle timeout, closing connection")
			}
			return
		}
		client.Touch()

		if !client.Allow() {
			s.logger.Debug().Int64("client", client.ID()).Msg("rate limit exceeded")
			_ = client.WriteResponse(protocol.Errorf("ERR rate limit exceeded"))
			continue
		}

		// Step 3: pub/sub mode restricts the command surface.
		if client.Subscribed() && !command.AllowedInPubSubMode(name) {
			_ = client.WriteResponse(protocol.Errorf(
				"ERR only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT allowed in this context"))
			continue
		}

		// Step 4: the monitor broadcast happens regardless of whether
		// the command itself is recognized, but only when observers
		// are actually attached.
		if s.monitor.IsActive() {
			s.monitor.Broadcast(monitorFrame(client.ID(), name, args))
		}

		// Step 5/6: look up and invoke the handler.
		handler, found := s.table.Lookup(name)
		if !found {
			_ = client.WriteResponse(protocol.Errorf("ERR unknown command '%s'", name))
			continue
		}
		start := time.Now()
		result := handler(ctx, args)
		elapsed := time.Since(start)
		s.stats.CommandProcessed()
		if s.metrics != nil {
			s.metrics.CommandLatency.WithLabelValues(strings.ToLower(name)).Observe(elapsed.Seconds())
			s.metrics.CommandsTotal.WithLabelValues(strings.ToLower(name)).Inc()
			if result.Value.Kind == protocol.Error {
				s.metrics.CommandErrors.WithLabelValues(strings.ToLower(name)).Inc()
			}
		}

		// Step 7: serialize and send the response.
		if err := client.WriteResponse(result.Value); err != nil {
			return
		}
		if result.Close {
			return
		}
	}
}

// monitorFrame synthesizes the human-readable line spec.md §4.5 wants
// broadcast to MONITOR observers: a timestamp, the client id, and the
// command with its arguments quoted.
func monitorFrame(clientID int64, name string, args [][]byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d [%d] %q", time.Now().Unix(), clientID, name)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(quoteArg(string(a)))
	}
	return b.String()
}

func quoteArg(s string) string {
	return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
}
