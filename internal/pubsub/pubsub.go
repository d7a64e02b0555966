// Package pubsub implements the channel registry: the mapping from
// channel names to subscriber sets and the publish fan-out, as specified
// in spec.md §4.4. It mirrors the shard-broadcast shape the teacher's
// session.Hub used for WebSocket fan-out, generalized from "all
// connections" to "subscribers of one channel".
package pubsub

import (
	"sync"

	"github.com/adred-codev/odin-kv/internal/metrics"
)

// Subscriber is anything the registry can deliver a published frame to.
// Session implements this; tests can supply a fake.
type Subscriber interface {
	ID() int64
	Deliver(channel string, message []byte) bool
}

// Registry is the pub/sub table pair from spec.md §4.4: channels maps a
// channel to its current subscribers, and counts tracks each
// subscriber's total subscription count so it can tell when a client
// enters or exits pub/sub mode.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[int64]Subscriber
	counts   map[int64]int

	metrics *metrics.Registry
}

func New() *Registry {
	return &Registry{
		channels: make(map[string]map[int64]Subscriber),
		counts:   make(map[int64]int),
	}
}

// SetMetrics attaches the Prometheus registry SPEC_FULL.md §2.12 wires
// pub/sub fan-out into. Optional: a Registry with no metrics attached
// behaves exactly as before.
func (r *Registry) SetMetrics(m *metrics.Registry) {
	r.metrics = m
}

// Subscribe adds sub to channel idempotently and returns the
// subscriber's new total subscription count across all channels.
func (r *Registry) Subscribe(sub Subscriber, channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.channels[channel]
	if !ok {
		set = make(map[int64]Subscriber)
		r.channels[channel] = set
	}
	if _, already := set[sub.ID()]; !already {
		set[sub.ID()] = sub
		r.counts[sub.ID()]++
	}
	r.reportSubscribersLocked()
	return r.counts[sub.ID()]
}

// Unsubscribe removes sub from channel and returns its new total count.
func (r *Registry) Unsubscribe(sub Subscriber, channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := r.unsubscribeLocked(sub, channel)
	r.reportSubscribersLocked()
	return count
}

// reportSubscribersLocked samples the subscriber gauge. Caller must
// hold r.mu.
func (r *Registry) reportSubscribersLocked() {
	if r.metrics != nil {
		r.metrics.PubSubSubscribers.Set(float64(len(r.counts)))
	}
}

func (r *Registry) unsubscribeLocked(sub Subscriber, channel string) int {
	set, ok := r.channels[channel]
	if !ok {
		return r.counts[sub.ID()]
	}
	if _, present := set[sub.ID()]; present {
		delete(set, sub.ID())
		if len(set) == 0 {
			delete(r.channels, channel)
		}
		if r.counts[sub.ID()] > 0 {
			r.counts[sub.ID()]--
		}
	}
	count := r.counts[sub.ID()]
	if count == 0 {
		delete(r.counts, sub.ID())
	}
	return count
}

// UnsubscribeAll removes sub from every channel it was on, returning the
// channels it had been subscribed to.
func (r *Registry) UnsubscribeAll(sub Subscriber) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var channels []string
	for ch, set := range r.channels {
		if _, present := set[sub.ID()]; present {
			channels = append(channels, ch)
		}
	}
	for _, ch := range channels {
		r.unsubscribeLocked(sub, ch)
	}
	r.reportSubscribersLocked()
	return channels
}

// Publish delivers message to every current subscriber of channel, in
// publish order relative to other calls on the same channel. The
// subscriber set is read under a read lock and released before any
// socket write happens (spec §5): a slow or dead subscriber never
// blocks Publish or other readers.
func (r *Registry) Publish(channel string, message []byte) int {
	r.mu.RLock()
	set := r.channels[channel]
	subs := make([]Subscriber, 0, len(set))
	for _, s := range set {
		subs = append(subs, s)
	}
	r.mu.RUnlock()

	if r.metrics != nil {
		r.metrics.PubSubMessagesPublished.Inc()
	}

	delivered := 0
	for _, s := range subs {
		if s.Deliver(channel, message) {
			delivered++
		}
	}
	if r.metrics != nil && delivered > 0 {
		r.metrics.PubSubMessagesDelivered.Add(float64(delivered))
	}
	return delivered
}

// SubscriberCount returns the number of subscribers currently on
// channel.
func (r *Registry) SubscriberCount(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[channel])
}

// ChannelsMatching returns channels with at least one subscriber whose
// name matches match (nil match returns all active channels).
func (r *Registry) ChannelsMatching(match func(string) bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for ch, set := range r.channels {
		if len(set) == 0 {
			continue
		}
		if match == nil || match(ch) {
			out = append(out, ch)
		}
	}
	return out
}
