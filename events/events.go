// Package events defines the typed event vocabulary the coordinator (C8)
// and scheduler (C9) publish to the observability collaborator (spec §6),
// and a small non-blocking bus built on docker/go-events to deliver them:
// publishers must never stall the hot path, so every sink sits behind its
// own unbounded queue: a slow subscriber makes its queue grow instead of
// backing up a writer, and events are not dropped for slowness.
package events

import (
	"time"

	goevents "github.com/docker/go-events"
)

// Type names every event kind the core emits (spec §6).
type Type string

const (
	CacheHit       Type = "cache_hit"
	CacheMiss      Type = "cache_miss"
	CacheUpdate    Type = "cache_update"
	CacheEviction  Type = "cache_eviction"
	RemotePush     Type = "remote_push"
	RemotePull     Type = "remote_pull"
	GCStart        Type = "gc_start"
	GCComplete     Type = "gc_complete"
	ActionHit      Type = "action_hit"
	ActionMiss     Type = "action_miss"
	ActionStart    Type = "action_start"
	ActionComplete Type = "action_complete"
)

// Event is the payload delivered to every subscriber. CorrelationID is a
// target label or action id, per spec §6; Fields carries type-specific
// detail (byte counts, exit codes, durations) without needing one struct
// per event type.
type Event struct {
	Type          Type
	Timestamp     time.Time
	CorrelationID string
	Fields        map[string]interface{}
}

// Bus is the non-blocking publish side. Each subscribed sink gets its own
// goevents.Queue, which buffers without bound, so one slow consumer cannot
// delay another or the publisher.
type Bus struct {
	broadcaster *goevents.Broadcaster
}

func NewBus() *Bus {
	return &Bus{broadcaster: goevents.NewBroadcaster()}
}

// Subscribe registers sink to receive every future event. The returned
// queue must be retained if the caller wants to Close it later to stop
// delivery; closing the bus itself also tears down every subscriber queue.
func (b *Bus) Subscribe(sink goevents.Sink) *goevents.Queue {
	q := goevents.NewQueue(sink)
	b.broadcaster.Add(q)
	return q
}

func (b *Bus) Unsubscribe(q *goevents.Queue) error {
	return b.broadcaster.Remove(q)
}

// Publish enqueues evt for delivery. Broadcaster.Write itself never blocks
// on a subscriber — each subscriber's Queue buffers independently — so this
// is safe to call from the coordinator's and scheduler's hot paths.
func (b *Bus) Publish(evt Event) {
	_ = b.broadcaster.Write(evt)
}

func (b *Bus) Close() error { return b.broadcaster.Close() }

// New is a small constructor helper so callers don't need to import "time"
// just to stamp an event.
func New(t Type, correlationID string, fields map[string]interface{}) Event {
	return Event{Type: t, Timestamp: time.Now(), CorrelationID: correlationID, Fields: fields}
}
