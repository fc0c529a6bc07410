// Package coordinator implements C8: the unified façade the rest of the
// system talks to for cache lookups and updates, consulting local tiers
// (C5/C6) before the optional remote tier (C7) and promoting remote hits
// into the local tier so later lookups resolve locally (spec §4.7).
package coordinator

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/buildforge/engine/cache"
	"github.com/buildforge/engine/cas"
	"github.com/buildforge/engine/digest"
	"github.com/buildforge/engine/events"
	"github.com/buildforge/engine/remotecache"
)

// Coordinator wires C1, C5, C6, an optional C7, and the event bus together.
type Coordinator struct {
	store    *cas.Store
	targets  *cache.TargetCache
	actions  *cache.ActionCache
	remote   *remotecache.Client // nil when remote caching is disabled
	bus      *events.Bus
	log      logrus.FieldLogger
}

func New(store *cas.Store, targets *cache.TargetCache, actions *cache.ActionCache, remote *remotecache.Client, bus *events.Bus, log logrus.FieldLogger) *Coordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Coordinator{store: store, targets: targets, actions: actions, remote: remote, bus: bus, log: log}
}

// IsCachedTarget implements `is_cached(target)`: C5 -> C7, promoting a
// remote hit into C5 (spec §4.7's cache-fill).
func (c *Coordinator) IsCachedTarget(fp digest.Digest) (cache.TargetEntry, bool) {
	if entry, ok := c.targets.Lookup(fp); ok {
		c.publish(events.CacheHit, fp, map[string]interface{}{"tier": "C5"})
		return entry, true
	}
	if c.remote == nil {
		c.publish(events.CacheMiss, fp, map[string]interface{}{"tier": "C5"})
		return cache.TargetEntry{}, false
	}

	raw, ok := c.remote.Get(fp)
	if !ok {
		c.publish(events.CacheMiss, fp, map[string]interface{}{"tier": "C7"})
		return cache.TargetEntry{}, false
	}
	entry, err := cache.DecodeTargetEntry(raw)
	if err != nil {
		c.log.WithError(err).Warn("coordinator: corrupt remote target entry")
		c.publish(events.CacheMiss, fp, map[string]interface{}{"tier": "C7"})
		return cache.TargetEntry{}, false
	}
	entry.Fingerprint = fp

	if !c.ensureBlobLocal(entry.OutputDigest) {
		c.publish(events.CacheMiss, fp, map[string]interface{}{"tier": "C7", "reason": "output_unavailable"})
		return cache.TargetEntry{}, false
	}

	c.publish(events.RemotePull, fp, map[string]interface{}{"tier": "C7"})
	if err := c.targets.Update(entry); err != nil {
		c.log.WithError(err).Warn("coordinator: target cache-fill failed")
	}
	c.publish(events.CacheHit, fp, map[string]interface{}{"tier": "C7", "promoted": true})
	return entry, true
}

// IsCachedAction implements `is_cached(action)`: C6 -> C7.
func (c *Coordinator) IsCachedAction(fp digest.Digest) (cache.ActionEntry, bool) {
	if entry, ok := c.actions.Lookup(fp); ok {
		c.publish(events.ActionHit, fp, map[string]interface{}{"tier": "C6"})
		return entry, true
	}
	if c.remote == nil {
		c.publish(events.ActionMiss, fp, map[string]interface{}{"tier": "C6"})
		return cache.ActionEntry{}, false
	}

	raw, ok := c.remote.Get(fp)
	if !ok {
		c.publish(events.ActionMiss, fp, map[string]interface{}{"tier": "C7"})
		return cache.ActionEntry{}, false
	}
	entry, err := cache.DecodeActionEntry(raw)
	if err != nil {
		c.log.WithError(err).Warn("coordinator: corrupt remote action entry")
		c.publish(events.ActionMiss, fp, map[string]interface{}{"tier": "C7"})
		return cache.ActionEntry{}, false
	}
	entry.Fingerprint = fp

	for _, d := range entry.OutputDigests {
		if !c.ensureBlobLocal(d) {
			c.publish(events.ActionMiss, fp, map[string]interface{}{"tier": "C7", "reason": "output_unavailable"})
			return cache.ActionEntry{}, false
		}
	}
	if !entry.StdoutDigest.Zero() && !c.ensureBlobLocal(entry.StdoutDigest) {
		return cache.ActionEntry{}, false
	}
	if !entry.StderrDigest.Zero() && !c.ensureBlobLocal(entry.StderrDigest) {
		return cache.ActionEntry{}, false
	}

	c.publish(events.RemotePull, fp, map[string]interface{}{"tier": "C7"})
	if err := c.actions.Update(entry); err != nil {
		c.log.WithError(err).Warn("coordinator: action cache-fill failed")
	}
	c.publish(events.ActionHit, fp, map[string]interface{}{"tier": "C7", "promoted": true})
	return entry, true
}

// ensureBlobLocal makes digest present in the local CAS, pulling it from
// the remote tier if needed. Returns false if it could not be obtained
// from either.
func (c *Coordinator) ensureBlobLocal(d digest.Digest) bool {
	if c.store.Has(d) {
		return true
	}
	if c.remote == nil {
		return false
	}
	data, ok := c.remote.Get(d)
	if !ok {
		return false
	}
	if _, err := c.store.Put(data); err != nil {
		c.log.WithError(err).Warn("coordinator: failed to materialize pulled blob")
		return false
	}
	return true
}

// UpdateTarget writes entry to C5 synchronously and enqueues a best-effort
// asynchronous push to C7 (spec §4.7).
func (c *Coordinator) UpdateTarget(entry cache.TargetEntry) error {
	if err := c.targets.Update(entry); err != nil {
		return err
	}
	c.publish(events.CacheUpdate, entry.Fingerprint, map[string]interface{}{"tier": "C5"})
	if c.remote != nil {
		c.pushTargetAsync(entry)
	}
	return nil
}

// UpdateAction writes entry to C6 synchronously and enqueues an async C7
// push. Entries that record a failed action are pushed too; there is no
// option to keep them local.
func (c *Coordinator) UpdateAction(entry cache.ActionEntry) error {
	if err := c.actions.Update(entry); err != nil {
		return err
	}
	c.publish(events.CacheUpdate, entry.Fingerprint, map[string]interface{}{"tier": "C6", "failed": entry.Failed})
	if c.remote != nil {
		c.pushActionAsync(entry)
	}
	return nil
}

func (c *Coordinator) pushTargetAsync(entry cache.TargetEntry) {
	go func() {
		if data, err := c.store.Get(entry.OutputDigest); err == nil {
			c.remote.Put(entry.OutputDigest, data)
		}
		c.remote.Put(entry.Fingerprint, cache.EncodeTargetEntry(entry))
		c.publish(events.RemotePush, entry.Fingerprint, map[string]interface{}{"tier": "C7"})
	}()
}

func (c *Coordinator) pushActionAsync(entry cache.ActionEntry) {
	go func() {
		for _, d := range entry.OutputDigests {
			if data, err := c.store.Get(d); err == nil {
				c.remote.Put(d, data)
			}
		}
		if !entry.StdoutDigest.Zero() {
			if data, err := c.store.Get(entry.StdoutDigest); err == nil {
				c.remote.Put(entry.StdoutDigest, data)
			}
		}
		if !entry.StderrDigest.Zero() {
			if data, err := c.store.Get(entry.StderrDigest); err == nil {
				c.remote.Put(entry.StderrDigest, data)
			}
		}
		c.remote.Put(entry.Fingerprint, cache.EncodeActionEntry(entry))
		c.publish(events.RemotePush, entry.Fingerprint, map[string]interface{}{"tier": "C7"})
	}()
}

// RunGC runs C1's mark-sweep using the live C5+C6 entries as roots,
// emitting GCStart/GCComplete around the pass (spec §4.7).
func (c *Coordinator) RunGC(grace time.Duration) (cas.GCResult, error) {
	c.publish(events.GCStart, digest.Digest{}, nil)
	result, err := c.store.GC(grace, c.targets, c.actions)
	c.publish(events.GCComplete, digest.Digest{}, map[string]interface{}{
		"scanned": result.Scanned, "evicted": result.Evicted, "bytes_freed": result.BytesFreed,
	})
	return result, err
}

func (c *Coordinator) publish(t events.Type, correlationDigest digest.Digest, fields map[string]interface{}) {
	id := correlationDigest.String()
	if correlationDigest.Zero() {
		id = ""
	}
	c.bus.Publish(events.New(t, id, fields))
}
