// Package routecache memoizes computed daily routes keyed by the due
// customer set, coalescing concurrent computations per key.
package routecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"crewroute/internal/metrics"
	"crewroute/internal/model"
)

// Key derives the cache key from company, crew, date, and the sorted
// due customer ids. Same due set, same key.
func Key(companyID, crewID, date string, dueIDs []string) string {
	ids := append([]string(nil), dueIDs...)
	sort.Strings(ids)
	h := sha256.New()
	h.Write([]byte(companyID + "|" + crewID + "|" + date + "|" + strings.Join(ids, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

type entry struct {
	route     model.DailyRoute
	companyID string
	crewID    string
	date      string
	created   time.Time
}

// Cache is a bounded in-memory route cache. At most one optimization
// runs per key at a time; concurrent callers for the same key await
// that single computation. Entries superseded by a new due set for the
// same (company, crew, date) are evicted, as are entries older than
// the retention window.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]*entry
	group     singleflight.Group
	retention time.Duration
	now       func() time.Time
}

func New(retention time.Duration) *Cache {
	if retention <= 0 {
		retention = 48 * time.Hour
	}
	return &Cache{
		entries:   map[string]*entry{},
		retention: retention,
		now:       time.Now,
	}
}

// GetOrCompute returns the cached route for the key or invokes compute
// exactly once to produce it. The bool result reports a cache hit.
func (c *Cache) GetOrCompute(ctx context.Context, companyID, crewID, date string, dueIDs []string, compute func(ctx context.Context) (model.DailyRoute, error)) (model.DailyRoute, bool, error) {
	key := Key(companyID, crewID, date, dueIDs)

	c.mu.Lock()
	c.evictExpiredLocked()
	if e, ok := c.entries[key]; ok {
		rt := e.route
		c.mu.Unlock()
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return rt, true, nil
	}
	c.mu.Unlock()

	started := c.now()
	v, err, shared := c.group.Do(key, func() (any, error) {
		// Another caller may have stored the entry while we queued.
		c.mu.Lock()
		if e, ok := c.entries[key]; ok {
			rt := e.route
			c.mu.Unlock()
			return rt, nil
		}
		c.mu.Unlock()

		rt, err := compute(ctx)
		if err != nil {
			return model.DailyRoute{}, err
		}
		rt.CacheKey = key
		c.store(key, companyID, crewID, date, rt, started)
		return rt, nil
	})
	if err != nil {
		return model.DailyRoute{}, false, err
	}
	if shared {
		metrics.CacheLookups.WithLabelValues("coalesced").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}
	return v.(model.DailyRoute), false, nil
}

// store inserts the entry and drops any entry for the same
// (company, crew, date) under a different key: the new due set
// supersedes the old route. A result whose computation started before
// an existing entry was stored is stale and never cached over it.
func (c *Cache) store(key, companyID, crewID, date string, rt model.DailyRoute, started time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if k != key && e.companyID == companyID && e.crewID == crewID && e.date == date {
			if e.created.After(started) {
				return
			}
			delete(c.entries, k)
		}
	}
	c.entries[key] = &entry{route: rt, companyID: companyID, crewID: crewID, date: date, created: c.now()}
}

// Invalidate drops the entry for an explicit key, if present.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evictExpiredLocked() {
	cutoff := c.now().Add(-c.retention)
	for k, e := range c.entries {
		if e.created.Before(cutoff) {
			delete(c.entries, k)
		}
	}
}
