// Package eta estimates route distance and duration between ride endpoints.
package eta

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/campus-rides/internal/geo"
	"github.com/example/campus-rides/internal/models"
)

const metersPerMile = 1609.344

// Client is the interface used by ride enrichment to get routes.
type Client interface {
	Route(ctx context.Context, from, to models.Coord) (*models.RouteInfo, error)
}

// Cache is a tiny in-memory cache for route lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	v  models.RouteInfo
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl, now: time.Now}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (models.RouteInfo, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return models.RouteInfo{}, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return models.RouteInfo{}, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.Coord, v models.RouteInfo) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: c.now()}
	c.mu.Unlock()
}

// Cached fronts a Client with a Cache.
type Cached struct {
	Client Client
	Cache  *Cache
}

func (c Cached) Route(ctx context.Context, from, to models.Coord) (*models.RouteInfo, error) {
	if v, ok := c.Cache.Get(from, to); ok {
		return &v, nil
	}
	info, err := c.Client.Route(ctx, from, to)
	if err != nil {
		return nil, err
	}
	c.Cache.Set(from, to, *info)
	return info, nil
}

// Chain tries each client in order and returns the first route found.
type Chain []Client

func (ch Chain) Route(ctx context.Context, from, to models.Coord) (*models.RouteInfo, error) {
	var errs []error
	for _, c := range ch {
		info, err := c.Route(ctx, from, to)
		if err == nil {
			return info, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, errors.New("no route clients configured")
	}
	return nil, errors.Join(errs...)
}

// Straight estimates a route from great-circle distance at a fixed speed.
// It never fails, so it belongs at the end of a Chain.
type Straight struct {
	SpeedMps float64
}

func (s Straight) Route(_ context.Context, from, to models.Coord) (*models.RouteInfo, error) {
	d := geo.Haversine(from.Lat, from.Lon, to.Lat, to.Lon)
	return &models.RouteInfo{
		DistanceMeters:  int(d),
		DistanceMiles:   d / metersPerMile,
		DurationSeconds: int(EstimateSeconds(from, to, s.SpeedMps)),
		Source:          "estimate",
	}, nil
}

// Naive ETA: distance / speed_mps.
func EstimateSeconds(from, to models.Coord, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0 // ~28.8 km/h default city speed
	}
	return geo.Haversine(from.Lat, from.Lon, to.Lat, to.Lon) / speedMps
}
