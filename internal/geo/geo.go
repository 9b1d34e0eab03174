// Package geo indexes ride origins for proximity search.
package geo

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/example/campus-rides/internal/models"
)

// Hit is an indexed ride and its distance from the query point.
type Hit struct {
	ID     string
	Meters float64
}

// Index is the minimal interface required by the ride listing.
type Index interface {
	Upsert(ctx context.Context, id string, at models.Coord) error
	Remove(ctx context.Context, id string) error
	Nearby(ctx context.Context, at models.Coord, radiusMeters float64, limit int) ([]Hit, error)
}

type MemoryIndex struct {
	mu     sync.RWMutex
	points map[string]models.Coord
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[string]models.Coord)}
}

func (g *MemoryIndex) Upsert(_ context.Context, id string, at models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.points[id] = at
	return nil
}

func (g *MemoryIndex) Remove(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.points, id)
	return nil
}

// naive scan; fine for the number of open rides on one campus
func (g *MemoryIndex) Nearby(_ context.Context, at models.Coord, radiusMeters float64, limit int) ([]Hit, error) {
	g.mu.RLock()
	hits := make([]Hit, 0, len(g.points))
	for id, c := range g.points {
		d := Haversine(at.Lat, at.Lon, c.Lat, c.Lon)
		if d <= radiusMeters {
			hits = append(hits, Hit{ID: id, Meters: d})
		}
	}
	g.mu.RUnlock()
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Meters == hits[j].Meters {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].Meters < hits[j].Meters
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
