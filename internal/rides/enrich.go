package rides

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/observability"
)

type RouteEstimator interface {
	Route(ctx context.Context, from, to models.Coord) (*models.RouteInfo, error)
}

type PriceEstimator interface {
	Estimate(ctx context.Context, from, to models.Coord) (*models.PriceEstimate, error)
}

// Enricher attaches route and price estimates to a new ride. Both lookups
// run in parallel under one deadline; a failed lookup leaves its field nil.
type Enricher struct {
	Routes  RouteEstimator
	Prices  PriceEstimator
	Timeout time.Duration
	Logger  *slog.Logger
}

func (e *Enricher) Enrich(ctx context.Context, origin, dest models.Place) (*models.RouteInfo, *models.PriceEstimate) {
	if e == nil {
		return nil, nil
	}
	from, ok1 := origin.Coord()
	to, ok2 := dest.Coord()
	if !ok1 || !ok2 {
		return nil, nil
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var route *models.RouteInfo
	var price *models.PriceEstimate
	var g errgroup.Group
	if e.Routes != nil {
		g.Go(func() error {
			start := time.Now()
			r, err := e.Routes.Route(ctx, from, to)
			observability.ExternalCallDuration.WithLabelValues("routes", observability.Outcome(err)).Observe(time.Since(start).Seconds())
			if err != nil {
				logger.Warn("route lookup failed", "err", err)
				return nil
			}
			route = r
			return nil
		})
	}
	if e.Prices != nil {
		g.Go(func() error {
			start := time.Now()
			p, err := e.Prices.Estimate(ctx, from, to)
			observability.ExternalCallDuration.WithLabelValues("pricing", observability.Outcome(err)).Observe(time.Since(start).Seconds())
			if err != nil {
				logger.Warn("price lookup failed", "err", err)
				return nil
			}
			price = p
			return nil
		})
	}
	_ = g.Wait()
	return route, price
}
