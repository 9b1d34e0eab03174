package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/campus-rides/internal/auth"
	"github.com/example/campus-rides/internal/config"
	"github.com/example/campus-rides/internal/dispatch"
	"github.com/example/campus-rides/internal/eta"
	"github.com/example/campus-rides/internal/events"
	"github.com/example/campus-rides/internal/geo"
	"github.com/example/campus-rides/internal/ingest"
	"github.com/example/campus-rides/internal/places"
	"github.com/example/campus-rides/internal/pricing"
	"github.com/example/campus-rides/internal/reputation"
	"github.com/example/campus-rides/internal/rides"
	"github.com/example/campus-rides/internal/stats"
	"github.com/example/campus-rides/internal/storage"
	"github.com/example/campus-rides/internal/university"
	"github.com/example/campus-rides/internal/users"
)

type store interface {
	storage.RideStore
	storage.UserStore
	storage.RatingLedger
}

type redisPinger struct{ c *redis.Client }

func (r redisPinger) Ping(ctx context.Context) error { return r.c.Ping(ctx).Err() }

// NewServerFromConfig wires the API from configuration. Postgres, Redis,
// Kafka and the external estimators are used when configured; otherwise
// in-process fallbacks keep the server runnable locally. The returned
// closer releases every connection that was opened.
func NewServerFromConfig(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*Server, func() error, error) {
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	checks := map[string]storage.Pinger{}

	var st store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, closeAll, fmt.Errorf("postgres: %w", err)
		}
		closers = append(closers, ps.Close)
		if cfg.RunMigrations {
			applied, err := storage.Migrate(ctx, ps.DB())
			if err != nil {
				_ = closeAll()
				return nil, nil, err
			}
			logger.Info("migrations applied", "files", applied)
		}
		checks["postgres"] = ps
		st = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		st = storage.NewMemoryStore()
	}

	var rc *redis.Client
	if cfg.RedisAddr != "" {
		rc = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		closers = append(closers, rc.Close)
		checks["redis"] = redisPinger{c: rc}
	}

	var cache university.Cache
	var origins geo.Index = geo.NewMemoryIndex()
	var statsReader StatsReader
	if rc != nil {
		cache = university.NewRedisCache(rc, "", cfg.UniversityCacheTTL)
		origins = geo.NewRedisGeo(rc, cfg.RedisGeoKey)
		statsReader = &stats.Reader{C: rc}
	} else {
		cache = university.NewMemoryCache(cfg.UniversityCacheTTL, nil)
	}

	var detector university.Detector
	if cfg.GroqAPIKey != "" {
		d, err := university.NewOpenAIDetector(cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.GroqModel, logger)
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		detector = d
	} else {
		logger.Warn("GROQ_API_KEY not set, only legacy colleges can sign up")
	}
	resolver := university.NewResolver(detector, cache, university.Options{
		Timeout:       cfg.DetectorTimeout,
		RatePerSecond: cfg.DetectorRPS,
		Logger:        logger,
	})

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		_ = closeAll()
		return nil, nil, err
	}

	wsreg := dispatch.NewWSRegistry(logger)
	pub := events.Multi{wsreg}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		closers = append(closers, kp.Close)
		pub = append(pub, kp)
	}

	ridesSvc := rides.NewService(st,
		rides.WithEvents(pub),
		rides.WithEnricher(newEnricher(cfg, logger)),
		rides.WithOrigins(origins),
		rides.WithLogger(logger),
	)
	usersSvc := users.NewService(users.Deps{
		Store:    st,
		Resolver: resolver,
		Tokens:   tokens,
		Rides:    ridesSvc,
		Logger:   logger,
	})
	ratings := reputation.NewService(st, st, st, pub, logger)

	var finder PlaceFinder
	if cfg.GooglePlacesAPIKey != "" {
		finder = places.NewClient(cfg.GooglePlacesAPIKey)
	}
	srv := NewServer(Deps{
		Users:       usersSvc,
		Rides:       ridesSvc,
		Ratings:     ratings,
		Stats:       statsReader,
		Places:      finder,
		WS:          wsreg,
		Checks:      checks,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})
	return srv, closeAll, nil
}

// newEnricher prefers configured routing services, caching their answers,
// and falls back to a straight-line estimate.
func newEnricher(cfg config.ServerConfig, logger *slog.Logger) *rides.Enricher {
	var routers eta.Chain
	if cfg.GoogleRoutesAPIKey != "" {
		routers = append(routers, eta.NewGoogleRoutesClient(cfg.GoogleRoutesAPIKey))
	}
	if cfg.OSRMEndpoint != "" {
		routers = append(routers, eta.NewOSRMClient(cfg.OSRMEndpoint))
	}
	chain := eta.Chain{eta.Straight{SpeedMps: cfg.DefaultSpeedMps}}
	if len(routers) > 0 {
		chain = append(eta.Chain{eta.Cached{Client: routers, Cache: eta.NewCache(30 * time.Minute)}}, chain...)
	}
	e := &rides.Enricher{Routes: chain, Timeout: cfg.EnrichTimeout, Logger: logger}
	if cfg.UberServerToken != "" {
		e.Prices = pricing.NewUberClient(cfg.UberServerToken, cfg.UberSandbox)
	}
	return e
}
