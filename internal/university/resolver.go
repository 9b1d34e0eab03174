// Package university turns a student email address into a university
// record, using an AI detector with a static domain table as fallback.
package university

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/observability"
)

// MaxNearbyMiles bounds the nearby universities kept from a detection.
const MaxNearbyMiles = 15

const (
	msgNotEdu        = "Only .edu email addresses are allowed"
	msgUnrecognized  = "Email domain not recognized. We now support all universities - please contact support if this error persists."
	msgUnavailable   = "University detection service temporarily unavailable. Please try again later."
	defaultTimeout   = 8 * time.Second
	defaultCacheTTL  = 7 * 24 * time.Hour
)

// ErrNoDetector is returned by a Resolver configured without a detector.
var ErrNoDetector = errors.New("university detector not configured")

// Detection is what the detector knows about a domain.
type Detection struct {
	Valid       bool          `json:"valid"`
	Name        string        `json:"university_name"`
	ShortName   string        `json:"short_name"`
	City        string        `json:"city"`
	State       string        `json:"state"`
	Country     string        `json:"country"`
	Coordinates *models.Coord `json:"-"`
	Error       string        `json:"error,omitempty"`
}

// complete reports whether the required descriptive fields are present.
func (d Detection) complete() bool {
	return d.Name != "" && d.ShortName != "" && d.City != "" && d.State != "" && d.Country != ""
}

// Detector identifies universities and their neighbours.
type Detector interface {
	Detect(ctx context.Context, domain string) (Detection, error)
	Nearby(ctx context.Context, d Detection) ([]models.NearbyUniversity, error)
}

// Result is the outcome of resolving an email. When Valid is false, Error
// holds a message fit for the end user.
type Result struct {
	Valid   bool
	College string
	Info    models.UniversityInfo
	Error   string
}

type Options struct {
	Timeout time.Duration
	// RatePerSecond limits detector calls; zero disables the limit.
	RatePerSecond float64
	Logger        *slog.Logger
}

// Resolver owns the domain cache and serializes access to the detector
// through a rate limiter.
type Resolver struct {
	detector Detector
	cache    Cache
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *slog.Logger
}

// NewResolver builds a resolver. A nil detector makes every uncached lookup
// take the fallback path; a nil cache gets a 7-day in-memory cache.
func NewResolver(detector Detector, cache Cache, opts Options) *Resolver {
	if cache == nil {
		cache = NewMemoryCache(defaultCacheTTL, nil)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), max(1, int(opts.RatePerSecond)))
	}
	return &Resolver{detector: detector, cache: cache, limiter: limiter, timeout: opts.Timeout, logger: opts.Logger}
}

// Resolve validates email and returns its university.
func (r *Resolver) Resolve(ctx context.Context, email string) Result {
	domain, ok := eduDomain(email)
	if !ok {
		observability.UniversityLookups.WithLabelValues("rejected").Inc()
		return Result{Error: msgNotEdu}
	}

	info, hit, err := r.cache.Get(ctx, domain)
	if err != nil {
		r.logger.Warn("university cache read failed", "domain", domain, "err", err)
	}
	if hit {
		observability.UniversityLookups.WithLabelValues("cache_hit").Inc()
		return Result{Valid: true, College: info.Name, Info: info}
	}

	det, err := r.detect(ctx, domain)
	if err != nil {
		r.logger.Error("university detection failed", "domain", domain, "err", err)
		if college, ok := LegacyCollege(domain); ok {
			observability.UniversityLookups.WithLabelValues("fallback").Inc()
			return Result{Valid: true, College: college, Info: models.FallbackUniversity{Name: college, ShortName: shortName(college)}}
		}
		observability.UniversityLookups.WithLabelValues("unavailable").Inc()
		return Result{Error: msgUnavailable}
	}
	if !det.Valid || !det.complete() {
		if college, ok := LegacyCollege(domain); ok {
			observability.UniversityLookups.WithLabelValues("legacy").Inc()
			return Result{Valid: true, College: college, Info: models.LegacyUniversity{Name: college, ShortName: shortName(college)}}
		}
		observability.UniversityLookups.WithLabelValues("unrecognized").Inc()
		return Result{Error: msgUnrecognized}
	}

	resolved := models.ResolvedUniversity{
		Name:        det.Name,
		ShortName:   det.ShortName,
		City:        det.City,
		State:       det.State,
		Country:     det.Country,
		Coordinates: det.Coordinates,
		Nearby:      r.nearby(ctx, det),
	}
	if err := r.cache.Set(ctx, domain, resolved); err != nil {
		r.logger.Warn("university cache write failed", "domain", domain, "err", err)
	}
	observability.UniversityLookups.WithLabelValues("resolved").Inc()
	return Result{Valid: true, College: resolved.Name, Info: resolved}
}

// Refresh drops the cached entry for email's domain and resolves again.
func (r *Resolver) Refresh(ctx context.Context, email string) Result {
	if domain, ok := eduDomain(email); ok {
		if err := r.cache.Delete(ctx, domain); err != nil {
			r.logger.Warn("university cache delete failed", "domain", domain, "err", err)
		}
	}
	return r.Resolve(ctx, email)
}

func (r *Resolver) detect(ctx context.Context, domain string) (Detection, error) {
	if r.detector == nil {
		return Detection{}, ErrNoDetector
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return Detection{}, err
		}
	}
	start := time.Now()
	det, err := r.detector.Detect(ctx, domain)
	observability.ExternalCallDuration.WithLabelValues("detector", observability.Outcome(err)).Observe(time.Since(start).Seconds())
	return det, err
}

// nearby never fails the resolution: errors yield an empty list.
func (r *Resolver) nearby(ctx context.Context, det Detection) []models.NearbyUniversity {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			r.logger.Warn("nearby universities skipped", "university", det.Name, "err", err)
			return []models.NearbyUniversity{}
		}
	}
	start := time.Now()
	list, err := r.detector.Nearby(ctx, det)
	observability.ExternalCallDuration.WithLabelValues("detector_nearby", observability.Outcome(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		r.logger.Warn("nearby universities lookup failed", "university", det.Name, "err", err)
		return []models.NearbyUniversity{}
	}
	out := make([]models.NearbyUniversity, 0, len(list))
	for _, nb := range list {
		if nb.DistanceMiles > MaxNearbyMiles {
			r.logger.Debug("nearby university too far", "name", nb.Name, "miles", nb.DistanceMiles)
			continue
		}
		out = append(out, nb)
	}
	return out
}

// eduDomain returns the lower-cased domain of email when it is a .edu
// address.
func eduDomain(email string) (string, bool) {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return "", false
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	if !strings.HasSuffix(domain, ".edu") {
		return "", false
	}
	return domain, true
}

func shortName(college string) string {
	if i := strings.IndexByte(college, ' '); i > 0 {
		return college[:i]
	}
	return college
}
