// Package rides owns the ride lifecycle: creation, admission, approval,
// leaving and the terminal transitions.
package rides

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/campus-rides/internal/apperr"
	"github.com/example/campus-rides/internal/community"
	"github.com/example/campus-rides/internal/eligibility"
	"github.com/example/campus-rides/internal/events"
	"github.com/example/campus-rides/internal/geo"
	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/observability"
	"github.com/example/campus-rides/internal/storage"
)

const (
	DefaultMaxParticipants = 4
	MaxParticipantsLimit   = 20
	minutesPerDay          = 24 * 60
	defaultRadiusKm        = 10
	publishTimeout         = 2 * time.Second
)

type Service struct {
	store    storage.RideStore
	events   events.Publisher
	enricher *Enricher
	origins  geo.Index
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

type Option func(*Service)

func WithEvents(p events.Publisher) Option { return func(s *Service) { s.events = p } }
func WithEnricher(e *Enricher) Option { return func(s *Service) { s.enricher = e } }
func WithOrigins(idx geo.Index) Option { return func(s *Service) { s.origins = idx } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

func NewService(store storage.RideStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		events:  events.Nop{},
		origins: geo.NewMemoryIndex(),
		logger:  slog.Default(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type CreateRequest struct {
	Origin          models.Place
	Destination     models.Place
	Departure       models.Departure
	Communities     []string
	MaxParticipants int
	CreatorHasCar   bool
	IsDriverRide    bool
	Notes           string
}

func (req CreateRequest) validate() error {
	if strings.TrimSpace(req.Origin.Description) == "" || strings.TrimSpace(req.Destination.Description) == "" {
		return apperr.New(apperr.KindInvalidInput, "origin and destination are required")
	}
	if _, err := time.Parse(time.DateOnly, req.Departure.Date); err != nil {
		return apperr.New(apperr.KindInvalidInput, "departure date must look like 2006-01-02")
	}
	d := req.Departure
	if d.EarliestMinute < 0 || d.LatestMinute >= minutesPerDay || d.EarliestMinute > d.LatestMinute {
		return apperr.New(apperr.KindInvalidInput, "departure window must satisfy 0 <= earliest <= latest < %d", minutesPerDay)
	}
	if req.MaxParticipants < 0 || req.MaxParticipants > MaxParticipantsLimit {
		return apperr.New(apperr.KindInvalidInput, "max_participants must be between 1 and %d", MaxParticipantsLimit)
	}
	return nil
}

// Create stores a new ride posted by creator. Communities default to the
// creator's home community. Route and price enrichment happen before the
// ride is stored and never fail the call.
func (s *Service) Create(ctx context.Context, creator *models.User, req CreateRequest) (*models.Ride, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	comms := community.NormalizeAll(req.Communities)
	if len(comms) == 0 {
		home, ok := eligibility.UserCommunity(creator)
		if !ok {
			home = community.OpenToAll
		}
		comms = []community.Name{home}
	}
	maxP := req.MaxParticipants
	if maxP == 0 {
		maxP = DefaultMaxParticipants
	}

	now := s.now().UTC()
	r := &models.Ride{
		ID:              s.newID(),
		Origin:          req.Origin,
		Destination:     req.Destination,
		Departure:       req.Departure,
		Communities:     comms,
		Creator:         creator.Email,
		CreatorHasCar:   req.CreatorHasCar,
		IsDriverRide:    req.IsDriverRide,
		Participants:    []models.Participant{{Email: creator.Email, HasCar: req.CreatorHasCar, Status: models.ParticipantJoined, JoinedAt: now}},
		MaxParticipants: maxP,
		Status:          models.RideActive,
		Notes:           strings.TrimSpace(req.Notes),
		CreatedAt:       now,
	}
	if !req.IsDriverRide {
		r.UserIDs = []string{creator.Email}
	}
	r.Route, r.Price = s.enricher.Enrich(ctx, r.Origin, r.Destination)

	if err := s.store.CreateRide(ctx, r); err != nil {
		return nil, err
	}
	observability.RidesCreated.Inc()
	s.indexOrigin(ctx, r)
	s.publish(ctx, r, events.RideCreated, creator.Email, "", []string{creator.Email})
	s.logger.Info("ride created", "ride_id", r.ID, "creator", r.Creator, "driver_ride", r.IsDriverRide, "communities", community.Strings(r.Communities))
	return r, nil
}

type JoinResult struct {
	Ride   *models.Ride
	Status models.ParticipantStatus
}

// Pending reports whether the join awaits the driver's approval.
func (j JoinResult) Pending() bool { return j.Status == models.ParticipantPending }

// Join admits u to the ride. On driver rides the request waits for the
// creator's decision and takes no seat until approved.
func (s *Service) Join(ctx context.Context, rideID string, u *models.User, hasCar bool) (JoinResult, error) {
	var status models.ParticipantStatus
	var before models.RideStatus
	now := s.now().UTC()
	r, err := s.store.UpdateRide(ctx, rideID, func(r *models.Ride) error {
		before = r.Status
		var err error
		status, err = admit(r, u, hasCar, now)
		return err
	})
	if err != nil {
		observability.JoinAttempts.WithLabelValues(joinOutcome(err)).Inc()
		return JoinResult{}, err
	}
	observability.JoinAttempts.WithLabelValues(string(status)).Inc()
	s.transitioned(before, r.Status)

	if status == models.ParticipantPending {
		s.publish(ctx, r, events.JoinRequested, u.Email, u.Email, []string{r.Creator})
	} else {
		s.publish(ctx, r, events.ParticipantJoined, u.Email, u.Email, r.Members())
	}
	return JoinResult{Ride: r, Status: status}, nil
}

// Decide approves or declines a pending request on behalf of the creator.
func (s *Service) Decide(ctx context.Context, rideID, requester, email string, approve bool) (*models.Ride, error) {
	var before models.RideStatus
	r, err := s.store.UpdateRide(ctx, rideID, func(r *models.Ride) error {
		before = r.Status
		return decide(r, requester, email, approve)
	})
	if err != nil {
		return nil, err
	}
	s.transitioned(before, r.Status)
	typ := events.JoinDeclined
	if approve {
		typ = events.JoinApproved
	}
	s.publish(ctx, r, typ, requester, email, r.Members())
	return r, nil
}

// Leave removes a member other than the creator.
func (s *Service) Leave(ctx context.Context, rideID, email string) (*models.Ride, error) {
	var before models.RideStatus
	r, err := s.store.UpdateRide(ctx, rideID, func(r *models.Ride) error {
		before = r.Status
		return leave(r, email)
	})
	if err != nil {
		return nil, err
	}
	s.transitioned(before, r.Status)
	if r.Status == models.RideCancelled {
		s.unindexOrigin(ctx, r.ID)
	}
	s.publish(ctx, r, events.ParticipantLeft, email, email, append(r.Members(), email))
	return r, nil
}

// Delete hard-removes a ride once no one but the creator holds a seat.
func (s *Service) Delete(ctx context.Context, rideID, requester string) error {
	var members []string
	var snapshot *models.Ride
	err := s.store.DeleteRide(ctx, rideID, func(r *models.Ride) error {
		if err := deletable(r, requester); err != nil {
			return err
		}
		members = r.Members()
		snapshot = r
		return nil
	})
	if err != nil {
		return err
	}
	s.unindexOrigin(ctx, rideID)
	s.publish(ctx, snapshot, events.RideDeleted, requester, "", members)
	s.logger.Info("ride deleted", "ride_id", rideID, "by", requester)
	return nil
}

// Complete marks the ride as having taken place, which opens it for ratings.
func (s *Service) Complete(ctx context.Context, rideID, requester string) (*models.Ride, error) {
	return s.finish(ctx, rideID, requester, models.RideCompleted, events.RideCompleted)
}

// Cancel ends the ride without it taking place.
func (s *Service) Cancel(ctx context.Context, rideID, requester string) (*models.Ride, error) {
	return s.finish(ctx, rideID, requester, models.RideCancelled, events.RideCancelled)
}

func (s *Service) finish(ctx context.Context, rideID, requester string, to models.RideStatus, typ events.Type) (*models.Ride, error) {
	var before models.RideStatus
	now := s.now().UTC()
	r, err := s.store.UpdateRide(ctx, rideID, func(r *models.Ride) error {
		before = r.Status
		return terminate(r, requester, to, now)
	})
	if err != nil {
		return nil, err
	}
	s.transitioned(before, r.Status)
	s.unindexOrigin(ctx, r.ID)
	s.publish(ctx, r, typ, requester, "", r.Members())
	return r, nil
}

func (s *Service) Get(ctx context.Context, rideID string) (*models.Ride, error) {
	return s.store.GetRide(ctx, rideID)
}

// View returns the ride when u is on it or belongs to one of its
// communities.
func (s *Service) View(ctx context.Context, rideID string, u *models.User) (*models.Ride, error) {
	r, err := s.store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !r.IsMember(u.Email) && !eligibility.Eligible(r, u) {
		return nil, apperr.New(apperr.KindForbidden, "ride is not open to your community")
	}
	return r, nil
}

// ListFilter narrows ListVisible to rides leaving near a point.
type ListFilter struct {
	Near     *models.Coord
	RadiusKm float64
	Limit    int
}

// ListVisible returns the active rides u may join, newest first, or nearest
// first when a point is given.
func (s *Service) ListVisible(ctx context.Context, u *models.User, f ListFilter) ([]*models.Ride, error) {
	filter := storage.RideFilter{Status: models.RideActive}
	if home, ok := eligibility.UserCommunity(u); ok {
		filter.Communities = community.Strings([]community.Name{home, community.OpenToAll})
	} else {
		filter.Communities = community.Strings([]community.Name{community.OpenToAll})
	}
	list, err := s.store.ListRides(ctx, filter)
	if err != nil {
		return nil, err
	}
	list = eligibility.Filter(list, u)
	if f.Near != nil {
		list, err = s.nearest(ctx, list, *f.Near, f.RadiusKm)
		if err != nil {
			return nil, err
		}
	}
	if f.Limit > 0 && len(list) > f.Limit {
		list = list[:f.Limit]
	}
	return list, nil
}

func (s *Service) nearest(ctx context.Context, list []*models.Ride, at models.Coord, radiusKm float64) ([]*models.Ride, error) {
	if radiusKm <= 0 {
		radiusKm = defaultRadiusKm
	}
	hits, err := s.origins.Nearby(ctx, at, radiusKm*1000, 0)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Ride, len(list))
	for _, r := range list {
		byID[r.ID] = r
	}
	out := make([]*models.Ride, 0, len(hits))
	for _, h := range hits {
		if r, ok := byID[h.ID]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListMine returns every ride email created or has a participant entry on.
func (s *Service) ListMine(ctx context.Context, email string) ([]*models.Ride, error) {
	return s.store.ListRides(ctx, storage.RideFilter{Member: email})
}

// RemoveUser detaches email from every ride before the account is closed.
// Rides email created are deleted outright; elsewhere email leaves, which
// may cancel a ride whose last seat empties. Nothing is changed while an
// open ride still needs email's car for its seated riders.
func (s *Service) RemoveUser(ctx context.Context, email string) error {
	list, err := s.store.ListRides(ctx, storage.RideFilter{Member: email})
	if err != nil {
		return err
	}
	for _, r := range list {
		if r.Creator != email && strands(r, email) {
			return apperr.Wrap(apperr.KindConflict, errCarNeeded, "ride "+r.ID)
		}
	}
	for _, r := range list {
		if r.Creator == email {
			if err := s.store.DeleteRide(ctx, r.ID, nil); err != nil && apperr.KindOf(err) != apperr.KindNotFound {
				return err
			}
			s.unindexOrigin(ctx, r.ID)
			s.publish(ctx, r, events.RideDeleted, email, "", r.Members())
			continue
		}
		var before models.RideStatus
		updated, err := s.store.UpdateRide(ctx, r.ID, func(r *models.Ride) error {
			before = r.Status
			if strands(r, email) {
				return errCarNeeded
			}
			depart(r, email)
			return nil
		})
		if apperr.KindOf(err) == apperr.KindNotFound {
			continue
		}
		if err != nil {
			return err
		}
		s.transitioned(before, updated.Status)
		if updated.Status == models.RideCancelled {
			s.unindexOrigin(ctx, updated.ID)
		}
		s.publish(ctx, updated, events.ParticipantLeft, email, email, updated.Members())
	}
	s.logger.Info("user removed from rides", "user", email, "rides", len(list))
	return nil
}

func (s *Service) indexOrigin(ctx context.Context, r *models.Ride) {
	c, ok := r.Origin.Coord()
	if !ok {
		return
	}
	if err := s.origins.Upsert(ctx, r.ID, c); err != nil {
		s.logger.Warn("origin index upsert failed", "ride_id", r.ID, "err", err)
	}
}

func (s *Service) unindexOrigin(ctx context.Context, id string) {
	if err := s.origins.Remove(ctx, id); err != nil {
		s.logger.Warn("origin index remove failed", "ride_id", id, "err", err)
	}
}

func (s *Service) transitioned(from, to models.RideStatus) {
	if from != to && from != "" {
		observability.RideTransitions.WithLabelValues(string(from), string(to)).Inc()
	}
}

// publish is best-effort: delivery failures are logged, never returned.
func (s *Service) publish(ctx context.Context, r *models.Ride, typ events.Type, actor, subject string, recipients []string) {
	e := events.Event{
		Type:        typ,
		RideID:      r.ID,
		Actor:       actor,
		Subject:     subject,
		Status:      r.Status,
		Communities: community.Strings(r.Communities),
		Recipients:  recipients,
		At:          s.now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn("ride event publish failed", "ride_id", r.ID, "type", typ, "err", err)
	}
}

func joinOutcome(err error) string {
	if k := apperr.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}
