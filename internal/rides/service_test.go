package rides

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/campus-rides/internal/apperr"
	"github.com/example/campus-rides/internal/capacity"
	"github.com/example/campus-rides/internal/events"
	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/storage"
)

type fixture struct {
	svc   *Service
	store *storage.MemoryStore
	rec   *events.Recorder
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	rec := events.NewRecorder(256)
	var seq atomic.Int64
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	base := []Option{
		WithEvents(rec),
		WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
		WithClock(func() time.Time { return now }),
		WithIDGenerator(func() string { return fmt.Sprintf("ride-%d", seq.Add(1)) }),
	}
	return fixture{svc: NewService(store, append(base, opts...)...), store: store, rec: rec}
}

func student(email, college string) *models.User {
	return &models.User{Email: email, College: college}
}

func pomonaStudent(name string) *models.User { return student(name+"@pomona.edu", "Pomona College") }

func request(maxP int) CreateRequest {
	return CreateRequest{
		Origin:          models.Place{Description: "Pomona College"},
		Destination:     models.Place{Description: "LAX"},
		Departure:       models.Departure{Date: "2026-05-10", EarliestMinute: 8 * 60, LatestMinute: 9 * 60},
		MaxParticipants: maxP,
	}
}

func TestCreateInitialState(t *testing.T) {
	f := newFixture(t)
	creator := pomonaStudent("c")

	r, err := f.svc.Create(context.Background(), creator, request(4))
	require.NoError(t, err)
	assert.Equal(t, "ride-1", r.ID)
	assert.Equal(t, models.RideActive, r.Status)
	assert.Equal(t, []string{"c@pomona.edu"}, r.UserIDs)
	require.Len(t, r.Participants, 1)
	assert.Equal(t, models.ParticipantJoined, r.Participants[0].Status)
	assert.Equal(t, "Pomona", r.Communities[0].String())

	ev := f.rec.Drain()
	require.Len(t, ev, 1)
	assert.Equal(t, events.RideCreated, ev[0].Type)
}

func TestCreateDriverRideDoesNotSeatCreator(t *testing.T) {
	f := newFixture(t)
	req := request(4)
	req.IsDriverRide = true
	req.CreatorHasCar = true

	r, err := f.svc.Create(context.Background(), pomonaStudent("d"), req)
	require.NoError(t, err)
	assert.Empty(t, r.UserIDs)
	assert.Equal(t, capacity.Capacity{Available: 5, Total: 5, CarBased: true}, capacity.Of(r))
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]func(*CreateRequest){
		"no origin":     func(r *CreateRequest) { r.Origin.Description = " " },
		"bad date":      func(r *CreateRequest) { r.Departure.Date = "May 10" },
		"window order":  func(r *CreateRequest) { r.Departure.EarliestMinute = 600; r.Departure.LatestMinute = 500 },
		"window bounds": func(r *CreateRequest) { r.Departure.LatestMinute = 1440 },
		"too many":      func(r *CreateRequest) { r.MaxParticipants = 99 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := request(4)
			mutate(&req)
			_, err := f.svc.Create(context.Background(), pomonaStudent("c"), req)
			assert.True(t, errors.Is(err, apperr.ErrInvalidInput), err)
		})
	}
}

func TestCreateNormalizesCommunities(t *testing.T) {
	f := newFixture(t)
	req := request(4)
	req.Communities = []string{"pomona college", "Claremont Colleges", "unknown", "5c"}
	r, err := f.svc.Create(context.Background(), pomonaStudent("c"), req)
	require.NoError(t, err)
	require.Len(t, r.Communities, 2)
	assert.Equal(t, "Pomona", r.Communities[0].String())
	assert.Equal(t, "5C", r.Communities[1].String())
}

func TestJoinChecksInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r, err := f.svc.Create(ctx, pomonaStudent("c"), request(2))
	require.NoError(t, err)

	_, err = f.svc.Join(ctx, "missing", pomonaStudent("a"), false)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = f.svc.Join(ctx, r.ID, pomonaStudent("c"), false)
	assert.True(t, errors.Is(err, apperr.ErrAlreadyMember))

	_, err = f.svc.Join(ctx, r.ID, student("x@cmc.edu", "Claremont McKenna College"), false)
	assert.True(t, errors.Is(err, apperr.ErrCommunityMismatch))

	res, err := f.svc.Join(ctx, r.ID, pomonaStudent("a"), false)
	require.NoError(t, err)
	assert.False(t, res.Pending())
	assert.Equal(t, models.RideFull, res.Ride.Status)

	_, err = f.svc.Join(ctx, r.ID, student("x@cmc.edu", "Claremont McKenna College"), false)
	assert.True(t, errors.Is(err, apperr.ErrFull), "full is reported before community mismatch")

	_, err = f.svc.Cancel(ctx, r.ID, "c@pomona.edu")
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, r.ID, pomonaStudent("b"), false)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
}

func TestConcurrentJoinsNeverExceedCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r, err := f.svc.Create(ctx, pomonaStudent("c"), request(4))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var ok, full atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Join(ctx, r.ID, pomonaStudent(fmt.Sprintf("p%d", i)), false)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, apperr.ErrFull):
				full.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(3), ok.Load())
	assert.Equal(t, int32(7), full.Load())
	got, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, got.UserIDs, 4)
	assert.Equal(t, models.RideFull, got.Status)
}

func TestCarJoinRaisesCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r, err := f.svc.Create(ctx, pomonaStudent("c"), request(2))
	require.NoError(t, err)

	res, err := f.svc.Join(ctx, r.ID, pomonaStudent("a"), true)
	require.NoError(t, err)
	assert.Equal(t, capacity.Capacity{Available: 3, Total: 5, CarBased: true}, capacity.Of(res.Ride))
	assert.Equal(t, models.RideActive, res.Ride.Status)
}

func TestDriverRideApprovalFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := request(4)
	req.IsDriverRide = true
	req.CreatorHasCar = true
	r, err := f.svc.Create(ctx, pomonaStudent("d"), req)
	require.NoError(t, err)
	f.rec.Drain()

	res, err := f.svc.Join(ctx, r.ID, pomonaStudent("a"), false)
	require.NoError(t, err)
	assert.True(t, res.Pending())
	assert.Empty(t, res.Ride.UserIDs)
	ev := f.rec.Drain()
	require.Len(t, ev, 1)
	assert.Equal(t, events.JoinRequested, ev[0].Type)
	assert.Equal(t, []string{"d@pomona.edu"}, ev[0].Recipients)

	_, err = f.svc.Decide(ctx, r.ID, "a@pomona.edu", "a@pomona.edu", true)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	approved, err := f.svc.Decide(ctx, r.ID, "d@pomona.edu", "a@pomona.edu", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@pomona.edu"}, approved.UserIDs)
	p, _ := approved.Participant("a@pomona.edu")
	assert.Equal(t, models.ParticipantJoined, p.Status)

	_, err = f.svc.Decide(ctx, r.ID, "d@pomona.edu", "a@pomona.edu", false)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	_, err = f.svc.Join(ctx, r.ID, pomonaStudent("b"), false)
	require.NoError(t, err)
	declined, err := f.svc.Decide(ctx, r.ID, "d@pomona.edu", "b@pomona.edu", false)
	require.NoError(t, err)
	assert.Equal(t, 4, capacity.Of(declined).Available)
	p, _ = declined.Participant("b@pomona.edu")
	assert.Equal(t, models.ParticipantDeclined, p.Status)

	_, err = f.svc.Join(ctx, r.ID, pomonaStudent("b"), false)
	assert.True(t, errors.Is(err, apperr.ErrAlreadyMember), "declined users cannot re-request")

	_, err = f.svc.Decide(ctx, r.ID, "d@pomona.edu", "zed@pomona.edu", true)
	assert.True(t, errors.Is(err, apperr.ErrNotMember))
}

func TestApproveRechecksCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := request(1)
	req.IsDriverRide = true
	r, err := f.svc.Create(ctx, pomonaStudent("d"), req)
	require.NoError(t, err)

	_, err = f.svc.Join(ctx, r.ID, pomonaStudent("a"), false)
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, r.ID, pomonaStudent("b"), false)
	require.NoError(t, err)

	_, err = f.svc.Decide(ctx, r.ID, "d@pomona.edu", "a@pomona.edu", true)
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, r.ID, "d@pomona.edu", "b@pomona.edu", true)
	assert.True(t, errors.Is(err, apperr.ErrFull))
}

func TestLeave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r, err := f.svc.Create(ctx, pomonaStudent("c"), request(2))
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, r.ID, pomonaStudent("a"), false)
	require.NoError(t, err)

	_, err = f.svc.Leave(ctx, r.ID, "c@pomona.edu")
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
	assert.Contains(t, apperr.Message(err), "creator must delete, not leave")

	_, err = f.svc.Leave(ctx, r.ID, "nobody@pomona.edu")
	assert.True(t, errors.Is(err, apperr.ErrNotMember))

	left, err := f.svc.Leave(ctx, r.ID, "a@pomona.edu")
	require.NoError(t, err)
	assert.Equal(t, models.RideActive, left.Status, "full ride reopens when a seat frees")
	assert.Equal(t, []string{"c@pomona.edu"}, left.UserIDs)
	assert.False(t, left.IsMember("a@pomona.edu"))
}

func TestCarOwnerCannotStrandRiders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r, err := f.svc.Create(ctx, pomonaStudent("c"), request(2))
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, r.ID, pomonaStudent("car"), true)
	require.NoError(t, err)
	for _, name := range []string{"b", "d", "e"} {
		_, err = f.svc.Join(ctx, r.ID, pomonaStudent(name), false)
		require.NoError(t, err)
	}

	_, err = f.svc.Leave(ctx, r.ID, "car@pomona.edu")
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	assert.Contains(t, apperr.Message(err), "depend on your car")

	got, err := f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.Seated("car@pomona.edu"))
	assert.LessOrEqual(t, capacity.Occupied(got), capacity.Of(got).Total)

	err = f.svc.RemoveUser(ctx, "car@pomona.edu")
	assert.True(t, errors.Is(err, apperr.ErrConflict))
	got, err = f.svc.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.Seated("car@pomona.edu"), "account closure leaves the ride untouched")

	for _, name := range []string{"d", "e"} {
		_, err = f.svc.Leave(ctx, r.ID, name+"@pomona.edu")
		require.NoError(t, err)
	}
	left, err := f.svc.Leave(ctx, r.ID, "car@pomona.edu")
	require.NoError(t, err)
	assert.Equal(t, []string{"c@pomona.edu", "b@pomona.edu"}, left.UserIDs)
	assert.Equal(t, capacity.Capacity{Available: 0, Total: 2}, capacity.Of(left))
	assert.Equal(t, models.RideFull, left.Status)
}

func TestLastSeatedLeaveCancelsDriverRide(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := request(4)
	req.IsDriverRide = true
	req.CreatorHasCar = true
	r, err := f.svc.Create(ctx, pomonaStudent("d"), req)
	require.NoError(t, err)

	_, err = f.svc.Join(ctx, r.ID, pomonaStudent("pending"), false)
	require.NoError(t, err)
	withdrawn, err := f.svc.Leave(ctx, r.ID, "pending@pomona.edu")
	require.NoError(t, err)
	assert.Equal(t, models.RideActive, withdrawn.Status, "withdrawing a request does not cancel")

	_, err = f.svc.Join(ctx, r.ID, pomonaStudent("a"), false)
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, r.ID, "d@pomona.edu", "a@pomona.edu", true)
	require.NoError(t, err)

	left, err := f.svc.Leave(ctx, r.ID, "a@pomona.edu")
	require.NoError(t, err)
	assert.Equal(t, models.RideCancelled, left.Status)

	_, err = f.svc.Leave(ctx, r.ID, "a@pomona.edu")
	assert.True(t, errors.Is(err, apperr.ErrNotMember))
}

func TestLeaveNeverRevivesCompletedRide(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r, err := f.svc.Create(ctx, pomonaStudent("c"), request(3))
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, r.ID, pomonaStudent("a"), false)
	require.NoError(t, err)
	done, err := f.svc.Complete(ctx, r.ID, "c@pomona.edu")
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)

	_, err = f.svc.Leave(ctx, r.ID, "a@pomona.edu")
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
	got, _ := f.svc.Get(ctx, r.ID)
	assert.Equal(t, models.RideCompleted, got.Status)

	_, err = f.svc.Complete(ctx, r.ID, "c@pomona.edu")
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))
	_, err = f.svc.Cancel(ctx, r.ID, "a@pomona.edu")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r, err := f.svc.Create(ctx, pomonaStudent("c"), request(3))
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, r.ID, pomonaStudent("a"), false)
	require.NoError(t, err)

	assert.True(t, errors.Is(f.svc.Delete(ctx, r.ID, "a@pomona.edu"), apperr.ErrForbidden))
	assert.True(t, errors.Is(f.svc.Delete(ctx, r.ID, "c@pomona.edu"), apperr.ErrConflict))

	_, err = f.svc.Leave(ctx, r.ID, "a@pomona.edu")
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, r.ID, "c@pomona.edu"))
	_, err = f.svc.Get(ctx, r.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestDeleteAllowsPendingRequests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := request(3)
	req.IsDriverRide = true
	r, err := f.svc.Create(ctx, pomonaStudent("d"), req)
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, r.ID, pomonaStudent("a"), false)
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, r.ID, "d@pomona.edu"))
}

func TestListVisible(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pomona, err := f.svc.Create(ctx, pomonaStudent("c"), request(2))
	require.NoError(t, err)
	openReq := request(4)
	openReq.Communities = []string{"Open to all"}
	open, err := f.svc.Create(ctx, student("x@cmc.edu", "Claremont McKenna College"), openReq)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, student("y@cmc.edu", "Claremont McKenna College"), request(4))
	require.NoError(t, err)

	list, err := f.svc.ListVisible(ctx, pomonaStudent("v"), ListFilter{})
	require.NoError(t, err)
	ids := []string{}
	for _, r := range list {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{pomona.ID, open.ID}, ids)

	_, err = f.svc.Join(ctx, pomona.ID, pomonaStudent("a"), false)
	require.NoError(t, err)
	list, err = f.svc.ListVisible(ctx, pomonaStudent("v"), ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1, "full rides are hidden")
	assert.Equal(t, open.ID, list[0].ID)
}

func TestViewRequiresCommunityOrMembership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r, err := f.svc.Create(ctx, pomonaStudent("c"), request(3))
	require.NoError(t, err)

	got, err := f.svc.View(ctx, r.ID, pomonaStudent("v"))
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	outsider := student("x@cmc.edu", "Claremont McKenna College")
	_, err = f.svc.View(ctx, r.ID, outsider)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	_, err = f.svc.View(ctx, "missing", outsider)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	got, err = f.svc.View(ctx, r.ID, pomonaStudent("c"))
	require.NoError(t, err)
	assert.Equal(t, "c@pomona.edu", got.Creator)
}

func TestListVisibleNear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	lat, lon := 34.0975, -117.7131
	farLat, farLon := 34.1377, -118.1253

	near := request(4)
	near.Origin = models.Place{Description: "Pomona", Lat: &lat, Lon: &lon}
	far := request(4)
	far.Origin = models.Place{Description: "Caltech", Lat: &farLat, Lon: &farLon}
	nearRide, err := f.svc.Create(ctx, pomonaStudent("a"), near)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, pomonaStudent("b"), far)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, pomonaStudent("c"), request(4))
	require.NoError(t, err)

	list, err := f.svc.ListVisible(ctx, pomonaStudent("v"), ListFilter{Near: &models.Coord{Lat: lat, Lon: lon}, RadiusKm: 5})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, nearRide.ID, list[0].ID)
}

func TestRemoveUserCascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	own, err := f.svc.Create(ctx, pomonaStudent("gone"), request(3))
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, own.ID, pomonaStudent("a"), false)
	require.NoError(t, err)

	other, err := f.svc.Create(ctx, pomonaStudent("c"), request(3))
	require.NoError(t, err)
	_, err = f.svc.Join(ctx, other.ID, pomonaStudent("gone"), false)
	require.NoError(t, err)

	require.NoError(t, f.svc.RemoveUser(ctx, "gone@pomona.edu"))

	_, err = f.svc.Get(ctx, own.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	got, err := f.svc.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.False(t, got.IsMember("gone@pomona.edu"))
	assert.Equal(t, []string{"c@pomona.edu"}, got.UserIDs)

	mine, err := f.svc.ListMine(ctx, "gone@pomona.edu")
	require.NoError(t, err)
	assert.Empty(t, mine)
}

type fakeRoutes struct{ err error }

func (f fakeRoutes) Route(ctx context.Context, from, to models.Coord) (*models.RouteInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.RouteInfo{DistanceMeters: 1000, Source: "fake"}, nil
}

type slowPrices struct{}

func (slowPrices) Estimate(ctx context.Context, from, to models.Coord) (*models.PriceEstimate, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCreateEnrichmentDegradesToNil(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithEnricher(&Enricher{Routes: fakeRoutes{}, Prices: slowPrices{}, Timeout: 20 * time.Millisecond}))
	lat, lon := 34.0975, -117.7131
	req := request(4)
	req.Origin = models.Place{Description: "Pomona", Lat: &lat, Lon: &lon}
	req.Destination = models.Place{Description: "Ontario", Lat: &lat, Lon: &lon}

	r, err := f.svc.Create(ctx, pomonaStudent("c"), req)
	require.NoError(t, err)
	require.NotNil(t, r.Route)
	assert.Equal(t, 1000, r.Route.DistanceMeters)
	assert.Nil(t, r.Price)

	noCoords, err := f.svc.Create(ctx, pomonaStudent("c"), request(4))
	require.NoError(t, err)
	assert.Nil(t, noCoords.Route)
}
