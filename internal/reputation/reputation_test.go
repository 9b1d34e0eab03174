package reputation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/campus-rides/internal/apperr"
	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/storage"
)

func TestApplyRunningAverage(t *testing.T) {
	var avg models.Average
	var err error
	for _, s := range []int{4, 5, 3} {
		avg, err = Apply(avg, s)
		require.NoError(t, err)
	}
	assert.Equal(t, models.Average{Average: 4.00, Count: 3}, avg)

	avg, err = Apply(avg, 2)
	require.NoError(t, err)
	assert.Equal(t, models.Average{Average: 3.50, Count: 4}, avg)
}

func TestApplyRoundsToTwoDecimals(t *testing.T) {
	avg, err := Apply(models.Average{Average: 5, Count: 2}, 4)
	require.NoError(t, err)
	assert.Equal(t, 4.67, avg.Average)
}

func TestApplyRejectsOutOfRange(t *testing.T) {
	start := models.Average{Average: 3, Count: 1}
	for _, s := range []int{0, 6, -1} {
		got, err := Apply(start, s)
		assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
		assert.Equal(t, start, got)
	}
}

type fixture struct {
	svc   *Service
	store *storage.MemoryStore
}

func newFixture(t *testing.T, status models.RideStatus) fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	for _, email := range []string{"d@x.edu", "p@x.edu", "q@x.edu", "pending@x.edu"} {
		require.NoError(t, store.CreateUser(ctx, &models.User{Email: email}))
	}
	ride := &models.Ride{
		ID:            "r1",
		Creator:       "d@x.edu",
		CreatorHasCar: true,
		IsDriverRide:  true,
		Status:        status,
		Participants: []models.Participant{
			{Email: "d@x.edu", HasCar: true, Status: models.ParticipantJoined},
			{Email: "p@x.edu", Status: models.ParticipantJoined},
			{Email: "q@x.edu", Status: models.ParticipantApproved},
			{Email: "pending@x.edu", HasCar: true, Status: models.ParticipantPending},
		},
		UserIDs:   []string{"p@x.edu", "q@x.edu"},
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.CreateRide(ctx, ride))
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return fixture{svc: NewService(store, store, store, nil, logger), store: store}
}

func TestSubmitFoldsIntoRoleAverage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.RideCompleted)

	_, err := f.svc.Submit(ctx, "r1", "p@x.edu", []Submission{
		{RatedUser: "d@x.edu", Role: models.RoleDriver, Score: 5},
		{RatedUser: "q@x.edu", Role: models.RolePassenger, Score: 4},
	})
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, "r1", "q@x.edu", []Submission{{RatedUser: "d@x.edu", Role: models.RoleDriver, Score: 4}})
	require.NoError(t, err)

	d, _ := f.store.GetUser(ctx, "d@x.edu")
	assert.Equal(t, models.Average{Average: 4.5, Count: 2}, d.DriverRating)
	assert.Equal(t, models.Average{}, d.PassengerRating)
	q, _ := f.store.GetUser(ctx, "q@x.edu")
	assert.Equal(t, models.Average{Average: 4, Count: 1}, q.PassengerRating)
}

func TestSubmitRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.RideCompleted)
	sub := []Submission{{RatedUser: "d@x.edu", Role: models.RoleDriver, Score: 5}}

	_, err := f.svc.Submit(ctx, "r1", "p@x.edu", sub)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, "r1", "p@x.edu", sub)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	d, _ := f.store.GetUser(ctx, "d@x.edu")
	assert.Equal(t, 1, d.DriverRating.Count)

	_, err = f.svc.Submit(ctx, "r1", "p@x.edu", append(sub[:0:0], sub[0], sub[0]))
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}

func TestSubmitBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.RideCompleted)

	_, err := f.svc.Submit(ctx, "r1", "p@x.edu", []Submission{{RatedUser: "q@x.edu", Role: models.RolePassenger, Score: 3}})
	require.NoError(t, err)

	_, err = f.svc.Submit(ctx, "r1", "p@x.edu", []Submission{
		{RatedUser: "d@x.edu", Role: models.RoleDriver, Score: 5},
		{RatedUser: "q@x.edu", Role: models.RolePassenger, Score: 3},
	})
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	d, _ := f.store.GetUser(ctx, "d@x.edu")
	assert.Equal(t, 0, d.DriverRating.Count)
	_, err = f.svc.Submit(ctx, "r1", "p@x.edu", []Submission{{RatedUser: "d@x.edu", Role: models.RoleDriver, Score: 5}})
	assert.NoError(t, err, "claims from a failed batch are released")
}

func TestUnapplyInvertsApply(t *testing.T) {
	avg := models.Average{Average: 4, Count: 3}
	next, err := Apply(avg, 2)
	require.NoError(t, err)
	assert.Equal(t, avg, Unapply(next, 2))
	assert.Equal(t, models.Average{}, Unapply(models.Average{Average: 5, Count: 1}, 5))
}

// failingUsers fails every update for one ratee.
type failingUsers struct {
	*storage.MemoryStore
	failFor string
}

func (f failingUsers) UpdateUser(ctx context.Context, email string, fn func(*models.User) error) (*models.User, error) {
	if email == f.failFor {
		return nil, io.ErrUnexpectedEOF
	}
	return f.MemoryStore.UpdateUser(ctx, email, fn)
}

func TestSubmitRollsBackOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.RideCompleted)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc := NewService(f.store, failingUsers{MemoryStore: f.store, failFor: "q@x.edu"}, f.store, nil, logger)

	batch := []Submission{
		{RatedUser: "d@x.edu", Role: models.RoleDriver, Score: 5},
		{RatedUser: "q@x.edu", Role: models.RolePassenger, Score: 4},
	}
	out, err := svc.Submit(ctx, "r1", "p@x.edu", batch)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Empty(t, out)

	d, _ := f.store.GetUser(ctx, "d@x.edu")
	assert.Equal(t, models.Average{}, d.DriverRating, "earlier rating in the batch is undone")

	_, err = f.svc.Submit(ctx, "r1", "p@x.edu", batch)
	require.NoError(t, err, "every key of the failed batch is released")
	d, _ = f.store.GetUser(ctx, "d@x.edu")
	assert.Equal(t, models.Average{Average: 5, Count: 1}, d.DriverRating)
}

func TestSubmitRejectsClosedAccounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.RideCompleted)
	require.NoError(t, f.store.DeleteUser(ctx, "q@x.edu"))

	_, err := f.svc.Submit(ctx, "r1", "p@x.edu", []Submission{
		{RatedUser: "d@x.edu", Role: models.RoleDriver, Score: 5},
		{RatedUser: "q@x.edu", Role: models.RolePassenger, Score: 4},
	})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	d, _ := f.store.GetUser(ctx, "d@x.edu")
	assert.Zero(t, d.DriverRating.Count)
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, models.RideCompleted)
	cases := []struct {
		name  string
		rater string
		sub   Submission
		want  error
	}{
		{"self", "p@x.edu", Submission{RatedUser: "p@x.edu", Role: models.RolePassenger, Score: 3}, apperr.ErrInvalidInput},
		{"score", "p@x.edu", Submission{RatedUser: "d@x.edu", Role: models.RoleDriver, Score: 9}, apperr.ErrInvalidInput},
		{"role", "p@x.edu", Submission{RatedUser: "d@x.edu", Role: "pilot", Score: 3}, apperr.ErrInvalidInput},
		{"ratee not seated", "p@x.edu", Submission{RatedUser: "pending@x.edu", Role: models.RolePassenger, Score: 3}, apperr.ErrNotMember},
		{"rater not seated", "pending@x.edu", Submission{RatedUser: "d@x.edu", Role: models.RoleDriver, Score: 3}, apperr.ErrForbidden},
		{"passenger as driver", "d@x.edu", Submission{RatedUser: "p@x.edu", Role: models.RoleDriver, Score: 3}, apperr.ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Submit(ctx, "r1", tc.rater, []Submission{tc.sub})
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestSubmitRequiresCompletedRide(t *testing.T) {
	f := newFixture(t, models.RideActive)
	_, err := f.svc.Submit(context.Background(), "r1", "p@x.edu", []Submission{{RatedUser: "d@x.edu", Role: models.RoleDriver, Score: 5}})
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	_, err = f.svc.Submit(context.Background(), "nope", "p@x.edu", []Submission{{RatedUser: "d@x.edu", Role: models.RoleDriver, Score: 5}})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
