package storage

import (
	"context"

	"github.com/example/campus-rides/internal/models"
)

// RideStore persists rides. UpdateRide and DeleteRide run fn against the
// current stored state as one atomic read-check-write keyed by ride id: two
// concurrent calls on the same ride never both observe the same version.
// fn must not block or call out of process.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	ListRides(ctx context.Context, f RideFilter) ([]*models.Ride, error)
	UpdateRide(ctx context.Context, id string, fn func(*models.Ride) error) (*models.Ride, error)
	DeleteRide(ctx context.Context, id string, fn func(*models.Ride) error) error
}

// RideFilter narrows ListRides. Zero fields do not filter. Communities
// matches rides listing any of the given names.
type RideFilter struct {
	Status      models.RideStatus
	Communities []string
	Member      string
}

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, email string, fn func(*models.User) error) (*models.User, error)
	DeleteUser(ctx context.Context, email string) error
}

// RatingKey identifies one rating submission for duplicate detection.
type RatingKey struct {
	RideID string
	Rater  string
	Ratee  string
	Role   models.RatingRole
}

// RatingLedger remembers which rating submissions were already applied.
// Claim fails with a conflict error when key was claimed before.
type RatingLedger interface {
	Claim(ctx context.Context, key RatingKey) error
	Release(ctx context.Context, key RatingKey) error
}

// Pinger is implemented by stores with a backing connection.
type Pinger interface {
	Ping(ctx context.Context) error
}
