package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/example/campus-rides/internal/apperr"
	"github.com/example/campus-rides/internal/community"
	"github.com/example/campus-rides/internal/models"
)

// MemoryStore keeps rides, users and rating keys in process. Values are
// cloned on the way in and out so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	rides   map[string]*models.Ride
	users   map[string]*models.User
	ratings map[RatingKey]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:   make(map[string]*models.Ride),
		users:   make(map[string]*models.User),
		ratings: make(map[RatingKey]struct{}),
	}
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) CreateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return apperr.New(apperr.KindConflict, "ride %s already exists", r.ID)
	}
	c := r.Clone()
	c.Version = 1
	r.Version = 1
	m.rides[r.ID] = c
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, rideNotFound(id)
	}
	return r.Clone(), nil
}

func (m *MemoryStore) ListRides(ctx context.Context, f RideFilter) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Ride, 0, len(m.rides))
	for _, r := range m.rides {
		if matchesFilter(r, f) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateRide holds the store lock for the whole read-check-write, which
// serializes concurrent mutations of the same ride.
func (m *MemoryStore) UpdateRide(ctx context.Context, id string, fn func(*models.Ride) error) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[id]
	if !ok {
		return nil, rideNotFound(id)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = id
	next.Version = cur.Version + 1
	m.rides[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) DeleteRide(ctx context.Context, id string, fn func(*models.Ride) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[id]
	if !ok {
		return rideNotFound(id)
	}
	if fn != nil {
		if err := fn(cur.Clone()); err != nil {
			return err
		}
	}
	delete(m.rides, id)
	return nil
}

func (m *MemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Email]; ok {
		return apperr.New(apperr.KindConflict, "user %s already exists", u.Email)
	}
	c := u.Clone()
	c.Version = 1
	u.Version = 1
	m.users[u.Email] = c
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[email]
	if !ok {
		return nil, userNotFound(email)
	}
	return u.Clone(), nil
}

func (m *MemoryStore) UpdateUser(ctx context.Context, email string, fn func(*models.User) error) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[email]
	if !ok {
		return nil, userNotFound(email)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Email = email
	next.Version = cur.Version + 1
	m.users[email] = next
	return next.Clone(), nil
}

func (m *MemoryStore) DeleteUser(ctx context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[email]; !ok {
		return userNotFound(email)
	}
	delete(m.users, email)
	return nil
}

func (m *MemoryStore) Claim(ctx context.Context, key RatingKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ratings[key]; ok {
		return apperr.New(apperr.KindConflict, "%s already rated %s as %s on ride %s", key.Rater, key.Ratee, key.Role, key.RideID)
	}
	m.ratings[key] = struct{}{}
	return nil
}

func (m *MemoryStore) Release(ctx context.Context, key RatingKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ratings, key)
	return nil
}

func matchesFilter(r *models.Ride, f RideFilter) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Member != "" && !r.IsMember(f.Member) {
		return false
	}
	if len(f.Communities) > 0 {
		listed := community.Strings(r.Communities)
		for _, want := range f.Communities {
			for _, have := range listed {
				if want == have {
					return true
				}
			}
		}
		return false
	}
	return true
}

func rideNotFound(id string) error {
	return apperr.New(apperr.KindNotFound, "ride %s not found", id)
}

func userNotFound(email string) error {
	return apperr.New(apperr.KindNotFound, "user %s not found", email)
}
