// Package reputation folds post-ride ratings into per-user running
// averages, one for driving and one for riding.
package reputation

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/example/campus-rides/internal/apperr"
	"github.com/example/campus-rides/internal/events"
	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/observability"
	"github.com/example/campus-rides/internal/storage"
)

const (
	MinScore = 1
	MaxScore = 5
)

// Apply returns avg with score folded in, rounded to two decimals.
func Apply(avg models.Average, score int) (models.Average, error) {
	if score < MinScore || score > MaxScore {
		return avg, apperr.New(apperr.KindInvalidInput, "score must be between %d and %d", MinScore, MaxScore)
	}
	total := avg.Average*float64(avg.Count) + float64(score)
	n := avg.Count + 1
	return models.Average{Average: round2(total / float64(n)), Count: n}, nil
}

// Unapply removes one earlier score from avg. Rounding in Apply makes the
// result approximate to within a cent.
func Unapply(avg models.Average, score int) models.Average {
	if avg.Count <= 1 {
		return models.Average{}
	}
	total := avg.Average*float64(avg.Count) - float64(score)
	n := avg.Count - 1
	return models.Average{Average: round2(max(0, total) / float64(n)), Count: n}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// Submission is one rating inside a batch.
type Submission struct {
	RatedUser string
	Role      models.RatingRole
	Score     int
	Comment   string
}

type Service struct {
	rides  storage.RideStore
	users  storage.UserStore
	ledger storage.RatingLedger
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewService(rides storage.RideStore, users storage.UserStore, ledger storage.RatingLedger, pub events.Publisher, logger *slog.Logger) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{rides: rides, users: users, ledger: ledger, events: pub, logger: logger, now: time.Now}
}

// Submit records rater's ratings for a completed ride. The whole batch is
// validated before anything is written, and a write failure part way through
// rolls back the ratings already folded in. A (ride, rater, ratee, role)
// combination may be rated once.
func (s *Service) Submit(ctx context.Context, rideID, rater string, subs []Submission) ([]models.Rating, error) {
	if len(subs) == 0 {
		return nil, apperr.New(apperr.KindInvalidInput, "at least one rating is required")
	}
	r, err := s.rides.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.RideCompleted {
		return nil, apperr.New(apperr.KindInvalidState, "ratings open once the ride is completed")
	}
	if !rideMember(r, rater) {
		return nil, apperr.New(apperr.KindForbidden, "only ride members can rate")
	}

	keys := make([]storage.RatingKey, 0, len(subs))
	seen := make(map[storage.RatingKey]bool, len(subs))
	for i := range subs {
		sub := &subs[i]
		sub.RatedUser = strings.TrimSpace(sub.RatedUser)
		if err := validate(r, rater, *sub); err != nil {
			return nil, err
		}
		key := storage.RatingKey{RideID: rideID, Rater: rater, Ratee: sub.RatedUser, Role: sub.Role}
		if seen[key] {
			return nil, apperr.New(apperr.KindInvalidInput, "%s is rated twice as %s", sub.RatedUser, sub.Role)
		}
		seen[key] = true
		keys = append(keys, key)
	}

	for _, sub := range subs {
		if _, err := s.users.GetUser(ctx, sub.RatedUser); err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				return nil, apperr.New(apperr.KindNotFound, "%s no longer has an account", sub.RatedUser)
			}
			return nil, err
		}
	}

	for i, key := range keys {
		if err := s.ledger.Claim(ctx, key); err != nil {
			s.release(ctx, keys[:i])
			return nil, err
		}
	}

	out := make([]models.Rating, 0, len(subs))
	for _, sub := range subs {
		_, err := s.users.UpdateUser(ctx, sub.RatedUser, func(u *models.User) error {
			avg := u.Reputation(sub.Role)
			next, err := Apply(*avg, sub.Score)
			if err != nil {
				return err
			}
			*avg = next
			return nil
		})
		if err != nil {
			s.rollback(ctx, out)
			s.release(ctx, keys)
			return nil, err
		}
		out = append(out, models.Rating{RideID: rideID, RatedUser: sub.RatedUser, Rater: rater, Role: sub.Role, Score: sub.Score, Comment: sub.Comment})
	}
	for _, rt := range out {
		observability.RatingsSubmitted.WithLabelValues(string(rt.Role)).Inc()
	}

	recipients := make([]string, 0, len(out))
	for _, rt := range out {
		recipients = append(recipients, rt.RatedUser)
	}
	if err := s.events.Publish(ctx, events.Event{Type: events.RatingSubmitted, RideID: rideID, Actor: rater, Status: r.Status, Recipients: recipients, At: s.now().UTC()}); err != nil {
		s.logger.Warn("rating event publish failed", "ride_id", rideID, "err", err)
	}
	return out, nil
}

// rollback takes applied ratings back out of their ratees' averages.
func (s *Service) rollback(ctx context.Context, applied []models.Rating) {
	ctx = context.WithoutCancel(ctx)
	for _, rt := range applied {
		_, err := s.users.UpdateUser(ctx, rt.RatedUser, func(u *models.User) error {
			avg := u.Reputation(rt.Role)
			*avg = Unapply(*avg, rt.Score)
			return nil
		})
		if err != nil {
			s.logger.Error("rating rollback failed", "ride_id", rt.RideID, "ratee", rt.RatedUser, "role", rt.Role, "err", err)
		}
	}
}

func (s *Service) release(ctx context.Context, keys []storage.RatingKey) {
	for _, k := range keys {
		if err := s.ledger.Release(ctx, k); err != nil {
			s.logger.Error("rating key release failed", "ride_id", k.RideID, "rater", k.Rater, "err", err)
		}
	}
}

func validate(r *models.Ride, rater string, sub Submission) error {
	if !sub.Role.Valid() {
		return apperr.New(apperr.KindInvalidInput, "role must be driver or passenger")
	}
	if sub.Score < MinScore || sub.Score > MaxScore {
		return apperr.New(apperr.KindInvalidInput, "score must be between %d and %d", MinScore, MaxScore)
	}
	if sub.RatedUser == rater {
		return apperr.New(apperr.KindInvalidInput, "you cannot rate yourself")
	}
	if !rideMember(r, sub.RatedUser) {
		return apperr.New(apperr.KindNotMember, "%s was not on this ride", sub.RatedUser)
	}
	if sub.Role == models.RoleDriver && !drove(r, sub.RatedUser) {
		return apperr.New(apperr.KindInvalidInput, "%s did not drive on this ride", sub.RatedUser)
	}
	return nil
}

// rideMember reports whether email created r or held a seat on it.
func rideMember(r *models.Ride, email string) bool {
	if r.Creator == email {
		return true
	}
	p, _ := r.Participant(email)
	return p != nil && p.Status.Seated()
}

// drove reports whether email brought a car to r.
func drove(r *models.Ride, email string) bool {
	if email == r.Creator {
		return r.IsDriverRide || r.CreatorHasCar
	}
	p, _ := r.Participant(email)
	return p != nil && p.HasCar && p.Status.Seated()
}
