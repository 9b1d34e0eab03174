package rides

import (
	"slices"
	"time"

	"github.com/example/campus-rides/internal/apperr"
	"github.com/example/campus-rides/internal/capacity"
	"github.com/example/campus-rides/internal/eligibility"
	"github.com/example/campus-rides/internal/models"
)

// The functions in this file are the ride state machine. They mutate the
// ride they are given and never perform I/O, so stores can run them inside a
// locked read-modify-write.

// admit adds u to r, pending on driver rides and seated otherwise.
func admit(r *models.Ride, u *models.User, hasCar bool, now time.Time) (models.ParticipantStatus, error) {
	if r.Status.Terminal() {
		return "", apperr.New(apperr.KindInvalidState, "ride is %s", r.Status)
	}
	if r.IsMember(u.Email) {
		return "", apperr.New(apperr.KindAlreadyMember, "already a member of this ride")
	}
	if capacity.IsFull(r) {
		return "", apperr.New(apperr.KindFull, "ride is full")
	}
	if !eligibility.Eligible(r, u) {
		return "", apperr.New(apperr.KindCommunityMismatch, "ride is not open to your community")
	}

	status := models.ParticipantJoined
	if r.IsDriverRide {
		status = models.ParticipantPending
	}
	r.Participants = append(r.Participants, models.Participant{Email: u.Email, HasCar: hasCar, Status: status, JoinedAt: now})
	if status.Seated() {
		r.UserIDs = append(r.UserIDs, u.Email)
	}
	r.Status = capacity.Status(r)
	return status, nil
}

// decide resolves a pending request on r. Only the creator may decide.
func decide(r *models.Ride, requester, email string, approve bool) error {
	if r.Creator != requester {
		return apperr.New(apperr.KindForbidden, "only the ride's driver can review requests")
	}
	if r.Status.Terminal() {
		return apperr.New(apperr.KindInvalidState, "ride is %s", r.Status)
	}
	p, _ := r.Participant(email)
	if p == nil || email == r.Creator {
		return apperr.New(apperr.KindNotMember, "%s has not requested to join", email)
	}
	if p.Status != models.ParticipantPending {
		return apperr.New(apperr.KindInvalidState, "request is already %s", p.Status)
	}
	if !approve {
		p.Status = models.ParticipantDeclined
		return nil
	}
	if capacity.IsFull(r) {
		return apperr.New(apperr.KindFull, "ride is full")
	}
	p.Status = models.ParticipantJoined
	r.UserIDs = append(r.UserIDs, email)
	r.Status = capacity.Status(r)
	return nil
}

// leave removes a non-creator member from r.
func leave(r *models.Ride, email string) error {
	if r.Creator == email {
		return apperr.New(apperr.KindInvalidState, "creator must delete, not leave")
	}
	if !r.IsMember(email) {
		return apperr.New(apperr.KindNotMember, "not a member of this ride")
	}
	if r.Status.Terminal() {
		return apperr.New(apperr.KindInvalidState, "ride is %s", r.Status)
	}
	if strands(r, email) {
		return errCarNeeded
	}
	depart(r, email)
	return nil
}

var errCarNeeded = apperr.New(apperr.KindConflict, "other riders depend on your car; they must leave first")

// strands reports whether removing email would leave more riders seated on
// an open ride than the remaining capacity allows.
func strands(r *models.Ride, email string) bool {
	if r.Status.Terminal() {
		return false
	}
	rest := r.Clone()
	drop(rest, email)
	return capacity.Occupied(rest) > capacity.Of(rest).Total
}

func drop(r *models.Ride, email string) {
	r.Participants = slices.DeleteFunc(r.Participants, func(p models.Participant) bool { return p.Email == email })
	r.UserIDs = slices.DeleteFunc(r.UserIDs, func(id string) bool { return id == email })
}

// depart drops every trace of email from r and recomputes status. A ride
// whose last seat empties is cancelled; withdrawing a pending request never
// cancels. Terminal rides keep their status.
func depart(r *models.Ride, email string) {
	seated := r.Seated(email)
	drop(r, email)
	if r.Status.Terminal() {
		return
	}
	if seated && len(r.UserIDs) == 0 {
		r.Status = models.RideCancelled
		return
	}
	r.Status = capacity.Status(r)
}

// terminate moves r to a terminal status on the creator's request.
func terminate(r *models.Ride, requester string, to models.RideStatus, now time.Time) error {
	if r.Creator != requester {
		return apperr.New(apperr.KindForbidden, "only the ride creator can do that")
	}
	if r.Status.Terminal() {
		return apperr.New(apperr.KindInvalidState, "ride is already %s", r.Status)
	}
	r.Status = to
	if to == models.RideCompleted {
		at := now
		r.CompletedAt = &at
	}
	return nil
}

// deletable checks that the requester may hard-delete r.
func deletable(r *models.Ride, requester string) error {
	if r.Creator != requester {
		return apperr.New(apperr.KindForbidden, "only the ride creator can delete it")
	}
	for _, id := range r.UserIDs {
		if id != r.Creator {
			return apperr.New(apperr.KindConflict, "other participants must leave before the ride can be deleted")
		}
	}
	return nil
}
