package capacity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/campus-rides/internal/models"
)

func ride(max int, creatorCar bool, parts ...models.Participant) *models.Ride {
	r := &models.Ride{Creator: "c@x.edu", CreatorHasCar: creatorCar, MaxParticipants: max, Status: models.RideActive}
	r.Participants = append([]models.Participant{{Email: "c@x.edu", HasCar: creatorCar, Status: models.ParticipantJoined}}, parts...)
	r.UserIDs = []string{"c@x.edu"}
	for _, p := range parts {
		if p.Status.Seated() {
			r.UserIDs = append(r.UserIDs, p.Email)
		}
	}
	return r
}

func TestFallsBackToMaxParticipantsWithoutCars(t *testing.T) {
	r := ride(4, false, models.Participant{Email: "a@x.edu", Status: models.ParticipantJoined})

	c := Of(r)
	assert.Equal(t, Capacity{Available: 2, Total: 4, CarBased: false}, c)
	assert.False(t, IsFull(r))
}

func TestCreatorCarMakesCapacityCarBased(t *testing.T) {
	r := ride(2, true)

	assert.Equal(t, Capacity{Available: 4, Total: SeatsPerCar, CarBased: true}, Of(r))
}

func TestOnlySeatedParticipantCarsCount(t *testing.T) {
	r := ride(3, false,
		models.Participant{Email: "a@x.edu", HasCar: true, Status: models.ParticipantJoined},
		models.Participant{Email: "b@x.edu", HasCar: true, Status: models.ParticipantPending},
		models.Participant{Email: "d@x.edu", HasCar: true, Status: models.ParticipantDeclined},
	)

	assert.Equal(t, 1, Cars(r))
	assert.Equal(t, Capacity{Available: 3, Total: 5, CarBased: true}, Of(r))
}

func TestCreatorEntryIsNotCountedTwice(t *testing.T) {
	r := ride(3, true)
	assert.Equal(t, 1, Cars(r))
}

func TestAvailableNeverNegative(t *testing.T) {
	r := ride(1, false,
		models.Participant{Email: "a@x.edu", Status: models.ParticipantJoined},
		models.Participant{Email: "b@x.edu", Status: models.ParticipantJoined},
	)
	assert.Equal(t, 0, Of(r).Available)
	assert.True(t, IsFull(r))
}

func TestStatusRecompute(t *testing.T) {
	r := ride(2, false)
	assert.Equal(t, models.RideActive, Status(r))

	r.UserIDs = append(r.UserIDs, "a@x.edu")
	assert.Equal(t, models.RideFull, Status(r))

	r.Status = models.RideCompleted
	assert.Equal(t, models.RideCompleted, Status(r))
	r.Status = models.RideCancelled
	assert.Equal(t, models.RideCancelled, Status(r))
}
