// Package capacity derives seat counts for a ride. It is the only place
// that decides whether a ride is full; all callers consume its results.
package capacity

import "github.com/example/campus-rides/internal/models"

// SeatsPerCar is the number of seats each reported car contributes.
const SeatsPerCar = 5

type Capacity struct {
	Available int  `json:"available"`
	Total     int  `json:"total"`
	CarBased  bool `json:"car_based"`
}

// Cars counts the cars on the ride: the creator's, when reported, plus one
// for every seated participant other than the creator who brings a car.
func Cars(r *models.Ride) int {
	cars := 0
	if r.CreatorHasCar {
		cars++
	}
	for _, p := range r.Participants {
		if p.Email == r.Creator {
			continue
		}
		if p.HasCar && p.Status.Seated() {
			cars++
		}
	}
	return cars
}

// Of computes the effective capacity of r. Without any car the declared
// maximum applies.
func Of(r *models.Ride) Capacity {
	c := Capacity{Total: r.MaxParticipants}
	if cars := Cars(r); cars > 0 {
		c.Total = cars * SeatsPerCar
		c.CarBased = true
	}
	c.Available = max(0, c.Total-Occupied(r))
	return c
}

// Occupied is the number of seated identities.
func Occupied(r *models.Ride) int { return len(r.UserIDs) }

// IsFull reports whether no seat is left.
func IsFull(r *models.Ride) bool { return Occupied(r) >= Of(r).Total }

// Status recomputes the lifecycle status of r from its occupancy. Terminal
// statuses are returned unchanged.
func Status(r *models.Ride) models.RideStatus {
	if r.Status.Terminal() {
		return r.Status
	}
	if IsFull(r) {
		return models.RideFull
	}
	return models.RideActive
}
