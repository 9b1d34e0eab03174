package models

import (
	"time"

	"github.com/example/campus-rides/internal/community"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Place is a free-text location with optional coordinates.
type Place struct {
	Description string   `json:"description"`
	Lat         *float64 `json:"lat,omitempty"`
	Lon         *float64 `json:"lon,omitempty"`
}

// Coord returns the coordinates of p when both are set.
func (p Place) Coord() (Coord, bool) {
	if p.Lat == nil || p.Lon == nil {
		return Coord{}, false
	}
	return Coord{Lat: *p.Lat, Lon: *p.Lon}, true
}

// Departure is a window on a single day, in minutes after midnight.
type Departure struct {
	Date           string `json:"date"`
	EarliestMinute int    `json:"earliest_minute"`
	LatestMinute   int    `json:"latest_minute"`
}

type RideStatus string

const (
	RideActive    RideStatus = "active"
	RideFull      RideStatus = "full"
	RideCompleted RideStatus = "completed"
	RideCancelled RideStatus = "cancelled"
)

// Terminal reports whether no further lifecycle transitions are allowed.
func (s RideStatus) Terminal() bool { return s == RideCompleted || s == RideCancelled }

type ParticipantStatus string

const (
	ParticipantPending  ParticipantStatus = "pending"
	ParticipantJoined   ParticipantStatus = "joined"
	ParticipantApproved ParticipantStatus = "approved"
	ParticipantDeclined ParticipantStatus = "declined"
)

// Seated reports whether the participant occupies a seat.
func (s ParticipantStatus) Seated() bool { return s == ParticipantJoined || s == ParticipantApproved }

type Participant struct {
	Email    string            `json:"email"`
	HasCar   bool              `json:"has_car"`
	Status   ParticipantStatus `json:"status"`
	JoinedAt time.Time         `json:"joined_at"`
}

type RouteInfo struct {
	DistanceMeters  int     `json:"distance_meters"`
	DistanceMiles   float64 `json:"distance_miles"`
	DurationSeconds int     `json:"duration_seconds"`
	Polyline        string  `json:"polyline,omitempty"`
	Source          string  `json:"source"`
}

type PriceEstimate struct {
	Estimate        float64 `json:"estimate"`
	LowEstimate     float64 `json:"low_estimate"`
	HighEstimate    float64 `json:"high_estimate"`
	CurrencyCode    string  `json:"currency_code"`
	DisplayName     string  `json:"display_name,omitempty"`
	SurgeMultiplier float64 `json:"surge_multiplier"`
	Source          string  `json:"source"`
}

type Ride struct {
	ID              string           `json:"id"`
	Origin          Place            `json:"origin"`
	Destination     Place            `json:"destination"`
	Departure       Departure        `json:"departure"`
	Communities     []community.Name `json:"communities"`
	Creator         string           `json:"creator"`
	CreatorHasCar   bool             `json:"creator_has_car"`
	IsDriverRide    bool             `json:"is_driver_ride"`
	Participants    []Participant    `json:"participants"`
	UserIDs         []string         `json:"user_ids"`
	MaxParticipants int              `json:"max_participants"`
	Status          RideStatus       `json:"status"`
	Notes           string           `json:"notes,omitempty"`
	Route           *RouteInfo       `json:"route,omitempty"`
	Price           *PriceEstimate   `json:"price,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	Version         int64            `json:"version"`
}

// Participant returns the participant entry for email and its index, or
// nil and -1.
func (r *Ride) Participant(email string) (*Participant, int) {
	for i := range r.Participants {
		if r.Participants[i].Email == email {
			return &r.Participants[i], i
		}
	}
	return nil, -1
}

// IsMember reports whether email created the ride or has any participant
// entry, whatever its status.
func (r *Ride) IsMember(email string) bool {
	if r.Creator == email {
		return true
	}
	p, _ := r.Participant(email)
	return p != nil
}

// Seated reports whether email counts toward occupied seats.
func (r *Ride) Seated(email string) bool {
	for _, id := range r.UserIDs {
		if id == email {
			return true
		}
	}
	return false
}

// Members lists the creator followed by every participant other than the
// creator.
func (r *Ride) Members() []string {
	out := []string{r.Creator}
	for _, p := range r.Participants {
		if p.Email != r.Creator {
			out = append(out, p.Email)
		}
	}
	return out
}

// Clone returns a deep copy of r.
func (r *Ride) Clone() *Ride {
	c := *r
	c.Communities = append([]community.Name(nil), r.Communities...)
	c.Participants = append([]Participant(nil), r.Participants...)
	c.UserIDs = append([]string(nil), r.UserIDs...)
	if r.Route != nil {
		route := *r.Route
		c.Route = &route
	}
	if r.Price != nil {
		price := *r.Price
		c.Price = &price
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// Average is a running mean of integer scores.
type Average struct {
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

type RatingRole string

const (
	RoleDriver    RatingRole = "driver"
	RolePassenger RatingRole = "passenger"
)

func (r RatingRole) Valid() bool { return r == RoleDriver || r == RolePassenger }

// Rating is a single score event. It is folded into the rated user's
// Average and never stored on its own.
type Rating struct {
	RideID    string     `json:"ride_id"`
	RatedUser string     `json:"rated_user"`
	Rater     string     `json:"rater"`
	Role      RatingRole `json:"role"`
	Score     int        `json:"score"`
	Comment   string     `json:"comment,omitempty"`
}

type User struct {
	Email             string           `json:"email"`
	Name              string           `json:"name"`
	PasswordHash      string           `json:"password_hash,omitempty"`
	College           string           `json:"college"`
	University        UniversityRecord `json:"university_info"`
	Verified          bool             `json:"verified"`
	VerificationCode  string           `json:"verification_code,omitempty"`
	VerificationUntil *time.Time       `json:"verification_until,omitempty"`
	// VerificationTries counts wrong codes entered against the current code.
	VerificationTries int              `json:"verification_tries,omitempty"`
	ResetCode         string           `json:"reset_code,omitempty"`
	ResetUntil        *time.Time       `json:"reset_until,omitempty"`
	ResetTries        int              `json:"reset_tries,omitempty"`
	DriverRating      Average          `json:"driver_rating"`
	PassengerRating   Average          `json:"passenger_rating"`
	CreatedAt         time.Time        `json:"created_at"`
	Version           int64            `json:"version"`
}

// Reputation returns a pointer to the running average for role.
func (u *User) Reputation(role RatingRole) *Average {
	if role == RoleDriver {
		return &u.DriverRating
	}
	return &u.PassengerRating
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	c := *u
	if u.VerificationUntil != nil {
		at := *u.VerificationUntil
		c.VerificationUntil = &at
	}
	if u.ResetUntil != nil {
		at := *u.ResetUntil
		c.ResetUntil = &at
	}
	c.University = u.University.clone()
	return &c
}
