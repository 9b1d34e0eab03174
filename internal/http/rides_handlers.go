package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/example/campus-rides/internal/apperr"
	"github.com/example/campus-rides/internal/capacity"
	"github.com/example/campus-rides/internal/community"
	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/reputation"
	"github.com/example/campus-rides/internal/rides"
)

type placeRequest struct {
	Description string   `json:"description" validate:"required,max=200"`
	Lat         *float64 `json:"lat" validate:"omitempty,latitude"`
	Lon         *float64 `json:"lon" validate:"omitempty,longitude"`
}

func (p placeRequest) place() models.Place {
	return models.Place{Description: p.Description, Lat: p.Lat, Lon: p.Lon}
}

type createRideRequest struct {
	Origin          placeRequest `json:"origin"`
	Destination     placeRequest `json:"destination"`
	Date            string       `json:"date" validate:"required,datetime=2006-01-02"`
	EarliestMinute  int          `json:"earliest_minute" validate:"min=0,max=1439"`
	LatestMinute    int          `json:"latest_minute" validate:"min=0,max=1439"`
	Communities     []string     `json:"communities" validate:"max=20,dive,max=100"`
	MaxParticipants int          `json:"max_participants" validate:"min=0,max=20"`
	CreatorHasCar   bool         `json:"creator_has_car"`
	IsDriverRide    bool         `json:"is_driver_ride"`
	Notes           string       `json:"notes" validate:"max=500"`
}

type joinRequest struct {
	HasCar bool `json:"has_car"`
}

type ratingRequest struct {
	RatedUser string `json:"rated_user" validate:"required,email"`
	Role      string `json:"role" validate:"required,oneof=driver passenger"`
	Score     int    `json:"score" validate:"required,min=1,max=5"`
	Comment   string `json:"comment" validate:"max=500"`
}

// rideView adds the computed capacity to a ride.
type rideView struct {
	*models.Ride
	Capacity capacity.Capacity `json:"capacity"`
}

func viewRide(r *models.Ride) rideView {
	return rideView{Ride: r, Capacity: capacity.Of(r)}
}

func viewRides(list []*models.Ride) []rideView {
	out := make([]rideView, 0, len(list))
	for _, r := range list {
		out = append(out, viewRide(r))
	}
	return out
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var req createRideRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	ride, err := s.rides.Create(r.Context(), currentUser(r), rides.CreateRequest{
		Origin:      req.Origin.place(),
		Destination: req.Destination.place(),
		Departure: models.Departure{
			Date:           req.Date,
			EarliestMinute: req.EarliestMinute,
			LatestMinute:   req.LatestMinute,
		},
		Communities:     req.Communities,
		MaxParticipants: req.MaxParticipants,
		CreatorHasCar:   req.CreatorHasCar,
		IsDriverRide:    req.IsDriverRide,
		Notes:           req.Notes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewRide(ride))
}

func (s *Server) handleListRides(w http.ResponseWriter, r *http.Request) {
	f, err := listFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.rides.ListVisible(r.Context(), currentUser(r), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": viewRides(list)})
}

func listFilter(r *http.Request) (rides.ListFilter, error) {
	q := r.URL.Query()
	var f rides.ListFilter
	num := func(key string) (float64, bool, error) {
		v := strings.TrimSpace(q.Get(key))
		if v == "" {
			return 0, false, nil
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false, apperr.New(apperr.KindInvalidInput, "%s must be a number", key)
		}
		return n, true, nil
	}
	lat, hasLat, err := num("lat")
	if err != nil {
		return f, err
	}
	lon, hasLon, err := num("lon")
	if err != nil {
		return f, err
	}
	if hasLat != hasLon {
		return f, apperr.New(apperr.KindInvalidInput, "lat and lon must be given together")
	}
	if hasLat {
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return f, apperr.New(apperr.KindInvalidInput, "coordinates out of range")
		}
		f.Near = &models.Coord{Lat: lat, Lon: lon}
	}
	if f.RadiusKm, _, err = num("radius_km"); err != nil {
		return f, err
	}
	limit, _, err := num("limit")
	if err != nil {
		return f, err
	}
	f.Limit = int(limit)
	return f, nil
}

func (s *Server) handleListMine(w http.ResponseWriter, r *http.Request) {
	list, err := s.rides.ListMine(r.Context(), currentUser(r).Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": viewRides(list)})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.rides.View(r.Context(), mux.Vars(r)["id"], currentUser(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRide(ride))
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := s.decode(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.rides.Join(r.Context(), mux.Vars(r)["id"], currentUser(r), req.HasCar)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": res.Status, "ride": viewRide(res.Ride)})
}

func (s *Server) handleDecide(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		email := strings.ToLower(strings.TrimSpace(vars["email"]))
		ride, err := s.rides.Decide(r.Context(), vars["id"], currentUser(r).Email, email, approve)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewRide(ride))
	}
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	ride, err := s.rides.Leave(r.Context(), mux.Vars(r)["id"], currentUser(r).Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRide(ride))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	ride, err := s.rides.Complete(r.Context(), mux.Vars(r)["id"], currentUser(r).Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRide(ride))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ride, err := s.rides.Cancel(r.Context(), mux.Vars(r)["id"], currentUser(r).Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRide(ride))
}

func (s *Server) handleDeleteRide(w http.ResponseWriter, r *http.Request) {
	if err := s.rides.Delete(r.Context(), mux.Vars(r)["id"], currentUser(r).Email); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req []ratingRequest
	if err := s.decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	subs := make([]reputation.Submission, 0, len(req))
	for _, item := range req {
		if err := s.check(&item); err != nil {
			s.writeError(w, r, err)
			return
		}
		subs = append(subs, reputation.Submission{
			RatedUser: strings.ToLower(item.RatedUser),
			Role:      models.RatingRole(item.Role),
			Score:     item.Score,
			Comment:   item.Comment,
		})
	}
	ratings, err := s.ratings.Submit(r.Context(), mux.Vars(r)["id"], currentUser(r).Email, subs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ratings": ratings})
}

func (s *Server) handleCommunityStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "unavailable", Message: "community stats are not configured"})
		return
	}
	name, ok := community.Normalize(mux.Vars(r)["name"])
	if !ok {
		s.writeError(w, r, apperr.New(apperr.KindInvalidInput, "unknown community"))
		return
	}
	counts, err := s.stats.Community(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"community": name, "counts": counts})
}
