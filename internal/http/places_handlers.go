package httpapi

import (
	"context"
	"net/http"

	"github.com/example/campus-rides/internal/apperr"
	"github.com/example/campus-rides/internal/places"
)

// PlaceFinder looks up addresses for ride origins and destinations.
type PlaceFinder interface {
	Autocomplete(ctx context.Context, input string) ([]places.Suggestion, error)
	Details(ctx context.Context, placeID string) (*places.Details, error)
}

// handleAutocomplete answers with an empty list when the lookup fails.
func (s *Server) handleAutocomplete(w http.ResponseWriter, r *http.Request) {
	if s.places == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "unavailable", Message: "place search is not configured"})
		return
	}
	list, err := s.places.Autocomplete(r.Context(), r.URL.Query().Get("input"))
	if err != nil {
		s.logger.Warn("place autocomplete failed", "err", err, "request_id", requestIDFromContext(r.Context()))
		list = []places.Suggestion{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": list})
}

func (s *Server) handlePlaceDetails(w http.ResponseWriter, r *http.Request) {
	if s.places == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "unavailable", Message: "place search is not configured"})
		return
	}
	d, err := s.places.Details(r.Context(), r.URL.Query().Get("place_id"))
	if err != nil {
		if apperr.KindOf(err) != "" {
			s.writeError(w, r, err)
			return
		}
		s.logger.Warn("place details failed", "err", err, "request_id", requestIDFromContext(r.Context()))
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "upstream", Message: "place lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, d)
}
