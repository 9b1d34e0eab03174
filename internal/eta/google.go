package eta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/campus-rides/internal/models"
)

const GoogleRoutesEndpoint = "https://routes.googleapis.com/directions/v2:computeRoutes"

// GoogleRoutesClient calls the Google Routes computeRoutes API.
type GoogleRoutesClient struct {
	APIKey   string
	Endpoint string
	Client   *http.Client
}

func NewGoogleRoutesClient(apiKey string) *GoogleRoutesClient {
	return &GoogleRoutesClient{APIKey: apiKey, Endpoint: GoogleRoutesEndpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type waypoint struct {
	Location struct {
		LatLng latLng `json:"latLng"`
	} `json:"location"`
}

func point(c models.Coord) waypoint {
	var w waypoint
	w.Location.LatLng = latLng{Latitude: c.Lat, Longitude: c.Lon}
	return w
}

func (g *GoogleRoutesClient) Route(ctx context.Context, from, to models.Coord) (*models.RouteInfo, error) {
	if g.APIKey == "" {
		return nil, fmt.Errorf("google routes api key not configured")
	}
	body, err := json.Marshal(map[string]any{
		"origin":            point(from),
		"destination":       point(to),
		"travelMode":        "DRIVE",
		"polylineQuality":   "OVERVIEW",
		"routingPreference": "TRAFFIC_AWARE",
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", g.APIKey)
	req.Header.Set("X-Goog-FieldMask", "routes.duration,routes.distanceMeters,routes.polyline")

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("google routes status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out struct {
		Routes []struct {
			Duration       string `json:"duration"`
			DistanceMeters int    `json:"distanceMeters"`
			Polyline       struct {
				EncodedPolyline string `json:"encodedPolyline"`
			} `json:"polyline"`
		} `json:"routes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Routes) == 0 {
		return nil, fmt.Errorf("google routes: no route")
	}
	r := out.Routes[0]
	return &models.RouteInfo{
		DistanceMeters:  r.DistanceMeters,
		DistanceMiles:   float64(r.DistanceMeters) / metersPerMile,
		DurationSeconds: parseSeconds(r.Duration),
		Polyline:        r.Polyline.EncodedPolyline,
		Source:          "google_routes_api",
	}, nil
}

// parseSeconds reads durations like "1234s"; anything else is zero.
func parseSeconds(v string) int {
	s, ok := strings.CutSuffix(v, "s")
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return int(f)
}
