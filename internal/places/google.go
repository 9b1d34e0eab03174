// Package places looks up addresses through the Google Places web service so
// ride origins and destinations can carry coordinates.
package places

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/campus-rides/internal/apperr"
	"github.com/example/campus-rides/internal/models"
	"github.com/example/campus-rides/internal/observability"
)

const (
	GoogleEndpoint = "https://maps.googleapis.com/maps/api/place"
	// MinQueryLength is the shortest input worth sending upstream.
	MinQueryLength = 2
)

type Suggestion struct {
	PlaceID     string `json:"place_id"`
	Description string `json:"description"`
}

type Details struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Location    *models.Coord `json:"location,omitempty"`
}

// Client calls the Places autocomplete and details endpoints.
type Client struct {
	APIKey   string
	Endpoint string
	// Country restricts autocomplete, e.g. "us". Empty means worldwide.
	Country string
	Client  *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{APIKey: apiKey, Endpoint: GoogleEndpoint, Country: "us", Client: &http.Client{Timeout: 3 * time.Second}}
}

// Autocomplete returns suggestions for a partial address. Inputs shorter
// than MinQueryLength return no suggestions without a call.
func (c *Client) Autocomplete(ctx context.Context, input string) ([]Suggestion, error) {
	input = strings.TrimSpace(input)
	if len([]rune(input)) < MinQueryLength {
		return []Suggestion{}, nil
	}
	q := url.Values{"input": {input}, "types": {"establishment|geocode"}}
	if c.Country != "" {
		q.Set("components", "country:"+c.Country)
	}
	var out struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
		Predictions  []struct {
			PlaceID     string `json:"place_id"`
			Description string `json:"description"`
		} `json:"predictions"`
	}
	if err := c.get(ctx, "autocomplete", q, &out); err != nil {
		return nil, err
	}
	switch out.Status {
	case "OK":
	case "ZERO_RESULTS":
		return []Suggestion{}, nil
	default:
		return nil, fmt.Errorf("places autocomplete status %s: %s", out.Status, out.ErrorMessage)
	}
	list := make([]Suggestion, 0, len(out.Predictions))
	for _, p := range out.Predictions {
		list = append(list, Suggestion{PlaceID: p.PlaceID, Description: p.Description})
	}
	return list, nil
}

// Details resolves a place id to its name, address and coordinates.
func (c *Client) Details(ctx context.Context, placeID string) (*Details, error) {
	placeID = strings.TrimSpace(placeID)
	if placeID == "" {
		return nil, apperr.New(apperr.KindInvalidInput, "place_id is required")
	}
	q := url.Values{"place_id": {placeID}, "fields": {"geometry,name,formatted_address"}}
	var out struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
		Result       *struct {
			Name             string `json:"name"`
			FormattedAddress string `json:"formatted_address"`
			Geometry         *struct {
				Location *struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
			} `json:"geometry"`
		} `json:"result"`
	}
	if err := c.get(ctx, "details", q, &out); err != nil {
		return nil, err
	}
	switch out.Status {
	case "OK":
	case "NOT_FOUND", "ZERO_RESULTS", "INVALID_REQUEST":
		return nil, apperr.New(apperr.KindNotFound, "place not found")
	default:
		return nil, fmt.Errorf("places details status %s: %s", out.Status, out.ErrorMessage)
	}
	if out.Result == nil {
		return nil, apperr.New(apperr.KindNotFound, "place not found")
	}
	d := &Details{Name: out.Result.Name, Description: out.Result.FormattedAddress}
	if g := out.Result.Geometry; g != nil && g.Location != nil {
		d.Location = &models.Coord{Lat: g.Location.Lat, Lon: g.Location.Lng}
	}
	return d, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, dst any) (err error) {
	if c.APIKey == "" {
		return fmt.Errorf("google places api key not configured")
	}
	start := time.Now()
	defer func() {
		observability.ExternalCallDuration.WithLabelValues("places_"+path, observability.Outcome(err)).Observe(time.Since(start).Seconds())
	}()
	q.Set("key", c.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.Endpoint, "/")+"/"+path+"/json?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("google places status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
