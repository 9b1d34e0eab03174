// Package pricing fetches rideshare fare estimates shown next to a ride.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/campus-rides/internal/models"
)

const (
	UberSandboxURL    = "https://sandbox-api.uber.com"
	UberProductionURL = "https://api.uber.com"
	DefaultProduct    = "uberX"
)

// Client is the interface used by ride enrichment to price a trip.
type Client interface {
	Estimate(ctx context.Context, from, to models.Coord) (*models.PriceEstimate, error)
}

// UberClient calls the Uber price estimates endpoint.
type UberClient struct {
	Token   string
	BaseURL string
	Product string
	Client  *http.Client
}

func NewUberClient(token string, sandbox bool) *UberClient {
	base := UberProductionURL
	if sandbox {
		base = UberSandboxURL
	}
	return &UberClient{Token: token, BaseURL: base, Product: DefaultProduct, Client: &http.Client{Timeout: 3 * time.Second}}
}

type uberPrice struct {
	DisplayName     string  `json:"display_name"`
	CurrencyCode    string  `json:"currency_code"`
	LowEstimate     float64 `json:"low_estimate"`
	HighEstimate    float64 `json:"high_estimate"`
	SurgeMultiplier float64 `json:"surge_multiplier"`
}

func (u *UberClient) Estimate(ctx context.Context, from, to models.Coord) (*models.PriceEstimate, error) {
	if u.Token == "" {
		return nil, fmt.Errorf("uber server token not configured")
	}
	q := url.Values{}
	q.Set("start_latitude", strconv.FormatFloat(from.Lat, 'f', 6, 64))
	q.Set("start_longitude", strconv.FormatFloat(from.Lon, 'f', 6, 64))
	q.Set("end_latitude", strconv.FormatFloat(to.Lat, 'f', 6, 64))
	q.Set("end_longitude", strconv.FormatFloat(to.Lon, 'f', 6, 64))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(u.BaseURL, "/")+"/v1.2/estimates/price?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+u.Token)
	req.Header.Set("Accept-Language", "en_US")

	resp, err := u.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("uber estimates status %d", resp.StatusCode)
	}
	var out struct {
		Prices []uberPrice `json:"prices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	p, ok := pick(out.Prices, u.Product)
	if !ok {
		return nil, fmt.Errorf("uber estimates: no products")
	}
	return format(p), nil
}

// pick returns the product whose display name matches product ignoring case
// and spaces, else the first product.
func pick(prices []uberPrice, product string) (uberPrice, bool) {
	want := strings.ToLower(product)
	for _, p := range prices {
		if strings.ReplaceAll(strings.ToLower(p.DisplayName), " ", "") == want {
			return p, true
		}
	}
	if len(prices) > 0 {
		return prices[0], true
	}
	return uberPrice{}, false
}

func format(p uberPrice) *models.PriceEstimate {
	est := &models.PriceEstimate{
		LowEstimate:     p.LowEstimate,
		HighEstimate:    p.HighEstimate,
		CurrencyCode:    p.CurrencyCode,
		DisplayName:     p.DisplayName,
		SurgeMultiplier: p.SurgeMultiplier,
		Source:          "uber_api",
	}
	if p.LowEstimate > 0 && p.HighEstimate > 0 {
		est.Estimate = (p.LowEstimate + p.HighEstimate) / 2
	}
	if est.CurrencyCode == "" {
		est.CurrencyCode = "USD"
	}
	if est.SurgeMultiplier == 0 {
		est.SurgeMultiplier = 1
	}
	return est
}
