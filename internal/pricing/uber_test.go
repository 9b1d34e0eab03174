package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/campus-rides/internal/models"
)

func TestUberClientPicksRequestedProduct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1.2/estimates/price", r.URL.Path)
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		assert.Equal(t, "34.097500", r.URL.Query().Get("start_latitude"))
		_, _ = w.Write([]byte(`{"prices":[
			{"display_name":"Black","currency_code":"USD","low_estimate":40,"high_estimate":50},
			{"display_name":"Uber X","currency_code":"USD","low_estimate":12,"high_estimate":16,"surge_multiplier":1.2}
		]}`))
	}))
	defer srv.Close()

	c := NewUberClient("secret", true)
	c.BaseURL = srv.URL
	est, err := c.Estimate(context.Background(), models.Coord{Lat: 34.0975, Lon: -117.7131}, models.Coord{Lat: 34.056, Lon: -117.6})
	require.NoError(t, err)
	assert.Equal(t, "Uber X", est.DisplayName)
	assert.Equal(t, 14.0, est.Estimate)
	assert.Equal(t, 1.2, est.SurgeMultiplier)
	assert.Equal(t, "uber_api", est.Source)
}

func TestPickFallsBackToFirst(t *testing.T) {
	p, ok := pick([]uberPrice{{DisplayName: "Comfort"}, {DisplayName: "XL"}}, "uberX")
	require.True(t, ok)
	assert.Equal(t, "Comfort", p.DisplayName)

	_, ok = pick(nil, "uberX")
	assert.False(t, ok)
}

func TestFormatWithoutRange(t *testing.T) {
	est := format(uberPrice{DisplayName: "UberX", LowEstimate: 0, HighEstimate: 10})
	assert.Equal(t, 0.0, est.Estimate)
	assert.Equal(t, "USD", est.CurrencyCode)
	assert.Equal(t, 1.0, est.SurgeMultiplier)
}

func TestUberClientRequiresToken(t *testing.T) {
	_, err := NewUberClient("", true).Estimate(context.Background(), models.Coord{}, models.Coord{})
	assert.Error(t, err)
	assert.Equal(t, UberSandboxURL, NewUberClient("x", true).BaseURL)
	assert.Equal(t, UberProductionURL, NewUberClient("x", false).BaseURL)
}
