package university

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/campus-rides/internal/models"
)

type fakeDetector struct {
	mu        sync.Mutex
	detection Detection
	nearby    []models.NearbyUniversity
	err       error
	nearbyErr error
	calls     int
}

func (f *fakeDetector) Detect(ctx context.Context, domain string) (Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.detection, f.err
}

func (f *fakeDetector) Nearby(ctx context.Context, d Detection) ([]models.NearbyUniversity, error) {
	return f.nearby, f.nearbyErr
}

func (f *fakeDetector) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func quietLogger() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func chapman() Detection {
	return Detection{Valid: true, Name: "Chapman University", ShortName: "Chapman", City: "Orange", State: "CA", Country: "USA"}
}

func TestResolveRejectsNonEdu(t *testing.T) {
	r := NewResolver(&fakeDetector{}, nil, Options{Logger: quietLogger()})
	res := r.Resolve(context.Background(), "someone@gmail.com")
	assert.False(t, res.Valid)
	assert.Equal(t, "Only .edu email addresses are allowed", res.Error)
}

func TestResolveCachesAndFiltersNearby(t *testing.T) {
	det := &fakeDetector{
		detection: chapman(),
		nearby: []models.NearbyUniversity{
			{Name: "UC Irvine", ShortName: "UCI", DistanceMiles: 10},
			{Name: "UC San Diego", ShortName: "UCSD", DistanceMiles: 80},
			{Name: "Cal State Fullerton", ShortName: "CSUF", DistanceMiles: 15},
		},
	}
	r := NewResolver(det, nil, Options{Logger: quietLogger()})

	res := r.Resolve(context.Background(), "student@chapman.edu")
	require.True(t, res.Valid)
	assert.Equal(t, "Chapman University", res.College)
	info, ok := res.Info.(models.ResolvedUniversity)
	require.True(t, ok)
	require.Len(t, info.Nearby, 2)
	assert.Equal(t, "UCI", info.Nearby[0].ShortName)
	assert.Equal(t, "CSUF", info.Nearby[1].ShortName)

	again := r.Resolve(context.Background(), "other@CHAPMAN.edu")
	assert.True(t, again.Valid)
	assert.Equal(t, 1, det.Calls())
}

func TestResolveCacheExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := NewMemoryCache(7*24*time.Hour, func() time.Time { return now })
	det := &fakeDetector{detection: chapman()}
	r := NewResolver(det, cache, Options{Logger: quietLogger()})

	r.Resolve(context.Background(), "a@chapman.edu")
	now = now.Add(6 * 24 * time.Hour)
	r.Resolve(context.Background(), "a@chapman.edu")
	assert.Equal(t, 1, det.Calls())

	now = now.Add(2 * 24 * time.Hour)
	r.Resolve(context.Background(), "a@chapman.edu")
	assert.Equal(t, 2, det.Calls())
}

func TestResolveRejectedDomainUsesLegacyTable(t *testing.T) {
	det := &fakeDetector{detection: Detection{Valid: false, Error: "nope"}}
	r := NewResolver(det, nil, Options{Logger: quietLogger()})

	res := r.Resolve(context.Background(), "s@pomona.edu")
	require.True(t, res.Valid)
	assert.Equal(t, models.LegacyUniversity{Name: "Pomona College", ShortName: "Pomona"}, res.Info)

	res = r.Resolve(context.Background(), "s@nowhere.edu")
	assert.False(t, res.Valid)
	assert.Contains(t, res.Error, "Email domain not recognized")
}

func TestResolveIncompleteDetectionIsRejected(t *testing.T) {
	d := chapman()
	d.Country = ""
	r := NewResolver(&fakeDetector{detection: d}, nil, Options{Logger: quietLogger()})
	res := r.Resolve(context.Background(), "s@chapman.edu")
	assert.False(t, res.Valid)
}

func TestResolveDetectorFailureFallsBack(t *testing.T) {
	det := &fakeDetector{err: errors.New("boom")}
	r := NewResolver(det, nil, Options{Logger: quietLogger()})

	res := r.Resolve(context.Background(), "s@hmc.edu")
	require.True(t, res.Valid)
	assert.Equal(t, models.FallbackUniversity{Name: "Harvey Mudd College", ShortName: "Harvey"}, res.Info)

	res = r.Resolve(context.Background(), "s@chapman.edu")
	assert.False(t, res.Valid)
	assert.Equal(t, "University detection service temporarily unavailable. Please try again later.", res.Error)
}

func TestResolveWithoutDetector(t *testing.T) {
	r := NewResolver(nil, nil, Options{Logger: quietLogger()})
	res := r.Resolve(context.Background(), "s@andrew.cmu.edu")
	require.True(t, res.Valid)
	assert.Equal(t, models.SourceFallback, res.Info.Source())
}

func TestResolveNearbyFailureKeepsResolution(t *testing.T) {
	det := &fakeDetector{detection: chapman(), nearbyErr: errors.New("timeout")}
	r := NewResolver(det, nil, Options{Logger: quietLogger()})
	res := r.Resolve(context.Background(), "s@chapman.edu")
	require.True(t, res.Valid)
	info := res.Info.(models.ResolvedUniversity)
	assert.Empty(t, info.Nearby)
}

func TestRefreshBypassesCache(t *testing.T) {
	det := &fakeDetector{detection: chapman()}
	r := NewResolver(det, nil, Options{Logger: quietLogger()})
	r.Resolve(context.Background(), "s@chapman.edu")
	r.Refresh(context.Background(), "s@chapman.edu")
	assert.Equal(t, 2, det.Calls())
}
