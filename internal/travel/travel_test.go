package travel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewroute/internal/model"
)

func TestHaversineMeters(t *testing.T) {
	a := model.GeoPoint{Lat: 40.0, Lng: -105.0}
	b := model.GeoPoint{Lat: 40.1, Lng: -105.0}
	// 0.1 degrees of latitude is roughly 11.1 km
	assert.InDelta(t, 11120, HaversineMeters(a, b), 50)
	assert.Equal(t, 0.0, HaversineMeters(a, a))
	assert.InDelta(t, HaversineMeters(a, b), HaversineMeters(b, a), 0.001)
}

func TestStraightLineLegs(t *testing.T) {
	p := NewStraightLine(40)
	points := []model.GeoPoint{
		{Lat: 40.0, Lng: -105.0},
		{Lat: 40.1, Lng: -105.0},
		{Lat: 40.0, Lng: -105.0},
	}
	est, err := p.Route(context.Background(), points)
	require.NoError(t, err)
	require.Len(t, est.Legs, 2)
	// ~11.1 km at 40 km/h is ~16.7 minutes per leg
	assert.InDelta(t, 16.7, est.Legs[0].DurationMinutes, 0.2)
	assert.InDelta(t, est.Legs[0].DurationMinutes, est.Legs[1].DurationMinutes, 0.001)
	assert.InDelta(t, est.Legs[0].DurationMinutes+est.Legs[1].DurationMinutes, est.TotalDurationMinutes, 0.001)
}

func TestStraightLineDefaultsSpeed(t *testing.T) {
	p := NewStraightLine(0)
	assert.Equal(t, 40.0, p.SpeedKph)
}

func TestHTTPProviderParsesOSRMResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/route/v1/driving/") {
			w.WriteHeader(404)
			return
		}
		fmt.Fprint(w, `{"code":"Ok","routes":[{"duration":1200,"distance":15000,
			"legs":[{"duration":700,"distance":9000},{"duration":500,"distance":6000}]}]}`)
	}))
	defer srv.Close()

	p := NewHTTPProvider(HTTPOptions{Endpoint: srv.URL})
	points := []model.GeoPoint{
		{Lat: 40.0, Lng: -105.0},
		{Lat: 40.1, Lng: -105.0},
		{Lat: 40.2, Lng: -105.0},
	}
	est, err := p.Route(context.Background(), points)
	require.NoError(t, err)
	require.Len(t, est.Legs, 2)
	assert.InDelta(t, 20, est.TotalDurationMinutes, 0.001)
	assert.InDelta(t, 15000, est.TotalDistanceMeters, 0.001)
	assert.InDelta(t, 700.0/60, est.Legs[0].DurationMinutes, 0.001)
}

func TestHTTPProviderWrapsFailures(t *testing.T) {
	var pe *model.ProviderError

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()
	p := NewHTTPProvider(HTTPOptions{Endpoint: srv.URL})
	_, err := p.Route(context.Background(), []model.GeoPoint{{Lat: 40, Lng: -105}, {Lat: 40.1, Lng: -105}})
	require.Error(t, err)
	assert.True(t, errors.As(err, &pe))

	// a NoRoute answer is a provider failure too
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"NoRoute","routes":[]}`)
	}))
	defer srv2.Close()
	p2 := NewHTTPProvider(HTTPOptions{Endpoint: srv2.URL})
	_, err = p2.Route(context.Background(), []model.GeoPoint{{Lat: 40, Lng: -105}, {Lat: 40.1, Lng: -105}})
	require.Error(t, err)
	assert.True(t, errors.As(err, &pe))

	// a leg-count mismatch never reaches the caller as a valid estimate
	srv3 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"Ok","routes":[{"duration":60,"distance":800,"legs":[{"duration":60,"distance":800}]}]}`)
	}))
	defer srv3.Close()
	p3 := NewHTTPProvider(HTTPOptions{Endpoint: srv3.URL})
	_, err = p3.Route(context.Background(), []model.GeoPoint{{Lat: 40, Lng: -105}, {Lat: 40.1, Lng: -105}, {Lat: 40.2, Lng: -105}})
	require.Error(t, err)
	assert.True(t, errors.As(err, &pe))
}

func TestHTTPProviderShortInput(t *testing.T) {
	p := NewHTTPProvider(HTTPOptions{Endpoint: "http://unused.invalid"})
	est, err := p.Route(context.Background(), []model.GeoPoint{{Lat: 40, Lng: -105}})
	require.NoError(t, err)
	assert.Empty(t, est.Legs)
}
