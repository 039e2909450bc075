package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"delivery-service/internal/geo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatETA(t *testing.T) {
	assert.Equal(t, "1 min", FormatETA(20))
	assert.Equal(t, "2 mins", FormatETA(120))
	assert.Equal(t, "5 mins", FormatETA(290))
	assert.Equal(t, "1 hr", FormatETA(3600))
	assert.Equal(t, "1 hr 30 mins", FormatETA(5400))
}

func TestRouteParsesFirstLeg(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/route/v1/driving/")
		w.Write([]byte(`{
			"code": "Ok",
			"routes": [{
				"geometry": "_p~iF~ps|U_ulLnnqC",
				"duration": 900,
				"distance": 4000,
				"legs": [{"duration": 540, "distance": 3500}]
			}]
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0)
	est, err := c.Route(context.Background(), geo.Point{Lat: 12.9, Lng: 77.6}, geo.Point{Lat: 13.0, Lng: 77.7})
	require.NoError(t, err)

	assert.Equal(t, int64(540), est.ETASeconds)
	assert.Equal(t, "9 mins", est.ETAText)
	assert.Equal(t, "_p~iF~ps|U_ulLnnqC", est.Polyline)
	assert.Equal(t, 3500.0, est.DistanceM)
}

func TestRouteNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": "NoRoute", "routes": []}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0)
	_, err := c.Route(context.Background(), geo.Point{}, geo.Point{})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestRouteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0)
	_, err := c.Route(context.Background(), geo.Point{}, geo.Point{})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoRoute)
}
