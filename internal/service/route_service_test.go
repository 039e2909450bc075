package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"delivery-service/internal/models"
	"delivery-service/internal/routing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func locationEvent(orderID string, lat, lng, prevLat, prevLng float64) *models.LocationUpdatedEvent {
	return &models.LocationUpdatedEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeLocationUpdated},
		OrderID:   orderID,
		Lat:       lat,
		Lng:       lng,
		PrevLat:   prevLat,
		PrevLng:   prevLng,
	}
}

func TestHandleLocationUpdateWritesETA(t *testing.T) {
	fs := newFakeStore()
	api := &fakeRouting{est: &routing.Estimate{ETASeconds: 540, ETAText: "9 mins", Polyline: "abc"}}
	rs := NewRouteService(fs, nil, api, 5*time.Second)

	fs.orders["o1"] = &models.Order{ID: "o1", AddressLat: coord(12.9716), AddressLng: coord(77.5946)}

	err := rs.HandleLocationUpdate(context.Background(), locationEvent("o1", 12.95, 77.58, 0, 0))
	require.NoError(t, err)

	assert.Equal(t, 1, api.callCount())
	order := fs.orders["o1"]
	assert.Equal(t, int64(540), order.ETASeconds.Int64)
	assert.Equal(t, "9 mins", order.ETAText.String)
	assert.Equal(t, "abc", order.RoutePolyline.String)
}

func TestHandleLocationUpdateSkipsUnchangedCoordinates(t *testing.T) {
	fs := newFakeStore()
	api := &fakeRouting{est: &routing.Estimate{}}
	rs := NewRouteService(fs, nil, api, 5*time.Second)

	fs.orders["o1"] = &models.Order{ID: "o1", AddressLat: coord(12.9716), AddressLng: coord(77.5946)}

	err := rs.HandleLocationUpdate(context.Background(), locationEvent("o1", 12.95, 77.58, 12.95, 77.58))
	require.NoError(t, err)
	assert.Equal(t, 0, api.callCount())
	assert.Zero(t, fs.touched["o1"])
}

func TestHandleLocationUpdateSkipsWithoutDestination(t *testing.T) {
	fs := newFakeStore()
	api := &fakeRouting{est: &routing.Estimate{}}
	rs := NewRouteService(fs, nil, api, 5*time.Second)

	fs.orders["o1"] = &models.Order{ID: "o1"}

	err := rs.HandleLocationUpdate(context.Background(), locationEvent("o1", 12.95, 77.58, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, api.callCount())
}

func TestHandleLocationUpdateZeroCoordinateDestination(t *testing.T) {
	fs := newFakeStore()
	api := &fakeRouting{est: &routing.Estimate{ETASeconds: 120, ETAText: "2 mins", Polyline: "xyz"}}
	rs := NewRouteService(fs, nil, api, 5*time.Second)

	// An explicit (0, 0) destination is a real location, not an absent one
	fs.orders["o1"] = &models.Order{ID: "o1", AddressLat: coord(0), AddressLng: coord(0)}

	err := rs.HandleLocationUpdate(context.Background(), locationEvent("o1", 0.01, 0.02, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, api.callCount())
	assert.Equal(t, int64(120), fs.orders["o1"].ETASeconds.Int64)
}

func TestHandleLocationUpdateThrottled(t *testing.T) {
	fs := newFakeStore()
	api := &fakeRouting{est: &routing.Estimate{ETASeconds: 540}}
	rs := NewRouteService(fs, nil, api, 5*time.Second)

	// A recompute happened a second ago
	fs.orders["o1"] = &models.Order{
		ID:                "o1",
		AddressLat:        coord(12.9716),
		AddressLng:        coord(77.5946),
		LastRouteUpdateAt: sql.NullTime{Time: time.Now().Add(-time.Second), Valid: true},
	}

	err := rs.HandleLocationUpdate(context.Background(), locationEvent("o1", 12.95, 77.58, 12.94, 77.57))
	require.NoError(t, err)

	// No upstream call, but the window timestamp still moved
	assert.Equal(t, 0, api.callCount())
	assert.Equal(t, 1, fs.touched["o1"])
	assert.False(t, fs.orders["o1"].ETASeconds.Valid)
}

func TestHandleLocationUpdateWindowExpired(t *testing.T) {
	fs := newFakeStore()
	api := &fakeRouting{est: &routing.Estimate{ETASeconds: 300, ETAText: "5 mins"}}
	rs := NewRouteService(fs, nil, api, 5*time.Second)

	fs.orders["o1"] = &models.Order{
		ID:                "o1",
		AddressLat:        coord(12.9716),
		AddressLng:        coord(77.5946),
		LastRouteUpdateAt: sql.NullTime{Time: time.Now().Add(-10 * time.Second), Valid: true},
	}

	err := rs.HandleLocationUpdate(context.Background(), locationEvent("o1", 12.95, 77.58, 12.94, 77.57))
	require.NoError(t, err)
	assert.Equal(t, 1, api.callCount())
	assert.Equal(t, int64(300), fs.orders["o1"].ETASeconds.Int64)
}

func TestSeedRouteDrawsInitialPath(t *testing.T) {
	fs := newFakeStore()
	api := &fakeRouting{est: &routing.Estimate{ETASeconds: 420, ETAText: "7 mins", Polyline: "seed"}}
	rs := NewRouteService(fs, nil, api, 5*time.Second)

	fs.orders["o1"] = &models.Order{ID: "o1", AddressLat: coord(12.9716), AddressLng: coord(77.5946)}
	fs.users["d1"] = &models.User{
		ID:   "d1",
		Role: models.RoleDelivery,
		Lat:  sql.NullFloat64{Float64: 12.95, Valid: true},
		Lng:  sql.NullFloat64{Float64: 77.58, Valid: true},
	}

	ev := &models.OrderAssignedEvent{OrderID: "o1", PartnerID: "d1"}
	require.NoError(t, rs.SeedRoute(context.Background(), ev))

	assert.Equal(t, 1, api.callCount())
	assert.Equal(t, "seed", fs.orders["o1"].RoutePolyline.String)
}

func TestSeedRouteKeepsExistingPolyline(t *testing.T) {
	fs := newFakeStore()
	api := &fakeRouting{est: &routing.Estimate{Polyline: "seed"}}
	rs := NewRouteService(fs, nil, api, 5*time.Second)

	fs.orders["o1"] = &models.Order{
		ID:            "o1",
		AddressLat:    coord(12.9716),
		AddressLng:    coord(77.5946),
		RoutePolyline: sql.NullString{String: "existing", Valid: true},
	}
	fs.users["d1"] = &models.User{ID: "d1", Role: models.RoleDelivery}

	ev := &models.OrderAssignedEvent{OrderID: "o1", PartnerID: "d1"}
	require.NoError(t, rs.SeedRoute(context.Background(), ev))

	assert.Equal(t, 0, api.callCount())
	assert.Equal(t, "existing", fs.orders["o1"].RoutePolyline.String)
}

func TestSeedRouteWaitsForPartnerLocation(t *testing.T) {
	fs := newFakeStore()
	api := &fakeRouting{est: &routing.Estimate{Polyline: "seed"}}
	rs := NewRouteService(fs, nil, api, 5*time.Second)

	fs.orders["o1"] = &models.Order{ID: "o1", AddressLat: coord(12.9716), AddressLng: coord(77.5946)}
	fs.users["d1"] = &models.User{ID: "d1", Role: models.RoleDelivery}

	ev := &models.OrderAssignedEvent{OrderID: "o1", PartnerID: "d1"}
	require.NoError(t, rs.SeedRoute(context.Background(), ev))
	assert.Equal(t, 0, api.callCount())
	assert.False(t, fs.orders["o1"].RoutePolyline.Valid)
}

func TestHandleLocationUpdateUpstreamFailure(t *testing.T) {
	fs := newFakeStore()
	api := &fakeRouting{err: errors.New("osrm unreachable")}
	rs := NewRouteService(fs, nil, api, 5*time.Second)

	fs.orders["o1"] = &models.Order{ID: "o1", AddressLat: coord(12.9716), AddressLng: coord(77.5946)}

	err := rs.HandleLocationUpdate(context.Background(), locationEvent("o1", 12.95, 77.58, 0, 0))
	require.NoError(t, err)

	// Nothing written, previous estimate stays; the window still refreshes
	assert.False(t, fs.orders["o1"].ETASeconds.Valid)
	assert.Equal(t, 1, fs.touched["o1"])
}
