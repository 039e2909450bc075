package service

import (
	"context"
	"time"

	"delivery-service/internal/geo"
	"delivery-service/internal/models"
	"delivery-service/internal/redisclient"
	"delivery-service/internal/routing"
	"delivery-service/internal/util"

	"go.uber.org/zap"
)

// routeOrderStore is the slice of the order store the estimator writes to.
type routeOrderStore interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateOrderRoute(ctx context.Context, orderID, encodedPolyline string) error
	UpdateOrderETA(ctx context.Context, orderID string, etaSeconds int64, etaText, polyline string) error
	TouchRouteUpdateTime(ctx context.Context, orderID string) error
}

// directionsAPI is the third-party routing service.
type directionsAPI interface {
	Route(ctx context.Context, origin, destination geo.Point) (*routing.Estimate, error)
}

// RouteService recomputes an order's ETA when its partner moves. The
// estimate is derived state: on any upstream failure nothing is written and
// the previous ETA stays stale rather than wrong.
type RouteService struct {
	store    routeOrderStore
	redis    *redisclient.Client
	routing  directionsAPI
	throttle time.Duration
	logger   *zap.Logger
}

// NewRouteService creates a new route estimator
func NewRouteService(store routeOrderStore, redis *redisclient.Client, api directionsAPI, throttle time.Duration) *RouteService {
	if throttle == 0 {
		throttle = 5 * time.Second
	}
	return &RouteService{
		store:    store,
		redis:    redis,
		routing:  api,
		throttle: throttle,
		logger:   util.GetLogger(),
	}
}

// HandleLocationUpdate runs the guarded, throttled recompute for one
// location ping.
func (rs *RouteService) HandleLocationUpdate(ctx context.Context, ev *models.LocationUpdatedEvent) error {
	ctx, span := util.StartSpan(ctx, "RouteService.HandleLocationUpdate")
	defer span.End()

	// Unchanged coordinates mean the write touched unrelated fields
	if ev.Lat == ev.PrevLat && ev.Lng == ev.PrevLng {
		return nil
	}

	order, err := rs.store.GetOrderByID(ctx, ev.OrderID)
	if err != nil {
		return err
	}

	// No destination, nothing to estimate against
	if !order.AddressLat.Valid || !order.AddressLng.Valid {
		return nil
	}

	if rs.throttled(ctx, order) {
		util.RoutingThrottledTotal.Inc()
		// The window timestamp still moves so a ping storm cannot queue up
		// recomputes for later.
		if err := rs.store.TouchRouteUpdateTime(ctx, ev.OrderID); err != nil {
			rs.logger.Warn("Failed to refresh route window", zap.Error(err))
		}
		return nil
	}

	util.RoutingCallsTotal.Inc()
	start := time.Now()
	est, err := rs.routing.Route(ctx,
		geo.Point{Lat: ev.Lat, Lng: ev.Lng},
		geo.Point{Lat: order.AddressLat.Float64, Lng: order.AddressLng.Float64})
	util.RoutingCallLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		util.RoutingFailedTotal.Inc()
		rs.logger.Warn("Route estimate unavailable",
			zap.String("order_id", ev.OrderID),
			zap.Error(err))
		// Refresh the throttle window regardless, so a persistently failing
		// upstream is retried at the window rate, not per ping.
		if err := rs.store.TouchRouteUpdateTime(ctx, ev.OrderID); err != nil {
			rs.logger.Warn("Failed to refresh route window", zap.Error(err))
		}
		return nil
	}

	if err := rs.store.UpdateOrderETA(ctx, ev.OrderID, est.ETASeconds, est.ETAText, est.Polyline); err != nil {
		return err
	}

	rs.logger.Info("Route updated",
		zap.String("order_id", ev.OrderID),
		zap.Int64("eta_seconds", est.ETASeconds))
	return nil
}

// SeedRoute draws the initial route when an order gets its partner, so the
// customer sees a path before the first location ping arrives. The write is
// guarded in the store: an already-present polyline is never overwritten.
func (rs *RouteService) SeedRoute(ctx context.Context, ev *models.OrderAssignedEvent) error {
	ctx, span := util.StartSpan(ctx, "RouteService.SeedRoute")
	defer span.End()

	order, err := rs.store.GetOrderByID(ctx, ev.OrderID)
	if err != nil {
		return err
	}
	if !order.AddressLat.Valid || !order.AddressLng.Valid {
		return nil
	}
	if order.RoutePolyline.Valid && order.RoutePolyline.String != "" {
		return nil
	}

	partner, err := rs.store.GetUserByID(ctx, ev.PartnerID)
	if err != nil {
		return err
	}
	if !partner.Lat.Valid || !partner.Lng.Valid {
		// Partner position unknown until the first ping
		return nil
	}

	util.RoutingCallsTotal.Inc()
	start := time.Now()
	est, err := rs.routing.Route(ctx,
		geo.Point{Lat: partner.Lat.Float64, Lng: partner.Lng.Float64},
		geo.Point{Lat: order.AddressLat.Float64, Lng: order.AddressLng.Float64})
	util.RoutingCallLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		util.RoutingFailedTotal.Inc()
		rs.logger.Warn("Initial route unavailable",
			zap.String("order_id", ev.OrderID),
			zap.Error(err))
		return nil
	}

	return rs.store.UpdateOrderRoute(ctx, ev.OrderID, est.Polyline)
}

// throttled reports whether a recompute window is still open for order.
// Redis is the fast path; its unavailability falls back to the persisted
// timestamp.
func (rs *RouteService) throttled(ctx context.Context, order *models.Order) bool {
	if rs.redis != nil {
		claimed, err := rs.redis.ClaimRouteSlot(ctx, order.ID, rs.throttle)
		if err == nil {
			return !claimed
		}
		rs.logger.Warn("Redis throttle check failed, falling back to DB", zap.Error(err))
	}

	return order.LastRouteUpdateAt.Valid &&
		time.Since(order.LastRouteUpdateAt.Time) < rs.throttle
}
