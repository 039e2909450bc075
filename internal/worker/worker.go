package worker

import (
	"context"
	"log"
	"time"

	"delivery-service/internal/broker"
	"delivery-service/internal/models"
	"delivery-service/internal/redisclient"
	"delivery-service/internal/service"
)

// DispatchWorker consumes order-created events and runs the auto-assign
// algorithm for each, the document-change trigger of the original flow.
type DispatchWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewDispatchWorker creates a new dispatch worker
func NewDispatchWorker(consumer *broker.Consumer, dispatch *service.DispatchService) *DispatchWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnOrderCreated(func(ctx context.Context, event *models.OrderCreatedEvent) error {
		return dispatch.DispatchOrder(ctx, event.OrderID)
	})

	return &DispatchWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *DispatchWorker) Start(ctx context.Context) error {
	log.Println("Starting dispatch worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *DispatchWorker) Stop() error {
	log.Println("Stopping dispatch worker...")
	return w.consumer.Close()
}

// RouteWorker consumes location-updated events and runs the throttled ETA
// recompute. Location writes never block on it.
type RouteWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewRouteWorker creates a new route worker
func NewRouteWorker(consumer *broker.Consumer, routes *service.RouteService) *RouteWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnLocationUpdated(func(ctx context.Context, event *models.LocationUpdatedEvent) error {
		return routes.HandleLocationUpdate(ctx, event)
	})

	eventHandler.OnOrderAssigned(func(ctx context.Context, event *models.OrderAssignedEvent) error {
		return routes.SeedRoute(ctx, event)
	})

	return &RouteWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *RouteWorker) Start(ctx context.Context) error {
	log.Println("Starting route worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *RouteWorker) Stop() error {
	log.Println("Stopping route worker...")
	return w.consumer.Close()
}

// Janitor periodically heals busy flags that no active order justifies.
// With multiple replicas a Redis lock keeps the sweep down to one runner
// per interval.
type Janitor struct {
	partners *service.PartnerService
	redis    *redisclient.Client
	interval time.Duration
}

// NewJanitor creates a new janitor. redis may be nil; the sweep is
// idempotent, the lock only avoids redundant work.
func NewJanitor(partners *service.PartnerService, redis *redisclient.Client, interval time.Duration) *Janitor {
	if interval == 0 {
		interval = time.Minute
	}
	return &Janitor{partners: partners, redis: redis, interval: interval}
}

// Start runs the sweep loop until the context is cancelled
func (j *Janitor) Start(ctx context.Context) {
	log.Println("Starting busy-flag janitor...")
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Janitor stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	if j.redis != nil {
		acquired, err := j.redis.AcquireLock(ctx, "busy-flag-sweep", j.interval)
		if err != nil {
			log.Printf("Janitor lock error, sweeping anyway: %v", err)
		} else if !acquired {
			return
		} else {
			defer func() {
				if err := j.redis.ReleaseLock(ctx, "busy-flag-sweep"); err != nil {
					log.Printf("Janitor lock release failed: %v", err)
				}
			}()
		}
	}
	j.partners.HealBusyFlags(ctx)
}
