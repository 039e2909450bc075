package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"delivery-service/internal/geo"
	"delivery-service/internal/models"
	"delivery-service/internal/store"
	"delivery-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// partnerPool is the PartnerDirectory surface the dispatcher works against.
// ClaimPartner is the single compare-and-set primitive every assignment
// path, automatic or manual, goes through.
type partnerPool interface {
	GetOnlinePartners(ctx context.Context, storeID string) ([]models.User, error)
	ClaimPartner(ctx context.Context, orderID, partnerID string) error
}

// dispatchOrderStore is the slice of the order store the dispatcher needs.
type dispatchOrderStore interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	MarkBusyWaiting(ctx context.Context, orderID string) error
}

// assignNotifier fans out assignment milestones.
type assignNotifier interface {
	PublishOrderAssigned(ctx context.Context, event *models.OrderAssignedEvent, userID string) error
}

// SelectionStrategy picks one candidate from a non-empty pool. Strategies
// are interchangeable behind the same transactional claim primitive.
type SelectionStrategy interface {
	Pick(order *models.Order, candidates []models.User) models.User
}

// RandomStrategy picks uniformly at random, matching the original
// no-locality behavior.
type RandomStrategy struct {
	rng *rand.Rand
}

// NewRandomStrategy creates a random selection strategy
func NewRandomStrategy() *RandomStrategy {
	return &RandomStrategy{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (s *RandomStrategy) Pick(_ *models.Order, candidates []models.User) models.User {
	return candidates[s.rng.Intn(len(candidates))]
}

// NearestStrategy picks the candidate closest to the delivery address,
// falling back to the first candidate when no location is known.
type NearestStrategy struct{}

func (NearestStrategy) Pick(order *models.Order, candidates []models.User) models.User {
	if !order.AddressLat.Valid || !order.AddressLng.Valid {
		return candidates[0]
	}
	dest := geo.Point{Lat: order.AddressLat.Float64, Lng: order.AddressLng.Float64}

	best := candidates[0]
	bestDist := -1.0
	for _, c := range candidates {
		if !c.Lat.Valid || !c.Lng.Valid {
			continue
		}
		d := geo.HaversineDistance(geo.Point{Lat: c.Lat.Float64, Lng: c.Lng.Float64}, dest)
		if bestDist < 0 || d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

// NewStrategy resolves a strategy by configured name
func NewStrategy(name string) SelectionStrategy {
	if name == "nearest" {
		return NearestStrategy{}
	}
	return NewRandomStrategy()
}

// DispatchService auto-assigns an available delivery partner to a newly
// created order.
type DispatchService struct {
	orders      dispatchOrderStore
	partners    partnerPool
	notifier    assignNotifier
	strategy    SelectionStrategy
	maxAttempts int
	logger      *zap.Logger
}

// NewDispatchService creates a new dispatcher. maxAttempts=1 reproduces the
// single-shot claim; higher values redraw from the remaining candidates on
// contention.
func NewDispatchService(orders dispatchOrderStore, partners partnerPool, notifier assignNotifier, strategy SelectionStrategy, maxAttempts int) *DispatchService {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &DispatchService{
		orders:      orders,
		partners:    partners,
		notifier:    notifier,
		strategy:    strategy,
		maxAttempts: maxAttempts,
		logger:      util.GetLogger(),
	}
}

// DispatchOrder runs the assignment algorithm for one order. It is invoked
// exactly once per created order and is a no-op when a partner is already
// assigned. A lost claim race is expected and recoverable: the order is
// left waiting, never failed.
func (d *DispatchService) DispatchOrder(ctx context.Context, orderID string) error {
	ctx, span := util.StartSpan(ctx, "DispatchService.DispatchOrder")
	defer span.End()

	order, err := d.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}

	if order.DeliveryPartnerID.Valid {
		d.logger.Info("Order already has a partner, skipping dispatch",
			zap.String("order_id", orderID))
		return nil
	}

	// Broad online query; busy and approval are filtered in memory
	online, err := d.partners.GetOnlinePartners(ctx, order.StoreID)
	if err != nil {
		return fmt.Errorf("failed to query partners: %w", err)
	}

	candidates := make([]models.User, 0, len(online))
	for _, p := range online {
		if !p.IsBusy && p.ApprovalStatus == models.ApprovalStatusApproved {
			candidates = append(candidates, p)
		}
	}

	if len(candidates) == 0 {
		util.DispatchNoPartnerTotal.Inc()
		d.logger.Info("No available partner, order waiting",
			zap.String("order_id", orderID))
		return d.orders.MarkBusyWaiting(ctx, orderID)
	}

	attempts := d.maxAttempts
	if attempts > len(candidates) {
		attempts = len(candidates)
	}

	for attempt := 0; attempt < attempts; attempt++ {
		chosen := d.strategy.Pick(order, candidates)

		err := d.partners.ClaimPartner(ctx, orderID, chosen.ID)
		if err == nil {
			util.DispatchAssignedTotal.Inc()
			d.logger.Info("Order assigned",
				zap.String("order_id", orderID),
				zap.String("partner_id", chosen.ID))
			d.publishAssigned(ctx, order, chosen)
			return nil
		}

		if errors.Is(err, store.ErrOrderTaken) {
			// A manual accept landed first; nothing left to do
			d.logger.Info("Order assigned concurrently, dispatch abandoned",
				zap.String("order_id", orderID))
			return nil
		}
		if !errors.Is(err, store.ErrPartnerBusy) {
			return fmt.Errorf("claim failed: %w", err)
		}

		// Lost the race; expected under contention
		util.DispatchConflictTotal.Inc()
		d.logger.Info("Claim conflict, partner taken concurrently",
			zap.String("order_id", orderID),
			zap.String("partner_id", chosen.ID))
		candidates = removePartner(candidates, chosen.ID)
		if len(candidates) == 0 {
			break
		}
	}

	// Guarded in the store: an assignment that committed while the claim
	// attempts were losing races is never demoted back to waiting.
	return d.orders.MarkBusyWaiting(ctx, orderID)
}

// ManualAccept routes a partner's "accept" action through the same claim
// transaction as automatic dispatch. Orders that already carry a partner
// are never silently reassigned.
func (d *DispatchService) ManualAccept(ctx context.Context, orderID, partnerID string) error {
	ctx, span := util.StartSpan(ctx, "DispatchService.ManualAccept")
	defer span.End()

	order, err := d.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}

	if order.DeliveryPartnerID.Valid {
		return fmt.Errorf("order %s: %w", orderID, store.ErrOrderTaken)
	}

	if err := d.partners.ClaimPartner(ctx, orderID, partnerID); err != nil {
		return err
	}

	util.DispatchAssignedTotal.Inc()
	d.logger.Info("Order manually accepted",
		zap.String("order_id", orderID),
		zap.String("partner_id", partnerID))
	d.publishAssigned(ctx, order, models.User{ID: partnerID})
	return nil
}

func (d *DispatchService) publishAssigned(ctx context.Context, order *models.Order, partner models.User) {
	event := &models.OrderAssignedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderAssigned,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		PartnerID:   partner.ID,
		PartnerName: partner.Name,
	}
	if err := d.notifier.PublishOrderAssigned(ctx, event, order.UserID); err != nil {
		d.logger.Error("Failed to publish OrderAssigned event", zap.Error(err))
	}
}

func removePartner(candidates []models.User, id string) []models.User {
	out := candidates[:0]
	for _, c := range candidates {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}
