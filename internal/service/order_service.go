package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"delivery-service/internal/models"
	"delivery-service/internal/redisclient"
	"delivery-service/internal/store"
	"delivery-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// orderStore is the slice of the data layer the order service needs.
type orderStore interface {
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, userID, key string) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]models.OrderItem, error)
	GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error)
	GetOrdersByStoreID(ctx context.Context, storeID string) ([]models.Order, error)
	GetActiveStoreOrders(ctx context.Context, storeID string) ([]models.Order, error)
	GetAllOrders(ctx context.Context) ([]models.Order, error)
	GetStoreByID(ctx context.Context, id string) (*models.Store, error)
	UpdateOrderStatus(ctx context.Context, orderID, status string) error
	UpdateDeliveryLocation(ctx context.Context, orderID string, lat, lng float64) (sql.NullFloat64, sql.NullFloat64, error)
	AppendPayment(ctx context.Context, payment *models.Payment) (bool, error)
	ReleasePartner(ctx context.Context, partnerID string) error
	WriteAudit(ctx context.Context, actor, action, payload string) error
}

// sessionCreator mints payment-provider sessions.
type sessionCreator interface {
	Configured() bool
	CreateOrderSession(ctx context.Context, orderID string, amount int64) (string, error)
}

// orderNotifier is the outbound event fan-out the order service uses.
type orderNotifier interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishLocationUpdated(ctx context.Context, event *models.LocationUpdatedEvent) error
}

// OrderService owns order creation and the client-driven order mutations.
type OrderService struct {
	store      orderStore
	redis      *redisclient.Client
	gateway    sessionCreator
	notifier   orderNotifier
	defaultFee int64
	logger     *zap.Logger
}

// NewOrderService creates a new order service. defaultFee applies when
// neither the request nor the store carries a delivery fee.
func NewOrderService(store orderStore, redis *redisclient.Client, gateway sessionCreator, notifier orderNotifier, defaultFee int64) *OrderService {
	return &OrderService{
		store:      store,
		redis:      redis,
		gateway:    gateway,
		notifier:   notifier,
		defaultFee: defaultFee,
		logger:     util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	UserID         string             `json:"user_id" binding:"required"`
	StoreID        string             `json:"store_id" binding:"required"`
	Items          []OrderItemRequest `json:"items" binding:"required,min=1"`
	Address        AddressRequest     `json:"address" binding:"required"`
	PaymentMethod  string             `json:"payment_method" binding:"required,oneof=cod upi card"`
	DeliveryFee    int64              `json:"delivery_fee"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest carries a price/quantity snapshot; the client never
// supplies a total, it is always recomputed server-side.
type OrderItemRequest struct {
	ProductID    string `json:"product_id" binding:"required"`
	ProductName  string `json:"product_name" binding:"required"`
	ProductImage string `json:"product_image,omitempty"`
	Price        int64  `json:"price" binding:"min=0"`
	Quantity     int    `json:"quantity" binding:"required,min=1"`
}

// AddressRequest is the embedded delivery address. Coordinates are pointers
// so an explicit (0, 0) is distinguishable from an absent pair.
type AddressRequest struct {
	Street      string   `json:"street" binding:"required"`
	City        string   `json:"city"`
	State       string   `json:"state"`
	Zip         string   `json:"zip"`
	PhoneNumber string   `json:"phone_number" binding:"required"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
}

// CreateOrderResponse represents the response after creating an order
type CreateOrderResponse struct {
	OrderID       string `json:"order_id"`
	OrderToken    string `json:"order_token,omitempty"`
	TotalAmount   int64  `json:"total_amount"`
	PaymentStatus string `json:"payment_status"`
	Existing      bool   `json:"existing,omitempty"`
}

// CreateOrder creates an order with a server-computed total. A reused
// idempotency key returns the prior order without creating a second one.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	s.auditRequest(ctx, req)

	if req.IdempotencyKey != "" {
		if resp, err := s.findExisting(ctx, req); err != nil {
			return nil, err
		} else if resp != nil {
			util.OrdersDuplicateTotal.Inc()
			return resp, nil
		}
	}

	deliveryFee := s.resolveDeliveryFee(ctx, req)
	totalAmount := CalculateTotal(req.Items, deliveryFee)

	order := &models.Order{
		ID:             uuid.New().String(),
		UserID:         req.UserID,
		StoreID:        req.StoreID,
		TotalAmount:    totalAmount,
		DeliveryFee:    deliveryFee,
		Status:         models.OrderStatusPending,
		PaymentMethod:  req.PaymentMethod,
		PaymentStatus:  models.PaymentStatusPending,
		DeliveryStatus: models.DeliveryStatusUnassigned,
		Street:         req.Address.Street,
		City:           req.Address.City,
		State:          req.Address.State,
		Zip:            req.Address.Zip,
		PhoneNumber:    req.Address.PhoneNumber,
		IdempotencyKey: req.IdempotencyKey,
	}
	if req.Address.Lat != nil && req.Address.Lng != nil {
		order.AddressLat = sql.NullFloat64{Float64: *req.Address.Lat, Valid: true}
		order.AddressLng = sql.NullFloat64{Float64: *req.Address.Lng, Valid: true}
	}

	if totalAmount <= 0 {
		// Free/COD-equivalent edge order: auto-verified as paid
		order.PaymentStatus = models.PaymentStatusPaid
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, models.OrderItem{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			ProductImage: item.ProductImage,
			Price:        item.Price,
			Quantity:     item.Quantity,
		})
	}

	var orderToken string
	if totalAmount > 0 && s.gateway.Configured() {
		token, err := s.gateway.CreateOrderSession(ctx, order.ID, totalAmount)
		if err != nil {
			// Degrade to PENDING; the client retries through an alternate flow
			s.logger.Warn("Gateway session creation failed, leaving order pending",
				zap.String("order_id", order.ID),
				zap.Error(err))
		} else {
			orderToken = token
			if token != "" {
				// The provider addresses this payment by the session id, so
				// server-side verification needs it persisted.
				order.GatewayOrderID = sql.NullString{String: token, Valid: true}
			}
		}
	}

	if err := s.store.CreateOrder(ctx, order, items); err != nil {
		if errors.Is(err, store.ErrDuplicateOrder) && req.IdempotencyKey != "" {
			// A concurrent request with the same key won the insert race
			if existing, lookupErr := s.store.GetOrderByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey); lookupErr == nil && existing != nil {
				util.OrdersDuplicateTotal.Inc()
				return existingResponse(existing), nil
			}
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	if totalAmount <= 0 {
		if _, err := s.store.AppendPayment(ctx, &models.Payment{
			OrderID:       order.ID,
			Provider:      "FREE",
			Amount:        0,
			TransactionID: fmt.Sprintf("free-%s", order.ID),
		}); err != nil {
			s.logger.Error("Failed to record zero-value payment", zap.Error(err))
		}
		util.PaymentsRecordedTotal.WithLabelValues("FREE").Inc()
	}

	if req.IdempotencyKey != "" && s.redis != nil {
		if err := s.redis.SetIdempotencyKey(ctx, req.UserID, req.IdempotencyKey, order.ID, 24*time.Hour); err != nil {
			s.logger.Warn("Failed to cache idempotency key", zap.Error(err))
		}
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.Int64("total_amount", totalAmount))

	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		UserID:      order.UserID,
		StoreID:     order.StoreID,
		TotalAmount: order.TotalAmount,
	}
	if err := s.notifier.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}

	return &CreateOrderResponse{
		OrderID:       order.ID,
		OrderToken:    orderToken,
		TotalAmount:   totalAmount,
		PaymentStatus: order.PaymentStatus,
	}, nil
}

// findExisting resolves a reused idempotency key to the prior order, Redis
// first with the database as the source of truth.
func (s *OrderService) findExisting(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	if s.redis != nil {
		orderID, err := s.redis.GetIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		if err != nil {
			s.logger.Warn("Redis idempotency lookup failed, falling back to DB", zap.Error(err))
		} else if orderID != "" {
			if order, err := s.store.GetOrderByID(ctx, orderID); err == nil {
				return existingResponse(order), nil
			}
		}
	}

	order, err := s.store.GetOrderByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if order == nil {
		return nil, nil
	}

	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.String("order_id", order.ID))
	return existingResponse(order), nil
}

func existingResponse(order *models.Order) *CreateOrderResponse {
	return &CreateOrderResponse{
		OrderID:       order.ID,
		TotalAmount:   order.TotalAmount,
		PaymentStatus: order.PaymentStatus,
		Existing:      true,
	}
}

// resolveDeliveryFee prefers the client's quoted fee, then the store's
// configured fee, then the service-wide default.
func (s *OrderService) resolveDeliveryFee(ctx context.Context, req *CreateOrderRequest) int64 {
	if req.DeliveryFee > 0 {
		return req.DeliveryFee
	}
	if st, err := s.store.GetStoreByID(ctx, req.StoreID); err == nil && st.DeliveryFee > 0 {
		return st.DeliveryFee
	}
	return s.defaultFee
}

// CalculateTotal computes the authoritative order total from the item
// snapshots and the delivery fee. Client-supplied totals are never trusted.
func CalculateTotal(items []OrderItemRequest, deliveryFee int64) int64 {
	var total int64
	for _, item := range items {
		total += item.Price * int64(item.Quantity)
	}
	return total + deliveryFee
}

// auditRequest persists the raw creation request; failures are logged only.
func (s *OrderService) auditRequest(ctx context.Context, req *CreateOrderRequest) {
	payload, err := json.Marshal(req)
	if err != nil {
		return
	}
	if err := s.store.WriteAudit(ctx, req.UserID, "createOrder", string(payload)); err != nil {
		s.logger.Warn("Audit write failed", zap.Error(err))
	}
}

// GetOrder retrieves an order with its item snapshots
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, []models.OrderItem, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}

	return order, items, nil
}

// UpdateOrderStatus writes a lifecycle transition, releases the partner on
// terminal states and fans the change out.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateOrderStatus")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}

	if err := s.store.UpdateOrderStatus(ctx, orderID, status); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	if models.IsTerminalOrderStatus(status) && order.DeliveryPartnerID.Valid {
		if err := s.store.ReleasePartner(ctx, order.DeliveryPartnerID.String); err != nil {
			s.logger.Error("Failed to release partner on terminal order",
				zap.String("order_id", orderID),
				zap.String("partner_id", order.DeliveryPartnerID.String),
				zap.Error(err))
		}
	}

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: time.Now(),
		},
		OrderID: orderID,
		StoreID: order.StoreID,
		UserID:  order.UserID,
		Status:  status,
	}
	if err := s.notifier.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish status change", zap.Error(err))
	}

	return nil
}

// UpdateDeliveryLocation merge-writes partner coordinates and, when they
// changed, emits the event that triggers route recomputation. The write
// never blocks on the estimator.
func (s *OrderService) UpdateDeliveryLocation(ctx context.Context, orderID string, lat, lng float64) error {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateDeliveryLocation")
	defer span.End()

	prevLat, prevLng, err := s.store.UpdateDeliveryLocation(ctx, orderID, lat, lng)
	if err != nil {
		return err
	}

	unchanged := prevLat.Valid && prevLng.Valid && prevLat.Float64 == lat && prevLng.Float64 == lng
	if unchanged {
		return nil
	}

	event := &models.LocationUpdatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeLocationUpdated,
			Timestamp: time.Now(),
		},
		OrderID: orderID,
		Lat:     lat,
		Lng:     lng,
		PrevLat: prevLat.Float64,
		PrevLng: prevLng.Float64,
	}
	if err := s.notifier.PublishLocationUpdated(ctx, event); err != nil {
		s.logger.Error("Failed to publish location update", zap.Error(err))
	}

	return nil
}

// AllOrders returns every order, for operator tooling
func (s *OrderService) AllOrders(ctx context.Context) ([]models.Order, error) {
	return s.store.GetAllOrders(ctx)
}

// OrdersForUser returns a customer's order history
func (s *OrderService) OrdersForUser(ctx context.Context, userID string) ([]models.Order, error) {
	return s.store.GetOrdersByUserID(ctx, userID)
}

// OrdersForStore returns a store's orders, optionally only active ones
func (s *OrderService) OrdersForStore(ctx context.Context, storeID string, activeOnly bool) ([]models.Order, error) {
	if activeOnly {
		return s.store.GetActiveStoreOrders(ctx, storeID)
	}
	return s.store.GetOrdersByStoreID(ctx, storeID)
}
