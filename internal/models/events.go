package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderAssigned      = "ORDER_ASSIGNED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypeLocationUpdated    = "LOCATION_UPDATED"
	EventTypePaymentReceived    = "PAYMENT_RECEIVED"
	EventTypePaymentFailed      = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is created; the dispatch worker
// consumes it to auto-assign a partner.
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	StoreID     string `json:"store_id"`
	TotalAmount int64  `json:"total_amount"`
	Assigned    bool   `json:"assigned"`
}

// OrderAssignedEvent published when the dispatcher commits an assignment
type OrderAssignedEvent struct {
	BaseEvent
	OrderID     string `json:"order_id"`
	PartnerID   string `json:"partner_id"`
	PartnerName string `json:"partner_name"`
}

// OrderStatusChangedEvent published on lifecycle transitions
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	StoreID string `json:"store_id"`
	UserID  string `json:"user_id"`
	Status  string `json:"status"`
}

// LocationUpdatedEvent published on a partner location ping; the route
// worker consumes it to recompute the ETA.
type LocationUpdatedEvent struct {
	BaseEvent
	OrderID string  `json:"order_id"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	PrevLat float64 `json:"prev_lat"`
	PrevLng float64 `json:"prev_lng"`
}

// PaymentReceivedEvent published when a gateway webhook marks an order paid
type PaymentReceivedEvent struct {
	BaseEvent
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	StoreID       string `json:"store_id"`
	Amount        int64  `json:"amount"`
	TransactionID string `json:"transaction_id"`
}

// PaymentFailedEvent published when a gateway webhook reports failure
type PaymentFailedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Reason  string `json:"reason"`
}
