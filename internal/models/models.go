package models

import (
	"database/sql"
	"time"
)

// Order represents a customer order, the system of record for the whole
// delivery lifecycle. Amounts are in minor currency units.
type Order struct {
	ID             string `db:"id" json:"id"`
	UserID         string `db:"user_id" json:"user_id"`
	StoreID        string `db:"store_id" json:"store_id"`
	TotalAmount    int64  `db:"total_amount" json:"total_amount"`
	DeliveryFee    int64  `db:"delivery_fee" json:"delivery_fee"`
	Status         string `db:"status" json:"status"`
	PaymentMethod  string `db:"payment_method" json:"payment_method"`
	PaymentStatus  string `db:"payment_status" json:"payment_status"`
	DeliveryStatus string `db:"delivery_status" json:"delivery_status"`

	Street      string          `db:"street" json:"street"`
	City        string          `db:"city" json:"city"`
	State       string          `db:"state" json:"state"`
	Zip         string          `db:"zip" json:"zip"`
	PhoneNumber string          `db:"phone_number" json:"phone_number"`
	AddressLat  sql.NullFloat64 `db:"address_lat" json:"address_lat,omitempty"`
	AddressLng  sql.NullFloat64 `db:"address_lng" json:"address_lng,omitempty"`

	DeliveryPartnerID    sql.NullString  `db:"delivery_partner_id" json:"delivery_partner_id,omitempty"`
	DeliveryPartnerName  sql.NullString  `db:"delivery_partner_name" json:"delivery_partner_name,omitempty"`
	DeliveryPartnerPhone sql.NullString  `db:"delivery_partner_phone" json:"delivery_partner_phone,omitempty"`
	DeliveryPartnerLat   sql.NullFloat64 `db:"delivery_partner_lat" json:"delivery_partner_lat,omitempty"`
	DeliveryPartnerLng   sql.NullFloat64 `db:"delivery_partner_lng" json:"delivery_partner_lng,omitempty"`

	ETASeconds        sql.NullInt64  `db:"eta_seconds" json:"eta_seconds,omitempty"`
	ETAText           sql.NullString `db:"eta_text" json:"eta_text,omitempty"`
	RoutePolyline     sql.NullString `db:"route_polyline" json:"route_polyline,omitempty"`
	LastRouteUpdateAt sql.NullTime   `db:"last_route_update_at" json:"last_route_update_at,omitempty"`

	// GatewayOrderID is the provider-side session the payment lives under.
	// Server-side verification addresses the provider by this id, never by
	// the internal order id.
	GatewayOrderID sql.NullString `db:"gateway_order_id" json:"-"`

	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// OrderItem is a price/quantity snapshot taken at order time; it is never
// re-derived from the product catalog afterwards.
type OrderItem struct {
	ID           int64  `db:"id" json:"id"`
	OrderID      string `db:"order_id" json:"order_id"`
	ProductID    string `db:"product_id" json:"product_id"`
	ProductName  string `db:"product_name" json:"product_name"`
	ProductImage string `db:"product_image" json:"product_image,omitempty"`
	Price        int64  `db:"price" json:"price"`
	Quantity     int    `db:"quantity" json:"quantity"`
}

// Payment is one entry in an order's append-only payment ledger.
// TransactionID is unique within an order and is the dedupe key for
// gateway-driven writes.
type Payment struct {
	ID            int64     `db:"id" json:"id"`
	OrderID       string    `db:"order_id" json:"order_id"`
	Provider      string    `db:"provider" json:"provider"`
	Amount        int64     `db:"amount" json:"amount"`
	TransactionID string    `db:"transaction_id" json:"transaction_id"`
	Raw           string    `db:"raw" json:"raw,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// WebhookEvent records a fully processed gateway event. Existence of the
// event ID means a redelivery is a guaranteed no-op.
type WebhookEvent struct {
	EventID     string    `db:"event_id" json:"event_id"`
	Provider    string    `db:"provider" json:"provider"`
	ProcessedAt time.Time `db:"processed_at" json:"processed_at"`
}

// User covers customers, store operators and delivery partners; the role
// column tells them apart. Presence flags only matter for role=delivery.
type User struct {
	ID             string          `db:"id" json:"id"`
	Name           string          `db:"name" json:"name"`
	Phone          string          `db:"phone" json:"phone"`
	Role           string          `db:"role" json:"role"`
	StoreID        sql.NullString  `db:"store_id" json:"store_id,omitempty"`
	ApprovalStatus string          `db:"approval_status" json:"approval_status"`
	IsOnline       bool            `db:"is_online" json:"is_online"`
	IsBusy         bool            `db:"is_busy" json:"is_busy"`
	Lat            sql.NullFloat64 `db:"lat" json:"lat,omitempty"`
	Lng            sql.NullFloat64 `db:"lng" json:"lng,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Store is the merchant a customer orders from.
type Store struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Lat         float64   `db:"lat" json:"lat"`
	Lng         float64   `db:"lng" json:"lng"`
	DeliveryFee int64     `db:"delivery_fee" json:"delivery_fee"`
	IsOpen      bool      `db:"is_open" json:"is_open"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// AuditRecord captures the raw request behind a mutation. Writes are
// best-effort and never fail the primary operation.
type AuditRecord struct {
	ID        int64     `db:"id" json:"id"`
	Actor     string    `db:"actor" json:"actor"`
	Action    string    `db:"action" json:"action"`
	Payload   string    `db:"payload" json:"payload"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Order statuses
const (
	OrderStatusPending        = "PENDING"
	OrderStatusAccepted       = "ACCEPTED"
	OrderStatusPreparing      = "PREPARING"
	OrderStatusOutForDelivery = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      = "DELIVERED"
	OrderStatusCancelled      = "CANCELLED"
)

// Delivery (assignment) statuses
const (
	DeliveryStatusUnassigned  = "UNASSIGNED"
	DeliveryStatusBusyWaiting = "BUSY_WAITING"
	DeliveryStatusAssigned    = "ASSIGNED"
)

// Payment statuses
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusVerifying = "VERIFYING"
	PaymentStatusPaid      = "PAID"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusRefunded  = "REFUNDED"
)

// Payment methods
const (
	PaymentMethodCOD  = "cod"
	PaymentMethodUPI  = "upi"
	PaymentMethodCard = "card"
)

// Partner approval statuses
const (
	ApprovalStatusPending  = "PENDING"
	ApprovalStatusApproved = "APPROVED"
	ApprovalStatusRejected = "REJECTED"
)

// User roles
const (
	RoleCustomer = "customer"
	RoleStore    = "store"
	RoleDelivery = "delivery"
)

// IsTerminalOrderStatus reports whether no further lifecycle transitions are
// expected for status.
func IsTerminalOrderStatus(status string) bool {
	return status == OrderStatusDelivered || status == OrderStatusCancelled
}
