package store

import (
	"context"
	"database/sql"
	"fmt"

	"delivery-service/internal/models"
)

// CreateOrder persists a new order and its item snapshots in one transaction.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (
			id, user_id, store_id, total_amount, delivery_fee,
			status, payment_method, payment_status, delivery_status,
			street, city, state, zip, phone_number, address_lat, address_lng,
			gateway_order_id, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (user_id, idempotency_key) WHERE idempotency_key <> '' DO NOTHING
		RETURNING created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.ID, order.UserID, order.StoreID, order.TotalAmount, order.DeliveryFee,
		order.Status, order.PaymentMethod, order.PaymentStatus, order.DeliveryStatus,
		order.Street, order.City, order.State, order.Zip, order.PhoneNumber,
		order.AddressLat, order.AddressLng, order.GatewayOrderID, order.IdempotencyKey,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err == sql.ErrNoRows {
		// The partial unique index absorbed a concurrent duplicate
		return ErrDuplicateOrder
	}
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		err = tx.QueryRowxContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, product_image, price, quantity)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			items[i].OrderID, items[i].ProductID, items[i].ProductName,
			items[i].ProductImage, items[i].Price, items[i].Quantity,
		).Scan(&items[i].ID)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by (user, idempotency key).
// Returns nil without error when no prior order exists.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, userID, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE user_id = $1 AND idempotency_key = $2", userID, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves orders for a user
func (s *Store) GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// GetOrdersByStoreID retrieves orders for a store
func (s *Store) GetOrdersByStoreID(ctx context.Context, storeID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE store_id = $1 ORDER BY created_at DESC", storeID)
	return orders, err
}

// GetActiveStoreOrders retrieves a store's orders that are still in flight
func (s *Store) GetActiveStoreOrders(ctx context.Context, storeID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE store_id = $1 AND status NOT IN ($2, $3) ORDER BY created_at DESC",
		storeID, models.OrderStatusDelivered, models.OrderStatusCancelled)
	return orders, err
}

// GetAllOrders is the legacy unscoped fallback
func (s *Store) GetAllOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, "SELECT * FROM orders ORDER BY created_at DESC")
	return orders, err
}

// GetOrderItemsByOrderID retrieves all item snapshots for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1", orderID)
	return items, err
}

// UpdateOrderStatus writes the lifecycle status unconditionally; the caller
// is responsible for legality of the transition.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// UpdatePaymentStatus writes the payment status of an order
func (s *Store) UpdatePaymentStatus(ctx context.Context, orderID, paymentStatus string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET payment_status = $1, updated_at = NOW() WHERE id = $2",
		paymentStatus, orderID)
	return err
}

// MarkBusyWaiting parks an unassigned order until a partner frees up. The
// guard keeps a claim that committed concurrently from being overwritten.
func (s *Store) MarkBusyWaiting(ctx context.Context, orderID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET delivery_status = $1, updated_at = NOW() WHERE id = $2 AND delivery_partner_id IS NULL",
		models.DeliveryStatusBusyWaiting, orderID)
	return err
}

// UpdateDeliveryLocation merge-writes the partner coordinates and returns
// the previous pair so the caller can detect a no-change ping.
func (s *Store) UpdateDeliveryLocation(ctx context.Context, orderID string, lat, lng float64) (prevLat, prevLng sql.NullFloat64, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return prevLat, prevLng, err
	}
	defer tx.Rollback()

	row := tx.QueryRowxContext(ctx,
		"SELECT delivery_partner_lat, delivery_partner_lng FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err = row.Scan(&prevLat, &prevLng); err != nil {
		if err == sql.ErrNoRows {
			return prevLat, prevLng, fmt.Errorf("order not found: %s", orderID)
		}
		return prevLat, prevLng, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE orders SET delivery_partner_lat = $1, delivery_partner_lng = $2, updated_at = NOW() WHERE id = $3",
		lat, lng, orderID)
	if err != nil {
		return prevLat, prevLng, err
	}

	return prevLat, prevLng, tx.Commit()
}

// UpdateOrderRoute writes the encoded polyline only when the order has none
// yet, so the one-shot write never races the background estimator.
func (s *Store) UpdateOrderRoute(ctx context.Context, orderID, encodedPolyline string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET route_polyline = $1, updated_at = NOW()
		WHERE id = $2 AND (route_polyline IS NULL OR route_polyline = '')`,
		encodedPolyline, orderID)
	return err
}

// UpdateOrderETA writes a freshly computed route estimate
func (s *Store) UpdateOrderETA(ctx context.Context, orderID string, etaSeconds int64, etaText, polyline string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders SET
			eta_seconds = $1,
			eta_text = $2,
			route_polyline = $3,
			last_route_update_at = NOW(),
			updated_at = NOW()
		WHERE id = $4`,
		etaSeconds, etaText, polyline, orderID)
	return err
}

// TouchRouteUpdateTime refreshes the throttle window without writing an
// estimate, so a persistently failing upstream cannot cause a retry storm.
func (s *Store) TouchRouteUpdateTime(ctx context.Context, orderID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET last_route_update_at = NOW() WHERE id = $1", orderID)
	return err
}

// AppendPayment appends a ledger entry. The unique (order_id, transaction_id)
// constraint makes a duplicate transaction a no-op; inserted reports whether
// this call added the row.
func (s *Store) AppendPayment(ctx context.Context, payment *models.Payment) (inserted bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (order_id, provider, amount, transaction_id, raw)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id, transaction_id) DO NOTHING`,
		payment.OrderID, payment.Provider, payment.Amount, payment.TransactionID, payment.Raw)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// GetPaymentsByOrderID retrieves an order's payment ledger
func (s *Store) GetPaymentsByOrderID(ctx context.Context, orderID string) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at", orderID)
	return payments, err
}
