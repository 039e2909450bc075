package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"delivery-service/internal/geo"
	"delivery-service/internal/models"
	"delivery-service/internal/routing"
	"delivery-service/internal/store"
)

// fakeStore is an in-memory stand-in for the sqlx-backed store. All methods
// are safe for concurrent use so claim races can be exercised directly, and
// ClaimPartner enforces the same busy and first-commit-wins checks as the
// SQL transaction.
type fakeStore struct {
	mu sync.Mutex

	orders   map[string]*models.Order
	items    map[string][]models.OrderItem
	payments map[string][]models.Payment
	events   map[string]bool
	users    map[string]*models.User
	stores   map[string]*models.Store
	audits   []models.AuditRecord

	touched map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders:   make(map[string]*models.Order),
		items:    make(map[string][]models.OrderItem),
		payments: make(map[string][]models.Payment),
		events:   make(map[string]bool),
		users:    make(map[string]*models.User),
		stores:   make(map[string]*models.Store),
		touched:  make(map[string]int),
	}
}

func (f *fakeStore) CreateOrder(_ context.Context, order *models.Order, items []models.OrderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if order.IdempotencyKey != "" {
		for _, o := range f.orders {
			if o.UserID == order.UserID && o.IdempotencyKey == order.IdempotencyKey {
				return store.ErrDuplicateOrder
			}
		}
	}
	cp := *order
	f.orders[order.ID] = &cp
	f.items[order.ID] = append([]models.OrderItem(nil), items...)
	return nil
}

func (f *fakeStore) GetOrderByID(_ context.Context, id string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, fmt.Errorf("order not found: %s", id)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeStore) GetOrderByIdempotencyKey(_ context.Context, userID, key string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.UserID == userID && o.IdempotencyKey == key {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetOrderItemsByOrderID(_ context.Context, orderID string) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OrderItem(nil), f.items[orderID]...), nil
}

func (f *fakeStore) GetOrdersByUserID(_ context.Context, userID string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) GetOrdersByStoreID(_ context.Context, storeID string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.StoreID == storeID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) GetActiveStoreOrders(_ context.Context, storeID string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.StoreID == storeID && !models.IsTerminalOrderStatus(o.Status) {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeStore) GetAllOrders(_ context.Context) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (f *fakeStore) GetStoreByID(_ context.Context, id string) (*models.Store, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.stores[id]
	if !ok {
		return nil, fmt.Errorf("store not found: %s", id)
	}
	cp := *st
	return &cp, nil
}

func (f *fakeStore) UpdateOrderStatus(_ context.Context, orderID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}
	o.Status = status
	return nil
}

func (f *fakeStore) UpdatePaymentStatus(_ context.Context, orderID, paymentStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}
	o.PaymentStatus = paymentStatus
	return nil
}

func (f *fakeStore) MarkBusyWaiting(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}
	if o.DeliveryPartnerID.Valid {
		return nil
	}
	o.DeliveryStatus = models.DeliveryStatusBusyWaiting
	return nil
}

func (f *fakeStore) UpdateDeliveryLocation(_ context.Context, orderID string, lat, lng float64) (sql.NullFloat64, sql.NullFloat64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return sql.NullFloat64{}, sql.NullFloat64{}, fmt.Errorf("order not found: %s", orderID)
	}
	prevLat, prevLng := o.DeliveryPartnerLat, o.DeliveryPartnerLng
	o.DeliveryPartnerLat = sql.NullFloat64{Float64: lat, Valid: true}
	o.DeliveryPartnerLng = sql.NullFloat64{Float64: lng, Valid: true}
	return prevLat, prevLng, nil
}

func (f *fakeStore) UpdateOrderETA(_ context.Context, orderID string, etaSeconds int64, etaText, polyline string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}
	o.ETASeconds = sql.NullInt64{Int64: etaSeconds, Valid: true}
	o.ETAText = sql.NullString{String: etaText, Valid: true}
	o.RoutePolyline = sql.NullString{String: polyline, Valid: true}
	return nil
}

func (f *fakeStore) UpdateOrderRoute(_ context.Context, orderID, encodedPolyline string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}
	if o.RoutePolyline.Valid && o.RoutePolyline.String != "" {
		return nil
	}
	o.RoutePolyline = sql.NullString{String: encodedPolyline, Valid: true}
	return nil
}

func (f *fakeStore) TouchRouteUpdateTime(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[orderID]++
	return nil
}

func (f *fakeStore) AppendPayment(_ context.Context, payment *models.Payment) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments[payment.OrderID] {
		if p.TransactionID == payment.TransactionID {
			return false, nil
		}
	}
	f.payments[payment.OrderID] = append(f.payments[payment.OrderID], *payment)
	return true, nil
}

func (f *fakeStore) GetPaymentsByOrderID(_ context.Context, orderID string) ([]models.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Payment(nil), f.payments[orderID]...), nil
}

func (f *fakeStore) RecordWebhookEvent(_ context.Context, eventID, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events[eventID] {
		return false, nil
	}
	f.events[eventID] = true
	return true, nil
}

func (f *fakeStore) WriteAudit(_ context.Context, actor, action, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, models.AuditRecord{Actor: actor, Action: action, Payload: payload})
	return nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("user not found: %s", id)
	}
	cp := *u
	return &cp, nil
}

func (f *fakeStore) GetOnlinePartners(_ context.Context, storeID string) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.User
	for _, u := range f.users {
		if u.Role != models.RoleDelivery || !u.IsOnline {
			continue
		}
		if storeID != "" && (!u.StoreID.Valid || u.StoreID.String != storeID) {
			continue
		}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetAvailableDeliveryPartners(ctx context.Context, storeID string) ([]models.User, error) {
	online, err := f.GetOnlinePartners(ctx, storeID)
	if err != nil {
		return nil, err
	}
	var out []models.User
	for _, u := range online {
		if !u.IsBusy && u.ApprovalStatus == models.ApprovalStatusApproved {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateUserStatus(_ context.Context, userID string, isOnline, isBusy *bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return fmt.Errorf("user not found: %s", userID)
	}
	if isOnline != nil {
		u.IsOnline = *isOnline
	}
	if isBusy != nil {
		u.IsBusy = *isBusy
	}
	return nil
}

func (f *fakeStore) UpdateUserLocation(_ context.Context, userID string, lat, lng float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return fmt.Errorf("user not found: %s", userID)
	}
	u.Lat = sql.NullFloat64{Float64: lat, Valid: true}
	u.Lng = sql.NullFloat64{Float64: lng, Valid: true}
	return nil
}

func (f *fakeStore) UpdateUserApproval(_ context.Context, userID, approvalStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return fmt.Errorf("user not found: %s", userID)
	}
	u.ApprovalStatus = approvalStatus
	return nil
}

func (f *fakeStore) ClaimPartner(_ context.Context, orderID, partnerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[partnerID]
	if !ok {
		return fmt.Errorf("partner not found: %s", partnerID)
	}
	if u.IsBusy {
		return store.ErrPartnerBusy
	}
	o, ok := f.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}
	if o.DeliveryPartnerID.Valid {
		return store.ErrOrderTaken
	}
	u.IsBusy = true
	o.DeliveryPartnerID = sql.NullString{String: partnerID, Valid: true}
	o.DeliveryPartnerName = sql.NullString{String: u.Name, Valid: true}
	o.DeliveryPartnerPhone = sql.NullString{String: u.Phone, Valid: true}
	o.DeliveryStatus = models.DeliveryStatusAssigned
	return nil
}

func (f *fakeStore) ReleasePartner(_ context.Context, partnerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[partnerID]; ok {
		u.IsBusy = false
	}
	return nil
}

func (f *fakeStore) ReleaseIdlePartners(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var released int64
	for _, u := range f.users {
		if u.Role != models.RoleDelivery || !u.IsBusy {
			continue
		}
		active := false
		for _, o := range f.orders {
			if o.DeliveryPartnerID.Valid && o.DeliveryPartnerID.String == u.ID && !models.IsTerminalOrderStatus(o.Status) {
				active = true
				break
			}
		}
		if !active {
			u.IsBusy = false
			released++
		}
	}
	return released, nil
}

// fakeNotifier records every published event.
type fakeNotifier struct {
	mu        sync.Mutex
	created   []*models.OrderCreatedEvent
	assigned  []*models.OrderAssignedEvent
	statuses  []*models.OrderStatusChangedEvent
	locations []*models.LocationUpdatedEvent
	received  []*models.PaymentReceivedEvent
	failed    []*models.PaymentFailedEvent
}

func (n *fakeNotifier) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, e)
	return nil
}

func (n *fakeNotifier) PublishOrderAssigned(_ context.Context, e *models.OrderAssignedEvent, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.assigned = append(n.assigned, e)
	return nil
}

func (n *fakeNotifier) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, e)
	return nil
}

func (n *fakeNotifier) PublishLocationUpdated(_ context.Context, e *models.LocationUpdatedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.locations = append(n.locations, e)
	return nil
}

func (n *fakeNotifier) PublishPaymentReceived(_ context.Context, e *models.PaymentReceivedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.received = append(n.received, e)
	return nil
}

func (n *fakeNotifier) PublishPaymentFailed(_ context.Context, e *models.PaymentFailedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, e)
	return nil
}

// fakeGateway is a scriptable payment provider. pulledIDs records which
// session ids status lookups were addressed by.
type fakeGateway struct {
	configured bool
	token      string
	sessionErr error
	verifyErr  error
	pullStatus string
	pullTxID   string
	pullErr    error
	pulledIDs  []string
}

func (g *fakeGateway) Configured() bool { return g.configured }

func (g *fakeGateway) CreateOrderSession(_ context.Context, _ string, _ int64) (string, error) {
	return g.token, g.sessionErr
}

func (g *fakeGateway) VerifySignature(_ []byte, _ string) error { return g.verifyErr }

func (g *fakeGateway) FetchPaymentStatus(_ context.Context, sessionID string) (string, string, error) {
	g.pulledIDs = append(g.pulledIDs, sessionID)
	return g.pullStatus, g.pullTxID, g.pullErr
}

// fakeRouting is a scriptable directions backend that counts calls.
type fakeRouting struct {
	mu    sync.Mutex
	calls int
	est   *routing.Estimate
	err   error
}

func (r *fakeRouting) Route(_ context.Context, _, _ geo.Point) (*routing.Estimate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.est, nil
}

func (r *fakeRouting) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// firstStrategy deterministically picks the first candidate.
type firstStrategy struct{}

func (firstStrategy) Pick(_ *models.Order, candidates []models.User) models.User {
	return candidates[0]
}

func coord(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}
