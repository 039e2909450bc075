package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"delivery-service/internal/gateway"
	"delivery-service/internal/models"
	"delivery-service/internal/redisclient"
	"delivery-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrOrderNotFound marks a webhook or verification request referencing an
// order this system has never seen.
var ErrOrderNotFound = errors.New("order not found")

// Webhook statuses that map onto a payment-state transition. Anything else
// is acknowledged and ignored.
var (
	paidStatuses   = map[string]bool{"PAID": true, "SUCCESS": true, "CAPTURED": true}
	failedStatuses = map[string]bool{"FAILED": true, "DECLINED": true}
)

// paymentStore is the slice of the data layer webhook processing needs.
type paymentStore interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	AppendPayment(ctx context.Context, payment *models.Payment) (bool, error)
	GetPaymentsByOrderID(ctx context.Context, orderID string) ([]models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, orderID, paymentStatus string) error
	RecordWebhookEvent(ctx context.Context, eventID, provider string) (bool, error)
	WriteAudit(ctx context.Context, actor, action, payload string) error
}

// paymentGateway is the provider surface: the trust boundary and the
// pull-based status lookup.
type paymentGateway interface {
	Configured() bool
	VerifySignature(rawBody []byte, signature string) error
	FetchPaymentStatus(ctx context.Context, sessionID string) (status, transactionID string, err error)
}

// paymentNotifier fans out payment milestones.
type paymentNotifier interface {
	PublishPaymentReceived(ctx context.Context, event *models.PaymentReceivedEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
}

// PaymentService ingests gateway webhooks exactly-once and owns the
// pull-based verification paths.
type PaymentService struct {
	store    paymentStore
	redis    *redisclient.Client
	gateway  paymentGateway
	notifier paymentNotifier
	logger   *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(store paymentStore, redis *redisclient.Client, gw paymentGateway, notifier paymentNotifier) *PaymentService {
	return &PaymentService{
		store:    store,
		redis:    redis,
		gateway:  gw,
		notifier: notifier,
		logger:   util.GetLogger(),
	}
}

// ProcessWebhook verifies, normalizes, dedupes and applies one gateway
// delivery. Redelivering the same event is a guaranteed no-op. A signature
// mismatch returns gateway.ErrInvalidSignature and touches nothing.
func (ps *PaymentService) ProcessWebhook(ctx context.Context, provider string, rawBody []byte, signature string) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.ProcessWebhook")
	defer span.End()

	util.WebhooksReceivedTotal.WithLabelValues(provider).Inc()

	if err := ps.gateway.VerifySignature(rawBody, signature); err != nil {
		util.WebhooksRejectedTotal.WithLabelValues("bad_signature").Inc()
		ps.logger.Warn("Webhook signature rejected",
			zap.String("provider", provider))
		return err
	}

	ev, err := gateway.Normalize(rawBody)
	if err != nil {
		util.WebhooksRejectedTotal.WithLabelValues("malformed").Inc()
		return err
	}

	dedupeKey := ev.DedupeKey()

	// Fast path: Redis claims catch the common immediate redelivery before
	// any database work. The webhook_events table stays authoritative.
	if ps.redis != nil {
		claimed, err := ps.redis.ClaimWebhookEvent(ctx, dedupeKey, 24*time.Hour)
		if err != nil {
			ps.logger.Warn("Redis webhook claim failed, falling back to DB", zap.Error(err))
		} else if !claimed {
			util.WebhooksDuplicateTotal.Inc()
			return nil
		}
	}

	inserted, err := ps.store.RecordWebhookEvent(ctx, dedupeKey, provider)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	if !inserted {
		util.WebhooksDuplicateTotal.Inc()
		ps.logger.Info("Duplicate webhook delivery ignored",
			zap.String("event_id", dedupeKey))
		return nil
	}

	order, err := ps.store.GetOrderByID(ctx, ev.OrderID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, ev.OrderID)
	}

	if err := ps.store.WriteAudit(ctx, provider, "webhook", string(rawBody)); err != nil {
		ps.logger.Warn("Audit write failed", zap.Error(err))
	}

	if ev.TransactionID != "" {
		inserted, err := ps.store.AppendPayment(ctx, &models.Payment{
			OrderID:       order.ID,
			Provider:      provider,
			Amount:        ev.Amount,
			TransactionID: ev.TransactionID,
			Raw:           string(rawBody),
		})
		if err != nil {
			return fmt.Errorf("failed to append payment: %w", err)
		}
		if inserted {
			util.PaymentsRecordedTotal.WithLabelValues(provider).Inc()
		}
	}

	return ps.applyTransition(ctx, order, ev)
}

// applyTransition maps a normalized gateway status onto the order's payment
// state. Unknown statuses are acknowledged without mutation.
func (ps *PaymentService) applyTransition(ctx context.Context, order *models.Order, ev *gateway.NormalizedWebhookEvent) error {
	switch {
	case paidStatuses[ev.Status]:
		if err := ps.store.UpdatePaymentStatus(ctx, order.ID, models.PaymentStatusPaid); err != nil {
			return fmt.Errorf("failed to mark order paid: %w", err)
		}
		ps.logger.Info("Order paid",
			zap.String("order_id", order.ID),
			zap.String("transaction_id", ev.TransactionID))

		event := &models.PaymentReceivedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentReceived,
				Timestamp: time.Now(),
			},
			OrderID:       order.ID,
			UserID:        order.UserID,
			StoreID:       order.StoreID,
			Amount:        ev.Amount,
			TransactionID: ev.TransactionID,
		}
		if err := ps.notifier.PublishPaymentReceived(ctx, event); err != nil {
			ps.logger.Error("Failed to publish PaymentReceived event", zap.Error(err))
		}

	case failedStatuses[ev.Status]:
		if err := ps.store.UpdatePaymentStatus(ctx, order.ID, models.PaymentStatusFailed); err != nil {
			return fmt.Errorf("failed to mark order failed: %w", err)
		}
		ps.logger.Warn("Payment failed",
			zap.String("order_id", order.ID))

		event := &models.PaymentFailedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentFailed,
				Timestamp: time.Now(),
			},
			OrderID: order.ID,
			UserID:  order.UserID,
			Reason:  ev.Status,
		}
		if err := ps.notifier.PublishPaymentFailed(ctx, event); err != nil {
			ps.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
		}

	default:
		ps.logger.Info("Webhook status ignored",
			zap.String("order_id", order.ID),
			zap.String("status", ev.Status))
	}

	return nil
}

// VerifyPaymentResponse is the client-facing verification result
type VerifyPaymentResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

// VerifyPayment is the pull-based re-check the client runs after an
// SDK-driven payment flow, so verification never depends on webhook
// arrival. A captured payment found at the provider is applied through the
// same dedupe path as a webhook would be.
func (ps *PaymentService) VerifyPayment(ctx context.Context, orderID string) (*VerifyPaymentResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.VerifyPayment")
	defer span.End()

	order, err := ps.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	if order.PaymentStatus == models.PaymentStatusPaid {
		return &VerifyPaymentResponse{Status: "SUCCESS", TransactionID: ps.latestTransaction(ctx, orderID)}, nil
	}
	if order.PaymentStatus == models.PaymentStatusFailed {
		return &VerifyPaymentResponse{Status: "FAILED"}, nil
	}

	if !ps.gateway.Configured() {
		return &VerifyPaymentResponse{Status: "PENDING", Message: "gateway not configured"}, nil
	}
	if !order.GatewayOrderID.Valid || order.GatewayOrderID.String == "" {
		// No session was ever minted, so the provider has nothing to report
		return &VerifyPaymentResponse{Status: "PENDING", Message: "no gateway session"}, nil
	}

	status, txID, err := ps.gateway.FetchPaymentStatus(ctx, order.GatewayOrderID.String)
	if err != nil {
		// Upstream unavailability degrades to the stored state
		ps.logger.Warn("Gateway status lookup failed", zap.Error(err))
		return &VerifyPaymentResponse{Status: "PENDING", Message: "verification unavailable"}, nil
	}
	if status == "" {
		return &VerifyPaymentResponse{Status: "PENDING"}, nil
	}

	ev := &gateway.NormalizedWebhookEvent{
		OrderID:       orderID,
		Status:        strings.ToUpper(status),
		TransactionID: txID,
		Amount:        order.TotalAmount,
	}

	// Same dedupe path as the webhook: whichever of pull and push lands
	// first wins, the other is a no-op.
	inserted, err := ps.store.RecordWebhookEvent(ctx, ev.DedupeKey(), "verify-pull")
	if err != nil {
		return nil, err
	}
	if inserted {
		if txID != "" {
			if added, err := ps.store.AppendPayment(ctx, &models.Payment{
				OrderID:       orderID,
				Provider:      "verify-pull",
				Amount:        order.TotalAmount,
				TransactionID: txID,
			}); err != nil {
				return nil, err
			} else if added {
				util.PaymentsRecordedTotal.WithLabelValues("verify-pull").Inc()
			}
		}
		if err := ps.applyTransition(ctx, order, ev); err != nil {
			return nil, err
		}
	}

	if paidStatuses[ev.Status] {
		return &VerifyPaymentResponse{Status: "SUCCESS", TransactionID: txID}, nil
	}
	if failedStatuses[ev.Status] {
		return &VerifyPaymentResponse{Status: "FAILED", TransactionID: txID}, nil
	}
	return &VerifyPaymentResponse{Status: "PENDING"}, nil
}

// SubmitUTR records a manual bank-transfer reference. The order moves to
// VERIFYING until an operator or a later webhook settles it.
func (ps *PaymentService) SubmitUTR(ctx context.Context, orderID, utr string) (*VerifyPaymentResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.SubmitUTR")
	defer span.End()

	if utr == "" {
		return nil, fmt.Errorf("utr is required")
	}

	order, err := ps.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	if order.PaymentStatus == models.PaymentStatusPaid {
		return &VerifyPaymentResponse{Status: "SUCCESS", Message: "already paid"}, nil
	}

	inserted, err := ps.store.AppendPayment(ctx, &models.Payment{
		OrderID:       orderID,
		Provider:      "UPI_UTR",
		Amount:        order.TotalAmount,
		TransactionID: utr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record utr: %w", err)
	}
	if inserted {
		util.PaymentsRecordedTotal.WithLabelValues("UPI_UTR").Inc()
	}

	if err := ps.store.UpdatePaymentStatus(ctx, orderID, models.PaymentStatusVerifying); err != nil {
		return nil, err
	}

	if err := ps.store.WriteAudit(ctx, order.UserID, "submitUtr", utr); err != nil {
		ps.logger.Warn("Audit write failed", zap.Error(err))
	}

	return &VerifyPaymentResponse{Status: "PENDING", Message: "reference received, verification pending"}, nil
}

func (ps *PaymentService) latestTransaction(ctx context.Context, orderID string) string {
	payments, err := ps.store.GetPaymentsByOrderID(ctx, orderID)
	if err != nil || len(payments) == 0 {
		return ""
	}
	return payments[len(payments)-1].TransactionID
}
