package store

import (
	"context"
	"database/sql"
	"fmt"

	"delivery-service/internal/models"
)

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetOnlinePartners retrieves every online delivery partner, optionally
// scoped to a store. The query is deliberately broad (no busy/approval
// predicate); the dispatcher filters in memory.
func (s *Store) GetOnlinePartners(ctx context.Context, storeID string) ([]models.User, error) {
	var partners []models.User
	if storeID != "" {
		err := s.db.SelectContext(ctx, &partners,
			"SELECT * FROM users WHERE role = $1 AND is_online = TRUE AND store_id = $2",
			models.RoleDelivery, storeID)
		return partners, err
	}
	err := s.db.SelectContext(ctx, &partners,
		"SELECT * FROM users WHERE role = $1 AND is_online = TRUE", models.RoleDelivery)
	return partners, err
}

// GetAvailableDeliveryPartners retrieves the snapshot of partners a dispatch
// could use right now: online, approved and not busy.
func (s *Store) GetAvailableDeliveryPartners(ctx context.Context, storeID string) ([]models.User, error) {
	var partners []models.User
	if storeID != "" {
		err := s.db.SelectContext(ctx, &partners, `
			SELECT * FROM users
			WHERE role = $1 AND is_online = TRUE AND approval_status = $2 AND is_busy = FALSE AND store_id = $3`,
			models.RoleDelivery, models.ApprovalStatusApproved, storeID)
		return partners, err
	}
	err := s.db.SelectContext(ctx, &partners, `
		SELECT * FROM users
		WHERE role = $1 AND is_online = TRUE AND approval_status = $2 AND is_busy = FALSE`,
		models.RoleDelivery, models.ApprovalStatusApproved)
	return partners, err
}

// UpdateUserStatus partially updates presence flags; nil fields are left
// unchanged.
func (s *Store) UpdateUserStatus(ctx context.Context, userID string, isOnline, isBusy *bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET
			is_online = COALESCE($1::boolean, is_online),
			is_busy = COALESCE($2::boolean, is_busy),
			updated_at = NOW()
		WHERE id = $3`,
		isOnline, isBusy, userID)
	return err
}

// UpdateUserLocation stores a partner's last reported position
func (s *Store) UpdateUserLocation(ctx context.Context, userID string, lat, lng float64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET lat = $1, lng = $2, updated_at = NOW() WHERE id = $3",
		lat, lng, userID)
	return err
}

// UpdateUserApproval transitions a partner's approval status
func (s *Store) UpdateUserApproval(ctx context.Context, userID, approvalStatus string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET approval_status = $1, updated_at = NOW() WHERE id = $2",
		approvalStatus, userID)
	return err
}

// ClaimPartner atomically marks a partner busy and assigns it to the order.
// The partner row is locked, re-read and checked: a partner that went busy
// since the caller picked it aborts the transaction with ErrPartnerBusy, and
// an order that was assigned concurrently aborts with ErrOrderTaken. Both
// the busy flag and the order's assignment fields commit together or not at
// all. Every assignment path, automatic or manual, goes through here.
func (s *Store) ClaimPartner(ctx context.Context, orderID, partnerID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var partner models.User
	err = tx.GetContext(ctx, &partner,
		"SELECT * FROM users WHERE id = $1 FOR UPDATE", partnerID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("partner not found: %s", partnerID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock partner: %w", err)
	}

	if partner.IsBusy {
		return ErrPartnerBusy
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE users SET is_busy = TRUE, updated_at = NOW() WHERE id = $1", partnerID)
	if err != nil {
		return fmt.Errorf("failed to mark partner busy: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET
			delivery_partner_id = $1,
			delivery_partner_name = $2,
			delivery_partner_phone = $3,
			delivery_status = $4,
			updated_at = NOW()
		WHERE id = $5 AND delivery_partner_id IS NULL`,
		partnerID, partner.Name, partner.Phone, models.DeliveryStatusAssigned, orderID)
	if err != nil {
		return fmt.Errorf("failed to assign order: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		// Another claim committed first; first commit wins
		return ErrOrderTaken
	}

	return tx.Commit()
}

// ReleasePartner clears a partner's busy flag once its order reaches a
// terminal state.
func (s *Store) ReleasePartner(ctx context.Context, partnerID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET is_busy = FALSE, updated_at = NOW() WHERE id = $1", partnerID)
	return err
}

// ReleaseIdlePartners clears busy flags that no active order justifies.
// The busy invariant is jointly maintained by the dispatcher and the
// completion path; this is the self-healing sweep for when either missed.
func (s *Store) ReleaseIdlePartners(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_busy = FALSE, updated_at = NOW()
		WHERE role = $1 AND is_busy = TRUE
		  AND NOT EXISTS (
			SELECT 1 FROM orders
			WHERE orders.delivery_partner_id = users.id
			  AND orders.status NOT IN ($2, $3))`,
		models.RoleDelivery, models.OrderStatusDelivered, models.OrderStatusCancelled)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
