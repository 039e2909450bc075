package service

import (
	"context"
	"errors"
	"fmt"

	"delivery-service/internal/geo"
	"delivery-service/internal/models"
	"delivery-service/internal/util"

	"go.uber.org/zap"
)

// ErrOutsideGeofence is returned when a partner tries to go online away
// from their store.
var ErrOutsideGeofence = errors.New("partner outside store geofence")

// partnerStore is the PartnerDirectory persistence surface.
type partnerStore interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetStoreByID(ctx context.Context, id string) (*models.Store, error)
	GetAvailableDeliveryPartners(ctx context.Context, storeID string) ([]models.User, error)
	UpdateUserStatus(ctx context.Context, userID string, isOnline, isBusy *bool) error
	UpdateUserLocation(ctx context.Context, userID string, lat, lng float64) error
	UpdateUserApproval(ctx context.Context, userID, approvalStatus string) error
	ReleaseIdlePartners(ctx context.Context) (int64, error)
}

// PartnerService manages delivery-partner presence and approval. It is the
// caller responsible for the geofence contract: online=true is never
// written without a passing proximity check.
type PartnerService struct {
	store           partnerStore
	geofenceRadiusM float64
	logger          *zap.Logger
}

// NewPartnerService creates a new partner service
func NewPartnerService(store partnerStore, geofenceRadiusM float64) *PartnerService {
	if geofenceRadiusM <= 0 {
		geofenceRadiusM = 500
	}
	return &PartnerService{
		store:           store,
		geofenceRadiusM: geofenceRadiusM,
		logger:          util.GetLogger(),
	}
}

// PresenceRequest is a partial presence update; nil fields are untouched.
// Lat/Lng carry the partner's current position and are required when going
// online.
type PresenceRequest struct {
	IsOnline *bool    `json:"is_online,omitempty"`
	IsBusy   *bool    `json:"is_busy,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lng      *float64 `json:"lng,omitempty"`
}

// UpdatePresence applies a partial presence update. Going online is gated
// on proximity to the partner's store.
func (s *PartnerService) UpdatePresence(ctx context.Context, partnerID string, req PresenceRequest) error {
	ctx, span := util.StartSpan(ctx, "PartnerService.UpdatePresence")
	defer span.End()

	partner, err := s.store.GetUserByID(ctx, partnerID)
	if err != nil {
		return err
	}
	if partner.Role != models.RoleDelivery {
		return fmt.Errorf("user %s is not a delivery partner", partnerID)
	}

	if req.IsOnline != nil && *req.IsOnline {
		if err := s.checkGeofence(ctx, partner, req.Lat, req.Lng); err != nil {
			return err
		}
	}

	if req.Lat != nil && req.Lng != nil {
		if err := s.store.UpdateUserLocation(ctx, partnerID, *req.Lat, *req.Lng); err != nil {
			s.logger.Warn("Failed to store partner location", zap.Error(err))
		}
	}

	if req.IsOnline == nil && req.IsBusy == nil {
		return nil
	}

	if err := s.store.UpdateUserStatus(ctx, partnerID, req.IsOnline, req.IsBusy); err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}

	s.logger.Info("Partner presence updated",
		zap.String("partner_id", partnerID))
	return nil
}

func (s *PartnerService) checkGeofence(ctx context.Context, partner *models.User, lat, lng *float64) error {
	if lat == nil || lng == nil {
		return fmt.Errorf("going online requires a current location")
	}
	if !partner.StoreID.Valid {
		return fmt.Errorf("partner %s has no store", partner.ID)
	}

	st, err := s.store.GetStoreByID(ctx, partner.StoreID.String)
	if err != nil {
		return err
	}

	dist := geo.HaversineDistance(
		geo.Point{Lat: *lat, Lng: *lng},
		geo.Point{Lat: st.Lat, Lng: st.Lng})
	if dist > s.geofenceRadiusM {
		s.logger.Info("Geofence check failed",
			zap.String("partner_id", partner.ID),
			zap.Float64("distance_m", dist))
		return ErrOutsideGeofence
	}
	return nil
}

// AvailablePartners returns the dispatchable snapshot: online, approved and
// not busy, optionally store-scoped.
func (s *PartnerService) AvailablePartners(ctx context.Context, storeID string) ([]models.User, error) {
	return s.store.GetAvailableDeliveryPartners(ctx, storeID)
}

// Approve transitions a partner to APPROVED
func (s *PartnerService) Approve(ctx context.Context, partnerID string) error {
	return s.store.UpdateUserApproval(ctx, partnerID, models.ApprovalStatusApproved)
}

// Reject transitions a partner to REJECTED
func (s *PartnerService) Reject(ctx context.Context, partnerID string) error {
	return s.store.UpdateUserApproval(ctx, partnerID, models.ApprovalStatusRejected)
}

// HealBusyFlags clears busy flags no active order justifies. Run
// periodically; safe to run concurrently with dispatch because the claim
// transaction re-checks the flag under lock.
func (s *PartnerService) HealBusyFlags(ctx context.Context) {
	released, err := s.store.ReleaseIdlePartners(ctx)
	if err != nil {
		s.logger.Error("Busy-flag sweep failed", zap.Error(err))
		return
	}
	if released > 0 {
		s.logger.Info("Released stale busy flags", zap.Int64("count", released))
	}
}
