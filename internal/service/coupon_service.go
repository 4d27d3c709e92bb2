package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CouponService is the issuance register for scarce promotional coupons.
// The store adapter serializes issuance per coupon so that exactly
// totalQuantity concurrent requests succeed; the optional Redis gate
// fast-fails exhausted coupons before they reach the store.
type CouponService struct {
	store     store.CouponStore
	redis     *redisclient.Client
	publisher *broker.EventPublisher
	logger    *zap.Logger
	couponTTL time.Duration
}

// NewCouponService creates a new coupon service. redis and publisher may be
// nil; the store path works without them.
func NewCouponService(st store.CouponStore, redis *redisclient.Client, publisher *broker.EventPublisher, couponTTL time.Duration) *CouponService {
	return &CouponService{
		store:     st,
		redis:     redis,
		publisher: publisher,
		logger:    util.GetLogger(),
		couponTTL: couponTTL,
	}
}

// Issue grants one user-coupon for (couponID, userID). First come, first
// served: requests past the quota fail with ErrCouponOutOfStock, duplicate
// users with ErrCouponAlreadyIssued.
func (s *CouponService) Issue(ctx context.Context, couponID, userID int64) (*models.UserCoupon, error) {
	ctx, span := util.StartSpan(ctx, "CouponService.Issue")
	defer span.End()

	gateTaken := false
	if s.redis != nil {
		outcome, err := s.redis.TakeCouponQuota(ctx, couponID)
		switch {
		case err != nil:
			s.logger.Warn("Coupon gate unavailable, falling through to store",
				zap.Int64("coupon_id", couponID), zap.Error(err))
		case outcome == redisclient.GateClosed:
			util.CouponIssueFailedTotal.WithLabelValues("out_of_stock").Inc()
			return nil, fmt.Errorf("%w: coupon %d", models.ErrCouponOutOfStock, couponID)
		case outcome == redisclient.GateOpen:
			gateTaken = true
		}
	}

	now := time.Now()
	uc := &models.UserCoupon{
		ID:        uuid.New().String(),
		CouponID:  couponID,
		UserID:    userID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.couponTTL),
	}

	if err := s.store.Issue(ctx, uc); err != nil {
		if gateTaken {
			s.restoreGate(ctx, couponID)
		}
		util.CouponIssueFailedTotal.WithLabelValues(issueFailReason(err)).Inc()
		return nil, err
	}

	util.CouponsIssuedTotal.Inc()
	s.logger.Info("Coupon issued",
		zap.Int64("coupon_id", couponID),
		zap.Int64("user_id", userID),
		zap.String("user_coupon_id", uc.ID))

	if s.publisher != nil {
		coupon, err := s.store.GetCoupon(ctx, couponID)
		remaining := 0
		if err == nil {
			remaining = coupon.RemainingQuantity
		}
		event := &models.CouponIssuedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeCouponIssued,
				Timestamp: now,
			},
			CouponID:     couponID,
			UserID:       userID,
			UserCouponID: uc.ID,
			Remaining:    remaining,
		}
		if err := s.publisher.PublishCouponIssued(ctx, event); err != nil {
			s.logger.Error("Failed to publish CouponIssued event", zap.Error(err))
		}
	}

	return uc, nil
}

// LocateOrIssue returns the user's existing coupon for couponID, issuing a
// fresh one when none exists yet. Used by order creation when the caller
// names a coupon definition rather than a held user coupon.
func (s *CouponService) LocateOrIssue(ctx context.Context, couponID, userID int64) (*models.UserCoupon, error) {
	uc, err := s.store.GetUserCouponByUser(ctx, couponID, userID)
	if err == nil {
		return uc, nil
	}
	if !errors.Is(err, models.ErrCouponNotFound) {
		return nil, err
	}
	return s.Issue(ctx, couponID, userID)
}

// Reserve attaches a user coupon to an order, marking it used.
func (s *CouponService) Reserve(ctx context.Context, userCouponID, orderID string) error {
	ctx, span := util.StartSpan(ctx, "CouponService.Reserve")
	defer span.End()

	return s.store.ReserveUserCoupon(ctx, userCouponID, orderID, time.Now())
}

// Release detaches a user coupon from its order, the exact inverse of
// Reserve. The coupon quota is restored separately by CancelIssue.
func (s *CouponService) Release(ctx context.Context, userCouponID string) error {
	ctx, span := util.StartSpan(ctx, "CouponService.Release")
	defer span.End()

	return s.store.ReleaseUserCoupon(ctx, userCouponID)
}

// CancelIssue restores one unit of a coupon's quota after a cancellation.
// Hitting the capacity bound means compensation ran twice for one
// issuance, which is a bug to surface loudly rather than a user error.
func (s *CouponService) CancelIssue(ctx context.Context, couponID int64) error {
	ctx, span := util.StartSpan(ctx, "CouponService.CancelIssue")
	defer span.End()

	if err := s.store.CancelIssue(ctx, couponID); err != nil {
		if errors.Is(err, models.ErrCouponRestoreFailed) {
			util.CouponRestoreFailedTotal.Inc()
			s.logger.Error("Coupon quota restore failed, bookkeeping bug",
				zap.Int64("coupon_id", couponID), zap.Error(err))
		}
		return err
	}

	s.restoreGate(ctx, couponID)
	return nil
}

// Discount validates the minimum-order-amount rule and computes the
// discount a coupon yields for an items total. The minimum check runs
// before any discount math.
func (s *CouponService) Discount(ctx context.Context, couponID int64, itemsTotal int64) (int64, error) {
	coupon, err := s.store.GetCoupon(ctx, couponID)
	if err != nil {
		return 0, err
	}
	if itemsTotal < coupon.MinOrderAmount {
		return 0, fmt.Errorf("%w: coupon %d requires %d, order total %d",
			models.ErrCouponBelowMinAmount, couponID, coupon.MinOrderAmount, itemsTotal)
	}
	return coupon.DiscountFor(itemsTotal), nil
}

// GetUserCoupon returns a user coupon by id.
func (s *CouponService) GetUserCoupon(ctx context.Context, userCouponID string) (*models.UserCoupon, error) {
	return s.store.GetUserCoupon(ctx, userCouponID)
}

// ListUserCoupons returns all coupons held by a user.
func (s *CouponService) ListUserCoupons(ctx context.Context, userID int64) ([]models.UserCoupon, error) {
	return s.store.ListUserCoupons(ctx, userID)
}

// SyncQuotaToRedis seeds the Redis gate with a coupon's remaining quantity.
func (s *CouponService) SyncQuotaToRedis(ctx context.Context, couponID int64) error {
	if s.redis == nil {
		return nil
	}
	coupon, err := s.store.GetCoupon(ctx, couponID)
	if err != nil {
		return err
	}
	return s.redis.InitCouponQuota(ctx, couponID, coupon.RemainingQuantity)
}

func (s *CouponService) restoreGate(ctx context.Context, couponID int64) {
	if s.redis == nil {
		return
	}
	coupon, err := s.store.GetCoupon(ctx, couponID)
	if err != nil {
		s.logger.Error("Failed to load coupon for gate restore",
			zap.Int64("coupon_id", couponID), zap.Error(err))
		return
	}
	if err := s.redis.RestoreCouponQuota(ctx, couponID, coupon.TotalQuantity); err != nil {
		s.logger.Error("Failed to restore coupon gate quota",
			zap.Int64("coupon_id", couponID), zap.Error(err))
	}
}

func issueFailReason(err error) string {
	switch {
	case errors.Is(err, models.ErrCouponOutOfStock):
		return "out_of_stock"
	case errors.Is(err, models.ErrCouponAlreadyIssued):
		return "already_issued"
	case errors.Is(err, models.ErrCouponNotIssuable):
		return "not_issuable"
	default:
		return "error"
	}
}
