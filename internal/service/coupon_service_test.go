package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueFirstComeFirstServed(t *testing.T) {
	env := newTestEnv(t, 15*time.Minute)
	env.seedCoupon(t, &models.Coupon{
		ID:            7,
		DiscountType:  models.DiscountTypeFixedAmount,
		DiscountValue: 1000,
		TotalQuantity: 30,
	})
	ctx := context.Background()

	const contenders = 60
	var succeeded int64
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		userID := int64(i + 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.coupons.Issue(ctx, 7, userID); err == nil {
				atomic.AddInt64(&succeeded, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(30), succeeded)

	coupon, err := env.store.GetCoupon(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, coupon.RemainingQuantity)
}

func TestIssueSetsExpiryFromTTL(t *testing.T) {
	env := newTestEnv(t, 15*time.Minute)
	env.seedCoupon(t, &models.Coupon{
		ID:            7,
		DiscountType:  models.DiscountTypeFixedAmount,
		DiscountValue: 1000,
		TotalQuantity: 10,
	})

	before := time.Now()
	uc, err := env.coupons.Issue(context.Background(), 7, 1)
	require.NoError(t, err)

	assert.False(t, uc.IsUsed)
	assert.WithinDuration(t, before.Add(30*24*time.Hour), uc.ExpiresAt, time.Minute)
}

func TestIssueDuplicateUser(t *testing.T) {
	env := newTestEnv(t, 15*time.Minute)
	env.seedCoupon(t, &models.Coupon{
		ID:            7,
		DiscountType:  models.DiscountTypeFixedAmount,
		DiscountValue: 1000,
		TotalQuantity: 10,
	})
	ctx := context.Background()

	_, err := env.coupons.Issue(ctx, 7, 1)
	require.NoError(t, err)

	_, err = env.coupons.Issue(ctx, 7, 1)
	assert.ErrorIs(t, err, models.ErrCouponAlreadyIssued)
}

func TestLocateOrIssueReturnsExisting(t *testing.T) {
	env := newTestEnv(t, 15*time.Minute)
	env.seedCoupon(t, &models.Coupon{
		ID:            7,
		DiscountType:  models.DiscountTypeFixedAmount,
		DiscountValue: 1000,
		TotalQuantity: 10,
	})
	ctx := context.Background()

	issued, err := env.coupons.Issue(ctx, 7, 1)
	require.NoError(t, err)

	located, err := env.coupons.LocateOrIssue(ctx, 7, 1)
	require.NoError(t, err)
	assert.Equal(t, issued.ID, located.ID)

	// Quota is only consumed once.
	coupon, err := env.store.GetCoupon(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 9, coupon.RemainingQuantity)
}

func TestDiscountRules(t *testing.T) {
	env := newTestEnv(t, 15*time.Minute)
	ctx := context.Background()

	env.seedCoupon(t, &models.Coupon{
		ID:                1,
		DiscountType:      models.DiscountTypePercentage,
		DiscountValue:     20,
		MaxDiscountAmount: 3000,
		TotalQuantity:     10,
	})
	env.seedCoupon(t, &models.Coupon{
		ID:            2,
		DiscountType:  models.DiscountTypePercentage,
		DiscountValue: 20,
		TotalQuantity: 10,
	})
	env.seedCoupon(t, &models.Coupon{
		ID:             3,
		DiscountType:   models.DiscountTypeFixedAmount,
		DiscountValue:  2000,
		MinOrderAmount: 10000,
		TotalQuantity:  10,
	})

	tests := []struct {
		name       string
		couponID   int64
		itemsTotal int64
		want       int64
		wantErr    error
	}{
		{name: "percentage under cap", couponID: 1, itemsTotal: 10000, want: 2000},
		{name: "percentage hits cap", couponID: 1, itemsTotal: 50000, want: 3000},
		{name: "percentage uncapped", couponID: 2, itemsTotal: 50000, want: 10000},
		{name: "fixed amount", couponID: 3, itemsTotal: 20000, want: 2000},
		{name: "below minimum", couponID: 3, itemsTotal: 9999, wantErr: models.ErrCouponBelowMinAmount},
		{name: "exactly minimum", couponID: 3, itemsTotal: 10000, want: 2000},
		{name: "unknown coupon", couponID: 99, itemsTotal: 10000, wantErr: models.ErrCouponNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.coupons.Discount(ctx, tt.couponID, tt.itemsTotal)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCancelIssueRestoresQuotaOnce(t *testing.T) {
	env := newTestEnv(t, 15*time.Minute)
	env.seedCoupon(t, &models.Coupon{
		ID:            7,
		DiscountType:  models.DiscountTypeFixedAmount,
		DiscountValue: 1000,
		TotalQuantity: 5,
	})
	ctx := context.Background()

	_, err := env.coupons.Issue(ctx, 7, 1)
	require.NoError(t, err)

	require.NoError(t, env.coupons.CancelIssue(ctx, 7))

	err = env.coupons.CancelIssue(ctx, 7)
	assert.ErrorIs(t, err, models.ErrCouponRestoreFailed)
}
